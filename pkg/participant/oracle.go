package participant

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// ApprovalOracle decides whether a participant votes YES for a PREPARE whose
// requested files are all present and unlocked. Implementations must not
// block the lock manager's mutex: Ask is always called with it released.
type ApprovalOracle interface {
	Ask(ctx context.Context, imageBytes []byte, filenames []string) (bool, error)
}

// AutoOracle approves every request without prompting anyone, for tests and
// for headless participants that trust the coordinator implicitly.
type AutoOracle struct{}

func (AutoOracle) Ask(ctx context.Context, imageBytes []byte, filenames []string) (bool, error) {
	return true, nil
}

// StdioOracle prompts a human at the terminal for each PREPARE, in the
// bufio.Scanner-over-stdin style of the teacher's interactive CLI.
type StdioOracle struct {
	scanner *bufio.Scanner
}

func NewStdioOracle() *StdioOracle {
	return &StdioOracle{scanner: bufio.NewScanner(os.Stdin)}
}

func (o *StdioOracle) Ask(ctx context.Context, imageBytes []byte, filenames []string) (bool, error) {
	fmt.Printf("collage commit wants to use %d image(s): %s\n", len(filenames), strings.Join(filenames, ", "))
	fmt.Print("approve? [y/N] ")

	if !o.scanner.Scan() {
		if err := o.scanner.Err(); err != nil {
			return false, err
		}
		return false, nil
	}
	answer := strings.TrimSpace(strings.ToLower(o.scanner.Text()))
	return answer == "y" || answer == "yes", nil
}
