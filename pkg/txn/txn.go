// Package txn holds the data model shared by the coordinator and participant
// roles of the collage commit protocol: transaction identifiers, participant
// addresses, source references, and the coordinator's transaction state
// machine.
package txn

import (
	"fmt"
	"strings"
)

// ID uniquely identifies a transaction for the lifetime of one coordinator
// process. It is a decimal string assigned from a counter persisted in the
// coordinator's durable log.
type ID string

// Address is an opaque routable string used by the transport. It has no
// structure the protocol depends on.
type Address string

// State is one of the six coordinator transaction states. State progression
// is one-way: INIT -> PREPARING -> {COMMITTING | ABORTING} -> {COMMITTED | ABORTED}.
type State int

const (
	StateInit State = iota
	StatePreparing
	StateCommitting
	StateAborting
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StatePreparing:
		return "PREPARING"
	case StateCommitting:
		return "COMMITTING"
	case StateAborting:
		return "ABORTING"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the state is one a transaction never leaves.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// ParseSourceRef splits a "<participant-address>:<filename>" source
// reference on its first colon. A reference with no colon is malformed.
func ParseSourceRef(ref string) (Address, string, error) {
	idx := strings.IndexByte(ref, ':')
	if idx < 0 {
		return "", "", fmt.Errorf("malformed source reference %q: missing ':'", ref)
	}
	addr := ref[:idx]
	filename := ref[idx+1:]
	if addr == "" || filename == "" {
		return "", "", fmt.Errorf("malformed source reference %q: empty participant or filename", ref)
	}
	return Address(addr), filename, nil
}

// GroupSources buckets raw source references by participant address,
// preserving per-participant order and duplicates. Malformed references are
// skipped; each is reported via onBad (which may be nil).
func GroupSources(refs []string, onBad func(ref string, err error)) map[Address][]string {
	byParticipant := make(map[Address][]string)
	for _, ref := range refs {
		addr, filename, err := ParseSourceRef(ref)
		if err != nil {
			if onBad != nil {
				onBad(ref, err)
			}
			continue
		}
		byParticipant[addr] = append(byParticipant[addr], filename)
	}
	return byParticipant
}
