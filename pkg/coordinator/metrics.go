package coordinator

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/mnohosten/collage-2pc/pkg/txn"
)

// Metrics counts protocol events for the /metrics admin endpoint, in the
// style of the teacher's PrometheusExporter but scoped to the handful of
// counters this protocol actually has.
type Metrics struct {
	votesReceived uint64
	retriesSent   uint64

	mu          sync.Mutex
	stateCounts map[txn.State]uint64
}

func NewMetrics() *Metrics {
	return &Metrics{stateCounts: make(map[txn.State]uint64)}
}

func (m *Metrics) IncVotes()   { atomic.AddUint64(&m.votesReceived, 1) }
func (m *Metrics) IncRetries() { atomic.AddUint64(&m.retriesSent, 1) }

// RecordState records that a transaction has (re)entered state. Called on
// every transition so the exported counter reflects cumulative transitions,
// not current occupancy.
func (m *Metrics) RecordState(state txn.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCounts[state]++
}

// WriteProm writes every counter in Prometheus text exposition format.
func (m *Metrics) WriteProm(w io.Writer) error {
	if err := writeCounter(w, "collage_votes_received_total", "Total YES/NO votes received by the coordinator", atomic.LoadUint64(&m.votesReceived)); err != nil {
		return err
	}
	if err := writeCounter(w, "collage_retries_sent_total", "Total COMMIT/ABORT resends by the decision sweeper", atomic.LoadUint64(&m.retriesSent)); err != nil {
		return err
	}

	m.mu.Lock()
	counts := make(map[txn.State]uint64, len(m.stateCounts))
	for k, v := range m.stateCounts {
		counts[k] = v
	}
	m.mu.Unlock()

	for _, state := range []txn.State{txn.StatePreparing, txn.StateCommitting, txn.StateAborting, txn.StateCommitted, txn.StateAborted} {
		if _, err := fmt.Fprintf(w, "collage_transactions_total{state=%q} %d\n", state.String(), counts[state]); err != nil {
			return err
		}
	}
	return nil
}

func writeCounter(w io.Writer, name, help string, value uint64) error {
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, value); err != nil {
		return err
	}
	return nil
}
