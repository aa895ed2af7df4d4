package txn

import (
	"sort"
	"sync"
)

// Transaction is the coordinator's record for one collage commit. Every
// read-modify-write of a Transaction — including the durable-log flush that
// must accompany it — happens while its lock is held. All methods other
// than Lock, Unlock, and Snapshot assume the caller already holds the lock.
type Transaction struct {
	mu sync.Mutex

	ID                ID
	Filename           string
	ImageBytes         []byte
	Fingerprint        [32]byte
	ParticipantImages  map[Address][]string
	State              State
	VotesReceived      map[Address]bool
	AckPending         map[Address]bool
}

// New creates a transaction record already in PREPARING, per the
// coordinator's commit-initiation algorithm: the record is created in
// PREPARING directly, with ackPending set to the full participant set.
func New(id ID, filename string, imageBytes []byte, fingerprint [32]byte, participantImages map[Address][]string) *Transaction {
	ackPending := make(map[Address]bool, len(participantImages))
	for addr := range participantImages {
		ackPending[addr] = true
	}
	return &Transaction{
		ID:                id,
		Filename:          filename,
		ImageBytes:        imageBytes,
		Fingerprint:       fingerprint,
		ParticipantImages: participantImages,
		State:             StatePreparing,
		VotesReceived:     make(map[Address]bool),
		AckPending:        ackPending,
	}
}

func (t *Transaction) Lock()   { t.mu.Lock() }
func (t *Transaction) Unlock() { t.mu.Unlock() }

// Participants returns the transaction's participant set, sorted for
// deterministic iteration (logging, tests, admin API output).
func (t *Transaction) Participants() []Address {
	out := make([]Address, 0, len(t.ParticipantImages))
	for addr := range t.ParticipantImages {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RecordVoteNo applies a NO vote. A single NO is final: if the transaction
// is still PREPARING it moves to ABORTING. Returns whether this call caused
// that transition.
func (t *Transaction) RecordVoteNo() bool {
	if t.State != StatePreparing {
		return false
	}
	t.State = StateAborting
	return true
}

// RecordVoteYes applies a YES vote from addr. If the transaction is still
// PREPARING and this vote completes the participant set, the transaction
// moves to COMMITTING and becameCommitting is true — the caller must then
// flush the log and write the composite image, in that order, before
// releasing the lock. Votes arriving outside PREPARING are ignored.
func (t *Transaction) RecordVoteYes(addr Address) (becameCommitting bool) {
	if t.State != StatePreparing {
		return false
	}
	t.VotesReceived[addr] = true
	if len(t.VotesReceived) == len(t.ParticipantImages) {
		t.State = StateCommitting
		return true
	}
	return false
}

// RemoveAck removes addr from ackPending. Returns whether this call
// completed the decision, moving COMMITTING -> COMMITTED or
// ABORTING -> ABORTED.
func (t *Transaction) RemoveAck(addr Address) (becameTerminal bool) {
	delete(t.AckPending, addr)
	if len(t.AckPending) > 0 {
		return false
	}
	switch t.State {
	case StateCommitting:
		t.State = StateCommitted
		return true
	case StateAborting:
		t.State = StateAborted
		return true
	}
	return false
}

// ForceAbortingIfPreparing implements the crash-recovery rule: a
// transaction found in PREPARING after a coordinator restart is forced into
// ABORTING, since the coordinator cannot know whether it had already seen
// and lost in-flight votes.
func (t *Transaction) ForceAbortingIfPreparing() (changed bool) {
	if t.State != StatePreparing {
		return false
	}
	t.State = StateAborting
	return true
}

// DeadlineExpired implements the PREPARE-deadline transition: a transaction
// still PREPARING when its deadline fires moves to ABORTING.
func (t *Transaction) DeadlineExpired() (changed bool) {
	if t.State != StatePreparing {
		return false
	}
	t.State = StateAborting
	return true
}

// Snapshot is a JSON-serializable copy of the transaction's state for the
// durable log and the admin API. Its maps are copies of the record's own, so
// a Snapshot can be read after the transaction's lock has been released.
type Snapshot struct {
	ID                ID                    `json:"id"`
	Filename          string                `json:"filename"`
	ImageBytes        []byte                `json:"image_bytes,omitempty"`
	Fingerprint       [32]byte              `json:"fingerprint"`
	ParticipantImages map[Address][]string  `json:"participant_images"`
	State             State                 `json:"state"`
	VotesReceived     map[Address]bool      `json:"votes_received"`
	AckPending        map[Address]bool      `json:"ack_pending"`
}

// SnapshotLocked builds a Snapshot assuming the caller already holds the
// transaction's lock.
func (t *Transaction) SnapshotLocked() Snapshot {
	images := make(map[Address][]string, len(t.ParticipantImages))
	for addr, files := range t.ParticipantImages {
		images[addr] = append([]string(nil), files...)
	}
	votes := make(map[Address]bool, len(t.VotesReceived))
	for addr, v := range t.VotesReceived {
		votes[addr] = v
	}
	acks := make(map[Address]bool, len(t.AckPending))
	for addr, v := range t.AckPending {
		acks[addr] = v
	}
	return Snapshot{
		ID:                t.ID,
		Filename:          t.Filename,
		ImageBytes:        t.ImageBytes,
		Fingerprint:       t.Fingerprint,
		ParticipantImages: images,
		State:             t.State,
		VotesReceived:     votes,
		AckPending:        acks,
	}
}

// Snapshot locks, builds, and unlocks.
func (t *Transaction) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.SnapshotLocked()
}

// FromSnapshot reconstructs a Transaction from a log snapshot at startup.
func FromSnapshot(s Snapshot) *Transaction {
	votes := s.VotesReceived
	if votes == nil {
		votes = make(map[Address]bool)
	}
	acks := s.AckPending
	if acks == nil {
		acks = make(map[Address]bool)
	}
	participants := s.ParticipantImages
	if participants == nil {
		participants = make(map[Address][]string)
	}
	return &Transaction{
		ID:                s.ID,
		Filename:          s.Filename,
		ImageBytes:        s.ImageBytes,
		Fingerprint:       s.Fingerprint,
		ParticipantImages: participants,
		State:             s.State,
		VotesReceived:     votes,
		AckPending:        acks,
	}
}

// MarshalJSON renders State as its name, matching the style of the durable
// log's human-readable snapshots.
func (s State) MarshalJSON() ([]byte, error) {
	return marshalEnumString(s.String())
}

// UnmarshalJSON accepts the State name produced by MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	name, err := unmarshalEnumString(data)
	if err != nil {
		return err
	}
	for _, candidate := range []State{StateInit, StatePreparing, StateCommitting, StateAborting, StateCommitted, StateAborted} {
		if candidate.String() == name {
			*s = candidate
			return nil
		}
	}
	*s = StateInit
	return nil
}
