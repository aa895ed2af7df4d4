package transport

import (
	"math/rand"
	"sync"
	"time"

	"github.com/mnohosten/collage-2pc/pkg/txn"
	"github.com/mnohosten/collage-2pc/pkg/wire"
)

// FaultKind narrows the teacher's broader chaos.FaultType enum down to the
// message-level faults spec.md §8's scenarios exercise.
type FaultKind int

const (
	FaultDrop FaultKind = iota
	FaultDuplicate
	FaultDelay
	FaultReorder
)

// Rule describes one fault applied to messages matching From/To/Tag
// (empty/zero matches anything). MaxApplies limits how many times the rule
// fires; 0 means unlimited.
type Rule struct {
	Kind        FaultKind
	From        txn.Address
	To          txn.Address
	Tag         wire.Tag
	Probability float64 // 0 disables, 1 always fires when matched
	Delay       time.Duration
	MaxApplies  int

	applied int
}

func (r *Rule) matches(from, to txn.Address, msg wire.Message) bool {
	if r.From != "" && r.From != from {
		return false
	}
	if r.To != "" && r.To != to {
		return false
	}
	if r.Tag != "" && r.Tag != msg.Tag {
		return false
	}
	if r.MaxApplies > 0 && r.applied >= r.MaxApplies {
		return false
	}
	return true
}

// FaultInjector holds a set of Rules applied to every message crossing a
// Network, grounded on pkg/chaos/injector.go's probability-gated
// FaultConfig shape, narrowed to network-delivery faults.
type FaultInjector struct {
	mu    sync.Mutex
	rules []*Rule
	rng   *rand.Rand
}

// NewFaultInjector returns an injector with no rules (pass-through).
func NewFaultInjector() *FaultInjector {
	return &FaultInjector{rng: rand.New(rand.NewSource(1))}
}

// Add registers a rule and returns the injector for chaining.
func (fi *FaultInjector) Add(r Rule) *FaultInjector {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.rules = append(fi.rules, &r)
	return fi
}

// Decide picks the first rule matching (from, to, msg) whose probability
// gate fires, incrementing its applied count, or returns nil for an
// ordinary, unaffected delivery. The Network's deliver call interprets the
// returned Kind: drop, duplicate, sleep-then-deliver (FaultDelay), or
// hold-and-deliver-out-of-band (FaultReorder).
func (fi *FaultInjector) Decide(from, to txn.Address, msg wire.Message) *Rule {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	for _, r := range fi.rules {
		if !r.matches(from, to, msg) {
			continue
		}
		if fi.rng.Float64() > r.Probability {
			continue
		}
		r.applied++
		return r
	}
	return nil
}
