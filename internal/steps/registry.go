// Package steps tracks the ordered pipeline stages and their status, and
// notifies observers on every transition.
package steps

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/tendant/community-highlighter/pkg/highlighter"
)

// Status is the lifecycle state of a single step
type Status string

const (
	StatusPending Status = "pending"
	StatusWorking Status = "working"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// IsTerminal reports whether the status ends a step's run
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

var (
	// ErrInvalidTransition is returned when a step is not in the state a transition requires
	ErrInvalidTransition = errors.New("invalid step transition")

	// ErrUnknownStep is returned for keys that are not registered
	ErrUnknownStep = errors.New("unknown step")
)

// TransitionError describes a rejected status change
type TransitionError struct {
	Key  string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid step transition for %q: %s -> %s", e.Key, e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) match
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Definition names a step and its display label
type Definition struct {
	Key   string
	Label string
}

// Step is one stage and its current status
type Step struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Status Status `json:"status"`
}

// DefaultDefinitions are the pipeline stages in execution order
func DefaultDefinitions() []Definition {
	return []Definition{
		{Key: highlighter.StepSummarize, Label: "Summarizing..."},
		{Key: highlighter.StepTranscribe, Label: "Transcribing..."},
		{Key: highlighter.StepHighlight, Label: "Generating highlight..."},
	}
}

// Observer receives a fresh snapshot after every mutation. It runs on the
// mutating goroutine and must not mutate the registry.
type Observer func(Snapshot)

// Registry holds the ordered steps. It is safe for concurrent readers;
// mutations are expected to come from a single orchestrator.
type Registry struct {
	mu    sync.RWMutex
	steps []Step
	index map[string]int

	// notifyMu serializes delivery so observers see snapshots in mutation order
	notifyMu  sync.Mutex
	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObsID int
}

// NewRegistry creates a registry with every step pending
func NewRegistry(defs []Definition) *Registry {
	r := &Registry{
		steps:     make([]Step, len(defs)),
		index:     make(map[string]int, len(defs)),
		observers: make(map[int]Observer),
	}
	for i, d := range defs {
		r.steps[i] = Step{Key: d.Key, Label: d.Label, Status: StatusPending}
		r.index[d.Key] = i
	}
	return r
}

// NewDefaultRegistry creates a registry for summarize, transcribe, highlight
func NewDefaultRegistry() *Registry {
	return NewRegistry(DefaultDefinitions())
}

// Subscribe registers an observer. The returned func removes it.
func (r *Registry) Subscribe(obs Observer) func() {
	r.obsMu.Lock()
	id := r.nextObsID
	r.nextObsID++
	r.observers[id] = obs
	r.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.obsMu.Lock()
			delete(r.observers, id)
			r.obsMu.Unlock()
		})
	}
}

// Reset sets every step to pending
func (r *Registry) Reset() {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	for i := range r.steps {
		r.steps[i].Status = StatusPending
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snap)
}

// Begin moves a pending step to working
func (r *Registry) Begin(key string) error {
	return r.transition(key, StatusWorking, StatusPending)
}

// Complete moves a working step to done
func (r *Registry) Complete(key string) error {
	return r.transition(key, StatusDone, StatusWorking)
}

// Fail moves a working step to failed
func (r *Registry) Fail(key string) error {
	return r.transition(key, StatusFailed, StatusWorking)
}

// Rearm returns a done or failed step to pending without touching any other
// step. A pending step is left as is.
func (r *Registry) Rearm(key string) error {
	r.mu.RLock()
	i, ok := r.index[key]
	var cur Status
	if ok {
		cur = r.steps[i].Status
	}
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStep, key)
	}
	if cur == StatusPending {
		return nil
	}
	return r.transition(key, StatusPending, StatusDone, StatusFailed)
}

// Snapshot returns a point-in-time copy of all steps
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) transition(key string, to Status, from ...Status) error {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	i, ok := r.index[key]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownStep, key)
	}

	cur := r.steps[i].Status
	if !slices.Contains(from, cur) {
		r.mu.Unlock()
		return &TransitionError{Key: key, From: cur, To: to}
	}
	if to == StatusWorking {
		// at most one step may be working
		for _, s := range r.steps {
			if s.Status == StatusWorking {
				r.mu.Unlock()
				return &TransitionError{Key: key, From: cur, To: to}
			}
		}
	}

	r.steps[i].Status = to
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snap)
	return nil
}

func (r *Registry) snapshotLocked() Snapshot {
	steps := make([]Step, len(r.steps))
	copy(steps, r.steps)
	return Snapshot{steps: steps}
}

func (r *Registry) notify(snap Snapshot) {
	r.obsMu.RLock()
	ids := make([]int, 0, len(r.observers))
	for id := range r.observers {
		ids = append(ids, id)
	}
	observers := make([]Observer, 0, len(ids))
	// deliver in subscription order
	slices.Sort(ids)
	for _, id := range ids {
		observers = append(observers, r.observers[id])
	}
	r.obsMu.RUnlock()

	for _, obs := range observers {
		obs(snap)
	}
}
