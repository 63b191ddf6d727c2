package steps

import "encoding/json"

// Snapshot is an immutable, ordered copy of the registry's steps
type Snapshot struct {
	steps []Step
}

// NewSnapshot builds a snapshot from steps. The slice is copied.
func NewSnapshot(steps []Step) Snapshot {
	cp := make([]Step, len(steps))
	copy(cp, steps)
	return Snapshot{steps: cp}
}

// Steps returns a copy of the steps in order
func (s Snapshot) Steps() []Step {
	cp := make([]Step, len(s.steps))
	copy(cp, s.steps)
	return cp
}

// Len returns the number of steps
func (s Snapshot) Len() int {
	return len(s.steps)
}

// Status returns the status of key, or "" when it is not present
func (s Snapshot) Status(key string) Status {
	for _, st := range s.steps {
		if st.Key == key {
			return st.Status
		}
	}
	return ""
}

// Count returns how many steps have the given status
func (s Snapshot) Count(status Status) int {
	n := 0
	for _, st := range s.steps {
		if st.Status == status {
			n++
		}
	}
	return n
}

// Progress is the fraction of steps that are done, in [0, 1]
func (s Snapshot) Progress() float64 {
	if len(s.steps) == 0 {
		return 0
	}
	return float64(s.Count(StatusDone)) / float64(len(s.steps))
}

// Working returns the step currently running, if any
func (s Snapshot) Working() (Step, bool) {
	for _, st := range s.steps {
		if st.Status == StatusWorking {
			return st, true
		}
	}
	return Step{}, false
}

// MarshalJSON encodes the snapshot as an array of steps
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if s.steps == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.steps)
}

// UnmarshalJSON decodes an array of steps, as served to remote observers
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var steps []Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return err
	}
	*s = NewSnapshot(steps)
	return nil
}
