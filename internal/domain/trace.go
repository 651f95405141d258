package domain

import "sync"

// StepStatus is the display state of a ProcessStep.
type StepStatus string

const (
	StepProcessing StepStatus = "processing"
	StepComplete   StepStatus = "complete"
	StepWarning    StepStatus = "warning"
	StepError      StepStatus = "error"
)

// ProcessStep is one observable unit of work in a styling run.
type ProcessStep struct {
	ID          int         `json:"id"`
	Status      StepStatus  `json:"status"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Image       *StillImage `json:"image,omitempty"`
}

// StepUpdate describes a mutation of the last step. An empty Title keeps the
// current title and a nil Image keeps the current image.
type StepUpdate struct {
	Status      StepStatus
	Title       string
	Description string
	Image       *StillImage
}

// Trace is the append-ordered progress log of a run. Only the last step is
// ever mutated after it has been appended.
type Trace struct {
	mu       sync.RWMutex
	steps    []ProcessStep
	onChange func([]ProcessStep)
}

// NewTrace returns an empty trace. onChange, when non-nil, receives a
// snapshot after every mutation.
func NewTrace(onChange func([]ProcessStep)) *Trace {
	return &Trace{onChange: onChange}
}

// Append adds a step and assigns it the next ordinal.
func (t *Trace) Append(status StepStatus, title, description string, image *StillImage) ProcessStep {
	t.mu.Lock()
	step := ProcessStep{
		ID:          len(t.steps) + 1,
		Status:      status,
		Title:       title,
		Description: description,
		Image:       cloneImage(image),
	}
	t.steps = append(t.steps, step)
	snapshot := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(snapshot)
	return step
}

// UpdateLast mutates the most recently appended step. It reports false when
// the trace is empty.
func (t *Trace) UpdateLast(update StepUpdate) bool {
	t.mu.Lock()
	if len(t.steps) == 0 {
		t.mu.Unlock()
		return false
	}
	last := &t.steps[len(t.steps)-1]
	last.Status = update.Status
	if update.Title != "" {
		last.Title = update.Title
	}
	last.Description = update.Description
	if update.Image != nil {
		last.Image = cloneImage(update.Image)
	}
	snapshot := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(snapshot)
	return true
}

// Steps returns a copy of the recorded steps.
func (t *Trace) Steps() []ProcessStep {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

// Last returns the most recently appended step.
func (t *Trace) Last() (ProcessStep, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.steps) == 0 {
		return ProcessStep{}, false
	}
	return t.steps[len(t.steps)-1], true
}

func (t *Trace) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.steps)
}

func (t *Trace) snapshotLocked() []ProcessStep {
	out := make([]ProcessStep, len(t.steps))
	copy(out, t.steps)
	return out
}

func (t *Trace) notify(snapshot []ProcessStep) {
	if t.onChange != nil {
		t.onChange(snapshot)
	}
}

func cloneImage(img *StillImage) *StillImage {
	if img == nil {
		return nil
	}
	c := NewStillImage(img.MIMEType, img.Data)
	return &c
}
