// Package session keeps the in-memory state of each try-on session: the two
// source photos, the optional user credential, and the trace and result of
// the latest run.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/KPaul404/Virtual-try-on/internal/domain"
)

// ImageKind names one of the two source photo slots.
type ImageKind string

const (
	KindModel ImageKind = "model"
	KindItem  ImageKind = "item"
)

func ParseImageKind(raw string) (ImageKind, error) {
	switch ImageKind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindModel:
		return KindModel, nil
	case KindItem:
		return KindItem, nil
	}
	return "", &domain.ValidationError{Field: "kind", Message: "must be one of model, item"}
}

type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.RWMutex
	model      domain.StillImage
	item       domain.StillImage
	credential string
	trace      *domain.Trace
	result     *domain.Result
	running    bool
	startedAt  time.Time
	finishedAt time.Time
}

// Ticket is handed to a run at Begin. It carries copies of the inputs so
// later edits to the session do not leak into a run in progress.
type Ticket struct {
	Model      domain.StillImage
	Item       domain.StillImage
	Credential string
	Trace      *domain.Trace
}

// View is a read-only snapshot of a session.
type View struct {
	ID            string               `json:"id"`
	HasModel      bool                 `json:"has_model"`
	HasItem       bool                 `json:"has_item"`
	HasCredential bool                 `json:"has_credential"`
	Running       bool                 `json:"running"`
	StartedAt     *time.Time           `json:"started_at,omitempty"`
	FinishedAt    *time.Time           `json:"finished_at,omitempty"`
	Steps         []domain.ProcessStep `json:"steps"`
	Result        *domain.Result       `json:"result,omitempty"`
}

func (s *Session) SetImage(kind ImageKind, img domain.StillImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return domain.ErrRunInProgress
	}
	switch kind {
	case KindModel:
		s.model = img
	case KindItem:
		s.item = img
	default:
		return &domain.ValidationError{Field: "kind", Message: "must be one of model, item"}
	}
	return nil
}

func (s *Session) Image(kind ImageKind) (domain.StillImage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var img domain.StillImage
	switch kind {
	case KindModel:
		img = s.model
	case KindItem:
		img = s.item
	}
	return img, !img.IsZero()
}

// SetCredential stores the user's own API key. An empty key clears it.
func (s *Session) SetCredential(key string) {
	s.mu.Lock()
	s.credential = strings.TrimSpace(key)
	s.mu.Unlock()
}

func (s *Session) HasCredential() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential != ""
}

// Begin starts a run. It discards the previous trace and result and fails
// when a run is already in progress or a source photo is missing.
func (s *Session) Begin(onChange func([]domain.ProcessStep)) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return Ticket{}, domain.ErrRunInProgress
	}
	if s.model.IsZero() || s.item.IsZero() {
		return Ticket{}, &domain.ValidationError{
			Field:   "images",
			Message: "Please provide both a fashion item and a model image.",
			Err:     domain.ErrMissingSources,
		}
	}
	s.running = true
	s.trace = domain.NewTrace(onChange)
	s.result = nil
	s.startedAt = time.Now()
	s.finishedAt = time.Time{}
	return Ticket{
		Model:      s.model,
		Item:       s.item,
		Credential: s.credential,
		Trace:      s.trace,
	}, nil
}

// Finish records res for the run that owns trace. Results of a run that has
// since been superseded are dropped.
func (s *Session) Finish(trace *domain.Trace, res domain.Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if trace != s.trace {
		return false
	}
	s.running = false
	s.result = &res
	s.finishedAt = time.Now()
	return true
}

// Reset clears photos, trace and result for a fresh start. The credential
// survives.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return domain.ErrRunInProgress
	}
	s.model = domain.StillImage{}
	s.item = domain.StillImage{}
	s.trace = nil
	s.result = nil
	s.startedAt = time.Time{}
	s.finishedAt = time.Time{}
	return nil
}

// Result returns the terminal result of the last run, if any.
func (s *Session) Result() (domain.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil {
		return domain.Result{}, false
	}
	return *s.result, true
}

func (s *Session) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := View{
		ID:            s.ID,
		HasModel:      !s.model.IsZero(),
		HasItem:       !s.item.IsZero(),
		HasCredential: s.credential != "",
		Running:       s.running,
		Steps:         []domain.ProcessStep{},
	}
	if s.trace != nil {
		v.Steps = s.trace.Steps()
	}
	if s.result != nil {
		res := *s.result
		v.Result = &res
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		v.StartedAt = &t
	}
	if !s.finishedAt.IsZero() {
		t := s.finishedAt
		v.FinishedAt = &t
	}
	return v
}
