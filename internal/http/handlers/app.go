package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/KPaul404/Virtual-try-on/internal/domain"
	"github.com/KPaul404/Virtual-try-on/internal/session"
	"github.com/KPaul404/Virtual-try-on/internal/styling"
	"github.com/KPaul404/Virtual-try-on/pkg/sse"
)

const (
	defaultRunTimeout     = 5 * time.Minute
	defaultMaxUploadBytes = 15 << 20
)

// Runner executes one styling run.
type Runner interface {
	Run(ctx context.Context, in styling.Input, trace *domain.Trace) domain.Result
}

var _ Runner = (*styling.Orchestrator)(nil)

type Deps struct {
	Sessions       *session.Store
	Runner         Runner
	Hub            *sse.Hub
	Logger         zerolog.Logger
	RunTimeout     time.Duration
	MaxUploadBytes int64
}

type App struct {
	Sessions       *session.Store
	Runner         Runner
	Hub            *sse.Hub
	Logger         zerolog.Logger
	RunTimeout     time.Duration
	MaxUploadBytes int64

	runs sync.WaitGroup
}

func NewApp(deps Deps) *App {
	a := &App{
		Sessions:       deps.Sessions,
		Runner:         deps.Runner,
		Hub:            deps.Hub,
		Logger:         deps.Logger,
		RunTimeout:     deps.RunTimeout,
		MaxUploadBytes: deps.MaxUploadBytes,
	}
	if a.Sessions == nil {
		a.Sessions = session.NewStore(session.DefaultTTL)
	}
	if a.RunTimeout <= 0 {
		a.RunTimeout = defaultRunTimeout
	}
	if a.MaxUploadBytes <= 0 {
		a.MaxUploadBytes = defaultMaxUploadBytes
	}
	return a
}

// Wait blocks until every background run has finished or ctx is done.
func (a *App) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// fail maps domain errors onto HTTP responses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		valErr   *domain.ValidationError
		maxBytes *http.MaxBytesError
	)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "session not found")
	case errors.Is(err, domain.ErrRunInProgress):
		a.error(w, http.StatusConflict, "run_in_progress", "a styling run is already in progress")
	case errors.As(err, &maxBytes):
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds the size limit")
	case errors.As(err, &valErr):
		a.error(w, http.StatusBadRequest, "bad_request", valErr.Message)
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// startRun begins a run on sess in the background. The run is detached from
// the request and bounded by RunTimeout.
func (a *App) startRun(sess *session.Session) error {
	if a.Runner == nil {
		return errors.New("handlers: runner is not configured")
	}
	ticket, err := sess.Begin(func([]domain.ProcessStep) { a.publish(sess) })
	if err != nil {
		return err
	}
	a.publish(sess)

	a.runs.Add(1)
	go func() {
		defer a.runs.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.RunTimeout)
		defer cancel()

		res := a.Runner.Run(ctx, styling.Input{
			Model:      ticket.Model,
			Item:       ticket.Item,
			Credential: ticket.Credential,
			SessionID:  sess.ID,
		}, ticket.Trace)
		sess.Finish(ticket.Trace, res)
		a.publish(sess)

		a.Logger.Info().
			Str("session_id", sess.ID).
			Str("state", string(res.State)).
			Str("outcome", string(res.Outcome())).
			Msg("styling run finished")
	}()
	return nil
}

func (a *App) publish(sess *session.Session) {
	if a.Hub == nil {
		return
	}
	data, err := json.Marshal(sess.View())
	if err != nil {
		a.Logger.Warn().Err(err).Str("session_id", sess.ID).Msg("encode session view")
		return
	}
	a.Hub.Publish(sess.ID, data)
}
