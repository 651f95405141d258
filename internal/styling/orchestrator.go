// Package styling drives one virtual try-on run: analyze the item, compose
// the collage, then generate and judge up to MaxRetries attempts before
// falling back to letting the user pick among the changed attempts.
package styling

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/KPaul404/Virtual-try-on/internal/compositor"
	"github.com/KPaul404/Virtual-try-on/internal/domain"
	"github.com/KPaul404/Virtual-try-on/internal/generation"
)

const DefaultMaxRetries = 3

const (
	MsgValidation   = "Please provide both a fashion item and a model image."
	MsgQuota        = "The default API quota has been exceeded. Please provide your own key to continue."
	MsgCredential   = "No API key is configured. Please provide your own key to continue."
	MsgNoResult     = "We couldn't get a perfect result. Please try again with a clearer or different photo of the model for better results."
	msgFailedPrefix = "Generation failed: "
)

// Generator is the remote half of a run.
type Generator interface {
	AnalyzeColor(ctx context.Context, item domain.StillImage, credential string) (string, error)
	StyleImage(ctx context.Context, collage domain.StillImage, description, feedback, credential string) ([]generation.Part, error)
	JudgeImage(ctx context.Context, item, generated domain.StillImage, description, credential string) (generation.Verdict, error)
	FilterChangedImages(ctx context.Context, model domain.StillImage, candidates []domain.StillImage, credential string) ([]domain.StillImage, error)
}

// Compositor is the local image half of a run.
type Compositor interface {
	BuildCollage(model, item domain.StillImage) (domain.StillImage, error)
	BuildRetryCollage(model, item, failed domain.StillImage) (domain.StillImage, error)
	CropLeftHalf(img domain.StillImage) (domain.StillImage, error)
}

var (
	_ Generator  = (*generation.Client)(nil)
	_ Compositor = (*compositor.Compositor)(nil)
)

type Options struct {
	Generator  Generator
	Compositor Compositor
	MaxRetries int
	Logger     zerolog.Logger
}

type Orchestrator struct {
	gen        Generator
	comp       Compositor
	maxRetries int
	log        zerolog.Logger
}

func New(opts Options) *Orchestrator {
	maxRetries := opts.MaxRetries
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	return &Orchestrator{
		gen:        opts.Generator,
		comp:       opts.Compositor,
		maxRetries: maxRetries,
		log:        opts.Logger,
	}
}

func (o *Orchestrator) MaxRetries() int { return o.maxRetries }

// Input carries the two source photos and the optional caller credential.
type Input struct {
	Model      domain.StillImage
	Item       domain.StillImage
	Credential string
	SessionID  string
}

type run struct {
	*Orchestrator
	in       Input
	trace    *domain.Trace
	log      zerolog.Logger
	state    domain.State
	attempts []domain.AttemptRecord
}

// Run executes one styling run, recording progress in trace. It always
// returns a terminal Result; failures are reported through Result.Error and
// Result.Err rather than a separate error value.
func (o *Orchestrator) Run(ctx context.Context, in Input, trace *domain.Trace) domain.Result {
	if trace == nil {
		trace = domain.NewTrace(nil)
	}
	r := &run{
		Orchestrator: o,
		in:           in,
		trace:        trace,
		log:          o.log.With().Str("session_id", in.SessionID).Logger(),
		state:        domain.StateIdle,
	}

	if in.Model.IsZero() || in.Item.IsZero() {
		err := &domain.ValidationError{Field: "images", Message: MsgValidation, Err: domain.ErrMissingSources}
		trace.Append(domain.StepError, "Missing Images", MsgValidation, nil)
		r.transition(domain.StateFailed)
		return domain.Result{State: domain.StateFailed, Error: MsgValidation, Err: err}
	}

	res, err := r.execute(ctx)
	if err != nil {
		return r.fail(err)
	}
	return res
}

func (r *run) execute(ctx context.Context) (domain.Result, error) {
	cred := r.in.Credential

	r.transition(domain.StateAnalyzing)
	r.trace.Append(domain.StepProcessing, "Analyzing Fashion Item", "AI is extracting precise color and texture details.", nil)
	description, err := r.gen.AnalyzeColor(ctx, r.in.Item, cred)
	if err != nil {
		return domain.Result{}, err
	}
	r.trace.UpdateLast(domain.StepUpdate{
		Status:      domain.StepComplete,
		Description: "Analysis complete. Item description: " + description,
	})

	r.transition(domain.StateCompositing)
	r.trace.Append(domain.StepProcessing, "Preparing Images", "Creating an image collage for the AI stylist.", nil)
	collage, err := r.comp.BuildCollage(r.in.Model, r.in.Item)
	if err != nil {
		return domain.Result{}, err
	}
	r.trace.UpdateLast(domain.StepUpdate{
		Status:      domain.StepComplete,
		Title:       "Collage Created",
		Description: "Images are ready for styling.",
		Image:       &collage,
	})

	var (
		feedback string
		accepted *domain.AttemptRecord
	)
	for i := 1; i <= r.maxRetries; i++ {
		if i > 1 {
			r.transition(domain.StateRetrying)
			r.trace.Append(domain.StepProcessing, fmt.Sprintf("Preparing Retry Attempt %d", i), "Creating a new collage with the failed image for context.", nil)
			previous := r.attempts[len(r.attempts)-1].Generated
			collage, err = r.comp.BuildRetryCollage(r.in.Model, r.in.Item, previous)
			if err != nil {
				return domain.Result{}, err
			}
			r.trace.UpdateLast(domain.StepUpdate{
				Status:      domain.StepComplete,
				Title:       "Retry Collage Created",
				Description: "New collage is ready.",
				Image:       &collage,
			})
		}

		r.transition(domain.StateStyling)
		r.trace.Append(domain.StepProcessing, fmt.Sprintf("AI Styling (Attempt %d/%d)", i, r.maxRetries), "The AI is dressing the model. This may take a moment.", nil)
		parts, err := r.gen.StyleImage(ctx, collage, description, feedback, cred)
		if err != nil {
			return domain.Result{}, err
		}
		generated, ok := generation.FirstImage(parts)
		if !ok {
			return domain.Result{}, noImageError(parts)
		}
		r.trace.UpdateLast(domain.StepUpdate{
			Status:      domain.StepComplete,
			Title:       fmt.Sprintf("Styling Attempt %d Complete", i),
			Description: "Generated a new image.",
			Image:       &generated,
		})

		cropped, err := r.comp.CropLeftHalf(generated)
		if err != nil {
			return domain.Result{}, err
		}
		r.attempts = append(r.attempts, domain.AttemptRecord{Attempt: i, Generated: generated, Cropped: cropped})
		record := &r.attempts[len(r.attempts)-1]

		r.transition(domain.StateJudging)
		r.trace.Append(domain.StepProcessing, fmt.Sprintf("Quality Check (Attempt %d)", i), "The AI Judge is reviewing the result for accuracy.", nil)
		verdict, err := r.gen.JudgeImage(ctx, r.in.Item, cropped, description, cred)
		if err != nil {
			return domain.Result{}, err
		}
		record.Feedback = verdict.Feedback

		if verdict.Accepted() {
			record.Accepted = true
			r.trace.UpdateLast(domain.StepUpdate{
				Status:      domain.StepComplete,
				Title:       "Quality Check Passed",
				Description: "Judge's verdict: Accepted. " + verdict.Feedback,
			})
			r.log.Info().Int("attempt", i).Msg("attempt accepted")
			accepted = record
			break
		}

		feedback = verdict.Feedback
		r.trace.UpdateLast(domain.StepUpdate{
			Status:      domain.StepWarning,
			Title:       "Quality Check Failed",
			Description: "Judge's feedback for retry: " + verdict.Feedback,
		})
		r.log.Info().Int("attempt", i).Str("feedback", verdict.Feedback).Msg("attempt refined")
		if i == r.maxRetries {
			r.transition(domain.StateExhausted)
			r.trace.Append(domain.StepError, "Final Attempt Failed", "The AI Judge did not accept the final image.", nil)
		}
	}

	if accepted != nil {
		final := accepted.Cropped
		r.transition(domain.StateAccepted)
		return domain.Result{State: domain.StateAccepted, FinalImage: &final, Attempts: r.attempts}, nil
	}
	return r.fallback(ctx)
}

func (r *run) fallback(ctx context.Context) (domain.Result, error) {
	r.transition(domain.StateFilteringFallback)
	r.trace.Append(domain.StepProcessing, "Initiating fallback check", "The AI Judge was inconclusive. Checking if any attempts were successful...", nil)

	if len(r.attempts) == 0 {
		r.trace.UpdateLast(domain.StepUpdate{
			Status:      domain.StepError,
			Title:       "Fallback Failed",
			Description: "No images were generated to choose from.",
		})
		r.transition(domain.StateAllFailed)
		return domain.Result{State: domain.StateAllFailed, Error: MsgNoResult, Attempts: r.attempts}, nil
	}

	history := make([]domain.StillImage, len(r.attempts))
	for i, a := range r.attempts {
		history[i] = a.Generated
	}
	changed, err := r.gen.FilterChangedImages(ctx, r.in.Model, history, r.in.Credential)
	if err != nil {
		return domain.Result{}, err
	}
	if len(changed) == 0 {
		r.trace.UpdateLast(domain.StepUpdate{
			Status:      domain.StepError,
			Title:       "All Attempts Failed",
			Description: "The AI was unable to change the model's clothing in any attempt.",
		})
		r.transition(domain.StateAllFailed)
		return domain.Result{State: domain.StateAllFailed, Error: MsgNoResult, Attempts: r.attempts}, nil
	}

	cropped, err := r.cropAll(ctx, changed)
	if err != nil {
		return domain.Result{}, err
	}
	r.trace.UpdateLast(domain.StepUpdate{
		Status:      domain.StepComplete,
		Title:       "Choose the Best Attempt",
		Description: "The AI Judge couldn't decide. Please review the generated images and select your favorite.",
	})
	r.log.Info().Int("candidates", len(cropped)).Msg("fallback candidates ready")
	r.transition(domain.StateFallbackReady)
	return domain.Result{State: domain.StateFallbackReady, FallbackImages: cropped, Attempts: r.attempts}, nil
}

// cropAll crops every image concurrently. out[i] always corresponds to
// images[i].
func (r *run) cropAll(ctx context.Context, images []domain.StillImage) ([]domain.StillImage, error) {
	out := make([]domain.StillImage, len(images))
	g, gctx := errgroup.WithContext(ctx)
	for i, img := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := r.comp.CropLeftHalf(img)
			if err != nil {
				return fmt.Errorf("crop candidate %d: %w", i, err)
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *run) fail(err error) domain.Result {
	res := domain.Result{State: domain.StateFailed, Attempts: r.attempts, Err: err}
	var cfgErr *domain.ConfigurationError

	switch {
	case domain.IsQuotaExceeded(err):
		res.Error = MsgQuota
		res.NeedsCredential = true
		r.markInFlight("API Quota Exceeded", "The default API key has hit its usage limit.")
	case errors.As(err, &cfgErr):
		res.Error = MsgCredential
		res.NeedsCredential = true
		r.markInFlight("API Key Required", cfgErr.Message)
	default:
		msg := userMessage(err)
		res.Error = msgFailedPrefix + msg
		r.trace.Append(domain.StepError, "Process Failed", msg, nil)
	}

	r.log.Error().
		Err(err).
		Str("from", string(r.state)).
		Str("cause", string(domain.GenerationCauseOf(err))).
		Bool("needs_credential", res.NeedsCredential).
		Msg("styling run failed")
	r.transition(domain.StateFailed)
	return res
}

// markInFlight turns the processing step that was running when the failure
// happened into an error step, appending one if nothing is in flight.
func (r *run) markInFlight(title, description string) {
	if last, ok := r.trace.Last(); ok && last.Status == domain.StepProcessing {
		r.trace.UpdateLast(domain.StepUpdate{Status: domain.StepError, Title: title, Description: description})
		return
	}
	r.trace.Append(domain.StepError, title, description, nil)
}

func (r *run) transition(next domain.State) {
	r.log.Debug().Str("from", string(r.state)).Str("to", string(next)).Msg("styling state")
	r.state = next
}

// userMessage prefers the provider-facing message over the op-prefixed error
// string.
func userMessage(err error) string {
	var genErr *domain.GenerationError
	if errors.As(err, &genErr) && genErr.Message != "" {
		return genErr.Message
	}
	return err.Error()
}

func noImageError(parts []generation.Part) error {
	msg := "AI failed to generate an image."
	if text := generation.FirstText(parts); text != "" {
		msg += fmt.Sprintf(` Model's text response: "%s"`, text)
	}
	return &domain.GenerationError{Op: generation.OpStyle, Cause: domain.CauseNoImage, Message: msg}
}
