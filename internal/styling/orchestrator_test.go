package styling

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KPaul404/Virtual-try-on/internal/compositor"
	"github.com/KPaul404/Virtual-try-on/internal/domain"
	"github.com/KPaul404/Virtual-try-on/internal/generation"
)

func still(tag string) domain.StillImage {
	return domain.NewStillImage("image/png", []byte(tag))
}

func tag(img domain.StillImage) string { return string(img.Data) }

// fakeCompositor encodes each operation into the output bytes so tests can
// trace where an image came from.
type fakeCompositor struct {
	mu       sync.Mutex
	crops    []string
	retries  []string
	buildErr error
}

func (f *fakeCompositor) BuildCollage(model, item domain.StillImage) (domain.StillImage, error) {
	if f.buildErr != nil {
		return domain.StillImage{}, f.buildErr
	}
	return still("collage(" + tag(model) + "," + tag(item) + ")"), nil
}

func (f *fakeCompositor) BuildRetryCollage(model, item, failed domain.StillImage) (domain.StillImage, error) {
	f.mu.Lock()
	f.retries = append(f.retries, tag(failed))
	f.mu.Unlock()
	return still("retry(" + tag(failed) + ")"), nil
}

func (f *fakeCompositor) CropLeftHalf(img domain.StillImage) (domain.StillImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crops = append(f.crops, tag(img))
	return still("crop(" + tag(img) + ")"), nil
}

// fakeGenerator replays scripted answers. Attempt n produces "gen<n>".
type fakeGenerator struct {
	description string
	verdicts    []generation.Verdict
	changed     []int

	analyzeErr error
	styleErr   map[int]error
	noImage    map[int]string
	filterErr  error

	styleCalls  []styleCall
	judgeCalls  []string
	filterCalls [][]string
	credentials []string
}

type styleCall struct {
	collage  string
	feedback string
}

func (f *fakeGenerator) AnalyzeColor(_ context.Context, _ domain.StillImage, credential string) (string, error) {
	f.credentials = append(f.credentials, credential)
	if f.analyzeErr != nil {
		return "", f.analyzeErr
	}
	return f.description, nil
}

func (f *fakeGenerator) StyleImage(_ context.Context, collage domain.StillImage, _, feedback, credential string) ([]generation.Part, error) {
	f.credentials = append(f.credentials, credential)
	f.styleCalls = append(f.styleCalls, styleCall{collage: tag(collage), feedback: feedback})
	n := len(f.styleCalls)
	if err := f.styleErr[n]; err != nil {
		return nil, err
	}
	if text, ok := f.noImage[n]; ok {
		return []generation.Part{generation.TextPart(text)}, nil
	}
	return []generation.Part{generation.TextPart("done"), generation.ImagePart(still("gen" + itoa(n)))}, nil
}

func (f *fakeGenerator) JudgeImage(_ context.Context, _, generated domain.StillImage, _, credential string) (generation.Verdict, error) {
	f.credentials = append(f.credentials, credential)
	f.judgeCalls = append(f.judgeCalls, tag(generated))
	i := len(f.judgeCalls) - 1
	if i < len(f.verdicts) {
		return f.verdicts[i], nil
	}
	return generation.Verdict{Decision: generation.DecisionRefine, Feedback: "try again"}, nil
}

func (f *fakeGenerator) FilterChangedImages(_ context.Context, _ domain.StillImage, candidates []domain.StillImage, credential string) ([]domain.StillImage, error) {
	f.credentials = append(f.credentials, credential)
	tags := make([]string, len(candidates))
	for i, c := range candidates {
		tags[i] = tag(c)
	}
	f.filterCalls = append(f.filterCalls, tags)
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	var out []domain.StillImage
	for _, i := range f.changed {
		out = append(out, candidates[i])
	}
	return out, nil
}

func itoa(n int) string {
	return string(rune('0' + n))
}

func refine(feedback string) generation.Verdict {
	return generation.Verdict{Decision: generation.DecisionRefine, Feedback: feedback}
}

func accept(feedback string) generation.Verdict {
	return generation.Verdict{Decision: generation.DecisionAccept, Feedback: feedback}
}

func newOrchestrator(gen Generator, comp Compositor, maxRetries int) *Orchestrator {
	return New(Options{Generator: gen, Compositor: comp, MaxRetries: maxRetries, Logger: zerolog.Nop()})
}

func validInput() Input {
	return Input{Model: still("model"), Item: still("item"), SessionID: "s1"}
}

func titles(steps []domain.ProcessStep) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Title
	}
	return out
}

func assertExclusive(t *testing.T, res domain.Result) {
	t.Helper()
	set := 0
	if res.FinalImage != nil {
		set++
	}
	if len(res.FallbackImages) > 0 {
		set++
	}
	if res.Error != "" {
		set++
	}
	assert.Equal(t, 1, set, "exactly one terminal output must be set")
	assert.True(t, res.State.Terminal())
}

func TestAcceptedOnFirstAttempt(t *testing.T) {
	gen := &fakeGenerator{description: "mustard yellow", verdicts: []generation.Verdict{accept("great")}}
	comp := &fakeCompositor{}
	trace := domain.NewTrace(nil)

	res := newOrchestrator(gen, comp, 3).Run(context.Background(), validInput(), trace)

	require.Equal(t, domain.StateAccepted, res.State)
	assertExclusive(t, res)
	require.NotNil(t, res.FinalImage)
	assert.Equal(t, "crop(gen1)", tag(*res.FinalImage))
	assert.Equal(t, domain.OutcomeFinal, res.Outcome())

	assert.Len(t, gen.styleCalls, 1)
	assert.Equal(t, "collage(model,item)", gen.styleCalls[0].collage)
	assert.Empty(t, gen.styleCalls[0].feedback)
	assert.Equal(t, []string{"crop(gen1)"}, gen.judgeCalls)
	assert.Empty(t, gen.filterCalls)

	steps := trace.Steps()
	assert.Equal(t, []string{
		"Analyzing Fashion Item",
		"Collage Created",
		"Styling Attempt 1 Complete",
		"Quality Check Passed",
	}, titles(steps))
	for _, s := range steps {
		assert.Equal(t, domain.StepComplete, s.Status)
	}
	assert.Equal(t, "Analysis complete. Item description: mustard yellow", steps[0].Description)
	require.NotNil(t, steps[1].Image)
	assert.Equal(t, "collage(model,item)", tag(*steps[1].Image))
	require.NotNil(t, steps[2].Image)
	assert.Equal(t, "gen1", tag(*steps[2].Image), "styling step carries the uncropped image")
	assert.Equal(t, "Judge's verdict: Accepted. great", steps[3].Description)

	require.Len(t, res.Attempts, 1)
	assert.True(t, res.Attempts[0].Accepted)
}

func TestAcceptedAfterRetry(t *testing.T) {
	gen := &fakeGenerator{verdicts: []generation.Verdict{refine("too bright"), accept("ok")}}
	comp := &fakeCompositor{}
	trace := domain.NewTrace(nil)

	res := newOrchestrator(gen, comp, 3).Run(context.Background(), validInput(), trace)

	require.Equal(t, domain.StateAccepted, res.State)
	assertExclusive(t, res)
	assert.Equal(t, "crop(gen2)", tag(*res.FinalImage))

	require.Len(t, gen.styleCalls, 2)
	assert.Equal(t, styleCall{collage: "retry(gen1)", feedback: "too bright"}, gen.styleCalls[1])
	assert.Equal(t, []string{"gen1"}, comp.retries, "retry collage uses the uncropped previous attempt")

	steps := trace.Steps()
	assert.Equal(t, []string{
		"Analyzing Fashion Item",
		"Collage Created",
		"Styling Attempt 1 Complete",
		"Quality Check Failed",
		"Retry Collage Created",
		"Styling Attempt 2 Complete",
		"Quality Check Passed",
	}, titles(steps))
	assert.Equal(t, domain.StepWarning, steps[3].Status)
	assert.Equal(t, "Judge's feedback for retry: too bright", steps[3].Description)
	assert.Equal(t, "retry(gen1)", tag(*steps[4].Image))
}

func TestFallbackCandidatesPreserveOrder(t *testing.T) {
	gen := &fakeGenerator{changed: []int{0, 2}}
	comp := &fakeCompositor{}
	trace := domain.NewTrace(nil)

	res := newOrchestrator(gen, comp, 3).Run(context.Background(), validInput(), trace)

	require.Equal(t, domain.StateFallbackReady, res.State)
	assertExclusive(t, res)
	require.Len(t, res.FallbackImages, 2)
	assert.Equal(t, "crop(gen1)", tag(res.FallbackImages[0]))
	assert.Equal(t, "crop(gen3)", tag(res.FallbackImages[1]))

	require.Len(t, gen.filterCalls, 1)
	assert.Equal(t, []string{"gen1", "gen2", "gen3"}, gen.filterCalls[0], "filter sees uncropped history")

	steps := trace.Steps()
	n := len(steps)
	require.GreaterOrEqual(t, n, 2)
	assert.Equal(t, "Final Attempt Failed", steps[n-2].Title)
	assert.Equal(t, domain.StepError, steps[n-2].Status)
	assert.Equal(t, "Choose the Best Attempt", steps[n-1].Title)
	assert.Equal(t, domain.StepComplete, steps[n-1].Status)
}

// reversingCompositor holds the fallback crop of gen1 until the fallback
// crop of gen3 has finished.
type reversingCompositor struct {
	*fakeCompositor
	mu       sync.Mutex
	seen     map[string]int
	finished []string
	gen3Done chan struct{}
}

func (c *reversingCompositor) CropLeftHalf(img domain.StillImage) (domain.StillImage, error) {
	c.mu.Lock()
	c.seen[tag(img)]++
	second := c.seen[tag(img)] == 2
	c.mu.Unlock()

	if second && tag(img) == "gen1" {
		select {
		case <-c.gen3Done:
		case <-time.After(2 * time.Second):
		}
	}
	out, err := c.fakeCompositor.CropLeftHalf(img)

	c.mu.Lock()
	if second {
		c.finished = append(c.finished, tag(img))
	}
	c.mu.Unlock()
	if second && tag(img) == "gen3" {
		close(c.gen3Done)
	}
	return out, err
}

func TestFallbackOrderSurvivesOutOfOrderCrops(t *testing.T) {
	gen := &fakeGenerator{changed: []int{0, 2}}
	comp := &reversingCompositor{fakeCompositor: &fakeCompositor{}, seen: map[string]int{}, gen3Done: make(chan struct{})}

	res := newOrchestrator(gen, comp, 3).Run(context.Background(), validInput(), domain.NewTrace(nil))

	require.Equal(t, domain.StateFallbackReady, res.State)
	assert.Equal(t, []string{"gen3", "gen1"}, comp.finished, "crops completed out of order")
	require.Len(t, res.FallbackImages, 2)
	assert.Equal(t, "crop(gen1)", tag(res.FallbackImages[0]))
	assert.Equal(t, "crop(gen3)", tag(res.FallbackImages[1]))
}

func TestAllFailedWhenNothingChanged(t *testing.T) {
	gen := &fakeGenerator{}
	comp := &fakeCompositor{}
	trace := domain.NewTrace(nil)

	res := newOrchestrator(gen, comp, 2).Run(context.Background(), validInput(), trace)

	require.Equal(t, domain.StateAllFailed, res.State)
	assertExclusive(t, res)
	assert.Equal(t, MsgNoResult, res.Error)
	assert.False(t, res.NeedsCredential)

	last, ok := trace.Last()
	require.True(t, ok)
	assert.Equal(t, "All Attempts Failed", last.Title)
	assert.Equal(t, domain.StepError, last.Status)
}

func TestLoopIsBoundedByMaxRetries(t *testing.T) {
	for _, maxRetries := range []int{1, 2, 3, 5} {
		gen := &fakeGenerator{}
		comp := &fakeCompositor{}

		res := newOrchestrator(gen, comp, maxRetries).Run(context.Background(), validInput(), domain.NewTrace(nil))

		assert.Len(t, gen.styleCalls, maxRetries)
		assert.Len(t, gen.judgeCalls, maxRetries)
		assert.Len(t, comp.retries, maxRetries-1)
		assert.Len(t, res.Attempts, maxRetries)
		assert.Equal(t, domain.StateAllFailed, res.State)
	}
}

func TestDefaultMaxRetries(t *testing.T) {
	assert.Equal(t, DefaultMaxRetries, New(Options{}).MaxRetries())
	assert.Equal(t, DefaultMaxRetries, New(Options{MaxRetries: -1}).MaxRetries())
	assert.Equal(t, 7, New(Options{MaxRetries: 7}).MaxRetries())
}

func TestQuotaFailureMarksInFlightStep(t *testing.T) {
	quota := &domain.GenerationError{Op: generation.OpStyle, Cause: domain.CauseQuota, Status: 429, Message: "Resource has been exhausted"}
	gen := &fakeGenerator{verdicts: []generation.Verdict{refine("again")}, styleErr: map[int]error{2: quota}}
	comp := &fakeCompositor{}
	trace := domain.NewTrace(nil)

	res := newOrchestrator(gen, comp, 3).Run(context.Background(), validInput(), trace)

	require.Equal(t, domain.StateFailed, res.State)
	assertExclusive(t, res)
	assert.Equal(t, MsgQuota, res.Error)
	assert.True(t, res.NeedsCredential)
	assert.Nil(t, res.FinalImage)
	assert.Empty(t, res.FallbackImages)
	assert.ErrorIs(t, res.Err, domain.ErrQuotaExceeded)

	steps := trace.Steps()
	last := steps[len(steps)-1]
	assert.Equal(t, "API Quota Exceeded", last.Title)
	assert.Equal(t, domain.StepError, last.Status)
	assert.Equal(t, "Retry Collage Created", steps[len(steps)-2].Title, "no extra step is appended")
	for _, s := range steps {
		assert.NotEqual(t, "Process Failed", s.Title)
	}
}

func TestMissingCredentialMarksInFlightStep(t *testing.T) {
	gen := &fakeGenerator{analyzeErr: &domain.ConfigurationError{Message: "GEMINI_API_KEY is not set and no session key was provided"}}
	trace := domain.NewTrace(nil)

	res := newOrchestrator(gen, &fakeCompositor{}, 3).Run(context.Background(), validInput(), trace)

	require.Equal(t, domain.StateFailed, res.State)
	assertExclusive(t, res)
	assert.True(t, res.NeedsCredential)
	assert.Equal(t, MsgCredential, res.Error)
	require.Equal(t, 1, trace.Len())
	last, _ := trace.Last()
	assert.Equal(t, "API Key Required", last.Title)
	assert.Equal(t, domain.StepError, last.Status)
}

func TestNoImageFailsWithModelText(t *testing.T) {
	gen := &fakeGenerator{noImage: map[int]string{1: "  I can't help with that.  "}}
	trace := domain.NewTrace(nil)

	res := newOrchestrator(gen, &fakeCompositor{}, 3).Run(context.Background(), validInput(), trace)

	require.Equal(t, domain.StateFailed, res.State)
	assertExclusive(t, res)
	assert.Equal(t, `Generation failed: AI failed to generate an image. Model's text response: "I can't help with that."`, res.Error)
	assert.Equal(t, domain.CauseNoImage, domain.GenerationCauseOf(res.Err))
	assert.False(t, res.NeedsCredential)
	assert.Empty(t, res.Attempts)

	last, _ := trace.Last()
	assert.Equal(t, "Process Failed", last.Title)
	assert.Equal(t, domain.StepError, last.Status)
}

func TestGenericFailureAppendsStep(t *testing.T) {
	comp := &fakeCompositor{buildErr: &domain.CompositingError{Op: "decode", Err: errors.New("bad header")}}
	trace := domain.NewTrace(nil)

	res := newOrchestrator(&fakeGenerator{}, comp, 3).Run(context.Background(), validInput(), trace)

	require.Equal(t, domain.StateFailed, res.State)
	assert.ErrorIs(t, res.Err, domain.ErrCompositing)
	assert.Equal(t, "Generation failed: compositor: decode: bad header", res.Error)
	assert.Equal(t, []string{"Analyzing Fashion Item", "Preparing Images", "Process Failed"}, titles(trace.Steps()))
}

func TestValidationMakesNoRemoteCall(t *testing.T) {
	tests := map[string]Input{
		"no model": {Item: still("item")},
		"no item":  {Model: still("model")},
		"neither":  {},
	}

	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			gen := &fakeGenerator{}
			trace := domain.NewTrace(nil)

			res := newOrchestrator(gen, &fakeCompositor{}, 3).Run(context.Background(), in, trace)

			assert.Equal(t, domain.StateFailed, res.State)
			assert.Equal(t, MsgValidation, res.Error)
			assert.ErrorIs(t, res.Err, domain.ErrValidation)
			assert.Empty(t, gen.credentials)
			require.Equal(t, 1, trace.Len())
			last, _ := trace.Last()
			assert.Equal(t, domain.StepError, last.Status)
		})
	}
}

func TestCredentialIsPassedToEveryCall(t *testing.T) {
	gen := &fakeGenerator{changed: []int{1}}
	in := validInput()
	in.Credential = "session-key"

	newOrchestrator(gen, &fakeCompositor{}, 2).Run(context.Background(), in, domain.NewTrace(nil))

	require.NotEmpty(t, gen.credentials)
	for _, c := range gen.credentials {
		assert.Equal(t, "session-key", c)
	}
}

func TestFallbackNeverFabricates(t *testing.T) {
	gen := &fakeGenerator{changed: []int{2, 1, 0}}
	comp := &fakeCompositor{}

	res := newOrchestrator(gen, comp, 3).Run(context.Background(), validInput(), domain.NewTrace(nil))

	generated := map[string]bool{}
	for _, a := range res.Attempts {
		generated["crop("+tag(a.Generated)+")"] = true
	}
	require.NotEmpty(t, res.FallbackImages)
	for _, img := range res.FallbackImages {
		assert.True(t, generated[tag(img)], "fallback %q is not a crop of a generated attempt", tag(img))
	}
}

func TestFallbackCropFailure(t *testing.T) {
	gen := &fakeGenerator{changed: []int{0, 1}}
	comp := &fakeCompositor{}
	trace := domain.NewTrace(nil)
	orch := newOrchestrator(gen, comp, 2)

	// The loop crops gen1 and gen2 once each before the fallback crops them
	// again, so fail only on the second crop of gen2.
	calls := 0
	wrapped := &countingCompositor{fakeCompositor: comp, fail: func(img domain.StillImage) error {
		if tag(img) == "gen2" {
			calls++
			if calls == 2 {
				return errors.New("boom")
			}
		}
		return nil
	}}
	orch.comp = wrapped

	res := orch.Run(context.Background(), validInput(), trace)

	require.Equal(t, domain.StateFailed, res.State)
	assertExclusive(t, res)
	assert.Empty(t, res.FallbackImages)
	assert.Contains(t, res.Error, "crop candidate 1")
}

type countingCompositor struct {
	*fakeCompositor
	mu   sync.Mutex
	fail func(domain.StillImage) error
}

func (c *countingCompositor) CropLeftHalf(img domain.StillImage) (domain.StillImage, error) {
	c.mu.Lock()
	err := c.fail(img)
	c.mu.Unlock()
	if err != nil {
		return domain.StillImage{}, err
	}
	return c.fakeCompositor.CropLeftHalf(img)
}

func TestTraceIsAppendOnly(t *testing.T) {
	var snapshots [][]domain.ProcessStep
	trace := domain.NewTrace(func(steps []domain.ProcessStep) {
		snapshots = append(snapshots, steps)
	})
	gen := &fakeGenerator{changed: []int{1}}

	newOrchestrator(gen, &fakeCompositor{}, 3).Run(context.Background(), validInput(), trace)

	require.NotEmpty(t, snapshots)
	for i := 1; i < len(snapshots); i++ {
		prev, cur := snapshots[i-1], snapshots[i]
		require.GreaterOrEqual(t, len(cur), len(prev))
		require.LessOrEqual(t, len(cur), len(prev)+1, "at most one step is appended per mutation")
		// Every step except the last of prev must be untouched.
		for j := 0; j < len(prev)-1; j++ {
			assert.Equal(t, prev[j], cur[j])
		}
		if len(cur) == len(prev)+1 {
			assert.Equal(t, prev[len(prev)-1], cur[len(prev)-1])
		}
	}
	final := snapshots[len(snapshots)-1]
	for i, s := range final {
		assert.Equal(t, i+1, s.ID)
	}
}

func pngImage(t *testing.T, w, h int, c color.Color) domain.StillImage {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return domain.NewStillImage("image/png", buf.Bytes())
}

// imageGenerator returns the collage it receives as the styled image, which
// keeps the real compositor's geometry observable end to end.
type imageGenerator struct {
	fakeGenerator
}

func (g *imageGenerator) StyleImage(_ context.Context, collage domain.StillImage, _, _, _ string) ([]generation.Part, error) {
	return []generation.Part{generation.ImagePart(collage)}, nil
}

func TestRunWithRealCompositor(t *testing.T) {
	gen := &imageGenerator{fakeGenerator{verdicts: []generation.Verdict{refine("darker"), accept("ok")}}}
	comp := compositor.New(compositor.Options{})
	in := Input{
		Model: pngImage(t, 300, 400, color.RGBA{R: 200, A: 255}),
		Item:  pngImage(t, 100, 100, color.RGBA{B: 200, A: 255}),
	}

	res := newOrchestrator(gen, comp, 3).Run(context.Background(), in, domain.NewTrace(nil))

	require.Equal(t, domain.StateAccepted, res.State, res.Error)
	final, err := compositor.Decode(*res.FinalImage)
	require.NoError(t, err)
	// Attempt 2 is styled from the 800px retry collage: panel 600 wide.
	assert.Equal(t, 600, final.Width)
	assert.Equal(t, 800, final.Height)
	assert.True(t, strings.HasPrefix(res.FinalImage.MIMEType, "image/jpeg"))
}
