package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/KPaul404/Virtual-try-on/internal/domain"
	"github.com/KPaul404/Virtual-try-on/internal/infra"
	"github.com/KPaul404/Virtual-try-on/internal/storage"
	"github.com/KPaul404/Virtual-try-on/internal/styling"
)

const quotaHint = "re-run with --api-key to use your own Gemini API key"

type runner interface {
	Run(ctx context.Context, in styling.Input, trace *domain.Trace) domain.Result
}

type runOptions struct {
	modelPath  string
	itemPath   string
	outDir     string
	apiKey     string
	maxRetries int
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run --model PATH --item PATH",
		Short: "Run one styling pass and write the result images",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			if opts.maxRetries > 0 {
				cfg.MaxRetries = opts.maxRetries
			}
			logger := infra.NewLoggerTo(cmd.ErrOrStderr(), cfg.AppEnv)

			orchestrator, err := infra.NewOrchestrator(cfg, logger)
			if err != nil {
				return err
			}
			store, err := storage.NewFileStore(opts.outDir)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RunTimeout)
			defer cancel()
			return runTryOn(ctx, orchestrator, store, opts, logger, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.modelPath, "model", "", "path to the model photo")
	cmd.Flags().StringVar(&opts.itemPath, "item", "", "path to the fashion item photo")
	cmd.Flags().StringVar(&opts.outDir, "out", ".", "directory to write result images into")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "Gemini API key (overrides GEMINI_API_KEY)")
	cmd.Flags().IntVar(&opts.maxRetries, "max-retries", 0, "styling attempts before falling back (default from MAX_RETRIES)")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("item")

	return cmd
}

func runTryOn(ctx context.Context, r runner, store *storage.FileStore, opts runOptions, logger zerolog.Logger, out io.Writer) error {
	model, err := readImage(opts.modelPath)
	if err != nil {
		return fmt.Errorf("read model: %w", err)
	}
	item, err := readImage(opts.itemPath)
	if err != nil {
		return fmt.Errorf("read item: %w", err)
	}

	trace := domain.NewTrace(logSteps(logger))
	res := r.Run(ctx, styling.Input{Model: model, Item: item, Credential: opts.apiKey}, trace)

	if collage, ok := firstImage(trace.Steps()); ok {
		if _, err := store.WriteImage(ctx, "collage", collage); err != nil {
			logger.Warn().Err(err).Msg("failed to write collage")
		}
	}

	switch res.Outcome() {
	case domain.OutcomeFinal:
		path, err := store.WriteImage(ctx, "final", *res.FinalImage)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "final image: %s\n", path)
		return nil
	case domain.OutcomeFallback:
		fmt.Fprintln(out, "no attempt passed the quality check; candidates to choose from:")
		for i, img := range res.FallbackImages {
			path, err := store.WriteImage(ctx, fmt.Sprintf("fallback-%d", i+1), img)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  %s\n", path)
		}
		return nil
	}

	msg := res.Error
	if msg == "" {
		msg = "styling run produced no result"
	}
	if res.NeedsCredential {
		msg += " (" + quotaHint + ")"
	}
	return errors.New(msg)
}

// logSteps returns a trace observer that logs each step once per status.
func logSteps(logger zerolog.Logger) func([]domain.ProcessStep) {
	seen := make(map[int]domain.StepStatus)
	return func(steps []domain.ProcessStep) {
		if len(steps) == 0 {
			return
		}
		step := steps[len(steps)-1]
		if seen[step.ID] == step.Status {
			return
		}
		seen[step.ID] = step.Status

		evt := logger.Info()
		switch step.Status {
		case domain.StepWarning:
			evt = logger.Warn()
		case domain.StepError:
			evt = logger.Error()
		}
		evt.Int("step", step.ID).
			Str("status", string(step.Status)).
			Str("description", step.Description).
			Msg(step.Title)
	}
}

func firstImage(steps []domain.ProcessStep) (domain.StillImage, bool) {
	for _, step := range steps {
		if step.Image != nil && !step.Image.IsZero() {
			return *step.Image, true
		}
	}
	return domain.StillImage{}, false
}

func readImage(path string) (domain.StillImage, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return domain.StillImage{}, &domain.ValidationError{Field: "path", Message: styling.MsgValidation}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.StillImage{}, err
	}
	mimeType, _, _ := strings.Cut(http.DetectContentType(data), ";")
	return domain.NewStillImage(mimeType, data), nil
}
