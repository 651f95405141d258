package infra

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/KPaul404/Virtual-try-on/internal/compositor"
	"github.com/KPaul404/Virtual-try-on/internal/credentials"
	"github.com/KPaul404/Virtual-try-on/internal/generation"
	"github.com/KPaul404/Virtual-try-on/internal/providers/gemini"
	"github.com/KPaul404/Virtual-try-on/internal/styling"
)

// NewOrchestrator wires the Gemini provider, the generation client and the
// compositor into a styling orchestrator using the provided configuration.
func NewOrchestrator(cfg *Config, logger zerolog.Logger) (*styling.Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	provider := gemini.New(gemini.Options{
		BaseURL:           cfg.GeminiBaseURL,
		APIVersion:        cfg.GeminiAPIVersion,
		HTTPClient:        &http.Client{Timeout: cfg.RunTimeout},
		RequestsPerMinute: cfg.GeminiRequestsPerMin,
		Logger:            logger.With().Str("component", "gemini").Logger(),
	})

	client := generation.NewClient(generation.Options{
		Provider:      provider,
		Credentials:   credentials.NewSource(cfg.GeminiAPIKey),
		AnalysisModel: cfg.AnalysisModel,
		ImageModel:    cfg.ImageModel,
		Logger:        logger.With().Str("component", "generation").Logger(),
	})

	return styling.New(styling.Options{
		Generator:  client,
		Compositor: compositor.New(compositor.Options{Quality: cfg.JPEGQuality}),
		MaxRetries: cfg.MaxRetries,
		Logger:     logger.With().Str("component", "styling").Logger(),
	}), nil
}
