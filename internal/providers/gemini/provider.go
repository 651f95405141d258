// Package gemini implements generation.Provider on top of the Google Gen AI
// SDK.
package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/KPaul404/Virtual-try-on/internal/domain"
	"github.com/KPaul404/Virtual-try-on/internal/generation"
)

const (
	clientTTL        = 30 * time.Minute
	clientSweep      = 10 * time.Minute
	blockUnspecified = "BLOCKED_REASON_UNSPECIFIED"
)

type Options struct {
	BaseURL           string
	APIVersion        string
	HTTPClient        *http.Client
	RequestsPerMinute int
	Logger            zerolog.Logger
}

// Provider keeps one SDK client per credential. Clients are cached under the
// SHA-256 of the key so raw keys never become map keys.
type Provider struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
	limiter    *rate.Limiter
	clients    *cache.Cache
	log        zerolog.Logger
}

var _ generation.Provider = (*Provider)(nil)

func New(opts Options) *Provider {
	p := &Provider{
		baseURL:    normalizeBaseURL(opts.BaseURL),
		apiVersion: strings.TrimSpace(opts.APIVersion),
		httpClient: opts.HTTPClient,
		clients:    cache.New(clientTTL, clientSweep),
		log:        opts.Logger,
	}
	if opts.RequestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return p
}

func normalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasSuffix(raw, "/") {
		return raw
	}
	return raw + "/"
}

func (p *Provider) GenerateContent(ctx context.Context, req generation.Request) (*generation.Response, error) {
	if strings.TrimSpace(req.Credential) == "" {
		return nil, &domain.ConfigurationError{Message: "gemini: missing api key"}
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, &domain.GenerationError{Op: req.Op, Cause: domain.CauseNetwork, Err: err}
		}
	}

	client, err := p.client(ctx, req.Credential)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{genai.NewContentFromParts(toParts(req.Parts), genai.RoleUser)}
	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, toConfig(req))
	p.log.Debug().
		Str("op", req.Op).
		Str("model", req.Model).
		Dur("elapsed", time.Since(start)).
		Bool("ok", err == nil).
		Msg("gemini generate content")
	if err != nil {
		return nil, classify(req.Op, err)
	}
	return fromResponse(resp), nil
}

func (p *Provider) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	sum := sha256.Sum256([]byte(apiKey))
	cacheKey := hex.EncodeToString(sum[:])
	if cached, ok := p.clients.Get(cacheKey); ok {
		return cached.(*genai.Client), nil
	}

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	}
	if p.baseURL != "" {
		cfg.HTTPOptions.BaseURL = p.baseURL
	}
	if p.apiVersion != "" {
		cfg.HTTPOptions.APIVersion = p.apiVersion
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, &domain.ConfigurationError{Message: fmt.Sprintf("gemini: create client: %v", err)}
	}
	p.clients.SetDefault(cacheKey, client)
	return client, nil
}

func toParts(parts []generation.Part) []*genai.Part {
	out := make([]*genai.Part, 0, len(parts))
	for _, part := range parts {
		if part.Image != nil {
			out = append(out, genai.NewPartFromBytes(part.Image.Data, part.Image.MIMEType))
			continue
		}
		out = append(out, genai.NewPartFromText(part.Text))
	}
	return out
}

func toConfig(req generation.Request) *genai.GenerateContentConfig {
	if len(req.Modalities) == 0 && req.Schema == nil {
		return nil
	}
	cfg := &genai.GenerateContentConfig{}
	for _, m := range req.Modalities {
		cfg.ResponseModalities = append(cfg.ResponseModalities, string(m))
	}
	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = toSchema(req.Schema)
	}
	return cfg
}

func toSchema(s *generation.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        schemaType(s.Type),
		Description: s.Description,
		Items:       toSchema(s.Items),
		Required:    s.Required,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toSchema(prop)
		}
	}
	return out
}

func schemaType(t generation.SchemaType) genai.Type {
	switch t {
	case generation.SchemaObject:
		return genai.TypeObject
	case generation.SchemaArray:
		return genai.TypeArray
	case generation.SchemaNumber:
		return genai.TypeNumber
	case generation.SchemaInteger:
		return genai.TypeInteger
	default:
		return genai.TypeString
	}
}

func fromResponse(resp *genai.GenerateContentResponse) *generation.Response {
	out := &generation.Response{}
	if resp == nil {
		return out
	}
	if resp.PromptFeedback != nil {
		if reason := string(resp.PromptFeedback.BlockReason); reason != "" && reason != blockUnspecified {
			out.BlockReason = reason
		}
	}
	out.CandidateCount = len(resp.Candidates)
	if out.CandidateCount == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			img := domain.NewStillImage(part.InlineData.MIMEType, part.InlineData.Data)
			out.Parts = append(out.Parts, generation.Part{Image: &img})
			continue
		}
		if part.Text != "" {
			out.Parts = append(out.Parts, generation.TextPart(part.Text))
		}
	}
	return out
}

// classify maps SDK failures onto GenerationError causes.
func classify(op string, err error) error {
	apiErr, ok := asAPIError(err)
	if !ok {
		return &domain.GenerationError{Op: op, Cause: domain.CauseNetwork, Err: err}
	}

	cause := domain.CauseProviderRejected
	status := strings.ToUpper(apiErr.Status)
	switch {
	case apiErr.Code == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED":
		cause = domain.CauseQuota
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden,
		status == "UNAUTHENTICATED" || status == "PERMISSION_DENIED",
		hasDetailReason(apiErr.Details, "API_KEY_INVALID"):
		cause = domain.CauseCredential
	}
	msg := apiErr.Message
	if msg == "" {
		msg = apiErr.Status
	}
	return &domain.GenerationError{
		Op:      op,
		Cause:   cause,
		Status:  apiErr.Code,
		Message: msg,
		Err:     err,
	}
}

func asAPIError(err error) (genai.APIError, bool) {
	var value genai.APIError
	if errors.As(err, &value) {
		return value, true
	}
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return genai.APIError{}, false
}

func hasDetailReason(details []map[string]any, reason string) bool {
	for _, d := range details {
		if r, ok := d["reason"].(string); ok && strings.EqualFold(r, reason) {
			return true
		}
	}
	return false
}
