// Package generation wraps the remote multimodal model behind four
// single-exchange operations: color analysis, styling, judging and the
// fallback filter.
package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/KPaul404/Virtual-try-on/internal/credentials"
	"github.com/KPaul404/Virtual-try-on/internal/domain"
)

const (
	DefaultAnalysisModel = "gemini-2.5-flash"
	DefaultImageModel    = "gemini-2.5-flash-image-preview"
)

const (
	OpAnalyze = "analyze_color"
	OpStyle   = "style_image"
	OpJudge   = "judge_image"
	OpFilter  = "filter_changed_images"
)

type Options struct {
	Provider      Provider
	Credentials   credentials.Source
	AnalysisModel string
	ImageModel    string
	Logger        zerolog.Logger
}

type Client struct {
	provider      Provider
	creds         credentials.Source
	analysisModel string
	imageModel    string
	log           zerolog.Logger
}

func NewClient(opts Options) *Client {
	analysis := strings.TrimSpace(opts.AnalysisModel)
	if analysis == "" {
		analysis = DefaultAnalysisModel
	}
	image := strings.TrimSpace(opts.ImageModel)
	if image == "" {
		image = DefaultImageModel
	}
	return &Client{
		provider:      opts.Provider,
		creds:         opts.Credentials,
		analysisModel: analysis,
		imageModel:    image,
		log:           opts.Logger,
	}
}

// AnalyzeColor asks the analysis model for a detailed description of the
// item's colors, texture and patterns. The reply text is returned verbatim.
func (c *Client) AnalyzeColor(ctx context.Context, item domain.StillImage, credential string) (string, error) {
	resp, err := c.exchange(ctx, Request{
		Op:    OpAnalyze,
		Model: c.analysisModel,
		Parts: []Part{ImagePart(item), TextPart(analyzePrompt)},
	}, credential)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// StyleImage renders the model wearing the item from a collage. A non-empty
// feedback selects the retry prompt, which expects the three-panel collage.
// The caller decides what to do when no image part is present.
func (c *Client) StyleImage(ctx context.Context, collage domain.StillImage, description, feedback, credential string) ([]Part, error) {
	resp, err := c.exchange(ctx, Request{
		Op:         OpStyle,
		Model:      c.imageModel,
		Parts:      []Part{ImagePart(collage), TextPart(buildStylePrompt(description, feedback))},
		Modalities: []Modality{ModalityImage, ModalityText},
	}, credential)
	if err != nil {
		return nil, err
	}
	if resp.BlockReason != "" {
		return nil, &domain.GenerationError{
			Op:      OpStyle,
			Cause:   domain.CauseBlocked,
			Message: fmt.Sprintf("Request was blocked. Reason: %s", resp.BlockReason),
		}
	}
	if resp.CandidateCount == 0 || len(resp.Parts) == 0 {
		return nil, &domain.GenerationError{
			Op:      OpStyle,
			Cause:   domain.CauseEmptyResponse,
			Message: "The AI model returned an empty response. This might be due to a safety filter or an internal error.",
		}
	}
	return resp.Parts, nil
}

// JudgeImage compares the cropped generation against the original item. An
// unparsable reply never fails the call; it becomes a refine verdict that
// carries the raw reply.
func (c *Client) JudgeImage(ctx context.Context, item, generated domain.StillImage, description, credential string) (Verdict, error) {
	resp, err := c.exchange(ctx, Request{
		Op:    OpJudge,
		Model: c.analysisModel,
		Parts: []Part{
			TextPart("Original Item:"),
			ImagePart(item),
			TextPart("Generated Image:"),
			ImagePart(generated),
			TextPart(buildJudgePrompt(description)),
		},
		Modalities: []Modality{ModalityText},
		Schema:     judgeSchema,
	}, credential)
	if err != nil {
		return Verdict{}, err
	}
	raw := resp.Text()
	reply := parseJudgeReply(raw)
	if bad, ok := reply.(unparsableReply); ok {
		c.log.Warn().Err(bad.err).Str("op", OpJudge).Msg("judge reply is not valid json")
	}
	return verdictFrom(reply), nil
}

// FilterChangedImages returns the candidates whose clothing differs from the
// original model photo, in their original order. Indices outside the
// candidate list are dropped and an unparsable reply yields no candidates.
func (c *Client) FilterChangedImages(ctx context.Context, model domain.StillImage, candidates []domain.StillImage, credential string) ([]domain.StillImage, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	parts := make([]Part, 0, 3+2*len(candidates)+1)
	parts = append(parts, TextPart("Original Image:"), ImagePart(model), TextPart("\n\nCandidate Images:"))
	for i, candidate := range candidates {
		parts = append(parts, TextPart(fmt.Sprintf("\nCandidate %d:", i)), ImagePart(candidate))
	}
	parts = append(parts, TextPart(filterPrompt))

	resp, err := c.exchange(ctx, Request{
		Op:         OpFilter,
		Model:      c.analysisModel,
		Parts:      parts,
		Modalities: []Modality{ModalityText},
		Schema:     filterSchema,
	}, credential)
	if err != nil {
		return nil, err
	}

	switch reply := parseFilterReply(resp.Text()).(type) {
	case parsedIndices:
		keep := indexSet(reply.indices, len(candidates))
		out := make([]domain.StillImage, 0, len(keep))
		for i, candidate := range candidates {
			if _, ok := keep[i]; ok {
				out = append(out, candidate)
			}
		}
		return out, nil
	case unparsableReply:
		c.log.Warn().Err(reply.err).Str("op", OpFilter).Msg("filter reply is not valid json")
	}
	return nil, nil
}

func (c *Client) exchange(ctx context.Context, req Request, credential string) (*Response, error) {
	key, err := c.creds.Resolve(credential)
	if err != nil {
		return nil, err
	}
	if c.provider == nil {
		return nil, &domain.ConfigurationError{Message: "generation provider is not configured"}
	}
	req.Credential = key

	c.log.Debug().Str("op", req.Op).Str("model", req.Model).Int("parts", len(req.Parts)).Msg("generation request")
	resp, err := c.provider.GenerateContent(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &Response{}
	}
	return resp, nil
}
