package generation

import (
	"context"
	"strings"

	"github.com/KPaul404/Virtual-try-on/internal/domain"
)

// Modality is a response modality requested from the provider.
type Modality string

const (
	ModalityText  Modality = "TEXT"
	ModalityImage Modality = "IMAGE"
)

// SchemaType enumerates JSON schema value types.
type SchemaType string

const (
	SchemaObject  SchemaType = "object"
	SchemaArray   SchemaType = "array"
	SchemaString  SchemaType = "string"
	SchemaNumber  SchemaType = "number"
	SchemaInteger SchemaType = "integer"
)

// Schema describes the structured reply a provider must produce.
type Schema struct {
	Type        SchemaType
	Description string
	Properties  map[string]*Schema
	Items       *Schema
	Required    []string
}

// Part is one element of a request or response: either text or an inline
// image.
type Part struct {
	Text  string
	Image *domain.StillImage
}

func TextPart(text string) Part { return Part{Text: text} }

func ImagePart(img domain.StillImage) Part { return Part{Image: &img} }

// Request is a single content generation exchange.
type Request struct {
	Op         string
	Model      string
	Credential string
	Parts      []Part
	Modalities []Modality
	Schema     *Schema
}

// Response holds the parts of the first candidate.
type Response struct {
	Parts          []Part
	CandidateCount int
	BlockReason    string
}

// Text concatenates the text parts of the response.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Parts {
		if p.Image == nil {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// Provider performs one request/response exchange with a remote model.
type Provider interface {
	GenerateContent(ctx context.Context, req Request) (*Response, error)
}

// Decision is the judge's verdict on a generated attempt.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionRefine Decision = "refine"
)

// Verdict is the outcome of JudgeImage.
type Verdict struct {
	Decision Decision
	Feedback string
}

func (v Verdict) Accepted() bool { return v.Decision == DecisionAccept }

// FirstImage returns the first inline image among parts.
func FirstImage(parts []Part) (domain.StillImage, bool) {
	for _, p := range parts {
		if p.Image != nil && !p.Image.IsZero() {
			return *p.Image, true
		}
	}
	return domain.StillImage{}, false
}

// FirstText returns the first non-blank text part, trimmed.
func FirstText(parts []Part) string {
	for _, p := range parts {
		if p.Image == nil {
			if t := strings.TrimSpace(p.Text); t != "" {
				return t
			}
		}
	}
	return ""
}
