package domain

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

const dataURIPrefix = "data:"

// StillImage is an encoded raster image. It travels as a data URI
// (data:<mime>;base64,<payload>) between the compositor, the provider and the
// display surface.
type StillImage struct {
	MIMEType string
	Data     []byte
}

// NewStillImage copies data into a new StillImage.
func NewStillImage(mimeType string, data []byte) StillImage {
	return StillImage{
		MIMEType: strings.ToLower(strings.TrimSpace(mimeType)),
		Data:     append([]byte(nil), data...),
	}
}

// ParseDataURI decodes a base64 data URI into a StillImage.
func ParseDataURI(raw string) (StillImage, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(strings.ToLower(raw), dataURIPrefix) {
		return StillImage{}, invalidImage("missing data: prefix")
	}
	header, payload, ok := strings.Cut(raw[len(dataURIPrefix):], ",")
	if !ok || payload == "" {
		return StillImage{}, invalidImage("missing payload")
	}
	mimeType, params, _ := strings.Cut(header, ";")
	if mimeType == "" {
		return StillImage{}, invalidImage("missing media type")
	}
	if !strings.EqualFold(params, "base64") && !strings.HasSuffix(strings.ToLower(params), ";base64") {
		return StillImage{}, invalidImage("payload must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return StillImage{}, &ValidationError{Field: "image", Message: "invalid base64 payload", Err: ErrInvalidImage}
	}
	return StillImage{MIMEType: strings.ToLower(mimeType), Data: data}, nil
}

// DataURI encodes the image as a data URI.
func (s StillImage) DataURI() string {
	if s.IsZero() {
		return ""
	}
	return dataURIPrefix + s.MIMEType + ";base64," + s.Base64()
}

// Base64 returns the bare base64 payload.
func (s StillImage) Base64() string {
	return base64.StdEncoding.EncodeToString(s.Data)
}

// Extension returns the conventional file extension for the media type,
// including the leading dot.
func (s StillImage) Extension() string {
	switch s.MIMEType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	return ".bin"
}

func (s StillImage) IsZero() bool {
	return len(s.Data) == 0
}

// Equal reports whether both images carry the same media type and bytes.
func (s StillImage) Equal(other StillImage) bool {
	return s.MIMEType == other.MIMEType && string(s.Data) == string(other.Data)
}

func (s StillImage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.DataURI())
}

func (s *StillImage) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == "" {
		*s = StillImage{}
		return nil
	}
	img, err := ParseDataURI(raw)
	if err != nil {
		return err
	}
	*s = img
	return nil
}

func invalidImage(msg string) error {
	return &ValidationError{Field: "image", Message: msg, Err: ErrInvalidImage}
}
