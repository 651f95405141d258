package generation

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
)

const invalidJudgeReply = "The judge returned an invalid response. Assuming a refinement is needed. Raw response: "

// judgeReply is either a parsedVerdict or an unparsableReply.
type judgeReply interface{ judgeReply() }

type parsedVerdict struct {
	decision string
	feedback string
}

type unparsableReply struct {
	raw string
	err error
}

func (parsedVerdict) judgeReply()   {}
func (unparsableReply) judgeReply() {}

// filterReply is either parsedIndices or an unparsableReply.
type filterReply interface{ filterReply() }

type parsedIndices struct {
	indices []float64
}

func (parsedIndices) filterReply()   {}
func (unparsableReply) filterReply() {}

func parseJudgeReply(raw string) judgeReply {
	payload, err := parseJSONPayload[struct {
		Decision *string `json:"decision"`
		Feedback *string `json:"feedback"`
	}](raw)
	if err != nil {
		return unparsableReply{raw: raw, err: err}
	}
	if payload.Decision == nil {
		return unparsableReply{raw: raw, err: errors.New("missing decision")}
	}
	v := parsedVerdict{decision: *payload.Decision}
	if payload.Feedback != nil {
		v.feedback = *payload.Feedback
	}
	return v
}

func parseFilterReply(raw string) filterReply {
	payload, err := parseJSONPayload[struct {
		ChangedIndices *[]float64 `json:"changed_indices"`
	}](raw)
	if err != nil {
		return unparsableReply{raw: raw, err: err}
	}
	if payload.ChangedIndices == nil {
		return unparsableReply{raw: raw, err: errors.New("missing changed_indices")}
	}
	return parsedIndices{indices: *payload.ChangedIndices}
}

func verdictFrom(reply judgeReply) Verdict {
	switch r := reply.(type) {
	case parsedVerdict:
		decision := DecisionRefine
		if strings.EqualFold(strings.TrimSpace(r.decision), string(DecisionAccept)) {
			decision = DecisionAccept
		}
		return Verdict{Decision: decision, Feedback: r.feedback}
	case unparsableReply:
		return Verdict{Decision: DecisionRefine, Feedback: invalidJudgeReply + r.raw}
	}
	return Verdict{Decision: DecisionRefine, Feedback: invalidJudgeReply}
}

// indexSet keeps integral indices within [0, n).
func indexSet(indices []float64, n int) map[int]struct{} {
	set := make(map[int]struct{}, len(indices))
	for _, f := range indices {
		if f != math.Trunc(f) || f < 0 || f >= float64(n) {
			continue
		}
		set[int(f)] = struct{}{}
	}
	return set
}

func parseJSONPayload[T any](raw string) (T, error) {
	var zero T
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return zero, errors.New("empty payload")
	}
	var decoded T
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return zero, err
	}
	return decoded, nil
}

func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
