package grading

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseStep names the step of the parse chain that produced a result.
type ParseStep int

const (
	StepVerbatim ParseStep = iota + 1
	StepUnfenced
	StepExtracted
)

func (s ParseStep) String() string {
	switch s {
	case StepVerbatim:
		return "verbatim"
	case StepUnfenced:
		return "unfenced"
	case StepExtracted:
		return "extracted"
	default:
		return "none"
	}
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// ParseJSONObject decodes untrusted model output into a JSON object. It tries
// the raw text, then the text without code fences, then the outermost {...}
// span, and returns a ParseError when none of them decode.
func ParseJSONObject(content string) (map[string]any, ParseStep, error) {
	if obj, err := decodeObject(content); err == nil {
		return obj, StepVerbatim, nil
	}

	unfenced := stripCodeFences(content)
	if obj, err := decodeObject(unfenced); err == nil {
		return obj, StepUnfenced, nil
	}

	span := jsonObjectPattern.FindString(content)
	if span == "" {
		return nil, 0, &ParseError{Snippet: snippet(content)}
	}
	obj, err := decodeObject(span)
	if err != nil {
		return nil, 0, &ParseError{Snippet: snippet(content), Err: err}
	}
	return obj, StepExtracted, nil
}

func decodeObject(text string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("not a json object")
	}
	return obj, nil
}

func stripCodeFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```JSON", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// GradePayload is the typed form of the grader's JSON object.
type GradePayload struct {
	Score           float64
	Confidence      float64
	Errors          []ErrorItem
	OverallComment  string
	Strengths       []string
	Weaknesses      []string
	Suggestions     []string
	KnowledgePoints []KnowledgePoint
}

// DefaultOverallComment fills in a missing overall_comment.
const DefaultOverallComment = "批改完成"

var requiredGradeFields = []string{"score", "confidence", "errors"}

// DecodeGradePayload validates and coerces a parsed grader object.
func DecodeGradePayload(obj map[string]any) (GradePayload, error) {
	for _, field := range requiredGradeFields {
		if _, ok := obj[field]; !ok {
			return GradePayload{}, &ValidationError{Field: field, Reason: "missing from model response"}
		}
	}

	score, err := toFloat(obj["score"])
	if err != nil {
		return GradePayload{}, &ValidationError{Field: "score", Reason: err.Error()}
	}
	confidence, err := toFloat(obj["confidence"])
	if err != nil {
		return GradePayload{}, &ValidationError{Field: "confidence", Reason: err.Error()}
	}

	payload := GradePayload{
		Score:           score,
		Confidence:      clamp(confidence, 0, 1),
		Errors:          decodeErrorItems(obj["errors"]),
		OverallComment:  DefaultOverallComment,
		Strengths:       toStrings(obj["strengths"]),
		Weaknesses:      toStrings(obj["weaknesses"]),
		Suggestions:     toStrings(obj["suggestions"]),
		KnowledgePoints: decodeKnowledgePoints(obj["knowledge_points"]),
	}
	if comment, ok := obj["overall_comment"].(string); ok && strings.TrimSpace(comment) != "" {
		payload.OverallComment = comment
	}
	return payload, nil
}

func decodeErrorItems(v any) []ErrorItem {
	list, ok := v.([]any)
	if !ok {
		return []ErrorItem{}
	}
	items := make([]ErrorItem, 0, len(list))
	for _, raw := range list {
		m, ok := raw.(map[string]any)
		if !ok {
			if text, ok := raw.(string); ok && strings.TrimSpace(text) != "" {
				items = append(items, ErrorItem{Type: "general", Description: text, Severity: "medium"})
			}
			continue
		}
		deduction, _ := toFloat(m["deduction"])
		items = append(items, ErrorItem{
			Type:          toString(m["type"]),
			Location:      toString(m["location"]),
			Description:   toString(m["description"]),
			CorrectAnswer: toString(m["correct_answer"]),
			Severity:      normalizeSeverity(toString(m["severity"])),
			Deduction:     max(deduction, 0),
			RelatedText:   toString(m["related_text"]),
		})
	}
	return items
}

func decodeKnowledgePoints(v any) []KnowledgePoint {
	list, ok := v.([]any)
	if !ok {
		return []KnowledgePoint{}
	}
	points := make([]KnowledgePoint, 0, len(list))
	for _, raw := range list {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name := strings.TrimSpace(toString(m["name"]))
		if name == "" {
			continue
		}
		mastery, _ := toFloat(m["mastery_level"])
		points = append(points, KnowledgePoint{
			Name:         name,
			MasteryLevel: int(clamp(mastery, 0, 100)),
			Suggestion:   toString(m["suggestion"]),
		})
	}
	return points
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return "high"
	case "low":
		return "low"
	default:
		return "medium"
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case json.Number:
		return t.Float64()
	case int:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		return f, nil
	case nil:
		return 0, errors.New("null value")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func toStrings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s := strings.TrimSpace(toString(item)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
