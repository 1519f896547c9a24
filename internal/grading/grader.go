package grading

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/pkg/ai"
)

const (
	DefaultGraderTimeout = 60 * time.Second

	defaultCriteria        = "Grade the student's answer against the reference answer and identify every mistake."
	missingReferenceAnswer = "(not provided; judge correctness using subject knowledge)"
)

var strictnessDescriptions = map[Strictness]string{
	StrictnessLoose:    "loose - tolerate small slips and reward the right approach",
	StrictnessStandard: "standard - grade by the usual classroom standard",
	StrictnessStrict:   "strict - every detail, unit and step must be correct",
}

const graderSystemMessage = "You are an experienced teacher grading student homework. " +
	"Be fair and specific, point out each mistake with the correct answer, and encourage the student. " +
	"Respond with a single JSON object and nothing else."

// UnifiedGrader scores one question (or a whole submission) with one model call.
type UnifiedGrader struct {
	model     TextModel
	timeout   time.Duration
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewUnifiedGrader builds a grader.
func NewUnifiedGrader(model TextModel, timeout time.Duration, logger zerolog.Logger) *UnifiedGrader {
	if timeout <= 0 {
		timeout = DefaultGraderTimeout
	}
	return &UnifiedGrader{
		model:     model,
		timeout:   timeout,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "unified_grader").Logger(),
	}
}

// Grade fills the score, errors and feedback of q. It issues exactly one
// model call and returns a ParseError, ValidationError or
// ExternalServiceError when the question cannot be scored.
func (g *UnifiedGrader) Grade(ctx context.Context, q *State) error {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	content, err := g.model.Complete(callCtx, ai.TextRequest{
		System: graderSystemMessage,
		Prompt: BuildGradingPrompt(q),
		Mode:   string(q.Mode),
	})
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", g.timeout, err)
		}
		return &ExternalServiceError{Service: "inference", Op: "grade", Err: err}
	}

	obj, step, err := ParseJSONObject(content)
	if err != nil {
		return err
	}
	payload, err := DecodeGradePayload(obj)
	if err != nil {
		return err
	}
	if step != StepVerbatim {
		g.logger.Debug().Str("submission_id", q.SubmissionID).Stringer("step", step).Msg("grader response recovered by fallback parse")
	}

	maxScore := q.Config.MaxScore
	score := payload.Score
	if score < 0 || (maxScore > 0 && score > maxScore) {
		q.Warnings = append(q.Warnings, fmt.Sprintf("model score %.2f outside [0, %.2f], clamped", score, maxScore))
		score = clamp(score, 0, maxScore)
	}

	q.Score = score
	q.Confidence = payload.Confidence
	q.Errors = g.sanitizeErrors(payload.Errors)
	q.Feedback = g.clean(payload.OverallComment)
	q.Strengths = g.sanitizeAll(payload.Strengths)
	q.Weaknesses = g.sanitizeAll(payload.Weaknesses)
	q.Suggestions = g.sanitizeAll(payload.Suggestions)
	q.KnowledgePoints = payload.KnowledgePoints
	return nil
}

func (g *UnifiedGrader) sanitizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s := g.clean(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (g *UnifiedGrader) sanitizeErrors(items []ErrorItem) []ErrorItem {
	for i := range items {
		items[i].Description = g.clean(items[i].Description)
		items[i].CorrectAnswer = g.clean(items[i].CorrectAnswer)
	}
	return items
}

// clean drops markup but keeps literal comparison signs and ampersands.
func (g *UnifiedGrader) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(g.sanitizer.Sanitize(s)))
}

// BuildGradingPrompt renders the grading instructions for q.
func BuildGradingPrompt(q *State) string {
	criteria := strings.TrimSpace(q.Config.Standard.Criteria)
	if criteria == "" {
		criteria = defaultCriteria
	}
	reference := strings.TrimSpace(q.Config.Standard.ReferenceAnswer)
	if reference == "" {
		reference = missingReferenceAnswer
	}
	strictness, ok := strictnessDescriptions[q.Config.Strictness]
	if !ok {
		strictness = strictnessDescriptions[StrictnessStandard]
	}

	var b strings.Builder
	b.WriteString("## Task\nGrade the student's answer below.\n\n")
	b.WriteString("## Grading standard\n")
	b.WriteString(criteria)
	b.WriteString("\n\n## Reference answer\n")
	b.WriteString(reference)
	b.WriteString("\n\n## Student answer\n")
	b.WriteString(q.ExtractedText)
	b.WriteString("\n\n## Requirements\n")
	fmt.Fprintf(&b, "- Maximum score: %g\n", q.Config.MaxScore)
	fmt.Fprintf(&b, "- Strictness: %s\n", strictness)
	if q.Config.Subject != "" {
		fmt.Fprintf(&b, "- Subject: %s\n", q.Config.Subject)
	}
	b.WriteString("- List every error with its location, the correct answer and how many points it costs.\n")
	b.WriteString("- Write feedback the student can act on.\n")
	b.WriteString("\n## Output format\nReturn one JSON object:\n")
	b.WriteString(`{
  "score": <number between 0 and the maximum score>,
  "confidence": <number between 0 and 1>,
  "errors": [
    {"type": "...", "location": "...", "description": "...", "correct_answer": "...", "severity": "high|medium|low", "deduction": <number>}
  ],
  "overall_comment": "...",
  "strengths": ["..."],
  "weaknesses": ["..."],
  "suggestions": ["..."],
  "knowledge_points": [
    {"name": "...", "mastery_level": <0-100>, "suggestion": "..."}
  ]
}`)
	return b.String()
}
