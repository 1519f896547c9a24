package grading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

const DefaultAnnotatorTimeout = 30 * time.Second

const annotatorSystemMessage = "You locate mistakes on photographed homework pages. " +
	"Answer with one JSON object using absolute pixel coordinates of the image."

// LocationAnnotator pins grading errors to regions of the page image.
type LocationAnnotator struct {
	model   VisionModel
	timeout time.Duration
	logger  zerolog.Logger
}

// NewLocationAnnotator builds an annotator. A nil model makes every error use
// the fallback location.
func NewLocationAnnotator(model VisionModel, timeout time.Duration, logger zerolog.Logger) *LocationAnnotator {
	if timeout <= 0 {
		timeout = DefaultAnnotatorTimeout
	}
	return &LocationAnnotator{
		model:   model,
		timeout: timeout,
		logger:  logger.With().Str("component", "location_annotator").Logger(),
	}
}

// Annotate never fails: a missing, unparsable or untrustworthy localization is
// replaced by FallbackLocation(question, page.Width, page.Height).
func (a *LocationAnnotator) Annotate(ctx context.Context, page Page, question BoundingBox, item ErrorItem) ErrorLocation {
	loc, err := a.locate(ctx, page, question, item)
	if err == nil {
		return loc
	}

	reason := "model_error"
	var fallback *GeometryFallback
	switch {
	case errors.As(err, &fallback):
		reason = fallback.Reason
	case IsParse(err):
		reason = "parse_error"
	}
	observability.GradingLocationFallbacks().WithLabelValues(reason).Inc()
	a.logger.Debug().Err(err).Int("page", page.Index).Str("error_type", item.Type).Msg("using fallback error location")
	return FallbackLocation(question, page.Width, page.Height)
}

func (a *LocationAnnotator) locate(ctx context.Context, page Page, question BoundingBox, item ErrorItem) (ErrorLocation, error) {
	if a.model == nil {
		return ErrorLocation{}, &GeometryFallback{Reason: "no_model"}
	}

	req := ai.VisionRequest{
		System:    annotatorSystemMessage,
		Prompt:    BuildLocationPrompt(page.Width, page.Height, question, item),
		ImageData: page.Data,
		MIMEType:  page.MIMEType,
	}
	if len(page.Data) == 0 {
		if !strings.HasPrefix(page.Path, "http://") && !strings.HasPrefix(page.Path, "https://") {
			return ErrorLocation{}, &GeometryFallback{Reason: "no_image"}
		}
		req.ImageURL = page.Path
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	content, err := a.model.CompleteWithImage(callCtx, req)
	if err != nil {
		reason := "model_error"
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		return ErrorLocation{}, &GeometryFallback{Reason: reason, Cause: &ExternalServiceError{Service: "inference", Op: "locate", Err: err}}
	}

	obj, _, err := ParseJSONObject(content)
	if err != nil {
		return ErrorLocation{}, err
	}
	loc, err := decodeLocation(obj)
	if err != nil {
		return ErrorLocation{}, &GeometryFallback{Reason: "invalid_location", Cause: err}
	}

	check := CheckGeometry(loc.BBox, page.Width, page.Height, question)
	loc.Confidence = clamp(loc.Confidence*check.Multiplier, 0, 1)
	if loc.Confidence < locationThreshold {
		return ErrorLocation{}, &GeometryFallback{Reason: "low_confidence", Confidence: loc.Confidence}
	}
	clipped, ok := clipBox(loc.BBox, page.Width, page.Height)
	if !ok {
		return ErrorLocation{}, &GeometryFallback{Reason: "outside_image", Confidence: loc.Confidence}
	}
	loc.BBox = clipped
	if len(check.Rules) > 0 {
		a.logger.Debug().Strs("rules", check.Rules).Float64("confidence", loc.Confidence).Msg("error location degraded")
	}
	return loc, nil
}

func decodeLocation(obj map[string]any) (ErrorLocation, error) {
	raw, ok := obj["bbox"].(map[string]any)
	if !ok {
		return ErrorLocation{}, fmt.Errorf("bbox missing")
	}
	coords := make([]int, 0, 4)
	for _, key := range []string{"x", "y", "width", "height"} {
		v, err := toFloat(raw[key])
		if err != nil {
			return ErrorLocation{}, fmt.Errorf("bbox.%s: %w", key, err)
		}
		coords = append(coords, int(math.Round(v)))
	}
	confidence, err := toFloat(obj["confidence"])
	if err != nil {
		confidence = 0
	}

	kind := LocatorKind(strings.ToLower(toString(obj["type"])))
	if kind != LocatorPoint && kind != LocatorLine && kind != LocatorArea {
		kind = LocatorArea
	}

	return ErrorLocation{
		BBox:       BoundingBox{X: coords[0], Y: coords[1], Width: coords[2], Height: coords[3]},
		Kind:       kind,
		Confidence: confidence,
		Reasoning:  toString(obj["reasoning"]),
	}, nil
}

// BuildLocationPrompt renders the localization request for one error.
func BuildLocationPrompt(width, height int, question BoundingBox, item ErrorItem) string {
	errorType := item.Type
	if strings.TrimSpace(errorType) == "" {
		errorType = "unknown"
	}
	related := item.RelatedText
	if strings.TrimSpace(related) == "" {
		related = item.Location
	}
	if strings.TrimSpace(related) == "" {
		related = "none"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The image is %d pixels wide and %d pixels high.\n", width, height)
	fmt.Fprintf(&b, "The question occupies x=%d, y=%d, width=%d, height=%d.\n\n", question.X, question.Y, question.Width, question.Height)
	b.WriteString("Find where this mistake appears inside the question region:\n")
	fmt.Fprintf(&b, "- type: %s\n- description: %s\n- related text: %s\n\n", errorType, item.Description, related)
	b.WriteString("Return JSON:\n")
	b.WriteString(`{"bbox": {"x": <int>, "y": <int>, "width": <int>, "height": <int>}, "type": "point|line|area", "confidence": <0-1>, "reasoning": "..."}`)
	return b.String()
}
