package grading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/pkg/ai"
)

var annotateQuestion = BoundingBox{X: 0, Y: 410, Width: 400, Height: 190}

func annotatePage() Page {
	return Page{Index: 0, Path: "submissions/page1.png", MIMEType: "image/png", Width: 400, Height: 600, Data: []byte{0x89, 'P', 'N', 'G'}}
}

func visionReply(content string) *scriptedVision {
	return &scriptedVision{reply: func(context.Context, ai.VisionRequest) (string, error) {
		return content, nil
	}}
}

func TestAnnotateAcceptsPlausibleLocation(t *testing.T) {
	vision := visionReply(`{"bbox": {"x": 50, "y": 430, "width": 80, "height": 30}, "type": "LINE", "confidence": 0.9, "reasoning": "the subtraction result"}`)
	annotator := NewLocationAnnotator(vision, time.Second, testLogger())

	loc := annotator.Annotate(context.Background(), annotatePage(), annotateQuestion, ErrorItem{Type: "calculation", Description: "9-4 is 5"})
	require.False(t, loc.Fallback)
	require.Equal(t, BoundingBox{X: 50, Y: 430, Width: 80, Height: 30}, loc.BBox)
	require.Equal(t, LocatorLine, loc.Kind)
	require.InDelta(t, 0.9, loc.Confidence, 1e-9)
	require.Equal(t, "the subtraction result", loc.Reasoning)
}

func TestAnnotateDegradesAndClips(t *testing.T) {
	far := NewLocationAnnotator(visionReply(`{"bbox": {"x": 50, "y": 20, "width": 80, "height": 30}, "confidence": 0.9}`), time.Second, testLogger())
	loc := far.Annotate(context.Background(), annotatePage(), annotateQuestion, ErrorItem{Type: "calculation"})
	require.False(t, loc.Fallback)
	require.InDelta(t, 0.63, loc.Confidence, 1e-9)
	require.Equal(t, LocatorArea, loc.Kind)

	edge := NewLocationAnnotator(visionReply(`{"bbox": {"x": 350, "y": 430, "width": 100, "height": 30}, "type": "area", "confidence": 1}`), time.Second, testLogger())
	loc = edge.Annotate(context.Background(), annotatePage(), annotateQuestion, ErrorItem{Type: "calculation"})
	require.False(t, loc.Fallback)
	require.Equal(t, BoundingBox{X: 350, Y: 430, Width: 50, Height: 30}, loc.BBox)
	require.InDelta(t, 0.5, loc.Confidence, 1e-9)
}

func TestAnnotateFallbacks(t *testing.T) {
	expected := FallbackLocation(annotateQuestion, 400, 600)
	require.Equal(t, BoundingBox{X: 150, Y: 480, Width: 100, Height: 50}, expected.BBox)

	cases := []struct {
		name  string
		model VisionModel
	}{
		{"no model", nil},
		{"low confidence", visionReply(`{"bbox": {"x": 50, "y": 20, "width": 80, "height": 30}, "confidence": 0.6}`)},
		{"outside image", visionReply(`{"bbox": {"x": 500, "y": 430, "width": 50, "height": 30}, "confidence": 1}`)},
		{"unparsable", visionReply("I could not find the mistake.")},
		{"missing bbox", visionReply(`{"confidence": 0.9}`)},
		{"model error", &scriptedVision{reply: func(context.Context, ai.VisionRequest) (string, error) {
			return "", errors.New("upstream 500")
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			annotator := NewLocationAnnotator(tc.model, time.Second, testLogger())
			loc := annotator.Annotate(context.Background(), annotatePage(), annotateQuestion, ErrorItem{Type: "calculation"})
			require.Equal(t, expected, loc)
		})
	}
}

func TestAnnotateTimeoutFallsBack(t *testing.T) {
	vision := &scriptedVision{reply: func(ctx context.Context, _ ai.VisionRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	annotator := NewLocationAnnotator(vision, 20*time.Millisecond, testLogger())

	loc := annotator.Annotate(context.Background(), annotatePage(), annotateQuestion, ErrorItem{Type: "calculation"})
	require.True(t, loc.Fallback)
}

func TestAnnotateImageSource(t *testing.T) {
	var got ai.VisionRequest
	vision := &scriptedVision{reply: func(_ context.Context, req ai.VisionRequest) (string, error) {
		got = req
		return `{"bbox": {"x": 50, "y": 430, "width": 80, "height": 30}, "confidence": 0.9}`, nil
	}}
	annotator := NewLocationAnnotator(vision, time.Second, testLogger())

	local := annotatePage()
	local.Data = nil
	loc := annotator.Annotate(context.Background(), local, annotateQuestion, ErrorItem{Type: "calculation"})
	require.True(t, loc.Fallback)
	require.Equal(t, 0, vision.calls)

	remote := annotatePage()
	remote.Data = nil
	remote.Path = "https://cdn.test/page1.png"
	loc = annotator.Annotate(context.Background(), remote, annotateQuestion, ErrorItem{Type: "calculation"})
	require.False(t, loc.Fallback)
	require.Equal(t, "https://cdn.test/page1.png", got.ImageURL)
	require.Empty(t, got.ImageData)
}

func TestBuildLocationPrompt(t *testing.T) {
	prompt := BuildLocationPrompt(400, 600, annotateQuestion, ErrorItem{Description: "wrong sign", Location: "line 2"})
	require.Contains(t, prompt, "400 pixels wide and 600 pixels high")
	require.Contains(t, prompt, "x=0, y=410, width=400, height=190")
	require.Contains(t, prompt, "- type: unknown")
	require.Contains(t, prompt, "- related text: line 2")
}
