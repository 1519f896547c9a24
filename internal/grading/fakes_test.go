package grading

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/pkg/ai"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type memFileStore struct {
	files   []SubmissionFile
	data    map[string][]byte
	listErr error
}

func (m *memFileStore) SubmissionFiles(ctx context.Context, submissionID string) ([]SubmissionFile, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.files, nil
}

func (m *memFileStore) Read(ctx context.Context, path string) ([]byte, error) {
	data, ok := m.data[path]
	if !ok {
		return nil, errors.New("file not found: " + path)
	}
	return data, nil
}

func (m *memFileStore) add(name string, data []byte) {
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	path := "submissions/" + name
	m.files = append(m.files, SubmissionFile{ID: name, Name: name, Path: path, Size: int64(len(data))})
	m.data[path] = data
}

type stubExtractor struct {
	pdfText string
	docText string
	err     error
}

func (s *stubExtractor) ExtractDocumentText(ctx context.Context, path string) (string, error) {
	return s.docText, s.err
}

func (s *stubExtractor) ExtractPDFText(ctx context.Context, path string) (string, error) {
	return s.pdfText, s.err
}

type scriptedModel struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	reply   func(ctx context.Context, req ai.TextRequest) (string, error)
}

func (m *scriptedModel) Complete(ctx context.Context, req ai.TextRequest) (string, error) {
	m.mu.Lock()
	m.calls++
	m.prompts = append(m.prompts, req.Prompt)
	m.mu.Unlock()
	return m.reply(ctx, req)
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func fixedModel(content string) *scriptedModel {
	return &scriptedModel{reply: func(context.Context, ai.TextRequest) (string, error) {
		return content, nil
	}}
}

type scriptedVision struct {
	mu    sync.Mutex
	calls int
	reply func(ctx context.Context, req ai.VisionRequest) (string, error)
}

func (v *scriptedVision) CompleteWithImage(ctx context.Context, req ai.VisionRequest) (string, error) {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()
	return v.reply(ctx, req)
}

type stubOCR struct {
	tokens []OCRToken
	err    error
}

func (s *stubOCR) Recognize(ctx context.Context, image []byte) ([]OCRToken, error) {
	return s.tokens, s.err
}

type memResultStore struct {
	mu    sync.Mutex
	saved map[string]ResultRecord
	err   error
}

func (m *memResultStore) SaveResult(ctx context.Context, submissionID string, record ResultRecord) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string]ResultRecord{}
	}
	m.saved[submissionID] = record
	return nil
}

type recordingProgress struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *recordingProgress) Report(ctx context.Context, event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingProgress) last() ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return ProgressEvent{}
	}
	return r.events[len(r.events)-1]
}

func (r *recordingProgress) percents() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Percent)
	}
	return out
}

type recordingRegions struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (r *recordingRegions) SaveRegion(ctx context.Context, page Page, segment QuestionSegment) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ref := "https://cdn.test/regions/" + strings.ReplaceAll(segment.Label, ".", "")
	r.saved = append(r.saved, ref)
	return ref, nil
}

func pngPage(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
