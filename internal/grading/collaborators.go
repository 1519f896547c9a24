package grading

import (
	"context"

	"github.com/noah-isme/gema-grader/pkg/ai"
)

// SubmissionFile is one stored file of a submission.
type SubmissionFile struct {
	ID   string
	Name string
	Path string
	Size int64
}

// FileStore lists and reads submission files.
type FileStore interface {
	SubmissionFiles(ctx context.Context, submissionID string) ([]SubmissionFile, error)
	Read(ctx context.Context, path string) ([]byte, error)
}

// TextExtractor pulls plain text out of documents.
type TextExtractor interface {
	ExtractDocumentText(ctx context.Context, path string) (string, error)
	ExtractPDFText(ctx context.Context, path string) (string, error)
}

// OCRToken is one recognised line of text with its box on the page.
type OCRToken struct {
	Text       string
	Box        BoundingBox
	Confidence float64
}

// OCREngine recognises text lines on a page image.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte) ([]OCRToken, error)
}

// RegionStore persists a cropped question region and returns its reference.
type RegionStore interface {
	SaveRegion(ctx context.Context, page Page, segment QuestionSegment) (string, error)
}

// TextModel is the text inference client used by the grader.
type TextModel interface {
	Complete(ctx context.Context, req ai.TextRequest) (string, error)
}

// VisionModel is the vision inference client used by the annotator.
type VisionModel interface {
	CompleteWithImage(ctx context.Context, req ai.VisionRequest) (string, error)
}

// ResultStore persists the final record of a run.
type ResultStore interface {
	SaveResult(ctx context.Context, submissionID string, record ResultRecord) error
}

// ProgressEvent is emitted as a run moves through its stages.
type ProgressEvent struct {
	SubmissionID string `json:"submission_id"`
	Stage        string `json:"stage"`
	Percent      int    `json:"percent"`
	Message      string `json:"message"`
}

// ProgressReporter receives progress events. Implementations must not block.
type ProgressReporter interface {
	Report(ctx context.Context, event ProgressEvent)
}

type nopProgress struct{}

func (nopProgress) Report(context.Context, ProgressEvent) {}
