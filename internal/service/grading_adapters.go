package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/pkg/blob"
	"github.com/noah-isme/gema-grader/pkg/extract"
)

// SubmissionFileStore serves submission files from the database listing and blob storage.
type SubmissionFileStore struct {
	files repository.SubmissionFileRepository
	blobs blob.Reader
}

// NewSubmissionFileStore builds the file store used by the preprocessor.
func NewSubmissionFileStore(files repository.SubmissionFileRepository, blobs blob.Reader) *SubmissionFileStore {
	return &SubmissionFileStore{files: files, blobs: blobs}
}

func (s *SubmissionFileStore) SubmissionFiles(ctx context.Context, submissionID string) ([]grading.SubmissionFile, error) {
	id, err := repository.ParseID(submissionID)
	if err != nil {
		return nil, fmt.Errorf("invalid submission id %q: %w", submissionID, err)
	}

	stored, err := s.files.ListBySubmission(ctx, id)
	if err != nil {
		return nil, err
	}

	files := make([]grading.SubmissionFile, 0, len(stored))
	for _, f := range stored {
		files = append(files, grading.SubmissionFile{
			ID:   strconv.FormatUint(uint64(f.ID), 10),
			Name: f.Name,
			Path: f.StorageKey,
			Size: f.Size,
		})
	}
	return files, nil
}

func (s *SubmissionFileStore) Read(ctx context.Context, path string) ([]byte, error) {
	return s.blobs.Read(ctx, path)
}

// GradingResultStore writes result records through the grading result repository.
type GradingResultStore struct {
	repo repository.GradingResultRepository
	now  func() time.Time
}

// NewGradingResultStore builds the result store used by the assembler.
func NewGradingResultStore(repo repository.GradingResultRepository) *GradingResultStore {
	return &GradingResultStore{repo: repo, now: time.Now}
}

func (s *GradingResultStore) SaveResult(ctx context.Context, submissionID string, record grading.ResultRecord) error {
	id, err := repository.ParseID(submissionID)
	if err != nil {
		return fmt.Errorf("invalid submission id %q: %w", submissionID, err)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	completedAt := record.CompletedAt
	if completedAt.IsZero() {
		completedAt = s.now().UTC()
	}

	status := models.GradingResultFailed
	if record.Status == grading.StatusCompleted {
		status = models.GradingResultCompleted
	}

	return s.repo.Save(ctx, &models.GradingResult{
		SubmissionID:     id,
		Status:           status,
		Score:            record.Score,
		MaxScore:         record.MaxScore,
		Percentage:       record.Percentage,
		GradeLevel:       record.GradeLevel,
		Confidence:       record.Confidence,
		GradingMode:      string(record.GradingMode),
		FromCache:        record.FromCache,
		ProcessingTimeMS: record.ProcessingTimeMS,
		ErrorMessage:     record.ErrorMessage,
		Payload:          datatypes.JSON(payload),
		CompletedAt:      completedAt,
	}, record.Feedback)
}

// LineRecognizer returns OCR lines for a page image.
type LineRecognizer interface {
	Recognize(ctx context.Context, image []byte) ([]extract.Line, error)
}

// OCREngine adapts the tesseract extractor to the grading pipeline.
type OCREngine struct {
	recognizer LineRecognizer
}

// NewOCREngine wraps a line recognizer.
func NewOCREngine(recognizer LineRecognizer) *OCREngine {
	return &OCREngine{recognizer: recognizer}
}

func (e *OCREngine) Recognize(ctx context.Context, image []byte) ([]grading.OCRToken, error) {
	lines, err := e.recognizer.Recognize(ctx, image)
	if err != nil {
		return nil, err
	}

	tokens := make([]grading.OCRToken, 0, len(lines))
	for _, line := range lines {
		tokens = append(tokens, grading.OCRToken{
			Text:       line.Text,
			Box:        grading.BoundingBox{X: line.X, Y: line.Y, Width: line.Width, Height: line.Height},
			Confidence: line.Confidence,
		})
	}
	return tokens, nil
}

// ImageUploader stores an encoded image and returns its URL.
type ImageUploader interface {
	Upload(ctx context.Context, publicID string, reader io.Reader) (string, error)
}

var errEmptyRegion = errors.New("question region does not overlap the page")

// RegionUploader crops question regions out of page images and uploads them.
type RegionUploader struct {
	uploader ImageUploader
	logger   zerolog.Logger
}

// NewRegionUploader builds a region store backed by an image uploader.
func NewRegionUploader(uploader ImageUploader, logger zerolog.Logger) *RegionUploader {
	return &RegionUploader{
		uploader: uploader,
		logger:   logger.With().Str("component", "region_uploader").Logger(),
	}
}

func (u *RegionUploader) SaveRegion(ctx context.Context, page grading.Page, segment grading.QuestionSegment) (string, error) {
	if len(page.Data) == 0 {
		return "", fmt.Errorf("page %d has no image data", page.Index)
	}

	encoded, err := CropRegion(page.Data, segment.BBox)
	if err != nil {
		return "", err
	}

	publicID := fmt.Sprintf("file-%s/page-%d/question-%d", page.FileID, page.Index, segment.Index)
	url, err := u.uploader.Upload(ctx, publicID, bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	u.logger.Debug().Str("public_id", publicID).Msg("question region stored")
	return url, nil
}

// CropRegion decodes an image, cuts out box and re-encodes it as PNG.
func CropRegion(data []byte, box grading.BoundingBox) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}

	rect := image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height).
		Add(src.Bounds().Min).
		Intersect(src.Bounds())
	if rect.Empty() {
		return nil, errEmptyRegion
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode region: %w", err)
	}
	return buf.Bytes(), nil
}
