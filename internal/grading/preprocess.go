package grading

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

const (
	DefaultMinTextLength = 10
	DefaultMaxTextLength = 50000
)

var extensionTypes = map[string]FileType{
	".jpg":  FileTypeImage,
	".jpeg": FileTypeImage,
	".png":  FileTypeImage,
	".gif":  FileTypeImage,
	".bmp":  FileTypeImage,
	".webp": FileTypeImage,
	".pdf":  FileTypePDF,
	".doc":  FileTypeDocument,
	".docx": FileTypeDocument,
	".odt":  FileTypeDocument,
	".rtf":  FileTypeDocument,
	".txt":  FileTypeText,
	".md":   FileTypeText,
}

// ClassifyByExtension maps a file name onto a FileType.
func ClassifyByExtension(name string) FileType {
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return FileTypeUnknown
}

func classifyByContent(data []byte) FileType {
	mt := mimetype.Detect(data)
	switch {
	case strings.HasPrefix(mt.String(), "image/"):
		return FileTypeImage
	case mt.Is("application/pdf"):
		return FileTypePDF
	case mt.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document"),
		mt.Is("application/msword"),
		mt.Is("application/vnd.oasis.opendocument.text"),
		mt.Is("text/rtf"):
		return FileTypeDocument
	case strings.HasPrefix(mt.String(), "text/plain"):
		return FileTypeText
	default:
		return FileTypeUnknown
	}
}

// PreprocessorOptions bounds the accepted text length.
type PreprocessorOptions struct {
	MinTextLength int
	MaxTextLength int
}

// Preprocessor fetches, classifies and extracts the text of submission files.
type Preprocessor struct {
	files     FileStore
	extractor TextExtractor
	opts      PreprocessorOptions
	logger    zerolog.Logger
}

// NewPreprocessor builds a preprocessor.
func NewPreprocessor(files FileStore, extractor TextExtractor, opts PreprocessorOptions, logger zerolog.Logger) *Preprocessor {
	if opts.MinTextLength <= 0 {
		opts.MinTextLength = DefaultMinTextLength
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = DefaultMaxTextLength
	}
	return &Preprocessor{
		files:     files,
		extractor: extractor,
		opts:      opts,
		logger:    logger.With().Str("component", "preprocessor").Logger(),
	}
}

// Process moves state to preprocessed, or to failed when the submission has
// no usable text. A single unreadable file is skipped, never fatal.
func (p *Preprocessor) Process(ctx context.Context, state *State) error {
	if err := state.Advance(StatusPreprocessing); err != nil {
		return err
	}
	logger := p.logger.With().Str("submission_id", state.SubmissionID).Logger()

	files, err := p.files.SubmissionFiles(ctx, state.SubmissionID)
	if err != nil {
		err = &ExternalServiceError{Service: "file_store", Op: "list", Err: err}
		state.Fail(err.Error())
		return err
	}
	if len(files) == 0 {
		err := &ValidationError{Field: "files", Reason: "submission has no files"}
		state.Fail(err.Error())
		return err
	}

	processed := make([]ProcessedFile, 0, len(files))
	parts := make([]string, 0, len(files))
	meta := FileMetadata{}
	for _, file := range files {
		record, ok := p.processFile(ctx, file, logger)
		if !ok {
			continue
		}
		processed = append(processed, record)
		if record.Type == FileTypeImage {
			meta.HasImages = true
		}
		if record.NeedsOCR {
			meta.NeedsOCR = true
		}
		if strings.TrimSpace(record.Text) != "" {
			parts = append(parts, record.Text)
		}
	}

	text := strings.Join(parts, "\n\n")
	meta.FileCount = len(processed)
	meta.TotalLength = utf8.RuneCountInString(text)
	state.Files = processed
	state.ExtractedText = text
	state.Metadata = meta

	if err := p.validate(text); err != nil {
		logger.Warn().Err(err).Int("files", len(processed)).Msg("submission rejected")
		state.Fail(err.Error())
		return err
	}
	if meta.TotalLength > p.opts.MaxTextLength {
		state.Metadata.Oversized = true
		state.Warn(fmt.Sprintf("extracted text has %d characters, above the %d character guideline", meta.TotalLength, p.opts.MaxTextLength))
		logger.Warn().Int("length", meta.TotalLength).Msg("extracted text is unusually long")
	}

	logger.Info().
		Int("files", meta.FileCount).
		Int("length", meta.TotalLength).
		Bool("has_images", meta.HasImages).
		Msg("submission preprocessed")
	return state.Advance(StatusPreprocessed)
}

func (p *Preprocessor) processFile(ctx context.Context, file SubmissionFile, logger zerolog.Logger) (ProcessedFile, bool) {
	record := ProcessedFile{ID: file.ID, Name: file.Name, Path: file.Path, Type: ClassifyByExtension(file.Name)}

	var data []byte
	if record.Type == FileTypeUnknown || record.Type == FileTypeText || record.Type == FileTypeImage {
		raw, err := p.files.Read(ctx, file.Path)
		if err != nil {
			logger.Warn().Err(err).Str("file", file.Name).Msg("skipping unreadable file")
			return record, false
		}
		data = raw
		if record.Type == FileTypeUnknown {
			record.Type = classifyByContent(data)
		}
	}

	switch record.Type {
	case FileTypeImage:
		record.Text = ImagePlaceholder(file.Name, data)
		record.NeedsOCR = true
	case FileTypeText:
		if !utf8.Valid(data) {
			data = []byte(strings.ToValidUTF8(string(data), ""))
		}
		record.Text = strings.TrimSpace(string(data))
	case FileTypePDF, FileTypeDocument:
		text, err := p.extract(ctx, record)
		if err != nil {
			record.Error = err.Error()
			logger.Warn().Err(err).Str("file", file.Name).Msg("text extraction failed")
			return record, true
		}
		record.Text = strings.TrimSpace(text)
	default:
		logger.Warn().Str("file", file.Name).Msg("skipping unsupported file type")
		return record, false
	}
	return record, true
}

// ImagePlaceholder stands in for an image in the extracted text. The content
// digest keeps same-named uploads from sharing a fingerprint.
func ImagePlaceholder(name string, data []byte) string {
	return fmt.Sprintf("[image: %s #%s]", name, strconv.FormatUint(xxhash.Sum64(data), 16))
}

func (p *Preprocessor) extract(ctx context.Context, record ProcessedFile) (string, error) {
	if p.extractor == nil {
		return "", &ExternalServiceError{Service: "text_extraction", Op: "extract", Err: fmt.Errorf("no extractor configured")}
	}
	var (
		text string
		err  error
	)
	if record.Type == FileTypePDF {
		text, err = p.extractor.ExtractPDFText(ctx, record.Path)
	} else {
		text, err = p.extractor.ExtractDocumentText(ctx, record.Path)
	}
	if err != nil {
		return "", &ExternalServiceError{Service: "text_extraction", Op: string(record.Type), Err: err}
	}
	return text, nil
}

func (p *Preprocessor) validate(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &ValidationError{Field: "extracted_text", Reason: "no text could be extracted from the submission"}
	}
	if utf8.RuneCountInString(trimmed) < p.opts.MinTextLength {
		return &ValidationError{Field: "extracted_text", Reason: "extracted text is too short to be a real submission"}
	}
	return nil
}
