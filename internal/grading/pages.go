package grading

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

const (
	defaultPageWidth  = 800
	defaultPageHeight = 1200
)

// PageLoader turns the image files of a submission into OCR'd pages.
type PageLoader struct {
	files  FileStore
	ocr    OCREngine
	logger zerolog.Logger
}

// NewPageLoader builds a loader. A nil OCR engine yields pages without tokens.
func NewPageLoader(files FileStore, ocr OCREngine, logger zerolog.Logger) *PageLoader {
	return &PageLoader{
		files:  files,
		ocr:    ocr,
		logger: logger.With().Str("component", "page_loader").Logger(),
	}
}

// Load reads every image file. Pages whose bytes cannot be decoded keep a
// default size so downstream geometry still has bounds to work with.
func (l *PageLoader) Load(ctx context.Context, files []ProcessedFile) []Page {
	var pages []Page
	for _, file := range files {
		if file.Type != FileTypeImage {
			continue
		}
		page := Page{
			Index:  len(pages),
			FileID: file.ID,
			Name:   file.Name,
			Path:   file.Path,
			Width:  defaultPageWidth,
			Height: defaultPageHeight,
		}

		data, err := l.files.Read(ctx, file.Path)
		if err != nil {
			l.logger.Warn().Err(err).Str("file", file.Name).Msg("page image unreadable, using default size")
			pages = append(pages, page)
			continue
		}
		page.Data = data
		page.MIMEType = mimetype.Detect(data).String()

		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil && cfg.Width > 0 && cfg.Height > 0 {
			page.Width, page.Height = cfg.Width, cfg.Height
		} else {
			l.logger.Warn().Err(err).Str("file", file.Name).Msg("page image size unknown, using default size")
		}

		if l.ocr != nil {
			tokens, err := l.ocr.Recognize(ctx, data)
			if err != nil {
				l.logger.Warn().Err(&ExternalServiceError{Service: "ocr", Op: "recognize", Err: err}).Str("file", file.Name).Msg("ocr failed, page will use a fallback segment")
			} else {
				page.Tokens = tokens
			}
		}
		pages = append(pages, page)
	}
	return pages
}
