// Package extract turns submission documents and page images into text by
// running pdftotext, pandoc and tesseract inside the sandbox runner.
package extract

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/pkg/docker"
)

// Source provides the bytes of a stored file.
type Source interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// Config selects the tool images and scratch space.
type Config struct {
	PDFImage       string
	DocumentImage  string
	OCRImage       string
	OCRLanguages   string
	ScratchDir     string
	ContainerDir   string
	Timeout        time.Duration
	MaxOutputBytes int
}

func (c Config) withDefaults() Config {
	if c.PDFImage == "" {
		c.PDFImage = "minidocks/poppler:latest"
	}
	if c.DocumentImage == "" {
		c.DocumentImage = "pandoc/core:latest"
	}
	if c.OCRImage == "" {
		c.OCRImage = "jitesoft/tesseract-ocr:latest"
	}
	if c.OCRLanguages == "" {
		c.OCRLanguages = "chi_sim+eng"
	}
	if c.ContainerDir == "" {
		c.ContainerDir = "/work"
	}
	if c.Timeout <= 0 {
		c.Timeout = 45 * time.Second
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = 1 << 20
	}
	return c
}

// Extractor runs the extraction tools.
type Extractor struct {
	runner docker.Runner
	source Source
	cfg    Config
	logger zerolog.Logger
}

// New builds an Extractor.
func New(runner docker.Runner, source Source, cfg Config, logger zerolog.Logger) *Extractor {
	return &Extractor{
		runner: runner,
		source: source,
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "extractor").Logger(),
	}
}

// ExtractPDFText returns the text layer of a PDF.
func (e *Extractor) ExtractPDFText(ctx context.Context, key string) (string, error) {
	data, err := e.source.Read(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	return e.runTool(ctx, data, "input.pdf", e.cfg.PDFImage, func(in string) []string {
		return []string{"pdftotext", "-layout", "-enc", "UTF-8", in, "-"}
	})
}

// ExtractDocumentText converts a word processor document to plain text.
func (e *Extractor) ExtractDocumentText(ctx context.Context, key string) (string, error) {
	data, err := e.source.Read(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	name := "input" + strings.ToLower(filepath.Ext(key))
	if filepath.Ext(name) == "" {
		name = "input" + mimetype.Detect(data).Extension()
	}
	return e.runTool(ctx, data, name, e.cfg.DocumentImage, func(in string) []string {
		return []string{"pandoc", in, "-t", "plain", "--wrap=none"}
	})
}

// Recognize runs tesseract on a page image and returns its text lines.
func (e *Extractor) Recognize(ctx context.Context, image []byte) ([]Line, error) {
	name := "page" + mimetype.Detect(image).Extension()
	out, err := e.runTool(ctx, image, name, e.cfg.OCRImage, func(in string) []string {
		return []string{"tesseract", in, "stdout", "-l", e.cfg.OCRLanguages, "tsv"}
	})
	if err != nil {
		return nil, err
	}
	return ParseTSV(out)
}

func (e *Extractor) runTool(ctx context.Context, data []byte, name, image string, cmd func(string) []string) (string, error) {
	dir, err := os.MkdirTemp(e.cfg.ScratchDir, "extract-*")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write scratch file: %w", err)
	}

	result, err := e.runner.Run(ctx, docker.RunRequest{
		Image:     image,
		Cmd:       cmd(path.Join(e.cfg.ContainerDir, name)),
		Timeout:   e.cfg.Timeout,
		Workspace: dir,
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("image", image).Str("file", name).Msg("extraction tool failed")
		return "", fmt.Errorf("%s: %w", image, err)
	}

	out := result.Stdout
	if len(out) > e.cfg.MaxOutputBytes {
		out = out[:e.cfg.MaxOutputBytes]
	}
	e.logger.Debug().Str("image", image).Dur("duration", result.Duration).Int("bytes", len(out)).Msg("extraction tool finished")
	return out, nil
}
