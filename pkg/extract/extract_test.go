package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/pkg/docker"
)

const tesseractTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t400\t600\t-1\t\n" +
	"4\t1\t1\t1\t1\t0\t20\t30\t180\t24\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t20\t30\t30\t20\t96\t1.\n" +
	"5\t1\t1\t1\t1\t2\t60\t28\t140\t26\t90\t2+3=5\n" +
	"5\t1\t1\t1\t2\t1\t20\t230\t30\t20\t80\t2.\n" +
	"5\t1\t1\t1\t2\t2\t60\t232\t100\t20\t-1\t \n" +
	"5\t1\t1\t1\t2\t3\t170\t230\t90\t22\t70\t4×6=24\n"

func TestParseTSVGroupsWordsIntoLines(t *testing.T) {
	lines, err := ParseTSV(tesseractTSV)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	require.Equal(t, "1. 2+3=5", lines[0].Text)
	require.Equal(t, 20, lines[0].X)
	require.Equal(t, 28, lines[0].Y)
	require.Equal(t, 180, lines[0].Width)
	require.Equal(t, 26, lines[0].Height)
	require.InDelta(t, 0.93, lines[0].Confidence, 1e-9)

	require.Equal(t, "2. 4×6=24", lines[1].Text)
	require.Equal(t, 240, lines[1].Width)
	require.InDelta(t, 0.75, lines[1].Confidence, 1e-9)
}

func TestParseTSVErrors(t *testing.T) {
	_, err := ParseTSV("")
	require.ErrorContains(t, err, "missing header")

	_, err = ParseTSV("level\tpage_num\n5\t1\t1\t1\t1\t1\tx\t30\t30\t20\t96\tword")
	require.ErrorContains(t, err, "column 6")

	_, err = ParseTSV("level\n5\t1\t1\t1\t1\t1\t20\t30\t30\t20\thigh\tword")
	require.ErrorContains(t, err, "confidence")

	lines, err := ParseTSV("level\ttext\r\n")
	require.NoError(t, err)
	require.Empty(t, lines)
}

type memSource map[string][]byte

func (m memSource) Read(ctx context.Context, key string) ([]byte, error) {
	data, ok := m[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

type recordingRunner struct {
	requests []docker.RunRequest
	inputs   map[string][]byte
	stdout   string
	err      error
}

func (r *recordingRunner) Run(ctx context.Context, req docker.RunRequest) (docker.RunResult, error) {
	r.requests = append(r.requests, req)
	if r.inputs == nil {
		r.inputs = map[string][]byte{}
	}
	entries, err := os.ReadDir(req.Workspace)
	if err != nil {
		return docker.RunResult{}, err
	}
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(req.Workspace, entry.Name()))
		if err != nil {
			return docker.RunResult{}, err
		}
		r.inputs[entry.Name()] = data
	}
	if r.err != nil {
		return docker.RunResult{}, r.err
	}
	return docker.RunResult{Stdout: r.stdout}, nil
}

func newTestExtractor(t *testing.T, runner docker.Runner, source Source, cfg Config) *Extractor {
	t.Helper()
	cfg.ScratchDir = t.TempDir()
	return New(runner, source, cfg, zerolog.Nop())
}

func TestExtractPDFText(t *testing.T) {
	runner := &recordingRunner{stdout: "1. 2+3=5\n2. 4×6=24\n"}
	extractor := newTestExtractor(t, runner, memSource{"submissions/5/answers.pdf": []byte("%PDF-1.4 body")}, Config{})

	text, err := extractor.ExtractPDFText(context.Background(), "submissions/5/answers.pdf")
	require.NoError(t, err)
	require.Equal(t, "1. 2+3=5\n2. 4×6=24\n", text)

	require.Len(t, runner.requests, 1)
	req := runner.requests[0]
	require.Equal(t, "minidocks/poppler:latest", req.Image)
	require.Equal(t, []string{"pdftotext", "-layout", "-enc", "UTF-8", "/work/input.pdf", "-"}, req.Cmd)
	require.Equal(t, []byte("%PDF-1.4 body"), runner.inputs["input.pdf"])

	_, err = os.Stat(req.Workspace)
	require.True(t, os.IsNotExist(err))
}

func TestExtractDocumentText(t *testing.T) {
	runner := &recordingRunner{stdout: "answers"}
	extractor := newTestExtractor(t, runner, memSource{"essay.DOCX": []byte("doc")}, Config{DocumentImage: "pandoc/core:3.1"})

	text, err := extractor.ExtractDocumentText(context.Background(), "essay.DOCX")
	require.NoError(t, err)
	require.Equal(t, "answers", text)
	require.Equal(t, "pandoc/core:3.1", runner.requests[0].Image)
	require.Equal(t, []string{"pandoc", "/work/input.docx", "-t", "plain", "--wrap=none"}, runner.requests[0].Cmd)

	_, err = extractor.ExtractDocumentText(context.Background(), "missing.docx")
	require.ErrorContains(t, err, "read document")
}

func TestExtractorTruncatesOutputAndWrapsErrors(t *testing.T) {
	runner := &recordingRunner{stdout: strings.Repeat("a", 32)}
	extractor := newTestExtractor(t, runner, memSource{"a.pdf": []byte("pdf")}, Config{MaxOutputBytes: 8})

	text, err := extractor.ExtractPDFText(context.Background(), "a.pdf")
	require.NoError(t, err)
	require.Equal(t, "aaaaaaaa", text)

	runner.err = docker.ErrTimeout
	_, err = extractor.ExtractPDFText(context.Background(), "a.pdf")
	require.ErrorIs(t, err, docker.ErrTimeout)
	require.ErrorContains(t, err, "minidocks/poppler:latest")
}

func TestRecognize(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	runner := &recordingRunner{stdout: tesseractTSV}
	extractor := newTestExtractor(t, runner, memSource{}, Config{OCRLanguages: "eng"})

	lines, err := extractor.Recognize(context.Background(), png)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, []string{"tesseract", "/work/page.png", "stdout", "-l", "eng", "tsv"}, runner.requests[0].Cmd)
	require.Equal(t, png, runner.inputs["page.png"])

	runner.stdout = "not tsv"
	_, err = extractor.Recognize(context.Background(), png)
	require.Error(t, err)
}
