package grading

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const (
	segmentPadding            = 10
	fallbackSegmentConfidence = 0.5
	DefaultLabelFormat        = "Question %d"
)

// Page is one submission image with its OCR output.
type Page struct {
	Index    int
	FileID   string
	Name     string
	Path     string
	MIMEType string
	Width    int
	Height   int
	Data     []byte
	Tokens   []OCRToken
}

// QuestionMarker is a detected question number on a page.
type QuestionMarker struct {
	Text       string
	Number     int
	Box        BoundingBox
	Confidence float64
}

// MarkerDetector finds question numbering markers among OCR tokens.
type MarkerDetector interface {
	Detect(tokens []OCRToken) []QuestionMarker
}

var chineseDigits = map[rune]int{
	'一': 1, '二': 2, '三': 3, '四': 4, '五': 5,
	'六': 6, '七': 7, '八': 8, '九': 9, '十': 10,
}

// PatternMarkerDetector matches the common numbering styles at the start of
// a token: "1." "1、" "1)" "(1)" "（1）" "第1题" "一、".
type PatternMarkerDetector struct {
	numeric []*regexp.Regexp
	chinese *regexp.Regexp
}

// NewPatternMarkerDetector builds the default detector.
func NewPatternMarkerDetector() *PatternMarkerDetector {
	return &PatternMarkerDetector{
		numeric: []*regexp.Regexp{
			regexp.MustCompile(`^(\d+)\s*[.、)）]`),
			regexp.MustCompile(`^[(（]\s*(\d+)\s*[)）]`),
			regexp.MustCompile(`^第\s*(\d+)\s*题`),
		},
		chinese: regexp.MustCompile(`^(?:第\s*)?([一二三四五六七八九十]+)\s*(?:[.、)）]|题)`),
	}
}

// Detect implements MarkerDetector.
func (d *PatternMarkerDetector) Detect(tokens []OCRToken) []QuestionMarker {
	var markers []QuestionMarker
	for _, token := range tokens {
		text := strings.TrimSpace(token.Text)
		if text == "" {
			continue
		}
		if marker, ok := d.match(text); ok {
			marker.Box = token.Box
			marker.Confidence = token.Confidence
			markers = append(markers, marker)
		}
	}
	return markers
}

func (d *PatternMarkerDetector) match(text string) (QuestionMarker, bool) {
	for _, pattern := range d.numeric {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return QuestionMarker{Text: m[0], Number: n}, true
	}
	if m := d.chinese.FindStringSubmatch(text); m != nil {
		if n := parseChineseNumeral(m[1]); n > 0 {
			return QuestionMarker{Text: m[0], Number: n}, true
		}
	}
	return QuestionMarker{}, false
}

// parseChineseNumeral handles 一 through 九十九.
func parseChineseNumeral(s string) int {
	runes := []rune(s)
	switch len(runes) {
	case 1:
		return chineseDigits[runes[0]]
	case 2:
		if runes[0] == '十' {
			return 10 + chineseDigits[runes[1]]
		}
		if runes[1] == '十' {
			return chineseDigits[runes[0]] * 10
		}
	case 3:
		if runes[1] == '十' {
			return chineseDigits[runes[0]]*10 + chineseDigits[runes[2]]
		}
	}
	return 0
}

// QuestionSegmenter partitions pages into per-question regions.
type QuestionSegmenter struct {
	detector    MarkerDetector
	regions     RegionStore
	labelFormat string
	logger      zerolog.Logger
}

// NewQuestionSegmenter builds a segmenter. regions may be nil, in which case
// segments reference their page.
func NewQuestionSegmenter(detector MarkerDetector, regions RegionStore, labelFormat string, logger zerolog.Logger) *QuestionSegmenter {
	if detector == nil {
		detector = NewPatternMarkerDetector()
	}
	if strings.TrimSpace(labelFormat) == "" {
		labelFormat = DefaultLabelFormat
	}
	return &QuestionSegmenter{
		detector:    detector,
		regions:     regions,
		labelFormat: labelFormat,
		logger:      logger.With().Str("component", "question_segmenter").Logger(),
	}
}

// Segment returns the ordered question segments of all pages.
func (s *QuestionSegmenter) Segment(ctx context.Context, pages []Page) []QuestionSegment {
	var segments []QuestionSegment
	for _, page := range pages {
		pageSegments := s.segmentPage(page, len(segments))
		for i := range pageSegments {
			pageSegments[i].RegionImage = s.regionRef(ctx, page, pageSegments[i])
		}
		segments = append(segments, pageSegments...)
	}
	return segments
}

func (s *QuestionSegmenter) segmentPage(page Page, offset int) []QuestionSegment {
	markers := s.detector.Detect(page.Tokens)
	if len(markers) == 0 {
		s.logger.Debug().Int("page", page.Index).Msg("no question markers, using whole page")
		return []QuestionSegment{s.fallbackSegment(page, offset)}
	}

	sort.SliceStable(markers, func(i, j int) bool {
		return markers[i].Box.Y < markers[j].Box.Y
	})

	segments := make([]QuestionSegment, 0, len(markers))
	for i, marker := range markers {
		end := page.Height
		if i+1 < len(markers) {
			end = markers[i+1].Box.Y - segmentPadding
		}
		bbox := questionBox(marker.Box.Y, end, page.Width, page.Height)
		confidence := marker.Confidence
		if confidence <= 0 || confidence > 1 {
			confidence = 1
		}
		segments = append(segments, QuestionSegment{
			Label:      strings.TrimSpace(marker.Text),
			Index:      offset + i,
			PageIndex:  page.Index,
			BBox:       bbox,
			OCRText:    tokensInside(page.Tokens, bbox),
			Confidence: confidence,
		})
	}
	return segments
}

func (s *QuestionSegmenter) fallbackSegment(page Page, index int) QuestionSegment {
	return QuestionSegment{
		Label:      fmt.Sprintf(s.labelFormat, index+1),
		Index:      index,
		PageIndex:  page.Index,
		BBox:       BoundingBox{X: 0, Y: 0, Width: max(page.Width, 1), Height: max(page.Height, 1)},
		OCRText:    joinTokens(page.Tokens),
		Confidence: fallbackSegmentConfidence,
	}
}

func (s *QuestionSegmenter) regionRef(ctx context.Context, page Page, segment QuestionSegment) string {
	if s.regions == nil {
		return page.Path
	}
	ref, err := s.regions.SaveRegion(ctx, page, segment)
	if err != nil {
		s.logger.Warn().Err(err).Int("page", page.Index).Str("label", segment.Label).Msg("region upload failed, referencing page")
		return page.Path
	}
	return ref
}

// questionBox spans the full width from just above startY down to endY,
// clamped to the page.
func questionBox(startY, endY, width, height int) BoundingBox {
	y := max(0, startY-segmentPadding)
	if height > 0 && y >= height {
		y = height - 1
	}
	if endY > height && height > 0 {
		endY = height
	}
	h := endY - y
	if height > 0 && y+h > height {
		h = height - y
	}
	return BoundingBox{X: 0, Y: y, Width: max(width, 1), Height: max(h, 1)}
}

func tokensInside(tokens []OCRToken, box BoundingBox) string {
	var lines []string
	for _, token := range tokens {
		if token.Box.Y >= box.Y && token.Box.Y+token.Box.Height <= box.Y+box.Height {
			if text := strings.TrimSpace(token.Text); text != "" {
				lines = append(lines, text)
			}
		}
	}
	return strings.Join(lines, "\n")
}

func joinTokens(tokens []OCRToken) string {
	lines := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if text := strings.TrimSpace(token.Text); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}
