package grading

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// Tier is the complexity bucket of a submission.
type Tier string

const (
	TierSimple  Tier = "simple"
	TierMedium  Tier = "medium"
	TierComplex Tier = "complex"
)

var difficultSubjects = []string{
	"数学", "math", "mathematics",
	"物理", "physics",
	"化学", "chemistry",
	"编程", "programming", "code",
}

// QuestionCounter estimates how many questions a text contains.
type QuestionCounter interface {
	CountQuestions(text string) int
}

// PatternCounter counts numbering markers with each pattern and keeps the
// largest count. Zero matches fall back to one question per 500 characters.
type PatternCounter struct {
	patterns []*regexp.Regexp
}

// NewPatternCounter builds a counter with the default numbering patterns.
func NewPatternCounter() *PatternCounter {
	return &PatternCounter{patterns: []*regexp.Regexp{
		regexp.MustCompile(`第\s*[一二三四五六七八九十\d]+\s*题`),
		regexp.MustCompile(`\d+\s*[.、)]`),
		regexp.MustCompile(`[（(]\s*\d+\s*[）)]`),
	}}
}

// CountQuestions implements QuestionCounter.
func (c *PatternCounter) CountQuestions(text string) int {
	best := 0
	for _, pattern := range c.patterns {
		if n := len(pattern.FindAllStringIndex(text, -1)); n > best {
			best = n
		}
	}
	if best > 0 {
		return best
	}
	estimate := utf8.RuneCountInString(text) / 500
	if estimate < 1 {
		return 1
	}
	return estimate
}

// ComplexityFactors are the inputs of the additive complexity score.
type ComplexityFactors struct {
	FileCount     int
	TextLength    int
	QuestionCount int
	HasImages     bool
	Subject       string
	NeedsOCR      bool
}

// ComplexityAssessor maps a preprocessed submission onto a complexity tier.
type ComplexityAssessor struct {
	counter QuestionCounter
	logger  zerolog.Logger
}

// NewComplexityAssessor builds an assessor. A nil counter selects PatternCounter.
func NewComplexityAssessor(counter QuestionCounter, logger zerolog.Logger) *ComplexityAssessor {
	if counter == nil {
		counter = NewPatternCounter()
	}
	return &ComplexityAssessor{
		counter: counter,
		logger:  logger.With().Str("component", "complexity_assessor").Logger(),
	}
}

// Assess never fails: anything that prevents factor extraction yields TierMedium.
func (a *ComplexityAssessor) Assess(state *State) (tier Tier) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn().Interface("panic", r).Msg("complexity factors unavailable, defaulting to medium")
			tier = TierMedium
		}
	}()
	if state == nil {
		return TierMedium
	}

	factors := a.Factors(state)
	score := Score(factors)
	tier = TierFor(score)
	a.logger.Debug().
		Str("submission_id", state.SubmissionID).
		Int("score", score).
		Int("questions", factors.QuestionCount).
		Str("tier", string(tier)).
		Msg("complexity assessed")
	return tier
}

// Factors derives the scoring inputs from a preprocessed state.
func (a *ComplexityAssessor) Factors(state *State) ComplexityFactors {
	length := state.Metadata.TotalLength
	if length == 0 {
		length = utf8.RuneCountInString(state.ExtractedText)
	}
	fileCount := state.Metadata.FileCount
	if fileCount == 0 {
		fileCount = len(state.Files)
	}

	questions := state.Config.QuestionCount
	if questions <= 0 {
		questions = a.counter.CountQuestions(state.ExtractedText)
	}

	hasImages := state.Metadata.HasImages
	needsOCR := state.Metadata.NeedsOCR
	for _, f := range state.Files {
		if f.Type == FileTypeImage {
			hasImages = true
		}
		if f.NeedsOCR {
			needsOCR = true
		}
	}

	return ComplexityFactors{
		FileCount:     fileCount,
		TextLength:    length,
		QuestionCount: questions,
		HasImages:     hasImages,
		Subject:       state.Config.Subject,
		NeedsOCR:      needsOCR,
	}
}

// Score is the additive complexity score clamped to [0,100].
func Score(f ComplexityFactors) int {
	score := 0

	switch {
	case f.FileCount <= 1:
	case f.FileCount <= 3:
		score += 10
	default:
		score += 20
	}

	switch {
	case f.TextLength < 500:
	case f.TextLength < 2000:
		score += 15
	default:
		score += 30
	}

	switch {
	case f.QuestionCount <= 3:
	case f.QuestionCount <= 10:
		score += 10
	default:
		score += 20
	}

	if f.HasImages {
		score += 15
	}
	if isDifficultSubject(f.Subject) {
		score += 15
	}
	if f.NeedsOCR {
		score += 10
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// TierFor buckets a complexity score.
func TierFor(score int) Tier {
	switch {
	case score < 30:
		return TierSimple
	case score < 70:
		return TierMedium
	default:
		return TierComplex
	}
}

// RecommendedMode maps a tier to the grading mode it warrants.
func RecommendedMode(tier Tier) Mode {
	switch tier {
	case TierSimple:
		return ModeFast
	case TierComplex:
		return ModePremium
	default:
		return ModeStandard
	}
}

func isDifficultSubject(subject string) bool {
	subject = strings.ToLower(strings.TrimSpace(subject))
	if subject == "" {
		return false
	}
	for _, keyword := range difficultSubjects {
		if strings.Contains(subject, keyword) {
			return true
		}
	}
	return false
}
