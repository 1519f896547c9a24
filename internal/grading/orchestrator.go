package grading

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-grader/internal/observability"
)

const (
	DefaultWorkers          = 4
	DefaultCorrectThreshold = 0.9
	DefaultWarningThreshold = 0.5
)

// Pipeline bundles the stage components driven by the Orchestrator.
type Pipeline struct {
	Preprocessor *Preprocessor
	Assessor     *ComplexityAssessor
	Cache        *FingerprintCache
	Pages        *PageLoader
	Segmenter    *QuestionSegmenter
	Grader       *UnifiedGrader
	Annotator    *LocationAnnotator
	Assembler    *ResultAssembler
	Progress     ProgressReporter
}

// OrchestratorOptions tunes fan-out and question status buckets.
type OrchestratorOptions struct {
	Workers          int
	CorrectThreshold float64
	WarningThreshold float64
	LabelFormat      string
}

// RunRequest identifies the submission to grade.
type RunRequest struct {
	SubmissionID string
	AssignmentID string
	UserID       string
	Config       Config
}

// Orchestrator drives one submission through the grading state machine.
type Orchestrator struct {
	p      Pipeline
	opts   OrchestratorOptions
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOrchestrator builds an orchestrator.
func NewOrchestrator(p Pipeline, opts OrchestratorOptions, logger zerolog.Logger) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.CorrectThreshold <= 0 {
		opts.CorrectThreshold = DefaultCorrectThreshold
	}
	if opts.WarningThreshold <= 0 {
		opts.WarningThreshold = DefaultWarningThreshold
	}
	if strings.TrimSpace(opts.LabelFormat) == "" {
		opts.LabelFormat = DefaultLabelFormat
	}
	if p.Progress == nil {
		p.Progress = nopProgress{}
	}
	if p.Assessor == nil {
		p.Assessor = NewComplexityAssessor(nil, logger)
	}
	if p.Assembler == nil {
		p.Assembler = NewResultAssembler(nil, logger)
	}
	return &Orchestrator{
		p:      p,
		opts:   opts,
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/internal/grading"),
		logger: logger.With().Str("component", "grading_orchestrator").Logger(),
	}
}

// Run grades one submission. The run is not cancelled by the caller's
// context; it always finishes as completed or failed.
func (o *Orchestrator) Run(parent context.Context, req RunRequest) ResultRecord {
	ctx, span := o.tracer.Start(context.WithoutCancel(parent), "grading.run", trace.WithAttributes(
		attribute.String("submission_id", req.SubmissionID),
		attribute.String("assignment_id", req.AssignmentID),
	))
	defer span.End()

	state := NewState(req.SubmissionID, req.AssignmentID, req.UserID, req.Config)
	logger := o.logger.With().Str("submission_id", req.SubmissionID).Logger()

	o.execute(ctx, state, logger)

	if state.Status == StatusCompleted && !state.FromCache {
		o.p.Cache.Store(ctx, state)
	}
	record := o.p.Assembler.Assemble(ctx, state)

	observability.GradingRuns().WithLabelValues(string(record.Status), string(state.Mode)).Inc()
	span.SetAttributes(
		attribute.String("status", string(record.Status)),
		attribute.String("mode", string(state.Mode)),
		attribute.Bool("from_cache", record.FromCache),
	)
	if record.Status == StatusFailed {
		span.SetStatus(codes.Error, record.ErrorMessage)
		o.report(ctx, state.SubmissionID, string(StatusFailed), 100, record.ErrorMessage)
		logger.Error().Str("error", record.ErrorMessage).Int64("processing_ms", record.ProcessingTimeMS).Msg("grading failed")
		return record
	}

	o.report(ctx, state.SubmissionID, string(StatusCompleted), 100, "grading completed")
	logger.Info().
		Float64("score", record.Score).
		Float64("max_score", record.MaxScore).
		Str("mode", string(record.GradingMode)).
		Bool("from_cache", record.FromCache).
		Int("questions", len(record.GradingResults)).
		Int64("processing_ms", record.ProcessingTimeMS).
		Msg("grading completed")
	return record
}

func (o *Orchestrator) execute(ctx context.Context, state *State, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("grading run aborted")
			state.Fail(fmt.Sprintf("internal error: %v", r))
		}
	}()

	if state.Config.MaxScore <= 0 {
		state.Fail((&ValidationError{Field: "max_score", Reason: "must be positive"}).Error())
		return
	}

	o.report(ctx, state.SubmissionID, string(StatusPreprocessing), 10, "extracting submission text")
	if err := o.stage(ctx, "preprocess", func(ctx context.Context) error {
		return o.p.Preprocessor.Process(ctx, state)
	}); err != nil {
		state.Fail(err.Error())
		return
	}

	state.Complexity = o.p.Assessor.Assess(state)
	state.Mode = state.Config.Mode
	if !state.Mode.Valid() {
		state.Mode = RecommendedMode(state.Complexity)
	}
	state.Record("complexity", fmt.Sprintf("%s -> %s", state.Complexity, state.Mode))

	if cached, ok := o.p.Cache.Lookup(ctx, state.ExtractedText); ok {
		o.applyCached(state, cached)
		o.mustAdvance(state, StatusCompleted)
		return
	}

	o.mustAdvance(state, StatusGrading)
	o.report(ctx, state.SubmissionID, "segmenting", 30, "detecting questions")
	var pages []Page
	_ = o.stage(ctx, "segment", func(ctx context.Context) error {
		if o.p.Pages != nil {
			pages = o.p.Pages.Load(ctx, state.Files)
		}
		if o.p.Segmenter != nil {
			state.Segments = o.p.Segmenter.Segment(ctx, pages)
		}
		return nil
	})

	o.report(ctx, state.SubmissionID, string(StatusGrading), 50, fmt.Sprintf("grading %d questions", max(len(state.Segments), 1)))
	_ = o.stage(ctx, "grade", func(ctx context.Context) error {
		state.Gradings = o.gradeAll(ctx, state)
		return nil
	})

	o.mustAdvance(state, StatusAnnotating)
	o.report(ctx, state.SubmissionID, string(StatusAnnotating), 70, "locating errors")
	_ = o.stage(ctx, "annotate", func(ctx context.Context) error {
		state.Annotated = o.annotateAll(ctx, state.SubmissionID, state.Gradings, pages)
		return nil
	})

	o.aggregate(state, logger)
	o.mustAdvance(state, StatusCompleted)
}

func (o *Orchestrator) mustAdvance(state *State, next Status) {
	if err := state.Advance(next); err != nil {
		panic(err)
	}
}

func (o *Orchestrator) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "grading."+name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	observability.GradingStageDuration().WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (o *Orchestrator) report(ctx context.Context, submissionID, stage string, percent int, message string) {
	o.p.Progress.Report(ctx, ProgressEvent{SubmissionID: submissionID, Stage: stage, Percent: percent, Message: message})
}

type questionJob struct {
	index    int
	label    string
	page     int
	bbox     *BoundingBox
	text     string
	maxScore float64
}

func (o *Orchestrator) questionJobs(state *State) []questionJob {
	if len(state.Segments) == 0 {
		return []questionJob{{
			index:    0,
			label:    fmt.Sprintf(o.opts.LabelFormat, 1),
			page:     -1,
			text:     state.ExtractedText,
			maxScore: state.Config.MaxScore,
		}}
	}

	perQuestion := state.Config.MaxScore / float64(len(state.Segments))
	jobs := make([]questionJob, 0, len(state.Segments))
	for _, seg := range state.Segments {
		bbox := seg.BBox
		text := seg.OCRText
		if strings.TrimSpace(text) == "" {
			text = state.ExtractedText
		}
		jobs = append(jobs, questionJob{
			index:    seg.Index,
			label:    seg.Label,
			page:     seg.PageIndex,
			bbox:     &bbox,
			text:     text,
			maxScore: perQuestion,
		})
	}
	return jobs
}

func (o *Orchestrator) gradeAll(ctx context.Context, state *State) []QuestionGrading {
	jobs := o.questionJobs(state)
	results := make([]QuestionGrading, len(jobs))

	var done atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(o.opts.Workers)
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = o.gradeOne(ctx, state, job)
			n := int(done.Add(1))
			o.report(ctx, state.SubmissionID, string(StatusGrading), 50+20*n/len(jobs), fmt.Sprintf("graded %s", job.label))
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Failed {
			state.Record("question_failed", fmt.Sprintf("%s: %s", r.Label, r.FailureReason))
		}
	}
	return results
}

func (o *Orchestrator) gradeOne(ctx context.Context, state *State, job questionJob) QuestionGrading {
	result := QuestionGrading{
		QuestionIndex: job.index,
		Label:         job.label,
		PageIndex:     job.page,
		BBox:          job.bbox,
		MaxScore:      job.maxScore,
	}

	q := state.forQuestion(job.text, job.maxScore)
	var err error
	if o.p.Grader == nil {
		err = &ExternalServiceError{Service: "inference", Op: "grade", Err: fmt.Errorf("no grader configured")}
	} else {
		err = o.p.Grader.Grade(ctx, q)
	}
	if err != nil {
		kind := "external"
		switch {
		case IsParse(err):
			kind = "parse"
		case IsValidation(err):
			kind = "validation"
		}
		observability.GradingQuestionFailures().WithLabelValues(kind).Inc()
		o.logger.Warn().Err(err).Str("submission_id", state.SubmissionID).Str("question", job.label).Msg("question grading failed")

		result.Status = QuestionError
		result.Failed = true
		result.FailureReason = err.Error()
		result.Errors = []ErrorItem{{Type: "system", Description: err.Error(), Severity: "high"}}
		result.Feedback = "grading failed: " + err.Error()
		result.CorrectParts = []string{}
		result.Warnings = []string{}
		result.Suggestions = []string{}
		result.KnowledgePoints = []KnowledgePoint{}
		return result
	}

	result.Score = q.Score
	result.Confidence = q.Confidence
	result.Status = o.classify(q.Score, job.maxScore)
	result.Errors = nonNil(q.Errors)
	result.CorrectParts = nonNil(q.Strengths)
	result.Warnings = append(nonNil(q.Weaknesses), q.Warnings...)
	result.Feedback = q.Feedback
	result.Suggestions = nonNil(q.Suggestions)
	result.KnowledgePoints = nonNil(q.KnowledgePoints)
	return result
}

func (o *Orchestrator) classify(score, maxScore float64) QuestionStatus {
	if maxScore <= 0 {
		return QuestionError
	}
	ratio := score / maxScore
	switch {
	case ratio >= o.opts.CorrectThreshold:
		return QuestionCorrect
	case ratio >= o.opts.WarningThreshold:
		return QuestionWarning
	default:
		return QuestionError
	}
}

type annotationTask struct {
	question int
	item     int
}

func (o *Orchestrator) annotateAll(ctx context.Context, submissionID string, gradings []QuestionGrading, pages []Page) []QuestionGrading {
	annotated := make([]QuestionGrading, len(gradings))
	var tasks []annotationTask
	for i, grading := range gradings {
		annotated[i] = grading
		annotated[i].Errors = append([]ErrorItem(nil), grading.Errors...)
		if grading.Failed || grading.BBox == nil || grading.PageIndex < 0 || grading.PageIndex >= len(pages) {
			continue
		}
		for j := range grading.Errors {
			tasks = append(tasks, annotationTask{question: i, item: j})
		}
	}
	if len(tasks) == 0 || o.p.Annotator == nil {
		return annotated
	}

	var done atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(o.opts.Workers)
	for _, task := range tasks {
		g.Go(func() error {
			q := &annotated[task.question]
			loc := o.p.Annotator.Annotate(ctx, pages[q.PageIndex], *q.BBox, q.Errors[task.item])
			q.Errors[task.item].Region = &loc
			n := int(done.Add(1))
			o.report(ctx, submissionID, string(StatusAnnotating), 70+20*n/len(tasks), fmt.Sprintf("located %d of %d errors", n, len(tasks)))
			return nil
		})
	}
	_ = g.Wait()
	return annotated
}

func (o *Orchestrator) aggregate(state *State, logger zerolog.Logger) {
	results := state.Annotated
	if len(results) == 0 {
		results = state.Gradings
	}

	var (
		total       float64
		confidence  float64
		graded      int
		feedback    []string
		suggestions []string
		strengths   []string
		weaknesses  []string
		errs        []ErrorItem
		points      = newKnowledgeMerger()
	)
	for _, r := range results {
		total += r.Score
		errs = append(errs, r.Errors...)
		if r.Failed {
			continue
		}
		graded++
		confidence += r.Confidence
		if r.Feedback != "" {
			if len(results) == 1 {
				feedback = append(feedback, r.Feedback)
			} else {
				feedback = append(feedback, fmt.Sprintf("%s: %s", r.Label, r.Feedback))
			}
		}
		suggestions = appendUnique(suggestions, r.Suggestions...)
		strengths = appendUnique(strengths, r.CorrectParts...)
		weaknesses = appendUnique(weaknesses, r.Warnings...)
		points.add(r.KnowledgePoints)
	}

	maxScore := state.Config.MaxScore
	if total > maxScore {
		msg := fmt.Sprintf("question scores sum to %.2f, above max score %.2f; total clamped", total, maxScore)
		logger.Warn().Float64("total", total).Float64("max_score", maxScore).Msg("score overflow")
		state.Warn(msg)
		total = maxScore
	}

	state.Score = total
	if graded > 0 {
		state.Confidence = confidence / float64(graded)
	}
	state.Feedback = strings.Join(feedback, "\n")
	state.Suggestions = nonNil(suggestions)
	state.Strengths = strengths
	state.Weaknesses = weaknesses
	state.KnowledgePoints = points.list()
	state.Errors = nonNil(errs)
}

func (o *Orchestrator) applyCached(state *State, cached CachedResult) {
	maxScore := state.Config.MaxScore
	factor := 1.0
	state.Score = cached.Score
	if cached.MaxScore > 0 && cached.MaxScore != maxScore {
		factor = maxScore / cached.MaxScore
		state.Score = round2(cached.Score * factor)
		state.Warn(fmt.Sprintf("cached result graded out of %.2f; rescaled to max score %.2f", cached.MaxScore, maxScore))
	}

	state.FromCache = true
	if state.Score > maxScore {
		state.Warn(fmt.Sprintf("cached score %.2f above max score %.2f; total clamped", state.Score, maxScore))
		state.Score = maxScore
	}
	state.Confidence = cached.Confidence
	state.Errors = nonNil(rescaleErrors(cached.Errors, factor))
	state.Feedback = cached.Feedback
	state.Suggestions = nonNil(cached.Suggestions)
	state.KnowledgePoints = nonNil(cached.KnowledgePoints)
	state.Segments = cached.Segments
	state.Gradings = rescaleGradings(cached.Gradings, factor)
	state.Annotated = rescaleGradings(cached.Annotated, factor)
	if cached.Mode.Valid() {
		state.Mode = cached.Mode
	}
	state.Record("cache", "served from fingerprint cache")
}

// rescaleGradings converts cached question scores to another max score.
func rescaleGradings(gradings []QuestionGrading, factor float64) []QuestionGrading {
	if factor == 1 || gradings == nil {
		return gradings
	}
	out := make([]QuestionGrading, len(gradings))
	for i, g := range gradings {
		g.Score = round2(g.Score * factor)
		g.MaxScore = round2(g.MaxScore * factor)
		g.Errors = rescaleErrors(g.Errors, factor)
		out[i] = g
	}
	return out
}

func rescaleErrors(items []ErrorItem, factor float64) []ErrorItem {
	if factor == 1 || items == nil {
		return items
	}
	out := make([]ErrorItem, len(items))
	for i, item := range items {
		item.Deduction = round2(item.Deduction * factor)
		out[i] = item
	}
	return out
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

type knowledgeMerger struct {
	order []string
	sum   map[string]int
	count map[string]int
	tips  map[string]string
}

func newKnowledgeMerger() *knowledgeMerger {
	return &knowledgeMerger{sum: map[string]int{}, count: map[string]int{}, tips: map[string]string{}}
}

func (m *knowledgeMerger) add(points []KnowledgePoint) {
	for _, p := range points {
		if _, seen := m.count[p.Name]; !seen {
			m.order = append(m.order, p.Name)
		}
		m.sum[p.Name] += p.MasteryLevel
		m.count[p.Name]++
		if m.tips[p.Name] == "" {
			m.tips[p.Name] = p.Suggestion
		}
	}
}

// list averages mastery per knowledge point in first-seen order.
func (m *knowledgeMerger) list() []KnowledgePoint {
	out := make([]KnowledgePoint, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, KnowledgePoint{
			Name:         name,
			MasteryLevel: m.sum[name] / m.count[name],
			Suggestion:   m.tips[name],
		})
	}
	return out
}
