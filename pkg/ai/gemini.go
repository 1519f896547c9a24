package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
)

const maxRemoteImageBytes = 20 << 20

// GeminiConfig configures the Gemini vision client.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// GeminiClient implements VisionCompleter and TextCompleter with Gemini.
type GeminiClient struct {
	client *genai.Client
	cfg    GeminiConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewGeminiClient dials the Gemini API. Close releases the connection.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiClient{
		client: client,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/pkg/ai/gemini"),
		logger: cfg.Logger.With().Str("component", "gemini_client").Logger(),
	}, nil
}

// Close releases the underlying client.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

func (c *GeminiClient) model(system string) *genai.GenerativeModel {
	m := c.client.GenerativeModel(c.cfg.Model)
	temperature := c.cfg.Temperature
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
	}
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	return m
}

// Complete generates a JSON answer for a text prompt.
func (c *GeminiClient) Complete(ctx context.Context, req TextRequest) (string, error) {
	return c.generate(ctx, "gemini.complete", c.model(req.System), genai.Text(req.Prompt))
}

// CompleteWithImage generates a JSON answer grounded on one image.
func (c *GeminiClient) CompleteWithImage(ctx context.Context, req VisionRequest) (string, error) {
	data := req.ImageData
	if len(data) == 0 {
		fetched, err := c.fetch(ctx, req.ImageURL)
		if err != nil {
			return "", err
		}
		data = fetched
	}
	mime := req.MIMEType
	if !strings.HasPrefix(mime, "image/") {
		mime = mimetype.Detect(data).String()
	}

	return c.generate(ctx, "gemini.complete_with_image", c.model(req.System),
		genai.Text(req.Prompt),
		&genai.Blob{MIMEType: mime, Data: data},
	)
}

func (c *GeminiClient) generate(parent context.Context, spanName string, m *genai.GenerativeModel, parts ...genai.Part) (string, error) {
	ctx, span := c.tracer.Start(parent, spanName, trace.WithAttributes(attribute.String("model", c.cfg.Model)))
	defer span.End()

	start := time.Now()
	resp, err := m.GenerateContent(ctx, parts...)
	aiDuration.WithLabelValues("gemini", c.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", c.fail(span, fmt.Errorf("gemini generate: %w", err))
	}
	text := firstText(resp)
	if strings.TrimSpace(text) == "" {
		return "", c.fail(span, fmt.Errorf("gemini generate: %w", ErrEmptyCompletion))
	}
	c.logger.Debug().Str("model", c.cfg.Model).Dur("latency", time.Since(start)).Msg("completion received")
	return text, nil
}

func (c *GeminiClient) fail(span trace.Span, err error) error {
	aiFailures.WithLabelValues("gemini", c.cfg.Model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (c *GeminiClient) fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("vision request has no image")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxRemoteImageBytes))
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}
