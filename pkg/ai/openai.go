package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "completion_duration_seconds",
		Help:      "Duration of model completion requests",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
	}, []string{"provider", "model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "completion_failures_total",
		Help:      "Number of failed model completion requests",
	}, []string{"provider", "model"})
)

// ErrEmptyCompletion is returned when the provider answers without content.
var ErrEmptyCompletion = errors.New("model returned no content")

// OpenAIConfig defines configuration options for the OpenAI client. BaseURL
// may point at any OpenAI compatible gateway.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Models      map[string]string
	VisionModel string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIClient implements TextCompleter and VisionCompleter against the chat
// completion API.
type OpenAIClient struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIClient builds a client using the provided configuration.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Models == nil {
		cfg.Models = map[string]string{}
	}
	if cfg.Models["standard"] == "" {
		cfg.Models["standard"] = "gpt-4o-mini"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = "gpt-4o"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/pkg/ai/openai"),
		logger: cfg.Logger.With().Str("component", "openai_client").Logger(),
	}, nil
}

// ModelFor resolves the model configured for a grading mode.
func (c *OpenAIClient) ModelFor(mode string) string {
	if model := c.cfg.Models[mode]; model != "" {
		return model
	}
	return c.cfg.Models["standard"]
}

// Complete sends a system+user chat completion and returns the text content.
func (c *OpenAIClient) Complete(ctx context.Context, req TextRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})
	return c.create(ctx, "openai.complete", c.ModelFor(req.Mode), messages)
}

// CompleteWithImage sends the prompt together with one image.
func (c *OpenAIClient) CompleteWithImage(ctx context.Context, req VisionRequest) (string, error) {
	imageURL, err := imageReference(req)
	if err != nil {
		return "", err
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageURL, Detail: openai.ImageURLDetailHigh}},
		},
	})
	return c.create(ctx, "openai.complete_with_image", c.cfg.VisionModel, messages)
}

func (c *OpenAIClient) create(parent context.Context, spanName, model string, messages []openai.ChatCompletionMessage) (string, error) {
	ctx, span := c.tracer.Start(parent, spanName, trace.WithAttributes(attribute.String("model", model)))
	defer span.End()

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          model,
		MaxTokens:      c.cfg.MaxTokens,
		Temperature:    c.cfg.Temperature,
		Messages:       messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	aiDuration.WithLabelValues("openai", model).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", c.fail(span, model, fmt.Errorf("openai complete: %w", err))
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", c.fail(span, model, fmt.Errorf("openai complete: %w", ErrEmptyCompletion))
	}

	span.SetAttributes(attribute.Int("usage.total_tokens", resp.Usage.TotalTokens))
	c.logger.Debug().Str("model", model).Int("tokens", resp.Usage.TotalTokens).Dur("latency", time.Since(start)).Msg("completion received")
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) fail(span trace.Span, model string, err error) error {
	aiFailures.WithLabelValues("openai", model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// imageReference returns a URL usable in an image_url part, inlining raw
// bytes as a data URL.
func imageReference(req VisionRequest) (string, error) {
	if len(req.ImageData) > 0 {
		mime := req.MIMEType
		if mime == "" || !strings.HasPrefix(mime, "image/") {
			mime = "image/png"
		}
		return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.ImageData), nil
	}
	if req.ImageURL != "" {
		return req.ImageURL, nil
	}
	return "", errors.New("vision request has no image")
}
