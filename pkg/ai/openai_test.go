package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Model    string            `json:"model"`
	Messages []json.RawMessage `json:"messages"`
	Format   struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

func newGateway(t *testing.T, content string, captured *capturedRequest) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(captured))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1714640000,
			"model":   captured.Model,
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]interface{}{"role": "assistant", "content": content},
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestOpenAIClient(t *testing.T, baseURL string) *OpenAIClient {
	t.Helper()

	client, err := NewOpenAIClient(OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: baseURL + "/",
		Models:  map[string]string{"fast": "gpt-4o-mini", "premium": "gpt-4o"},
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	return client
}

func TestOpenAIClientComplete(t *testing.T) {
	var captured capturedRequest
	server := newGateway(t, `{"score": 8}`, &captured)
	client := newTestOpenAIClient(t, server.URL)

	out, err := client.Complete(context.Background(), TextRequest{System: "You grade homework.", Prompt: "1. 2+3=5", Mode: "premium"})
	require.NoError(t, err)
	require.Equal(t, `{"score": 8}`, out)
	require.Equal(t, "gpt-4o", captured.Model)
	require.Len(t, captured.Messages, 2)
	require.Equal(t, "json_object", captured.Format.Type)
}

func TestOpenAIClientCompleteWithImage(t *testing.T) {
	var captured capturedRequest
	server := newGateway(t, `{"bbox": {"x": 1}}`, &captured)
	client := newTestOpenAIClient(t, server.URL)

	out, err := client.CompleteWithImage(context.Background(), VisionRequest{Prompt: "locate", ImageURL: "https://cdn.test/p1.png"})
	require.NoError(t, err)
	require.Equal(t, `{"bbox": {"x": 1}}`, out)
	require.Equal(t, "gpt-4o", captured.Model)
	require.Len(t, captured.Messages, 1)
	require.Contains(t, string(captured.Messages[0]), "https://cdn.test/p1.png")

	_, err = client.CompleteWithImage(context.Background(), VisionRequest{Prompt: "locate"})
	require.Error(t, err)
}

func TestOpenAIClientEmptyCompletion(t *testing.T) {
	var captured capturedRequest
	server := newGateway(t, "   ", &captured)
	client := newTestOpenAIClient(t, server.URL)

	_, err := client.Complete(context.Background(), TextRequest{Prompt: "grade"})
	require.True(t, errors.Is(err, ErrEmptyCompletion))
}

func TestOpenAIClientModelFor(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{})
	require.Error(t, err)

	client := newTestOpenAIClient(t, "http://localhost")
	require.Equal(t, "gpt-4o-mini", client.ModelFor("fast"))
	require.Equal(t, "gpt-4o", client.ModelFor("premium"))
	require.Equal(t, "gpt-4o-mini", client.ModelFor("standard"))
	require.Equal(t, "gpt-4o-mini", client.ModelFor(""))
}

func TestImageReference(t *testing.T) {
	ref, err := imageReference(VisionRequest{ImageData: []byte("png"), MIMEType: "image/jpeg"})
	require.NoError(t, err)
	require.Equal(t, "data:image/jpeg;base64,cG5n", ref)

	ref, err = imageReference(VisionRequest{ImageData: []byte("png"), MIMEType: "application/pdf"})
	require.NoError(t, err)
	require.Equal(t, "data:image/png;base64,cG5n", ref)

	ref, err = imageReference(VisionRequest{ImageURL: "https://cdn.test/p1.png", ImageData: []byte("png")})
	require.NoError(t, err)
	require.Equal(t, "data:image/png;base64,cG5n", ref)

	ref, err = imageReference(VisionRequest{ImageURL: "https://cdn.test/p1.png"})
	require.NoError(t, err)
	require.Equal(t, "https://cdn.test/p1.png", ref)

	_, err = imageReference(VisionRequest{})
	require.Error(t, err)
}
