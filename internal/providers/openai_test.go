package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProvider_Chat(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "gen-1",
			"choices": [
				{"index": 0, "message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"},
				{"index": 1, "message": {"role": "assistant", "content": "ignored"}, "finish_reason": "stop"}
			],
			"usage": {"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openrouter", "sk-test", srv.URL+"/", "default/model")
	resp, err := p.Chat(context.Background(), ChatRequest{
		Model: "meta/llama",
		Messages: []Message{
			{Role: RoleUser, Content: "alice - hello"},
			{Role: RoleAssistant, Content: "bot - hey"},
		},
	})
	require.NoError(t, err)

	content, ok := resp.FirstContent()
	require.True(t, ok)
	assert.Equal(t, "hi there", content)
	assert.Len(t, resp.Choices, 2)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 12, resp.Usage.TotalTokens)

	assert.Equal(t, "meta/llama", gotBody["model"])
	msgs, ok := gotBody["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, map[string]interface{}{"role": "assistant", "content": "bot - hey"}, msgs[1])
	_, hasStream := gotBody["stream"]
	assert.False(t, hasStream)
}

func TestOpenAIProvider_DefaultModel(t *testing.T) {
	var model string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		model, _ = body["model"].(string)
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openrouter", "", srv.URL, "default/model")
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "default/model", model)

	_, ok := resp.FirstContent()
	assert.False(t, ok, "no choices must be reported as absent")
}

func TestOpenAIProvider_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	calls := 0
	counting := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return http.DefaultTransport.RoundTrip(r)
	})}

	p := NewOpenAIProvider("openrouter", "k", srv.URL, "m").WithHTTPClient(counting)
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Status)
	assert.Contains(t, httpErr.Body, "rate limited")
	assert.Equal(t, 7.0, httpErr.RetryAfter.Seconds())
	assert.Equal(t, 1, calls, "failed calls must not be retried")
}

func TestOpenAIProvider_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openrouter", "k", srv.URL, "m")
	_, err := p.Chat(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openrouter: decode response")
}

func TestOpenAIProvider_NoModel(t *testing.T) {
	p := NewOpenAIProvider("openrouter", "k", "http://127.0.0.1:1", "")
	_, err := p.Chat(context.Background(), ChatRequest{})
	require.Error(t, err)
}

func TestOpenAIProvider_DefaultAPIBase(t *testing.T) {
	p := NewOpenAIProvider("openrouter", "k", "", "m")
	assert.Equal(t, DefaultAPIBase, p.APIBase())
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestOpenAIProvider_WithChatPath(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`))
	}))
	defer srv.Close()

	tests := []struct {
		chatPath string
		want     string
	}{
		{"", "/chat/completions"},
		{"/v2/chat", "/v2/chat"},
		{"openai/chat", "/openai/chat"},
	}
	for _, tt := range tests {
		p := NewOpenAIProvider("local", "", srv.URL, "m").WithChatPath(tt.chatPath)
		_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
		require.NoError(t, err)
		assert.Equal(t, tt.want, path, tt.chatPath)
	}
}
