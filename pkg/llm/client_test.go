package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxpipe-server/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(quietLogger(), &config.LLMConfig{
		APIKey:      "test-key",
		APIURL:      server.URL,
		Model:       "gpt-3.5-turbo",
		Temperature: 0.5,
		MaxTokens:   256,
		TopP:        0.8,
		Timeout:     2 * time.Second,
	})
}

func TestCompleteSendsSamplingParameters(t *testing.T) {
	var received chatCompletionRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`))
	})

	reply, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hello"}})
	require.NoError(t, err)
	assert.Equal(t, "hi", reply)
	assert.Equal(t, "gpt-3.5-turbo", received.Model)
	assert.Equal(t, 0.5, received.Temperature)
	assert.Equal(t, 256, received.MaxTokens)
	assert.Equal(t, 0.8, received.TopP)
}

func TestCompleteErrorStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	})

	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hello"}})
	assert.Error(t, err)
}

func TestCompleteEmptyChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})

	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hello"}})
	assert.Error(t, err)
}
