package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatcoin/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.UpstreamConfig{
		BaseURL:        srv.URL,
		StreamPath:     "/v1/chat/stream",
		APIKey:         "sk-test",
		TimeoutSeconds: 5,
	}, zaptest.NewLogger(t))
}

func TestClient_Stream(t *testing.T) {
	var got Request
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/stream", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{
			"event: response\ndata: {\"type\":\"response\",\"data\":\"Hel\"}\n\n",
			"event: response\ndata: {\"type\":\"response\",\"data\":\"lo\"}\n\n",
			"event: usage\ndata: {\"type\":\"usage\",\"input_tokens\":1000,\"output_tokens\":500,\"total_tokens\":1500,\"response_id\":\"resp_1\"}\n\n",
		} {
			_, _ = w.Write([]byte(chunk))
			flusher.Flush()
		}
	})

	var deltas []string
	res, err := client.Stream(context.Background(), &Request{
		Message:        "hi",
		Model:          "chat-pro",
		Files:          []string{"f1"},
		History:        []HistoryMessage{{Role: "user", Content: "before"}},
		ConversationID: "conv-1",
	}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "hi", got.Message)
	assert.Equal(t, "chat-pro", got.Model)
	assert.Equal(t, []string{"f1"}, got.Files)
	assert.Equal(t, "conv-1", got.ConversationID)
	require.Len(t, got.History, 1)

	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "Hello", res.Content)
	require.NotNil(t, res.Usage)
	assert.EqualValues(t, 1500, res.Usage.TotalTokens)
}

func TestClient_Stream_OmitsEmptyOptionalFields(t *testing.T) {
	var raw map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte("event: usage\ndata: {\"input_tokens\":1,\"output_tokens\":1}\n\n"))
	})

	_, err := client.Stream(context.Background(), &Request{Message: "hi", Model: "m"}, nil)
	require.NoError(t, err)
	assert.NotContains(t, raw, "files")
	assert.NotContains(t, raw, "history")
	assert.NotContains(t, raw, "conversationId")
}

func TestClient_Stream_Non2xx(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"overloaded"}`))
	})

	_, err := client.Stream(context.Background(), &Request{Message: "hi", Model: "m"}, nil)
	require.Error(t, err)

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrorTypeStatus, re.Type)
	assert.Equal(t, http.StatusServiceUnavailable, re.StatusCode)
	assert.Contains(t, re.Message, "overloaded")
}

func TestClient_Stream_NetworkError(t *testing.T) {
	client := NewClient(config.UpstreamConfig{BaseURL: "http://127.0.0.1:1", TimeoutSeconds: 1}, nil)

	_, err := client.Stream(context.Background(), &Request{Message: "hi", Model: "m"}, nil)
	require.Error(t, err)
	assert.Equal(t, ErrorTypeNetwork, TypeOf(err))
}

func TestClient_Stream_Canceled(t *testing.T) {
	started := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: response\ndata: first\n\n"))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := client.Stream(ctx, &Request{Message: "hi", Model: "m"}, func(string) error { return nil })
	require.Error(t, err)
	assert.Equal(t, ErrorTypeCanceled, TypeOf(err))
}
