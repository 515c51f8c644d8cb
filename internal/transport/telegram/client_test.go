package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mackka2k/tg-news-listener/internal/transport"
)

const getMeResponse = `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"bot"}}`

// newTestClient answers getMe itself and hands sendMessage to handler
func newTestClient(t *testing.T, token string, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/getMe") {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(getMeResponse))
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient(token, WithBaseURL(srv.URL), WithoutLinkPreview())
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestSend_Success(t *testing.T) {
	c := newTestClient(t, "123:abc", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/bot123:abc/sendMessage", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "@news", r.PostForm.Get("chat_id"))
		assert.Equal(t, "hello", r.PostForm.Get("text"))
		assert.Equal(t, "true", r.PostForm.Get("disable_web_page_preview"))
		writeJSON(w, http.StatusOK, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":-100,"type":"channel"}}}`)
	})

	err := c.Send(context.Background(), "@news", "hello")

	require.NoError(t, err)
}

func TestSend_NumericChatID(t *testing.T) {
	c := newTestClient(t, "123:abc", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "-1001234567890", r.PostForm.Get("chat_id"))
		writeJSON(w, http.StatusOK, `{"ok":true,"result":{"message_id":1}}`)
	})

	err := c.Send(context.Background(), "-1001234567890", "hello")

	require.NoError(t, err)
}

func TestSend_LargeResponseIsDelivered(t *testing.T) {
	// Long text echoed back pushes the reply well past 64 KiB
	bigText := strings.Repeat("x", 70*1024)
	c := newTestClient(t, "123:abc", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"ok":true,"result":{"message_id":1,"text":"`+bigText+`"}}`)
	})

	err := c.Send(context.Background(), "@news", "hello")

	assert.NoError(t, err)
}

func TestSend_MalformedSuccessBodyIsDelivered(t *testing.T) {
	c := newTestClient(t, "123:abc", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1`))
	})

	err := c.Send(context.Background(), "@news", "hello")

	assert.NoError(t, err)
}

func TestSend_TooManyRequests(t *testing.T) {
	c := newTestClient(t, "123:abc", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 7","parameters":{"retry_after":7}}`)
	})

	err := c.Send(context.Background(), "@news", "hello")

	var te *transport.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, transport.Retryable, te.Kind)
	assert.Equal(t, 7*time.Second, te.RetryAfter)
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
}

func TestSend_Classification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		kind        transport.Kind
		code        int
	}{
		{name: "html gateway error", status: http.StatusBadGateway, contentType: "text/html", body: `<html>bad gateway</html>`, kind: transport.Retryable, code: http.StatusBadGateway},
		{name: "json server error", status: http.StatusInternalServerError, contentType: "application/json", body: `{"ok":false,"error_code":500,"description":"Internal Server Error"}`, kind: transport.Retryable, code: http.StatusInternalServerError},
		{name: "bad request", status: http.StatusBadRequest, contentType: "application/json", body: `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`, kind: transport.Fatal, code: http.StatusBadRequest},
		{name: "unauthorized", status: http.StatusUnauthorized, contentType: "application/json", body: `{"ok":false,"error_code":401,"description":"Unauthorized"}`, kind: transport.Fatal, code: http.StatusUnauthorized},
		{name: "forbidden", status: http.StatusForbidden, contentType: "application/json", body: `{"ok":false,"error_code":403,"description":"Forbidden: bot was kicked"}`, kind: transport.Fatal, code: http.StatusForbidden},
		{name: "plain text forbidden", status: http.StatusForbidden, contentType: "text/plain", body: `forbidden`, kind: transport.Fatal, code: http.StatusForbidden},
		{name: "ok false without code", status: http.StatusOK, contentType: "application/json", body: `{"ok":false}`, kind: transport.Retryable, code: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, "123:abc", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			err := c.Send(context.Background(), "@news", "hello")

			var te *transport.Error
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.kind, te.Kind)
			assert.Equal(t, tt.code, te.StatusCode)
		})
	}
}

func TestSend_NetworkErrorIsRetryableAndRedacted(t *testing.T) {
	c := newTestClient(t, "123:secret", func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	})

	err := c.Send(context.Background(), "@news", "hello")

	var te *transport.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, transport.Retryable, te.Kind)
	assert.NotContains(t, err.Error(), "123:secret")
}

func TestSend_CanceledContext(t *testing.T) {
	c := newTestClient(t, "123:abc", func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be sent")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Send(ctx, "@news", "hello")

	assert.Equal(t, transport.Retryable, transport.Classify(err).Kind)
}

func TestNewClient_EmptyToken(t *testing.T) {
	_, err := NewClient("  ")
	assert.Error(t, err)
}

func TestNewClient_RejectedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	}))
	defer srv.Close()

	_, err := NewClient("123:secret", WithBaseURL(srv.URL))

	require.Error(t, err)
	assert.NotContains(t, err.Error(), "123:secret")
}
