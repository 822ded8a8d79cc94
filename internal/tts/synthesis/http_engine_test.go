package synthesis_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/voice-service/internal/tts/synthesis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createMockSynthesisServer routes requests by path to the given handlers.
func createMockSynthesisServer(
	t *testing.T,
	responses map[string]http.HandlerFunc,
) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		handler, exists := responses[request.URL.Path]
		if !exists {
			t.Errorf("Unexpected request path: %s", request.URL.Path)
			writer.WriteHeader(http.StatusNotFound)

			return
		}

		handler(writer, request)
	}))
	t.Cleanup(server.Close)

	return server
}

func TestHTTPEngine_Synthesize_Success(t *testing.T) {
	t.Parallel()

	var received synthesis.Request

	server := createMockSynthesisServer(t, map[string]http.HandlerFunc{
		"/v1/synthesize": func(writer http.ResponseWriter, request *http.Request) {
			assert.Equal(t, http.MethodPost, request.Method)
			assert.Equal(t, "application/json", request.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(request.Body).Decode(&received))

			writer.Header().Set("Content-Type", "audio/mpeg")
			writer.WriteHeader(http.StatusOK)
			_, _ = writer.Write([]byte("chunk-1"))
			_, _ = writer.Write([]byte("chunk-2"))
		},
	})

	engine := synthesis.NewHTTPEngine(server.URL+"/", 5*time.Second)

	data, err := synthesis.Collect(context.Background(), engine, synthesis.Request{
		Text: "Hello", Voice: "en-US-AriaNeural", Rate: "+10%", Pitch: "+0Hz",
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("chunk-1chunk-2"), data)
	assert.Equal(t, "Hello", received.Text)
	assert.Equal(t, "en-US-AriaNeural", received.Voice)
	assert.Equal(t, "+10%", received.Rate)
}

func TestHTTPEngine_Synthesize_EmptyStream(t *testing.T) {
	t.Parallel()

	server := createMockSynthesisServer(t, map[string]http.HandlerFunc{
		"/v1/synthesize": func(writer http.ResponseWriter, _ *http.Request) {
			writer.Header().Set("Content-Type", "audio/wav")
			writer.WriteHeader(http.StatusOK)
		},
	})

	engine := synthesis.NewHTTPEngine(server.URL, 5*time.Second)

	_, err := synthesis.Collect(context.Background(), engine, synthesis.Request{Text: "Hi", Voice: "v"})
	require.ErrorIs(t, err, synthesis.ErrEmptyAudio)
}

func TestHTTPEngine_Synthesize_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "structured error",
			handler: func(writer http.ResponseWriter, _ *http.Request) {
				writer.Header().Set("Content-Type", "application/json")
				writer.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(writer).Encode(synthesis.ErrorResponse{Detail: "bad voice", ErrorCode: "E42"})
			},
			want: "bad voice (code: E42)",
		},
		{
			name: "raw error",
			handler: func(writer http.ResponseWriter, _ *http.Request) {
				writer.WriteHeader(http.StatusInternalServerError)
				_, _ = io.WriteString(writer, "boom")
			},
			want: "body: boom",
		},
		{
			name: "wrong content type",
			handler: func(writer http.ResponseWriter, _ *http.Request) {
				writer.Header().Set("Content-Type", "text/html")
				writer.WriteHeader(http.StatusOK)
				_, _ = io.WriteString(writer, "<html>")
			},
			want: "unexpected content type",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server := createMockSynthesisServer(t, map[string]http.HandlerFunc{"/v1/synthesize": testCase.handler})
			engine := synthesis.NewHTTPEngine(server.URL, 5*time.Second)

			_, err := engine.Synthesize(context.Background(), synthesis.Request{Text: "Hi", Voice: "v"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), testCase.want)
		})
	}
}

func TestHTTPEngine_Synthesize_ValidatesBeforeSending(t *testing.T) {
	t.Parallel()

	engine := synthesis.NewHTTPEngine("http://127.0.0.1:1", time.Second)

	_, err := engine.Synthesize(context.Background(), synthesis.Request{Voice: "v"})
	require.ErrorIs(t, err, synthesis.ErrTextEmpty)
}

func TestHTTPEngine_HealthCheck(t *testing.T) {
	t.Parallel()

	healthy := createMockSynthesisServer(t, map[string]http.HandlerFunc{
		"/health": func(writer http.ResponseWriter, _ *http.Request) {
			writer.WriteHeader(http.StatusOK)
		},
	})
	require.NoError(t, synthesis.NewHTTPEngine(healthy.URL, time.Second).HealthCheck(context.Background()))

	unhealthy := createMockSynthesisServer(t, map[string]http.HandlerFunc{
		"/health": func(writer http.ResponseWriter, _ *http.Request) {
			writer.WriteHeader(http.StatusServiceUnavailable)
		},
	})
	err := synthesis.NewHTTPEngine(unhealthy.URL, time.Second).HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
