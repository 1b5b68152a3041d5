package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollama-chat-go/internal/config"
)

func testConfig(baseURL string) config.OllamaConfig {
	return config.OllamaConfig{
		BaseURL:        baseURL,
		TimeoutSeconds: 5,
		CheckSeconds:   1,
		Generation: config.OllamaGenerationConfig{
			Temperature: 0.7,
			TopP:        0.9,
			TopK:        40,
			NumPredict:  256,
			Stop:        []string{"User:", "Human:", "Assistant:", "AI:"},
		},
	}
}

func newOllamaServer(t *testing.T, lines []string, captured *generateRequest) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"models":[{"name":"phi3:latest"},{"name":"llama3:latest"}]}`)
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		for _, l := range lines {
			fmt.Fprintln(w, l)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_CheckConnectionAndListModels(t *testing.T) {
	srv := newOllamaServer(t, nil, nil)
	c := NewClient(testConfig(srv.URL))

	assert.True(t, c.CheckConnection(context.Background()))
	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"phi3:latest", "llama3:latest"}, models)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(testConfig(url))
	assert.False(t, c.CheckConnection(context.Background()))
	_, err := c.ListModels(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = c.Generate(context.Background(), GenerateRequest{Model: "phi3:latest", Prompt: "hi"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_NonOKStatusIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	assert.False(t, c.CheckConnection(context.Background()))
	_, err := c.Generate(context.Background(), GenerateRequest{Model: "phi3:latest", Prompt: "hi"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_GenerateSkipsMalformedLines(t *testing.T) {
	var captured generateRequest
	srv := newOllamaServer(t, []string{
		`{"response":"Hel","done":false}`,
		`not json`,
		``,
		`{"response":"lo","done":false}`,
		`{"response":"","done":true}`,
		`{"response":"ignored after done","done":false}`,
	}, &captured)
	c := NewClient(testConfig(srv.URL))

	text, err := c.Generate(context.Background(), GenerateRequest{Model: "phi3:latest", Prompt: "User: hi\nAssistant:", System: "be nice"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)

	assert.Equal(t, "phi3:latest", captured.Model)
	assert.Equal(t, "be nice", captured.System)
	assert.True(t, captured.Stream)
	assert.Equal(t, 40, captured.Options.TopK)
	assert.Equal(t, 256, captured.Options.NumPredict)
	assert.Equal(t, []string{"User:", "Human:", "Assistant:", "AI:"}, captured.Options.Stop)
}

func TestClient_StreamGenerateYieldsChunksInOrder(t *testing.T) {
	srv := newOllamaServer(t, []string{
		`{"response":"a","done":false}`,
		`{"response":"b","done":false}`,
		`{"response":"c","done":true}`,
	}, nil)
	c := NewClient(testConfig(srv.URL))

	stream, err := c.StreamGenerate(context.Background(), GenerateRequest{Model: "phi3:latest", Prompt: "x"})
	require.NoError(t, err)
	defer stream.Close()

	var got []string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, chunk)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)

	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestClient_GenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.TimeoutSeconds = 1
	c := NewClient(cfg)

	start := time.Now()
	_, err := c.Generate(context.Background(), GenerateRequest{Model: "phi3:latest", Prompt: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), 3*time.Second)
}
