package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingsServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		type datum struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]datum, len(req.Input))
		// answer in reverse order so index handling is exercised
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			data[i] = datum{Object: "embedding", Embedding: []float32{float32(len(req.Input[j])), 1}, Index: j}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestOpenAIEmbed(t *testing.T) {
	var requests atomic.Int32
	srv := embeddingsServer(t, &requests)
	defer srv.Close()

	o, err := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1", BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, o.Model())

	vecs, err := o.Embed(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 1}, {3, 1}}, vecs)
	assert.EqualValues(t, 2, requests.Load(), "three texts in batches of two")
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAI(OpenAIConfig{})
	assert.ErrorContains(t, err, "OPENAI_API_KEY")
}

type countingEmbedder struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.calls = append(c.calls, append([]string(nil), texts...))
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 0.5}
	}
	return out, nil
}

func TestCachedEmbed(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := OpenCache(CacheConfig{InMemory: true}, inner, "m1")
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	first, err := c.Embed(ctx, []string{"x", "yy", "x"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0.5}, {2, 0.5}, {1, 0.5}}, first)
	require.Len(t, inner.calls, 1)
	assert.Equal(t, []string{"x", "yy"}, inner.calls[0], "duplicates are fetched once")

	second, err := c.Embed(ctx, []string{"yy", "zzz"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 0.5}, {3, 0.5}}, second)
	require.Len(t, inner.calls, 2)
	assert.Equal(t, []string{"zzz"}, inner.calls[1], "cached texts are not refetched")
}

func TestCachedPersists(t *testing.T) {
	dir := t.TempDir()
	inner := &countingEmbedder{}

	c, err := OpenCache(CacheConfig{Path: dir}, inner, "m1")
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = OpenCache(CacheConfig{Path: dir}, inner, "m1")
	require.NoError(t, err)
	defer c.Close()
	vecs, err := c.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{5, 0.5}}, vecs)
	assert.Len(t, inner.calls, 1)
}

func TestCachedBackendError(t *testing.T) {
	c, err := OpenCache(CacheConfig{InMemory: true}, &countingEmbedder{err: errors.New("down")}, "m1")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Embed(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "down")
}

func TestOpenCacheRequiresPath(t *testing.T) {
	_, err := OpenCache(CacheConfig{}, &countingEmbedder{}, "m1")
	assert.Error(t, err)
}

func TestVectorRoundTrip(t *testing.T) {
	v := []float32{0, -1.5, 3.25}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
}
