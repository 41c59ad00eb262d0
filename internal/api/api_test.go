package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ShayCichocki/specfit/pkg/models"
)

// messagesServer answers /v1/messages with a fixed reply and records the
// request bodies.
type messagesServer struct {
	*httptest.Server

	mu     sync.Mutex
	bodies []string
}

func newMessagesServer(t *testing.T, status int, reply string) *messagesServer {
	t.Helper()
	s := &messagesServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.bodies = append(s.bodies, string(body))
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/v1/messages" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad request"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_test",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-sonnet-4-20250514",
			"content":       []map[string]any{{"type": "text", "text": reply}},
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 12, "output_tokens": 7},
		})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *messagesServer) lastBody() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bodies) == 0 {
		return ""
	}
	return s.bodies[len(s.bodies)-1]
}

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{APIKey: "test-key", BaseURL: url})
	require.NoError(t, err)
	return c
}

func TestComplete(t *testing.T) {
	srv := newMessagesServer(t, http.StatusOK, "  hello  ")
	c := testClient(t, srv.URL)

	text, err := c.Complete(context.Background(), "be brief", "say hello", 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	body := srv.lastBody()
	assert.Equal(t, "be brief", gjson.Get(body, "system.0.text").String())
	assert.EqualValues(t, DefaultMaxTokens, gjson.Get(body, "max_tokens").Int())
	assert.Equal(t, "say hello", gjson.Get(body, "messages.0.content.0.text").String())

	in, out := c.Tracker().Total()
	assert.EqualValues(t, 12, in)
	assert.EqualValues(t, 7, out)
}

func TestCompleteError(t *testing.T) {
	srv := newMessagesServer(t, http.StatusBadRequest, "")
	_, err := testClient(t, srv.URL).Complete(context.Background(), "", "x", 10)
	assert.Error(t, err)
}

func TestArbiterJudge(t *testing.T) {
	srv := newMessagesServer(t, http.StatusOK,
		"Here is my verdict:\n```json\n{\"equivalent\": true, \"confidence\": 0.92, \"reason\": \"EmailStr validates format\"}\n```")
	arb := NewArbiter(testClient(t, srv.URL))

	v, err := arb.Judge(context.Background(), "email_format", "must be valid email address")
	require.NoError(t, err)
	assert.True(t, v.Equivalent)
	assert.InDelta(t, 0.92, v.Confidence, 1e-9)
	assert.Equal(t, "EmailStr validates format", v.Reason)

	prompt := gjson.Get(srv.lastBody(), "messages.0.content.0.text").String()
	assert.Contains(t, prompt, "email_format")
	assert.Contains(t, prompt, "must be valid email address")
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    bool
		conf    float64
		wantErr bool
	}{
		{"plain", `{"equivalent": false, "confidence": 0.3, "reason": "different"}`, false, 0.3, false},
		{"clamped", `{"equivalent": true, "confidence": 7}`, true, 1, false},
		{"no confidence", `{"equivalent": true}`, true, 1, false},
		{"no json", "they look the same to me", false, 0, true},
		{"malformed", `{"equivalent": tru}`, false, 0, true},
		{"missing field", `{"confidence": 0.9}`, false, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := parseVerdict(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Equivalent)
			assert.InDelta(t, tt.conf, v.Confidence, 1e-9)
		})
	}
}

func TestGeneratorGenerate(t *testing.T) {
	patch := "=== FILE: app/models.py ===\nclass Product(BaseModel):\n    price: float = Field(gt=0)"
	srv := newMessagesServer(t, http.StatusOK, "```\n"+patch+"\n```")
	gen := NewGenerator(testClient(t, srv.URL), 2048)

	fc := models.FailureContext{
		ArtifactID: "shop",
		Iteration:  2,
		Score:      0.6,
		Target:     0.8,
		Failures: []models.Failure{
			{Class: "missing_validation:bound", Text: "Product.price: gt=0"},
		},
		Files:          map[string]string{"app/models.py": "class Product(BaseModel):\n    price: float\n"},
		PreviousErrors: []string{"apply patch: hunk 1 does not match"},
	}
	patterns := []*models.Pattern{
		{ID: "pt-1", Kind: models.PatternSuccess, Patch: "use Field(gt=0)", Metadata: models.PatternMetadata{Delta: 0.2}},
		{ID: "pt-2", Kind: models.PatternFailure, Patch: "drop the validator", Metadata: models.PatternMetadata{Delta: -0.1}},
	}

	got, err := gen.Generate(context.Background(), fc, patterns)
	require.NoError(t, err)
	assert.Equal(t, patch+"\n", got)

	body := srv.lastBody()
	assert.EqualValues(t, 2048, gjson.Get(body, "max_tokens").Int())
	prompt := gjson.Get(body, "messages.0.content.0.text").String()
	for _, want := range []string{
		"[missing_validation:bound] Product.price: gt=0",
		"pt-1 (this patch helped, delta +0.20)",
		"pt-2 (this patch made things worse",
		"hunk 1 does not match",
		"=== FILE: app/models.py ===",
	} {
		assert.Contains(t, prompt, want)
	}
}

func TestGeneratorEmptyPatch(t *testing.T) {
	srv := newMessagesServer(t, http.StatusOK, "```\n```")
	_, err := NewGenerator(testClient(t, srv.URL), 0).Generate(context.Background(), models.FailureContext{}, nil)
	assert.ErrorContains(t, err, "empty patch")
}

func TestRepairPromptBudget(t *testing.T) {
	big := make([]byte, maxFileChars+1)
	for i := range big {
		big[i] = 'x'
	}
	prompt := repairPrompt(models.FailureContext{Files: map[string]string{
		"a.py": "small",
		"b.py": string(big),
	}}, nil)
	assert.Contains(t, prompt, "=== FILE: a.py ===\nsmall")
	assert.Contains(t, prompt, "=== FILE: b.py ===\n(omitted, prompt budget exhausted)")
}
