package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/edgard/botfleet/internal/config"
	"github.com/edgard/botfleet/internal/database"
)

type fakeModels struct {
	mu      sync.Mutex
	calls   int
	errs    []error
	resp    *genai.GenerateContentResponse
	lastCfg *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, _ []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastCfg = cfg
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.resp, nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
	}
}

func newTestClient(models contentGenerator, maxRetries int) *sdkClient {
	return newClient(models, config.GeminiConfig{
		ModelName:  "test-model",
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
		Timeout:    time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGenerateUsesTypeInstruction(t *testing.T) {
	t.Parallel()

	models := &fakeModels{resp: textResponse("  a short summary  ")}
	client := newTestClient(models, 0)

	out, err := client.Generate(context.Background(), Request{
		Type:        database.CommandSummary,
		Instruction: "Answer in Portuguese.",
		Prompt:      "long text",
		Username:    "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "a short summary", out)

	require.NotNil(t, models.lastCfg.SystemInstruction)
	instruction := models.lastCfg.SystemInstruction.Parts[0].Text
	assert.Contains(t, instruction, "Summarize")
	assert.Contains(t, instruction, "Answer in Portuguese.")
	assert.Contains(t, instruction, "@alice")
}

func TestGenerateRetries(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		errs      []error
		retries   int
		wantErr   bool
		wantCalls int
	}{
		{
			name:      "retriable then success",
			errs:      []error{&genai.APIError{Code: 503}},
			retries:   2,
			wantCalls: 2,
		},
		{
			name:      "retriable until exhausted",
			errs:      []error{&genai.APIError{Code: 500}, &genai.APIError{Code: 500}},
			retries:   1,
			wantErr:   true,
			wantCalls: 2,
		},
		{
			name:      "non retriable",
			errs:      []error{&genai.APIError{Code: 400}},
			retries:   3,
			wantErr:   true,
			wantCalls: 1,
		},
		{
			name:      "plain error",
			errs:      []error{errors.New("network down")},
			retries:   3,
			wantErr:   true,
			wantCalls: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			models := &fakeModels{errs: tc.errs, resp: textResponse("ok")}
			client := newTestClient(models, tc.retries)

			_, err := client.Generate(context.Background(), Request{Type: database.CommandAIAnswer, Prompt: "q"})
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.wantCalls, models.calls)
		})
	}
}

func TestGenerateRejectsEmptyResults(t *testing.T) {
	t.Parallel()

	blocked := &genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{
			BlockReason:        genai.BlockedReasonSafety,
			BlockReasonMessage: "unsafe",
		},
	}

	testCases := []struct {
		name string
		resp *genai.GenerateContentResponse
	}{
		{name: "blocked", resp: blocked},
		{name: "no candidates", resp: &genai.GenerateContentResponse{}},
		{name: "blank text", resp: textResponse("   ")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client := newTestClient(&fakeModels{resp: tc.resp}, 0)
			_, err := client.Generate(context.Background(), Request{Type: database.CommandAITask, Prompt: "p"})
			assert.Error(t, err)
		})
	}

	client := newTestClient(&fakeModels{resp: textResponse("x")}, 0)
	_, err := client.Generate(context.Background(), Request{Prompt: "  "})
	assert.Error(t, err, "empty prompt")
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient(context.Background(), config.GeminiConfig{}, slog.Default())
	assert.Error(t, err)
}
