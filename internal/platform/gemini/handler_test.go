package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/phrazzld/taskgate/internal/config"
	"github.com/phrazzld/taskgate/internal/platform/gemini"
	"github.com/phrazzld/taskgate/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	resp      *genai.GenerateContentResponse
	err       error
	calls     int
	lastModel string
	lastText  string
	lastCfg   *genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(
	_ context.Context,
	model string,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.lastModel = model
	f.lastCfg = cfg
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.lastText = contents[0].Parts[0].Text
	}
	return f.resp, f.err
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: "model"}
	for _, p := range parts {
		content.Parts = append(content.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: content, FinishReason: genai.FinishReasonStop}},
	}
}

func newHandler(t *testing.T, gen *fakeGenerator) *gemini.Handler {
	t.Helper()
	h, err := gemini.NewHandlerWithGenerator(gen, "gemini-2.0-flash", nil)
	require.NoError(t, err)
	return h
}

func TestHandler_GeneratesText(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{resp: textResponse("Hello, ", "world")}
	h := newHandler(t, gen)

	out, err := h.Handle(context.Background(), []byte(`{"prompt":"say hi","temperature":0.2,"max_output_tokens":64}`))
	require.NoError(t, err)

	var resp gemini.Response
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, "Hello, world", resp.Text)
	assert.Equal(t, "gemini-2.0-flash", resp.Model)

	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, "gemini-2.0-flash", gen.lastModel)
	assert.Equal(t, "say hi", gen.lastText)
	require.NotNil(t, gen.lastCfg.Temperature)
	assert.InDelta(t, 0.2, *gen.lastCfg.Temperature, 1e-6)
	assert.Equal(t, int32(64), gen.lastCfg.MaxOutputTokens)
}

func TestHandler_PayloadErrors(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{resp: textResponse("unused")}
	h := newHandler(t, gen)

	_, err := h.Handle(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, gemini.ErrInvalidPayload)

	_, err = h.Handle(context.Background(), []byte(`{"prompt":"   "}`))
	assert.ErrorIs(t, err, gemini.ErrEmptyPrompt)

	assert.Zero(t, gen.calls)
}

func TestHandler_ResponseErrors(t *testing.T) {
	t.Parallel()

	apiErr := errors.New("503 unavailable")
	tests := []struct {
		name string
		gen  *fakeGenerator
		want error
	}{
		{"api error", &fakeGenerator{err: apiErr}, apiErr},
		{"nil response", &fakeGenerator{}, gemini.ErrInvalidResponse},
		{"no candidates", &fakeGenerator{resp: &genai.GenerateContentResponse{}}, gemini.ErrInvalidResponse},
		{"no text", &fakeGenerator{resp: textResponse()}, gemini.ErrInvalidResponse},
		{
			"blocked",
			&fakeGenerator{resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
			}},
			gemini.ErrContentBlocked,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := newHandler(t, tc.gen).Handle(context.Background(), []byte(`{"prompt":"p"}`))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestHandler_RegistersInRegistry(t *testing.T) {
	t.Parallel()

	r := task.NewRegistry()
	require.NoError(t, r.Register(gemini.HandlerKind, newHandler(t, &fakeGenerator{resp: textResponse("ok")})))

	h, err := r.Lookup(gemini.HandlerKind)
	require.NoError(t, err)
	out, err := h.Handle(context.Background(), []byte(`{"prompt":"p"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"ok","model":"gemini-2.0-flash"}`, string(out))
}

func TestNewHandler_Validation(t *testing.T) {
	t.Parallel()

	_, err := gemini.NewHandler(context.Background(), config.LLMConfig{ModelName: "m"}, nil)
	assert.ErrorIs(t, err, gemini.ErrInvalidConfig)

	_, err = gemini.NewHandlerWithGenerator(nil, "m", nil)
	assert.ErrorIs(t, err, task.ErrNilDependency)

	_, err = gemini.NewHandlerWithGenerator(&fakeGenerator{}, "", nil)
	assert.ErrorIs(t, err, gemini.ErrInvalidConfig)
}
