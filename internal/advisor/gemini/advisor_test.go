package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/advisor"
)

type tempNetErr struct{}

func (tempNetErr) Error() string   { return "temp net err" }
func (tempNetErr) Timeout() bool   { return false }
func (tempNetErr) Temporary() bool { return true }

func TestClassifyErr(t *testing.T) {
	tests := []struct {
		name          string
		in            error
		wantTransient bool
	}{
		{name: "nil", in: nil, wantTransient: false},
		{name: "api_429", in: genai.APIError{Code: 429}, wantTransient: true},
		{name: "api_503", in: genai.APIError{Code: 503}, wantTransient: true},
		{name: "api_400", in: genai.APIError{Code: 400}, wantTransient: false},
		{name: "net_temporary", in: tempNetErr{}, wantTransient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyErr(tt.in)
			var te *acquire.TransientError
			isTransient := errors.As(got, &te)
			if isTransient != tt.wantTransient {
				t.Fatalf("transient=%v want=%v (err=%T %v)", isTransient, tt.wantTransient, got, got)
			}
		})
	}
}

type fakeGenerator struct {
	text    string
	err     error
	prompts []string
}

func (f *fakeGenerator) GenerateContent(_ context.Context, _ string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	for _, c := range contents {
		for _, p := range c.Parts {
			f.prompts = append(f.prompts, p.Text)
		}
	}
	if cfg == nil || cfg.ResponseSchema == nil || cfg.ResponseMIMEType != "application/json" {
		return nil, errors.New("structured output not requested")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}},
		}},
	}, nil
}

var links = []acquire.CandidateLink{
	{URL: "https://portal.example.com/view?id=1", Label: "View your bill"},
	{URL: "https://example.com/unsubscribe", Label: "Unsubscribe"},
	{URL: "https://cdn.example.com/bill.pdf"},
}

func TestClassifyParsesIndices(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{text: `{"links":[{"index":0,"type":"interactive_portal"},{"index":2,"type":"direct_pdf"},{"index":7,"type":"direct_pdf"},{"index":1,"type":"other"}],"reason":"portal plus cdn pdf"}`}
	a := &Advisor{models: gen, model: "test-model"}

	email := &acquire.InboundEmail{From: "billing@utility.example", Subject: "Your March bill"}
	got, err := a.Classify(context.Background(), email, links, "prefer the portal")
	require.NoError(t, err)
	require.Len(t, got.DocumentLinks, 2)
	assert.Equal(t, acquire.LinkInteractivePortal, got.DocumentLinks[0].Type)
	assert.Equal(t, "View your bill", got.DocumentLinks[0].Label)
	assert.Equal(t, acquire.LinkDirectPDF, got.DocumentLinks[1].Type)
	assert.Equal(t, advisor.MethodAI, got.Method)
	assert.Equal(t, "portal plus cdn pdf", got.Reason)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "0. https://portal.example.com/view?id=1")
	assert.Contains(t, gen.prompts[0], "prefer the portal")
}

func TestClassifyPropagatesErrors(t *testing.T) {
	t.Parallel()

	a := &Advisor{models: &fakeGenerator{err: genai.APIError{Code: 500}}, model: "m"}
	_, err := a.Classify(context.Background(), nil, links, "")
	var te *acquire.TransientError
	assert.ErrorAs(t, err, &te)

	a = &Advisor{models: &fakeGenerator{text: "not json"}, model: "m"}
	_, err = a.Classify(context.Background(), nil, links, "")
	assert.Error(t, err)
}

func TestExtractPIN(t *testing.T) {
	t.Parallel()

	a := &Advisor{models: &fakeGenerator{text: `{"found":true,"code":" 482913 ","confidence":1.4}`}, model: "m"}
	got, ok, err := a.ExtractPIN(context.Background(), "Your statement", "Your PIN is 482913", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "482913", got.Code)
	assert.Equal(t, 1.0, got.Confidence)

	a = &Advisor{models: &fakeGenerator{text: `{"found":false,"code":"","confidence":0.1}`}, model: "m"}
	_, ok, err = a.ExtractPIN(context.Background(), "", "nothing", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPINPromptTruncatesBody(t *testing.T) {
	t.Parallel()

	p := buildPINPrompt("s", strings.Repeat("x", maxBodyChars+500), "")
	assert.Less(t, len(p), maxBodyChars+1000)
}

func TestPINPromptKeepsRunesWhole(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("x", maxBodyChars-1) + "é" + strings.Repeat("ZQ", 50)
	p := buildPINPrompt("s", body, "")
	assert.True(t, utf8.ValidString(p))
	assert.NotContains(t, p, "é")
	assert.NotContains(t, p, "ZQ")
}

func TestNewRequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Model: "m"})
	assert.Error(t, err)
	_, err = New(context.Background(), Config{APIKey: "k"})
	assert.Error(t, err)
}
