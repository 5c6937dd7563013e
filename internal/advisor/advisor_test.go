package advisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/docfetch/internal/acquire"
)

type classifierFunc func(ctx context.Context, links []acquire.CandidateLink) (Classification, error)

func (f classifierFunc) Classify(ctx context.Context, _ *acquire.InboundEmail, links []acquire.CandidateLink, _ string) (Classification, error) {
	return f(ctx, links)
}

type pinFunc func(ctx context.Context, body string) (PINResult, bool, error)

func (f pinFunc) ExtractPIN(ctx context.Context, _ string, body, _ string) (PINResult, bool, error) {
	return f(ctx, body)
}

var sampleLinks = []acquire.CandidateLink{
	{URL: "https://billing.example.com/march.pdf", Label: "Download"},
	{URL: "https://portal.example.com/view", Label: "View online"},
	{URL: "https://example.com/unsubscribe", Label: "Unsubscribe"},
}

func TestHeuristicClassifiesEveryLink(t *testing.T) {
	t.Parallel()

	got := Heuristic(sampleLinks)
	require.Len(t, got.DocumentLinks, 3)
	assert.Equal(t, acquire.LinkDirectPDF, got.DocumentLinks[0].Type)
	assert.Equal(t, acquire.LinkInteractivePortal, got.DocumentLinks[1].Type)
	assert.Equal(t, acquire.LinkInteractivePortal, got.DocumentLinks[2].Type)
	assert.Empty(t, got.OtherLinks)
	assert.Equal(t, MethodHeuristic, got.Method)
}

func TestFallbackClassifierUsesPrimary(t *testing.T) {
	t.Parallel()

	primary := classifierFunc(func(_ context.Context, links []acquire.CandidateLink) (Classification, error) {
		return Classification{
			DocumentLinks: []acquire.ClassifiedLink{
				{CandidateLink: acquire.CandidateLink{URL: links[1].URL}, Type: acquire.LinkInteractivePortal},
				{CandidateLink: acquire.CandidateLink{URL: "https://invented.example.com/x.pdf"}, Type: acquire.LinkDirectPDF},
			},
			Reason: "portal link",
		}, nil
	})

	got, err := FallbackClassifier{Primary: primary}.Classify(context.Background(), nil, sampleLinks, "")
	require.NoError(t, err)
	require.Len(t, got.DocumentLinks, 1)
	assert.Equal(t, "View online", got.DocumentLinks[0].Label)
	assert.Equal(t, MethodAI, got.Method)
	assert.Len(t, got.OtherLinks, 2)
}

func TestFallbackClassifierDegradesOnError(t *testing.T) {
	t.Parallel()

	primary := classifierFunc(func(context.Context, []acquire.CandidateLink) (Classification, error) {
		return Classification{}, errors.New("api_key=secret123 quota exceeded")
	})

	got, err := FallbackClassifier{Primary: primary}.Classify(context.Background(), nil, sampleLinks, "")
	require.NoError(t, err)
	assert.Equal(t, MethodHeuristic, got.Method)
	assert.Len(t, got.DocumentLinks, 3)
	assert.NotContains(t, got.Reason, "secret123")
}

func TestFallbackClassifierDegradesOnTimeout(t *testing.T) {
	t.Parallel()

	primary := classifierFunc(func(ctx context.Context, _ []acquire.CandidateLink) (Classification, error) {
		<-ctx.Done()
		return Classification{}, ctx.Err()
	})

	start := time.Now()
	got, err := FallbackClassifier{Primary: primary, Timeout: 20 * time.Millisecond}.Classify(context.Background(), nil, sampleLinks, "")
	require.NoError(t, err)
	assert.Equal(t, MethodHeuristic, got.Method)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFallbackClassifierWithoutPrimary(t *testing.T) {
	t.Parallel()

	got, err := FallbackClassifier{}.Classify(context.Background(), nil, sampleLinks, "")
	require.NoError(t, err)
	assert.Equal(t, MethodHeuristic, got.Method)
}

func TestRegexPIN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{name: "pin is", text: "Hello,\nYour PIN is 4821. It expires in 24 hours.", want: "4821", ok: true},
		{name: "access code colon", text: "Access code: AB12CD", want: "AB12CD", ok: true},
		{name: "pin code", text: "Use PIN code 907311 to open the document", want: "907311", ok: true},
		{name: "verification code", text: "Your verification code is **553190**", want: "553190", ok: true},
		{name: "standalone line", text: "Use the following to unlock your bill:\n\n  775104\n\nThanks", want: "775104", ok: true},
		{name: "skips words and years", text: "Your code expires in 2026. Enter the code when asked.", ok: false},
		{name: "none", text: "Thanks for paying your bill.", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RegexPIN(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got.Code)
			if ok {
				assert.Equal(t, MethodRegex, got.Method)
			}
		})
	}
}

func TestFallbackPINExtractor(t *testing.T) {
	t.Parallel()

	body := "Your PIN is 4821."

	ai := pinFunc(func(context.Context, string) (PINResult, bool, error) {
		return PINResult{Code: " 9999 ", Confidence: 0.95}, true, nil
	})
	got, ok, err := FallbackPINExtractor{Primary: ai}.ExtractPIN(context.Background(), "", body, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "9999", got.Code)
	assert.Equal(t, MethodAI, got.Method)

	failing := pinFunc(func(context.Context, string) (PINResult, bool, error) {
		return PINResult{}, false, errors.New("boom")
	})
	got, ok, err = FallbackPINExtractor{Primary: failing}.ExtractPIN(context.Background(), "", body, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "4821", got.Code)
	assert.Equal(t, MethodRegex, got.Method)

	empty := pinFunc(func(context.Context, string) (PINResult, bool, error) {
		return PINResult{}, false, nil
	})
	_, ok, err = FallbackPINExtractor{Primary: empty}.ExtractPIN(context.Background(), "", "no code here", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRateLimitedClassifierHonorsContext(t *testing.T) {
	t.Parallel()

	lim := NewLimiter(0.001, 1)
	require.NotNil(t, lim)
	lim.Allow()

	called := false
	next := classifierFunc(func(context.Context, []acquire.CandidateLink) (Classification, error) {
		called = true
		return Classification{}, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := RateLimitedClassifier{Next: next, Limiter: lim}.Classify(ctx, nil, sampleLinks, "")
	assert.Error(t, err)
	assert.False(t, called)
	assert.Nil(t, NewLimiter(0, 1))
}
