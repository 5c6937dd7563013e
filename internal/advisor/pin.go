package advisor

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/docfetch/internal/metrics"
	"github.com/shpitdev/docfetch/internal/util"
)

// PINResult is an access code found in an email.
type PINResult struct {
	Code       string  `json:"-"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
}

// PINExtractor finds the one-time code a portal asks for. A missing code is reported as
// ok=false with a nil error.
type PINExtractor interface {
	ExtractPIN(ctx context.Context, subject, body, instruction string) (PINResult, bool, error)
}

var (
	// Keyword followed by the code, e.g. "Your PIN is 4821", "access code: AB12CD".
	keywordPINRe = regexp.MustCompile(`(?i)\b(?:pin|passcode|pass code|access code|security code|verification code|one[- ]time (?:code|password)|otp|code)\b(?:\s+(?:code|number))?(?:\s+(?:is|was|will be))?\s*[:#=\-]?\s*\**\s*([A-Za-z0-9]{4,10})\b`)
	// A line holding nothing but a short code.
	standalonePINRe = regexp.MustCompile(`(?m)^\s*\**\s*([0-9]{4,8}|[A-Z0-9]{6,8})\s*\**\s*$`)
	hasDigitRe      = regexp.MustCompile(`[0-9]`)
	// Values that are clearly not codes even though they look like one.
	yearRe = regexp.MustCompile(`^(19|20)[0-9]{2}$`)
)

// RegexPINExtractor matches common "your code is ..." phrasings.
type RegexPINExtractor struct{}

func (RegexPINExtractor) ExtractPIN(_ context.Context, subject, body, _ string) (PINResult, bool, error) {
	res, ok := RegexPIN(subject + "\n" + body)
	return res, ok, nil
}

// RegexPIN is the deterministic extraction used when no remote extractor answers.
func RegexPIN(text string) (PINResult, bool) {
	for _, m := range keywordPINRe.FindAllStringSubmatch(text, -1) {
		if code := m[1]; plausibleCode(code) {
			return PINResult{Code: code, Method: MethodRegex, Confidence: 0.8}, true
		}
	}
	for _, m := range standalonePINRe.FindAllStringSubmatch(text, -1) {
		if code := m[1]; plausibleCode(code) {
			return PINResult{Code: code, Method: MethodRegex, Confidence: 0.5}, true
		}
	}
	return PINResult{}, false
}

func plausibleCode(code string) bool {
	if !hasDigitRe.MatchString(code) {
		return false
	}
	return !yearRe.MatchString(code)
}

// FallbackPINExtractor consults Primary under Timeout and falls back to RegexPIN when it
// is absent, fails, or finds nothing. It never returns an error.
type FallbackPINExtractor struct {
	Primary PINExtractor
	Timeout time.Duration
	Logger  *zap.Logger
}

func (f FallbackPINExtractor) ExtractPIN(ctx context.Context, subject, body, instruction string) (PINResult, bool, error) {
	if f.Primary != nil {
		callCtx := ctx
		if f.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, f.Timeout)
			defer cancel()
		}
		res, ok, err := f.Primary.ExtractPIN(callCtx, subject, body, instruction)
		switch {
		case err != nil:
			metrics.AdvisorFallbacks.WithLabelValues("pin").Inc()
			logger(f.Logger).Warn("pin extractor unavailable, using regex",
				zap.String("error", util.RedactSecrets(err.Error())),
			)
		case ok && strings.TrimSpace(res.Code) != "":
			res.Code = strings.TrimSpace(res.Code)
			if res.Method == "" {
				res.Method = MethodAI
			}
			return res, true, nil
		}
	}
	res, ok := RegexPIN(subject + "\n" + body)
	return res, ok, nil
}
