// Package gemini implements the advisory link classifier and PIN extractor on top of the
// Gemini API with structured JSON responses.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/advisor"
	"github.com/shpitdev/docfetch/internal/util"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

// maxBodyChars bounds how much of an email body is sent in a prompt.
const maxBodyChars = 8000

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Advisor satisfies advisor.LinkClassifier and advisor.PINExtractor.
type Advisor struct {
	models generator
	model  string
}

var (
	_ advisor.LinkClassifier = (*Advisor)(nil)
	_ advisor.PINExtractor   = (*Advisor)(nil)
)

func New(ctx context.Context, cfg Config) (*Advisor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, eris.New("gemini api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, eris.New("gemini model is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, eris.Wrap(err, "gemini client")
	}
	return &Advisor{models: client.Models, model: strings.TrimSpace(cfg.Model)}, nil
}

// Model returns the configured model name.
func (a *Advisor) Model() string { return a.model }

type classifyResponse struct {
	Links []struct {
		Index int    `json:"index"`
		Type  string `json:"type"`
	} `json:"links"`
	Reason string `json:"reason"`
}

var classifySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"links": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"index": {Type: genai.TypeInteger},
					"type": {
						Type: genai.TypeString,
						Enum: []string{string(acquire.LinkDirectPDF), string(acquire.LinkInteractivePortal)},
					},
				},
				Required: []string{"index", "type"},
			},
		},
		"reason": {Type: genai.TypeString},
	},
	Required: []string{"links", "reason"},
}

func (a *Advisor) Classify(ctx context.Context, email *acquire.InboundEmail, links []acquire.CandidateLink, instruction string) (advisor.Classification, error) {
	if len(links) == 0 {
		return advisor.Classification{Method: advisor.MethodAI, Reason: "no links"}, nil
	}
	text, err := a.generate(ctx, buildClassifyPrompt(email, links, instruction), classifySchema)
	if err != nil {
		return advisor.Classification{}, err
	}
	return parseClassification(text, links)
}

func parseClassification(text string, links []acquire.CandidateLink) (advisor.Classification, error) {
	var parsed classifyResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return advisor.Classification{}, eris.Wrap(err, "gemini: parse classification json")
	}
	out := advisor.Classification{
		Reason: strings.TrimSpace(parsed.Reason),
		Method: advisor.MethodAI,
	}
	for _, l := range parsed.Links {
		if l.Index < 0 || l.Index >= len(links) {
			continue
		}
		t := acquire.LinkType(strings.TrimSpace(l.Type))
		if t != acquire.LinkDirectPDF && t != acquire.LinkInteractivePortal {
			continue
		}
		out.DocumentLinks = append(out.DocumentLinks, acquire.ClassifiedLink{CandidateLink: links[l.Index], Type: t})
	}
	return out, nil
}

func buildClassifyPrompt(email *acquire.InboundEmail, links []acquire.CandidateLink, instruction string) string {
	var b strings.Builder
	b.WriteString(`You triage links found in billing and notification emails.
For each link that leads to the document the email is about (bill, invoice, statement), decide:
- direct_pdf: fetching the URL returns the PDF file itself.
- interactive_portal: the URL opens a web page that needs a code, login, or click before the document is available.
Skip links that are not about the document (unsubscribe, social, help, marketing, privacy).

Return ONLY a JSON object: {"links":[{"index":<int>,"type":"direct_pdf|interactive_portal"}],"reason":"<short>"}.
`)
	if instruction = strings.TrimSpace(instruction); instruction != "" {
		b.WriteString("\nSender-specific guidance: ")
		b.WriteString(instruction)
		b.WriteString("\n")
	}
	if email != nil {
		fmt.Fprintf(&b, "\nFrom: %s\nSubject: %s\n", email.From, email.Subject)
	}
	b.WriteString("\nLinks:\n")
	for i, l := range links {
		fmt.Fprintf(&b, "%d. %s", i, l.URL)
		if l.Label != "" {
			fmt.Fprintf(&b, " (label: %q)", l.Label)
		}
		b.WriteString("\n")
	}
	return b.String()
}

type pinResponse struct {
	Found      bool    `json:"found"`
	Code       string  `json:"code"`
	Confidence float64 `json:"confidence"`
}

var pinSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"found":      {Type: genai.TypeBoolean},
		"code":       {Type: genai.TypeString},
		"confidence": {Type: genai.TypeNumber},
	},
	Required: []string{"found", "code", "confidence"},
}

func (a *Advisor) ExtractPIN(ctx context.Context, subject, body, instruction string) (advisor.PINResult, bool, error) {
	text, err := a.generate(ctx, buildPINPrompt(subject, body, instruction), pinSchema)
	if err != nil {
		return advisor.PINResult{}, false, err
	}
	return parsePIN(text)
}

func parsePIN(text string) (advisor.PINResult, bool, error) {
	var parsed pinResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return advisor.PINResult{}, false, eris.Wrap(err, "gemini: parse pin json")
	}
	code := strings.TrimSpace(parsed.Code)
	if !parsed.Found || code == "" {
		return advisor.PINResult{}, false, nil
	}
	conf := parsed.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return advisor.PINResult{Code: code, Method: advisor.MethodAI, Confidence: conf}, true, nil
}

func buildPINPrompt(subject, body, instruction string) string {
	body = util.CutUTF8(body, maxBodyChars)
	var b strings.Builder
	b.WriteString(`Find the one-time access code (PIN, passcode, verification code) that this email asks the reader to enter on a website to open a document.
Do not return account numbers, amounts, dates, or phone numbers.

Return ONLY a JSON object: {"found":<bool>,"code":"<code or empty>","confidence":<0..1>}.
`)
	if instruction = strings.TrimSpace(instruction); instruction != "" {
		b.WriteString("\nSender-specific guidance: ")
		b.WriteString(instruction)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nSubject: %s\n\nBody:\n%s\n", subject, body)
	return b.String()
}

func (a *Advisor) generate(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	resp, err := a.models.GenerateContent(
		ctx,
		a.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema,
		},
	)
	if err != nil {
		return "", classifyErr(err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", eris.New("gemini: empty response")
	}
	return text, nil
}

func classifyErr(err error) error {
	// Wrap transient failures so batch workers retry with backoff.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return &acquire.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && (ne.Timeout() || ne.Temporary()) {
		return &acquire.TransientError{Err: err}
	}
	return err
}
