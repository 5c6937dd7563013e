// Package interaction inspects fetched HTML for signs that a human step is needed
// before a document can be reached.
package interaction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Kind classifies the interaction a page asks for.
type Kind string

const (
	KindNone   Kind = ""
	KindPIN    Kind = "pin"
	KindLogin  Kind = "login"
	KindButton Kind = "button"
	KindForm   Kind = "form"
)

// Signal is the detector's verdict. It is advisory; callers decide what to do with it.
type Signal struct {
	RequiresInteraction bool    `json:"requires_interaction"`
	Kind                Kind    `json:"kind,omitempty"`
	Confidence          float64 `json:"confidence"`
	// InputSelector is the field a code or credential goes into, when one was found.
	InputSelector string `json:"input_selector,omitempty"`
	// SubmitSelector is the control that submits InputSelector's form.
	SubmitSelector string `json:"submit_selector,omitempty"`
	// DownloadSelector is a control that likely yields the document.
	DownloadSelector string `json:"download_selector,omitempty"`
}

var (
	pinFieldRe    = regexp.MustCompile(`(?i)(pin|passcode|otp|one[-_ ]?time|access[-_ ]?code|verification|verify|security[-_ ]?code|\bcode\b)`)
	userFieldRe   = regexp.MustCompile(`(?i)(user(name)?|login|e-?mail|account)`)
	downloadRe    = regexp.MustCompile(`(?i)(download|view|open|get|print)\b.*\b(pdf|bill|statement|invoice|document|copy)|\bpdf\b|\bdownload\b`)
	continueRe    = regexp.MustCompile(`(?i)^\s*(continue|proceed|access|view (my|your) (bill|statement|invoice)|show document)\s*$`)
	pinTextHintRe = regexp.MustCompile(`(?i)(enter|type|provide).{0,40}(pin|code|passcode)`)
)

// Detect inspects an HTML document. Unparseable input yields a no-interaction signal.
func Detect(html string) Signal {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Signal{}
	}

	download := downloadControl(doc)

	if sig, ok := detectPIN(doc); ok {
		sig.DownloadSelector = download
		return sig
	}
	if sig, ok := detectLogin(doc); ok {
		sig.DownloadSelector = download
		return sig
	}
	if sig, ok := detectForm(doc); ok {
		sig.DownloadSelector = download
		return sig
	}
	if download != "" {
		return Signal{
			RequiresInteraction: true,
			Kind:                KindButton,
			Confidence:          0.5,
			DownloadSelector:    download,
		}
	}
	if sel := continueControl(doc); sel != "" {
		return Signal{
			RequiresInteraction: true,
			Kind:                KindButton,
			Confidence:          0.4,
			SubmitSelector:      sel,
		}
	}
	return Signal{Confidence: 0.8}
}

// DownloadSelector returns a selector for the page's most likely download control, or "".
func DownloadSelector(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return downloadControl(doc)
}

func detectPIN(doc *goquery.Document) (Signal, bool) {
	var found *goquery.Selection
	doc.Find("input").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !isTextual(s) {
			return true
		}
		if pinFieldRe.MatchString(fieldText(s)) {
			found = s
			return false
		}
		if isShortSecret(s) {
			found = s
			return false
		}
		return true
	})
	if found == nil {
		return Signal{}, false
	}
	conf := 0.9
	if !pinFieldRe.MatchString(fieldText(found)) && !pinTextHintRe.MatchString(doc.Text()) {
		conf = 0.7
	}
	return Signal{
		RequiresInteraction: true,
		Kind:                KindPIN,
		Confidence:          conf,
		InputSelector:       selectorFor(found),
		SubmitSelector:      submitFor(doc, found),
	}, true
}

func detectLogin(doc *goquery.Document) (Signal, bool) {
	pw := doc.Find(`input[type="password"]`).First()
	if pw.Length() == 0 {
		return Signal{}, false
	}
	var user *goquery.Selection
	doc.Find("input").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := strings.ToLower(s.AttrOr("type", "text"))
		if t == "email" || (isTextual(s) && t != "password" && userFieldRe.MatchString(fieldText(s))) {
			user = s
			return false
		}
		return true
	})
	conf := 0.7
	input := pw
	if user != nil {
		conf = 0.85
		input = user
	}
	return Signal{
		RequiresInteraction: true,
		Kind:                KindLogin,
		Confidence:          conf,
		InputSelector:       selectorFor(input),
		SubmitSelector:      submitFor(doc, pw),
	}, true
}

func detectForm(doc *goquery.Document) (Signal, bool) {
	var input *goquery.Selection
	doc.Find("form input").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if isTextual(s) && !isSearch(s) {
			input = s
			return false
		}
		return true
	})
	if input == nil {
		return Signal{}, false
	}
	return Signal{
		RequiresInteraction: true,
		Kind:                KindForm,
		Confidence:          0.6,
		InputSelector:       selectorFor(input),
		SubmitSelector:      submitFor(doc, input),
	}, true
}

func isTextual(s *goquery.Selection) bool {
	switch strings.ToLower(s.AttrOr("type", "text")) {
	case "text", "password", "tel", "number", "email", "search", "":
		return true
	}
	return false
}

func isSearch(s *goquery.Selection) bool {
	if strings.EqualFold(s.AttrOr("type", ""), "search") {
		return true
	}
	switch strings.ToLower(s.AttrOr("name", "")) {
	case "q", "query", "search":
		return true
	}
	return false
}

// isShortSecret matches numeric or masked inputs that are too short to be a password.
func isShortSecret(s *goquery.Selection) bool {
	ml, err := strconv.Atoi(s.AttrOr("maxlength", ""))
	if err != nil || ml <= 0 || ml > 10 {
		return false
	}
	t := strings.ToLower(s.AttrOr("type", "text"))
	mode := strings.ToLower(s.AttrOr("inputmode", ""))
	return t == "password" || t == "tel" || t == "number" || mode == "numeric"
}

func fieldText(s *goquery.Selection) string {
	parts := []string{
		s.AttrOr("name", ""),
		s.AttrOr("id", ""),
		s.AttrOr("placeholder", ""),
		s.AttrOr("aria-label", ""),
		s.AttrOr("autocomplete", ""),
	}
	if id := s.AttrOr("id", ""); id != "" {
		parts = append(parts, s.Closest("form").Find(fmt.Sprintf(`label[for=%q]`, id)).Text())
	}
	return strings.Join(parts, " ")
}

func selectorFor(s *goquery.Selection) string {
	tag := goquery.NodeName(s)
	if id := strings.TrimSpace(s.AttrOr("id", "")); id != "" && cssIdent(id) {
		return "#" + id
	}
	if name := strings.TrimSpace(s.AttrOr("name", "")); name != "" {
		return fmt.Sprintf(`%s[name=%q]`, tag, name)
	}
	if t := strings.TrimSpace(s.AttrOr("type", "")); t != "" {
		return fmt.Sprintf(`%s[type=%q]`, tag, t)
	}
	return tag
}

func submitFor(doc *goquery.Document, field *goquery.Selection) string {
	scope := field.Closest("form")
	if scope.Length() == 0 {
		scope = doc.Selection
	}
	if b := scope.Find(`button[type="submit"], input[type="submit"]`).First(); b.Length() > 0 {
		return scopedSelector(scope, b)
	}
	if b := scope.Find("button").First(); b.Length() > 0 {
		return scopedSelector(scope, b)
	}
	return ""
}

func scopedSelector(scope, s *goquery.Selection) string {
	sel := selectorFor(s)
	if strings.HasPrefix(sel, "#") || goquery.NodeName(scope) != "form" {
		return sel
	}
	if id := scope.AttrOr("id", ""); id != "" && cssIdent(id) {
		return "#" + id + " " + sel
	}
	return "form " + sel
}

func downloadControl(doc *goquery.Document) string {
	var sel string
	doc.Find("a, button, input[type=button], input[type=submit]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label := strings.TrimSpace(s.Text() + " " + s.AttrOr("value", "") + " " + s.AttrOr("aria-label", "") + " " + s.AttrOr("title", ""))
		href := s.AttrOr("href", "")
		_, hasDownloadAttr := s.Attr("download")
		if hasDownloadAttr || downloadRe.MatchString(label) || strings.HasSuffix(strings.ToLower(strings.SplitN(href, "?", 2)[0]), ".pdf") {
			sel = controlSelector(s)
			return false
		}
		return true
	})
	return sel
}

func continueControl(doc *goquery.Document) string {
	var sel string
	doc.Find("a, button").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if continueRe.MatchString(s.Text()) {
			sel = controlSelector(s)
			return false
		}
		return true
	})
	return sel
}

func controlSelector(s *goquery.Selection) string {
	if id := strings.TrimSpace(s.AttrOr("id", "")); id != "" && cssIdent(id) {
		return "#" + id
	}
	tag := goquery.NodeName(s)
	if href := strings.TrimSpace(s.AttrOr("href", "")); tag == "a" && href != "" {
		return fmt.Sprintf(`a[href=%q]`, href)
	}
	if name := strings.TrimSpace(s.AttrOr("name", "")); name != "" {
		return fmt.Sprintf(`%s[name=%q]`, tag, name)
	}
	if cls := strings.Fields(s.AttrOr("class", "")); len(cls) > 0 && cssIdent(cls[0]) {
		return tag + "." + cls[0]
	}
	return tag
}

var cssIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

func cssIdent(s string) bool { return cssIdentRe.MatchString(s) }
