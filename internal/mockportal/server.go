// Package mockportal serves a fake sender website: direct PDF links, redirects, broken
// links, and a PIN-protected portal. Tests and local end-to-end runs point the pipeline
// at it instead of real billers.
package mockportal

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"html"
	"net/http"
	"strings"
	"sync"
)

// SamplePDF is a minimal, valid single-page PDF.
var SamplePDF = []byte("%PDF-1.4\n" +
	"1 0 obj << /Type /Catalog /Pages 2 0 R >> endobj\n" +
	"2 0 obj << /Type /Pages /Kids [3 0 R] /Count 1 >> endobj\n" +
	"3 0 obj << /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >> endobj\n" +
	"trailer << /Root 1 0 R >>\n" +
	"%%EOF\n")

// Call records a request made to the mock portal.
type Call struct {
	Method string
	Path   string
}

// Server implements the fake portal.
type Server struct {
	pin string

	mu         sync.Mutex
	calls      []Call
	rejectHEAD bool
	tokens     map[string]struct{}
}

// New constructs a portal that unlocks with pin.
func New(pin string) *Server {
	return &Server{pin: strings.TrimSpace(pin), tokens: make(map[string]struct{})}
}

// RejectHEAD makes every HEAD request fail with 405, like some CDNs and signed URLs.
func (s *Server) RejectHEAD(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectHEAD = v
}

// Handler returns an http.Handler that serves the portal.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/files/statement.pdf", s.handlePDF)
	mux.HandleFunc("/files/download", s.handleOctetPDF)
	mux.HandleFunc("/files/fake.pdf", s.handleFakePDF)
	mux.HandleFunc("/files/missing.pdf", s.handleMissing)
	mux.HandleFunc("/redirect", s.handleRedirect)
	mux.HandleFunc("/landing", s.handleLanding)
	mux.HandleFunc("/portal", s.handlePortal)
	mux.HandleFunc("/portal/unlock", s.handleUnlock)
	mux.HandleFunc("/portal/document", s.handleDocument)
	return s.record(mux)
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsTo counts calls to path with any method.
func (s *Server) CallsTo(path string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
		reject := s.rejectHEAD
		s.mu.Unlock()
		if reject && r.Method == http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", fmt.Sprint(len(SamplePDF)))
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(SamplePDF)
}

func (s *Server) handleOctetPDF(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="march-2026.pdf"`)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(SamplePDF)
}

func (s *Server) handleFakePDF(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/pdf")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write([]byte("<html><body>session expired</body></html>"))
}

func (s *Server) handleMissing(w http.ResponseWriter, r *http.Request) {
	http.NotFound(w, r)
}

func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/files/statement.pdf", http.StatusFound)
}

func (s *Server) handleLanding(w http.ResponseWriter, _ *http.Request) {
	writeHTML(w, http.StatusOK, `<html><body><h1>Thanks for being a customer</h1><p>Nothing to see.</p></body></html>`)
}

func (s *Server) handlePortal(w http.ResponseWriter, _ *http.Request) {
	writeHTML(w, http.StatusOK, portalPage(""))
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if s.pin == "" || strings.TrimSpace(r.PostFormValue("code")) != s.pin {
		writeHTML(w, http.StatusUnauthorized, portalPage("The access code is not valid."))
		return
	}
	token := newToken()
	s.mu.Lock()
	s.tokens[token] = struct{}{}
	s.mu.Unlock()
	writeHTML(w, http.StatusOK, fmt.Sprintf(`<html><body>
<h1>Your statement</h1>
<p>Your document is ready.</p>
<a id="download" href="/portal/document?token=%s" download>Download PDF</a>
</body></html>`, token))
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	s.mu.Lock()
	_, ok := s.tokens[token]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="statement.pdf"`)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(SamplePDF)
}

func portalPage(errMsg string) string {
	var msg string
	if errMsg != "" {
		msg = `<p class="error">` + html.EscapeString(errMsg) + `</p>`
	}
	return `<html><body>
<h1>Secure document</h1>
<p>Enter the access code from your email to view your statement.</p>` + msg + `
<form id="unlock" method="post" action="/portal/unlock">
  <label for="code">Access code</label>
  <input id="code" name="code" type="text" maxlength="8" autocomplete="one-time-code">
  <button type="submit">Continue</button>
</form>
</body></html>`
}

func writeHTML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func newToken() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
