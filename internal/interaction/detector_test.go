package interaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		html         string
		wantRequired bool
		wantKind     Kind
		wantInput    string
		wantSubmit   string
		wantDownload string
	}{
		{
			name: "pin form",
			html: `<html><body><h1>Secure document</h1>
<p>Enter the access code from your email.</p>
<form id="unlock" method="post" action="/unlock">
  <label for="code">Access code</label>
  <input id="code" name="code" type="text" maxlength="8">
  <button type="submit">Continue</button>
</form></body></html>`,
			wantRequired: true,
			wantKind:     KindPIN,
			wantInput:    "#code",
			wantSubmit:   `#unlock button[type="submit"]`,
		},
		{
			name:         "masked numeric pin",
			html:         `<form><input name="p" type="password" maxlength="6" inputmode="numeric"><input type="submit" value="Go"></form>`,
			wantRequired: true,
			wantKind:     KindPIN,
			wantInput:    `input[name="p"]`,
			wantSubmit:   `form input[type="submit"]`,
		},
		{
			name:         "login",
			html:         `<form action="/login"><input type="email" name="email"><input type="password" name="password"><button type="submit" id="signin">Sign in</button></form>`,
			wantRequired: true,
			wantKind:     KindLogin,
			wantInput:    `input[name="email"]`,
			wantSubmit:   "#signin",
		},
		{
			name:         "download button",
			html:         `<html><body><p>Your statement is ready.</p><a class="btn" href="/files/get?id=9">Download PDF</a></body></html>`,
			wantRequired: true,
			wantKind:     KindButton,
			wantDownload: `a[href="/files/get?id=9"]`,
		},
		{
			name: "plain page",
			html: `<html><body><h1>Thanks for paying</h1><form><input type="search" name="q"></form></body></html>`,
		},
		{
			name: "not html",
			html: "%PDF-1.4 binary",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(tt.html)
			assert.Equal(t, tt.wantRequired, got.RequiresInteraction)
			assert.Equal(t, tt.wantKind, got.Kind)
			if tt.wantInput != "" {
				assert.Equal(t, tt.wantInput, got.InputSelector)
			}
			if tt.wantSubmit != "" {
				assert.Equal(t, tt.wantSubmit, got.SubmitSelector)
			}
			if tt.wantDownload != "" {
				assert.Equal(t, tt.wantDownload, got.DownloadSelector)
			}
			assert.GreaterOrEqual(t, got.Confidence, 0.0)
			assert.LessOrEqual(t, got.Confidence, 1.0)
		})
	}
}

func TestDownloadSelector(t *testing.T) {
	t.Parallel()

	html := `<div><a href="/help">Help</a><button id="dl-btn">Download statement</button></div>`
	assert.Equal(t, "#dl-btn", DownloadSelector(html))
	assert.Empty(t, DownloadSelector(`<p>nothing here</p>`))
}
