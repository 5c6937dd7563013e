package mail

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multipartMessage(t *testing.T) string {
	t.Helper()
	pdf := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4\n%%EOF"))
	return strings.Join([]string{
		"Message-ID: <bill-42@utility.test>",
		"From: Utility Billing <billing@utility.test>",
		"To: Alice <alice@home.test>",
		"Subject: Your March bill",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="XYZ"`,
		"",
		"--XYZ",
		`Content-Type: text/html; charset="utf-8"`,
		"",
		`<p>View online: <a href="https://utility.test/portal">portal</a></p>`,
		"--XYZ",
		`Content-Type: application/pdf; name="bill.pdf"`,
		`Content-Disposition: attachment; filename="bill.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		pdf,
		"--XYZ--",
		"",
	}, "\r\n")
}

func TestParse(t *testing.T) {
	email, err := Parse(strings.NewReader(multipartMessage(t)))
	require.NoError(t, err)

	assert.Equal(t, "<bill-42@utility.test>", email.MessageID)
	assert.Equal(t, "billing@utility.test", email.Sender())
	assert.Equal(t, []string{"alice@home.test"}, email.To)
	assert.Equal(t, "Your March bill", email.Subject)
	assert.Contains(t, email.HTMLBody, "https://utility.test/portal")

	require.Len(t, email.Attachments, 1)
	a := email.Attachments[0]
	assert.Equal(t, "bill.pdf", a.Filename)
	assert.Equal(t, "application/pdf", a.ContentType)
	assert.True(t, strings.HasPrefix(string(a.Content), "%PDF"))
	assert.Equal(t, int64(len(a.Content)), a.Size)
	assert.True(t, email.HasPDFAttachment())
}

func TestParse_SynthesizesMessageID(t *testing.T) {
	msg := "From: a@b.test\r\nSubject: hi\r\nContent-Type: text/plain\r\n\r\nCode: 123456\r\n"

	first, err := Parse(strings.NewReader(msg))
	require.NoError(t, err)
	second, err := Parse(strings.NewReader(msg))
	require.NoError(t, err)

	assert.NotEmpty(t, first.MessageID)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Contains(t, first.TextBody, "123456")
	assert.Empty(t, first.Attachments)
}

func TestLoadFileAndExpand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bill.eml"), []byte(multipartMessage(t)), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notice.json"),
		[]byte(`{"from":"alerts@telco.test","subject":"Statement ready","text_body":"https://telco.test/s.pdf"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0o600))

	files, err := Expand([]string{dir})
	require.NoError(t, err)
	assert.Len(t, files, 2)

	email, err := LoadFile(filepath.Join(dir, "notice.json"))
	require.NoError(t, err)
	assert.Equal(t, "<notice@docfetch.local>", email.MessageID)
	assert.Equal(t, "alerts@telco.test", email.Sender())

	email, err = LoadFile(filepath.Join(dir, "bill.eml"))
	require.NoError(t, err)
	assert.Equal(t, "<bill-42@utility.test>", email.MessageID)

	_, err = Expand([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}
