// Package mail turns raw RFC 5322 messages and JSON fixtures into InboundEmail values.
package mail

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/rotisserie/eris"

	"github.com/shpitdev/docfetch/internal/acquire"
)

const maxMessageBytes = 64 << 20

// Parse reads a MIME message. Messages without a Message-ID get a stable one derived from
// their content so redelivery stays idempotent.
func Parse(r io.Reader) (acquire.InboundEmail, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxMessageBytes+1))
	if err != nil {
		return acquire.InboundEmail{}, eris.Wrap(err, "read message")
	}
	if len(raw) > maxMessageBytes {
		return acquire.InboundEmail{}, eris.Errorf("message exceeds %d bytes", maxMessageBytes)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return acquire.InboundEmail{}, eris.Wrap(err, "parse mime message")
	}

	email := acquire.InboundEmail{
		MessageID: strings.TrimSpace(env.GetHeader("Message-ID")),
		From:      strings.TrimSpace(env.GetHeader("From")),
		Subject:   strings.TrimSpace(env.GetHeader("Subject")),
		HTMLBody:  env.HTML,
		TextBody:  env.Text,
	}
	if email.MessageID == "" {
		sum := sha256.Sum256(raw)
		email.MessageID = "<" + hex.EncodeToString(sum[:12]) + "@docfetch.local>"
	}
	if to, err := env.AddressList("To"); err == nil {
		for _, a := range to {
			email.To = append(email.To, a.Address)
		}
	}

	parts := append(append([]*enmime.Part{}, env.Attachments...), env.Inlines...)
	for _, p := range parts {
		// Inline images are body decoration, not documents.
		if p.FileName == "" && !strings.EqualFold(p.ContentType, "application/pdf") {
			continue
		}
		email.Attachments = append(email.Attachments, acquire.Attachment{
			Filename:    p.FileName,
			ContentType: p.ContentType,
			Size:        int64(len(p.Content)),
			Content:     p.Content,
		})
	}
	return email, nil
}

// LoadFile reads an .eml message or a JSON-encoded InboundEmail, chosen by extension.
func LoadFile(path string) (acquire.InboundEmail, error) {
	f, err := os.Open(path)
	if err != nil {
		return acquire.InboundEmail{}, eris.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		var email acquire.InboundEmail
		if err := json.NewDecoder(f).Decode(&email); err != nil {
			return acquire.InboundEmail{}, eris.Wrapf(err, "decode %s", path)
		}
		if email.MessageID == "" {
			email.MessageID = "<" + strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + "@docfetch.local>"
		}
		return email, nil
	}
	email, err := Parse(f)
	if err != nil {
		return acquire.InboundEmail{}, eris.Wrapf(err, "parse %s", path)
	}
	return email, nil
}

// Expand turns files and directories into the list of message files they contain.
// Directories are scanned one level deep for .eml and .json files.
func Expand(inputs []string) ([]string, error) {
	var out []string
	for _, in := range inputs {
		st, err := os.Stat(in)
		if err != nil {
			return nil, eris.Wrapf(err, "stat %s", in)
		}
		if !st.IsDir() {
			out = append(out, in)
			continue
		}
		entries, err := os.ReadDir(in)
		if err != nil {
			return nil, eris.Wrapf(err, "read dir %s", in)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".eml", ".json":
				out = append(out, filepath.Join(in, e.Name()))
			}
		}
	}
	return out, nil
}
