// Package storage persists acquired documents.
package storage

import (
	"context"
	"path"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/metrics"
)

// Sink stores one document under key and returns where it ended up.
type Sink interface {
	Put(ctx context.Context, key string, doc acquire.Document) (string, error)
	// Name labels the backend in metrics and logs.
	Name() string
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._@+=-]+`)

// Key builds "<prefix>/<message-id>/<name>" with path separators and other unsafe
// characters in the message id and name replaced.
func Key(prefix, messageID, name string) string {
	parts := make([]string, 0, 3)
	if p := strings.Trim(strings.TrimSpace(prefix), "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, segment(messageID, "no-message-id"), segment(name, "document.pdf"))
	return path.Join(parts...)
}

func segment(s, fallback string) string {
	s = strings.Trim(unsafeKeyChars.ReplaceAllString(strings.TrimSpace(s), "_"), "._")
	if s == "" {
		return fallback
	}
	return s
}

// StoreAll writes every document of a result and returns their locations in document
// order. It stops at the first failure.
func StoreAll(ctx context.Context, sink Sink, prefix string, res acquire.Result) ([]string, error) {
	if sink == nil || len(res.Documents) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(res.Documents))
	for _, doc := range res.Documents {
		loc, err := sink.Put(ctx, Key(prefix, res.MessageID, doc.Name), doc)
		if err != nil {
			metrics.StoredDocuments.WithLabelValues(sink.Name(), "error").Inc()
			return out, eris.Wrapf(err, "store %s", doc.Name)
		}
		metrics.StoredDocuments.WithLabelValues(sink.Name(), "ok").Inc()
		out = append(out, loc)
	}
	return out, nil
}
