package storage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/shpitdev/docfetch/internal/acquire"
)

// Dir writes documents below a local directory.
type Dir struct {
	Root string
}

func (d Dir) Name() string { return "local" }

func (d Dir) Put(ctx context.Context, key string, doc acquire.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if d.Root == "" {
		return "", eris.New("storage directory is required")
	}
	dst := filepath.Join(d.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", eris.Wrap(err, "create document directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".part-*")
	if err != nil {
		return "", eris.Wrap(err, "create temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(doc.Content); err != nil {
		_ = tmp.Close()
		return "", eris.Wrap(err, "write document")
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrap(err, "close document")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", eris.Wrap(err, "move document into place")
	}
	return dst, nil
}
