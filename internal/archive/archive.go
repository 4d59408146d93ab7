// Package archive stores anti-bot challenge pages so blocked fetches can be inspected later.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

const contentType = "text/html; charset=utf-8"

// BlobStore persists an object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Archiver writes evidence under <prefix>/<host>/<digest>.html.
type Archiver struct {
	store  BlobStore
	prefix string
}

var _ tracker.Archiver = (*Archiver)(nil)

// New returns an Archiver.
func New(store BlobStore, prefix string) *Archiver {
	return &Archiver{store: store, prefix: strings.Trim(prefix, "/")}
}

// Archive stores body and returns the blob URI. Identical pages share a key.
func (a *Archiver) Archive(ctx context.Context, sourceURL string, body []byte) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("nothing to archive")
	}
	sum := sha256.Sum256(body)
	key := Key(a.prefix, sourceURL, hex.EncodeToString(sum[:]))
	uri, err := a.store.PutObject(ctx, key, contentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("store evidence %s: %w", key, err)
	}
	return uri, nil
}

// Key builds the object path for a page from sourceURL with the given digest.
func Key(prefix, sourceURL, digest string) string {
	return path.Join(prefix, hostSegment(sourceURL), digest+".html")
}

func hostSegment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	host := strings.ToLower(u.Hostname())
	var b strings.Builder
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	seg := strings.Trim(b.String(), ".")
	if seg == "" {
		return "unknown"
	}
	return seg
}
