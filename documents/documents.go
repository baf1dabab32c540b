/*
Package documents stores purchase-order uploads attached to revenue claims.

The engine treats a stored document as an opaque reference: it keeps the
Ref on the claim and never interprets the bytes.

IMPLEMENTATIONS:
  Memory:  in-process map, for tests and demo runs
  S3Store: any S3-compatible bucket (AWS S3, MinIO)
*/
package documents

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/warp/allocation-engine/core"
)

// MaxDocumentSize bounds a single upload.
const MaxDocumentSize = 10 << 20

// Ref identifies a stored document.
type Ref struct {
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Store persists document blobs.
type Store interface {
	Put(ctx context.Context, name, contentType string, body io.Reader) (Ref, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// objectKey builds "po/<uuid>/<sanitized name>".
func objectKey(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "document"
	}
	return "po/" + core.NewID("") + "/" + base
}

// readLimited reads body, failing if it exceeds MaxDocumentSize.
func readLimited(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if len(data) > MaxDocumentSize {
		return nil, core.NewValidationError("document", fmt.Sprintf("exceeds %d bytes", MaxDocumentSize))
	}
	if len(data) == 0 {
		return nil, core.NewValidationError("document", "is empty")
	}
	return data, nil
}
