package documents

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/warp/allocation-engine/core"
)

type Memory struct {
	mu   sync.RWMutex
	objs map[string][]byte
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{objs: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, name, contentType string, body io.Reader) (Ref, error) {
	data, err := readLimited(body)
	if err != nil {
		return Ref{}, err
	}
	key := objectKey(name)

	m.mu.Lock()
	m.objs[key] = data
	m.mu.Unlock()

	return Ref{
		Key:         key,
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		UploadedAt:  time.Now().UTC(),
	}, nil
}

func (m *Memory) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objs[key]
	if !ok {
		return nil, core.NotFound("document", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
