// Package attachments stores documents submitted with workflow actions and
// hands back stable references. The engine only ever carries the references.
package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/songzhibin97/license-workflow/types"
)

var (
	ErrMissingKind = errors.New("attachment kind is required")
	ErrTooLarge    = errors.New("attachment exceeds maximum size")
	ErrNotFound    = errors.New("attachment not found")
)

// Store persists an attachment and returns its reference.
type Store interface {
	Store(ctx context.Context, desc types.AttachmentDescriptor) (types.AttachmentRef, error)
}

// readBody validates the descriptor and drains its body.
func readBody(desc types.AttachmentDescriptor, maxSize int64) ([]byte, error) {
	if strings.TrimSpace(desc.Kind) == "" {
		return nil, ErrMissingKind
	}
	if desc.Body == nil {
		return nil, nil
	}
	r := desc.Body
	if maxSize > 0 {
		r = io.LimitReader(desc.Body, maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment %q: %w", desc.Name, err)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: name=%s limit=%d", ErrTooLarge, desc.Name, maxSize)
	}
	return data, nil
}

// objectKey builds "<prefix>/<kind>/<uuid><ext>".
func objectKey(prefix, kind, name string) (id, key string) {
	id = uuid.NewString()
	return id, path.Join(prefix, kind, id+path.Ext(name))
}

type object struct {
	ref         types.AttachmentRef
	contentType string
	data        []byte
}

// MemoryStore keeps attachments in process memory.
type MemoryStore struct {
	baseURL string
	maxSize int64

	mu      sync.RWMutex
	objects map[string]object
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxSize rejects bodies larger than n bytes.
func WithMaxSize(n int64) MemoryOption {
	return func(s *MemoryStore) { s.maxSize = n }
}

// NewMemoryStore creates a store whose URLs start with baseURL.
func NewMemoryStore(baseURL string, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]object),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store implements Store.
func (s *MemoryStore) Store(ctx context.Context, desc types.AttachmentDescriptor) (types.AttachmentRef, error) {
	if err := ctx.Err(); err != nil {
		return types.AttachmentRef{}, err
	}
	data, err := readBody(desc, s.maxSize)
	if err != nil {
		return types.AttachmentRef{}, err
	}
	id, key := objectKey("", desc.Kind, desc.Name)
	ref := types.AttachmentRef{
		ID:   id,
		Kind: desc.Kind,
		Name: desc.Name,
		URL:  s.baseURL + "/" + key,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[id] = object{ref: ref, contentType: desc.ContentType, data: data}
	return ref, nil
}

// Open returns the stored body of an attachment.
func (s *MemoryStore) Open(id string) (io.Reader, types.AttachmentRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	if !ok {
		return nil, types.AttachmentRef{}, fmt.Errorf("%w: id=%s", ErrNotFound, id)
	}
	return bytes.NewReader(obj.data), obj.ref, nil
}

// Len reports how many attachments are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
