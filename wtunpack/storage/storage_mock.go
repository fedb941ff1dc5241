package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/opencontainers/go-digest"
)

// MockStorage is a simple in-memory Storage implementation for tests.
type MockStorage struct {
	mu         sync.RWMutex
	containers map[string][]byte
	digests    map[string]digest.Digest
}

// NewMockStorage constructs an empty MockStorage.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		containers: make(map[string][]byte),
		digests:    make(map[string]digest.Digest),
	}
}

// ListContainers returns descriptors for all stored containers, sorted by name.
func (m *MockStorage) ListContainers(ctx context.Context) ([]ContainerDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	descs := make([]ContainerDescriptor, 0, len(m.containers))
	for name, data := range m.containers {
		descs = append(descs, ContainerDescriptor{
			Name:   name,
			Size:   int64(len(data)),
			Digest: m.digests[name],
		})
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs, nil
}

// OpenContainer returns a reader over the stored bytes.
func (m *MockStorage) OpenContainer(ctx context.Context, name string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.containers[name]
	if !ok {
		return nil, fmt.Errorf("mock storage: container not found: %s", name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// AddContainer stores data under name and returns its digest.
func (m *MockStorage) AddContainer(name string, data []byte) digest.Digest {
	m.mu.Lock()
	defer m.mu.Unlock()

	dgst := digest.FromBytes(data)
	m.containers[name] = append([]byte(nil), data...)
	m.digests[name] = dgst
	return dgst
}
