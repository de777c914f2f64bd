package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/priynshgupta/zentra-web-chatbot/internal/config"
)

// MappingStore remembers which vector collection holds a website's corpus,
// so repeat sessions for the same site reuse the existing index.
type MappingStore interface {
	Get(ctx context.Context, websiteURL string) (string, bool, error)
	Put(ctx context.Context, websiteURL, collection string) error
	Delete(ctx context.Context, websiteURL string) error
	List(ctx context.Context) (map[string]string, error)
	Close() error
}

// NewMappingStore selects a backend from configuration. Unknown backends
// fall back to the in-memory store.
func NewMappingStore(cfg config.MappingConfig) (MappingStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryMappingStore(), nil
	case "redis":
		return NewRedisMappingStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown mapping backend %q", cfg.Backend)
	}
}

// CollectionName derives a stable Qdrant collection name from a website
// URL. The host survives in readable form; the hash disambiguates paths
// and keeps the name within Qdrant's naming rules.
func CollectionName(websiteURL string) string {
	host := "site"
	if parsed, err := url.Parse(websiteURL); err == nil && parsed.Hostname() != "" {
		host = strings.ReplaceAll(parsed.Hostname(), ".", "_")
	}
	sum := sha256.Sum256([]byte(websiteURL))
	return fmt.Sprintf("site_%s_%x", host, sum[:6])
}

// MemoryMappingStore keeps mappings in process memory. Suitable for
// single-instance deployments and tests.
type MemoryMappingStore struct {
	mu       sync.RWMutex
	mappings map[string]string
}

func NewMemoryMappingStore() *MemoryMappingStore {
	return &MemoryMappingStore{mappings: make(map[string]string)}
}

func (m *MemoryMappingStore) Get(_ context.Context, websiteURL string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	collection, ok := m.mappings[websiteURL]
	return collection, ok, nil
}

func (m *MemoryMappingStore) Put(_ context.Context, websiteURL, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings[websiteURL] = collection
	return nil
}

func (m *MemoryMappingStore) Delete(_ context.Context, websiteURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mappings, websiteURL)
	return nil
}

func (m *MemoryMappingStore) List(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.mappings))
	for k, v := range m.mappings {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryMappingStore) Close() error { return nil }
