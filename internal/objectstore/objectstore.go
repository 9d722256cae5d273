package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrObjectNotFound   = errors.New("object not found")
)

// Store keeps product images and hands back the URL they are served from.
type Store interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Delete(ctx context.Context, key string) error
	BaseURL() string
}

// ImageKey builds the object key {productID}/{fileName}, stripping any
// directory components from the client supplied name.
func ImageKey(productID string, fileName string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "image"
	}
	return productID + "/" + name
}

// KeyFromURL recovers the object key from a URL produced by a Store rooted at baseURL.
func KeyFromURL(baseURL string, url string) (string, bool) {
	prefix := strings.TrimRight(baseURL, "/") + "/"
	if url == "" || !strings.HasPrefix(url, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(url, prefix)
	return key, key != ""
}

// DetectImage sniffs the payload and rejects anything that is not an image.
func DetectImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrUnsupportedMedia)
	}
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMedia, mtype.String())
	}
	return mtype.String(), nil
}

type object struct {
	contentType string
	data        []byte
}

type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]object
}

func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://product-images"
	}
	return &MemoryStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]object),
	}
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte) (string, error) {
	contentType, err := DetectImage(data)
	if err != nil {
		return "", err
	}
	copied := make([]byte, len(data))
	copy(copied, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = object{contentType: contentType, data: copied}
	return m.baseURL + "/" + key, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return ErrObjectNotFound
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) BaseURL() string {
	return m.baseURL
}

func (m *MemoryStore) ContentType(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj.contentType, ok
}
