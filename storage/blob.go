package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
)

// BlobStore 对象存储接口
type BlobStore interface {
	// Put 写入对象并返回公开访问地址
	Put(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) (string, error)
	URL(objectPath string) string
	// DeletePrefix 删除前缀下的所有对象
	DeletePrefix(ctx context.Context, prefix string) error
}

// CoverPath covers/<hostId>/<roomId><ext>
func CoverPath(hostID int64, roomID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("covers/%d/%s%s", hostID, roomID, ext)
}

// CoverPrefix 房间封面的对象前缀
func CoverPrefix(hostID int64, roomID string) string {
	return fmt.Sprintf("covers/%d/%s.", hostID, roomID)
}

// MemoryStore 进程内对象存储，用于模拟命令和测试
type MemoryStore struct {
	BaseURL string

	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore 创建内存对象存储
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{BaseURL: strings.TrimRight(baseURL, "/"), objects: make(map[string][]byte)}
}

// Put 实现 BlobStore
func (s *MemoryStore) Put(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", fmt.Errorf("read object: %w", err)
	}
	s.mu.Lock()
	s.objects[objectPath] = buf.Bytes()
	s.mu.Unlock()
	return s.URL(objectPath), nil
}

// URL 实现 BlobStore
func (s *MemoryStore) URL(objectPath string) string {
	return s.BaseURL + "/" + objectPath
}

// DeletePrefix 实现 BlobStore
func (s *MemoryStore) DeletePrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			delete(s.objects, k)
		}
	}
	return nil
}

// Get 读取对象
func (s *MemoryStore) Get(objectPath string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[objectPath]
	return data, ok
}
