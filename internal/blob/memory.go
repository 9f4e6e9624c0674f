package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	info Info
	data []byte
}

// MemoryStore 以进程内存保存对象，测试使用。
type MemoryStore struct {
	mu   sync.RWMutex
	objs map[string]memoryEntry
}

// NewMemory 构造空的内存存储。
func NewMemory() *MemoryStore {
	return &MemoryStore{objs: make(map[string]memoryEntry)}
}

// Driver 返回存储驱动标识。
func (s *MemoryStore) Driver() Driver { return DriverMemory }

// Put 写入新对象，key 已存在时报错。
func (s *MemoryStore) Put(_ context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.objs[key]; exists {
		return Info{}, fmt.Errorf("blob %s already exists", key)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return Info{}, err
	}

	info := Info{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  opts.ContentType,
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: time.Now().UTC(),
	}
	s.objs[key] = memoryEntry{info: info, data: data}
	return info, nil
}

// Get 返回对象元数据及内容读取器。
func (s *MemoryStore) Get(_ context.Context, key string) (Info, io.ReadCloser, error) {
	s.mu.RLock()
	entry, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return Info{}, nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	data := make([]byte, len(entry.data))
	copy(data, entry.data)
	info := entry.info
	info.Metadata = cloneMetadata(info.Metadata)
	return info, io.NopCloser(bytes.NewReader(data)), nil
}

// Head 仅返回对象元数据。
func (s *MemoryStore) Head(_ context.Context, key string) (Info, error) {
	s.mu.RLock()
	entry, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	info := entry.info
	info.Metadata = cloneMetadata(info.Metadata)
	return info, nil
}

// Delete 删除对象，返回删除前是否存在。
func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objs[key]
	if ok {
		delete(s.objs, key)
	}
	return ok, nil
}

// List 返回指定前缀下的全部对象。
func (s *MemoryStore) List(_ context.Context, prefix string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Info, 0, len(s.objs))
	for key, entry := range s.objs {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		info := entry.info
		info.Metadata = cloneMetadata(info.Metadata)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// PresignURL 内存驱动不支持预签名。
func (s *MemoryStore) PresignURL(_ context.Context, _ string, _ SignedURLOptions) (string, error) {
	return "", ErrUnsupported
}
