package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FilesystemStore 把对象落盘到根目录下，key 映射为相对路径。
// 每个对象额外写一个 `.meta` JSON 边车保存内容类型与用户元数据。
// URL 由 baseURL + key 拼出，交给路由层以静态目录方式提供访问。
type FilesystemStore struct {
	root    string
	baseURL string
}

type fsMeta struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NewFilesystem 构造以 root 为根目录的文件存储，目录不存在时创建。
// baseURL 为对外访问前缀（如 /media），为空时回退 /media。
func NewFilesystem(root, baseURL string) (*FilesystemStore, error) {
	if strings.TrimSpace(root) == "" {
		root = "./blobdata"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "/media"
	}
	return &FilesystemStore{root: root, baseURL: baseURL}, nil
}

// Driver 返回存储驱动标识。
func (s *FilesystemStore) Driver() Driver { return DriverFilesystem }

// Root 返回落盘根目录，供路由层挂载静态访问。
func (s *FilesystemStore) Root() string { return s.root }

// sanitizeKey 拒绝越出根目录的 key。
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("empty blob key")
	}
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute blob key %q", key)
	}
	clean := filepath.ToSlash(filepath.Clean(key))
	if strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return clean, nil
}

func (s *FilesystemStore) pathFor(key string) (dataPath, metaPath string, err error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	dataPath = filepath.Join(s.root, filepath.FromSlash(clean))
	metaPath = dataPath + ".meta"
	return dataPath, metaPath, nil
}

func (s *FilesystemStore) urlFor(key string) string {
	return s.baseURL + "/" + key
}

// Put 写入新对象，key 已存在时报错。内容先写临时文件再原子改名。
func (s *FilesystemStore) Put(_ context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return Info{}, err
	}

	if _, err := os.Stat(dataPath); err == nil {
		return Info{}, fmt.Errorf("blob %s already exists", key)
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return Info{}, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		_ = tmp.Close()
		return Info{}, err
	}
	if err := tmp.Close(); err != nil {
		return Info{}, err
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return Info{}, err
	}

	now := time.Now().UTC()
	meta := fsMeta{
		ContentType: opts.ContentType,
		Metadata:    cloneMetadata(opts.Metadata),
		ETag:        hex.EncodeToString(h.Sum(nil)),
		Size:        size,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := writeFSMeta(metaPath, meta); err != nil {
		return Info{}, err
	}

	return Info{
		Key:          key,
		Size:         size,
		ContentType:  opts.ContentType,
		ETag:         meta.ETag,
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: now,
		URL:          s.urlFor(key),
	}, nil
}

// Get 返回对象元数据及内容读取器。
func (s *FilesystemStore) Get(_ context.Context, key string) (Info, io.ReadCloser, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return Info{}, nil, err
	}

	file, err := os.Open(dataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Info{}, nil, err
	}

	meta, err := readFSMeta(metaPath)
	if err != nil {
		_ = file.Close()
		return Info{}, nil, err
	}

	return s.infoFromMeta(key, meta), file, nil
}

// Head 仅返回对象元数据。
func (s *FilesystemStore) Head(_ context.Context, key string) (Info, error) {
	_, metaPath, err := s.pathFor(key)
	if err != nil {
		return Info{}, err
	}
	meta, err := readFSMeta(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Info{}, err
	}
	return s.infoFromMeta(key, meta), nil
}

// Delete 删除对象及其边车，返回删除前是否存在。
func (s *FilesystemStore) Delete(_ context.Context, key string) (bool, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(dataPath); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := os.Remove(dataPath); err != nil {
		return false, err
	}
	_ = os.Remove(metaPath)
	return true, nil
}

// List 遍历根目录收集指定前缀下的对象。
func (s *FilesystemStore) List(_ context.Context, prefix string) ([]Info, error) {
	var infos []Info
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".meta") {
			return nil
		}

		rel, err := filepath.Rel(s.root, strings.TrimSuffix(path, ".meta"))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}

		meta, err := readFSMeta(path)
		if err != nil {
			return err
		}
		infos = append(infos, s.infoFromMeta(key, meta))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// PresignURL 文件系统驱动直接返回公开 URL，不支持非 GET 方法。
func (s *FilesystemStore) PresignURL(_ context.Context, key string, opts SignedURLOptions) (string, error) {
	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method != "" && method != "GET" {
		return "", ErrUnsupported
	}
	if _, err := sanitizeKey(key); err != nil {
		return "", err
	}
	return s.urlFor(key), nil
}

func (s *FilesystemStore) infoFromMeta(key string, meta fsMeta) Info {
	return Info{
		Key:          key,
		Size:         meta.Size,
		ContentType:  meta.ContentType,
		ETag:         meta.ETag,
		Metadata:     cloneMetadata(meta.Metadata),
		LastModified: meta.UpdatedAt,
		URL:          s.urlFor(key),
	}
}

func writeFSMeta(path string, meta fsMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func readFSMeta(path string) (fsMeta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fsMeta{}, err
	}
	var meta fsMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return fsMeta{}, err
	}
	return meta, nil
}
