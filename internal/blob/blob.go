// Package blob 为照片与卡片文档提供统一的对象存储抽象。
// 核心只持有对象 key 与访问 URL，从不解析存储的字节内容。
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver 标识具体的存储后端实现。
type Driver string

const (
	// DriverFilesystem 本地文件系统实现（开发默认）。
	DriverFilesystem Driver = "fs"
	// DriverS3 S3 / MinIO 兼容实现。
	DriverS3 Driver = "s3"
	// DriverMemory 进程内实现，测试使用。
	DriverMemory Driver = "memory"
)

// PutOptions 指定写入对象时的可选参数。
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// SignedURLOptions 控制预签名 URL 的生成。
type SignedURLOptions struct {
	Method string
	Expiry time.Duration
}

// Info 描述一个已存储的对象。
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store 是上层服务使用的窄接口。
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

// ErrUnsupported 在后端不具备某可选能力时返回。
var ErrUnsupported = errors.New("blob: unsupported operation")

// ErrNotFound 在对象不存在时返回。
var ErrNotFound = errors.New("blob: object not found")

// PublicURL 返回对象的可访问 URL：优先使用后端直接给出的公开地址，
// 否则回退到预签名 GET；两者都不可用时返回空串。
func PublicURL(ctx context.Context, store Store, info Info) string {
	if info.URL != "" {
		return info.URL
	}
	signed, err := store.PresignURL(ctx, info.Key, SignedURLOptions{})
	if err != nil {
		return ""
	}
	return signed
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
