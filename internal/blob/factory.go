package blob

import (
	"context"
	"fmt"
)

// Config 汇总各驱动的构造参数，由 internal/config 从环境变量装配。
type Config struct {
	Driver    string
	FSRoot    string
	FSBaseURL string
	S3        S3Config
}

// Open 按配置选择 Store 实现，驱动为空时默认文件系统。
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = string(DriverFilesystem)
	}

	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot, cfg.FSBaseURL)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", driver)
	}
}
