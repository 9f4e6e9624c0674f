package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr     string
	Port           string
	GinMode        string
	DatabaseDriver string
	DatabaseDSN    string
	BlobDriver     string
	BlobFSRoot     string
	MediaURLPath   string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3PathStyle    bool
}

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
func Load() AppConfig {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	listenAddr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	ginMode := strings.TrimSpace(os.Getenv("GIN_MODE"))
	if ginMode == "" {
		ginMode = "release"
	}

	databaseDriver := strings.TrimSpace(os.Getenv("DATABASE_DRIVER"))
	if databaseDriver == "" {
		databaseDriver = "sqlite"
	}

	databaseDSN := strings.TrimSpace(os.Getenv("DATABASE_DSN"))
	if databaseDSN == "" {
		// sqlite 下 DSN 即数据库文件路径
		databaseDSN = strings.TrimSpace(os.Getenv("DATABASE_PATH"))
	}
	if databaseDSN == "" && databaseDriver == "sqlite" {
		databaseDSN = "routinecard.db"
	}

	blobDriver := strings.TrimSpace(os.Getenv("BLOB_DRIVER"))
	if blobDriver == "" {
		blobDriver = "fs"
	}

	blobFSRoot := strings.TrimSpace(os.Getenv("BLOB_FS_ROOT"))
	if blobFSRoot == "" {
		blobFSRoot = "blobdata"
	}

	mediaURLPath := strings.TrimSpace(os.Getenv("MEDIA_URL_PATH"))
	if mediaURLPath == "" {
		mediaURLPath = "/media"
	}

	return AppConfig{
		ListenAddr:     listenAddr,
		Port:           port,
		GinMode:        ginMode,
		DatabaseDriver: databaseDriver,
		DatabaseDSN:    databaseDSN,
		BlobDriver:     blobDriver,
		BlobFSRoot:     blobFSRoot,
		MediaURLPath:   mediaURLPath,
		S3Bucket:       strings.TrimSpace(os.Getenv("BLOB_S3_BUCKET")),
		S3Region:       strings.TrimSpace(os.Getenv("BLOB_S3_REGION")),
		S3Endpoint:     strings.TrimSpace(os.Getenv("BLOB_S3_ENDPOINT")),
		S3PathStyle:    boolEnv("BLOB_S3_PATH_STYLE"),
	}
}

func boolEnv(name string) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}
