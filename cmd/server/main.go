package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/routinecard/internal/blob"
	"github.com/routinecard/internal/config"
	"github.com/routinecard/internal/db"
	"github.com/routinecard/internal/handler"
	"github.com/routinecard/internal/router"
)

func main() {
	cfg := config.Load()
	gin.SetMode(cfg.GinMode)

	// 初始化数据库
	gdb, err := db.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}

	// 初始化对象存储
	store, err := blob.Open(context.Background(), blob.Config{
		Driver:    cfg.BlobDriver,
		FSRoot:    cfg.BlobFSRoot,
		FSBaseURL: cfg.MediaURLPath,
		S3: blob.S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		},
	})
	if err != nil {
		log.Fatalf("failed to initialize blob store: %v", err)
	}

	// 本地文件存储时由 Gin 直接提供媒体文件访问
	mediaDir := ""
	if fsStore, ok := store.(*blob.FilesystemStore); ok {
		mediaDir = fsStore.Root()
	}

	api := handler.NewAPI(gdb, store)

	// 设置并运行 Gin 服务器
	r := router.SetupRouter(api, mediaDir, cfg.MediaURLPath)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("failed to run server: %v", err)
	}
}
