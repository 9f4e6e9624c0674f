package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/routinecard/internal/blob"
	"github.com/routinecard/internal/config"
	"github.com/routinecard/internal/db"
	"github.com/routinecard/internal/service"
)

// 清理已过保留期的打卡照片，可由 cron 定期调用。
func main() {
	var before string
	flag.StringVar(&before, "before", "", "purge photos expiring before this RFC3339 time (default now)")
	flag.Parse()

	cutoff := time.Now()
	if before != "" {
		parsed, err := time.Parse(time.RFC3339, before)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse -before: %v\n", err)
			os.Exit(1)
		}
		cutoff = parsed
	}

	cfg := config.Load()

	gdb, err := db.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init db: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := blob.Open(ctx, blob.Config{
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
		fmt.Fprintf(os.Stderr, "init blob store: %v\n", err)
		os.Exit(1)
	}

	completionService := service.NewCompletionService(gdb, store)
	purged, err := completionService.PurgeExpiredPhotos(ctx, cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "purge photos: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("done: purged %d photos\n", purged)
}
