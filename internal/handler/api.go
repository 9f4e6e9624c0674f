package handler

import (
	"github.com/routinecard/internal/blob"
	"github.com/routinecard/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db          *gorm.DB
	store       blob.Store
	routines    *service.RoutineService
	completions *service.CompletionService
	stats       *service.StatsService
	inventory   *service.InventoryService
	prints      *service.PrintService
	extractions *service.ExtractionService
	system      *service.SystemSettingService
}

// NewAPI constructs a handler set with shared services.
// 渲染与识别协作方按系统设置在每次调用时解析，这里只建默认实现。
func NewAPI(gdb *gorm.DB, store blob.Store) *API {
	systemService := service.NewSystemSettingService(gdb)
	renderer := service.NewHTTPCardRenderer(systemService)
	extractor := service.NewVisionCardExtractor(systemService, "gpt-4o", "deepseek-chat")

	return &API{
		db:          gdb,
		store:       store,
		routines:    service.NewRoutineService(gdb),
		completions: service.NewCompletionService(gdb, store),
		stats:       service.NewStatsService(gdb),
		inventory:   service.NewInventoryService(gdb),
		prints:      service.NewPrintService(gdb, store, renderer),
		extractions: service.NewExtractionService(gdb, extractor),
		system:      systemService,
	}
}
