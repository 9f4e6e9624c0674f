package router

import (
	"github.com/gin-gonic/gin"
	"github.com/routinecard/internal/handler"
)

// SetupRouter 配置 Gin 引擎和路由。
// mediaDir 非空时把本地对象存储目录挂到 mediaURLPath 下，供照片与卡片文档直链访问。
func SetupRouter(api *handler.API, mediaDir, mediaURLPath string) *gin.Engine {
	r := gin.Default()

	if mediaDir != "" && mediaURLPath != "" {
		r.Static(mediaURLPath, mediaDir)
	}

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})
	r.GET("/health", api.HealthCheck)

	apiRoutes := r.Group("/api")
	{
		routines := apiRoutes.Group("/routines")
		{
			routines.POST("", api.CreateRoutine)
			routines.GET("", api.ListRoutines)
			routines.GET("/:id", api.GetRoutine)
			routines.PUT("/:id", api.UpdateRoutine)
			routines.DELETE("/:id", api.DeleteRoutine)

			// 版本快照
			routines.GET("/:id/versions", api.ListRoutineVersions)
			routines.GET("/:id/versions/:version/items", api.GetRoutineVersionItems)

			// 打卡与修订
			routines.POST("/:id/completions", api.CreateCompletion)
			routines.GET("/:id/completions", api.ListCompletions)
			routines.GET("/:id/completions/:date", api.GetCompletion)
			routines.PUT("/:id/completions/:date", api.AmendCompletion)
			routines.GET("/:id/completions/:date/history", api.GetCompletionHistory)

			// 统计与日历
			routines.GET("/:id/stats", api.GetRoutineStats)
			routines.GET("/:id/calendar", api.GetRoutineCalendar)

			// 纸质卡片流程
			routines.POST("/:id/photos", api.UploadRoutinePhoto)
			routines.POST("/:id/extractions", api.CreateExtraction)
			routines.POST("/:id/prints", api.CreatePrint)
			routines.GET("/:id/inventory", api.GetInventory)
			routines.PUT("/:id/inventory", api.UpdateInventory)
			routines.POST("/:id/inventory/alerts", api.RecordInventoryAlert)
		}

		apiRoutes.GET("/inventory/restock", api.ListRestock)

		apiRoutes.GET("/settings", api.GetSystemSettings)
		apiRoutes.PUT("/settings", api.UpdateSystemSettings)
		apiRoutes.POST("/settings/test-extraction", api.TestExtractionConnection)

		apiRoutes.POST("/system/photo-purge", api.RunPhotoPurge)
	}

	return r
}
