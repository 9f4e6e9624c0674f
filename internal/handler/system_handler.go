package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/routinecard/internal/service"
)

// HealthCheck 提供部署平台与监控系统使用的健康检查端点。
func (a *API) HealthCheck(c *gin.Context) {
	sqlDB, err := a.db.DB()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "database handle unavailable",
		})
		return
	}

	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "error",
			"message": "database unreachable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"database": "up",
	})
}

type systemSettingsRequest struct {
	ExtractionProvider    string `json:"extractionProvider"`
	OpenAIAPIKey          string `json:"openaiApiKey"`
	DeepSeekAPIKey        string `json:"deepseekApiKey"`
	ExtractionModel       string `json:"extractionModel"`
	RendererEndpoint      string `json:"rendererEndpoint"`
	DefaultAlertThreshold int    `json:"defaultAlertThreshold"`
}

type extractionTestRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey"`
}

// GetSystemSettings 返回当前系统设置。
func (a *API) GetSystemSettings(c *gin.Context) {
	settings, err := a.system.GetSettings()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取系统设置失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"settings": systemSettingsPayload(settings)})
}

// UpdateSystemSettings 保存系统设置。
func (a *API) UpdateSystemSettings(c *gin.Context) {
	var payload systemSettingsRequest
	if !bindJSON(c, &payload, "请填写完整的系统设置") {
		return
	}

	settings, err := a.system.UpdateSettings(payload.toInput())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "保存系统设置失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "系统设置已保存",
		"settings": systemSettingsPayload(settings),
	})
}

func (r systemSettingsRequest) toInput() service.SystemSettingsInput {
	return service.SystemSettingsInput{
		ExtractionProvider:    r.ExtractionProvider,
		OpenAIAPIKey:          r.OpenAIAPIKey,
		DeepSeekAPIKey:        r.DeepSeekAPIKey,
		ExtractionModel:       r.ExtractionModel,
		RendererEndpoint:      r.RendererEndpoint,
		DefaultAlertThreshold: r.DefaultAlertThreshold,
	}
}

func systemSettingsPayload(settings service.SystemSettings) gin.H {
	return gin.H{
		"extractionProvider":    settings.ExtractionProvider,
		"openaiApiKey":          settings.OpenAIAPIKey,
		"deepseekApiKey":        settings.DeepSeekAPIKey,
		"extractionModel":       settings.ExtractionModel,
		"rendererEndpoint":      settings.RendererEndpoint,
		"defaultAlertThreshold": settings.DefaultAlertThreshold,
	}
}

// TestExtractionConnection 测试不同识别平台 API Key 的连通性。
func (a *API) TestExtractionConnection(c *gin.Context) {
	var payload extractionTestRequest
	if !bindJSON(c, &payload, "请填写有效的识别服务配置") {
		return
	}

	if err := a.system.TestExtractionConnection(c.Request.Context(), payload.Provider, payload.APIKey); err != nil {
		switch {
		case errors.Is(err, service.ErrExtractionAPIKeyMissing):
			respondError(c, http.StatusBadRequest, "请填写有效的 API Key")
		default:
			respondError(c, http.StatusBadGateway, err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "识别服务连接正常"})
}

// RunPhotoPurge 清理保留期已过的打卡照片，由定时任务或管理端触发。
func (a *API) RunPhotoPurge(c *gin.Context) {
	purged, err := a.completions.PurgeExpiredPhotos(c.Request.Context(), time.Now())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "清理过期照片失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"purged": purged})
}
