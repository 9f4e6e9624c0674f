package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/routinecard/internal/service"
)

type extractionPayload struct {
	PhotoURL string `json:"photo_url"`
	Version  int    `json:"version"`
}

// CreateExtraction 识别卡片照片并返回建议值，等待用户确认。
// version 缺省按当前版本校验；确认走普通打卡接口，携带卡片版本与照片。
func (a *API) CreateExtraction(c *gin.Context) {
	routineID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的清单ID")
		return
	}

	var payload extractionPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	proposal, err := a.extractions.Propose(c.Request.Context(), routineID, payload.PhotoURL, payload.Version)
	if err != nil {
		handleExtractionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"extraction": proposal})
}

func handleExtractionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRoutineNotFound):
		respondError(c, http.StatusNotFound, "清单不存在")
	case errors.Is(err, service.ErrVersionNotFound):
		respondError(c, http.StatusNotFound, "版本不存在")
	case errors.Is(err, service.ErrExtractionInvalid):
		respondError(c, http.StatusBadRequest, "识别参数不合法："+err.Error())
	case errors.Is(err, service.ErrExtractionAPIKeyMissing):
		respondError(c, http.StatusServiceUnavailable, "尚未配置识别服务的 API Key")
	case errors.Is(err, service.ErrSnapshotIntegrity):
		respondError(c, http.StatusInternalServerError, "版本快照数据缺失")
	default:
		respondError(c, http.StatusBadGateway, "识别卡片失败，请稍后重试")
	}
}
