package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/routinecard/internal/service"
)

type printPayload struct {
	Layout   string `json:"layout"`
	Quantity int    `json:"quantity"`
}

// CreatePrint 渲染卡片文档并累加打印计数。
// layout 缺省或为 auto 时按条目数自动选择排布。
func (a *API) CreatePrint(c *gin.Context) {
	routineID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的清单ID")
		return
	}

	var payload printPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	result, err := a.prints.Print(c.Request.Context(), routineID, service.CardLayout(payload.Layout), payload.Quantity)
	if err != nil {
		handlePrintError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"print": result})
}

func handlePrintError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRoutineNotFound):
		respondError(c, http.StatusNotFound, "清单不存在")
	case errors.Is(err, service.ErrPrintInvalid):
		respondError(c, http.StatusBadRequest, "打印参数不合法："+err.Error())
	case errors.Is(err, service.ErrRendererNotConfigured):
		respondError(c, http.StatusServiceUnavailable, "尚未配置卡片渲染服务地址")
	case errors.Is(err, service.ErrRenderFailed):
		respondError(c, http.StatusBadGateway, "卡片渲染失败，请稍后重试")
	default:
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}
