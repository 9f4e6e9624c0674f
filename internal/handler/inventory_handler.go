package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/routinecard/internal/db"
	"github.com/routinecard/internal/service"
)

type inventoryUpdatePayload struct {
	AlertThreshold *int `json:"alert_threshold"`
}

type inventoryAlertPayload struct {
	At string `json:"at"`
}

// GetInventory 返回清单的卡片库存计数
func (a *API) GetInventory(c *gin.Context) {
	routineID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的清单ID")
		return
	}

	inventory, err := a.inventory.GetForRoutine(routineID)
	if err != nil {
		handleInventoryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"inventory": inventoryToPayload(inventory)})
}

// UpdateInventory 设置补货提醒阈值
func (a *API) UpdateInventory(c *gin.Context) {
	routineID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的清单ID")
		return
	}

	var payload inventoryUpdatePayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}
	if payload.AlertThreshold == nil {
		respondError(c, http.StatusBadRequest, "请提供提醒阈值")
		return
	}

	inventory, err := a.inventory.SetAlertThreshold(routineID, *payload.AlertThreshold)
	if err != nil {
		handleInventoryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"inventory": inventoryToPayload(inventory)})
}

// RecordInventoryAlert 供外部提醒服务回写提醒时间
func (a *API) RecordInventoryAlert(c *gin.Context) {
	routineID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的清单ID")
		return
	}

	var payload inventoryAlertPayload
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &payload, "请求参数不合法") {
			return
		}
	}

	at := time.Now()
	if payload.At != "" {
		parsed, err := time.Parse(time.RFC3339, payload.At)
		if err != nil {
			respondError(c, http.StatusBadRequest, "无效的提醒时间")
			return
		}
		at = parsed
	}

	inventory, err := a.inventory.MarkAlerted(routineID, at)
	if err != nil {
		handleInventoryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"inventory": inventoryToPayload(inventory)})
}

// ListRestock 返回当前需要补打卡片的清单
func (a *API) ListRestock(c *gin.Context) {
	inventories, err := a.inventory.ListNeedingRestock()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取补货列表失败")
		return
	}

	items := make([]gin.H, 0, len(inventories))
	for i := range inventories {
		body := inventoryToPayload(&inventories[i])
		body["routine_name"] = inventories[i].Routine.Name
		items = append(items, body)
	}

	c.JSON(http.StatusOK, gin.H{"inventories": items})
}

func inventoryToPayload(inventory *db.PaperInventory) gin.H {
	body := gin.H{
		"routine_id":      inventory.RoutineID,
		"printed_count":   inventory.PrintedCount,
		"uploaded_count":  inventory.UploadedCount,
		"remaining":       inventory.Remaining(),
		"alert_threshold": inventory.AlertThreshold,
		"needs_restock":   inventory.NeedsRestock(),
	}
	if inventory.LastPrintedAt != nil {
		body["last_printed_at"] = inventory.LastPrintedAt
	}
	if inventory.LastAlertAt != nil {
		body["last_alert_at"] = inventory.LastAlertAt
	}
	return body
}

func handleInventoryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRoutineNotFound):
		respondError(c, http.StatusNotFound, "清单不存在")
	case errors.Is(err, service.ErrInventoryInvalid):
		respondError(c, http.StatusBadRequest, "库存参数不合法："+err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}
