package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/routinecard/internal/db"
	"github.com/routinecard/internal/service"
)

type completionPayload struct {
	Date     string         `json:"date"`
	Source   string         `json:"source"`
	Version  int            `json:"version"`
	Values   []db.ItemValue `json:"values"`
	PhotoURL string         `json:"photo_url"`
	PhotoKey string         `json:"photo_key"`
}

type amendPayload struct {
	Values []db.ItemValue `json:"values"`
}

// CreateCompletion 记录一天的打卡。
// 数字打卡不带版本号，始终按当前版本校验；纸质确认携带卡片版本与照片。
func (a *API) CreateCompletion(c *gin.Context) {
	routineID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的清单ID")
		return
	}

	var payload completionPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	date, ok := parseDateField(c, payload.Date, "打卡日期")
	if !ok {
		return
	}

	source := strings.TrimSpace(payload.Source)
	if source == "" {
		source = db.SourceDigital
	}

	completion, err := a.completions.Complete(routineID, service.CompletionInput{
		Date:     date,
		Source:   source,
		Version:  payload.Version,
		Values:   payload.Values,
		PhotoURL: strings.TrimSpace(payload.PhotoURL),
		PhotoKey: strings.TrimSpace(payload.PhotoKey),
	})
	if err != nil {
		handleCompletionError(c, err)
		return
	}

	body, err := completionToPayload(completion)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "解析打卡数据失败")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"completion": body})
}

// ListCompletions 返回日期区间内的打卡记录，默认当前自然月
func (a *API) ListCompletions(c *gin.Context) {
	routineID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的清单ID")
		return
	}

	if _, err := a.routines.Get(routineID); err != nil {
		handleCompletionError(c, err)
		return
	}

	now := time.Now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	if raw := c.Query("start"); raw != "" {
		parsed, ok := parseDateField(c, raw, "起始日期")
		if !ok {
			return
		}
		start = parsed
	}
	if raw := c.Query("end"); raw != "" {
		parsed, ok := parseDateField(c, raw, "结束日期")
		if !ok {
			return
		}
		end = parsed
	}

	completions, err := a.completions.ListBetween(routineID, start, end)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取打卡记录失败")
		return
	}

	items := make([]gin.H, 0, len(completions))
	for i := range completions {
		body, err := completionToPayload(&completions[i])
		if err != nil {
			respondError(c, http.StatusInternalServerError, "解析打卡数据失败")
			return
		}
		items = append(items, body)
	}

	c.JSON(http.StatusOK, gin.H{
		"routine_id":  routineID,
		"range":       gin.H{"start": start.Format(dateFormat), "end": end.Format(dateFormat)},
		"completions": items,
	})
}

// GetCompletion 返回某天的打卡记录
func (a *API) GetCompletion(c *gin.Context) {
	routineID, date, ok := parseCompletionPath(c)
	if !ok {
		return
	}

	completion, err := a.completions.Get(routineID, date)
	if err != nil {
		handleCompletionError(c, err)
		return
	}

	body, err := completionToPayload(completion)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "解析打卡数据失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"completion": body})
}

// AmendCompletion 修订某天打卡的填写值，旧值进入修订历史
func (a *API) AmendCompletion(c *gin.Context) {
	routineID, date, ok := parseCompletionPath(c)
	if !ok {
		return
	}

	var payload amendPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	completion, err := a.completions.Amend(routineID, date, payload.Values)
	if err != nil {
		handleCompletionError(c, err)
		return
	}

	body, err := completionToPayload(completion)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "解析打卡数据失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"completion": body})
}

// GetCompletionHistory 返回某天打卡的修订历史
func (a *API) GetCompletionHistory(c *gin.Context) {
	routineID, date, ok := parseCompletionPath(c)
	if !ok {
		return
	}

	history, err := a.completions.ListEditHistory(routineID, date)
	if err != nil {
		handleCompletionError(c, err)
		return
	}

	items := make([]gin.H, 0, len(history))
	for i := range history {
		values, err := history[i].ValueList()
		if err != nil {
			respondError(c, http.StatusInternalServerError, "解析修订历史失败")
			return
		}
		items = append(items, gin.H{
			"id":              history[i].ID,
			"previous_values": values,
			"edited_at":       history[i].EditedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"routine_id": routineID,
		"date":       date.Format(dateFormat),
		"history":    items,
	})
}

func parseCompletionPath(c *gin.Context) (uint, time.Time, bool) {
	routineID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的清单ID")
		return 0, time.Time{}, false
	}

	date, ok := parseDateField(c, c.Param("date"), "打卡日期")
	if !ok {
		return 0, time.Time{}, false
	}

	return routineID, date, true
}

func parseDateField(c *gin.Context, value, label string) (time.Time, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		respondError(c, http.StatusBadRequest, "请提供"+label)
		return time.Time{}, false
	}

	parsed, err := time.Parse(dateFormat, trimmed)
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的"+label)
		return time.Time{}, false
	}

	return parsed, true
}

func completionToPayload(completion *db.CompletedRoutine) (gin.H, error) {
	values, err := completion.ValueList()
	if err != nil {
		return nil, err
	}

	body := gin.H{
		"id":           completion.ID,
		"routine_id":   completion.RoutineID,
		"date":         completion.CompletedDate.Format(dateFormat),
		"completed_at": completion.CompletedAt,
		"version":      completion.Version,
		"source":       completion.Source,
		"values":       values,
	}
	if completion.PhotoURL != "" {
		body["photo_url"] = completion.PhotoURL
	}
	if completion.PhotoExpiresAt != nil {
		body["photo_expires_at"] = completion.PhotoExpiresAt
	}
	return body, nil
}

func handleCompletionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRoutineNotFound):
		respondError(c, http.StatusNotFound, "清单不存在")
	case errors.Is(err, service.ErrCompletionNotFound):
		respondError(c, http.StatusNotFound, "当天没有打卡记录")
	case errors.Is(err, service.ErrCompletionExists):
		respondError(c, http.StatusConflict, "当天已有打卡记录，请使用修订接口")
	case errors.Is(err, service.ErrVersionNotFound):
		respondError(c, http.StatusNotFound, "版本不存在")
	case errors.Is(err, service.ErrCompletionInvalid):
		respondError(c, http.StatusBadRequest, "打卡参数不合法："+err.Error())
	case errors.Is(err, service.ErrValuesInvalid):
		respondError(c, http.StatusBadRequest, "填写值不合法："+err.Error())
	case errors.Is(err, service.ErrSnapshotIntegrity):
		respondError(c, http.StatusInternalServerError, "版本快照数据缺失")
	default:
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}
