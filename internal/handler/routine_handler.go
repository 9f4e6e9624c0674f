package handler

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/routinecard/internal/db"
	"github.com/routinecard/internal/service"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

const dateFormat = "2006-01-02"

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify, extension.Table),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	sanitizer = bluemonday.UGCPolicy()
)

type routinePayload struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Items       []db.RoutineItem `json:"items"`
}

type routineUpdatePayload struct {
	Name        string            `json:"name"`
	Description *string           `json:"description"`
	Items       *[]db.RoutineItem `json:"items"`
}

// ListRoutines 返回清单列表
func (a *API) ListRoutines(c *gin.Context) {
	routines, err := a.routines.List(service.RoutineFilter{Search: c.Query("search")})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取清单列表失败")
		return
	}

	items := make([]gin.H, 0, len(routines))
	for i := range routines {
		payload, err := routineToPayload(&routines[i])
		if err != nil {
			respondError(c, http.StatusInternalServerError, "解析清单条目失败")
			return
		}
		items = append(items, payload)
	}

	c.JSON(http.StatusOK, gin.H{"routines": items})
}

// GetRoutine 返回单个清单详情，附带渲染后的描述与推荐排布
func (a *API) GetRoutine(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的清单ID")
		return
	}

	routine, err := a.routines.Get(id)
	if err != nil {
		handleRoutineError(c, err)
		return
	}

	payload, err := routineToPayload(routine)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "解析清单条目失败")
		return
	}

	items, _ := routine.ItemList()
	leaves := db.CountLeaves(items)
	payload["leaf_count"] = leaves
	payload["suggested_layout"] = service.SuggestLayout(leaves)
	if desc := strings.TrimSpace(routine.Description); desc != "" {
		if rendered, err := renderMarkdown(desc); err == nil {
			payload["description_html"] = rendered
		}
	}

	c.JSON(http.StatusOK, gin.H{"routine": payload})
}

// CreateRoutine 创建清单
func (a *API) CreateRoutine(c *gin.Context) {
	var payload routinePayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	routine, err := a.routines.Create(service.RoutineInput{
		Name:        payload.Name,
		Description: payload.Description,
		Items:       payload.Items,
	})
	if err != nil {
		handleRoutineError(c, err)
		return
	}

	body, err := routineToPayload(routine)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "解析清单条目失败")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"routine": body})
}

// UpdateRoutine 更新清单名称或条目集合，条目变更会产生新版本
func (a *API) UpdateRoutine(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的清单ID")
		return
	}

	var payload routineUpdatePayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	routine, err := a.routines.Update(id, service.RoutineUpdateInput{
		Name:        payload.Name,
		Description: payload.Description,
		Items:       payload.Items,
	})
	if err != nil {
		handleRoutineError(c, err)
		return
	}

	body, err := routineToPayload(routine)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "解析清单条目失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"routine": body})
}

// DeleteRoutine 删除清单
func (a *API) DeleteRoutine(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的清单ID")
		return
	}

	if err := a.routines.Delete(id); err != nil {
		respondError(c, http.StatusInternalServerError, "删除清单失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ListRoutineVersions 返回清单的全部历史快照版本号
func (a *API) ListRoutineVersions(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的清单ID")
		return
	}

	routine, err := a.routines.Get(id)
	if err != nil {
		handleRoutineError(c, err)
		return
	}

	versions, err := a.routines.ListVersions(id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取版本列表失败")
		return
	}

	items := make([]gin.H, 0, len(versions))
	for i := range versions {
		items = append(items, gin.H{
			"version":    versions[i].Version,
			"created_at": versions[i].CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"routine_id":      routine.ID,
		"current_version": routine.Version,
		"versions":        items,
	})
}

// GetRoutineVersionItems 返回某个版本生效的条目集合
func (a *API) GetRoutineVersionItems(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的清单ID")
		return
	}

	version, err := parseUintParam(c, "version")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的版本号")
		return
	}

	items, err := a.routines.ResolveItemsForVersion(id, int(version))
	if err != nil {
		handleRoutineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"routine_id": id,
		"version":    version,
		"items":      items,
	})
}

func routineToPayload(routine *db.Routine) (gin.H, error) {
	items, err := routine.ItemList()
	if err != nil {
		return nil, err
	}

	return gin.H{
		"id":          routine.ID,
		"name":        routine.Name,
		"description": routine.Description,
		"version":     routine.Version,
		"items":       items,
		"created_at":  routine.CreatedAt,
		"updated_at":  routine.UpdatedAt,
	}, nil
}

func renderMarkdown(content string) (string, error) {
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(content), &buf); err != nil {
		return "", err
	}
	return string(sanitizer.SanitizeBytes(buf.Bytes())), nil
}

func handleRoutineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRoutineNotFound):
		respondError(c, http.StatusNotFound, "清单不存在")
	case errors.Is(err, service.ErrVersionNotFound):
		respondError(c, http.StatusNotFound, "版本不存在")
	case errors.Is(err, service.ErrRoutineInvalid):
		respondError(c, http.StatusBadRequest, "清单配置不合法："+err.Error())
	case errors.Is(err, service.ErrItemsInvalid):
		respondError(c, http.StatusBadRequest, "清单条目不合法："+err.Error())
	case errors.Is(err, service.ErrSnapshotIntegrity):
		respondError(c, http.StatusInternalServerError, "版本快照数据缺失")
	default:
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}
