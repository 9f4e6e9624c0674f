package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultCalendarView = "monthly"

// GetRoutineStats 返回连续天数、历史最长连续与 30 天完成率
func (a *API) GetRoutineStats(c *gin.Context) {
	routineID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的清单ID")
		return
	}

	stats, err := a.stats.Stats(routineID, time.Now())
	if err != nil {
		handleCompletionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"routine_id": routineID, "stats": stats})
}

// GetRoutineCalendar 返回按周或按月的完成状态日历
func (a *API) GetRoutineCalendar(c *gin.Context) {
	routineID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的清单ID")
		return
	}

	view := c.DefaultQuery("view", defaultCalendarView)
	start, end := resolveCalendarRange(c.Query("start"), view)

	days, err := a.stats.Calendar(routineID, start, end)
	if err != nil {
		handleCompletionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"routine_id": routineID,
		"range": gin.H{
			"start": start.Format(dateFormat),
			"end":   end.Format(dateFormat),
			"view":  view,
		},
		"days": days,
	})
}

// resolveCalendarRange 把起始日期与视图解析成闭区间：
// weekly 对齐到周一开始的一周，其余按自然月。
func resolveCalendarRange(startStr, view string) (time.Time, time.Time) {
	var start time.Time
	var err error

	if startStr != "" {
		start, err = time.Parse(dateFormat, startStr)
	}
	if err != nil || startStr == "" {
		today := time.Now()
		start = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	}

	switch strings.ToLower(view) {
	case "weekly":
		weekday := int(start.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		start = start.AddDate(0, 0, -weekday+1)
		end := start.AddDate(0, 0, 6)
		return start, end
	default:
		start = time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, start.Location())
		end := start.AddDate(0, 1, -1)
		return start, end
	}
}
