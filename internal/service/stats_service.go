package service

import (
	"fmt"
	"time"

	"github.com/routinecard/internal/db"
	"gorm.io/gorm"
)

// 统计口径的固定策略常量
const (
	// rateWindowDays 完成率的滚动窗口长度（含今天）
	rateWindowDays = 30
	// completeThreshold 日历上记为「完整完成」所需的填写比例
	completeThreshold = 0.8
)

// 日历单日状态
const (
	CalendarComplete = "complete"
	CalendarPartial  = "partial"
	CalendarNone     = "none"
)

// RoutineStats 汇总一个清单的打卡统计。
type RoutineStats struct {
	CurrentStreak    int     `json:"current_streak"`
	LongestStreak    int     `json:"longest_streak"`
	CompletionRate   float64 `json:"completion_rate"`
	TotalCompletions int     `json:"total_completions"`
}

// CalendarDay 描述日历上一天的完成状态。
type CalendarDay struct {
	Date   string `json:"date"`
	Status string `json:"status"`
}

// StatsService 按需从打卡事件流重算统计，不落任何累计字段。
type StatsService struct {
	db *gorm.DB
}

// NewStatsService 创建 StatsService 实例。
func NewStatsService(gdb *gorm.DB) *StatsService {
	return &StatsService{db: gdb}
}

// Stats 计算清单的连续天数、历史最长连续与 30 天完成率。
func (s *StatsService) Stats(routineID uint, today time.Time) (*RoutineStats, error) {
	if _, err := findRoutine(s.db, routineID); err != nil {
		return nil, err
	}

	var dates []time.Time
	if err := s.db.Model(&db.CompletedRoutine{}).
		Where("routine_id = ?", routineID).
		Order("completed_date ASC").
		Pluck("completed_date", &dates).Error; err != nil {
		return nil, fmt.Errorf("load completion dates: %w", err)
	}
	for i := range dates {
		dates[i] = normalizeDate(dates[i])
	}
	day := normalizeDate(today)

	return &RoutineStats{
		CurrentStreak:    currentStreak(dates, day),
		LongestStreak:    longestStreak(dates),
		CompletionRate:   completionRate(dates, day),
		TotalCompletions: len(dates),
	}, nil
}

// Calendar 返回日期闭区间内每天的完成状态。
// 每条打卡按其锚定版本解析条目集合再计算填写比例，
// 不同天的打卡可能落在不同版本上，版本条目在区间内缓存复用。
func (s *StatsService) Calendar(routineID uint, from, to time.Time) ([]CalendarDay, error) {
	if _, err := findRoutine(s.db, routineID); err != nil {
		return nil, err
	}

	start, end := normalizeDate(from), normalizeDate(to)
	if end.Before(start) {
		start, end = end, start
	}

	var completions []db.CompletedRoutine
	if err := s.db.Where("routine_id = ? AND completed_date BETWEEN ? AND ?", routineID, start, end).
		Find(&completions).Error; err != nil {
		return nil, fmt.Errorf("load completions: %w", err)
	}

	byDate := make(map[string]*db.CompletedRoutine, len(completions))
	for i := range completions {
		byDate[normalizeDate(completions[i].CompletedDate).Format("2006-01-02")] = &completions[i]
	}

	itemsByVersion := make(map[int][]db.RoutineItem)
	days := make([]CalendarDay, 0, int(end.Sub(start).Hours()/24)+1)

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		completion, ok := byDate[key]
		if !ok {
			days = append(days, CalendarDay{Date: key, Status: CalendarNone})
			continue
		}

		items, cached := itemsByVersion[completion.Version]
		if !cached {
			resolved, err := resolveItemsForVersion(s.db, routineID, completion.Version)
			if err != nil {
				return nil, err
			}
			items = resolved
			itemsByVersion[completion.Version] = items
		}

		values, err := completion.ValueList()
		if err != nil {
			return nil, err
		}

		status := CalendarPartial
		if completionFraction(items, values) >= completeThreshold {
			status = CalendarComplete
		}
		days = append(days, CalendarDay{Date: key, Status: status})
	}

	return days, nil
}

// currentStreak 计算截至 today 的连续打卡天数。
// 最近一次打卡既不在今天也不在昨天时归零；否则从锚点日向前数连续日。
func currentStreak(dates []time.Time, today time.Time) int {
	if len(dates) == 0 {
		return 0
	}

	set := make(map[time.Time]struct{}, len(dates))
	for _, d := range dates {
		set[d] = struct{}{}
	}

	anchor := today
	if _, ok := set[anchor]; !ok {
		anchor = today.AddDate(0, 0, -1)
		if _, ok := set[anchor]; !ok {
			return 0
		}
	}

	streak := 0
	for day := anchor; ; day = day.AddDate(0, 0, -1) {
		if _, ok := set[day]; !ok {
			break
		}
		streak++
	}
	return streak
}

// longestStreak 计算历史最长连续打卡天数，入参须按日期升序且已去时间部分。
func longestStreak(dates []time.Time) int {
	longest, run := 0, 0
	var prev time.Time
	for i, d := range dates {
		if i > 0 && d.Sub(prev) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
		prev = d
	}
	return longest
}

// completionRate 计算以 today 为终点的 30 天滚动窗口内的完成率。
func completionRate(dates []time.Time, today time.Time) float64 {
	windowStart := today.AddDate(0, 0, -(rateWindowDays - 1))
	count := 0
	for _, d := range dates {
		if !d.Before(windowStart) && !d.After(today) {
			count++
		}
	}
	return float64(count) / float64(rateWindowDays)
}

// completionFraction 计算已填写叶子条目占版本条目总数的比例。
// 只统计属于该版本条目集合的填写值，历史遗留的未知条目不计入分子。
func completionFraction(items []db.RoutineItem, values []db.ItemValue) float64 {
	leaves := db.FlattenItems(items)
	if len(leaves) == 0 {
		return 0
	}

	known := make(map[string]struct{}, len(leaves))
	for _, leaf := range leaves {
		known[leaf.ID] = struct{}{}
	}

	filled := 0
	for _, value := range values {
		if !value.Filled() {
			continue
		}
		if _, ok := known[value.ItemID]; ok {
			filled++
		}
	}

	return float64(filled) / float64(len(leaves))
}
