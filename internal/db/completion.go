package db

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 打卡来源常量
const (
	SourceDigital = "digital"
	SourceAnalog  = "analog"
)

// ItemValue 记录单个条目的填写结果
// 按条目类型取用字段：Checked/Number/Rating/Text，空指针表示未填写
// Notes 仅在 scale 条目开启备注时使用；Confidence 仅光学识别结果携带
type ItemValue struct {
	ItemID     string   `json:"item_id"`
	Checked    *bool    `json:"checked,omitempty"`
	Number     *float64 `json:"number,omitempty"`
	Rating     *int     `json:"rating,omitempty"`
	Notes      string   `json:"notes,omitempty"`
	Text       *string  `json:"text,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Filled 判断该条目是否已填写（任一类型字段非空）
func (v ItemValue) Filled() bool {
	return v.Checked != nil || v.Number != nil || v.Rating != nil || v.Text != nil
}

// CompletedRoutine 记录一天的清单完成情况
// Routine + CompletedDate 采用唯一索引，同一天至多一条
// Version 锚定完成时生效的条目集合版本；analog 来源额外携带照片及其过期时间
type CompletedRoutine struct {
	gorm.Model
	RoutineID      uint      `gorm:"index;index:idx_completed_routine_unique,unique"`
	Routine        Routine   `gorm:"constraint:OnDelete:CASCADE"`
	CompletedDate  time.Time `gorm:"index:idx_completed_routine_unique,unique"`
	CompletedAt    time.Time
	Version        int
	Source         string
	Values         datatypes.JSON
	PhotoURL       string
	PhotoKey       string `json:"-"`
	PhotoExpiresAt *time.Time
}

// TableName 重写确保唯一索引作用到 routine_id + completed_date
func (CompletedRoutine) TableName() string {
	return "completed_routines"
}

// ValueList 反序列化填写结果
func (c *CompletedRoutine) ValueList() ([]ItemValue, error) {
	return decodeValues(c.Values)
}

// SetValueList 序列化填写结果写回 Values 字段
func (c *CompletedRoutine) SetValueList(values []ItemValue) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode completion values: %w", err)
	}
	c.Values = raw
	return nil
}

// EditHistory 在每次修订前保存完整的旧值列表，只追加不修改
type EditHistory struct {
	gorm.Model
	CompletedRoutineID uint             `gorm:"index"`
	CompletedRoutine   CompletedRoutine `gorm:"constraint:OnDelete:CASCADE"`
	PreviousValues     datatypes.JSON
	EditedAt           time.Time
}

// TableName 与既有表命名保持一致
func (EditHistory) TableName() string {
	return "edit_history"
}

// ValueList 反序列化修订前的旧值列表
func (h *EditHistory) ValueList() ([]ItemValue, error) {
	return decodeValues(h.PreviousValues)
}

func decodeValues(raw datatypes.JSON) ([]ItemValue, error) {
	if len(raw) == 0 {
		return []ItemValue{}, nil
	}
	var values []ItemValue
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode completion values: %w", err)
	}
	return values, nil
}
