package db

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 条目类型常量，group 仅作为一层分组容器使用
const (
	ItemTypeCheckbox = "checkbox"
	ItemTypeNumber   = "number"
	ItemTypeScale    = "scale"
	ItemTypeText     = "text"
	ItemTypeGroup    = "group"
)

// MaxRoutineLeaves 限制单个清单可包含的叶子条目数量
const MaxRoutineLeaves = 50

// RoutineItem 描述清单中的一个条目
// 四种叶子类型共用一个结构，按 Type 区分生效字段：
// Unit 仅 number 使用，HasNotes 仅 scale 使用，Children 仅 group 使用（且只能放叶子）
// ID 为服务端分配的 uuid，条目一旦进入快照便不可再变
type RoutineItem struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Type     string        `json:"type"`
	Order    int           `json:"order"`
	Unit     string        `json:"unit,omitempty"`
	HasNotes bool          `json:"has_notes,omitempty"`
	Children []RoutineItem `json:"children,omitempty"`
}

// IsGroup 判断条目是否为分组
func (i RoutineItem) IsGroup() bool {
	return i.Type == ItemTypeGroup
}

// Routine 定义了清单模型
// Items 以 JSON 形式存储有序条目列表，Version 从 1 开始
// 条目集合每变更一次 Version +1，仅改名不变更 Version
type Routine struct {
	gorm.Model
	Name        string
	Description string
	Items       datatypes.JSON
	Version     int `gorm:"default:1"`
}

// ItemList 反序列化当前条目列表
func (r *Routine) ItemList() ([]RoutineItem, error) {
	return decodeItems(r.Items)
}

// SetItemList 序列化条目列表写回 Items 字段
func (r *Routine) SetItemList(items []RoutineItem) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode routine items: %w", err)
	}
	r.Items = raw
	return nil
}

// RoutineVersion 保存条目集合被替换前的不可变快照
// RoutineID + Version 唯一，快照创建后不再修改或删除
type RoutineVersion struct {
	gorm.Model
	RoutineID uint    `gorm:"index;index:idx_routine_version_unique,unique"`
	Routine   Routine `gorm:"constraint:OnDelete:CASCADE"`
	Version   int     `gorm:"index:idx_routine_version_unique,unique"`
	Items     datatypes.JSON
}

// TableName 重写确保唯一索引作用到 routine_id + version
func (RoutineVersion) TableName() string {
	return "routine_versions"
}

// ItemList 反序列化快照中的条目列表
func (v *RoutineVersion) ItemList() ([]RoutineItem, error) {
	return decodeItems(v.Items)
}

// SetItemList 序列化条目列表写入快照
func (v *RoutineVersion) SetItemList(items []RoutineItem) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode snapshot items: %w", err)
	}
	v.Items = raw
	return nil
}

// FlattenItems 按显示顺序展开条目，分组会被摊平成其叶子
func FlattenItems(items []RoutineItem) []RoutineItem {
	leaves := make([]RoutineItem, 0, len(items))
	for _, item := range items {
		if item.IsGroup() {
			leaves = append(leaves, item.Children...)
			continue
		}
		leaves = append(leaves, item)
	}
	return leaves
}

// CountLeaves 统计叶子条目总数，分组按其子条目计数
func CountLeaves(items []RoutineItem) int {
	count := 0
	for _, item := range items {
		if item.IsGroup() {
			count += len(item.Children)
			continue
		}
		count++
	}
	return count
}

func decodeItems(raw datatypes.JSON) ([]RoutineItem, error) {
	if len(raw) == 0 {
		return []RoutineItem{}, nil
	}
	var items []RoutineItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode routine items: %w", err)
	}
	return items, nil
}
