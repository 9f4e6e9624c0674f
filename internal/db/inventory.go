package db

import (
	"time"

	"gorm.io/gorm"
)

// DefaultAlertThreshold 未显式配置时的补货提醒阈值
const DefaultAlertThreshold = 3

// PaperInventory 跟踪每个清单的纸质卡片库存
// 每个清单至多一条记录，打印与上传分别累加，不做余量钳制
// LastAlertAt 由外部提醒服务回写，用于其 24 小时提醒冷却
type PaperInventory struct {
	gorm.Model
	RoutineID      uint    `gorm:"uniqueIndex"`
	Routine        Routine `gorm:"constraint:OnDelete:CASCADE"`
	PrintedCount   int
	UploadedCount  int
	AlertThreshold int `gorm:"default:3"`
	LastPrintedAt  *time.Time
	LastAlertAt    *time.Time
}

// TableName 与既有表命名保持一致
func (PaperInventory) TableName() string {
	return "paper_inventory"
}

// Remaining 计算剩余卡片数，过量上传时允许为负
func (p PaperInventory) Remaining() int {
	return p.PrintedCount - p.UploadedCount
}

// NeedsRestock 判断余量是否触达提醒阈值
func (p PaperInventory) NeedsRestock() bool {
	return p.Remaining() <= p.AlertThreshold
}
