package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/routinecard/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInventoryInvalid 当库存操作参数不合法时返回
var ErrInventoryInvalid = errors.New("invalid inventory input")

// InventoryService 维护每个清单的纸质卡片库存计数。
// 库存行按需惰性创建：首次打印或首次上传才落库，
// 查询未打印过的清单时返回合成的零值行而不写库。
type InventoryService struct {
	db *gorm.DB
}

// NewInventoryService 创建 InventoryService 实例。
func NewInventoryService(gdb *gorm.DB) *InventoryService {
	return &InventoryService{db: gdb}
}

// GetForRoutine 返回清单的库存计数。
func (s *InventoryService) GetForRoutine(routineID uint) (*db.PaperInventory, error) {
	if _, err := findRoutine(s.db, routineID); err != nil {
		return nil, err
	}

	var inventory db.PaperInventory
	if err := s.db.Where("routine_id = ?", routineID).First(&inventory).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &db.PaperInventory{
				RoutineID:      routineID,
				AlertThreshold: defaultAlertThreshold(s.db),
			}, nil
		}
		return nil, fmt.Errorf("get inventory: %w", err)
	}
	return &inventory, nil
}

// RecordPrint 累加打印数量并更新最近打印时间。
func (s *InventoryService) RecordPrint(routineID uint, quantity int, now time.Time) (*db.PaperInventory, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrInventoryInvalid)
	}
	if _, err := findRoutine(s.db, routineID); err != nil {
		return nil, err
	}

	var inventory db.PaperInventory
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := recordPrint(tx, routineID, quantity, now); err != nil {
			return err
		}
		return tx.Where("routine_id = ?", routineID).First(&inventory).Error
	})
	if err != nil {
		return nil, err
	}
	return &inventory, nil
}

// RecordConsumption 累加一次卡片消耗（上传）。
// 纸质打卡走 CompletionService 的事务内部路径，此方法供独立调用。
func (s *InventoryService) RecordConsumption(routineID uint) (*db.PaperInventory, error) {
	if _, err := findRoutine(s.db, routineID); err != nil {
		return nil, err
	}

	var inventory db.PaperInventory
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := incrementUploadedCount(tx, routineID); err != nil {
			return err
		}
		return tx.Where("routine_id = ?", routineID).First(&inventory).Error
	})
	if err != nil {
		return nil, err
	}
	return &inventory, nil
}

// NeedsRestock 判断清单当前是否需要补打卡片。
func (s *InventoryService) NeedsRestock(routineID uint) (bool, error) {
	inventory, err := s.GetForRoutine(routineID)
	if err != nil {
		return false, err
	}
	return inventory.NeedsRestock(), nil
}

// ListNeedingRestock 返回余量触达阈值的全部库存行（含所属清单）。
// 从未打印或上传过的清单没有库存行，不会出现在结果里。
func (s *InventoryService) ListNeedingRestock() ([]db.PaperInventory, error) {
	var inventories []db.PaperInventory
	if err := s.db.Preload("Routine").
		Where("printed_count - uploaded_count <= alert_threshold").
		Order("printed_count - uploaded_count ASC").
		Find(&inventories).Error; err != nil {
		return nil, fmt.Errorf("list restock inventories: %w", err)
	}
	return inventories, nil
}

// SetAlertThreshold 设置清单的补货提醒阈值。
func (s *InventoryService) SetAlertThreshold(routineID uint, threshold int) (*db.PaperInventory, error) {
	if threshold < 0 {
		return nil, fmt.Errorf("%w: threshold must not be negative", ErrInventoryInvalid)
	}
	if _, err := findRoutine(s.db, routineID); err != nil {
		return nil, err
	}

	var inventory db.PaperInventory
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := ensureInventoryRow(tx, routineID); err != nil {
			return err
		}
		if err := tx.Model(&db.PaperInventory{}).
			Where("routine_id = ?", routineID).
			Update("alert_threshold", threshold).Error; err != nil {
			return fmt.Errorf("set alert threshold: %w", err)
		}
		return tx.Where("routine_id = ?", routineID).First(&inventory).Error
	})
	if err != nil {
		return nil, err
	}
	return &inventory, nil
}

// MarkAlerted 供外部提醒服务回写最近一次提醒时间，冷却判断由对方负责。
func (s *InventoryService) MarkAlerted(routineID uint, at time.Time) (*db.PaperInventory, error) {
	if _, err := findRoutine(s.db, routineID); err != nil {
		return nil, err
	}

	var inventory db.PaperInventory
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := ensureInventoryRow(tx, routineID); err != nil {
			return err
		}
		if err := tx.Model(&db.PaperInventory{}).
			Where("routine_id = ?", routineID).
			Update("last_alert_at", at).Error; err != nil {
			return fmt.Errorf("mark alerted: %w", err)
		}
		return tx.Where("routine_id = ?", routineID).First(&inventory).Error
	})
	if err != nil {
		return nil, err
	}
	return &inventory, nil
}

// ensureInventoryRow 惰性创建库存行，已存在时什么都不做。
func ensureInventoryRow(tx *gorm.DB, routineID uint) error {
	inventory := db.PaperInventory{
		RoutineID:      routineID,
		AlertThreshold: defaultAlertThreshold(tx),
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&inventory).Error; err != nil {
		return fmt.Errorf("ensure inventory row: %w", err)
	}
	return nil
}

// recordPrint 在既有事务内累加打印数，供打印流程复用。
func recordPrint(tx *gorm.DB, routineID uint, quantity int, now time.Time) error {
	if err := ensureInventoryRow(tx, routineID); err != nil {
		return err
	}
	if err := tx.Model(&db.PaperInventory{}).
		Where("routine_id = ?", routineID).
		Updates(map[string]interface{}{
			"printed_count":   gorm.Expr("printed_count + ?", quantity),
			"last_printed_at": now,
		}).Error; err != nil {
		return fmt.Errorf("record print: %w", err)
	}
	return nil
}

// incrementUploadedCount 在既有事务内累加上传数，纸质打卡与库存服务共用。
func incrementUploadedCount(tx *gorm.DB, routineID uint) error {
	if err := ensureInventoryRow(tx, routineID); err != nil {
		return err
	}
	if err := tx.Model(&db.PaperInventory{}).
		Where("routine_id = ?", routineID).
		UpdateColumn("uploaded_count", gorm.Expr("uploaded_count + ?", 1)).Error; err != nil {
		return fmt.Errorf("record consumption: %w", err)
	}
	return nil
}

// defaultAlertThreshold 读取系统设置里的默认阈值，未配置或不合法时用内置值。
func defaultAlertThreshold(gdb *gorm.DB) int {
	var setting db.SystemSetting
	if err := gdb.Where("key = ?", db.SettingKeyDefaultAlertThreshold).First(&setting).Error; err != nil {
		return db.DefaultAlertThreshold
	}
	value, err := strconv.Atoi(strings.TrimSpace(setting.Value))
	if err != nil || value < 0 {
		return db.DefaultAlertThreshold
	}
	return value
}
