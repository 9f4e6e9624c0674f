package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/routinecard/internal/blob"
	"github.com/routinecard/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// photoRetention 照片自上传起的保留时长，到期由清理任务删除
const photoRetention = 30 * 24 * time.Hour

var (
	// ErrCompletionExists 当同一清单同一天已有打卡记录时返回
	ErrCompletionExists = errors.New("completion already recorded for this date")
	// ErrCompletionNotFound 在指定日期没有打卡记录时返回
	ErrCompletionNotFound = errors.New("completion not found")
	// ErrCompletionInvalid 当来源、版本或照片等完成参数不合法时返回
	ErrCompletionInvalid = errors.New("invalid completion")
	// ErrValuesInvalid 当填写值与条目定义不匹配时返回
	ErrValuesInvalid = errors.New("invalid completion values")
)

// CompletionInput 描述一次打卡提交。
// Version 为 0 表示按当前活跃版本校验并锚定（数字打卡固定走该路径）；
// 纸质打卡必须携带卡片上印的版本号，哪怕清单在打印后又改过。
type CompletionInput struct {
	Date     time.Time
	Source   string
	Version  int
	Values   []db.ItemValue
	PhotoURL string
	PhotoKey string
}

// CompletionService 处理打卡的写入、修订与照片生命周期。
type CompletionService struct {
	db    *gorm.DB
	store blob.Store
}

// NewCompletionService 创建 CompletionService 实例。
func NewCompletionService(gdb *gorm.DB, store blob.Store) *CompletionService {
	return &CompletionService{db: gdb, store: store}
}

// Complete 记录一天的打卡。
// 唯一性依赖 (routine_id, completed_date) 唯一索引加 ON CONFLICT DO NOTHING：
// 两个并发提交只有一个写入成功，另一个以 ErrCompletionExists 返回，应用层不做预查询。
// 纸质打卡在同一事务内累加该清单的已上传卡片数。
func (s *CompletionService) Complete(routineID uint, input CompletionInput) (*db.CompletedRoutine, error) {
	routine, err := findRoutine(s.db, routineID)
	if err != nil {
		return nil, err
	}

	switch input.Source {
	case db.SourceDigital:
		if input.Version != 0 {
			return nil, fmt.Errorf("%w: digital completions always use the current version", ErrCompletionInvalid)
		}
		if input.PhotoURL != "" || input.PhotoKey != "" {
			return nil, fmt.Errorf("%w: digital completions carry no photo", ErrCompletionInvalid)
		}
	case db.SourceAnalog:
		if input.Version < 1 {
			return nil, fmt.Errorf("%w: analog completions require the printed card version", ErrCompletionInvalid)
		}
		if input.PhotoURL == "" {
			return nil, fmt.Errorf("%w: analog completions require a photo", ErrCompletionInvalid)
		}
	default:
		return nil, fmt.Errorf("%w: unknown source %q", ErrCompletionInvalid, input.Source)
	}

	version := input.Version
	var items []db.RoutineItem
	if version == 0 || version == routine.Version {
		version = routine.Version
		items, err = routine.ItemList()
	} else {
		items, err = resolveItemsForVersion(s.db, routineID, version)
	}
	if err != nil {
		return nil, err
	}

	if err := validateValues(items, input.Values); err != nil {
		return nil, err
	}

	now := time.Now()
	completion := db.CompletedRoutine{
		RoutineID:     routineID,
		CompletedDate: normalizeDate(input.Date),
		CompletedAt:   now,
		Version:       version,
		Source:        input.Source,
	}
	if err := completion.SetValueList(input.Values); err != nil {
		return nil, err
	}
	if input.Source == db.SourceAnalog {
		expiry := now.Add(photoRetention)
		completion.PhotoURL = input.PhotoURL
		completion.PhotoKey = input.PhotoKey
		completion.PhotoExpiresAt = &expiry
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&completion)
		if result.Error != nil {
			return fmt.Errorf("record completion: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrCompletionExists
		}

		if input.Source == db.SourceAnalog {
			return incrementUploadedCount(tx, routineID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &completion, nil
}

// Get 查询某清单某天的打卡记录。
func (s *CompletionService) Get(routineID uint, date time.Time) (*db.CompletedRoutine, error) {
	var completion db.CompletedRoutine
	if err := s.db.Where("routine_id = ? AND completed_date = ?", routineID, normalizeDate(date)).
		First(&completion).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCompletionNotFound
		}
		return nil, fmt.Errorf("get completion: %w", err)
	}
	return &completion, nil
}

// ListBetween 返回日期闭区间内的打卡记录，按日期升序。
func (s *CompletionService) ListBetween(routineID uint, from, to time.Time) ([]db.CompletedRoutine, error) {
	var completions []db.CompletedRoutine
	if err := s.db.Where("routine_id = ? AND completed_date BETWEEN ? AND ?",
		routineID, normalizeDate(from), normalizeDate(to)).
		Order("completed_date ASC").
		Find(&completions).Error; err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	return completions, nil
}

// ListRecent 返回最近的打卡记录，按日期降序。
func (s *CompletionService) ListRecent(routineID uint, limit int) ([]db.CompletedRoutine, error) {
	if limit <= 0 {
		limit = 30
	}
	var completions []db.CompletedRoutine
	if err := s.db.Where("routine_id = ?", routineID).
		Order("completed_date DESC").
		Limit(limit).
		Find(&completions).Error; err != nil {
		return nil, fmt.Errorf("list recent completions: %w", err)
	}
	return completions, nil
}

// Amend 修订已有打卡的填写值。
// 修订前的完整旧值先落入 edit_history，再覆盖新值，两步同事务；
// 历史只追加，即使新旧值完全相同也照常记录，修订不改变来源与照片。
func (s *CompletionService) Amend(routineID uint, date time.Time, values []db.ItemValue) (*db.CompletedRoutine, error) {
	day := normalizeDate(date)

	var amended db.CompletedRoutine
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var completion db.CompletedRoutine
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("routine_id = ? AND completed_date = ?", routineID, day).
			First(&completion).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCompletionNotFound
			}
			return fmt.Errorf("find completion: %w", err)
		}

		items, err := resolveItemsForVersion(tx, routineID, completion.Version)
		if err != nil {
			return err
		}
		if err := validateValues(items, values); err != nil {
			return err
		}

		history := db.EditHistory{
			CompletedRoutineID: completion.ID,
			PreviousValues:     completion.Values,
			EditedAt:           time.Now(),
		}
		if err := tx.Create(&history).Error; err != nil {
			return fmt.Errorf("append edit history: %w", err)
		}

		if err := completion.SetValueList(values); err != nil {
			return err
		}
		if err := tx.Save(&completion).Error; err != nil {
			return fmt.Errorf("amend completion: %w", err)
		}

		amended = completion
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &amended, nil
}

// ListEditHistory 返回某天打卡的全部修订记录，按修订时间升序。
func (s *CompletionService) ListEditHistory(routineID uint, date time.Time) ([]db.EditHistory, error) {
	completion, err := s.Get(routineID, date)
	if err != nil {
		return nil, err
	}

	var history []db.EditHistory
	if err := s.db.Where("completed_routine_id = ?", completion.ID).
		Order("edited_at ASC, id ASC").
		Find(&history).Error; err != nil {
		return nil, fmt.Errorf("list edit history: %w", err)
	}
	return history, nil
}

// PurgeExpiredPhotos 删除保留期已过的打卡照片并清空照片字段，返回清理数量。
// 打卡数据本身保留；对象删除失败的记录跳过，等下一轮清理重试。
func (s *CompletionService) PurgeExpiredPhotos(ctx context.Context, now time.Time) (int, error) {
	var expired []db.CompletedRoutine
	if err := s.db.Where("photo_expires_at IS NOT NULL AND photo_expires_at <= ?", now).
		Find(&expired).Error; err != nil {
		return 0, fmt.Errorf("list expired photos: %w", err)
	}

	purged := 0
	for i := range expired {
		completion := &expired[i]
		if s.store != nil && completion.PhotoKey != "" {
			if _, err := s.store.Delete(ctx, completion.PhotoKey); err != nil {
				log.Printf("purge photo %s: %v", completion.PhotoKey, err)
				continue
			}
		}

		if err := s.db.Model(completion).Updates(map[string]interface{}{
			"photo_url":        "",
			"photo_key":        "",
			"photo_expires_at": nil,
		}).Error; err != nil {
			return purged, fmt.Errorf("clear photo fields: %w", err)
		}
		purged++
	}

	return purged, nil
}

// findRoutine 按主键取清单，供各服务共用
func findRoutine(gdb *gorm.DB, routineID uint) (*db.Routine, error) {
	var routine db.Routine
	if err := gdb.First(&routine, routineID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoutineNotFound
		}
		return nil, fmt.Errorf("get routine: %w", err)
	}
	return &routine, nil
}

// normalizeDate 去掉时间部分，以 UTC 零点表示一个自然日
func normalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// validateValues 校验填写值与版本条目集合的匹配：
// 条目必须存在且为叶子，字段必须落在条目类型的取值域内，评分限 1–5，
// 备注仅在开启备注的 scale 条目上允许；同一条目重复填写视为非法。
func validateValues(items []db.RoutineItem, values []db.ItemValue) error {
	leaves := db.FlattenItems(items)
	byID := make(map[string]db.RoutineItem, len(leaves))
	for _, leaf := range leaves {
		byID[leaf.ID] = leaf
	}

	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		item, ok := byID[value.ItemID]
		if !ok {
			return fmt.Errorf("%w: unknown item %s", ErrValuesInvalid, value.ItemID)
		}
		if _, dup := seen[value.ItemID]; dup {
			return fmt.Errorf("%w: duplicate value for item %s", ErrValuesInvalid, value.ItemID)
		}
		seen[value.ItemID] = struct{}{}

		switch item.Type {
		case db.ItemTypeCheckbox:
			if value.Number != nil || value.Rating != nil || value.Text != nil || value.Notes != "" {
				return fmt.Errorf("%w: item %q only accepts a checked state", ErrValuesInvalid, item.Name)
			}
		case db.ItemTypeNumber:
			if value.Checked != nil || value.Rating != nil || value.Text != nil || value.Notes != "" {
				return fmt.Errorf("%w: item %q only accepts a number", ErrValuesInvalid, item.Name)
			}
		case db.ItemTypeScale:
			if value.Checked != nil || value.Number != nil || value.Text != nil {
				return fmt.Errorf("%w: item %q only accepts a rating", ErrValuesInvalid, item.Name)
			}
			if value.Rating != nil && (*value.Rating < 1 || *value.Rating > 5) {
				return fmt.Errorf("%w: rating for %q must be between 1 and 5", ErrValuesInvalid, item.Name)
			}
			if value.Notes != "" && !item.HasNotes {
				return fmt.Errorf("%w: item %q does not accept notes", ErrValuesInvalid, item.Name)
			}
		case db.ItemTypeText:
			if value.Checked != nil || value.Number != nil || value.Rating != nil || value.Notes != "" {
				return fmt.Errorf("%w: item %q only accepts text", ErrValuesInvalid, item.Name)
			}
		}
	}

	return nil
}
