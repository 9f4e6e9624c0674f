package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/routinecard/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrRoutineNotFound 在指定清单不存在时返回
	ErrRoutineNotFound = errors.New("routine not found")
	// ErrRoutineInvalid 当名称等基础字段不合法时返回
	ErrRoutineInvalid = errors.New("invalid routine configuration")
	// ErrItemsInvalid 当条目列表不符合约束时返回
	ErrItemsInvalid = errors.New("invalid routine items")
	// ErrVersionNotFound 在请求的版本号从未存在过时返回
	ErrVersionNotFound = errors.New("routine version not found")
	// ErrSnapshotIntegrity 表示历史版本缺失快照，属于服务端数据故障而非用户错误
	ErrSnapshotIntegrity = errors.New("routine version snapshot missing")
)

// RoutineService wraps routine definitions and the version snapshot archive.
// Every item-set mutation snapshots the pre-mutation list under the old
// version number and bumps the live version by one, in a single transaction
// guarded by a row lock. Name-only edits bump nothing.
type RoutineService struct {
	db *gorm.DB
}

// RoutineFilter describes filters for listing routines.
type RoutineFilter struct {
	Search string
}

// RoutineInput represents fields accepted when creating a routine.
type RoutineInput struct {
	Name        string
	Description string
	Items       []db.RoutineItem
}

// RoutineUpdateInput 定义更新清单时的可选字段。
// Items 为 nil 表示本次不变更条目集合（不产生快照、不升版本）。
type RoutineUpdateInput struct {
	Name        string
	Description *string
	Items       *[]db.RoutineItem
}

// NewRoutineService creates a RoutineService instance.
func NewRoutineService(gdb *gorm.DB) *RoutineService {
	return &RoutineService{db: gdb}
}

// List returns routines matching the filter, newest first.
func (s *RoutineService) List(filter RoutineFilter) ([]db.Routine, error) {
	var routines []db.Routine

	query := s.db.Model(&db.Routine{})
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + search + "%"
		query = query.Where("name LIKE ? OR description LIKE ?", like, like)
	}

	if err := query.Order("created_at DESC").Find(&routines).Error; err != nil {
		return nil, fmt.Errorf("list routines: %w", err)
	}

	return routines, nil
}

// Get fetches a routine by id.
func (s *RoutineService) Get(id uint) (*db.Routine, error) {
	var routine db.Routine
	if err := s.db.First(&routine, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoutineNotFound
		}
		return nil, fmt.Errorf("get routine: %w", err)
	}
	return &routine, nil
}

// Create persists a new routine at version 1.
func (s *RoutineService) Create(input RoutineInput) (*db.Routine, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrRoutineInvalid)
	}

	items, err := normalizeItems(input.Items)
	if err != nil {
		return nil, err
	}

	routine := db.Routine{
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Version:     1,
	}
	if err := routine.SetItemList(items); err != nil {
		return nil, err
	}

	if err := s.db.Create(&routine).Error; err != nil {
		return nil, fmt.Errorf("create routine: %w", err)
	}
	return &routine, nil
}

// Update applies a name/description and/or item-set change.
// 提供 Items 时：对清单行加排它锁，先以当前版本号落快照，再替换条目并将版本 +1，
// 两个写入同事务提交；并发编辑同一清单时后到者会等待锁，不会丢失快照或重复版本号。
func (s *RoutineService) Update(id uint, input RoutineUpdateInput) (*db.Routine, error) {
	var items []db.RoutineItem
	if input.Items != nil {
		normalized, err := normalizeItems(*input.Items)
		if err != nil {
			return nil, err
		}
		items = normalized
	}

	var updated db.Routine
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var routine db.Routine
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&routine, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoutineNotFound
			}
			return fmt.Errorf("find routine: %w", err)
		}

		if name := strings.TrimSpace(input.Name); name != "" {
			routine.Name = name
		}
		if input.Description != nil {
			routine.Description = strings.TrimSpace(*input.Description)
		}

		if input.Items != nil {
			snapshot := db.RoutineVersion{
				RoutineID: routine.ID,
				Version:   routine.Version,
				Items:     routine.Items,
			}
			if err := tx.Create(&snapshot).Error; err != nil {
				return fmt.Errorf("snapshot routine version %d: %w", routine.Version, err)
			}

			if err := routine.SetItemList(items); err != nil {
				return err
			}
			routine.Version++
		}

		if err := tx.Save(&routine).Error; err != nil {
			return fmt.Errorf("update routine: %w", err)
		}

		updated = routine
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &updated, nil
}

// Delete 软删除清单，快照、打卡与库存记录保留但不再可达。
func (s *RoutineService) Delete(id uint) error {
	if err := s.db.Delete(&db.Routine{}, id).Error; err != nil {
		return fmt.Errorf("delete routine: %w", err)
	}
	return nil
}

// ListVersions 返回清单的全部历史快照（按版本号升序），不含当前活跃版本。
func (s *RoutineService) ListVersions(routineID uint) ([]db.RoutineVersion, error) {
	var versions []db.RoutineVersion
	if err := s.db.Where("routine_id = ?", routineID).
		Order("version ASC").
		Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("list routine versions: %w", err)
	}
	return versions, nil
}

// ResolveItemsForVersion 解析指定版本生效的条目集合。
func (s *RoutineService) ResolveItemsForVersion(routineID uint, version int) ([]db.RoutineItem, error) {
	return resolveItemsForVersion(s.db, routineID, version)
}

// resolveItemsForVersion 命中当前版本时直接返回活跃条目（常见路径，不查快照），
// 历史版本查快照表。1..当前版本之间缺失快照说明此前的事务保障被破坏，
// 以 ErrSnapshotIntegrity 上抛，绝不回退到当前条目，否则历史数据会被错误地归到新条目上。
// 传入事务句柄时全部查询在该事务内执行。
func resolveItemsForVersion(gdb *gorm.DB, routineID uint, version int) ([]db.RoutineItem, error) {
	var routine db.Routine
	if err := gdb.First(&routine, routineID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoutineNotFound
		}
		return nil, fmt.Errorf("get routine: %w", err)
	}

	if version == routine.Version {
		return routine.ItemList()
	}

	if version < 1 || version > routine.Version {
		return nil, fmt.Errorf("%w: version %d", ErrVersionNotFound, version)
	}

	var snapshot db.RoutineVersion
	if err := gdb.Where("routine_id = ? AND version = ?", routineID, version).
		First(&snapshot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: routine %d version %d", ErrSnapshotIntegrity, routineID, version)
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	return snapshot.ItemList()
}

// normalizeItems 校验并整理条目列表：名称必填、类型合法、叶子数 1–50、
// 分组不嵌套且至少一个子条目、各类型专属字段不得越界使用；
// 缺失 ID 的条目分配 uuid，Order 按提交顺序重排。
func normalizeItems(items []db.RoutineItem) ([]db.RoutineItem, error) {
	leaves := db.CountLeaves(items)
	if leaves == 0 {
		return nil, fmt.Errorf("%w: at least one leaf item is required", ErrItemsInvalid)
	}
	if leaves > db.MaxRoutineLeaves {
		return nil, fmt.Errorf("%w: %d leaf items exceeds the limit of %d", ErrItemsInvalid, leaves, db.MaxRoutineLeaves)
	}

	seen := make(map[string]struct{}, leaves)
	normalized := make([]db.RoutineItem, 0, len(items))

	for idx, item := range items {
		prepared, err := normalizeItem(item, idx, false, seen)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, prepared)
	}

	return normalized, nil
}

func normalizeItem(item db.RoutineItem, order int, insideGroup bool, seen map[string]struct{}) (db.RoutineItem, error) {
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return item, fmt.Errorf("%w: item name is required", ErrItemsInvalid)
	}

	switch item.Type {
	case db.ItemTypeCheckbox, db.ItemTypeText:
		if item.Unit != "" || item.HasNotes || len(item.Children) > 0 {
			return item, fmt.Errorf("%w: %q carries fields of another type", ErrItemsInvalid, item.Name)
		}
	case db.ItemTypeNumber:
		if item.HasNotes || len(item.Children) > 0 {
			return item, fmt.Errorf("%w: %q carries fields of another type", ErrItemsInvalid, item.Name)
		}
		item.Unit = strings.TrimSpace(item.Unit)
	case db.ItemTypeScale:
		if item.Unit != "" || len(item.Children) > 0 {
			return item, fmt.Errorf("%w: %q carries fields of another type", ErrItemsInvalid, item.Name)
		}
	case db.ItemTypeGroup:
		if insideGroup {
			return item, fmt.Errorf("%w: group %q may not contain another group", ErrItemsInvalid, item.Name)
		}
		if len(item.Children) == 0 {
			return item, fmt.Errorf("%w: group %q has no children", ErrItemsInvalid, item.Name)
		}
		if item.Unit != "" || item.HasNotes {
			return item, fmt.Errorf("%w: %q carries fields of another type", ErrItemsInvalid, item.Name)
		}
	default:
		return item, fmt.Errorf("%w: unsupported item type %q", ErrItemsInvalid, item.Type)
	}

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if _, dup := seen[item.ID]; dup {
		return item, fmt.Errorf("%w: duplicate item id %s", ErrItemsInvalid, item.ID)
	}
	seen[item.ID] = struct{}{}
	item.Order = order

	if item.IsGroup() {
		children := make([]db.RoutineItem, 0, len(item.Children))
		for idx, child := range item.Children {
			prepared, err := normalizeItem(child, idx, true, seen)
			if err != nil {
				return item, err
			}
			children = append(children, prepared)
		}
		item.Children = children
	}

	return item, nil
}
