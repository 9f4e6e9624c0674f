package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/routinecard/internal/blob"
	"github.com/routinecard/internal/db"
	"gorm.io/gorm"
)

// CardLayout 表示信纸页上的卡片排布方式。
type CardLayout string

const (
	// LayoutQuarter 四分之一页卡片，每页 2×2 张
	LayoutQuarter CardLayout = "quarter"
	// LayoutHalf 半页卡片，每页 1×2 张
	LayoutHalf CardLayout = "half"
	// LayoutFull 整页卡片，每页 1 张
	LayoutFull CardLayout = "full"
	// LayoutAuto 按条目数自动选择
	LayoutAuto CardLayout = "auto"
)

// layoutSpec 描述一种排布的网格与容量，MaxItems 为 0 表示不限
type layoutSpec struct {
	Columns  int
	Rows     int
	MaxItems int
}

var layoutSpecs = map[CardLayout]layoutSpec{
	LayoutQuarter: {Columns: 2, Rows: 2, MaxItems: 8},
	LayoutHalf:    {Columns: 1, Rows: 2, MaxItems: 15},
	LayoutFull:    {Columns: 1, Rows: 1},
}

// SuggestLayout 按叶子条目数推荐排布：8 条以内四分之一页，15 条以内半页，再多整页。
func SuggestLayout(itemCount int) CardLayout {
	if itemCount <= layoutSpecs[LayoutQuarter].MaxItems {
		return LayoutQuarter
	}
	if itemCount <= layoutSpecs[LayoutHalf].MaxItems {
		return LayoutHalf
	}
	return LayoutFull
}

var (
	// ErrPrintInvalid 当排布或数量参数不合法时返回
	ErrPrintInvalid = errors.New("invalid print request")
	// ErrRenderFailed 表示渲染协作方未能产出文档
	ErrRenderFailed = errors.New("card rendering failed")
)

// PrintResult 汇总一次打印产出。
type PrintResult struct {
	Layout         CardLayout `json:"layout"`
	CardsPerPage   int        `json:"cards_per_page"`
	PagesGenerated int        `json:"pages_generated"`
	CardsGenerated int        `json:"cards_generated"`
	Version        int        `json:"version"`
	DocumentKey    string     `json:"document_key"`
	DocumentURL    string     `json:"document_url"`
}

// PrintService 负责卡片文档的生成入库与打印计数。
// 卡片永远按当前活跃版本渲染，版本号随文档一起印在卡片上。
type PrintService struct {
	db       *gorm.DB
	store    blob.Store
	renderer CardRenderer
}

// NewPrintService 创建 PrintService 实例。
func NewPrintService(gdb *gorm.DB, store blob.Store, renderer CardRenderer) *PrintService {
	return &PrintService{db: gdb, store: store, renderer: renderer}
}

// Print 渲染指定数量的卡片文档并存入对象存储，同时累加打印计数。
func (s *PrintService) Print(ctx context.Context, routineID uint, layout CardLayout, quantity int) (*PrintResult, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrPrintInvalid)
	}

	routine, err := findRoutine(s.db, routineID)
	if err != nil {
		return nil, err
	}
	items, err := routine.ItemList()
	if err != nil {
		return nil, err
	}
	leaves := db.CountLeaves(items)

	chosen := layout
	if chosen == "" || chosen == LayoutAuto {
		chosen = SuggestLayout(leaves)
	}
	spec, ok := layoutSpecs[chosen]
	if !ok {
		return nil, fmt.Errorf("%w: unknown layout %q", ErrPrintInvalid, layout)
	}
	if spec.MaxItems > 0 && leaves > spec.MaxItems {
		return nil, fmt.Errorf("%w: layout %s holds at most %d items, routine has %d",
			ErrPrintInvalid, chosen, spec.MaxItems, leaves)
	}

	job := CardRenderJob{
		RoutineName: routine.Name,
		Version:     routine.Version,
		VersionTag:  fmt.Sprintf("v%d", routine.Version),
		Layout:      chosen,
		Columns:     spec.Columns,
		Rows:        spec.Rows,
		Quantity:    quantity,
		Items:       items,
	}
	document, err := s.renderer.Render(ctx, job)
	if err != nil {
		if errors.Is(err, ErrRendererNotConfigured) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}

	key := fmt.Sprintf("cards/%d/v%d-%s.pdf", routineID, routine.Version, uuid.New().String())
	info, err := s.store.Put(ctx, key, bytes.NewReader(document), blob.PutOptions{
		ContentType: "application/pdf",
		Metadata: map[string]string{
			"routine": strconv.FormatUint(uint64(routineID), 10),
			"version": strconv.Itoa(routine.Version),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store card document: %w", err)
	}

	now := time.Now()
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		return recordPrint(tx, routineID, quantity, now)
	}); err != nil {
		return nil, err
	}

	cardsPerPage := spec.Columns * spec.Rows
	pages := (quantity + cardsPerPage - 1) / cardsPerPage

	return &PrintResult{
		Layout:         chosen,
		CardsPerPage:   cardsPerPage,
		PagesGenerated: pages,
		CardsGenerated: quantity,
		Version:        routine.Version,
		DocumentKey:    key,
		DocumentURL:    blob.PublicURL(ctx, s.store, info),
	}, nil
}
