package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/routinecard/internal/db"
	"gorm.io/gorm"
)

// reviewCutoff 识别置信度低于该值的条目标记为需人工复核
const reviewCutoff = 0.6

// ErrExtractionInvalid 当识别请求参数不合法时返回
var ErrExtractionInvalid = errors.New("invalid extraction request")

// ProposedValue 是一条经过类型域校验的识别结果，等待用户确认。
type ProposedValue struct {
	ItemID      string   `json:"item_id"`
	ItemName    string   `json:"item_name"`
	ItemType    string   `json:"item_type"`
	Checked     *bool    `json:"checked,omitempty"`
	Number      *float64 `json:"number,omitempty"`
	Rating      *int     `json:"rating,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Text        *string  `json:"text,omitempty"`
	Confidence  float64  `json:"confidence"`
	NeedsReview bool     `json:"needs_review"`
}

// ExtractionProposal 汇总一张卡片照片的识别建议。
// Version 是本次校验所依据的版本；DetectedVersion 是照片上认出的版本标记，
// 两者不一致时由调用方决定是否按检测到的版本重新发起识别。
type ExtractionProposal struct {
	RoutineID       uint            `json:"routine_id"`
	Version         int             `json:"version"`
	PhotoURL        string          `json:"photo_url"`
	DetectedDate    string          `json:"detected_date,omitempty"`
	DetectedVersion int             `json:"detected_version,omitempty"`
	Values          []ProposedValue `json:"values"`
}

// ExtractionService 驱动卡片照片识别并把原始产出整理成可确认的建议。
// 确认本身走普通的纸质打卡流程，本服务不落任何打卡数据。
type ExtractionService struct {
	db        *gorm.DB
	extractor CardExtractor
}

// NewExtractionService 创建 ExtractionService 实例。
func NewExtractionService(gdb *gorm.DB, extractor CardExtractor) *ExtractionService {
	return &ExtractionService{db: gdb, extractor: extractor}
}

// Propose 按指定版本的条目集合识别照片并返回建议值。
// version 为 0 时按当前活跃版本解析；识别产出中不属于该版本的条目直接丢弃，
// 越出类型取值域的值同样丢弃，置信度低于复核线的值保留但标记 NeedsReview。
func (s *ExtractionService) Propose(ctx context.Context, routineID uint, photoURL string, version int) (*ExtractionProposal, error) {
	photoURL = strings.TrimSpace(photoURL)
	if photoURL == "" {
		return nil, fmt.Errorf("%w: photo_url is required", ErrExtractionInvalid)
	}

	routine, err := findRoutine(s.db, routineID)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		version = routine.Version
	}
	items, err := resolveItemsForVersion(s.db, routineID, version)
	if err != nil {
		return nil, err
	}

	extraction, err := s.extractor.Extract(ctx, photoURL, items)
	if err != nil {
		return nil, err
	}

	leaves := db.FlattenItems(items)
	byID := make(map[string]db.RoutineItem, len(leaves))
	for _, leaf := range leaves {
		byID[leaf.ID] = leaf
	}

	proposal := &ExtractionProposal{
		RoutineID:       routineID,
		Version:         version,
		PhotoURL:        photoURL,
		DetectedDate:    extraction.DetectedDate,
		DetectedVersion: extraction.DetectedVersion,
		Values:          []ProposedValue{},
	}

	for _, value := range extraction.Values {
		item, ok := byID[value.ItemID]
		if !ok {
			continue
		}
		proposed, ok := coerceExtractedValue(item, value)
		if !ok {
			continue
		}
		proposal.Values = append(proposal.Values, proposed)
	}

	return proposal, nil
}

// coerceExtractedValue 把识别原始值收敛到条目的类型取值域内，越域返回 false。
func coerceExtractedValue(item db.RoutineItem, value db.ItemValue) (ProposedValue, bool) {
	confidence := 0.0
	if value.Confidence != nil {
		confidence = *value.Confidence
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	out := ProposedValue{
		ItemID:      item.ID,
		ItemName:    item.Name,
		ItemType:    item.Type,
		Confidence:  confidence,
		NeedsReview: confidence < reviewCutoff,
	}

	switch item.Type {
	case db.ItemTypeCheckbox:
		if value.Checked == nil {
			return out, false
		}
		out.Checked = value.Checked
	case db.ItemTypeNumber:
		if value.Number == nil {
			return out, false
		}
		out.Number = value.Number
	case db.ItemTypeScale:
		if value.Rating == nil || *value.Rating < 1 || *value.Rating > 5 {
			return out, false
		}
		out.Rating = value.Rating
		if item.HasNotes {
			out.Notes = strings.TrimSpace(value.Notes)
		}
	case db.ItemTypeText:
		if value.Text == nil || strings.TrimSpace(*value.Text) == "" {
			return out, false
		}
		trimmed := strings.TrimSpace(*value.Text)
		out.Text = &trimmed
	default:
		return out, false
	}

	return out, true
}
