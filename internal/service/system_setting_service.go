package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/routinecard/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// ExtractionProviderOpenAI 表示使用 OpenAI 的视觉模型识别卡片。
	ExtractionProviderOpenAI = "openai"
	// ExtractionProviderDeepSeek 表示使用 DeepSeek 的视觉模型识别卡片。
	ExtractionProviderDeepSeek = "deepseek"
)

var supportedExtractionProviders = []string{ExtractionProviderOpenAI, ExtractionProviderDeepSeek}

// SystemSettings 描述可在线配置的系统信息。
type SystemSettings struct {
	ExtractionProvider    string
	OpenAIAPIKey          string
	DeepSeekAPIKey        string
	ExtractionModel       string
	RendererEndpoint      string
	DefaultAlertThreshold int
}

// ErrExtractionAPIKeyMissing 表示未提供所选识别平台的 API Key。
var ErrExtractionAPIKeyMissing = errors.New("api key is required")

// SystemSettingsInput 用于更新系统设置。
type SystemSettingsInput struct {
	ExtractionProvider    string
	OpenAIAPIKey          string
	DeepSeekAPIKey        string
	ExtractionModel       string
	RendererEndpoint      string
	DefaultAlertThreshold int
}

// SystemSettingService 提供系统设置的读取与更新能力。
type SystemSettingService struct {
	db              *gorm.DB
	httpClient      httpDoer
	openAIBaseURL   string
	deepSeekBaseURL string
}

// NewSystemSettingService 构造 SystemSettingService。
func NewSystemSettingService(gdb *gorm.DB) *SystemSettingService {
	return &SystemSettingService{
		db:              gdb,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		openAIBaseURL:   "https://api.openai.com/v1",
		deepSeekBaseURL: "https://api.deepseek.com/v1",
	}
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

var settingKeys = []string{
	db.SettingKeyExtractionProvider,
	db.SettingKeyOpenAIAPIKey,
	db.SettingKeyDeepSeekAPIKey,
	db.SettingKeyExtractionModel,
	db.SettingKeyRendererEndpoint,
	db.SettingKeyDefaultAlertThreshold,
}

// GetSettings 读取系统设置，如未设置将返回默认值。
func (s *SystemSettingService) GetSettings() (SystemSettings, error) {
	result := SystemSettings{
		ExtractionProvider:    ExtractionProviderOpenAI,
		DefaultAlertThreshold: db.DefaultAlertThreshold,
	}

	var records []db.SystemSetting
	if err := s.db.Where("key IN ?", settingKeys).Find(&records).Error; err != nil {
		return result, fmt.Errorf("load system settings: %w", err)
	}

	for _, record := range records {
		switch record.Key {
		case db.SettingKeyExtractionProvider:
			if provider := normalizeExtractionProvider(record.Value); provider != "" {
				result.ExtractionProvider = provider
			}
		case db.SettingKeyOpenAIAPIKey:
			result.OpenAIAPIKey = record.Value
		case db.SettingKeyDeepSeekAPIKey:
			result.DeepSeekAPIKey = record.Value
		case db.SettingKeyExtractionModel:
			result.ExtractionModel = strings.TrimSpace(record.Value)
		case db.SettingKeyRendererEndpoint:
			result.RendererEndpoint = strings.TrimSpace(record.Value)
		case db.SettingKeyDefaultAlertThreshold:
			if value, err := strconv.Atoi(strings.TrimSpace(record.Value)); err == nil && value >= 0 {
				result.DefaultAlertThreshold = value
			}
		}
	}

	return result, nil
}

// UpdateSettings 保存系统设置，非法的提供方与阈值回退默认值。
func (s *SystemSettingService) UpdateSettings(input SystemSettingsInput) (SystemSettings, error) {
	provider := normalizeExtractionProvider(input.ExtractionProvider)
	if provider == "" {
		provider = ExtractionProviderOpenAI
	}

	sanitized := SystemSettings{
		ExtractionProvider:    provider,
		OpenAIAPIKey:          strings.TrimSpace(input.OpenAIAPIKey),
		DeepSeekAPIKey:        strings.TrimSpace(input.DeepSeekAPIKey),
		ExtractionModel:       strings.TrimSpace(input.ExtractionModel),
		RendererEndpoint:      strings.TrimSpace(input.RendererEndpoint),
		DefaultAlertThreshold: input.DefaultAlertThreshold,
	}
	if sanitized.DefaultAlertThreshold < 0 {
		sanitized.DefaultAlertThreshold = db.DefaultAlertThreshold
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := upsertSetting(tx, db.SettingKeyExtractionProvider, sanitized.ExtractionProvider); err != nil {
			return err
		}
		if err := upsertSetting(tx, db.SettingKeyOpenAIAPIKey, sanitized.OpenAIAPIKey); err != nil {
			return err
		}
		if err := upsertSetting(tx, db.SettingKeyDeepSeekAPIKey, sanitized.DeepSeekAPIKey); err != nil {
			return err
		}
		if err := upsertSetting(tx, db.SettingKeyExtractionModel, sanitized.ExtractionModel); err != nil {
			return err
		}
		if err := upsertSetting(tx, db.SettingKeyRendererEndpoint, sanitized.RendererEndpoint); err != nil {
			return err
		}
		if err := upsertSetting(tx, db.SettingKeyDefaultAlertThreshold, strconv.Itoa(sanitized.DefaultAlertThreshold)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return SystemSettings{}, fmt.Errorf("update system settings: %w", err)
	}

	return sanitized, nil
}

func upsertSetting(tx *gorm.DB, key, value string) error {
	setting := db.SystemSetting{Key: key, Value: value}
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      value,
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&setting).Error; err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}

// SetHTTPClient 替换用于访问第三方服务的 HTTP 客户端，主要面向测试场景。
func (s *SystemSettingService) SetHTTPClient(client httpDoer) {
	if client == nil {
		s.httpClient = &http.Client{Timeout: 10 * time.Second}
		return
	}
	s.httpClient = client
}

// SetOpenAIBaseURL 覆盖 OpenAI API 的基础地址，便于测试或自定义代理。
func (s *SystemSettingService) SetOpenAIBaseURL(base string) {
	trimmed := strings.TrimSpace(base)
	s.openAIBaseURL = strings.TrimRight(trimmed, "/")
}

// SetDeepSeekBaseURL 覆盖 DeepSeek API 的基础地址，便于测试或自定义代理。
func (s *SystemSettingService) SetDeepSeekBaseURL(base string) {
	trimmed := strings.TrimSpace(base)
	s.deepSeekBaseURL = strings.TrimRight(trimmed, "/")
}

// TestExtractionConnection 调用指定平台的模型列表接口验证 API Key 的有效性。
func (s *SystemSettingService) TestExtractionConnection(ctx context.Context, provider, apiKey string) error {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return ErrExtractionAPIKeyMissing
	}

	prov := normalizeExtractionProvider(provider)
	if prov == "" {
		prov = ExtractionProviderOpenAI
	}

	client := s.httpClient
	if client == nil {
		client = http.DefaultClient
	}

	base := ""
	label := ""
	switch prov {
	case ExtractionProviderDeepSeek:
		base = s.deepSeekBaseURL
		if strings.TrimSpace(base) == "" {
			base = "https://api.deepseek.com/v1"
		}
		label = "DeepSeek"
	default:
		base = s.openAIBaseURL
		if strings.TrimSpace(base) == "" {
			base = "https://api.openai.com/v1"
		}
		label = "OpenAI"
	}

	endpoint := strings.TrimRight(base, "/") + "/models"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", strings.ToLower(label), err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("User-Agent", "routinecard/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("请求 %s 接口失败: %w", label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("%s 返回错误：%s (%s)", label, resp.Status, msg)
		}
		return fmt.Errorf("%s 返回错误：%s", label, resp.Status)
	}

	return nil
}

func normalizeExtractionProvider(provider string) string {
	trimmed := strings.ToLower(strings.TrimSpace(provider))
	for _, candidate := range supportedExtractionProviders {
		if trimmed == candidate {
			return candidate
		}
	}
	return ""
}
