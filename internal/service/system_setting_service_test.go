package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/routinecard/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupSystemSettingTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()

	dsn := fmt.Sprintf("file:system-setting-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := gdb.AutoMigrate(&db.SystemSetting{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	return gdb, func() {
		sqlDB, err := gdb.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}

func TestSystemSettingServiceDefaults(t *testing.T) {
	gdb, cleanup := setupSystemSettingTestDB(t)
	t.Cleanup(cleanup)

	svc := NewSystemSettingService(gdb)
	settings, err := svc.GetSettings()
	if err != nil {
		t.Fatalf("get settings failed: %v", err)
	}

	if settings.ExtractionProvider != ExtractionProviderOpenAI {
		t.Fatalf("expected default provider openai, got %s", settings.ExtractionProvider)
	}
	if settings.DefaultAlertThreshold != db.DefaultAlertThreshold {
		t.Fatalf("expected default alert threshold %d, got %d", db.DefaultAlertThreshold, settings.DefaultAlertThreshold)
	}
	if settings.OpenAIAPIKey != "" || settings.DeepSeekAPIKey != "" {
		t.Fatalf("expected keys to be empty, got %#v", settings)
	}
	if settings.ExtractionModel != "" || settings.RendererEndpoint != "" {
		t.Fatalf("expected model and renderer endpoint to be empty, got %#v", settings)
	}
}

func TestSystemSettingServiceUpdateAndRetrieve(t *testing.T) {
	gdb, cleanup := setupSystemSettingTestDB(t)
	t.Cleanup(cleanup)

	svc := NewSystemSettingService(gdb)
	input := SystemSettingsInput{
		ExtractionProvider:    " DeepSeek ",
		OpenAIAPIKey:          " sk-xxxx ",
		DeepSeekAPIKey:        "ds-12345",
		ExtractionModel:       " deepseek-vl2 ",
		RendererEndpoint:      " https://render.internal/cards ",
		DefaultAlertThreshold: 5,
	}

	saved, err := svc.UpdateSettings(input)
	if err != nil {
		t.Fatalf("update settings failed: %v", err)
	}

	if saved.ExtractionProvider != ExtractionProviderDeepSeek {
		t.Fatalf("expected provider to be deepseek, got %q", saved.ExtractionProvider)
	}
	if saved.OpenAIAPIKey != "sk-xxxx" || saved.DeepSeekAPIKey != "ds-12345" {
		t.Fatalf("expected sanitized keys, got %#v", saved)
	}
	if saved.ExtractionModel != "deepseek-vl2" {
		t.Fatalf("expected sanitized model, got %q", saved.ExtractionModel)
	}
	if saved.RendererEndpoint != "https://render.internal/cards" {
		t.Fatalf("expected sanitized renderer endpoint, got %q", saved.RendererEndpoint)
	}
	if saved.DefaultAlertThreshold != 5 {
		t.Fatalf("expected threshold 5, got %d", saved.DefaultAlertThreshold)
	}

	fetched, err := svc.GetSettings()
	if err != nil {
		t.Fatalf("get settings failed: %v", err)
	}
	if fetched != saved {
		t.Fatalf("expected round-trip settings %#v, got %#v", saved, fetched)
	}
}

func TestSystemSettingServiceFallbacks(t *testing.T) {
	gdb, cleanup := setupSystemSettingTestDB(t)
	t.Cleanup(cleanup)

	svc := NewSystemSettingService(gdb)
	saved, err := svc.UpdateSettings(SystemSettingsInput{
		ExtractionProvider:    "gemini",
		DefaultAlertThreshold: -2,
	})
	if err != nil {
		t.Fatalf("update settings failed: %v", err)
	}

	if saved.ExtractionProvider != ExtractionProviderOpenAI {
		t.Fatalf("expected provider fallback to openai, got %q", saved.ExtractionProvider)
	}
	if saved.DefaultAlertThreshold != db.DefaultAlertThreshold {
		t.Fatalf("expected threshold fallback to %d, got %d", db.DefaultAlertThreshold, saved.DefaultAlertThreshold)
	}

	// 历史数据里的脏值在读取时同样回退默认
	if err := gdb.Model(&db.SystemSetting{}).
		Where("key = ?", db.SettingKeyDefaultAlertThreshold).
		Update("value", "abc").Error; err != nil {
		t.Fatalf("failed to corrupt threshold value: %v", err)
	}
	if err := gdb.Model(&db.SystemSetting{}).
		Where("key = ?", db.SettingKeyExtractionProvider).
		Update("value", "unknown").Error; err != nil {
		t.Fatalf("failed to corrupt provider value: %v", err)
	}

	fetched, err := svc.GetSettings()
	if err != nil {
		t.Fatalf("get settings failed: %v", err)
	}
	if fetched.ExtractionProvider != ExtractionProviderOpenAI {
		t.Fatalf("expected provider to fall back, got %q", fetched.ExtractionProvider)
	}
	if fetched.DefaultAlertThreshold != db.DefaultAlertThreshold {
		t.Fatalf("expected threshold to fall back, got %d", fetched.DefaultAlertThreshold)
	}
}

type stubHTTPClient struct {
	t            *testing.T
	allowedKey   string
	expectedHost string
}

func (s stubHTTPClient) Do(req *http.Request) (*http.Response, error) {
	s.t.Helper()
	if !strings.HasSuffix(req.URL.Path, "/models") {
		s.t.Fatalf("unexpected path %s", req.URL.Path)
	}
	if s.expectedHost != "" && req.URL.Host != s.expectedHost {
		s.t.Fatalf("unexpected host %s", req.URL.Host)
	}
	auth := req.Header.Get("Authorization")
	expected := "Bearer " + s.allowedKey
	if s.allowedKey != "" && auth != expected {
		return &http.Response{
			StatusCode: http.StatusUnauthorized,
			Body:       io.NopCloser(strings.NewReader("unauthorized")),
			Header:     make(http.Header),
		}, nil
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("{}")),
		Header:     make(http.Header),
	}, nil
}

func TestSystemSettingServiceTestExtractionConnection(t *testing.T) {
	gdb, cleanup := setupSystemSettingTestDB(t)
	t.Cleanup(cleanup)

	svc := NewSystemSettingService(gdb)
	svc.SetHTTPClient(stubHTTPClient{t: t, allowedKey: "sk-valid", expectedHost: "openai.test"})
	svc.SetOpenAIBaseURL("https://openai.test/v1")

	if err := svc.TestExtractionConnection(context.Background(), ExtractionProviderOpenAI, ""); !errors.Is(err, ErrExtractionAPIKeyMissing) {
		t.Fatalf("expected ErrExtractionAPIKeyMissing, got %v", err)
	}

	err := svc.TestExtractionConnection(context.Background(), ExtractionProviderOpenAI, "sk-invalid")
	if err == nil || !strings.Contains(err.Error(), "OpenAI 返回错误") {
		t.Fatalf("expected upstream error for invalid key, got %v", err)
	}

	if err := svc.TestExtractionConnection(context.Background(), ExtractionProviderOpenAI, "sk-valid"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	svc.SetDeepSeekBaseURL("https://deepseek.test/v1")
	svc.SetHTTPClient(stubHTTPClient{t: t, allowedKey: "ds-valid", expectedHost: "deepseek.test"})

	if err := svc.TestExtractionConnection(context.Background(), ExtractionProviderDeepSeek, "ds-valid"); err != nil {
		t.Fatalf("unexpected error for deepseek: %v", err)
	}
}
