package db

import "gorm.io/gorm"

// SystemSetting 存储后台可配置的系统级键值对。
type SystemSetting struct {
	gorm.Model
	Key   string `gorm:"size:100;uniqueIndex;not null"`
	Value string `gorm:"type:text"`
}

// TableName 自定义表名以保持命名一致。
func (SystemSetting) TableName() string {
	return "system_settings"
}

const (
	// SettingKeyExtractionProvider 表示光学识别所用的模型平台。
	SettingKeyExtractionProvider = "extraction_provider"
	// SettingKeyOpenAIAPIKey 表示 OpenAI API Key。
	SettingKeyOpenAIAPIKey = "openai_api_key"
	// SettingKeyDeepSeekAPIKey 表示 DeepSeek API Key。
	SettingKeyDeepSeekAPIKey = "deepseek_api_key"
	// SettingKeyExtractionModel 覆盖默认的识别模型名称。
	SettingKeyExtractionModel = "extraction_model"
	// SettingKeyRendererEndpoint 表示卡片渲染服务地址。
	SettingKeyRendererEndpoint = "renderer_endpoint"
	// SettingKeyDefaultAlertThreshold 表示新建库存记录的默认提醒阈值。
	SettingKeyDefaultAlertThreshold = "default_alert_threshold"
)
