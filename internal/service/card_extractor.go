package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/routinecard/internal/db"
)

// CardExtraction 是识别协作方对一张卡片照片的原始产出。
// DetectedVersion 为 0 表示照片上没认出版本标记；日期同理以空串表示。
type CardExtraction struct {
	Values          []db.ItemValue
	DetectedDate    string
	DetectedVersion int
}

// CardExtractor 从卡片照片中按给定条目集合识别填写结果的协作方接口。
type CardExtractor interface {
	Extract(ctx context.Context, photoURL string, items []db.RoutineItem) (CardExtraction, error)
}

type visionContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *visionImageURL `json:"image_url,omitempty"`
}

type visionImageURL struct {
	URL string `json:"url"`
}

type visionMessage struct {
	Role    string              `json:"role"`
	Content []visionContentPart `json:"content"`
}

type visionChatRequest struct {
	Model          string          `json:"model"`
	Messages       []visionMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type visionChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// extractionPayload 是要求模型输出的 JSON 结构。
type extractionPayload struct {
	Values          []db.ItemValue `json:"values"`
	DetectedDate    string         `json:"detected_date"`
	DetectedVersion int            `json:"detected_version"`
}

const extractionSystemPrompt = `You read photographed paper routine cards. ` +
	`Each card lists items the user marked by hand. You receive the item definitions ` +
	`that were printed on this card and one photo. Return ONLY a JSON object: ` +
	`{"values":[{"item_id":string,"checked":bool,"number":number,"rating":integer,` +
	`"notes":string,"text":string,"confidence":number}],"detected_date":"YYYY-MM-DD",` +
	`"detected_version":integer}. Per item use only the field matching its type ` +
	`(checkbox→checked, number→number, scale→rating 1-5 plus optional notes, text→text), ` +
	`omit items left blank, set confidence between 0 and 1, and report the version ` +
	`marker (like v3) and the date if they are visible on the card, else 0 / "".`

// VisionCardExtractor 调用 OpenAI 兼容的视觉模型识别卡片照片。
type VisionCardExtractor struct {
	settings             *SystemSettingService
	http                 httpDoer
	openAIBaseURL        string
	deepSeekBaseURL      string
	defaultOpenAIModel   string
	defaultDeepSeekModel string
}

// NewVisionCardExtractor 构造 VisionCardExtractor，提供方与密钥每次调用时从系统设置解析。
func NewVisionCardExtractor(settings *SystemSettingService, defaultOpenAIModel, defaultDeepSeekModel string) *VisionCardExtractor {
	return &VisionCardExtractor{
		settings:             settings,
		http:                 &http.Client{Timeout: 180 * time.Second},
		openAIBaseURL:        "https://api.openai.com/v1",
		deepSeekBaseURL:      "https://api.deepseek.com/v1",
		defaultOpenAIModel:   strings.TrimSpace(defaultOpenAIModel),
		defaultDeepSeekModel: strings.TrimSpace(defaultDeepSeekModel),
	}
}

// SetHTTPClient 替换底层 HTTP 客户端，主要面向测试场景。
func (e *VisionCardExtractor) SetHTTPClient(client httpDoer) {
	if client == nil {
		e.http = &http.Client{Timeout: 180 * time.Second}
		return
	}
	e.http = client
}

// SetOpenAIBaseURL 覆盖 OpenAI API 的基础地址，便于测试或自定义代理。
func (e *VisionCardExtractor) SetOpenAIBaseURL(base string) {
	e.openAIBaseURL = strings.TrimRight(strings.TrimSpace(base), "/")
}

// SetDeepSeekBaseURL 覆盖 DeepSeek API 的基础地址，便于测试或自定义代理。
func (e *VisionCardExtractor) SetDeepSeekBaseURL(base string) {
	e.deepSeekBaseURL = strings.TrimRight(strings.TrimSpace(base), "/")
}

// Extract 按卡片上印的条目定义识别照片里的手写结果。
func (e *VisionCardExtractor) Extract(ctx context.Context, photoURL string, items []db.RoutineItem) (CardExtraction, error) {
	settings, err := e.settings.GetSettings()
	if err != nil {
		return CardExtraction{}, err
	}

	var (
		apiKey string
		base   string
		model  string
		label  string
	)
	switch settings.ExtractionProvider {
	case ExtractionProviderDeepSeek:
		apiKey = strings.TrimSpace(settings.DeepSeekAPIKey)
		base = e.deepSeekBaseURL
		if strings.TrimSpace(base) == "" {
			base = "https://api.deepseek.com/v1"
		}
		model = e.defaultDeepSeekModel
		label = "DeepSeek"
	default:
		apiKey = strings.TrimSpace(settings.OpenAIAPIKey)
		base = e.openAIBaseURL
		if strings.TrimSpace(base) == "" {
			base = "https://api.openai.com/v1"
		}
		model = e.defaultOpenAIModel
		label = "OpenAI"
	}
	if settings.ExtractionModel != "" {
		model = settings.ExtractionModel
	}

	if apiKey == "" {
		return CardExtraction{}, ErrExtractionAPIKeyMissing
	}

	itemSpec, err := json.Marshal(db.FlattenItems(items))
	if err != nil {
		return CardExtraction{}, fmt.Errorf("构造条目定义失败: %w", err)
	}
	userPrompt := "Items printed on this card:\n" + string(itemSpec)
	logExchange("EXTRACT", "prompt", userPrompt)

	payload := visionChatRequest{
		Model: model,
		Messages: []visionMessage{
			{
				Role:    "system",
				Content: []visionContentPart{{Type: "text", Text: extractionSystemPrompt}},
			},
			{
				Role: "user",
				Content: []visionContentPart{
					{Type: "text", Text: userPrompt},
					{Type: "image_url", ImageURL: &visionImageURL{URL: photoURL}},
				},
			},
		},
		MaxTokens:      2048,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return CardExtraction{}, fmt.Errorf("构造请求失败: %w", err)
	}

	endpoint := strings.TrimRight(base, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return CardExtraction{}, fmt.Errorf("创建 %s 请求失败: %w", label, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "routinecard/1.0")

	client := e.http
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return CardExtraction{}, fmt.Errorf("请求 %s 接口失败: %w", label, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CardExtraction{}, fmt.Errorf("读取 %s 响应失败: %w", label, err)
	}

	var completion visionChatResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return CardExtraction{}, fmt.Errorf("解析 %s 响应失败: %w", label, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		errMsg := strings.TrimSpace(completion.Error.Message)
		if errMsg == "" {
			errMsg = strings.TrimSpace(string(respBody))
		}
		if errMsg == "" {
			errMsg = resp.Status
		}
		return CardExtraction{}, fmt.Errorf("%s 接口返回错误：%s", label, errMsg)
	}

	if len(completion.Choices) == 0 {
		return CardExtraction{}, fmt.Errorf("%s 接口未返回结果", label)
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	logExchange("EXTRACT", "response", content)

	var parsed extractionPayload
	if err := json.Unmarshal([]byte(stripJSONFence(content)), &parsed); err != nil {
		return CardExtraction{}, fmt.Errorf("解析识别结果失败: %w", err)
	}

	return CardExtraction{
		Values:          parsed.Values,
		DetectedDate:    strings.TrimSpace(parsed.DetectedDate),
		DetectedVersion: parsed.DetectedVersion,
	}, nil
}

// stripJSONFence 去掉模型偶尔包在 JSON 外面的 markdown 代码栅栏。
func stripJSONFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
