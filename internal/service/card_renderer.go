package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/routinecard/internal/db"
)

// ErrRendererNotConfigured 表示系统设置里没有配置渲染服务地址。
var ErrRendererNotConfigured = errors.New("card renderer endpoint is not configured")

// CardRenderJob 描述一次卡片文档渲染任务。
// VersionTag 是印在卡片角落的版本标记（如 v3），纸质卡片靠它回溯条目集合。
type CardRenderJob struct {
	RoutineName string           `json:"routine_name"`
	Version     int              `json:"version"`
	VersionTag  string           `json:"version_tag"`
	Layout      CardLayout       `json:"layout"`
	Columns     int              `json:"columns"`
	Rows        int              `json:"rows"`
	Quantity    int              `json:"quantity"`
	Items       []db.RoutineItem `json:"items"`
}

// CardRenderer 渲染卡片文档的协作方接口，返回完整的文档字节。
type CardRenderer interface {
	Render(ctx context.Context, job CardRenderJob) ([]byte, error)
}

// HTTPCardRenderer 把渲染任务 POST 给系统设置里配置的渲染服务。
type HTTPCardRenderer struct {
	settings *SystemSettingService
	http     httpDoer
	endpoint string
}

// NewHTTPCardRenderer 构造 HTTPCardRenderer，渲染地址每次调用时从系统设置解析。
func NewHTTPCardRenderer(settings *SystemSettingService) *HTTPCardRenderer {
	return &HTTPCardRenderer{
		settings: settings,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

// SetHTTPClient 替换底层 HTTP 客户端，主要面向测试场景。
func (r *HTTPCardRenderer) SetHTTPClient(client httpDoer) {
	if client == nil {
		r.http = &http.Client{Timeout: 60 * time.Second}
		return
	}
	r.http = client
}

// SetEndpoint 覆盖渲染服务地址，优先于系统设置，便于测试。
func (r *HTTPCardRenderer) SetEndpoint(endpoint string) {
	r.endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
}

// Render 调用渲染服务并返回文档字节。
func (r *HTTPCardRenderer) Render(ctx context.Context, job CardRenderJob) ([]byte, error) {
	endpoint := r.endpoint
	if endpoint == "" && r.settings != nil {
		settings, err := r.settings.GetSettings()
		if err != nil {
			return nil, err
		}
		endpoint = settings.RendererEndpoint
	}
	if endpoint == "" {
		return nil, ErrRendererNotConfigured
	}

	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("构造渲染请求失败: %w", err)
	}
	logExchange("RENDER", "request", string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建渲染请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/pdf")
	httpReq.Header.Set("User-Agent", "routinecard/1.0")

	client := r.http
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求渲染服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(detail))
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("渲染服务返回错误：%s", msg)
	}

	document, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("读取渲染结果失败: %w", err)
	}
	if len(document) == 0 {
		return nil, fmt.Errorf("渲染服务未返回文档内容")
	}
	logExchange("RENDER", "response", fmt.Sprintf("%d bytes", len(document)))

	return document, nil
}
