package forms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wildsync/internal/domain"
)

// Client 抽象表单提交数据源。
type Client interface {
	FetchSubmissions(ctx context.Context) ([]domain.Record, error)
}

// StaticClient 用于测试或最小实现，直接返回内存中的提交。
type StaticClient struct {
	Submissions []domain.Record
}

// FetchSubmissions 返回预设提交的副本。
func (c *StaticClient) FetchSubmissions(context.Context) ([]domain.Record, error) {
	out := make([]domain.Record, 0, len(c.Submissions))
	for _, s := range c.Submissions {
		out = append(out, s.Clone())
	}
	return out, nil
}

// Config 配置表单接口客户端。
type Config struct {
	BaseURL  string
	FormID   string
	APIKey   string
	Versions []string
	Fields   []string
	Timeout  time.Duration

	HTTPClient *http.Client
}

// HTTPClient 通过表单服务 REST 接口拉取提交，使用 formId:apiKey 的 Basic 认证。
type HTTPClient struct {
	baseURL    string
	formID     string
	apiKey     string
	versions   []string
	fields     string
	httpClient *http.Client
}

// 合并后不再需要的提交索引字段。
var indexOnlyFields = []string{"formId", "formSubmissionStatusCode", "submissionId", "deleted", "createdBy", "formVersionId", "lateEntry"}

// NewHTTPClient 创建表单接口客户端。
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("forms base url 不能为空")
	}
	if cfg.FormID == "" || cfg.APIKey == "" {
		return nil, errors.New("form id 与 api key 不能为空")
	}
	if len(cfg.Versions) == 0 {
		return nil, errors.New("至少需要一个表单版本")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		baseURL:    base,
		formID:     cfg.FormID,
		apiKey:     cfg.APIKey,
		versions:   append([]string(nil), cfg.Versions...),
		fields:     strings.Join(cfg.Fields, ","),
		httpClient: client,
	}, nil
}

// FetchSubmissions 拉取各版本的提交字段，并按提交 id 与提交索引合并。
// 索引中标记为已删除或没有字段数据的提交会被丢弃。
func (c *HTTPClient) FetchSubmissions(ctx context.Context) ([]domain.Record, error) {
	byID := make(map[string]map[string]any)
	for _, version := range c.versions {
		endpoint := fmt.Sprintf("%s/%s/versions/%s/submissions/discover", c.baseURL, url.PathEscape(c.formID), url.PathEscape(version))
		q := url.Values{}
		if c.fields != "" {
			q.Set("fields", c.fields)
		}
		var rows []map[string]any
		if err := c.getJSON(ctx, endpoint, q, &rows); err != nil {
			return nil, fmt.Errorf("拉取表单版本 %s 失败: %w", version, err)
		}
		for _, row := range rows {
			id := domain.KeyOf(row["id"])
			if id == "" {
				continue
			}
			byID[id] = row
		}
	}

	var index []map[string]any
	endpoint := fmt.Sprintf("%s/%s/submissions", c.baseURL, url.PathEscape(c.formID))
	if err := c.getJSON(ctx, endpoint, url.Values{}, &index); err != nil {
		return nil, fmt.Errorf("拉取提交索引失败: %w", err)
	}

	out := make([]domain.Record, 0, len(index))
	for _, entry := range index {
		if deleted, _ := entry["deleted"].(bool); deleted {
			continue
		}
		fields, ok := byID[domain.KeyOf(entry["submissionId"])]
		if !ok {
			continue
		}
		rec := domain.NewRecord()
		for k, v := range fields {
			rec.Set(k, v)
		}
		for k, v := range entry {
			rec.Set(k, v)
		}
		for _, f := range indexOnlyFields {
			delete(rec.Attributes, f)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, endpoint string, q url.Values, out any) error {
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("构建请求失败: %w", err)
	}
	req.SetBasicAuth(c.formID, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求表单接口失败: %w: %w", domain.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return statusError(resp.StatusCode)
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("解析表单接口响应失败: %w", err)
	}
	return nil
}

func statusError(status int) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("表单接口返回状态码 %d: %w", status, domain.ErrNotFound)
	case status == http.StatusTooManyRequests, status >= 500:
		return fmt.Errorf("表单接口返回状态码 %d: %w", status, domain.ErrTransient)
	default:
		return fmt.Errorf("表单接口返回状态码 %d: %w", status, domain.ErrPermanent)
	}
}
