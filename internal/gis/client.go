package gis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"wildsync/internal/domain"
)

// Config 配置要素服务客户端。
type Config struct {
	PortalURL   string
	TokenSource TokenSource
	Timeout     time.Duration
	HTTPClient  *http.Client
	AuthHeader  string
	// PageSize 是单次 query 的 resultRecordCount。
	PageSize int
	// BatchSize 是单次 applyEdits 的最大要素数。
	BatchSize int
	// OutSR 为查询与写入使用的空间参考，0 表示使用图层自身坐标系。
	OutSR int
}

// Client 通过 REST 接口访问托管要素服务。
type Client struct {
	portalURL   string
	httpClient  *http.Client
	tokenSource TokenSource
	authHeader  string
	pageSize    int
	batchSize   int
	outSR       int
}

// NewClient 根据配置创建要素服务客户端。
func NewClient(cfg Config) (*Client, error) {
	portal := strings.TrimRight(strings.TrimSpace(cfg.PortalURL), "/")
	if portal == "" {
		return nil, errors.New("portal url 不能为空")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	authHeader := strings.TrimSpace(cfg.AuthHeader)
	if authHeader == "" {
		authHeader = "X-Esri-Authorization"
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Client{
		portalURL:   portal,
		httpClient:  client,
		tokenSource: cfg.TokenSource,
		authHeader:  authHeader,
		pageSize:    pageSize,
		batchSize:   batchSize,
		outSR:       cfg.OutSR,
	}, nil
}

// Close 释放空闲连接。
func (c *Client) Close() {
	if c != nil && c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}
}

// Layer 返回指定 URL 的图层或表句柄。
func (c *Client) Layer(layerURL string) *Layer {
	return &Layer{client: c, url: strings.TrimRight(layerURL, "/")}
}

// ResolveLayer 通过门户 item id 找到服务地址，再拼出子图层地址。
func (c *Client) ResolveLayer(ctx context.Context, itemID string, layerID int) (*Layer, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, errors.New("item id 不能为空")
	}
	var item struct {
		URL   string     `json:"url"`
		Error *errorBody `json:"error"`
	}
	endpoint := fmt.Sprintf("%s/sharing/rest/content/items/%s", c.portalURL, url.PathEscape(itemID))
	if err := c.getJSON(ctx, endpoint, url.Values{}, &item); err != nil {
		return nil, fmt.Errorf("查询 item %s 失败: %w", itemID, err)
	}
	if item.Error != nil {
		return nil, item.Error.toAPIError("item")
	}
	if item.URL == "" {
		return nil, fmt.Errorf("item %s 没有服务地址", itemID)
	}
	return c.Layer(strings.TrimRight(item.URL, "/") + "/" + strconv.Itoa(layerID)), nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.tokenSource == nil {
		return nil
	}
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if token != "" {
		req.Header.Set(c.authHeader, "Bearer "+token)
	}
	return nil
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	if err := c.authorize(req.Context(), req); err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s 请求失败: %w: %w", op, domain.ErrTransient, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("%s 读取响应失败: %w: %w", op, domain.ErrTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError(resp.StatusCode, op)
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	query.Set("f", "json")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("构建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := c.do(req, opName(endpoint))
	if err != nil {
		return err
	}
	return decodeJSON(body, opName(endpoint), out)
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	form.Set("f", "json")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("构建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	body, err := c.do(req, opName(endpoint))
	if err != nil {
		return err
	}
	return decodeJSON(body, opName(endpoint), out)
}

func (c *Client) postFile(ctx context.Context, endpoint string, fields map[string]string, fileName string, data []byte, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields["f"] = "json"
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("构建上传请求失败: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("attachment", fileName)
	if err != nil {
		return fmt.Errorf("构建上传请求失败: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("构建上传请求失败: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("构建上传请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return fmt.Errorf("构建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	body, err := c.do(req, opName(endpoint))
	if err != nil {
		return err
	}
	return decodeJSON(body, opName(endpoint), out)
}

// decodeJSON 解析响应；要素服务常以 200 + {"error":{...}} 返回失败。
func decodeJSON(body []byte, op string, out any) error {
	var envelope struct {
		Error *errorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("解析 %s 响应失败: %w", op, err)
	}
	if envelope.Error != nil {
		return envelope.Error.toAPIError(op)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("解析 %s 响应失败: %w", op, err)
	}
	return nil
}

func opName(endpoint string) string {
	if i := strings.LastIndex(endpoint, "/"); i >= 0 && i < len(endpoint)-1 {
		return endpoint[i+1:]
	}
	return endpoint
}
