package gis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrUnauthorized 表示无法取得访问令牌，整次运行应当终止。
var ErrUnauthorized = errors.New("无法获取访问令牌")

// TokenSource 提供调用要素服务所需的 Token。
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource 返回固定 Token，适用于测试或 API Key 场景。
type StaticTokenSource struct {
	Value string
}

// Token 返回固定值。
func (s *StaticTokenSource) Token(context.Context) (string, error) {
	return s.Value, nil
}

// PasswordTokenSource 通过 generateToken 接口用用户名/密码换取 Token，并带简单缓存。
type PasswordTokenSource struct {
	endpoint   string
	username   string
	password   string
	referer    string
	expiration time.Duration
	httpClient *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// PasswordTokenConfig 配置基于用户名/密码的 TokenSource。
type PasswordTokenConfig struct {
	PortalURL  string
	Username   string
	Password   string
	Referer    string
	Expiration time.Duration
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewPasswordTokenSource 创建一个 PasswordTokenSource。
func NewPasswordTokenSource(cfg PasswordTokenConfig) (*PasswordTokenSource, error) {
	portal := strings.TrimRight(strings.TrimSpace(cfg.PortalURL), "/")
	if portal == "" {
		return nil, errors.New("portal url 不能为空")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("用户名和密码不能为空")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	referer := cfg.Referer
	if referer == "" {
		referer = portal
	}
	expiration := cfg.Expiration
	if expiration <= 0 {
		expiration = 2 * time.Hour
	}
	return &PasswordTokenSource{
		endpoint:   portal + "/sharing/rest/generateToken",
		username:   cfg.Username,
		password:   cfg.Password,
		referer:    referer,
		expiration: expiration,
		httpClient: client,
	}, nil
}

// Token 实现 TokenSource 接口，必要时刷新 Token。
func (s *PasswordTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && time.Until(s.expiry) > time.Minute {
		return s.token, nil
	}
	return s.refresh(ctx)
}

func (s *PasswordTokenSource) refresh(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("username", s.username)
	form.Set("password", s.password)
	form.Set("client", "referer")
	form.Set("referer", s.referer)
	form.Set("expiration", strconv.Itoa(int(s.expiration/time.Minute)))
	form.Set("f", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("构建 token 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("获取 token 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", newStatusError(resp.StatusCode, "generateToken")
	}

	var tokenResp struct {
		Token   string     `json:"token"`
		Expires int64      `json:"expires"`
		Error   *errorBody `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("解析 token 响应失败: %w", err)
	}
	if tokenResp.Error != nil {
		return "", tokenResp.Error.toAPIError("generateToken")
	}
	if tokenResp.Token == "" {
		return "", errors.New("token 响应中缺少 token")
	}
	expires := time.UnixMilli(tokenResp.Expires)
	if tokenResp.Expires == 0 {
		expires = time.Now().Add(s.expiration)
	}
	s.token = tokenResp.Token
	s.expiry = expires
	return s.token, nil
}
