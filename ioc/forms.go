package ioc

import (
	"time"

	"wildsync/internal/app"
	"wildsync/internal/forms"
)

// InitFormsClient 构建表单接口客户端；未配置 base_url 时返回 nil。
func InitFormsClient(cfg app.Config) (forms.Client, error) {
	f := cfg.Forms
	if f.BaseURL == "" {
		return nil, nil
	}
	client, err := forms.NewHTTPClient(forms.Config{
		BaseURL:  f.BaseURL,
		FormID:   f.FormID,
		APIKey:   f.APIKey,
		Versions: f.Versions,
		Fields:   f.Fields,
		Timeout:  time.Duration(f.TimeoutSecond) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
