package ioc

import (
	"time"

	"wildsync/internal/app"
	"wildsync/internal/gis"
)

// InitTokenSource 根据配置选择静态 token 或用户名密码换取 token。
func InitTokenSource(cfg app.Config) (gis.TokenSource, error) {
	a := cfg.ArcGIS
	if a.Token != "" {
		return &gis.StaticTokenSource{Value: a.Token}, nil
	}
	if a.Username == "" {
		return nil, nil
	}
	ts, err := gis.NewPasswordTokenSource(gis.PasswordTokenConfig{
		PortalURL: a.PortalURL,
		Username:  a.Username,
		Password:  a.Password,
		Referer:   a.Referer,
		Timeout:   time.Duration(a.TimeoutSecond) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return ts, nil
}

// InitGISClient 构建要素服务客户端。
func InitGISClient(cfg app.Config, tokens gis.TokenSource) (*gis.Client, func(), error) {
	client, err := gis.NewClient(gis.Config{
		PortalURL:   cfg.ArcGIS.PortalURL,
		TokenSource: tokens,
		Timeout:     time.Duration(cfg.ArcGIS.TimeoutSecond) * time.Second,
		PageSize:    cfg.ArcGIS.PageSize,
		BatchSize:   cfg.ArcGIS.BatchSize,
		OutSR:       cfg.ArcGIS.OutSR,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// InitLayerResolver 构建图层解析器。
func InitLayerResolver(client *gis.Client) app.LayerResolver {
	return app.GISResolver{Client: client}
}
