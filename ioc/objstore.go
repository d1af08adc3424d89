package ioc

import (
	"context"
	"time"

	"wildsync/internal/app"
	"wildsync/internal/objstore"
)

// InitObjectStore 构建对象存储客户端；未配置 bucket 时返回 nil，依赖它的作业在校验阶段报错。
func InitObjectStore(ctx context.Context, cfg app.Config) (objstore.Store, error) {
	o := cfg.ObjectStore
	if o.Bucket == "" {
		return nil, nil
	}
	store, err := objstore.New(ctx, objstore.Config{
		Endpoint:     o.Endpoint,
		Region:       o.Region,
		AccessKey:    o.AccessKey,
		SecretKey:    o.SecretKey,
		Bucket:       o.Bucket,
		UsePathStyle: o.UsePathStyle,
		Timeout:      time.Duration(o.TimeoutSecond) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}
