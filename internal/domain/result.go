package domain

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrNotFound 目标对象（附件、对象存储文件）不存在。
	ErrNotFound = errors.New("not found")
	// ErrTransient 网络抖动、限流、5xx 等可在下次调度重试的错误。
	ErrTransient = errors.New("transient error")
	// ErrPermanent 校验失败、权限不足等重试无意义的错误。
	ErrPermanent = errors.New("permanent error")
	// ErrNoNewRecords 没有需要处理的新数据，调用方应正常退出。
	ErrNoNewRecords = errors.New("no new records")
)

// ResultKind 是附件操作的结果标签，调用方据此决定补偿动作。
type ResultKind int

const (
	ResultOK ResultKind = iota
	ResultNotFound
	ResultTransient
	ResultPermanent
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultNotFound:
		return "not_found"
	case ResultTransient:
		return "transient"
	default:
		return "permanent"
	}
}

// Classify 将错误映射为结果标签。未识别的错误按永久错误处理。
func Classify(err error) ResultKind {
	if err == nil {
		return ResultOK
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return ResultNotFound
	case errors.Is(err, ErrTransient),
		errors.Is(err, context.DeadlineExceeded):
		return ResultTransient
	case errors.Is(err, ErrPermanent):
		return ResultPermanent
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ResultTransient
	}
	return ResultPermanent
}

// AttachmentResult 记录单个附件操作的结果。
type AttachmentResult struct {
	Name string
	Kind ResultKind
	Err  error
}
