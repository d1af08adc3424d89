package gis

import (
	"fmt"
	"net/http"

	"wildsync/internal/domain"
)

// APIError 是要素服务返回的错误，Unwrap 为 domain 中的分类错误。
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Op         string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: 要素服务错误 code=%d %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: 要素服务返回状态码 %d", e.Op, e.StatusCode)
}

// Unwrap 让调用方可以用 errors.Is(err, domain.ErrNotFound) 判断类别。
func (e *APIError) Unwrap() error {
	code := e.Code
	if code == 0 {
		code = e.StatusCode
	}
	switch {
	case code == http.StatusNotFound:
		return domain.ErrNotFound
	case code == http.StatusTooManyRequests, code >= 500 && code < 600:
		return domain.ErrTransient
	default:
		return domain.ErrPermanent
	}
}

type errorBody struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (b *errorBody) toAPIError(op string) *APIError {
	msg := b.Message
	if len(b.Details) > 0 {
		msg = fmt.Sprintf("%s %v", msg, b.Details)
	}
	return &APIError{StatusCode: http.StatusOK, Code: b.Code, Message: msg, Op: op}
}

func newStatusError(status int, op string) *APIError {
	return &APIError{StatusCode: status, Op: op}
}
