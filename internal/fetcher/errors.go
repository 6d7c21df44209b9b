package fetcher

import (
	"errors"
	"fmt"
)

var (
	// ErrNotCached 表示 only 模式下缓存未命中。
	ErrNotCached = errors.New("resource not cached")
	// ErrTooManyRedirects 表示重定向跳数超过 MaxRedirects。
	ErrTooManyRedirects = errors.New("too many redirects")
)

// StatusError 表示上游返回了既非 2xx、也无法作为重定向处理的状态码。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s responded %d", e.URL, e.StatusCode)
}
