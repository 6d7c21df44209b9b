package cache

import (
	"errors"
	"fmt"
)

// 错误分类，调用方通过 errors.Is 区分。
var (
	// ErrUnsupportedScheme 表示缓存无法为该 scheme 派生文件名（仅支持 http/https）。
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	// ErrInvalidURL 表示 URL 缺少派生文件名所需的组成部分（如 Host）。
	ErrInvalidURL = errors.New("invalid cache url")
	// ErrNotFound 表示正文或 headers 文件不存在，视为缓存未命中。
	ErrNotFound = errors.New("cache entry not found")
	// ErrCorruptMetadata 表示 headers 文件存在但无法解析。
	ErrCorruptMetadata = errors.New("cache metadata corrupt")
	// ErrEncodeMetadata 表示 headers 无法序列化。
	ErrEncodeMetadata = errors.New("cache metadata encode failed")
	// ErrIO 覆盖目录创建、打开、写入等文件系统失败。
	ErrIO = errors.New("cache io failure")
)

// Error 记录失败的操作、涉及的路径以及错误分类。
type Error struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Path)
	}
	if e.Kind != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Kind)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap 同时暴露分类与底层错误，errors.Is(err, fs.ErrNotExist) 依旧可用。
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(op, path string, kind, err error) error {
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}
