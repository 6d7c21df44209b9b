package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"
)

const (
	dirPerm  os.FileMode = 0o755
	filePerm os.FileMode = 0o644
)

// Metadata 保存与正文一同落盘的响应头，键唯一，顺序无意义。
type Metadata map[string]string

// ReadResult 组合正文句柄与 headers，调用方负责关闭 Content。
type ReadResult struct {
	Content   io.ReadSeekCloser
	Headers   Metadata
	FilePath  string
	SizeBytes int64
	ModTime   time.Time
}

// HTTPCache 以 location 为根目录保存 URL 对应的正文与 headers。
//
// 正文与 headers 是两个独立文件，写入没有原子性，也不做并发加锁；
// 进程崩溃可能只留下其中一个，下次 Get 会以 ErrNotFound 或 ErrCorruptMetadata 暴露。
type HTTPCache struct {
	location string
}

// New 创建（或复用）location 目录并返回绑定该目录的缓存实例。
func New(location string) (*HTTPCache, error) {
	if location == "" {
		return nil, newError("mkdir", "", ErrIO, errors.New("cache location required"))
	}

	abs, err := filepath.Abs(location)
	if err != nil {
		return nil, newError("resolve", location, ErrIO, err)
	}

	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, newError("mkdir", abs, ErrIO, err)
	}

	return &HTTPCache{location: abs}, nil
}

// Location 返回缓存根目录的绝对路径。
func (c *HTTPCache) Location() string {
	return c.location
}

// CacheFilename 返回 URL 对应正文文件的绝对路径。
func (c *HTTPCache) CacheFilename(u *url.URL) (string, error) {
	rel, err := URLToFilename(u)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.location, rel), nil
}

// Get 打开缓存正文并读取 headers，不做任何新鲜度判断。
func (c *HTTPCache) Get(u *url.URL) (*ReadResult, error) {
	contentPath, err := c.CacheFilename(u)
	if err != nil {
		return nil, err
	}
	headersPath := MetadataFilename(contentPath)

	f, err := os.Open(contentPath)
	if err != nil {
		return nil, classifyReadError("open", contentPath, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, newError("stat", contentPath, ErrIO, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, newError("open", contentPath, ErrNotFound, nil)
	}

	headers, err := readMetadata(headersPath)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &ReadResult{
		Content:   f,
		Headers:   headers,
		FilePath:  contentPath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

// Set 写入正文与 headers，已存在的条目会被整体覆盖而不是合并。
func (c *HTTPCache) Set(u *url.URL, headers Metadata, content []byte) error {
	contentPath, err := c.CacheFilename(u)
	if err != nil {
		return err
	}
	headersPath := MetadataFilename(contentPath)

	if headers == nil {
		headers = Metadata{}
	}
	serialized, err := encodeMetadata(headers)
	if err != nil {
		return newError("encode_metadata", headersPath, ErrEncodeMetadata, err)
	}

	if err := os.MkdirAll(filepath.Dir(contentPath), dirPerm); err != nil {
		return newError("mkdir", filepath.Dir(contentPath), ErrIO, err)
	}

	if err := os.WriteFile(contentPath, content, filePerm); err != nil {
		return newError("write", contentPath, ErrIO, err)
	}
	if err := os.WriteFile(headersPath, serialized, filePerm); err != nil {
		return newError("write", headersPath, ErrIO, err)
	}
	return nil
}

// encodeMetadata 拒绝非法 UTF-8：encoding/json 会把它替换成 U+FFFD，读回时就不再相等。
func encodeMetadata(headers Metadata) ([]byte, error) {
	for key, value := range headers {
		if !utf8.ValidString(key) {
			return nil, fmt.Errorf("header name %q is not valid UTF-8", key)
		}
		if !utf8.ValidString(value) {
			return nil, fmt.Errorf("header %q value is not valid UTF-8", key)
		}
	}
	return json.Marshal(headers)
}

func readMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, classifyReadError("read_metadata", path, err)
	}

	var headers Metadata
	if err := json.Unmarshal(raw, &headers); err != nil {
		return nil, newError("decode_metadata", path, ErrCorruptMetadata, err)
	}
	if headers == nil {
		// 文件内容为 JSON null
		return nil, newError("decode_metadata", path, ErrCorruptMetadata, errors.New("metadata is not an object"))
	}
	return headers, nil
}

func classifyReadError(op, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return newError(op, path, ErrNotFound, err)
	}
	return newError(op, path, ErrIO, err)
}
