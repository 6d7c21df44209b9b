package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/encoding/charmap"

	"github.com/any-hub/fetch-cache/internal/cache"
	"github.com/any-hub/fetch-cache/internal/httpheader"
	"github.com/any-hub/fetch-cache/internal/logging"
)

// CacheSetting 决定 Fetch 如何使用磁盘缓存。
type CacheSetting string

const (
	// CacheSettingUse 命中缓存即直接返回，不访问上游。
	CacheSettingUse CacheSetting = "use"
	// CacheSettingReload 总是访问上游，携带缓存中的 ETag 做条件请求。
	CacheSettingReload CacheSetting = "reload"
	// CacheSettingOnly 只读缓存，未命中返回 ErrNotCached。
	CacheSettingOnly CacheSetting = "only"
)

// DefaultMaxRedirects 在 Options.MaxRedirects 为 0 时生效。
const DefaultMaxRedirects = 10

// Options 控制 Fetcher 的行为。
type Options struct {
	Setting      CacheSetting
	MaxRedirects int
	UserAgent    string
}

// Result 描述一次 Fetch 的结果。Body 与 Headers 在并发调用方之间共享，只读使用。
type Result struct {
	URL         string
	FinalURL    string
	Headers     cache.Metadata
	Body        []byte
	FromCache   bool
	Revalidated bool
}

// Fetcher 组合共享 http.Client 与磁盘缓存，同一 URL 的并发请求只回源一次。
type Fetcher struct {
	store  *cache.HTTPCache
	client *http.Client
	logger *logrus.Logger
	opts   Options
	group  singleflight.Group
}

// New 构造 Fetcher。client 的自动重定向会被关闭，重定向由 Fetcher 自己记录进缓存。
func New(store *cache.HTTPCache, client *http.Client, logger *logrus.Logger, opts Options) *Fetcher {
	var c http.Client
	if client != nil {
		c = *client
	}
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	if opts.Setting == "" {
		opts.Setting = CacheSettingUse
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}

	return &Fetcher{
		store:  store,
		client: &c,
		logger: logger,
		opts:   opts,
	}
}

// Setting 返回当前生效的缓存模式。
func (f *Fetcher) Setting() CacheSetting {
	return f.opts.Setting
}

// Fetch 按默认缓存模式获取 rawURL 对应的资源，fragment 不参与缓存与回源。
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	return f.FetchWith(ctx, rawURL, f.opts.Setting)
}

// FetchWith 与 Fetch 相同，但使用调用方指定的缓存模式。
func (f *Fetcher) FetchWith(ctx context.Context, rawURL string, setting CacheSetting) (*Result, error) {
	switch setting {
	case CacheSettingUse, CacheSettingReload, CacheSettingOnly:
	default:
		return nil, fmt.Errorf("unknown cache setting %q", setting)
	}

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cache.ErrInvalidURL, err)
	}
	u.Fragment = ""
	u.RawFragment = ""
	if _, err := cache.BaseURLToFilename(u); err != nil {
		return nil, err
	}

	// 共享的下载不跟随任一调用方取消，每个调用方只在自己的 ctx 结束时放弃等待；
	// 下载本身仍受 http.Client 超时约束。
	key := string(setting) + " " + u.String()
	shared := context.WithoutCancel(ctx)
	ch := f.group.DoChan(key, func() (interface{}, error) {
		return f.fetch(shared, u, setting)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		result := *res.Val.(*Result)
		return &result, nil
	}
}

func (f *Fetcher) fetch(ctx context.Context, u *url.URL, setting CacheSetting) (*Result, error) {
	started := time.Now()
	current := u
	for hop := 0; ; hop++ {
		if hop > f.opts.MaxRedirects {
			return nil, fmt.Errorf("%w: %s", ErrTooManyRedirects, u)
		}

		result, next, err := f.fetchOnce(ctx, current, setting)
		if err != nil {
			f.logger.WithError(err).
				WithFields(logging.FetchFields(current.String(), string(setting), false, false)).
				Warn("fetch_failed")
			return nil, err
		}
		if next == nil {
			result.URL = u.String()
			result.FinalURL = current.String()
			fields := logging.FetchFields(result.URL, string(setting), result.FromCache, result.Revalidated)
			fields["action"] = "fetch"
			fields["final_url"] = result.FinalURL
			fields["redirects"] = hop
			fields["bytes"] = len(result.Body)
			fields["elapsed_ms"] = time.Since(started).Milliseconds()
			f.logger.WithFields(fields).Info("fetch_completed")
			return result, nil
		}
		current = next
	}
}

// fetchOnce 处理单跳：返回最终结果，或返回下一跳 URL。
func (f *Fetcher) fetchOnce(ctx context.Context, u *url.URL, setting CacheSetting) (*Result, *url.URL, error) {
	cached, err := f.load(u)
	if err != nil {
		return nil, nil, err
	}

	if cached != nil && setting != CacheSettingReload {
		if next, ok, err := cachedRedirect(u, cached.Headers); ok || err != nil {
			return nil, next, err
		}
		cached.FromCache = true
		return cached, nil, nil
	}
	if setting == CacheSettingOnly {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotCached, u)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("构建请求失败: %w", err)
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
	if cached != nil {
		if etag := cached.Headers["etag"]; etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("请求 %s 失败: %w", u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && cached != nil:
		if next, ok, err := cachedRedirect(u, cached.Headers); ok || err != nil {
			return nil, next, err
		}
		cached.FromCache = true
		cached.Revalidated = true
		return cached, nil, nil

	case isRedirect(resp.StatusCode):
		location := resp.Header.Get("Location")
		if location == "" {
			return nil, nil, &StatusError{URL: u.String(), StatusCode: resp.StatusCode}
		}
		next, err := u.Parse(location)
		if err != nil {
			return nil, nil, fmt.Errorf("解析重定向地址 %q 失败: %w", location, err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)

		headers := headersFromResponse(resp.Header)
		headers["location"] = next.String()
		if err := f.store.Set(u, headers, nil); err != nil {
			return nil, nil, fmt.Errorf("写入缓存失败: %w", err)
		}
		f.logger.WithFields(logrus.Fields{
			"action": "redirect",
			"url":    u.String(),
			"target": next.String(),
			"status": resp.StatusCode,
		}).Debug("redirect_cached")
		return nil, next, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("读取响应失败: %w", err)
		}
		headers := headersFromResponse(resp.Header)
		if err := f.store.Set(u, headers, body); err != nil {
			return nil, nil, fmt.Errorf("写入缓存失败: %w", err)
		}
		return &Result{Headers: headers, Body: body}, nil, nil

	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil, &StatusError{URL: u.String(), StatusCode: resp.StatusCode}
	}
}

// load 读取缓存条目；未命中或 headers 损坏都视为 miss，下次下载会覆盖它。
func (f *Fetcher) load(u *url.URL) (*Result, error) {
	entry, err := f.store.Get(u)
	switch {
	case err == nil:
	case errors.Is(err, cache.ErrNotFound):
		return nil, nil
	case errors.Is(err, cache.ErrCorruptMetadata):
		f.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_get",
			"url":    u.String(),
		}).Warn("cache_corrupt")
		return nil, nil
	default:
		return nil, err
	}
	defer entry.Content.Close()

	body, err := io.ReadAll(entry.Content)
	if err != nil {
		return nil, fmt.Errorf("读取缓存正文失败: %w", err)
	}
	return &Result{Headers: entry.Headers, Body: body}, nil
}

func cachedRedirect(u *url.URL, headers cache.Metadata) (*url.URL, bool, error) {
	location, ok := headers["location"]
	if !ok || location == "" {
		return nil, false, nil
	}
	next, err := u.Parse(location)
	if err != nil {
		return nil, true, fmt.Errorf("解析缓存中的重定向地址 %q 失败: %w", location, err)
	}
	return next, true, nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// headersFromResponse 将响应头压平为小写键的 map，多值以 ", " 拼接，并丢弃 hop-by-hop 字段。
// 非 UTF-8 的值按 obs-text（ISO-8859-1）解码，否则无法写入 headers 文件。
func headersFromResponse(header http.Header) cache.Metadata {
	headers := make(cache.Metadata, len(header))
	for key, values := range header {
		if httpheader.IsHopByHop(key) || len(values) == 0 {
			continue
		}
		headers[strings.ToLower(key)] = latin1ToUTF8(strings.Join(values, ", "))
	}
	return headers
}

func latin1ToUTF8(value string) string {
	if utf8.ValidString(value) {
		return value
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().String(value)
	if err != nil {
		return strings.ToValidUTF8(value, "\ufffd")
	}
	return decoded
}
