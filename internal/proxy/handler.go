package proxy

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/fetch-cache/internal/cache"
	"github.com/any-hub/fetch-cache/internal/fetcher"
	"github.com/any-hub/fetch-cache/internal/httpheader"
	"github.com/any-hub/fetch-cache/internal/logging"
	"github.com/any-hub/fetch-cache/internal/server"
)

// Handler 通过 fetcher 获取资源并回放缓存中的 headers，命中与否写入 X-Fetch-Cache-* 头。
type Handler struct {
	fetcher *fetcher.Fetcher
	logger  *logrus.Logger
}

// NewHandler constructs a handler backed by the shared fetcher/logger.
func NewHandler(f *fetcher.Fetcher, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Handler{
		fetcher: f,
		logger:  logger,
	}
}

// Handle 实现 server.FetchHandler：/fetch?url=<url>[&reload=1][&only=1]。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	rawURL := strings.TrimSpace(c.Query("url"))
	if rawURL == "" {
		return h.writeError(c, fiber.StatusBadRequest, "url_required")
	}
	setting := h.requestSetting(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := h.fetcher.FetchWith(ctx, rawURL, setting)
	if err != nil {
		status, code := classifyError(err)
		h.logResult(rawURL, setting, requestID, status, nil, started, err)
		return h.writeError(c, status, code)
	}

	for key, value := range result.Headers {
		if skipReplayHeader(key) {
			continue
		}
		c.Set(key, value)
	}
	c.Set("X-Fetch-Cache-Hit", strconv.FormatBool(result.FromCache))
	c.Set("X-Fetch-Cache-Revalidated", strconv.FormatBool(result.Revalidated))
	c.Set("X-Fetch-Cache-Final-URL", result.FinalURL)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}

	h.logResult(rawURL, setting, requestID, fiber.StatusOK, result, started, nil)
	return c.Status(fiber.StatusOK).Send(result.Body)
}

func (h *Handler) requestSetting(c fiber.Ctx) fetcher.CacheSetting {
	switch {
	case queryFlag(c, "reload"):
		return fetcher.CacheSettingReload
	case queryFlag(c, "only"):
		return fetcher.CacheSettingOnly
	default:
		return h.fetcher.Setting()
	}
}

func queryFlag(c fiber.Ctx, key string) bool {
	value := strings.ToLower(strings.TrimSpace(c.Query(key)))
	return value == "1" || value == "true" || value == "yes"
}

// skipReplayHeader 过滤不应回放给客户端的缓存字段：hop-by-hop、长度与重定向信息。
func skipReplayHeader(key string) bool {
	switch strings.ToLower(key) {
	case "content-length", "content-encoding", "location", "date":
		return true
	}
	return httpheader.IsHopByHop(key)
}

// classifyError 将 fetcher/cache 错误映射为 HTTP 状态码与错误码。
func classifyError(err error) (int, string) {
	var statusErr *fetcher.StatusError
	switch {
	case errors.Is(err, cache.ErrUnsupportedScheme):
		return fiber.StatusBadRequest, "unsupported_scheme"
	case errors.Is(err, cache.ErrInvalidURL):
		return fiber.StatusBadRequest, "invalid_url"
	case errors.Is(err, fetcher.ErrNotCached):
		return fiber.StatusGatewayTimeout, "not_cached"
	case errors.Is(err, fetcher.ErrTooManyRedirects):
		return fiber.StatusBadGateway, "too_many_redirects"
	case errors.As(err, &statusErr):
		if statusErr.StatusCode == http.StatusNotFound {
			return fiber.StatusNotFound, "upstream_not_found"
		}
		return fiber.StatusBadGateway, "upstream_status"
	case errors.Is(err, cache.ErrIO), errors.Is(err, cache.ErrEncodeMetadata):
		return fiber.StatusInternalServerError, "cache_write_failed"
	default:
		return fiber.StatusBadGateway, "upstream_failed"
	}
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	rawURL string,
	setting fetcher.CacheSetting,
	requestID string,
	status int,
	result *fetcher.Result,
	started time.Time,
	err error,
) {
	cacheHit, revalidated := false, false
	if result != nil {
		cacheHit, revalidated = result.FromCache, result.Revalidated
	}
	fields := logging.FetchFields(rawURL, string(setting), cacheHit, revalidated)
	fields["action"] = "proxy"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_completed")
}
