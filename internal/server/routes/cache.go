package routes

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/fetch-cache/internal/cache"
)

// RegisterCacheRoutes 暴露 /-/ 诊断接口，便于查询 URL 在磁盘上的布局与缓存条目。
func RegisterCacheRoutes(app *fiber.App, store *cache.HTTPCache) {
	if app == nil || store == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/-/cache/path", func(c fiber.Ctx) error {
		u, errCode := parseQueryURL(c)
		if errCode != "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": errCode})
		}
		rel, err := cache.URLToFilename(u)
		if err != nil {
			return renderCacheError(c, err)
		}
		contentPath, err := store.CacheFilename(u)
		if err != nil {
			return renderCacheError(c, err)
		}
		return c.JSON(pathPayload{
			URL:          u.String(),
			RelativePath: rel,
			Path:         contentPath,
			MetadataPath: cache.MetadataFilename(contentPath),
		})
	})

	app.Get("/-/cache/entry", func(c fiber.Ctx) error {
		u, errCode := parseQueryURL(c)
		if errCode != "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": errCode})
		}
		entry, err := store.Get(u)
		if err != nil {
			return renderCacheError(c, err)
		}
		entry.Content.Close()
		return c.JSON(entryPayload{
			URL:       u.String(),
			FilePath:  entry.FilePath,
			SizeBytes: entry.SizeBytes,
			ModTime:   entry.ModTime.UTC().Format(time.RFC3339Nano),
			Headers:   entry.Headers,
		})
	})
}

type pathPayload struct {
	URL          string `json:"url"`
	RelativePath string `json:"relative_path"`
	Path         string `json:"path"`
	MetadataPath string `json:"metadata_path"`
}

type entryPayload struct {
	URL       string            `json:"url"`
	FilePath  string            `json:"file_path"`
	SizeBytes int64             `json:"size_bytes"`
	ModTime   string            `json:"mod_time"`
	Headers   map[string]string `json:"headers"`
}

func parseQueryURL(c fiber.Ctx) (*url.URL, string) {
	raw := strings.TrimSpace(c.Query("url"))
	if raw == "" {
		return nil, "url_required"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, "invalid_url"
	}
	return u, ""
}

// renderCacheError 将缓存错误分类映射为 HTTP 状态码与错误码。
func renderCacheError(c fiber.Ctx, err error) error {
	status, code := fiber.StatusInternalServerError, "cache_io_failed"
	switch {
	case errors.Is(err, cache.ErrUnsupportedScheme):
		status, code = fiber.StatusBadRequest, "unsupported_scheme"
	case errors.Is(err, cache.ErrInvalidURL):
		status, code = fiber.StatusBadRequest, "invalid_url"
	case errors.Is(err, cache.ErrNotFound):
		status, code = fiber.StatusNotFound, "cache_miss"
	case errors.Is(err, cache.ErrCorruptMetadata):
		status, code = fiber.StatusConflict, "cache_corrupt"
	}
	return c.Status(status).JSON(fiber.Map{"error": code})
}
