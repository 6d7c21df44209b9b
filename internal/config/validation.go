package config

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

var supportedCacheSettings = map[string]struct{}{
	CacheSettingUse:    {},
	CacheSettingReload: {},
	CacheSettingOnly:   {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if strings.TrimSpace(g.CacheDir) == "" {
		return newFieldError("Global.CacheDir", "不能为空")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别: "+g.LogLevel)
	}
	if g.LogMaxSize < 0 {
		return newFieldError("Global.LogMaxSize", "不能为负数")
	}
	if g.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxBackups", "不能为负数")
	}
	if _, ok := supportedCacheSettings[strings.ToLower(strings.TrimSpace(g.CacheSetting))]; !ok {
		return newFieldError("Global.CacheSetting", "仅支持 use/reload/only")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.MaxRedirects < 0 {
		return newFieldError("Global.MaxRedirects", "不能为负数")
	}

	return nil
}
