package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 45*time.Second {
		t.Fatalf("UpstreamTimeout 解析错误: %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Global.MaxRedirects != 5 {
		t.Fatalf("MaxRedirects 应为 5，得到 %d", cfg.Global.MaxRedirects)
	}
	if !filepath.IsAbs(cfg.Global.CacheDir) {
		t.Fatalf("CacheDir 应转换为绝对路径: %s", cfg.Global.CacheDir)
	}
	if filepath.Base(cfg.Global.CacheDir) != "http-cache" {
		t.Fatalf("CacheDir 应当被保留: %s", cfg.Global.CacheDir)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "minimal.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	g := cfg.Global
	if g.ListenPort != 5000 {
		t.Fatalf("ListenPort 默认值应为 5000，得到 %d", g.ListenPort)
	}
	if g.CacheSetting != CacheSettingUse {
		t.Fatalf("CacheSetting 默认值应为 use，得到 %s", g.CacheSetting)
	}
	if g.UpstreamTimeout.DurationValue() != 30*time.Second {
		t.Fatalf("UpstreamTimeout 默认值应为 30s，得到 %s", g.UpstreamTimeout.DurationValue())
	}
	if g.MaxRedirects != 10 {
		t.Fatalf("MaxRedirects 默认值应为 10，得到 %d", g.MaxRedirects)
	}
	if g.UserAgent == "" {
		t.Fatalf("UserAgent 应该自动填充默认值")
	}
	if filepath.Base(g.CacheDir) != "cache" {
		t.Fatalf("CacheDir 默认值应为 ./cache，得到 %s", g.CacheDir)
	}
}

func TestLoadRejectsUnknownCacheSetting(t *testing.T) {
	_, err := Load(testConfigPath(t, "invalid.toml"))
	if err == nil {
		t.Fatalf("不合法的 CacheSetting 应返回错误")
	}
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Global.CacheSetting" {
		t.Fatalf("应返回 CacheSetting 字段错误，得到 %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("配置文件不存在时应返回错误")
	}
}

func TestLoadNormalizesCacheSetting(t *testing.T) {
	path := writeTempConfig(t, `
CacheSetting = " Reload "
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.CacheSetting != CacheSettingReload {
		t.Fatalf("CacheSetting 应被规范化为 reload，得到 %q", cfg.Global.CacheSetting)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateFields(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty cache dir", func(c *Config) { c.Global.CacheDir = " " }, "Global.CacheDir"},
		{"bad log level", func(c *Config) { c.Global.LogLevel = "chatty" }, "Global.LogLevel"},
		{"negative redirects", func(c *Config) { c.Global.MaxRedirects = -1 }, "Global.MaxRedirects"},
		{"zero timeout", func(c *Config) { c.Global.UpstreamTimeout = 0 }, "Global.UpstreamTimeout"},
		{"negative log size", func(c *Config) { c.Global.LogMaxSize = -1 }, "Global.LogMaxSize"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			var fieldErr FieldError
			if !errors.As(err, &fieldErr) {
				t.Fatalf("expected FieldError, got %v", err)
			}
			if fieldErr.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, fieldErr.Field)
			}
		})
	}
}

func TestValidateNilConfig(t *testing.T) {
	var cfg *Config
	if err := cfg.Validate(); err == nil {
		t.Fatalf("nil 配置应返回错误")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			LogLevel:        "info",
			CacheDir:        "./data",
			CacheSetting:    CacheSettingUse,
			UpstreamTimeout: Duration(time.Second),
			MaxRedirects:    10,
		},
	}
}
