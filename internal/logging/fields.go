package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供 URL/缓存命中相关字段，供 fetcher 与 HTTP 日志复用。
func FetchFields(rawURL, cacheSetting string, cacheHit, revalidated bool) logrus.Fields {
	return logrus.Fields{
		"url":           rawURL,
		"cache_setting": cacheSetting,
		"cache_hit":     cacheHit,
		"revalidated":   revalidated,
	}
}
