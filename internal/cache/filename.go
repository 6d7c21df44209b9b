package cache

import (
	_ "crypto/sha256" // go-digest 依赖已注册的 sha256 实现
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
	"golang.org/x/net/idna"
)

// MetadataSuffix 是 headers 文件相对正文文件追加的后缀。
const MetadataSuffix = ".headers.json"

// portToken 替代 host 与端口之间的 ":"，部分平台的文件名不允许出现冒号。
const portToken = "_PORT"

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// BaseURLToFilename 把 scheme/host/port 转换为两级目录：<scheme>/<host[_PORTport]>。
// 仅支持 http/https，其余 scheme 返回 ErrUnsupportedScheme，不做任何猜测。
func BaseURLToFilename(u *url.URL) (string, error) {
	if u == nil {
		return "", newError("derive", "", ErrInvalidURL, nil)
	}

	scheme := u.Scheme
	switch scheme {
	case "http", "https":
	default:
		return "", newError("derive", u.String(), ErrUnsupportedScheme, fmt.Errorf("scheme %q", scheme))
	}

	host, err := asciiHost(u.Hostname())
	if err != nil {
		return "", newError("derive", u.String(), ErrInvalidURL, err)
	}

	if port := u.Port(); port != "" && port != defaultPorts[scheme] {
		host = host + portToken + port
	}
	return filepath.Join(scheme, host), nil
}

// URLToFilename 返回 URL 对应的相对缓存路径。path 与 query 可能包含无法用作文件名的
// 字符，因此以 sha256 摘要作为最后一级文件名；fragment 只用于页面内定位，不参与计算。
func URLToFilename(u *url.URL) (string, error) {
	base, err := BaseURLToFilename(u)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, hashedName(u)), nil
}

// asciiHost 返回小写、punycode 形式的 host，与浏览器解析后的 URL 一致。
func asciiHost(hostname string) (string, error) {
	host := strings.ToLower(hostname)
	if host == "" {
		return "", fmt.Errorf("missing host")
	}
	for i := 0; i < len(host); i++ {
		if host[i] >= 0x80 {
			ascii, err := idna.Lookup.ToASCII(host)
			if err != nil {
				return "", fmt.Errorf("invalid host %q: %w", hostname, err)
			}
			return ascii, nil
		}
	}
	return host, nil
}

// hashedName 对 "path[?query]" 做 sha256 并输出十六进制编码，path 中的 "." 与 ".." 段先被消解。
func hashedName(u *url.URL) string {
	rest := removeDotSegments(u.EscapedPath())
	if rest == "" {
		rest = "/"
	}
	if u.RawQuery != "" || u.ForceQuery {
		rest += "?" + u.RawQuery
	}
	return digest.SHA256.FromString(rest).Encoded()
}

// MetadataFilename 根据正文路径计算 headers 文件路径。
func MetadataFilename(contentPath string) string {
	return contentPath + MetadataSuffix
}

// removeDotSegments 消解 "." / ".."（含 %2e 形式），保留结尾斜杠与空段，越过根的 ".." 被忽略。
func removeDotSegments(p string) string {
	lower := strings.ToLower(p)
	if !strings.Contains(lower, ".") && !strings.Contains(lower, "%2e") {
		return p
	}

	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	out := make([]string, 0, len(segments))
	for i, segment := range segments {
		last := i == len(segments)-1
		switch strings.ToLower(segment) {
		case ".", "%2e":
			if last {
				out = append(out, "")
			}
		case "..", ".%2e", "%2e.", "%2e%2e":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			if last {
				out = append(out, "")
			}
		default:
			out = append(out, segment)
		}
	}
	return "/" + strings.Join(out, "/")
}
