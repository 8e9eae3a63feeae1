package core

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/RecoveryAshes/gallerypack/internal/models"
	"github.com/RecoveryAshes/gallerypack/internal/utils"
	"golang.org/x/net/http/httpguts"
)

const (
	// DefaultUserAgent 默认User-Agent
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36"
)

// 日志中需要脱敏的头部
var sensitiveHeaders = map[string]bool{
	"Authorization":       true,
	"Proxy-Authorization": true,
	"Cookie":              true,
	"Set-Cookie":          true,
	"X-Api-Key":           true,
	"X-Auth-Token":        true,
}

// HeaderManager 按 默认 < 配置 < 命令行 合并请求头部,实现 models.HeaderProvider
type HeaderManager struct {
	defaults http.Header
	config   http.Header
	cli      http.Header
	merged   http.Header
}

// NewHeaderManager 创建并校验头部管理器
func NewHeaderManager(configHeaders map[string]string, cliHeaders []string) (*HeaderManager, error) {
	hm := &HeaderManager{
		defaults: getDefaultHeaders(),
		config:   make(http.Header),
		cli:      make(http.Header),
	}
	for name, value := range configHeaders {
		hm.config.Set(name, value)
	}
	if len(cliHeaders) > 0 {
		parsed, err := models.CliHeaders(cliHeaders).Parse()
		if err != nil {
			return nil, err
		}
		hm.cli = parsed
	}

	for _, layer := range []struct {
		name string
		h    http.Header
	}{{"配置文件", hm.config}, {"命令行", hm.cli}} {
		if err := ValidateHeaders(layer.h); err != nil {
			utils.Errorf("%s头部验证失败: %v", layer.name, err)
			return nil, err
		}
	}

	hm.merged = hm.merge()
	if len(hm.config)+len(hm.cli) > 0 {
		utils.Debugf("HTTP头部已加载: %v", RedactHeaders(hm.merged))
	}
	return hm, nil
}

// getDefaultHeaders 返回系统默认头部
func getDefaultHeaders() http.Header {
	return http.Header{
		"User-Agent":      []string{DefaultUserAgent},
		"Accept":          []string{"*/*"},
		"Accept-Language": []string{"zh-CN,zh;q=0.9,en;q=0.8"},
		"Accept-Encoding": []string{"gzip, deflate, br"},
	}
}

func (hm *HeaderManager) merge() http.Header {
	result := make(http.Header)
	for _, layer := range []http.Header{hm.defaults, hm.config, hm.cli} {
		for name, values := range layer {
			result[name] = append([]string(nil), values...)
		}
	}
	return result
}

// GetHeaders 实现 HeaderProvider 接口,返回副本
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	return hm.merged.Clone(), nil
}

// UserAgent 合并后的User-Agent
func (hm *HeaderManager) UserAgent() string {
	if ua := hm.merged.Get("User-Agent"); ua != "" {
		return ua
	}
	return DefaultUserAgent
}

// ValidateHeaders 校验头部名称与取值
func ValidateHeaders(h http.Header) error {
	for name, values := range h {
		if !httpguts.ValidHeaderFieldName(name) {
			return &models.ValidationError{
				Field:      "name",
				HeaderName: name,
				Reason:     "头部名称包含非法字符",
				Suggestion: "只能使用字母、数字和 - 等token字符",
			}
		}
		if strings.EqualFold(name, "Host") || strings.EqualFold(name, "Content-Length") {
			return &models.ValidationError{
				Field:      "name",
				HeaderName: name,
				Reason:     "该头部由HTTP客户端自动设置,不允许覆盖",
			}
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return &models.ValidationError{
					Field:      "value",
					HeaderName: name,
					Reason:     "头部值包含控制字符",
				}
			}
		}
	}
	return nil
}

// RedactHeaders 返回用于日志的脱敏头部
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		value := strings.Join(values, ", ")
		if sensitiveHeaders[http.CanonicalHeaderKey(name)] {
			value = redactValue(value)
		}
		out[name] = value
	}
	return out
}

func redactValue(v string) string {
	if len(v) <= 8 {
		return "***"
	}
	return fmt.Sprintf("%s***(%d)", v[:4], len(v))
}
