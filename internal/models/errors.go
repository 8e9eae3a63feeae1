package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind 流水线错误分类
type ErrorKind string

const (
	KindUnsupportedSite    ErrorKind = "unsupported_site"
	KindFetch              ErrorKind = "fetch"
	KindNavigation         ErrorKind = "navigation"
	KindEmptyResult        ErrorKind = "empty_result"
	KindAllDownloadsFailed ErrorKind = "all_downloads_failed"
	KindArchive            ErrorKind = "archive"
	KindFilesystem         ErrorKind = "filesystem"
	KindInternal           ErrorKind = "internal"
)

// PipelineError 流水线各阶段返回的错误
type PipelineError struct {
	Kind ErrorKind
	// Op 出错的操作,如 "extract_images"、"create_archive"
	Op string
	// URL 相关的页面或资源地址
	URL string
	// StatusCode HTTP状态码,网络错误时为0
	StatusCode int
	// Domains 已支持的域名,仅 KindUnsupportedSite 使用
	Domains []string
	Err     error
}

// 用于 errors.Is 的哨兵错误
var (
	ErrUnsupportedSite    = &PipelineError{Kind: KindUnsupportedSite}
	ErrFetch              = &PipelineError{Kind: KindFetch}
	ErrNavigation         = &PipelineError{Kind: KindNavigation}
	ErrEmptyResult        = &PipelineError{Kind: KindEmptyResult}
	ErrAllDownloadsFailed = &PipelineError{Kind: KindAllDownloadsFailed}
	ErrArchive            = &PipelineError{Kind: KindArchive}
	ErrFilesystem         = &PipelineError{Kind: KindFilesystem}
)

// Error 实现error接口
func (e *PipelineError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" [" + e.Op + "]")
	}
	if e.URL != "" {
		b.WriteString(" " + e.URL)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

// Unwrap 支持errors.Unwrap
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is 按错误分类匹配哨兵错误
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.URL == "" && t.Err == nil
}

// NewUnsupportedSiteError 没有匹配的站点策略
func NewUnsupportedSiteError(rawURL string, domains []string) error {
	return &PipelineError{Kind: KindUnsupportedSite, Op: "resolve_strategy", URL: rawURL, Domains: domains}
}

// NewFetchError HTTP或网络错误
func NewFetchError(op, rawURL string, status int, err error) error {
	return &PipelineError{Kind: KindFetch, Op: op, URL: rawURL, StatusCode: status, Err: err}
}

// NewNavigationError 浏览器导航超时或崩溃
func NewNavigationError(rawURL string, err error) error {
	return &PipelineError{Kind: KindNavigation, Op: "navigate", URL: rawURL, Err: err}
}

// NewEmptyResultError 未找到图集或图片
func NewEmptyResultError(op, rawURL string) error {
	return &PipelineError{Kind: KindEmptyResult, Op: op, URL: rawURL}
}

// NewAllDownloadsFailedError 一个文件都没下载成功
func NewAllDownloadsFailedError(rawURL string, total int) error {
	return &PipelineError{Kind: KindAllDownloadsFailed, Op: "download", URL: rawURL,
		Err: fmt.Errorf("%d个文件全部下载失败", total)}
}

// NewArchiveError 压缩失败或未生成输出
func NewArchiveError(op string, err error) error {
	return &PipelineError{Kind: KindArchive, Op: op, Err: err}
}

// NewFilesystemError 临时目录分配或文件迁移失败
func NewFilesystemError(op, path string, err error) error {
	return &PipelineError{Kind: KindFilesystem, Op: op, URL: path, Err: err}
}

// KindOf 返回错误分类,非流水线错误归为 KindInternal
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// UserMessage 面向用户的错误描述
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if !errors.As(err, &pe) {
		return "处理过程中发生未知错误,请稍后重试"
	}
	switch pe.Kind {
	case KindUnsupportedSite:
		if len(pe.Domains) == 0 {
			return "暂不支持该站点"
		}
		return "暂不支持该站点,目前支持: " + strings.Join(pe.Domains, ", ")
	case KindFetch:
		if pe.StatusCode != 0 {
			return fmt.Sprintf("页面获取失败 (HTTP %d)", pe.StatusCode)
		}
		return "页面获取失败,请检查链接是否可以访问"
	case KindNavigation:
		return "浏览器加载页面超时或崩溃,请稍后重试"
	case KindEmptyResult:
		return "页面中没有找到任何图集或图片"
	case KindAllDownloadsFailed:
		return "所有图片都下载失败了"
	case KindArchive:
		return "打包压缩失败"
	case KindFilesystem:
		return "服务器存储空间异常,请稍后重试"
	default:
		return "处理过程中发生未知错误,请稍后重试"
	}
}

// ValidationError 头部或配置项校验失败
type ValidationError struct {
	// Field 出错的字段 ("name" 或 "value")
	Field      string
	HeaderName string
	Reason     string
	Suggestion string
}

// Error 实现error接口
func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("头部验证失败 [%s]: %s", e.HeaderName, e.Reason)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (建议: %s)", e.Suggestion)
	}
	return msg
}

// ConfigError 配置文件错误
type ConfigError struct {
	FilePath string
	Cause    error
}

// Error 实现error接口
func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置文件错误 [%s]: %v", e.FilePath, e.Cause)
}

// Unwrap 支持errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
