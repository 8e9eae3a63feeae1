package crawlers

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/RecoveryAshes/gallerypack/internal/models"
	"github.com/RecoveryAshes/gallerypack/internal/utils"
	"github.com/gocolly/colly/v2"
)

// StaticConfig 静态提取配置
type StaticConfig struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
	MaxBodySize        int
}

// StaticExtractor 静态提取器(使用Colly)
//
// 每次调用使用新的 collector,互不共享访问记录和回调。
type StaticExtractor struct {
	config         StaticConfig
	transport      http.RoundTripper
	headerProvider models.HeaderProvider
}

// NewStaticExtractor 创建静态提取器
func NewStaticExtractor(config StaticConfig, headerProvider models.HeaderProvider) *StaticExtractor {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 10 * 1024 * 1024
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		utils.Debugf("静态提取器: TLS证书验证已禁用")
	}

	return &StaticExtractor{
		config:         config,
		transport:      transport,
		headerProvider: headerProvider,
	}
}

// ExtractImages 提取图集页中的图片地址
func (se *StaticExtractor) ExtractImages(ctx context.Context, pageURL string, strategy models.Strategy) ([]string, error) {
	links, err := se.ExtractLinks(ctx, pageURL, strategy.Images.SelectorRule, strategy.Images.FilterPatterns)
	if err != nil {
		return nil, err
	}
	utils.Debugf("静态提取: %s 找到 %d 张图片", pageURL, len(links))
	return links, nil
}

// ExtractLinks 抓取页面并按规则提取链接,没有匹配时返回空列表
func (se *StaticExtractor) ExtractLinks(ctx context.Context, pageURL string, rule models.SelectorRule, filters []string) ([]string, error) {
	if _, err := url.Parse(pageURL); err != nil {
		return nil, models.NewFetchError("extract_links", pageURL, 0, err)
	}

	var headers http.Header
	if se.headerProvider != nil {
		h, err := se.headerProvider.GetHeaders()
		if err != nil {
			return nil, fmt.Errorf("获取HTTP头部失败: %w", err)
		}
		headers = h
	}

	c := colly.NewCollector()
	c.MaxBodySize = se.config.MaxBodySize
	c.SetClient(&http.Client{
		Transport: &contextTransport{ctx: ctx, base: se.transport},
		Timeout:   se.config.Timeout,
	})

	c.OnRequest(func(r *colly.Request) {
		for name, values := range headers {
			// Colly 只会自动解压 gzip,由 Transport 协商编码
			if strings.EqualFold(name, "Accept-Encoding") {
				continue
			}
			r.Headers.Del(name)
			for _, v := range values {
				r.Headers.Add(name, v)
			}
		}
	})

	links := make([]string, 0)
	c.OnHTML("html", func(e *colly.HTMLElement) {
		links = extractLinks(e.DOM, e.Request.URL, rule, filters)
	})

	var statusCode int
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
	})

	if err := c.Visit(pageURL); err != nil {
		utils.Warnf("页面获取失败 [%s]: %v", pageURL, err)
		return nil, models.NewFetchError("extract_links", pageURL, statusCode, err)
	}
	return links, nil
}

// contextTransport 把调用方的 context 附加到每个请求上
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}
