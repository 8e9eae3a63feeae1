package crawlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/RecoveryAshes/gallerypack/internal/models"
	"github.com/RecoveryAshes/gallerypack/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// 错误类型定义
var (
	ErrBrowserCrashed  = errors.New("浏览器崩溃")
	ErrNoGalleryRule   = errors.New("该站点未配置图集列表规则")
	ErrResourceLimited = errors.New("系统资源不足,无法启动浏览器")
)

// 滚动到底部并返回当前文档高度
const scrollScript = `() => {
	const h = Math.max(document.body ? document.body.scrollHeight : 0,
		document.documentElement ? document.documentElement.scrollHeight : 0);
	window.scrollTo(0, h);
	return h;
}`

// 高度连续这么多轮不变即认为懒加载结束
const stableScrollRounds = 2

// DynamicConfig 动态提取配置
type DynamicConfig struct {
	Headless          bool
	Bin               string // 浏览器可执行文件,为空时由 launcher 自动查找/下载
	Stealth           bool
	NavigationTimeout time.Duration
	ScrollTimeout     time.Duration
	ScrollPause       time.Duration
	MinFreeMemoryMB   uint64
}

// DynamicExtractor 动态提取器(使用Rod)
//
// 每次调用启动一个独立的浏览器进程,调用结束时无论成功、失败还是panic都会销毁。
type DynamicExtractor struct {
	config         DynamicConfig
	headerProvider models.HeaderProvider
	guard          *ResourceGuard

	// 当前存活的浏览器进程数
	active atomic.Int64
}

// NewDynamicExtractor 创建动态提取器
func NewDynamicExtractor(config DynamicConfig, headerProvider models.HeaderProvider) *DynamicExtractor {
	if config.NavigationTimeout <= 0 {
		config.NavigationTimeout = 60 * time.Second
	}
	if config.ScrollTimeout <= 0 {
		config.ScrollTimeout = 45 * time.Second
	}
	if config.ScrollPause <= 0 {
		config.ScrollPause = 1500 * time.Millisecond
	}
	return &DynamicExtractor{
		config:         config,
		headerProvider: headerProvider,
		guard:          NewResourceGuard(config.MinFreeMemoryMB),
	}
}

// ActiveBrowsers 当前存活的浏览器实例数,空闲时应为0
func (de *DynamicExtractor) ActiveBrowsers() int64 {
	return de.active.Load()
}

// ExtractGalleryLinks 渲染列表页并提取各图集的链接
func (de *DynamicExtractor) ExtractGalleryLinks(ctx context.Context, pageURL string, strategy models.Strategy) ([]string, error) {
	if !strategy.SupportsMulti() {
		return nil, &models.PipelineError{
			Kind: models.KindUnsupportedSite, Op: "extract_gallery_links", URL: pageURL, Err: ErrNoGalleryRule,
		}
	}
	links, err := de.ExtractLinks(ctx, pageURL, strategy.Galleries, nil)
	if err != nil {
		return nil, err
	}
	utils.Infof("🌐 动态提取: %s 找到 %d 个图集", pageURL, len(links))
	return links, nil
}

// ExtractLinks 渲染页面、自动滚动后按规则提取链接
func (de *DynamicExtractor) ExtractLinks(ctx context.Context, pageURL string, rule models.SelectorRule, filters []string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, models.NewNavigationError(pageURL, err)
	}
	if err := de.guard.CheckBrowserLaunch(); err != nil {
		return nil, models.NewNavigationError(pageURL, fmt.Errorf("%w: %v", ErrResourceLimited, err))
	}

	var links []string
	err = de.withBrowser(ctx, func(browser *rod.Browser) error {
		html, finalURL, err := de.render(ctx, browser, pageURL)
		if err != nil {
			return err
		}
		if u, err := url.Parse(finalURL); err == nil && u.Host != "" {
			base = u
		}
		links, err = ExtractLinksFromHTML(html, base, rule, filters)
		return err
	})
	if err != nil {
		var pe *models.PipelineError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, models.NewNavigationError(pageURL, err)
	}
	return links, nil
}

// withBrowser 启动浏览器、执行 fn,并在所有退出路径上销毁浏览器
func (de *DynamicExtractor) withBrowser(ctx context.Context, fn func(*rod.Browser) error) (err error) {
	l := launcher.New().
		Context(ctx).
		Headless(de.config.Headless).
		Set("ignore-certificate-errors").
		Set("disable-dev-shm-usage")
	if de.config.Bin != "" {
		l = l.Bin(de.config.Bin)
	}
	if os.Geteuid() == 0 {
		// 容器内以root运行时Chromium拒绝启用沙箱
		l = l.NoSandbox(true)
	}

	de.active.Add(1)
	var browser *rod.Browser
	launched := false
	defer func() {
		if r := recover(); r != nil {
			utils.Errorf("浏览器操作panic: %v", r)
			err = fmt.Errorf("%w: %v", ErrBrowserCrashed, r)
		}
		de.release(browser, l, launched)
	}()

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("启动浏览器失败: %w", err)
	}
	launched = true

	browser = rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("连接浏览器失败: %w", err)
	}
	utils.Debugf("浏览器已启动: %s", controlURL)

	return fn(browser)
}

// release 关闭浏览器,结束进程并删除临时用户目录
func (de *DynamicExtractor) release(browser *rod.Browser, l *launcher.Launcher, launched bool) {
	defer de.active.Add(-1)

	if browser != nil {
		if err := browser.Close(); err != nil {
			utils.Debugf("关闭浏览器连接失败: %v", err)
		}
	}
	l.Kill()
	if launched {
		// Cleanup 会等待进程退出,进程从未启动时调用会一直阻塞
		l.Cleanup()
	} else if dir := l.Get(flags.UserDataDir); dir != "" {
		_ = os.RemoveAll(dir)
	}
	utils.Debugf("浏览器已关闭")
}

// render 打开页面、等待加载并自动滚动,返回最终HTML和地址
func (de *DynamicExtractor) render(ctx context.Context, browser *rod.Browser, pageURL string) (string, string, error) {
	page, err := de.newPage(browser)
	if err != nil {
		return "", "", fmt.Errorf("创建标签页失败: %w", err)
	}
	defer page.Close()

	if err := de.applyHeaders(page); err != nil {
		utils.Warnf("设置浏览器请求头失败: %v", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, de.config.NavigationTimeout)
	defer cancel()
	navPage := page.Context(navCtx)

	if err := navPage.Navigate(pageURL); err != nil {
		return "", "", models.NewNavigationError(pageURL, err)
	}
	if err := navPage.WaitLoad(); err != nil {
		return "", "", models.NewNavigationError(pageURL, fmt.Errorf("等待页面加载失败: %w", err))
	}
	utils.Debugf("页面加载完成: %s", pageURL)

	rounds, err := de.autoScroll(ctx, page)
	if err != nil {
		return "", "", models.NewNavigationError(pageURL, fmt.Errorf("自动滚动失败: %w", err))
	}
	utils.Debugf("自动滚动结束: %s (%d 轮)", pageURL, rounds)

	html, err := page.Context(ctx).HTML()
	if err != nil {
		return "", "", models.NewNavigationError(pageURL, fmt.Errorf("读取页面HTML失败: %w", err))
	}

	finalURL := pageURL
	if info, err := page.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}
	return html, finalURL, nil
}

func (de *DynamicExtractor) newPage(browser *rod.Browser) (*rod.Page, error) {
	if de.config.Stealth {
		return stealth.Page(browser)
	}
	return browser.Page(proto.TargetCreateTarget{})
}

// applyHeaders 把 User-Agent 与其余自定义头部应用到标签页
func (de *DynamicExtractor) applyHeaders(page *rod.Page) error {
	if de.headerProvider == nil {
		return nil
	}
	headers, err := de.headerProvider.GetHeaders()
	if err != nil {
		return err
	}

	if ua := headers.Get("User-Agent"); ua != "" {
		err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      ua,
			AcceptLanguage: headers.Get("Accept-Language"),
		})
		if err != nil {
			return err
		}
	}

	extra := make([]string, 0)
	for name, values := range headers {
		switch http.CanonicalHeaderKey(name) {
		case "User-Agent", "Accept-Encoding", "Accept", "Accept-Language":
			continue
		}
		extra = append(extra, name, strings.Join(values, ", "))
	}
	if len(extra) > 0 {
		if _, err := page.SetExtraHeaders(extra); err != nil {
			return err
		}
	}
	return nil
}

// autoScroll 反复滚动到底部,直到文档高度稳定或达到滚动时限
//
// 达到时限不算失败,使用当时已加载的内容继续提取。
func (de *DynamicExtractor) autoScroll(ctx context.Context, page *rod.Page) (int, error) {
	scrollCtx, cancel := context.WithTimeout(ctx, de.config.ScrollTimeout)
	defer cancel()
	p := page.Context(scrollCtx)

	lastHeight := -1
	stable := 0
	rounds := 0
	for {
		res, err := p.Eval(scrollScript)
		if err != nil {
			if scrollCtx.Err() != nil && ctx.Err() == nil {
				utils.Warnf("自动滚动达到时限 %s,使用已加载的内容", de.config.ScrollTimeout)
				return rounds, nil
			}
			return rounds, err
		}
		rounds++

		height := res.Value.Int()
		if height == lastHeight {
			stable++
			if stable >= stableScrollRounds {
				return rounds, nil
			}
		} else {
			stable = 0
			lastHeight = height
		}

		select {
		case <-scrollCtx.Done():
			if ctx.Err() != nil {
				return rounds, ctx.Err()
			}
			utils.Warnf("自动滚动达到时限 %s,使用已加载的内容", de.config.ScrollTimeout)
			return rounds, nil
		case <-time.After(de.config.ScrollPause):
		}
	}
}
