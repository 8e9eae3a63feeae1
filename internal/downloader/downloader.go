package downloader

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/RecoveryAshes/gallerypack/internal/models"
	"github.com/RecoveryAshes/gallerypack/internal/utils"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency 默认同时下载的图片数
const DefaultConcurrency = 5

// ErrNoURLs 下载列表为空
var ErrNoURLs = errors.New("下载列表为空")

// Config 下载器配置
type Config struct {
	Concurrency        int
	Timeout            time.Duration // 单次请求(含读取响应体)的超时
	MaxAttempts        int
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	InsecureSkipVerify bool
}

// Downloader 并发图片下载器
//
// 单张图片失败只计入 Failed,不会中断整批下载。
type Downloader struct {
	config         Config
	client         *http.Client
	headerProvider models.HeaderProvider
}

// NewDownloader 创建下载器
func NewDownloader(config Config, headerProvider models.HeaderProvider) *Downloader {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 500 * time.Millisecond
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = 10 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableCompression = true
	transport.MaxIdleConnsPerHost = config.Concurrency
	if config.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		utils.Debugf("下载器: TLS证书验证已禁用")
	}

	return &Downloader{
		config:         config,
		client:         &http.Client{Transport: transport},
		headerProvider: headerProvider,
	}
}

// DownloadImages 下载一组图片到 destDir
//
// 文件名为 "序号_原文件名",序号从1开始且至少3位,与 urls 顺序一致。
// concurrency <= 0 时使用配置值。只有 urls 为空或目录无法创建时返回错误。
func (d *Downloader) DownloadImages(ctx context.Context, urls []string, destDir string, concurrency int, onProgress models.ProgressFunc) (models.DownloadResult, error) {
	if len(urls) == 0 {
		return models.DownloadResult{}, ErrNoURLs
	}
	if concurrency <= 0 {
		concurrency = d.config.Concurrency
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return models.DownloadResult{}, models.NewFilesystemError("mkdir", destDir, err)
	}

	names := buildFileNames(urls)
	result := models.DownloadResult{Total: len(urls)}

	var mu sync.Mutex
	completed := 0
	report := func(ok bool) {
		mu.Lock()
		defer mu.Unlock()
		completed++
		if ok {
			result.Success++
		} else {
			result.Failed++
		}
		emitProgress(onProgress, models.Progress{
			Stage:   models.StateDownloading,
			Current: completed,
			Total:   result.Total,
			Success: result.Success,
			Failed:  result.Failed,
		})
	}

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, imageURL := range urls {
		g.Go(func() error {
			dest := filepath.Join(destDir, names[i])
			err := d.downloadWithRetry(ctx, imageURL, dest)
			if err != nil {
				utils.Warnf("下载失败 %s: %v", imageURL, err)
			}
			report(err == nil)
			return nil
		})
	}
	_ = g.Wait()

	utils.Infof("下载完成: 成功 %d, 失败 %d, 共 %d", result.Success, result.Failed, result.Total)
	return result, nil
}

// DownloadMultipleGalleries 依次下载多个图集,每个图集一个子目录
//
// 返回所有图集的合计统计以及逐图集结果;没有图片的图集计为已完成。
func (d *Downloader) DownloadMultipleGalleries(ctx context.Context, galleries []models.Gallery, destDir string, onProgress models.ProgressFunc) (models.DownloadResult, []models.GalleryResult, error) {
	var total models.DownloadResult
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return total, nil, models.NewFilesystemError("mkdir", destDir, err)
	}

	dirNames := uniqueDirNames(galleries)
	results := make([]models.GalleryResult, 0, len(galleries))

	for i, gallery := range galleries {
		if err := ctx.Err(); err != nil {
			return total, results, err
		}

		name := dirNames[i]
		gr := models.GalleryResult{Name: name}

		if len(gallery.Images) == 0 {
			utils.Warnf("图集 %s 没有图片,跳过", name)
		} else {
			subDir := filepath.Join(destDir, name)
			res, err := d.DownloadImages(ctx, gallery.Images, subDir, d.config.Concurrency, func(p models.Progress) {
				p.Gallery = name
				p.CompletedGalleries = i
				p.TotalGalleries = len(galleries)
				emitProgress(onProgress, p)
			})
			if err != nil {
				return total, results, err
			}
			gr.Result = res
			if res.Success > 0 {
				gr.Dir = subDir
			} else {
				_ = os.Remove(subDir)
			}
			total.Add(res)
		}
		results = append(results, gr)

		emitProgress(onProgress, models.Progress{
			Stage:              models.StateDownloading,
			Current:            total.Success + total.Failed,
			Total:              total.Total,
			Success:            total.Success,
			Failed:             total.Failed,
			Gallery:            name,
			CompletedGalleries: i + 1,
			TotalGalleries:     len(galleries),
		})
	}

	return total, results, nil
}

func (d *Downloader) downloadWithRetry(ctx context.Context, imageURL, dest string) error {
	var lastErr error
	for attempt := 0; attempt < d.config.MaxAttempts; attempt++ {
		err := d.fetchOnce(ctx, imageURL, dest)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || !isTransient(err) || attempt == d.config.MaxAttempts-1 {
			break
		}
		delay := backoffDelay(d.config.BackoffBase, d.config.BackoffMax, attempt)
		utils.Debugf("重试 %s (第%d次失败, %v 后重试): %v", imageURL, attempt+1, delay, err)
		if err := sleepContext(ctx, delay); err != nil {
			break
		}
	}
	return lastErr
}

// fetchOnce 下载一次,先写 .part 文件,完整后再改名
func (d *Downloader) fetchOnce(ctx context.Context, imageURL, dest string) error {
	attemptCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, imageURL, nil)
	if err != nil {
		return err
	}
	if d.headerProvider != nil {
		headers, err := d.headerProvider.GetHeaders()
		if err != nil {
			return fmt.Errorf("获取HTTP头部失败: %w", err)
		}
		for name, values := range headers {
			for _, v := range values {
				req.Header.Add(name, v)
			}
		}
	}
	// 部分图床校验来源
	if req.Header.Get("Referer") == "" {
		req.Header.Set("Referer", originOf(req.URL))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode}
	}

	body, err := decodeBody(resp)
	if err != nil {
		return err
	}

	partPath := dest + ".part"
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return &writeError{err: err}
	}

	n, copyErr := io.Copy(fileWriter{w: f}, body)
	closeErr := f.Close()
	if copyErr == nil && closeErr != nil {
		copyErr = &writeError{err: closeErr}
	}
	if copyErr == nil && n == 0 {
		copyErr = errEmptyBody
	}
	if copyErr != nil {
		_ = os.Remove(partPath)
		return copyErr
	}

	if err := os.Rename(partPath, dest); err != nil {
		_ = os.Remove(partPath)
		return &writeError{err: err}
	}
	return nil
}

// emitProgress 调用进度回调,回调的panic不影响下载
func emitProgress(onProgress models.ProgressFunc, p models.Progress) {
	if onProgress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			utils.Debugf("进度回调panic已忽略: %v", r)
		}
	}()
	onProgress(p)
}

// buildFileNames 生成 "001_name.jpg" 形式的文件名
func buildFileNames(urls []string) []string {
	width := len(strconv.Itoa(len(urls)))
	if width < 3 {
		width = 3
	}
	names := make([]string, len(urls))
	for i, u := range urls {
		names[i] = fmt.Sprintf("%0*d_%s", width, i+1, imageBaseName(u))
	}
	return names
}

// imageBaseName 从图片URL取安全的文件名,无扩展名时补 .jpg
func imageBaseName(rawURL string) string {
	base := ""
	if u, err := url.Parse(rawURL); err == nil {
		base = path.Base(u.Path)
		if unescaped, err := url.PathUnescape(base); err == nil {
			base = unescaped
		}
	}
	if base == "/" || base == "." {
		base = ""
	}

	ext := strings.ToLower(path.Ext(base))
	stem := strings.TrimSuffix(base, path.Ext(base))
	if !validExtension(ext) {
		ext = ".jpg"
	}
	stem = utils.SanitizeName(stem)
	if stem == "" {
		stem = "image"
	}
	return stem + ext
}

func validExtension(ext string) bool {
	if len(ext) < 2 || len(ext) > 6 {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// uniqueDirNames 图集子目录名,重名时追加 _2、_3
func uniqueDirNames(galleries []models.Gallery) []string {
	used := make(map[string]bool, len(galleries))
	names := make([]string, len(galleries))
	for i, g := range galleries {
		base := utils.SanitizeName(g.Name)
		if base == "" {
			base = fmt.Sprintf("gallery_%02d", i+1)
		}
		name := base
		for n := 2; used[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[strings.ToLower(name)] = true
		names[i] = name
	}
	return names
}

func originOf(u *url.URL) string {
	return u.Scheme + "://" + u.Host + "/"
}
