package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/gallerypack/internal/crawlers"
	"github.com/RecoveryAshes/gallerypack/internal/models"
	"github.com/RecoveryAshes/gallerypack/internal/utils"
)

// StrategyResolver 按URL查找站点规则
type StrategyResolver interface {
	Resolve(rawURL string) (models.Strategy, error)
}

// ImageExtractor 从图集页提取图片地址
type ImageExtractor interface {
	ExtractImages(ctx context.Context, pageURL string, strategy models.Strategy) ([]string, error)
}

// GalleryLinkExtractor 从列表页提取图集链接
type GalleryLinkExtractor interface {
	ExtractGalleryLinks(ctx context.Context, pageURL string, strategy models.Strategy) ([]string, error)
}

// BatchDownloader 批量下载图片
type BatchDownloader interface {
	DownloadImages(ctx context.Context, urls []string, destDir string, concurrency int, onProgress models.ProgressFunc) (models.DownloadResult, error)
	DownloadMultipleGalleries(ctx context.Context, galleries []models.Gallery, destDir string, onProgress models.ProgressFunc) (models.DownloadResult, []models.GalleryResult, error)
}

// Archiver 打包目录
type Archiver interface {
	CreateAndSplitIfNeeded(ctx context.Context, sourceDir, outputPath string, maxVolumeSize int64) ([]string, error)
}

// Workspace 临时目录和发布目录
type Workspace interface {
	CreateTempDir(label string) (string, error)
	DeleteDir(path string)
	DeleteFile(path string)
	MoveToPublicLocation(path string) (string, error)
}

// PipelineDeps 编排器依赖的组件
type PipelineDeps struct {
	Registry   StrategyResolver
	Static     ImageExtractor
	Dynamic    GalleryLinkExtractor
	Downloader BatchDownloader
	Archiver   Archiver
	Workspace  Workspace
}

// PipelineOptions 编排器参数
type PipelineOptions struct {
	Concurrency   int
	MaxVolumeSize int64 // 单个分卷的最大字节数, 0 表示不分卷
}

// 临时目录内的布局: content/ 存放待打包内容, out/ 存放压缩包
const (
	contentDirName = "content"
	outputDirName  = "out"
)

// Pipeline 任务编排器: 提取 -> 下载 -> 打包 -> 发布
//
// 每个任务独占一个临时目录。任何退出路径都会清理临时目录,
// 失败时还会删除已生成或已发布的压缩包,并把任务复位到 Idle。
type Pipeline struct {
	deps PipelineDeps
	opts PipelineOptions
}

// NewPipeline 创建编排器
func NewPipeline(deps PipelineDeps, opts PipelineOptions) *Pipeline {
	return &Pipeline{deps: deps, opts: opts}
}

// Submit 创建并执行一个任务
func (p *Pipeline) Submit(ctx context.Context, rawURL string, mode models.Mode, onProgress models.ProgressFunc) (*models.JobResult, error) {
	job, err := models.NewJob(rawURL, mode)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, job, onProgress)
}

// Run 执行任务直到成功或失败,返回时任务一定处于 Idle
func (p *Pipeline) Run(ctx context.Context, job *models.Job, onProgress models.ProgressFunc) (result *models.JobResult, err error) {
	start := time.Now()
	log := utils.JobLogger(job.ID, job.URL, string(job.Mode))
	log.Info().Msg("任务开始")

	defer func() {
		if r := recover(); r != nil {
			err = &models.PipelineError{Kind: models.KindInternal, Op: string(job.State), URL: job.URL, Err: fmt.Errorf("panic: %v", r)}
			result = nil
		}
		if err != nil {
			err = p.fail(job, err)
			log.Error().Str("kind", string(models.KindOf(err))).Err(err).Msg("任务失败")
		}
	}()

	strategy, err := p.deps.Registry.Resolve(job.URL)
	if err != nil {
		return nil, err
	}
	job.Strategy = strategy
	job.Name = crawlers.ExtractGalleryName(job.URL)

	emit := func(pr models.Progress) { notify(onProgress, pr) }

	switch job.Mode {
	case models.ModeMulti:
		err = p.runMulti(ctx, job, emit)
	default:
		err = p.runSingle(ctx, job, emit)
	}
	if err != nil {
		return nil, err
	}

	if err := p.archive(ctx, job, emit); err != nil {
		return nil, err
	}
	if err := p.publish(job, emit); err != nil {
		return nil, err
	}

	p.deps.Workspace.DeleteDir(job.ScratchDir)
	if err := job.Transition(models.StateIdle); err != nil {
		return nil, err
	}
	job.Reset()

	result = &models.JobResult{
		JobID:     job.ID,
		URL:       job.URL,
		Mode:      job.Mode,
		Name:      job.Name,
		Files:     job.PublishedPaths,
		Download:  job.Download,
		Galleries: job.GalleryResults,
		Duration:  time.Since(start),
	}
	log.Info().
		Int("success", job.Download.Success).
		Int("failed", job.Download.Failed).
		Int("files", len(job.PublishedPaths)).
		Dur("elapsed", result.Duration).
		Msg("任务完成")
	return result, nil
}

// runSingle 单图集: 提取图片 -> 下载到 content/<名称>/
func (p *Pipeline) runSingle(ctx context.Context, job *models.Job, emit models.ProgressFunc) error {
	if err := p.enter(job, models.StateExtractingImages, emit); err != nil {
		return err
	}

	images, err := p.deps.Static.ExtractImages(ctx, job.URL, job.Strategy)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return models.NewEmptyResultError("extract_images", job.URL)
	}
	job.Images = images
	utils.Infof("找到 %d 张图片", len(images))

	if err := p.allocate(job); err != nil {
		return err
	}
	if err := p.enter(job, models.StateDownloading, emit); err != nil {
		return err
	}

	destDir := filepath.Join(job.ScratchDir, contentDirName, job.Name)
	res, err := p.deps.Downloader.DownloadImages(ctx, images, destDir, p.opts.Concurrency, emit)
	if err != nil {
		return err
	}
	job.Download = res
	if res.Success == 0 {
		return models.NewAllDownloadsFailedError(job.URL, res.Total)
	}
	return nil
}

// runMulti 多图集: 渲染列表页 -> 逐个图集提取 -> 下载到 content/<图集>/
func (p *Pipeline) runMulti(ctx context.Context, job *models.Job, emit models.ProgressFunc) error {
	if err := p.enter(job, models.StateExtractingLinks, emit); err != nil {
		return err
	}

	links, err := p.deps.Dynamic.ExtractGalleryLinks(ctx, job.URL, job.Strategy)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		return models.NewEmptyResultError("extract_gallery_links", job.URL)
	}
	utils.Infof("找到 %d 个图集", len(links))

	if err := p.enter(job, models.StateExtractingImages, emit); err != nil {
		return err
	}

	galleries := make([]models.Gallery, 0, len(links))
	totalImages := 0
	for i, link := range links {
		if err := ctx.Err(); err != nil {
			return err
		}
		gallery := models.Gallery{Name: crawlers.ExtractGalleryName(link), URL: link}
		emit(models.Progress{
			Stage:          models.StateExtractingImages,
			Current:        i + 1,
			Total:          len(links),
			Gallery:        gallery.Name,
			TotalGalleries: len(links),
		})

		images, err := p.deps.Static.ExtractImages(ctx, link, job.Strategy)
		if err != nil {
			// 单个图集失败不影响整个任务
			utils.Warnf("图集 %s 提取失败: %v", link, err)
		}
		gallery.Images = images
		totalImages += len(images)
		galleries = append(galleries, gallery)
	}
	job.Galleries = galleries

	if totalImages == 0 {
		return models.NewEmptyResultError("extract_images", job.URL)
	}

	if err := p.allocate(job); err != nil {
		return err
	}
	if err := p.enter(job, models.StateDownloading, emit); err != nil {
		return err
	}

	res, results, err := p.deps.Downloader.DownloadMultipleGalleries(ctx, galleries, filepath.Join(job.ScratchDir, contentDirName), emit)
	if err != nil {
		return err
	}
	job.Download = res
	job.GalleryResults = results
	if res.Success == 0 {
		return models.NewAllDownloadsFailedError(job.URL, res.Total)
	}
	return nil
}

func (p *Pipeline) archive(ctx context.Context, job *models.Job, emit models.ProgressFunc) error {
	if err := p.enter(job, models.StateArchiving, emit); err != nil {
		return err
	}

	outputPath := filepath.Join(job.ScratchDir, outputDirName, archiveName(job))
	files, err := p.deps.Archiver.CreateAndSplitIfNeeded(ctx, filepath.Join(job.ScratchDir, contentDirName), outputPath, p.opts.MaxVolumeSize)
	// 失败时也记录已知输出,交给清理
	job.ArchivePaths = files
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return models.NewArchiveError("create_archive", errors.New("没有生成压缩文件"))
	}
	return nil
}

func (p *Pipeline) publish(job *models.Job, emit models.ProgressFunc) error {
	if err := p.enter(job, models.StatePublishing, emit); err != nil {
		return err
	}

	for i, path := range job.ArchivePaths {
		dest, err := p.deps.Workspace.MoveToPublicLocation(path)
		if err != nil {
			return err
		}
		job.PublishedPaths = append(job.PublishedPaths, dest)
		emit(models.Progress{Stage: models.StatePublishing, Current: i + 1, Total: len(job.ArchivePaths)})
	}
	return nil
}

func (p *Pipeline) allocate(job *models.Job) error {
	dir, err := p.deps.Workspace.CreateTempDir(job.Name)
	if err != nil {
		return err
	}
	job.ScratchDir = dir
	return nil
}

func (p *Pipeline) enter(job *models.Job, state models.JobState, emit models.ProgressFunc) error {
	if err := job.Transition(state); err != nil {
		return &models.PipelineError{Kind: models.KindInternal, Op: "transition", URL: job.URL, Err: err}
	}
	utils.Debugf("任务 %s 进入 %s", job.ID, state)
	emit(models.Progress{Stage: state})
	return nil
}

// fail 清理任务产生的所有文件并复位到 Idle,返回归类后的错误
func (p *Pipeline) fail(job *models.Job, err error) error {
	var pe *models.PipelineError
	if !errors.As(err, &pe) {
		err = &models.PipelineError{Kind: models.KindInternal, Op: string(job.State), URL: job.URL, Err: err}
	}
	job.Err = err

	if job.State != models.StateIdle {
		_ = job.Transition(models.StateFailed)
	}

	for _, path := range job.PublishedPaths {
		p.deps.Workspace.DeleteFile(path)
	}
	for _, path := range job.ArchivePaths {
		p.deps.Workspace.DeleteFile(path)
	}
	if job.ScratchDir != "" {
		p.deps.Workspace.DeleteDir(job.ScratchDir)
	}

	job.PublishedPaths = nil
	job.Reset()
	return err
}

// archiveName 图集名加任务ID后8位,保证发布目录中不重名
func archiveName(job *models.Job) string {
	id := job.ID
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	return fmt.Sprintf("%s_%s.zip", job.Name, id)
}

// notify 调用进度回调,回调panic不影响任务
func notify(onProgress models.ProgressFunc, pr models.Progress) {
	if onProgress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			utils.Debugf("进度回调panic已忽略: %v", r)
		}
	}()
	onProgress(pr)
}
