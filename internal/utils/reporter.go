package utils

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/RecoveryAshes/gallerypack/internal/models"
	"github.com/schollz/progressbar/v3"
)

// NewProgressBar 创建进度条
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// ProgressRenderer 把流水线的进度回调渲染为终端进度条
//
// 下载阶段每个图集一个进度条,其他阶段只打印阶段切换。
type ProgressRenderer struct {
	bar     *progressbar.ProgressBar
	stage   models.JobState
	gallery string
}

// NewProgressRenderer 创建渲染器
func NewProgressRenderer() *ProgressRenderer {
	return &ProgressRenderer{}
}

// Handle 处理一次进度回调
func (r *ProgressRenderer) Handle(p models.Progress) {
	if p.Stage != r.stage {
		r.finish()
		r.stage = p.Stage
		Infof("▶ 阶段: %s", stageLabel(p.Stage))
	}
	if p.Stage != models.StateDownloading || p.Total == 0 {
		return
	}

	if r.bar == nil || p.Gallery != r.gallery {
		r.finish()
		r.gallery = p.Gallery
		desc := "下载图片"
		if p.TotalGalleries > 0 {
			desc = fmt.Sprintf("[%d/%d] %s", p.CompletedGalleries+1, p.TotalGalleries, p.Gallery)
		}
		r.bar = NewProgressBar(p.Total, desc)
	}
	_ = r.bar.Set(p.Current)
}

// Close 结束当前进度条
func (r *ProgressRenderer) Close() {
	r.finish()
}

func (r *ProgressRenderer) finish() {
	if r.bar != nil {
		_ = r.bar.Finish()
		r.bar = nil
	}
}

func stageLabel(s models.JobState) string {
	switch s {
	case models.StateExtractingLinks:
		return "提取图集链接"
	case models.StateExtractingImages:
		return "提取图片链接"
	case models.StateDownloading:
		return "下载图片"
	case models.StateArchiving:
		return "打包压缩"
	case models.StatePublishing:
		return "发布文件"
	default:
		return string(s)
	}
}

// PrintJobSummary 打印任务结果摘要
func PrintJobSummary(w io.Writer, result *models.JobResult) {
	line := strings.Repeat("=", 60)
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "任务: %s\n", result.JobID)
	fmt.Fprintf(w, "地址: %s (%s)\n", result.URL, result.Mode)
	fmt.Fprintf(w, "下载: 共 %d, 成功 %d, 失败 %d\n",
		result.Download.Total, result.Download.Success, result.Download.Failed)
	for _, g := range result.Galleries {
		fmt.Fprintf(w, "  - %s: %d/%d\n", g.Name, g.Result.Success, g.Result.Total)
	}
	fmt.Fprintf(w, "耗时: %s\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintln(w, "输出文件:")
	for _, f := range result.Files {
		fmt.Fprintf(w, "  %s\n", f)
	}
	fmt.Fprintln(w, line)
}
