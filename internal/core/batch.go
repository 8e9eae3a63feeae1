package core

import (
	"context"
	"time"

	"github.com/RecoveryAshes/gallerypack/internal/models"
	"github.com/RecoveryAshes/gallerypack/internal/utils"
)

// JobSubmitter 执行单个任务
type JobSubmitter interface {
	Submit(ctx context.Context, rawURL string, mode models.Mode, onProgress models.ProgressFunc) (*models.JobResult, error)
}

// BatchEntry 批量任务中的一项
type BatchEntry struct {
	URL  string
	Mode models.Mode
}

// BatchRunner 按顺序执行URL列表
type BatchRunner struct {
	submitter     JobSubmitter
	batchDelay    time.Duration
	continueOnErr bool

	// 为每个任务创建进度回调,可以为空
	progressFor func(entry BatchEntry) (models.ProgressFunc, func())
}

// BatchResult 单个任务的结果
type BatchResult struct {
	Entry       BatchEntry
	Success     bool
	Error       error
	Result      *models.JobResult
	ProcessedAt time.Time
	Duration    time.Duration
}

// BatchSummary 批量执行摘要
type BatchSummary struct {
	TotalURLs     int
	SuccessCount  int
	FailCount     int
	SkippedCount  int
	TotalImages   int
	TotalFiles    int
	TotalDuration time.Duration
	Results       []BatchResult
}

// NewBatchRunner 创建批量执行器
func NewBatchRunner(submitter JobSubmitter, batchDelay time.Duration, continueOnErr bool) *BatchRunner {
	return &BatchRunner{
		submitter:     submitter,
		batchDelay:    batchDelay,
		continueOnErr: continueOnErr,
	}
}

// WithProgress 设置进度回调工厂,返回的第二个函数在任务结束时调用
func (br *BatchRunner) WithProgress(factory func(entry BatchEntry) (models.ProgressFunc, func())) *BatchRunner {
	br.progressFor = factory
	return br
}

// Run 顺序执行所有任务
func (br *BatchRunner) Run(ctx context.Context, entries []BatchEntry) *BatchSummary {
	utils.Infof("🚀 开始批量任务: %d个URL", len(entries))

	summary := &BatchSummary{
		TotalURLs: len(entries),
		Results:   make([]BatchResult, 0, len(entries)),
	}
	startTime := time.Now()

	for i, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		utils.Infof("==================== [%d/%d] ====================", i+1, len(entries))
		utils.Infof("目标URL: %s (%s)", entry.URL, entry.Mode)

		result := br.runOne(ctx, entry)
		summary.Results = append(summary.Results, result)

		if result.Success {
			summary.SuccessCount++
			summary.TotalImages += result.Result.Download.Success
			summary.TotalFiles += len(result.Result.Files)
		} else {
			summary.FailCount++
			utils.Errorf("❌ 任务失败: %s", models.UserMessage(result.Error))
			if !br.continueOnErr {
				utils.Warn("批量任务中止 (--continue-on-error=false)")
				break
			}
		}

		if i < len(entries)-1 && br.batchDelay > 0 {
			utils.Debugf("等待 %v 后处理下一个URL...", br.batchDelay)
			select {
			case <-ctx.Done():
			case <-time.After(br.batchDelay):
			}
		}
	}

	summary.SkippedCount = summary.TotalURLs - len(summary.Results)
	summary.TotalDuration = time.Since(startTime)
	br.printSummary(summary)
	return summary
}

func (br *BatchRunner) runOne(ctx context.Context, entry BatchEntry) BatchResult {
	result := BatchResult{Entry: entry, ProcessedAt: time.Now()}

	var onProgress models.ProgressFunc
	if br.progressFor != nil {
		progress, done := br.progressFor(entry)
		onProgress = progress
		if done != nil {
			defer done()
		}
	}

	jobResult, err := br.submitter.Submit(ctx, entry.URL, entry.Mode, onProgress)
	result.Duration = time.Since(result.ProcessedAt)
	if err != nil {
		result.Error = err
		return result
	}
	result.Success = true
	result.Result = jobResult
	return result
}

func (br *BatchRunner) printSummary(summary *BatchSummary) {
	utils.Info("==================================================")
	utils.Info("📊 批量任务摘要")
	utils.Info("==================================================")
	utils.Infof("总URL数: %d", summary.TotalURLs)
	utils.Infof("✅ 成功: %d", summary.SuccessCount)
	utils.Infof("❌ 失败: %d", summary.FailCount)
	if summary.SkippedCount > 0 {
		utils.Infof("⏭️  未执行: %d", summary.SkippedCount)
	}
	utils.Infof("🖼️  图片总数: %d", summary.TotalImages)
	utils.Infof("📦 压缩文件数: %d", summary.TotalFiles)
	utils.Infof("⏱️  总耗时: %.2f秒", summary.TotalDuration.Seconds())
	utils.Info("==================================================")

	if summary.FailCount > 0 {
		utils.Warn("失败的URL:")
		for _, result := range summary.Results {
			if !result.Success {
				utils.Warnf("  - %s: %v", result.Entry.URL, result.Error)
			}
		}
	}
}
