package models

import (
	"fmt"
	"strings"
	"time"
)

// Mode 任务模式
type Mode string

const (
	ModeSingle Mode = "single" // 单图集
	ModeMulti  Mode = "multi"  // 列表页 -> 多图集
)

// ParseMode 解析模式字符串,空字符串视为单图集
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSingle:
		return ModeSingle, nil
	case ModeMulti:
		return ModeMulti, nil
	default:
		return "", fmt.Errorf("无效的模式: %q (可选: single, multi)", s)
	}
}

// JobState 任务状态机的状态
type JobState string

const (
	StateIdle             JobState = "idle"
	StateExtractingLinks  JobState = "extracting_links"
	StateExtractingImages JobState = "extracting_images"
	StateDownloading      JobState = "downloading"
	StateArchiving        JobState = "archiving"
	StatePublishing       JobState = "publishing"
	StateFailed           JobState = "failed"
)

var allowedTransitions = map[JobState][]JobState{
	StateIdle:             {StateExtractingLinks, StateExtractingImages},
	StateExtractingLinks:  {StateExtractingImages},
	StateExtractingImages: {StateDownloading},
	StateDownloading:      {StateArchiving},
	StateArchiving:        {StatePublishing},
	StatePublishing:       {StateIdle},
	StateFailed:           {StateIdle},
}

// Gallery 多图集模式下的单个图集
type Gallery struct {
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Images []string `json:"images"`
}

// DownloadResult 下载统计,满足 Success + Failed == Total
type DownloadResult struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Add 累加另一批次的统计
func (r *DownloadResult) Add(other DownloadResult) {
	r.Total += other.Total
	r.Success += other.Success
	r.Failed += other.Failed
}

// Consistent 检查计数不变量
func (r DownloadResult) Consistent() bool {
	return r.Success+r.Failed == r.Total && r.Success >= 0 && r.Failed >= 0
}

// GalleryResult 单个图集的下载结果
type GalleryResult struct {
	Name   string         `json:"name"`
	Dir    string         `json:"dir,omitempty"`
	Result DownloadResult `json:"result"`
}

// Progress 推送给展示层的进度
type Progress struct {
	Stage   JobState `json:"stage"`
	Current int      `json:"current"`
	Total   int      `json:"total"`
	Success int      `json:"success"`
	Failed  int      `json:"failed"`

	// 多图集模式
	Gallery            string `json:"gallery,omitempty"`
	CompletedGalleries int    `json:"completed_galleries,omitempty"`
	TotalGalleries     int    `json:"total_galleries,omitempty"`
}

// ProgressFunc 进度回调,调用方不应依赖其返回或副作用
type ProgressFunc func(Progress)

// JobResult 成功任务的对外结果
type JobResult struct {
	JobID     string          `json:"job_id"`
	URL       string          `json:"url"`
	Mode      Mode            `json:"mode"`
	Name      string          `json:"name"`
	Files     []string        `json:"files"`
	Download  DownloadResult  `json:"download"`
	Galleries []GalleryResult `json:"galleries,omitempty"`
	Duration  time.Duration   `json:"duration"`
}

// Job 一次用户提交的抓取-打包任务
//
// Job 由编排器独占,整个生命周期只在一个goroutine中修改。
type Job struct {
	ID        string
	URL       string
	Mode      Mode
	CreatedAt time.Time

	State   JobState
	History []JobState

	Strategy       Strategy
	Name           string
	ScratchDir     string
	Images         []string
	Galleries      []Gallery
	Download       DownloadResult
	GalleryResults []GalleryResult
	ArchivePaths   []string
	PublishedPaths []string

	Err error
}

// NewJob 创建任务
func NewJob(targetURL string, mode Mode) (*Job, error) {
	if err := ValidateURL(targetURL); err != nil {
		return nil, err
	}
	if mode != ModeSingle && mode != ModeMulti {
		return nil, fmt.Errorf("无效的模式: %q", mode)
	}
	return &Job{
		ID:        generateID(),
		URL:       targetURL,
		Mode:      mode,
		CreatedAt: time.Now(),
		State:     StateIdle,
		History:   []JobState{StateIdle},
	}, nil
}

// Transition 切换状态。任何非Idle状态都可以进入Failed
func (j *Job) Transition(to JobState) error {
	if to == StateFailed && j.State != StateIdle {
		j.setState(to)
		return nil
	}
	for _, s := range allowedTransitions[j.State] {
		if s == to {
			j.setState(to)
			return nil
		}
	}
	return fmt.Errorf("非法的状态切换: %s -> %s", j.State, to)
}

func (j *Job) setState(to JobState) {
	j.State = to
	j.History = append(j.History, to)
}

// Reset 任务结束后回到Idle,保留错误以便上层展示
func (j *Job) Reset() {
	if j.State != StateIdle {
		j.setState(StateIdle)
	}
	j.ScratchDir = ""
	j.ArchivePaths = nil
}
