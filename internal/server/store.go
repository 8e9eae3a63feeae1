package server

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/RecoveryAshes/gallerypack/internal/models"
	"github.com/google/uuid"
)

// 已结束任务在内存中保留的时长
const finishedRetention = 24 * time.Hour

// ErrJobActive 该用户已有进行中的任务
var ErrJobActive = errors.New("已有进行中的任务")

// JobStatus 任务对外状态
type JobStatus string

const (
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// JobRecord 服务端保存的任务快照
type JobRecord struct {
	ID         string            `json:"id"`
	User       string            `json:"user"`
	URL        string            `json:"url"`
	Mode       models.Mode       `json:"mode"`
	Status     JobStatus         `json:"status"`
	Progress   models.Progress   `json:"progress"`
	Result     *models.JobResult `json:"-"`
	ErrorKind  models.ErrorKind  `json:"error_kind,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// JobStore 内存中的任务表,每个用户同时只能有一个进行中的任务
//
// 进程重启后全部丢失。
type JobStore struct {
	mu     sync.RWMutex
	jobs   map[string]*JobRecord
	byUser map[string]string
	now    func() time.Time
}

// NewJobStore 创建任务表
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:   make(map[string]*JobRecord),
		byUser: make(map[string]string),
		now:    time.Now,
	}
}

// Create 登记新任务
func (s *JobStore) Create(user, rawURL string, mode models.Mode) (JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byUser[user]; ok {
		return *s.jobs[id], ErrJobActive
	}
	s.pruneLocked()

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	rec := &JobRecord{
		ID:        id.String(),
		User:      user,
		URL:       rawURL,
		Mode:      mode,
		Status:    StatusRunning,
		Progress:  models.Progress{Stage: models.StateIdle},
		CreatedAt: s.now(),
	}
	s.jobs[rec.ID] = rec
	s.byUser[user] = rec.ID
	return *rec, nil
}

// UpdateProgress 记录最新进度
func (s *JobStore) UpdateProgress(id string, p models.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.jobs[id]; ok && rec.Status == StatusRunning {
		rec.Progress = p
	}
}

// Finish 记录任务结果并释放该用户的占用
func (s *JobStore) Finish(id string, result *models.JobResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return
	}

	now := s.now()
	rec.FinishedAt = &now
	rec.Progress.Stage = models.StateIdle
	if err != nil {
		rec.Status = StatusFailed
		rec.ErrorKind = models.KindOf(err)
		rec.Error = models.UserMessage(err)
	} else {
		rec.Status = StatusSucceeded
		rec.Result = result
	}
	if s.byUser[rec.User] == id {
		delete(s.byUser, rec.User)
	}
}

// Get 返回任务快照
func (s *JobStore) Get(id string) (JobRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	if !ok {
		return JobRecord{}, false
	}
	return *rec, true
}

// ListByUser 某用户的任务,新的在前
func (s *JobStore) ListByUser(user string) []JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []JobRecord
	for _, rec := range s.jobs {
		if rec.User == user {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *JobStore) pruneLocked() {
	cutoff := s.now().Add(-finishedRetention)
	for id, rec := range s.jobs {
		if rec.FinishedAt != nil && rec.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}
