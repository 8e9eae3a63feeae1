package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/RecoveryAshes/gallerypack/internal/models"
	"github.com/RecoveryAshes/gallerypack/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// JobRunner 执行抓取-打包任务
type JobRunner interface {
	Submit(ctx context.Context, rawURL string, mode models.Mode, onProgress models.ProgressFunc) (*models.JobResult, error)
}

// DomainLister 提供已支持的站点列表
type DomainLister interface {
	ListSupportedDomains() []string
}

// Options 服务配置
type Options struct {
	Runner        JobRunner
	Domains       DomainLister
	Signer        *LinkSigner
	PublicRoot    string
	PublicBaseURL string // 生成下载链接使用的外部地址,为空时使用请求的 Host
}

// Server HTTP入口: 提交任务、查询进度、下载结果
type Server struct {
	opts  Options
	store *JobStore

	// 任务不随请求结束而取消
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New 创建服务
func New(opts Options) *Server {
	if opts.Signer == nil {
		opts.Signer = NewLinkSigner("", 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:    opts,
		store:   NewJobStore(),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Store 任务表
func (s *Server) Store() *JobStore { return s.store }

// Router 构建路由
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", s.handleSubmit)
		r.Get("/jobs/{id}", s.handleStatus)
		r.Get("/users/{user}/jobs", s.handleUserJobs)
		r.Get("/strategies", s.handleStrategies)
	})

	r.Get("/files/{name}", s.handleFile)
	return r
}

// ListenAndServe 启动服务,ctx 结束时优雅关闭并等待进行中的任务
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.Infof("🌐 HTTP服务已启动: %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Shutdown()
	utils.Info("HTTP服务已关闭")
	return err
}

// Shutdown 取消进行中的任务并等待其清理完成
func (s *Server) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

// start 在后台执行任务
func (s *Server) start(rec JobRecord) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				utils.Errorf("任务 %s panic: %v", rec.ID, r)
				s.store.Finish(rec.ID, nil, &models.PipelineError{Kind: models.KindInternal, Op: "run", URL: rec.URL})
			}
		}()

		result, err := s.opts.Runner.Submit(s.baseCtx, rec.URL, rec.Mode, func(p models.Progress) {
			s.store.UpdateProgress(rec.ID, p)
		})
		s.store.Finish(rec.ID, result, err)
	}()
}

// requestLogger 用 zerolog 记录请求
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		utils.Logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("http")
	})
}
