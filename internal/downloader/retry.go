package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"time"
)

// statusError 非2xx响应
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP状态码 %d", e.code)
}

// writeError 本地写文件失败,重试没有意义
type writeError struct {
	err error
}

func (e *writeError) Error() string { return "写入文件失败: " + e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// fileWriter 标记来自写入端的错误,便于和读取端(网络)错误区分
type fileWriter struct {
	w io.Writer
}

func (fw fileWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err != nil {
		return n, &writeError{err: err}
	}
	return n, nil
}

var errEmptyBody = errors.New("响应体为空")

// shouldRetryStatus 0 表示没有拿到响应
func shouldRetryStatus(code int) bool {
	if code == 0 || code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}

// isTransient 判断错误是否值得重试
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var se *statusError
	if errors.As(err, &se) {
		return shouldRetryStatus(se.code)
	}
	var we *writeError
	if errors.As(err, &we) {
		return false
	}
	if errors.Is(err, errEmptyBody) || errors.Is(err, context.Canceled) {
		return false
	}
	// 单次请求超时
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

// backoffDelay 第 attempt 次失败后的等待时间: base * 2^attempt,不超过 max
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := base * time.Duration(1<<attempt)
	if max > 0 && (delay > max || delay <= 0) {
		delay = max
	}
	return delay
}

// sleepContext 等待 d 或 ctx 结束
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
