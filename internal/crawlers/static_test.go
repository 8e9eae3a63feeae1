package crawlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/RecoveryAshes/gallerypack/internal/models"
)

type staticHeaders struct{ h http.Header }

func (s staticHeaders) GetHeaders() (http.Header, error) { return s.h.Clone(), nil }

func galleryStrategy() models.Strategy {
	return models.Strategy{
		Domain: "127.0.0.1",
		Images: models.ImageRule{
			SelectorRule:   models.SelectorRule{Selector: "div.pics img", Attr: "data-src"},
			FilterPatterns: []string{"/thumbs/"},
		},
	}
}

func TestStaticExtractImages(t *testing.T) {
	var gotUA string
	mux := http.NewServeMux()
	mux.HandleFunc("/gallery/one", func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><div class="pics">
<img data-src="/full/1.jpg"><img data-src="/thumbs/1.jpg">
<img data-src="full/2.jpg"><img data-src="/full/1.jpg">
</div></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	headers := staticHeaders{h: http.Header{"User-Agent": {"GalleryTest/1.0"}, "Accept-Encoding": {"br"}}}
	ex := NewStaticExtractor(StaticConfig{Timeout: 5 * time.Second}, headers)

	images, err := ex.ExtractImages(context.Background(), srv.URL+"/gallery/one", galleryStrategy())
	if err != nil {
		t.Fatalf("提取失败: %v", err)
	}
	want := []string{srv.URL + "/full/1.jpg", srv.URL + "/gallery/full/2.jpg"}
	if len(images) != len(want) || images[0] != want[0] || images[1] != want[1] {
		t.Errorf("提取结果 = %v, 期望 %v", images, want)
	}
	if gotUA != "GalleryTest/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestStaticExtractNoMatchIsNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><p>empty</p></body></html>`)
	}))
	defer srv.Close()

	images, err := NewStaticExtractor(StaticConfig{}, nil).ExtractImages(context.Background(), srv.URL, galleryStrategy())
	if err != nil {
		t.Fatalf("无匹配不应报错: %v", err)
	}
	if len(images) != 0 {
		t.Errorf("期望空列表, 得到 %v", images)
	}
}

func TestStaticExtractFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	ex := NewStaticExtractor(StaticConfig{Timeout: 2 * time.Second}, nil)

	_, err := ex.ExtractImages(context.Background(), srv.URL+"/missing", galleryStrategy())
	if !errors.Is(err, models.ErrFetch) {
		t.Fatalf("期望 FetchError, 得到 %v", err)
	}
	var pe *models.PipelineError
	if errors.As(err, &pe) && pe.StatusCode != http.StatusNotFound {
		t.Errorf("状态码 = %d, 期望 404", pe.StatusCode)
	}

	// 网络错误
	closed := httptest.NewServer(http.NotFoundHandler())
	addr := closed.URL
	closed.Close()
	if _, err := ex.ExtractImages(context.Background(), addr, galleryStrategy()); !errors.Is(err, models.ErrFetch) {
		t.Errorf("连接失败应返回 FetchError, 得到 %v", err)
	}
}
