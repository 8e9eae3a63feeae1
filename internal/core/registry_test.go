package core

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/RecoveryAshes/gallerypack/internal/models"
)

func testStrategies() []models.Strategy {
	mk := func(domain, sel string) models.Strategy {
		return models.Strategy{
			Domain: domain,
			Images: models.ImageRule{SelectorRule: models.SelectorRule{Selector: sel, Attr: "src"}},
		}
	}
	return []models.Strategy{
		mk("example.com", "img.root"),
		mk("cdn.example.com", "img.cdn"),
		mk("pics.co.uk", "img.uk"),
	}
}

func TestRegistryResolveSuffix(t *testing.T) {
	r := NewRegistry(testStrategies(), MatchSuffix)

	tests := []struct {
		name    string
		url     string
		wantSel string
		wantErr bool
	}{
		{"精确匹配", "https://example.com/g/1", "img.root", false},
		{"大小写不敏感", "https://EXAMPLE.com/g/1", "img.root", false},
		{"www前缀", "https://www.example.com/g/1", "img.root", false},
		{"子域名匹配父域", "https://a.b.example.com/x", "img.root", false},
		{"最长后缀优先", "https://x.cdn.example.com/x", "img.cdn", false},
		{"带端口", "http://cdn.example.com:8080/x", "img.cdn", false},
		{"多级公共后缀", "https://www.pics.co.uk/a", "img.uk", false},
		{"相似但不同的域名", "https://notexample.com/", "", true},
		{"未知站点", "https://unknown.org/", "", true},
		{"无效URL", "::::", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := r.Resolve(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve(%s) error = %v", tt.url, err)
			}
			if tt.wantErr {
				if !errors.Is(err, models.ErrUnsupportedSite) {
					t.Errorf("期望 UnsupportedSiteError, 得到 %v", err)
				}
				return
			}
			if s.Images.Selector != tt.wantSel {
				t.Errorf("选择器 = %s, 期望 %s", s.Images.Selector, tt.wantSel)
			}
		})
	}
}

func TestRegistryResolveExact(t *testing.T) {
	r := NewRegistry(testStrategies(), MatchExact)

	if s, err := r.Resolve("https://cdn.example.com/a"); err != nil || s.Images.Selector != "img.cdn" {
		t.Errorf("完整主机名应精确匹配: %v %v", s, err)
	}
	// 精确模式下子域名回退到注册域名
	if s, err := r.Resolve("https://img.example.com/a"); err != nil || s.Images.Selector != "img.root" {
		t.Errorf("应回退到注册域名: %v %v", s, err)
	}
	if _, err := r.Resolve("https://a.b.pics.co.uk/x"); err != nil {
		t.Errorf("多级公共后缀的注册域名应匹配: %v", err)
	}
}

func TestRegistryListAndReplace(t *testing.T) {
	r := NewRegistry(testStrategies(), MatchSuffix)
	want := []string{"cdn.example.com", "example.com", "pics.co.uk"}
	if got := r.ListSupportedDomains(); !reflect.DeepEqual(got, want) {
		t.Errorf("ListSupportedDomains() = %v", got)
	}

	_, err := r.Resolve("https://unknown.org/")
	var pe *models.PipelineError
	if !errors.As(err, &pe) || len(pe.Domains) != 3 {
		t.Errorf("不支持错误应携带域名列表: %v", err)
	}

	r.Replace(testStrategies()[:1])
	if r.Len() != 1 {
		t.Errorf("替换后策略数 = %d", r.Len())
	}
}

func TestLoadRegistryFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	_ = os.WriteFile(path, []byte(`
strategies:
  example.com:
    images: {selector: img, attr: src}
  bad.com:
    images: {attr: src}
`), 0644)

	r, err := LoadRegistry(path, MatchSuffix, false)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("格式错误的记录应被跳过, 策略数 = %d", r.Len())
	}

	if _, err := LoadRegistry(filepath.Join(t.TempDir(), "none.yaml"), MatchSuffix, false); err == nil {
		t.Error("策略文件不可读应返回错误")
	}
}

func TestRegistrableDomain(t *testing.T) {
	d, err := RegistrableDomain("https://a.b.pics.co.uk/x")
	if err != nil || d != "pics.co.uk" {
		t.Errorf("RegistrableDomain = %s, %v", d, err)
	}
}
