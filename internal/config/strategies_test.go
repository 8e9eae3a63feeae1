package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/RecoveryAshes/gallerypack/internal/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSkipsMalformedEntries(t *testing.T) {
	path := writeFile(t, "strategies.yaml", `
strategies:
  Example.COM:
    galleries:
      selector: "a.gallery"
      attr: href
    images:
      selector: "div.pics img"
      attr: src
      filter_patterns: ["_thumb", "/small/"]
  www.pics.net:
    images:
      selector: "img.full"
      attr: data-src
  broken.org:
    images:
      selector: "img"
  typo.io:
    images:
      selecter: "img"
      attr: src
  notamap.com: "img"
`)

	strategies, err := NewStrategyLoader(path).Load()
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if len(strategies) != 2 {
		t.Fatalf("期望2条有效策略, 得到 %d: %+v", len(strategies), strategies)
	}

	first := strategies[0]
	if first.Domain != "example.com" {
		t.Errorf("域名应被规范化为小写: %s", first.Domain)
	}
	if !first.SupportsMulti() {
		t.Error("example.com 应支持多图集模式")
	}
	if len(first.Images.FilterPatterns) != 2 || first.Images.FilterPatterns[1] != "/small/" {
		t.Errorf("过滤规则解析错误: %v", first.Images.FilterPatterns)
	}

	second := strategies[1]
	if second.Domain != "pics.net" {
		t.Errorf("www. 前缀应被去掉: %s", second.Domain)
	}
	if second.SupportsMulti() {
		t.Error("pics.net 未配置图集规则")
	}
	if second.Images.Attr != "data-src" {
		t.Errorf("属性 = %s", second.Images.Attr)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "strategies.json", `{
  "strategies": {
    "gallery.example": {
      "images": {"selector": "img", "attr": "src", "filter_patterns": ["thumb"]}
    }
  }
}`)
	strategies, err := NewStrategyLoader(path).Load()
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if len(strategies) != 1 || strategies[0].Domain != "gallery.example" {
		t.Errorf("JSON策略解析错误: %+v", strategies)
	}
}

func TestLoadUnreadableIsFatal(t *testing.T) {
	_, err := NewStrategyLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	var cfgErr *models.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("期望 ConfigError, 得到 %v", err)
	}

	bad := writeFile(t, "bad.yaml", "strategies: [unclosed\n")
	if _, err := NewStrategyLoader(bad).Load(); err == nil {
		t.Error("无法解析的文件应返回错误")
	}

	noRoot := writeFile(t, "noroot.yaml", "sites: {}\n")
	if _, err := NewStrategyLoader(noRoot).Load(); err == nil {
		t.Error("缺少 strategies 节点应返回错误")
	}
}

func TestEnsureConfigExistsWritesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "strategies.yaml")
	loader := NewStrategyLoader(path)

	created, err := loader.EnsureConfigExists()
	if err != nil || !created {
		t.Fatalf("生成模板失败: created=%v err=%v", created, err)
	}
	created, err = loader.EnsureConfigExists()
	if err != nil || created {
		t.Errorf("已存在时不应覆盖: created=%v err=%v", created, err)
	}

	strategies, err := loader.Load()
	if err != nil {
		t.Fatalf("模板应能被加载: %v", err)
	}
	if len(strategies) != 1 || strategies[0].Domain != "example.com" {
		t.Errorf("模板策略 = %+v", strategies)
	}
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"Example.com", "example.com", false},
		{"www.example.com.", "example.com", false},
		{" img.example.com ", "img.example.com", false},
		{"https://example.com", "", true},
		{"example.com/path", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeDomain(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("NormalizeDomain(%q) = %q, %v", tt.in, got, err)
		}
	}
}
