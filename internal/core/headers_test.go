package core

import (
	"net/http"
	"strings"
	"testing"
)

func TestHeaderManagerPrecedence(t *testing.T) {
	t.Run("默认头部存在", func(t *testing.T) {
		hm, err := NewHeaderManager(nil, nil)
		if err != nil {
			t.Fatalf("创建HeaderManager失败: %v", err)
		}
		h, _ := hm.GetHeaders()
		if h.Get("User-Agent") != DefaultUserAgent {
			t.Errorf("期望默认User-Agent, 实际='%s'", h.Get("User-Agent"))
		}
	})

	t.Run("配置覆盖默认,命令行覆盖配置", func(t *testing.T) {
		hm, err := NewHeaderManager(
			map[string]string{"user-agent": "ConfigBot/1.0", "Referer": "https://a.com/"},
			[]string{"User-Agent: CliBot/2.0"},
		)
		if err != nil {
			t.Fatalf("创建HeaderManager失败: %v", err)
		}
		h, _ := hm.GetHeaders()
		if h.Get("User-Agent") != "CliBot/2.0" {
			t.Errorf("期望命令行User-Agent, 实际='%s'", h.Get("User-Agent"))
		}
		if h.Get("Referer") != "https://a.com/" {
			t.Error("配置文件头部丢失")
		}
		if hm.UserAgent() != "CliBot/2.0" {
			t.Errorf("UserAgent() = %s", hm.UserAgent())
		}
	})

	t.Run("返回副本", func(t *testing.T) {
		hm, _ := NewHeaderManager(nil, nil)
		h, _ := hm.GetHeaders()
		h.Set("User-Agent", "mutated")
		again, _ := hm.GetHeaders()
		if again.Get("User-Agent") == "mutated" {
			t.Error("修改返回值不应影响管理器内部状态")
		}
	})
}

func TestHeaderManagerRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]string
		cli    []string
	}{
		{"非法名称", map[string]string{"Bad Header": "x"}, nil},
		{"控制字符", nil, []string{"X-Test: a\x01b"}},
		{"禁止覆盖Host", nil, []string{"Host: evil.com"}},
		{"格式错误", nil, []string{"no-colon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewHeaderManager(tt.config, tt.cli); err == nil {
				t.Error("期望返回错误")
			}
		})
	}
}

func TestRedactHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Cookie", "session=abcdefghijklmn")
	h.Set("Authorization", "short")
	h.Set("User-Agent", "Bot")

	safe := RedactHeaders(h)
	if strings.Contains(safe["Cookie"], "abcdefghijklmn") {
		t.Errorf("Cookie未脱敏: %s", safe["Cookie"])
	}
	if safe["Authorization"] != "***" {
		t.Errorf("短值应完全隐藏: %s", safe["Authorization"])
	}
	if safe["User-Agent"] != "Bot" {
		t.Error("普通头部不应脱敏")
	}
}
