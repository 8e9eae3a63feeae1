package models

import (
	"fmt"
	"strings"
)

// SelectorRule 描述如何从页面中提取链接: CSS选择器 + 读取的属性
type SelectorRule struct {
	Selector string `mapstructure:"selector" json:"selector"`
	Attr     string `mapstructure:"attr" json:"attr"`
}

// IsZero 规则是否未配置
func (r SelectorRule) IsZero() bool {
	return strings.TrimSpace(r.Selector) == "" && strings.TrimSpace(r.Attr) == ""
}

func (r SelectorRule) validate(field string) error {
	if strings.TrimSpace(r.Selector) == "" {
		return fmt.Errorf("%s.selector 不能为空", field)
	}
	if strings.TrimSpace(r.Attr) == "" {
		return fmt.Errorf("%s.attr 不能为空", field)
	}
	return nil
}

// ImageRule 图片提取规则,FilterPatterns 中任一子串命中的URL会被排除(缩略图/预览图)
type ImageRule struct {
	SelectorRule   `mapstructure:",squash"`
	FilterPatterns []string `mapstructure:"filter_patterns" json:"filter_patterns,omitempty"`
}

// Strategy 单个站点的提取策略
//
// Strategy 加载后不可变: 注册表只按值返回副本,切片字段在加载时已复制。
type Strategy struct {
	Domain    string       `mapstructure:"-" json:"domain"`
	Galleries SelectorRule `mapstructure:"galleries" json:"galleries"`
	Images    ImageRule    `mapstructure:"images" json:"images"`
}

// Validate 校验策略,images 规则必填,galleries 规则可选(缺失时仅支持单图集模式)
func (s Strategy) Validate() error {
	if strings.TrimSpace(s.Domain) == "" {
		return fmt.Errorf("域名不能为空")
	}
	if err := s.Images.validate("images"); err != nil {
		return err
	}
	if !s.Galleries.IsZero() {
		if err := s.Galleries.validate("galleries"); err != nil {
			return err
		}
	}
	for i, p := range s.Images.FilterPatterns {
		if p == "" {
			return fmt.Errorf("images.filter_patterns 第%d项为空字符串", i+1)
		}
	}
	return nil
}

// SupportsMulti 是否配置了图集列表规则
func (s Strategy) SupportsMulti() bool {
	return !s.Galleries.IsZero()
}

// Clone 深拷贝,保证调用方拿到的切片与注册表互不影响
func (s Strategy) Clone() Strategy {
	out := s
	if s.Images.FilterPatterns != nil {
		out.Images.FilterPatterns = append([]string(nil), s.Images.FilterPatterns...)
	}
	return out
}
