package crawlers

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/gallerypack/internal/models"
)

// 不可下载的链接协议
var skippedSchemes = []string{"javascript:", "data:", "about:", "mailto:", "blob:"}

// linkCollector 读取属性 -> 解析为绝对地址 -> 过滤 -> 按首次出现顺序去重
//
// 静态和动态提取器共用这一套逻辑,保证两条路径的结果一致。
type linkCollector struct {
	base    *url.URL
	filters []string
	seen    map[string]struct{}
	links   []string
}

func newLinkCollector(base *url.URL, filters []string) *linkCollector {
	return &linkCollector{
		base:    base,
		filters: filters,
		seen:    make(map[string]struct{}),
		links:   make([]string, 0),
	}
}

// add 加入一个原始属性值,返回是否被接受
func (c *linkCollector) add(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return false
	}
	lower := strings.ToLower(raw)
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return false
	}
	abs := c.base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return false
	}
	abs.Fragment = ""
	link := abs.String()

	for _, pattern := range c.filters {
		if strings.Contains(link, pattern) {
			return false
		}
	}
	if _, dup := c.seen[link]; dup {
		return false
	}
	c.seen[link] = struct{}{}
	c.links = append(c.links, link)
	return true
}

// addSelection 读取每个节点的属性
func (c *linkCollector) addSelection(sel *goquery.Selection, attr string) {
	sel.Each(func(_ int, s *goquery.Selection) {
		value, ok := s.Attr(attr)
		if !ok {
			return
		}
		if strings.EqualFold(attr, "srcset") {
			value = largestSrcsetCandidate(value)
		}
		c.add(value)
	})
}

// extractLinks 在 root 下按规则提取链接
//
// 页面带 <base href> 时以其为解析基准,否则使用页面地址。
func extractLinks(root *goquery.Selection, pageURL *url.URL, rule models.SelectorRule, filters []string) []string {
	base := pageURL
	if href, ok := root.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = pageURL.ResolveReference(ref)
		}
	}

	c := newLinkCollector(base, filters)
	c.addSelection(root.Find(rule.Selector), rule.Attr)
	return c.links
}

// ExtractLinksFromHTML 从HTML文本中按规则提取链接
func ExtractLinksFromHTML(html string, pageURL *url.URL, rule models.SelectorRule, filters []string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return extractLinks(doc.Selection, pageURL, rule, filters), nil
}

// largestSrcsetCandidate srcset 中最后一项通常是最大尺寸
func largestSrcsetCandidate(srcset string) string {
	candidates := strings.Split(srcset, ",")
	for i := len(candidates) - 1; i >= 0; i-- {
		fields := strings.Fields(candidates[i])
		if len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}
