package crawlers

import (
	"net/url"
	"strings"

	"github.com/RecoveryAshes/gallerypack/internal/utils"
)

// 路径中不代表图集名称的段
var genericSegments = map[string]bool{
	"index":   true,
	"default": true,
	"view":    true,
	"show":    true,
}

var pageExtensions = []string{".html", ".htm", ".shtml", ".php", ".aspx", ".asp", ".jsp"}

// ExtractGalleryName 从URL路径推导可用作目录名的图集名称
//
// 取最后一个有意义的路径段,分页段 (/page/2) 会被跳过;同一URL总是得到同一名称。
func ExtractGalleryName(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		if name := utils.SanitizeName(rawURL); name != "" {
			return name
		}
		return "gallery"
	}

	segments := strings.Split(u.EscapedPath(), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg, err := url.PathUnescape(segments[i])
		if err != nil {
			seg = segments[i]
		}
		seg = trimPageExtension(seg)
		if seg == "" || genericSegments[strings.ToLower(seg)] {
			continue
		}
		if isNumeric(seg) && i > 0 {
			prev := strings.ToLower(segments[i-1])
			if prev == "page" || prev == "p" {
				i--
				continue
			}
		}
		if name := utils.SanitizeName(seg); name != "" {
			return name
		}
	}

	if name := utils.SanitizeName(strings.TrimPrefix(u.Hostname(), "www.")); name != "" {
		return name
	}
	return "gallery"
}

func trimPageExtension(seg string) string {
	lower := strings.ToLower(seg)
	for _, ext := range pageExtensions {
		if strings.HasSuffix(lower, ext) {
			return seg[:len(seg)-len(ext)]
		}
	}
	return seg
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
