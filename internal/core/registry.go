package core

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/RecoveryAshes/gallerypack/internal/config"
	"github.com/RecoveryAshes/gallerypack/internal/models"
	"github.com/RecoveryAshes/gallerypack/internal/utils"
	"golang.org/x/net/publicsuffix"
)

// MatchMode 域名匹配方式
type MatchMode string

const (
	MatchExact  MatchMode = "exact"
	MatchSuffix MatchMode = "suffix"
)

// Registry 站点策略注册表,按域名索引
//
// 热加载时整体替换索引,单个 Strategy 始终不可变。
type Registry struct {
	mu     sync.RWMutex
	mode   MatchMode
	byHost map[string]models.Strategy
}

// NewRegistry 用已加载的策略创建注册表
func NewRegistry(strategies []models.Strategy, mode MatchMode) *Registry {
	if mode != MatchExact {
		mode = MatchSuffix
	}
	r := &Registry{mode: mode}
	r.Replace(strategies)
	return r
}

// LoadRegistry 从策略文件加载注册表;watch 为 true 时文件变更会热加载
func LoadRegistry(path string, mode MatchMode, watch bool) (*Registry, error) {
	loader := config.NewStrategyLoader(path)
	strategies, err := loader.Load()
	if err != nil {
		return nil, err
	}
	r := NewRegistry(strategies, mode)
	utils.Infof("📚 已加载 %d 个站点策略 (%s, 匹配方式: %s)", len(strategies), loader.Path(), r.mode)

	if watch {
		if err := loader.Watch(r.Replace); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Replace 整体替换策略索引
func (r *Registry) Replace(strategies []models.Strategy) {
	index := make(map[string]models.Strategy, len(strategies))
	for _, s := range strategies {
		index[strings.ToLower(s.Domain)] = s.Clone()
	}
	r.mu.Lock()
	r.byHost = index
	r.mu.Unlock()
}

// Resolve 根据URL的主机名查找策略
func (r *Registry) Resolve(rawURL string) (models.Strategy, error) {
	host, err := hostOf(rawURL)
	if err != nil {
		return models.Strategy{}, &models.PipelineError{
			Kind: models.KindUnsupportedSite, Op: "resolve_strategy", URL: rawURL, Err: err,
			Domains: r.ListSupportedDomains(),
		}
	}

	r.mu.RLock()
	s, ok := r.lookup(host)
	r.mu.RUnlock()
	if !ok {
		return models.Strategy{}, models.NewUnsupportedSiteError(rawURL, r.ListSupportedDomains())
	}
	return s.Clone(), nil
}

func (r *Registry) lookup(host string) (models.Strategy, bool) {
	if r.mode == MatchExact {
		if s, ok := r.byHost[host]; ok {
			return s, true
		}
		if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
			s, ok := r.byHost[d]
			return s, ok
		}
		return models.Strategy{}, false
	}

	// 后缀匹配: 从完整主机名逐级去掉最左侧标签,第一个命中即最长匹配
	for candidate := host; candidate != ""; {
		if s, ok := r.byHost[candidate]; ok {
			return s, true
		}
		i := strings.IndexByte(candidate, '.')
		if i < 0 {
			break
		}
		candidate = candidate[i+1:]
	}
	return models.Strategy{}, false
}

// ListSupportedDomains 已支持的域名,按字母排序
func (r *Registry) ListSupportedDomains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	domains := make([]string, 0, len(r.byHost))
	for d := range r.byHost {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// Len 策略数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHost)
}

// RegistrableDomain 返回主机名的注册域名 (eTLD+1),无法判定时返回主机名本身
func RegistrableDomain(rawURL string) (string, error) {
	host, err := hostOf(rawURL)
	if err != nil {
		return "", err
	}
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d, nil
	}
	return host, nil
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("无效的URL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("URL缺少主机名")
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if ip := net.ParseIP(host); ip == nil {
		host = strings.TrimPrefix(host, "www.")
	}
	return host, nil
}
