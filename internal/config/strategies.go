package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/RecoveryAshes/gallerypack/internal/models"
	"github.com/RecoveryAshes/gallerypack/internal/utils"
	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// DefaultStrategiesFile 默认策略文件路径
	DefaultStrategiesFile = "configs/strategies.yaml"

	// MaxStrategiesFileSize 策略文件最大大小 (1MB)
	MaxStrategiesFileSize = 1 * 1024 * 1024

	// 域名中含有 ".",viper 默认的键分隔符不可用
	keyDelimiter = "::"
)

//go:embed strategies_template.yaml
var defaultStrategiesTemplate string

// StrategyLoader 站点策略文件加载器
type StrategyLoader struct {
	path string
	v    *viper.Viper
}

// NewStrategyLoader 创建加载器
func NewStrategyLoader(path string) *StrategyLoader {
	if path == "" {
		path = DefaultStrategiesFile
	}
	return &StrategyLoader{path: path}
}

// Path 策略文件路径
func (l *StrategyLoader) Path() string {
	return l.path
}

// EnsureConfigExists 策略文件不存在时写入模板
func (l *StrategyLoader) EnsureConfigExists() (created bool, err error) {
	if _, err := os.Stat(l.path); !os.IsNotExist(err) {
		return false, nil
	}
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("无法创建配置目录 [%s]: %w", dir, err)
	}
	if err := os.WriteFile(l.path, []byte(defaultStrategiesTemplate), 0644); err != nil {
		return false, fmt.Errorf("无法生成策略文件 [%s]: %w", l.path, err)
	}
	return true, nil
}

// Load 读取全部策略
//
// 文件不可读或无法解析时返回错误;单条记录格式错误只记录警告并跳过。
func (l *StrategyLoader) Load() ([]models.Strategy, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return nil, &models.ConfigError{FilePath: l.path, Cause: err}
	}
	if info.Size() > MaxStrategiesFileSize {
		return nil, &models.ConfigError{
			FilePath: l.path,
			Cause:    fmt.Errorf("策略文件过大: %d 字节 (最大 %d 字节)", info.Size(), MaxStrategiesFileSize),
		}
	}

	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetConfigFile(l.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, &models.ConfigError{FilePath: l.path, Cause: err}
	}
	l.v = v

	return decodeStrategies(v.Get("strategies"))
}

// Watch 监听策略文件变更,每次成功解析后回调完整的新策略集
//
// 必须先调用 Load。解析失败时保留旧策略,只记录错误。
func (l *StrategyLoader) Watch(onChange func([]models.Strategy)) error {
	if l.v == nil {
		return fmt.Errorf("策略文件尚未加载")
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		strategies, err := decodeStrategies(l.v.Get("strategies"))
		if err != nil {
			utils.Errorf("策略文件热加载失败 [%s]: %v", e.Name, err)
			return
		}
		utils.Infof("🔄 策略文件已重新加载: %d 个站点", len(strategies))
		onChange(strategies)
	})
	l.v.WatchConfig()
	return nil
}

// decodeStrategies 把 domain -> 规则 的映射解码为策略列表,按域名排序
func decodeStrategies(raw interface{}) ([]models.Strategy, error) {
	if raw == nil {
		return nil, fmt.Errorf("策略文件缺少 strategies 节点")
	}
	entries, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("strategies 节点必须是 域名 -> 规则 的映射")
	}

	strategies := make([]models.Strategy, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for key, entry := range entries {
		s, err := decodeStrategy(key, entry)
		if err != nil {
			utils.Warnf("⚠️  跳过格式错误的站点策略 [%s]: %v", key, err)
			continue
		}
		if seen[s.Domain] {
			utils.Warnf("⚠️  站点策略重复,忽略 [%s]", key)
			continue
		}
		seen[s.Domain] = true
		strategies = append(strategies, s)
	}

	sort.Slice(strategies, func(i, j int) bool {
		return strategies[i].Domain < strategies[j].Domain
	})
	return strategies, nil
}

func decodeStrategy(key string, entry interface{}) (models.Strategy, error) {
	var s models.Strategy
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &s,
		ErrorUnused: true,
	})
	if err != nil {
		return s, err
	}
	if err := decoder.Decode(entry); err != nil {
		return s, err
	}

	domain, err := NormalizeDomain(key)
	if err != nil {
		return s, err
	}
	s.Domain = domain
	s.Galleries.Selector = strings.TrimSpace(s.Galleries.Selector)
	s.Images.Selector = strings.TrimSpace(s.Images.Selector)

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s.Clone(), nil
}

// NormalizeDomain 规范化策略键: 小写、去掉 www. 前缀和末尾的点
func NormalizeDomain(key string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(key))
	d = strings.TrimSuffix(d, ".")
	d = strings.TrimPrefix(d, "www.")
	if d == "" {
		return "", fmt.Errorf("域名为空")
	}
	if strings.ContainsAny(d, "/:?# ") {
		return "", fmt.Errorf("域名格式无效: %q (只填主机名,不带协议和路径)", key)
	}
	return d, nil
}
