package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置
type Config struct {
	Strategies StrategiesConfig `mapstructure:"strategies"`
	Workspace  WorkspaceConfig  `mapstructure:"workspace"`
	Download   DownloadConfig   `mapstructure:"download"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// StrategiesConfig 站点策略文件
type StrategiesConfig struct {
	File      string `mapstructure:"file"`
	MatchMode string `mapstructure:"match_mode"` // exact | suffix
	Watch     bool   `mapstructure:"watch"`      // 文件变更时热加载
}

// WorkspaceConfig 临时目录与公开目录
type WorkspaceConfig struct {
	ScratchDir      string        `mapstructure:"scratch_dir"`
	PublicDir       string        `mapstructure:"public_dir"`
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	PublicTTL       time.Duration `mapstructure:"public_ttl"`
	MinFreeMB       uint64        `mapstructure:"min_free_mb"`
}

// DownloadConfig 批量下载
type DownloadConfig struct {
	Concurrency        int           `mapstructure:"concurrency"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	BackoffMax         time.Duration `mapstructure:"backoff_max"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
}

// BrowserConfig 无头浏览器
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	Bin               string        `mapstructure:"bin"`
	Stealth           bool          `mapstructure:"stealth"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ScrollTimeout     time.Duration `mapstructure:"scroll_timeout"`
	ScrollPause       time.Duration `mapstructure:"scroll_pause"`
	MinFreeMemoryMB   uint64        `mapstructure:"min_free_memory_mb"`
}

// ArchiveConfig 压缩打包
type ArchiveConfig struct {
	Command          string        `mapstructure:"command"`
	Format           string        `mapstructure:"format"`
	Level            int           `mapstructure:"level"`
	MaxVolumeMB      int64         `mapstructure:"max_volume_mb"`
	CompressionRatio float64       `mapstructure:"compression_ratio"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// HTTPConfig 页面请求
type HTTPConfig struct {
	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`
}

// ServerConfig HTTP服务
type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
	LinkSecret    string        `mapstructure:"link_secret"`
	LinkTTL       time.Duration `mapstructure:"link_ttl"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// LoadConfig 加载配置文件,文件不存在时使用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".gallerypack"))
		}
	}

	v.SetEnvPrefix("GALLERYPACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("strategies.file", "configs/strategies.yaml")
	v.SetDefault("strategies.match_mode", "suffix")
	v.SetDefault("strategies.watch", false)

	v.SetDefault("workspace.scratch_dir", filepath.Join(os.TempDir(), "gallerypack"))
	v.SetDefault("workspace.public_dir", "public")
	v.SetDefault("workspace.retention", time.Hour)
	v.SetDefault("workspace.cleanup_interval", 10*time.Minute)
	v.SetDefault("workspace.public_ttl", 24*time.Hour)
	v.SetDefault("workspace.min_free_mb", 512)

	v.SetDefault("download.concurrency", 5)
	v.SetDefault("download.timeout", 60*time.Second)
	v.SetDefault("download.max_attempts", 3)
	v.SetDefault("download.backoff_base", 500*time.Millisecond)
	v.SetDefault("download.backoff_max", 5*time.Second)
	v.SetDefault("download.insecure_skip_verify", false)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.navigation_timeout", 60*time.Second)
	v.SetDefault("browser.scroll_timeout", 45*time.Second)
	v.SetDefault("browser.scroll_pause", 1500*time.Millisecond)
	v.SetDefault("browser.min_free_memory_mb", 256)

	v.SetDefault("archive.command", "7z")
	v.SetDefault("archive.format", "zip")
	v.SetDefault("archive.level", 1)
	v.SetDefault("archive.max_volume_mb", 45)
	v.SetDefault("archive.compression_ratio", 0.95)
	v.SetDefault("archive.timeout", 10*time.Minute)

	v.SetDefault("http.timeout", 30*time.Second)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.public_base_url", "")
	v.SetDefault("server.link_secret", "")
	v.SetDefault("server.link_ttl", 24*time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)
}

// Validate 检查配置取值范围
func (c *Config) Validate() error {
	if c.Strategies.MatchMode != "exact" && c.Strategies.MatchMode != "suffix" {
		return fmt.Errorf("strategies.match_mode 必须是 exact 或 suffix")
	}
	if c.Download.Concurrency < 1 || c.Download.Concurrency > 50 {
		return fmt.Errorf("download.concurrency 必须在1-50之间")
	}
	if c.Download.MaxAttempts < 1 || c.Download.MaxAttempts > 10 {
		return fmt.Errorf("download.max_attempts 必须在1-10之间")
	}
	if c.Archive.MaxVolumeMB < 1 {
		return fmt.Errorf("archive.max_volume_mb 必须大于0")
	}
	if c.Archive.CompressionRatio <= 0 || c.Archive.CompressionRatio > 1.5 {
		return fmt.Errorf("archive.compression_ratio 必须在(0, 1.5]之间")
	}
	if c.Workspace.ScratchDir == "" || c.Workspace.PublicDir == "" {
		return fmt.Errorf("workspace.scratch_dir 和 workspace.public_dir 不能为空")
	}
	if filepath.Clean(c.Workspace.ScratchDir) == filepath.Clean(c.Workspace.PublicDir) {
		return fmt.Errorf("临时目录与公开目录不能相同")
	}
	return nil
}

// MaxVolumeBytes 分卷大小(字节)
func (c *Config) MaxVolumeBytes() int64 {
	return c.Archive.MaxVolumeMB * 1024 * 1024
}
