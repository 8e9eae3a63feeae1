package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/RecoveryAshes/gallerypack/internal/models"
	"github.com/RecoveryAshes/gallerypack/internal/utils"
)

// 压缩工具相关常量
const (
	DefaultCommand          = "7z"
	DefaultFormat           = "zip"
	DefaultLevel            = 1
	DefaultCompressionRatio = 0.95

	// 输出截断长度,避免把整段7z输出塞进错误信息
	maxOutputInError = 2048
)

// Config 打包配置
type Config struct {
	Command          string
	Format           string
	Level            int
	CompressionRatio float64 // 预估压缩后大小 = 原始大小 * 比例
	Timeout          time.Duration
}

// Builder 调用7z子进程生成压缩包,需要时按大小分卷
type Builder struct {
	config Config
}

// NewBuilder 创建打包器
func NewBuilder(config Config) *Builder {
	if config.Command == "" {
		config.Command = DefaultCommand
	}
	if config.Format == "" {
		config.Format = DefaultFormat
	}
	if config.Level < 0 || config.Level > 9 {
		config.Level = DefaultLevel
	}
	if config.CompressionRatio <= 0 || config.CompressionRatio > 1 {
		config.CompressionRatio = DefaultCompressionRatio
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Minute
	}
	return &Builder{config: config}
}

// CheckAvailable 检查压缩工具是否可执行
func (b *Builder) CheckAvailable() error {
	if _, err := exec.LookPath(b.config.Command); err != nil {
		return fmt.Errorf("未找到压缩工具 %s: %w", b.config.Command, err)
	}
	return nil
}

// CreateArchive 把 sourceDir 下的内容(保留子目录结构)压缩为单个文件
func (b *Builder) CreateArchive(ctx context.Context, sourceDir, outputPath string) ([]string, error) {
	return b.build(ctx, sourceDir, outputPath, 0)
}

// CreateAndSplitIfNeeded 预估压缩后大小,超过 maxVolumeSize 时生成分卷
//
// 分卷命名为 outputPath.001、outputPath.002 …,按序拼接即得到完整压缩包。
// maxVolumeSize <= 0 表示不分卷。
func (b *Builder) CreateAndSplitIfNeeded(ctx context.Context, sourceDir, outputPath string, maxVolumeSize int64) ([]string, error) {
	size, err := EstimateDirSize(sourceDir)
	if err != nil {
		return nil, models.NewArchiveError("estimate_size", err)
	}

	volumeSize := planVolumeSize(size, b.config.CompressionRatio, maxVolumeSize)
	if volumeSize > 0 {
		utils.Infof("预估压缩后 %s, 超过上限 %s, 使用分卷", formatBytes(int64(float64(size)*b.config.CompressionRatio)), formatBytes(maxVolumeSize))
	}
	return b.build(ctx, sourceDir, outputPath, volumeSize)
}

func (b *Builder) build(ctx context.Context, sourceDir, outputPath string, volumeSize int64) ([]string, error) {
	sourceDir, err := filepath.Abs(sourceDir)
	if err != nil {
		return nil, models.NewArchiveError("resolve_path", err)
	}
	outputPath, err = filepath.Abs(outputPath)
	if err != nil {
		return nil, models.NewArchiveError("resolve_path", err)
	}

	entries, err := topLevelEntries(sourceDir)
	if err != nil {
		return nil, models.NewArchiveError("read_source", err)
	}
	if len(entries) == 0 {
		return nil, models.NewArchiveError("read_source", fmt.Errorf("源目录为空: %s", sourceDir))
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return nil, models.NewArchiveError("mkdir", err)
	}
	// 旧的同名输出会被7z当作更新目标
	removeOutputs(outputPath)

	ctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	args := buildArgs(b.config.Format, b.config.Level, outputPath, volumeSize, entries)
	cmd := exec.CommandContext(ctx, b.config.Command, args...)
	cmd.Dir = sourceDir

	start := time.Now()
	output, err := cmd.CombinedOutput()
	if err != nil && !isWarningExit(err) {
		removeOutputs(outputPath)
		return nil, models.NewArchiveError("compress", fmt.Errorf("%s执行失败: %w, output: %s", b.config.Command, err, truncate(output)))
	}
	if err != nil {
		utils.Warnf("%s 返回警告: %s", b.config.Command, truncate(output))
	}

	files, err := listOutputs(outputPath)
	if err != nil {
		removeOutputs(outputPath)
		return nil, models.NewArchiveError("list_output", err)
	}
	if len(files) == 0 {
		return nil, models.NewArchiveError("list_output", fmt.Errorf("压缩完成但没有生成文件: %s", outputPath))
	}

	utils.Logger.Info().
		Str("output", outputPath).
		Int("files", len(files)).
		Dur("elapsed", time.Since(start)).
		Msg("压缩完成")
	return files, nil
}

// buildArgs 组装7z参数,"--" 之后全部按文件名处理
func buildArgs(format string, level int, outputPath string, volumeSize int64, entries []string) []string {
	args := []string{"a", "-t" + format, "-mx" + strconv.Itoa(level), "-y", "-bd"}
	if volumeSize > 0 {
		args = append(args, "-v"+strconv.FormatInt(volumeSize, 10)+"b")
	}
	args = append(args, outputPath, "--")
	return append(args, entries...)
}

// planVolumeSize 返回分卷大小,0 表示单文件
func planVolumeSize(dirSize int64, ratio float64, maxVolumeSize int64) int64 {
	if maxVolumeSize <= 0 {
		return 0
	}
	if int64(float64(dirSize)*ratio) > maxVolumeSize {
		return maxVolumeSize
	}
	return 0
}

// EstimateDirSize 统计目录下所有普通文件的大小之和
func EstimateDirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func topLevelEntries(dir string) ([]string, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(dirEntries))
	for _, e := range dirEntries {
		names = append(names, e.Name())
	}
	return names, nil
}

// listOutputs 单文件存在时返回它,否则返回按序号排列的分卷
func listOutputs(outputPath string) ([]string, error) {
	if info, err := os.Stat(outputPath); err == nil && info.Mode().IsRegular() {
		return []string{outputPath}, nil
	}

	matches, err := filepath.Glob(globEscape(outputPath) + ".[0-9][0-9][0-9]*")
	if err != nil {
		return nil, err
	}
	volumes := matches[:0]
	for _, m := range matches {
		if _, err := strconv.Atoi(strings.TrimPrefix(filepath.Ext(m), ".")); err == nil {
			volumes = append(volumes, m)
		}
	}
	sort.Slice(volumes, func(i, j int) bool {
		return volumeIndex(volumes[i]) < volumeIndex(volumes[j])
	})
	return volumes, nil
}

func volumeIndex(path string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(filepath.Ext(path), "."))
	return n
}

// removeOutputs 删除输出文件及其分卷
func removeOutputs(outputPath string) {
	if err := os.Remove(outputPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		utils.Debugf("删除旧输出失败 %s: %v", outputPath, err)
	}
	matches, _ := filepath.Glob(globEscape(outputPath) + ".[0-9][0-9][0-9]*")
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

// isWarningExit 7z 退出码1表示警告(如个别文件无法读取),压缩包仍然生成
func isWarningExit(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 1
}

func globEscape(path string) string {
	replacer := strings.NewReplacer("*", "\\*", "?", "\\?", "[", "\\[", "]", "\\]")
	return replacer.Replace(path)
}

func truncate(output []byte) string {
	s := strings.TrimSpace(string(output))
	if len(s) > maxOutputInError {
		return s[:maxOutputInError] + "..."
	}
	return s
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
