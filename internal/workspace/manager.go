package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/RecoveryAshes/gallerypack/internal/models"
	"github.com/RecoveryAshes/gallerypack/internal/utils"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"
)

// DefaultRetention 临时目录的保留时长
const DefaultRetention = time.Hour

const partSuffix = ".part"

// Config 工作区配置
type Config struct {
	ScratchRoot string
	PublicRoot  string
	Retention   time.Duration
	MinFreeMB   uint64 // 分配临时目录前要求的最小剩余磁盘, 0 表示不检查
}

// Manager 管理任务临时目录和对外发布目录
//
// 临时目录根和发布目录根可以位于不同的文件系统。
type Manager struct {
	scratchRoot string
	publicRoot  string
	retention   time.Duration
	minFree     uint64

	mu     sync.Mutex
	active map[string]struct{}

	diskUsage func(path string) (*disk.UsageStat, error)
	now       func() time.Time
}

// New 创建工作区管理器,两个根目录不存在时自动创建
func New(config Config) (*Manager, error) {
	if config.ScratchRoot == "" || config.PublicRoot == "" {
		return nil, errors.New("workspace.scratch_dir 和 workspace.public_dir 不能为空")
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}

	scratch, err := filepath.Abs(config.ScratchRoot)
	if err != nil {
		return nil, models.NewFilesystemError("resolve_path", config.ScratchRoot, err)
	}
	public, err := filepath.Abs(config.PublicRoot)
	if err != nil {
		return nil, models.NewFilesystemError("resolve_path", config.PublicRoot, err)
	}
	if scratch == public {
		return nil, errors.New("workspace.scratch_dir 和 workspace.public_dir 必须是不同的目录")
	}

	for _, dir := range []string{scratch, public} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, models.NewFilesystemError("mkdir", dir, err)
		}
	}

	return &Manager{
		scratchRoot: scratch,
		publicRoot:  public,
		retention:   config.Retention,
		minFree:     config.MinFreeMB * 1024 * 1024,
		active:      make(map[string]struct{}),
		diskUsage:   disk.Usage,
		now:         time.Now,
	}, nil
}

// ScratchRoot 临时目录根
func (m *Manager) ScratchRoot() string { return m.scratchRoot }

// PublicRoot 发布目录根
func (m *Manager) PublicRoot() string { return m.publicRoot }

// CreateTempDir 分配新的临时目录,名称为 label_UUIDv7
func (m *Manager) CreateTempDir(label string) (string, error) {
	if err := m.checkDiskSpace(); err != nil {
		return "", err
	}

	name := utils.SanitizeName(label)
	if name == "" {
		name = "job"
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	dir := filepath.Join(m.scratchRoot, name+"_"+id.String())
	if err := os.Mkdir(dir, 0755); err != nil {
		return "", models.NewFilesystemError("create_temp_dir", dir, err)
	}

	m.mu.Lock()
	m.active[dir] = struct{}{}
	m.mu.Unlock()

	utils.Debugf("创建临时目录: %s", dir)
	return dir, nil
}

// DeleteDir 递归删除目录,失败只记录日志
//
// 只允许删除两个根目录之下的路径。
func (m *Manager) DeleteDir(path string) {
	if path == "" {
		return
	}
	abs, ok := m.managedPath(path)
	if !ok {
		utils.Warnf("拒绝删除工作区之外的目录: %s", path)
		return
	}

	m.mu.Lock()
	delete(m.active, abs)
	m.mu.Unlock()

	if err := os.RemoveAll(abs); err != nil {
		utils.Warnf("删除目录失败 %s: %v", abs, err)
		return
	}
	utils.Debugf("已删除目录: %s", abs)
}

// DeleteFile 删除单个文件,文件不存在不算失败
func (m *Manager) DeleteFile(path string) {
	if path == "" {
		return
	}
	abs, ok := m.managedPath(path)
	if !ok {
		utils.Warnf("拒绝删除工作区之外的文件: %s", path)
		return
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		utils.Warnf("删除文件失败 %s: %v", abs, err)
	}
}

// CleanupOldTempDirs 删除超过保留时长的临时目录,返回删除数量
//
// 正在使用的目录不会被删除;目录的时间取其内部最新的修改时间。
func (m *Manager) CleanupOldTempDirs() int {
	entries, err := os.ReadDir(m.scratchRoot)
	if err != nil {
		utils.Warnf("读取临时目录根失败: %v", err)
		return 0
	}

	cutoff := m.now().Add(-m.retention)
	removed := 0
	for _, e := range entries {
		path := filepath.Join(m.scratchRoot, e.Name())
		if m.isActive(path) {
			continue
		}
		if newestModTime(path).After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			utils.Warnf("清理过期临时目录失败 %s: %v", path, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		utils.Infof("已清理 %d 个过期临时目录", removed)
	}
	return removed
}

// CleanupExpiredPublic 删除发布目录中超过 ttl 的文件, ttl <= 0 时只清理残留的 .part 文件
func (m *Manager) CleanupExpiredPublic(ttl time.Duration) int {
	entries, err := os.ReadDir(m.publicRoot)
	if err != nil {
		utils.Warnf("读取发布目录失败: %v", err)
		return 0
	}

	now := m.now()
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		age := now.Sub(info.ModTime())

		expired := ttl > 0 && age > ttl
		// 中断的复制留下的临时文件
		if strings.HasSuffix(e.Name(), partSuffix) && age > m.retention {
			expired = true
		}
		if !expired {
			continue
		}
		if err := os.Remove(filepath.Join(m.publicRoot, e.Name())); err != nil {
			utils.Warnf("删除过期文件失败 %s: %v", e.Name(), err)
			continue
		}
		removed++
	}

	if removed > 0 {
		utils.Infof("已清理 %d 个过期发布文件", removed)
	}
	return removed
}

// StartJanitor 启动后台清理,立即执行一次,之后每隔 interval 执行,ctx 结束时退出
func (m *Manager) StartJanitor(ctx context.Context, interval, publicTTL time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			m.CleanupOldTempDirs()
			m.CleanupExpiredPublic(publicTTL)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// MoveToPublicLocation 把文件移动到发布目录,返回新路径
//
// 采用 复制 -> 同步 -> 校验大小 -> 改名 -> 删除源文件 的顺序,
// 源文件只在目标确认完整后才删除。重复调用是安全的。
func (m *Manager) MoveToPublicLocation(src string) (string, error) {
	dest := filepath.Join(m.publicRoot, filepath.Base(src))

	srcInfo, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		// 上一次已完成复制并删除了源文件
		if _, derr := os.Stat(dest); derr == nil {
			return dest, nil
		}
		return "", models.NewFilesystemError("publish", src, err)
	}
	if err != nil {
		return "", models.NewFilesystemError("publish", src, err)
	}
	if !srcInfo.Mode().IsRegular() {
		return "", models.NewFilesystemError("publish", src, errors.New("不是普通文件"))
	}

	if destInfo, err := os.Stat(dest); err != nil || destInfo.Size() != srcInfo.Size() {
		if err := copyFile(src, dest, srcInfo.Size()); err != nil {
			return "", models.NewFilesystemError("publish", dest, err)
		}
	}

	if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
		utils.Warnf("发布后删除源文件失败 %s: %v", src, err)
	}
	utils.Debugf("已发布: %s", dest)
	return dest, nil
}

// copyFile 复制到 dest.part 并校验大小,完成后改名为 dest
func copyFile(src, dest string, wantSize int64) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dest + partSuffix
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	_, err = io.Copy(out, in)
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}

	info, err := os.Stat(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if info.Size() != wantSize {
		_ = os.Remove(tmp)
		return fmt.Errorf("复制后大小不一致: %d != %d", info.Size(), wantSize)
	}
	return os.Rename(tmp, dest)
}

func (m *Manager) checkDiskSpace() error {
	if m.minFree == 0 || m.diskUsage == nil {
		return nil
	}
	usage, err := m.diskUsage(m.scratchRoot)
	if err != nil {
		utils.Debugf("读取磁盘空间失败: %v", err)
		return nil
	}
	if usage.Free < m.minFree {
		return models.NewFilesystemError("create_temp_dir", m.scratchRoot,
			fmt.Errorf("剩余磁盘空间不足: %d MB < %d MB", usage.Free/1024/1024, m.minFree/1024/1024))
	}
	return nil
}

func (m *Manager) isActive(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[path]
	return ok
}

// managedPath 返回绝对路径,并判断它是否位于某个根目录之下(不含根本身)
func (m *Manager) managedPath(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	return abs, within(m.scratchRoot, abs) || within(m.publicRoot, abs)
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// newestModTime 目录树中最新的修改时间
func newestModTime(root string) time.Time {
	var newest time.Time
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if info, err := d.Info(); err == nil && info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest
}
