package crawlers

import (
	"fmt"

	"github.com/RecoveryAshes/gallerypack/internal/utils"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceGuard 启动浏览器前检查系统可用内存
//
// 每个动态提取都会启动独立的浏览器进程,并发任务多时内存是最先耗尽的资源。
type ResourceGuard struct {
	minAvailable  uint64
	virtualMemory func() (*mem.VirtualMemoryStat, error)
}

// MemoryStatus 内存状态
type MemoryStatus struct {
	Total       uint64  // 系统总内存(字节)
	Available   uint64  // 可用内存(字节)
	UsedPercent float64 // 已用百分比
}

// NewResourceGuard 创建资源检查器,minFreeMB 为 0 时不做限制
func NewResourceGuard(minFreeMB uint64) *ResourceGuard {
	return &ResourceGuard{
		minAvailable:  minFreeMB * 1024 * 1024,
		virtualMemory: mem.VirtualMemory,
	}
}

// MemoryStatus 读取当前内存状态
func (g *ResourceGuard) MemoryStatus() (MemoryStatus, error) {
	vm, err := g.virtualMemory()
	if err != nil {
		return MemoryStatus{}, err
	}
	return MemoryStatus{Total: vm.Total, Available: vm.Available, UsedPercent: vm.UsedPercent}, nil
}

// CheckBrowserLaunch 可用内存低于阈值时返回错误
//
// 读取内存失败时放行,只记录警告。
func (g *ResourceGuard) CheckBrowserLaunch() error {
	if g == nil || g.minAvailable == 0 {
		return nil
	}
	status, err := g.MemoryStatus()
	if err != nil {
		utils.Warnf("获取系统内存失败,跳过浏览器启动检查: %v", err)
		return nil
	}
	if status.Available < g.minAvailable {
		return fmt.Errorf("可用内存不足: 当前 %dMB, 至少需要 %dMB",
			status.Available/(1024*1024), g.minAvailable/(1024*1024))
	}
	utils.Debugf("浏览器启动检查通过: 可用内存 %dMB (%.1f%% 已用)",
		status.Available/(1024*1024), status.UsedPercent)
	return nil
}
