package crawlers

import (
	"errors"
	"testing"

	"github.com/shirou/gopsutil/v3/mem"
)

func TestResourceGuard(t *testing.T) {
	fake := func(available uint64, err error) func() (*mem.VirtualMemoryStat, error) {
		return func() (*mem.VirtualMemoryStat, error) {
			if err != nil {
				return nil, err
			}
			return &mem.VirtualMemoryStat{Total: 8 << 30, Available: available, UsedPercent: 50}, nil
		}
	}

	tests := []struct {
		name      string
		minMB     uint64
		available uint64
		readErr   error
		wantErr   bool
	}{
		{"内存充足", 256, 1 << 30, nil, false},
		{"内存不足", 256, 100 << 20, nil, true},
		{"未设置阈值", 0, 1, nil, false},
		{"读取失败时放行", 256, 0, errors.New("no /proc"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewResourceGuard(tt.minMB)
			g.virtualMemory = fake(tt.available, tt.readErr)
			if err := g.CheckBrowserLaunch(); (err != nil) != tt.wantErr {
				t.Errorf("CheckBrowserLaunch() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	var nilGuard *ResourceGuard
	if err := nilGuard.CheckBrowserLaunch(); err != nil {
		t.Error("nil 检查器应放行")
	}
}
