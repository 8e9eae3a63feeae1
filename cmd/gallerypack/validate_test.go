package main

import (
	"testing"

	"github.com/RecoveryAshes/gallerypack/internal/models"
)

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		mode     string
		delay    int
		wantMode models.Mode
		wantErr  bool
	}{
		{"单图集", "https://example.com/g/1", "single", 1, models.ModeSingle, false},
		{"多图集", "https://example.com/list", "multi", 0, models.ModeMulti, false},
		{"仅批量文件", "", "single", 5, models.ModeSingle, false},
		{"无效URL", "ftp://example.com", "single", 1, "", true},
		{"无效模式", "https://example.com", "all", 1, "", true},
		{"延迟为负", "https://example.com", "single", -1, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateFlags(tt.url, tt.mode, tt.delay)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.wantMode {
				t.Errorf("mode = %q, 期望 %q", got, tt.wantMode)
			}
		})
	}
}
