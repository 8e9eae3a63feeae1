package main

import (
	"fmt"

	"github.com/RecoveryAshes/gallerypack/internal/models"
)

// ValidateFlags 验证命令行标志并返回解析后的模式
func ValidateFlags(targetURL, mode string, batchDelay int) (models.Mode, error) {
	if targetURL != "" {
		if err := models.ValidateURL(targetURL); err != nil {
			return "", fmt.Errorf("无效的目标URL: %w", err)
		}
	}

	parsed, err := models.ParseMode(mode)
	if err != nil {
		return "", err
	}

	if batchDelay < 0 || batchDelay > 300 {
		return "", fmt.Errorf("批量延迟必须在0-300秒之间,当前值: %d", batchDelay)
	}
	return parsed, nil
}
