package utils

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/RecoveryAshes/gallerypack/internal/models"
)

// URLEntry 批量文件中的一行
type URLEntry struct {
	URL  string
	Mode models.Mode
	Line int
}

// ReadURLsFromFile 从文件中读取任务列表
//
// 每行为 "URL" 或 "multi URL" / "single URL",空行和 # 开头的行被忽略。
func ReadURLsFromFile(filepath string, defaultMode models.Mode) ([]URLEntry, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("打开URL文件失败: %w", err)
	}
	defer file.Close()

	entries := make([]URLEntry, 0)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		mode := defaultMode
		target := line
		if fields := strings.Fields(line); len(fields) == 2 {
			m, err := models.ParseMode(fields[0])
			if err != nil {
				Warnf("跳过无效行 (行 %d): %s - %v", lineNum, line, err)
				continue
			}
			mode, target = m, fields[1]
		}

		if err := models.ValidateURL(target); err != nil {
			Warnf("跳过无效URL (行 %d): %s - %v", lineNum, target, err)
			continue
		}
		entries = append(entries, URLEntry{URL: target, Mode: mode, Line: lineNum})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取URL文件失败: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("URL文件中没有有效的URL")
	}

	Infof("从文件加载了 %d 个任务", len(entries))
	return entries, nil
}
