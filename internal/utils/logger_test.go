package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	return string(content)
}

func TestInitLogger(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "logs")

	config := DefaultLogConfig()
	config.LogDir = tempDir
	config.Level = "debug"
	config.NoConsole = true
	config.Compress = false

	if err := InitLogger(config); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}
	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Fatalf("日志目录未创建: %s", tempDir)
	}

	Infof("图集 %s 下载完成", "测试图集")
	Debug("调试日志")

	content := readLog(t, filepath.Join(tempDir, mainLogName))
	if !strings.Contains(content, "测试图集") {
		t.Errorf("主日志缺少中文消息: %s", content)
	}
	if !strings.Contains(content, "调试日志") {
		t.Error("debug级别下应记录调试日志")
	}
}

func TestErrorLogOnlyReceivesErrors(t *testing.T) {
	tempDir := t.TempDir()

	config := DefaultLogConfig()
	config.LogDir = tempDir
	config.NoConsole = true
	config.Compress = false

	if err := InitLogger(config); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}

	Info("普通信息")
	Warnf("警告 %d", 1)
	Errorf("压缩失败: %s", "exit status 2")
	Debug("info级别下不应出现")

	errContent := readLog(t, filepath.Join(tempDir, errorLogName))
	if strings.Contains(errContent, "普通信息") || strings.Contains(errContent, "警告") {
		t.Errorf("错误日志不应包含低级别日志: %s", errContent)
	}
	if !strings.Contains(errContent, "压缩失败") {
		t.Error("错误日志缺少error级别消息")
	}

	mainContent := readLog(t, filepath.Join(tempDir, mainLogName))
	if strings.Contains(mainContent, "info级别下不应出现") {
		t.Error("info级别下不应写入debug日志")
	}
}

func TestDefaultLogConfig(t *testing.T) {
	config := DefaultLogConfig()

	if config.Level != "info" {
		t.Errorf("默认日志级别错误: 期望 'info', 得到 '%s'", config.Level)
	}
	if config.LogDir != "logs" {
		t.Errorf("默认日志目录错误: 期望 'logs', 得到 '%s'", config.LogDir)
	}
	if config.MaxSize != 10 || config.MaxBackups != 3 || config.MaxAge != 28 {
		t.Errorf("默认轮转参数错误: %+v", config)
	}
	if !config.Compress {
		t.Error("默认应该启用压缩")
	}
}

func TestJobLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	orig := Logger
	t.Cleanup(func() { Logger = orig })
	Logger = zerolog.New(&buf)

	log := JobLogger("job-1", "https://example.com/g/1", "single")
	log.Error().Msg("测试")

	out := buf.String()
	for _, want := range []string{`"job":"job-1"`, `"url":"https://example.com/g/1"`, `"mode":"single"`} {
		if !strings.Contains(out, want) {
			t.Errorf("日志缺少字段 %s: %s", want, out)
		}
	}
}
