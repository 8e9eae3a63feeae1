package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"testing"

	"github.com/RecoveryAshes/gallerypack/internal/models"
)

func require7z(t *testing.T) *Builder {
	t.Helper()
	b := NewBuilder(Config{})
	if err := b.CheckAvailable(); err != nil {
		t.Skipf("跳过: %v", err)
	}
	return b
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

// readZip 读取压缩包中所有文件,键为相对路径
func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("打开zip失败: %v", err)
	}
	files := make(map[string][]byte)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		files[filepath.ToSlash(f.Name)] = content
	}
	return files
}

func TestBuildArgs(t *testing.T) {
	got := buildArgs("zip", 1, "/out/a.zip", 0, []string{"gallery"})
	want := []string{"a", "-tzip", "-mx1", "-y", "-bd", "/out/a.zip", "--", "gallery"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("单文件参数 = %v, 期望 %v", got, want)
	}

	got = buildArgs("zip", 0, "/out/a.zip", 45*1024*1024, []string{"g1", "-g2"})
	want = []string{"a", "-tzip", "-mx0", "-y", "-bd", "-v47185920b", "/out/a.zip", "--", "g1", "-g2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("分卷参数 = %v, 期望 %v", got, want)
	}
}

func TestPlanVolumeSize(t *testing.T) {
	const mb = 1024 * 1024
	tests := []struct {
		name  string
		size  int64
		ratio float64
		max   int64
		want  int64
	}{
		{"远小于上限", 10 * mb, 0.95, 45 * mb, 0},
		{"折算后未超", 47 * mb, 0.95, 45 * mb, 0},
		{"折算后超出", 200 * mb, 0.95, 45 * mb, 45 * mb},
		{"不限制", 200 * mb, 0.95, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := planVolumeSize(tt.size, tt.ratio, tt.max); got != tt.want {
				t.Errorf("planVolumeSize = %d, 期望 %d", got, tt.want)
			}
		})
	}
}

func TestEstimateDirSize(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", "1.jpg"), make([]byte, 100))
	writeFile(t, filepath.Join(dir, "a", "2.jpg"), make([]byte, 50))
	writeFile(t, filepath.Join(dir, "b", "c", "3.jpg"), make([]byte, 25))

	size, err := EstimateDirSize(dir)
	if err != nil {
		t.Fatal(err)
	}
	if size != 175 {
		t.Errorf("EstimateDirSize = %d, 期望 175", size)
	}

	if _, err := EstimateDirSize(filepath.Join(dir, "missing")); err == nil {
		t.Error("不存在的目录应返回错误")
	}
}

func TestListOutputsOrdersVolumes(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "set.zip")
	for _, suffix := range []string{".010", ".002", ".001", ".txt"} {
		writeFile(t, out+suffix, []byte("x"))
	}

	got, err := listOutputs(out)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{out + ".001", out + ".002", out + ".010"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("listOutputs = %v, 期望 %v", got, want)
	}

	removeOutputs(out)
	if rest, _ := listOutputs(out); len(rest) != 0 {
		t.Errorf("分卷未删除: %v", rest)
	}
	if _, err := os.Stat(out + ".txt"); err != nil {
		t.Error("无关文件不应被删除")
	}
}

func TestCreateArchiveEmptySource(t *testing.T) {
	b := NewBuilder(Config{})
	_, err := b.CreateArchive(context.Background(), t.TempDir(), filepath.Join(t.TempDir(), "out.zip"))
	if !errors.Is(err, models.ErrArchive) {
		t.Errorf("期望 ArchiveError, 实际 %v", err)
	}
}

func TestCreateArchiveCommandFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("依赖 false 命令")
	}
	falseBin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("未找到 false 命令")
	}

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "g", "001_a.jpg"), []byte("img"))
	out := filepath.Join(t.TempDir(), "out.zip")
	writeFile(t, out+".001", []byte("stale"))

	b := NewBuilder(Config{Command: falseBin})
	_, err = b.CreateArchive(context.Background(), src, out)
	if !errors.Is(err, models.ErrArchive) {
		t.Fatalf("期望 ArchiveError, 实际 %v", err)
	}
	if _, err := os.Stat(out + ".001"); !os.IsNotExist(err) {
		t.Error("失败后残留输出应被删除")
	}
}

func TestCreateArchiveRoundTrip(t *testing.T) {
	b := require7z(t)

	src := t.TempDir()
	want := map[string][]byte{
		"summer/001_a.jpg": []byte("first image"),
		"summer/002_b.jpg": []byte("second image"),
		"winter/001_c.png": []byte("third image"),
	}
	for rel, data := range want {
		writeFile(t, filepath.Join(src, filepath.FromSlash(rel)), data)
	}

	out := filepath.Join(t.TempDir(), "galleries.zip")
	files, err := b.CreateArchive(context.Background(), src, out)
	if err != nil {
		t.Fatalf("CreateArchive 失败: %v", err)
	}
	if len(files) != 1 || files[0] != out {
		t.Fatalf("输出 = %v", files)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if got := readZip(t, data); !reflect.DeepEqual(got, want) {
		t.Errorf("解压内容不一致:\n得到 %v\n期望 %v", keys(got), keys(want))
	}
}

func TestCreateAndSplitIfNeededVolumes(t *testing.T) {
	b := require7z(t)

	src := t.TempDir()
	rng := rand.New(rand.NewSource(1))
	want := make(map[string][]byte)
	for _, rel := range []string{"set/001_a.jpg", "set/002_b.jpg", "set/003_c.jpg"} {
		data := make([]byte, 300*1024)
		rng.Read(data)
		want[rel] = data
		writeFile(t, filepath.Join(src, filepath.FromSlash(rel)), data)
	}

	const maxVolume = 200 * 1024
	out := filepath.Join(t.TempDir(), "set.zip")
	files, err := b.CreateAndSplitIfNeeded(context.Background(), src, out, maxVolume)
	if err != nil {
		t.Fatalf("CreateAndSplitIfNeeded 失败: %v", err)
	}
	if len(files) < 5 {
		t.Fatalf("分卷数 = %d, 期望至少 5", len(files))
	}

	var joined bytes.Buffer
	for i, f := range files {
		if !strings.HasSuffix(f, fmt.Sprintf(".%03d", i+1)) {
			t.Errorf("分卷顺序错误: %v", files)
		}
		data, err := os.ReadFile(f)
		if err != nil {
			t.Fatal(err)
		}
		if len(data) > maxVolume {
			t.Errorf("分卷 %s 大小 %d 超过上限", f, len(data))
		}
		joined.Write(data)
	}

	if got := readZip(t, joined.Bytes()); !reflect.DeepEqual(got, want) {
		t.Errorf("拼接后内容不一致: %v", keys(got))
	}
}

func TestCreateAndSplitIfNeededSmallStaysSingle(t *testing.T) {
	b := require7z(t)

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "g", "001_a.jpg"), []byte("tiny"))
	out := filepath.Join(t.TempDir(), "g.zip")

	files, err := b.CreateAndSplitIfNeeded(context.Background(), src, out, 1024*1024)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0] != out {
		t.Errorf("小目录应生成单文件: %v", files)
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
