// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 命令行与 HTTP 层测试共用的上下文、文件与通道辅助
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	path := testutil.WriteFile(t, "workflow.yaml", fixtures.SequentialYAML)
// =============================================================================
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// defaultTimeout 覆盖单个命令的完整运行（校验、watch、respond）
const defaultTimeout = 30 * time.Second

// TestContext 返回随测试结束而取消的上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	t.Cleanup(cancel)
	return ctx
}

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}

// WriteFile 把模板或配置写入测试临时目录，返回文件路径
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
