package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

// Mock engine modes; see testdata/mock-engine.
const (
	ModeNormal         = "normal"
	ModeNeverReady     = "never-ready"
	ModeCrashOnStart   = "crash-on-start"
	ModeIgnoreShutdown = "ignore-shutdown"
	ModeStartupError   = "startup-error"
	ModeNoisyShutdown  = "noisy-shutdown"
)

var (
	mockBuildOnce  sync.Once
	mockBinaryPath string
	errMockBuild   error
)

// packageDir returns the directory containing this source file.
func packageDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Dir(file)
}

func buildMockEngine() {
	dir, err := os.MkdirTemp("", "mock-engine-*")
	if err != nil {
		errMockBuild = fmt.Errorf("tmpdir: %w", err)
		return
	}
	mockBinaryPath = filepath.Join(dir, "mock-engine")
	if runtime.GOOS == "windows" {
		mockBinaryPath += ".exe"
	}
	cmd := exec.Command("go", "build", "-o", mockBinaryPath, "./testdata/mock-engine")
	cmd.Dir = packageDir()
	if out, err := cmd.CombinedOutput(); err != nil {
		errMockBuild = fmt.Errorf("build mock engine: %w: %s", err, out)
		os.RemoveAll(dir)
	}
}

// MockEngineBinary builds the mock engine if needed and returns its path.
func MockEngineBinary(t testing.TB) string {
	t.Helper()
	mockBuildOnce.Do(buildMockEngine)
	if errMockBuild != nil {
		t.Fatalf("mock engine build failed: %v", errMockBuild)
	}
	return mockBinaryPath
}

// MockEngine returns an engine command template running the mock in mode.
func MockEngine(t testing.TB, mode string) []string {
	t.Helper()
	return []string{MockEngineBinary(t), "--mode", mode, "--name", "{name}", "--port", "{port}"}
}

// WriteArtifacts writes files (name → content) into dir, creating it.
func WriteArtifacts(t testing.TB, dir string, files map[string]string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}
