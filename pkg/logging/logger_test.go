package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zapcore"
)

// setupTestDir points the package at a temporary log directory and resets global state
func setupTestDir(t *testing.T) {
	t.Helper()

	origBaseDir := baseDir
	origLogDir := logDir
	origInitErr := initErr
	origSessionID := sessionID
	origLevel := level.Level()

	baseDir = t.TempDir()
	logDir = ""
	initErr = nil
	initOnce = sync.Once{}
	sessionID = ""
	sessionIDOnce = sync.Once{}

	t.Cleanup(func() {
		baseDir = origBaseDir
		logDir = origLogDir
		initErr = origInitErr
		initOnce = sync.Once{}
		sessionID = origSessionID
		sessionIDOnce = sync.Once{}
		level.SetLevel(origLevel)
	})
}

func readLog(t *testing.T, l *Logger) string {
	t.Helper()
	if err := l.Close(); err != nil {
		t.Fatalf("Failed to close logger: %v", err)
	}
	content, err := os.ReadFile(l.LogPath())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(content)
}

func TestNewLogger(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("test-component")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	if logger.component != "test-component" {
		t.Errorf("Expected component 'test-component', got %q", logger.component)
	}
	if logger.sessionID == "" {
		t.Error("Expected non-empty session ID")
	}
	if !strings.HasPrefix(logger.logPath, baseDir) {
		t.Errorf("Expected log path under %s, got %s", baseDir, logger.logPath)
	}
	if _, err := os.Stat(logger.logPath); os.IsNotExist(err) {
		t.Errorf("Log file does not exist at %s", logger.logPath)
	}
}

func TestLoggerFormatting(t *testing.T) {
	setupTestDir(t)
	level.SetLevel(zapcore.DebugLevel)

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.Printf("Test message %d", 123)
	logger.Debugf("Debug message")
	logger.Infof("Info message")
	logger.Warnf("Warning message")
	logger.Errorf("Error message")

	logContent := readLog(t, logger)

	expectedPatterns := []string{
		"[INFO] [test] Test message 123",
		"[DEBUG] [test] Debug message",
		"[INFO] [test] Info message",
		"[WARN] [test] Warning message",
		"[ERROR] [test] Error message",
	}
	for _, pattern := range expectedPatterns {
		if !strings.Contains(logContent, pattern) {
			t.Errorf("Log content missing expected pattern: %q\nContent:\n%s", pattern, logContent)
		}
	}
}

func TestSetLevelFiltersDebug(t *testing.T) {
	setupTestDir(t)

	if err := SetLevel("warn"); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	logger, err := NewLogger("filtered")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.Infof("should not appear")
	logger.Warnf("should appear")

	logContent := readLog(t, logger)
	if strings.Contains(logContent, "should not appear") {
		t.Errorf("Info entry written despite warn level:\n%s", logContent)
	}
	if !strings.Contains(logContent, "should appear") {
		t.Errorf("Warn entry missing:\n%s", logContent)
	}

	if err := SetLevel("verbose"); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestMultipleComponents(t *testing.T) {
	setupTestDir(t)

	logger1, err := NewLogger("component1")
	if err != nil {
		t.Fatalf("Failed to create logger1: %v", err)
	}
	logger2, err := NewLogger("component2")
	if err != nil {
		t.Fatalf("Failed to create logger2: %v", err)
	}
	defer logger2.Close()

	if logger1.sessionID != logger2.sessionID {
		t.Errorf("Expected same session ID, got %q and %q", logger1.sessionID, logger2.sessionID)
	}
	if logger1.logPath != logger2.logPath {
		t.Errorf("Expected same log path, got %q and %q", logger1.logPath, logger2.logPath)
	}

	logger1.Printf("Message from component1")
	logger2.Printf("Message from component2")
	_ = logger2.Close()

	logContent := readLog(t, logger1)
	if !strings.Contains(logContent, "[component1]") {
		t.Error("Log missing component1 entries")
	}
	if !strings.Contains(logContent, "[component2]") {
		t.Error("Log missing component2 entries")
	}
}

func TestWithAddsFields(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("fields")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	logger.With("user", "user_42").Infof("validated")

	logContent := readLog(t, logger)
	if !strings.Contains(logContent, `"user": "user_42"`) {
		t.Errorf("Expected structured field in log, got:\n%s", logContent)
	}
}

func TestGetSessionID(t *testing.T) {
	setupTestDir(t)

	id1 := GetSessionID()
	id2 := GetSessionID()
	if id1 != id2 {
		t.Errorf("Expected consistent session ID, got %q and %q", id1, id2)
	}
	if id1 == "" {
		t.Error("Expected non-empty session ID")
	}
}

func TestGetLogDirectory(t *testing.T) {
	setupTestDir(t)

	dir, err := GetLogDirectory()
	if err != nil {
		t.Fatalf("Failed to get log directory: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("Log directory does not exist or is not a directory: %s", dir)
	}
}

func TestLoggerClose(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestLogPathFormat(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	// <session-id>-rednote.log
	fileName := filepath.Base(logger.logPath)
	if !strings.HasSuffix(fileName, "-rednote.log") {
		t.Errorf("Expected log file to end with '-rednote.log', got %q", fileName)
	}
	sessionPart := strings.TrimSuffix(fileName, "-rednote.log")
	if !strings.Contains(sessionPart, "-") {
		t.Errorf("Expected session ID part to contain dashes (UUID format), got %q", sessionPart)
	}
}

func TestNopLogger(t *testing.T) {
	logger := Nop()
	logger.Infof("discarded %d", 1)
	if logger.LogPath() != "" {
		t.Errorf("Expected empty log path for nop logger, got %q", logger.LogPath())
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
