// SPDX-License-Identifier: MIT
package log

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in     string
		want   LogLevel
		wantOK bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"warning", LevelWarn, true},
		{" error ", LevelError, true},
		{"fatal", LevelFatal, true},
		{"chatty", LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	orig := GetLevel()
	defer SetLevel(orig)

	SetLevel(LevelWarn)
	Debugf("debug %d", 1)
	Infof("info %d", 2)
	Warnf("warn %d", 3)
	Errorf("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("messages below WARN were logged: %q", out)
	}
	if !strings.Contains(out, "[WARN]  warn 3") {
		t.Errorf("missing warn line in %q", out)
	}
	if !strings.Contains(out, "[ERROR] error 4") {
		t.Errorf("missing error line in %q", out)
	}
}

func TestConfigureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kws.log")
	if err := ConfigureFile(FileConfig{Path: path, MaxSizeMB: 1}); err != nil {
		t.Fatalf("ConfigureFile: %v", err)
	}

	Warnf("rotated %s", "line")
	if err := Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "rotated line") {
		t.Errorf("log file missing message, got %q", data)
	}
}

func TestConfigureFileEmptyPath(t *testing.T) {
	if err := ConfigureFile(FileConfig{}); err != nil {
		t.Errorf("empty path should be a no-op, got %v", err)
	}
}

func TestConfigureFileUnwritable(t *testing.T) {
	err := ConfigureFile(FileConfig{Path: "/nonexistent/dir/kws.log"})
	if err == nil {
		t.Error("expected error for unwritable path")
	}
}
