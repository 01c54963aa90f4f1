package vcs

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestParseLines(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected []string
	}{
		{
			name:     "empty input",
			input:    []byte(""),
			expected: nil,
		},
		{
			name:     "single line",
			input:    []byte("line1"),
			expected: []string{"line1"},
		},
		{
			name:     "multiple lines",
			input:    []byte("line1\nline2\nline3"),
			expected: []string{"line1", "line2", "line3"},
		},
		{
			name:     "lines with whitespace",
			input:    []byte("  line1  \n  line2  \n  line3  "),
			expected: []string{"line1", "line2", "line3"},
		},
		{
			name:     "empty lines filtered",
			input:    []byte("line1\n\nline2\n\n\nline3"),
			expected: []string{"line1", "line2", "line3"},
		},
		{
			name:     "trailing newline",
			input:    []byte("line1\nline2\n"),
			expected: []string{"line1", "line2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseLines(tt.input)

			if len(result) != len(tt.expected) {
				t.Errorf("Expected %d lines, got %d", len(tt.expected), len(result))
				return
			}

			for i, line := range result {
				if line != tt.expected[i] {
					t.Errorf("Line %d: expected '%s', got '%s'", i, tt.expected[i], line)
				}
			}
		})
	}
}

func TestTrimOutput(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{name: "empty", input: []byte(""), expected: ""},
		{name: "no whitespace", input: []byte("content"), expected: "content"},
		{name: "both", input: []byte("  content  "), expected: "content"},
		{name: "newlines", input: []byte("\n\ncontent\n\n"), expected: "content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TrimOutput(tt.input)
			if result != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestRunTimeout(t *testing.T) {
	_, err := Run(context.Background(), ExecOptions{Dir: "/tmp", Timeout: 100 * time.Millisecond}, "sleep", "2")
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestRunEnvAndStdin(t *testing.T) {
	out, err := Run(context.Background(), ExecOptions{
		Dir:   "/tmp",
		Env:   []string{"O324_TEST_VALUE=hello"},
		Stdin: strings.NewReader("world"),
	}, "sh", "-c", `printf '%s ' "$O324_TEST_VALUE"; cat`)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if string(out) != "hello world" {
		t.Errorf("Run() = %q, want %q", out, "hello world")
	}
}

func TestRunKeepsStdoutOnFailure(t *testing.T) {
	out, err := Run(context.Background(), ExecOptions{Dir: "/tmp"},
		"sh", "-c", "echo partial; echo oops >&2; exit 3")
	if err == nil {
		t.Fatal("Expected error for non-zero exit")
	}

	if strings.TrimSpace(string(out)) != "partial" {
		t.Errorf("stdout = %q, want %q", out, "partial")
	}
	if !strings.Contains(err.Error(), "oops") {
		t.Errorf("error should include stderr, got %v", err)
	}
	if code := GetExitCode(err); code != 3 {
		t.Errorf("GetExitCode() = %d, want 3", code)
	}
}

func TestRunMissingBinary(t *testing.T) {
	_, err := Run(context.Background(), ExecOptions{}, "o324-definitely-not-a-binary")
	if !errors.Is(err, ErrVCSNotAvailable) {
		t.Errorf("Expected ErrVCSNotAvailable, got %v", err)
	}
}

func TestGetExitCode(t *testing.T) {
	if code := GetExitCode(nil); code != 0 {
		t.Errorf("Expected exit code 0 for nil error, got %d", code)
	}

	err := exec.Command("sh", "-c", "exit 42").Run()
	if code := GetExitCode(err); code != 42 {
		t.Errorf("Expected exit code 42, got %d", code)
	}
}

func TestErrorClassifiers(t *testing.T) {
	if !IsRetryable(ErrPushRejected) {
		t.Error("push rejection should be retryable")
	}
	if IsRetryable(ErrNoRemote) {
		t.Error("missing remote should not be retryable")
	}
	if !IsFatal(ErrVCSNotAvailable) {
		t.Error("missing binary should be fatal")
	}
	if IsFatal(nil) {
		t.Error("nil should not be fatal")
	}
}
