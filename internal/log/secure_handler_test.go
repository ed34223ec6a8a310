package log

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

// TestSecureHandler_SanitizesSensitiveKeys tests that sensitive keys are sanitized.
func TestSecureHandler_SanitizesSensitiveKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		key      string
		value    string
		wantMask bool
	}{
		{name: "password key is sanitized", key: "password", value: "hunter2hunter2", wantMask: true},
		{name: "Password key (uppercase) is sanitized", key: "Password", value: "hunter2hunter2", wantMask: true},
		{name: "wstoken key is sanitized", key: "wstoken", value: "tok-value-1", wantMask: true},
		{name: "sesskey key is sanitized", key: "sesskey", value: "AbCdEf1234", wantMask: true},
		{name: "SAMLResponse key is sanitized", key: "SAMLResponse", value: "assertion-data", wantMask: true},
		{name: "RelayState key is sanitized", key: "RelayState", value: "cookie:12345", wantMask: true},
		{name: "cookie key is sanitized", key: "cookie", value: "MoodleSession=abc", wantMask: true},
		{name: "key containing token is sanitized", key: "opencast_token", value: "tok-value-2", wantMask: true},
		{name: "url key is not sanitized", key: "url", value: "https://moodle.example.org/course/view.php", wantMask: false},
		{name: "course key is not sanitized", key: "course", value: "Lineare Algebra", wantMask: false},
		{name: "module key is not sanitized", key: "module", value: "resource", wantMask: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			logger := NewSecureLogger(&buf, true)
			logger.Info("test message", tt.key, tt.value)

			output := buf.String()
			if tt.wantMask {
				if strings.Contains(output, tt.value) {
					t.Errorf("expected value %q to be masked, but found in output: %s", tt.value, output)
				}
				if !strings.Contains(output, MaskValue) {
					t.Errorf("expected mask value %q in output, but not found: %s", MaskValue, output)
				}
			} else if !strings.Contains(output, tt.value) {
				t.Errorf("expected value %q to be present in output, but not found: %s", tt.value, output)
			}
		})
	}
}

// TestIsSensitiveValue tests value pattern detection.
func TestIsSensitiveValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{name: "moodle token", value: "0123456789abcdef0123456789abcdef", want: true},
		{name: "bearer header", value: "Bearer abc.def", want: true},
		{name: "basic header", value: "Basic dXNlcjpwYXNz", want: true},
		{name: "moodle session cookie", value: "MoodleSession=abcdef; other=1", want: true},
		{name: "saml assertion", value: "PHNhbWxwOlJlc3BvbnNlIHhtbG5z", want: true},
		{name: "course name", value: "Datenstrukturen und Algorithmen", want: false},
		{name: "short id", value: "12345", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isSensitiveValue(tt.value); got != tt.want {
				t.Errorf("isSensitiveValue(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

// TestSecureHandler_ScrubsURLs tests that sensitive query parameters are masked.
func TestSecureHandler_ScrubsURLs(t *testing.T) {
	t.Parallel()

	t.Run("url attribute keeps path but loses token", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger := NewSecureLogger(&buf, true)
		logger.Info("request", "url", "https://moodle.example.org/webservice/rest/server.php?wsfunction=core_webservice_get_site_info&wstoken=s3cr3tvalue")

		output := buf.String()
		if strings.Contains(output, "s3cr3tvalue") {
			t.Errorf("expected token to be masked: %s", output)
		}
		if !strings.Contains(output, "core_webservice_get_site_info") {
			t.Errorf("expected other query parameters to survive: %s", output)
		}
		if !strings.Contains(output, "REDACTED") {
			t.Errorf("expected mask in output: %s", output)
		}
	})

	t.Run("error attribute is scrubbed", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger := NewSecureLogger(&buf, true)
		err := errors.New(`Get "https://moodle.example.org/lib/ajax/service.php?sesskey=Zyx987&info=x": timeout`)
		logger.Error("ajax failed", "error", err)

		output := buf.String()
		if strings.Contains(output, "Zyx987") {
			t.Errorf("expected sesskey to be masked: %s", output)
		}
	})

	t.Run("message is scrubbed", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger := NewSecureLogger(&buf, true)
		logger.Info("fetching https://moodle.example.org/x?token=abcabc")
		if strings.Contains(buf.String(), "abcabc") {
			t.Errorf("expected token to be masked: %s", buf.String())
		}
	})

	t.Run("urls without query are unchanged", func(t *testing.T) {
		t.Parallel()

		in := "https://moodle.example.org/pluginfile.php/1/mod_resource/content/0/a.pdf"
		if got := scrubURLs(in); got != in {
			t.Errorf("expected unchanged url, got %q", got)
		}
	})
}

// TestSecureHandler_LogLevels tests that log levels are respected.
func TestSecureHandler_LogLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		verbose    bool
		logLevel   slog.Level
		shouldShow bool
	}{
		{name: "debug message shown in verbose mode", verbose: true, logLevel: slog.LevelDebug, shouldShow: true},
		{name: "debug message hidden in non-verbose mode", verbose: false, logLevel: slog.LevelDebug, shouldShow: false},
		{name: "info message hidden in non-verbose mode", verbose: false, logLevel: slog.LevelInfo, shouldShow: false},
		{name: "warn message shown in non-verbose mode", verbose: false, logLevel: slog.LevelWarn, shouldShow: true},
		{name: "error message shown in non-verbose mode", verbose: false, logLevel: slog.LevelError, shouldShow: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			logger := NewSecureLogger(&buf, tt.verbose)

			testMsg := "test_unique_message_12345"
			logger.Log(t.Context(), tt.logLevel, testMsg)

			hasMessage := strings.Contains(buf.String(), testMsg)
			if tt.shouldShow && !hasMessage {
				t.Errorf("expected message to be shown, but not found in output: %s", buf.String())
			}
			if !tt.shouldShow && hasMessage {
				t.Errorf("expected message to be hidden, but found in output: %s", buf.String())
			}
		})
	}
}

// TestSecureHandler_WithAttrs tests that WithAttrs sanitizes attributes.
func TestSecureHandler_WithAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewSecureLogger(&buf, true)

	logger.With("password", "secret123").Info("test message")

	output := buf.String()
	if strings.Contains(output, "secret123") {
		t.Errorf("expected password to be masked in WithAttrs, but found in output: %s", output)
	}
	if !strings.Contains(output, MaskValue) {
		t.Errorf("expected mask value in output, but not found: %s", output)
	}
}

// TestSecureHandler_WithGroup tests that groups are sanitized recursively.
func TestSecureHandler_WithGroup(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewSecureLogger(&buf, true)

	logger.WithGroup("request").Info("test message",
		slog.Group("form", "j_username", "ab123456", "j_password", "pw-value"),
	)

	output := buf.String()
	if !strings.Contains(output, "ab123456") {
		t.Errorf("expected user name to be visible, but not found in output: %s", output)
	}
	if strings.Contains(output, "pw-value") {
		t.Errorf("expected password to be masked, but found in output: %s", output)
	}
}

// TestNewSecureJSONLogger tests JSON logger creation.
func TestNewSecureJSONLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewSecureJSONLogger(&buf, true)
	logger.Info("test message", "wstoken", "secret")

	output := buf.String()
	if !strings.HasPrefix(output, "{") {
		t.Errorf("expected JSON output, got: %s", output)
	}
	if strings.Contains(output, `"secret"`) {
		t.Errorf("expected token to be masked: %s", output)
	}
}

// TestNewSecureHandler_NilHandler tests the fallback to the default handler.
func TestNewSecureHandler_NilHandler(t *testing.T) {
	t.Parallel()

	h := NewSecureHandler(nil)
	if h.handler == nil {
		t.Error("expected fallback handler")
	}
}

// TestDiscard tests that the discard logger is silent and usable.
func TestDiscard(t *testing.T) {
	t.Parallel()

	logger := Discard()
	if logger.Enabled(t.Context(), slog.LevelError) {
		t.Error("expected discard logger to be disabled")
	}
	logger.Error("dropped")
}
