package rtmp

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ssungk/rtmpc/pkg/rtmp/transport"
)

func writeOptionsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rtmpc.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOptions(t *testing.T) {
	path := writeOptionsFile(t, `
url: rtmps://media.example.com/live
app: live/instance
chunk_size: 8192
object_encoding: amf0
dial_timeout: 3s
log_level: debug
`)
	opts, err := LoadOptions(path)
	if err != nil {
		t.Fatal(err)
	}
	if opts.URL != "rtmps://media.example.com/live" || opts.App != "live/instance" {
		t.Errorf("unexpected url/app %q %q", opts.URL, opts.App)
	}
	if opts.ChunkSize != 8192 || opts.ObjectEncoding != EncodingAMF0 {
		t.Errorf("unexpected chunk size %d encoding %q", opts.ChunkSize, opts.ObjectEncoding)
	}
	if opts.DialTimeout != 3*time.Second {
		t.Errorf("unexpected dial timeout %s", opts.DialTimeout)
	}

	// 지정하지 않은 값은 기본값
	if opts.WindowAckSize != transport.DefaultWindowAckSize {
		t.Errorf("unexpected window %d", opts.WindowAckSize)
	}
	if opts.MaxReadAllocation != transport.DefaultMaxReadAllocation {
		t.Errorf("unexpected max read allocation %d", opts.MaxReadAllocation)
	}
	if opts.WriteQueueSize != DefaultWriteQueueSize || opts.FlashVer != DefaultFlashVer {
		t.Errorf("unexpected defaults %d %q", opts.WriteQueueSize, opts.FlashVer)
	}
	if opts.Registry == nil || opts.Logger == nil {
		t.Error("registry and logger should default")
	}
	if !opts.Registry.AnonymousFallback() {
		t.Error("anonymous fallback should default to true")
	}
}

func TestLoadOptionsStrictTypes(t *testing.T) {
	opts, err := LoadOptions(writeOptionsFile(t, "strict_types: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if opts.Registry.AnonymousFallback() {
		t.Error("strict_types should disable anonymous fallback")
	}
	if !opts.Registry.CanCreate(CommandMessageClass) {
		t.Error("flex types should be registered")
	}
}

func TestLogLevelAppliesToConnectionLogger(t *testing.T) {
	globalLevel := logrus.GetLevel()

	opts, err := LoadOptions(writeOptionsFile(t, "log_level: debug\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := opts.Logger.Logger.GetLevel(); got != logrus.DebugLevel {
		t.Errorf("expected debug connection logger, got %s", got)
	}
	// 전역 로거는 건드리지 않음
	if logrus.GetLevel() != globalLevel {
		t.Errorf("standard logger level changed to %s", logrus.GetLevel())
	}

	// 사용자가 넘긴 로거의 필드와 출력은 유지
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetLevel(logrus.WarnLevel)
	custom := &Options{LogLevel: "debug", Logger: base.WithField("session", "s1")}
	custom.setDefaults()
	custom.Logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") || !strings.Contains(buf.String(), "session=s1") {
		t.Errorf("unexpected log output %q", buf.String())
	}
	if base.GetLevel() != logrus.WarnLevel {
		t.Errorf("base logger level changed to %s", base.GetLevel())
	}
}

func TestLoadOptionsErrors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown field", "chunksize: 10\n", "field chunksize not found"},
		{"bad encoding", "object_encoding: amf9\n", "object_encoding"},
		{"chunk size too large", "chunk_size: 16777216\n", "chunk_size"},
		{"bad scheme", "url: http://example.com/live\n", "unsupported scheme"},
		{"bad log level", "log_level: loud\n", "log_level"},
		{"negative queue", "write_queue_size: -1\n", "write_queue_size"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadOptions(writeOptionsFile(t, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}

	if _, err := LoadOptions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseURL(t *testing.T) {
	testCases := []struct {
		raw  string
		addr string
		app  string
	}{
		{"rtmp://example.com/live", "example.com:1935", "live"},
		{"rtmp://example.com:1936/live/stream", "example.com:1936", "live/stream"},
		{"rtmps://example.com/app", "example.com:443", "app"},
		{"rtmp://[::1]/live", "[::1]:1935", "live"},
	}

	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			u, addr, err := parseURL(tc.raw)
			if err != nil {
				t.Fatal(err)
			}
			if addr != tc.addr {
				t.Errorf("expected addr %q, got %q", tc.addr, addr)
			}
			if app := appFromURL(u); app != tc.app {
				t.Errorf("expected app %q, got %q", tc.app, app)
			}
		})
	}

	for _, raw := range []string{"http://example.com/live", "rtmp:///live", "::bad"} {
		if _, _, err := parseURL(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}
