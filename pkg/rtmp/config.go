package rtmp

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ssungk/rtmpc/pkg/amf"
	"github.com/ssungk/rtmpc/pkg/rtmp/transport"
)

// Object encodings negotiated in the connect command
const (
	EncodingAMF0 = "amf0"
	EncodingAMF3 = "amf3"
)

// Defaults applied to unset options
const (
	DefaultChunkSize      = 4096
	DefaultFlashVer       = "WIN 32,0,0,114"
	DefaultDialTimeout    = 10 * time.Second
	DefaultWriteQueueSize = 64
)

// Options configures a client connection. The YAML fields can be loaded with
// LoadOptions; callbacks and collaborators are set in code.
type Options struct {
	URL                string        `yaml:"url"`
	App                string        `yaml:"app"`
	PageURL            string        `yaml:"page_url"`
	SwfURL             string        `yaml:"swf_url"`
	FlashVer           string        `yaml:"flash_ver"`
	ChunkSize          uint32        `yaml:"chunk_size"`
	WindowAckSize      uint32        `yaml:"window_ack_size"`
	MaxReadAllocation  uint32        `yaml:"max_read_allocation"`
	ObjectEncoding     string        `yaml:"object_encoding"` // "amf0" or "amf3"
	StrictTypes        bool          `yaml:"strict_types"`    // fail on unregistered class names
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	WriteQueueSize     int           `yaml:"write_queue_size"`
	LogLevel           string        `yaml:"log_level"` // level of the connection logger

	// VerifyCertificate replaces the default rtmps certificate validation
	VerifyCertificate func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error `yaml:"-"`

	// Registry maps AMF class names to Go types. Defaults to a registry with
	// the Flex messaging types registered.
	Registry amf.TypeRegistry `yaml:"-"`
	Logger   *logrus.Entry    `yaml:"-"`

	// Callbacks run on the reader goroutine, except OnDisconnect which runs
	// on whichever goroutine closes the connection. Panics are recovered and
	// reported through OnCallbackError.
	OnMessage       func(MessageEvent)    `yaml:"-"`
	OnMedia         func(MediaEvent)      `yaml:"-"`
	OnStatus        func(StatusEvent)     `yaml:"-"`
	OnDisconnect    func(DisconnectEvent) `yaml:"-"`
	OnCallbackError func(error)           `yaml:"-"`
}

// LoadOptions reads options from a YAML file.
// Unknown fields are rejected.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read options file: %w", err)
	}

	var opts Options
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&opts); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}

	opts.setDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

// setDefaults applies explicit default values to unset fields.
func (o *Options) setDefaults() {
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.WindowAckSize == 0 {
		o.WindowAckSize = transport.DefaultWindowAckSize
	}
	if o.MaxReadAllocation == 0 {
		o.MaxReadAllocation = transport.DefaultMaxReadAllocation
	}
	if o.ObjectEncoding == "" {
		o.ObjectEncoding = EncodingAMF3
	}
	if o.FlashVer == "" {
		o.FlashVer = DefaultFlashVer
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.WriteQueueSize == 0 {
		o.WriteQueueSize = DefaultWriteQueueSize
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if level, err := logrus.ParseLevel(o.LogLevel); o.LogLevel != "" && err == nil && o.Logger.Logger.GetLevel() != level {
		o.Logger = withLevel(o.Logger, level)
	}
	if o.Registry == nil {
		registry := NewFlexRegistry()
		registry.SetAnonymousFallback(!o.StrictTypes)
		o.Registry = registry
	}
}

// withLevel derives a logger sharing base's output, formatter and hooks
// but filtering at level. The base logger is left untouched.
func withLevel(base *logrus.Entry, level logrus.Level) *logrus.Entry {
	logger := &logrus.Logger{
		Out:          base.Logger.Out,
		Formatter:    base.Logger.Formatter,
		Hooks:        base.Logger.Hooks,
		ReportCaller: base.Logger.ReportCaller,
		ExitFunc:     base.Logger.ExitFunc,
		Level:        level,
	}
	return logger.WithFields(base.Data)
}

// Validate checks that all option values are within acceptable ranges.
// Returns an error describing the first validation failure found.
func (o *Options) Validate() error {
	if o.URL != "" {
		if _, _, err := parseURL(o.URL); err != nil {
			return err
		}
	}
	if o.ChunkSize < 1 || o.ChunkSize > transport.MaxChunkSize {
		return fmt.Errorf("chunk_size %d out of range [1, %d]", o.ChunkSize, transport.MaxChunkSize)
	}
	if o.ObjectEncoding != EncodingAMF0 && o.ObjectEncoding != EncodingAMF3 {
		return fmt.Errorf("object_encoding must be %q or %q, got %q", EncodingAMF0, EncodingAMF3, o.ObjectEncoding)
	}
	if o.WriteQueueSize < 1 {
		return fmt.Errorf("write_queue_size must be positive, got %d", o.WriteQueueSize)
	}
	if o.DialTimeout < 0 {
		return fmt.Errorf("dial_timeout must not be negative, got %s", o.DialTimeout)
	}
	if o.LogLevel != "" {
		if _, err := logrus.ParseLevel(o.LogLevel); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
	}
	return nil
}

// objectEncodingValue returns the number sent in the connect command
func (o *Options) objectEncodingValue() float64 {
	if o.ObjectEncoding == EncodingAMF0 {
		return 0
	}
	return 3
}

// parseURL splits rtmp://host[:port]/app[/instance] into a dial address and app
func parseURL(raw string) (*url.URL, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", fmt.Errorf("parse url: %w", err)
	}

	var port string
	switch u.Scheme {
	case "rtmp":
		port = "1935"
	case "rtmps":
		port = "443"
	default:
		return nil, "", fmt.Errorf("url %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, "", fmt.Errorf("url %q: missing host", raw)
	}
	if u.Port() != "" {
		port = u.Port()
	}
	return u, net.JoinHostPort(u.Hostname(), port), nil
}

// appFromURL returns the path without the leading slash
func appFromURL(u *url.URL) string {
	return strings.TrimPrefix(u.Path, "/")
}
