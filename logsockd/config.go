package logsockd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config is read once at startup.
type Config struct {
	RotateLines     int      `toml:"rotate_lines"`
	SocketPath      string   `toml:"socket_path"`
	SegmentPrefix   string   `toml:"segment_prefix"`
	PIDFile         string   `toml:"pid_file"`
	ErrorFile       string   `toml:"error_file"`
	ErrorFileBlocks int      `toml:"error_file_blocks"`
	MaxConnections  int      `toml:"max_connections"`
	GracePolls      int      `toml:"grace_polls"`
	GraceInterval   Duration `toml:"grace_interval"`
	ReadPoll        Duration `toml:"read_poll"`
	MonitorPoll     Duration `toml:"monitor_poll"`
	SignalBuffer    int      `toml:"signal_buffer"`
	MaxLineBytes    int      `toml:"max_line_bytes"`
	LinesPerSecond  float64  `toml:"lines_per_second"`
	Redact          []string `toml:"redact"`
	ProxyProtocol   bool     `toml:"proxy_protocol"`
	LogFile         string   `toml:"log_file"`
}

func DefaultConfig() Config {
	return Config{
		RotateLines:     10000,
		SocketPath:      "logsockd.sock",
		SegmentPrefix:   "logs/segment-",
		PIDFile:         "logsockd.pid",
		ErrorFile:       "logsockd.err",
		ErrorFileBlocks: 16,
		MaxConnections:  64,
		GracePolls:      10,
		GraceInterval:   Duration{time.Second},
		ReadPoll:        Duration{250 * time.Millisecond},
		MonitorPoll:     Duration{100 * time.Millisecond},
		SignalBuffer:    1024,
		MaxLineBytes:    64 * 1024,
		LogFile:         "logsockd.log",
	}
}

// LoadConfig layers the TOML file at path (if any) and LOGSOCKD_* environment
// variables over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup("LOGSOCKD_" + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		if v, ok := lookup("LOGSOCKD_" + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("LOGSOCKD_%s: %w", key, err)
			}
			*dst = n
		}
		return nil
	}

	str("SOCKET", &c.SocketPath)
	str("SEGMENT_PREFIX", &c.SegmentPrefix)
	str("PID_FILE", &c.PIDFile)
	str("ERROR_FILE", &c.ErrorFile)
	str("LOG_FILE", &c.LogFile)
	if v, ok := lookup("LOGSOCKD_REDACT"); ok && v != "" {
		c.Redact = strings.Split(v, ",")
	}
	if err := num("ROTATE_LINES", &c.RotateLines); err != nil {
		return err
	}
	return num("MAX_CONNECTIONS", &c.MaxConnections)
}

func (c *Config) Validate() error {
	var errs []error
	if c.RotateLines <= 0 {
		errs = append(errs, errors.New("rotate_lines must be positive"))
	}
	if c.SocketPath == "" {
		errs = append(errs, errors.New("socket_path is required"))
	}
	if c.SegmentPrefix == "" {
		errs = append(errs, errors.New("segment_prefix is required"))
	}
	if c.ErrorFile == "" {
		errs = append(errs, errors.New("error_file is required"))
	}
	if c.ErrorFileBlocks <= 0 {
		errs = append(errs, errors.New("error_file_blocks must be positive"))
	}
	if c.MaxConnections <= 0 {
		errs = append(errs, errors.New("max_connections must be positive"))
	}
	if c.GracePolls < 0 || c.GraceInterval.Duration <= 0 {
		errs = append(errs, errors.New("grace_polls must not be negative and grace_interval must be positive"))
	}
	if c.ReadPoll.Duration <= 0 || c.MonitorPoll.Duration <= 0 {
		errs = append(errs, errors.New("read_poll and monitor_poll must be positive"))
	}
	if c.SignalBuffer <= 0 {
		errs = append(errs, errors.New("signal_buffer must be positive"))
	}
	if c.MaxLineBytes <= 0 {
		errs = append(errs, errors.New("max_line_bytes must be positive"))
	}
	if c.LinesPerSecond < 0 {
		errs = append(errs, errors.New("lines_per_second must not be negative"))
	}
	return errors.Join(errs...)
}
