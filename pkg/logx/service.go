package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// DefaultFilePath is used when file logging is enabled without a path.
const DefaultFilePath = "./bosstimer.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// sinkKey identifies the open outputs; a reload that only changes the level
// keeps them.
func (c Config) sinkKey() string {
	path := ""
	if c.File.Enabled {
		path = filePath(c.File.Path)
	}
	return fmt.Sprintf("%t|%s", c.Console, path)
}

func filePath(p string) string {
	if p = strings.TrimSpace(p); p == "" {
		return DefaultFilePath
	}
	return p
}

// Service owns the process log sinks and swaps them on config reload.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	fs   afero.Fs
	out  io.Writer
	key  string
	file afero.File
	sink io.Writer

	root atomic.Value // zerolog.Logger
}

// New creates the logging service on the OS filesystem and stdout, applies
// cfg, and returns the service and a live root Logger.
func New(cfg Config) (*Service, Logger) {
	return NewService(cfg, afero.NewOsFs(), os.Stdout)
}

// NewService is New with explicit file system and console destination.
func NewService(cfg Config, fs afero.Fs, console io.Writer) (*Service, Logger) {
	s := &Service{fs: fs, out: console}
	s.root.Store(zerolog.New(newConsoleWriter(console)).Level(ParseLevel(cfg.Level, LevelInfo)).With().Timestamp().Logger())
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl, ok := s.root.Load().(zerolog.Logger); ok {
		return zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// Config returns the last applied config.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file, s.sink, s.key = nil, nil, ""
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}

// Apply swaps outputs and level at runtime. Open files are reused when only
// the level changed. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	var openErr error
	if key := cfg.sinkKey(); key != s.key || s.sink == nil {
		openErr = s.rebuildLocked(cfg)
		s.key = key
	}
	zl := zerolog.New(s.sink).Level(ParseLevel(cfg.Level, LevelInfo)).With().Timestamp().Logger()
	s.root.Store(zl)
	s.mu.Unlock()

	if openErr != nil {
		s.Logger().Warn("log file unavailable; console only",
			String("path", filePath(cfg.File.Path)), Err(openErr))
	}
}

func (s *Service) rebuildLocked(cfg Config) error {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	writers := make([]io.Writer, 0, 2)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(s.out))
	}
	var openErr error
	if cfg.File.Enabled {
		f, err := s.fs.OpenFile(filePath(cfg.File.Path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			openErr = err
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(s.out))
	}
	s.sink = zerolog.MultiLevelWriter(writers...)
	return openErr
}
