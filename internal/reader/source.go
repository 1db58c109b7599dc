package reader

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/nerrad567/sciler-device/internal/infrastructure/config"
)

// ErrStopped is returned by Read once the reader command has given up.
var ErrStopped = errors.New("reader: stopped")

// Source is the stream of scanned lines the device consumes.
//
// With no command configured it is stdin. Otherwise every stdout line of the
// supervised command is written into a pipe, so the consumer sees one code
// per line regardless of how often the command was restarted.
type Source struct {
	r   io.Reader
	pw  *io.PipeWriter
	mgr *Manager

	closeOnce sync.Once
}

// ConfigFrom maps the reader section of the device configuration.
func ConfigFrom(cfg config.ReaderConfig) Config {
	return Config{
		Name:               "reader",
		Binary:             cfg.Command,
		Args:               cfg.Args,
		RestartOnFailure:   cfg.RestartOnFailure,
		RestartDelay:       cfg.RestartDelay,
		MaxRestartAttempts: cfg.MaxRestartAttempts,
	}
}

// Open returns the input source for cfg, starting the reader command when
// one is configured.
func Open(ctx context.Context, cfg config.ReaderConfig, logger Logger) (*Source, error) {
	if cfg.Command == "" {
		return &Source{r: os.Stdin}, nil
	}

	pr, pw := io.Pipe()
	mcfg := ConfigFrom(cfg)
	mcfg.OnLine = func(line string) {
		// A closed pipe means the consumer is gone; the line is dropped.
		_, _ = io.WriteString(pw, line+"\n")
	}

	mgr := NewManager(mcfg)
	if logger != nil {
		mgr.SetLogger(logger)
	}
	if err := mgr.Start(ctx); err != nil {
		pw.Close()
		return nil, err
	}

	go func() {
		<-mgr.Done()
		pw.CloseWithError(ErrStopped)
	}()

	return &Source{r: pr, pw: pw, mgr: mgr}, nil
}

// Read implements io.Reader.
func (s *Source) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

// Manager returns the supervising manager, or nil when reading stdin.
func (s *Source) Manager() *Manager {
	return s.mgr
}

// Close stops the reader command. Stdin is left open.
func (s *Source) Close() error {
	if s.mgr == nil {
		return nil
	}

	var err error
	s.closeOnce.Do(func() {
		// Unblock a pending OnLine write before waiting on the process.
		if pr, ok := s.r.(*io.PipeReader); ok {
			pr.Close()
		}
		err = s.mgr.Stop()
		s.pw.Close()
	})
	return err
}
