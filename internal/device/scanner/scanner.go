package scanner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/sciler-device/internal/device"
)

// Instruction names understood by the scanner.
const (
	InstructionTest         = "test"
	InstructionReset        = "reset"
	InstructionStatusUpdate = "status update"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Scanner is a device.Adapter for a keyboard-style barcode scanner.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Run and IncomingInstruction
//     may execute at the same time.
type Scanner struct {
	mu      sync.Mutex
	code    int
	scanned []int

	notifier device.Notifier
	logger   Logger
	hookMu   sync.RWMutex
}

// New creates a scanner in its reset state.
func New() *Scanner {
	return &Scanner{scanned: initialHistory()}
}

func initialHistory() []int {
	return []int{0, 0}
}

// SetNotifier sets the receiver of status-changed events.
func (s *Scanner) SetNotifier(n device.Notifier) {
	s.hookMu.Lock()
	s.notifier = n
	s.hookMu.Unlock()
}

// SetLogger sets a logger. If not set, the scanner is silent.
func (s *Scanner) SetLogger(logger Logger) {
	s.hookMu.Lock()
	s.logger = logger
	s.hookMu.Unlock()
}

// Status implements device.Adapter. The returned history is a copy.
func (s *Scanner) Status() device.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]int, len(s.scanned))
	copy(history, s.scanned)

	return device.Status{
		"code":    s.code,
		"scanned": history,
	}
}

// IncomingInstruction implements device.Adapter.
//
// A payload holding several instructions is performed in order and stops at
// the first failure. Instructions performed before the failure keep their
// effect and are reported.
func (s *Scanner) IncomingInstruction(payload json.RawMessage) error {
	instructions, err := device.ParseInstructions(payload)
	if err != nil {
		return &device.InstructionError{Action: string(payload), Err: err}
	}

	changed := false
	defer func() {
		if changed {
			s.statusChanged()
		}
	}()

	for _, inst := range instructions {
		mutated, err := s.perform(inst)
		if err != nil {
			return &device.InstructionError{Action: inst.Action(), Err: err}
		}
		changed = changed || mutated
	}
	return nil
}

// perform executes one instruction and reports whether the status should be published.
func (s *Scanner) perform(inst device.Instruction) (bool, error) {
	if inst.Value != nil {
		code, err := parseCode(string(inst.Value))
		if err != nil {
			return false, fmt.Errorf("%w: %w", device.ErrInvalidInstruction, err)
		}
		s.record(code)
		return true, nil
	}

	switch inst.Name {
	case InstructionTest:
		s.logInfo("test")
		return false, nil
	case InstructionReset:
		s.mu.Lock()
		s.code = 0
		s.scanned = initialHistory()
		s.mu.Unlock()
		s.logInfo("reset")
		return true, nil
	case InstructionStatusUpdate:
		return true, nil
	default:
		return false, device.ErrUnknownInstruction
	}
}

// Scan records a code as if it had been read from the input and reports the change.
func (s *Scanner) Scan(code int) {
	s.record(code)
	s.statusChanged()
}

func (s *Scanner) record(code int) {
	s.mu.Lock()
	s.code = code
	s.scanned = append(s.scanned, code)
	s.mu.Unlock()
}

// Run is the handler loop. It reads newline-delimited codes from r until r is
// exhausted or ctx is cancelled. Lines that are not integers are logged and skipped.
//
// Returns:
//   - nil when r reaches EOF
//   - ctx.Err() when cancelled
//   - the read error otherwise
func (s *Scanner) Run(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return ctx.Err()
				}
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			code, err := parseCode(line)
			if err != nil {
				s.logWarn("ignoring unreadable code", "input", line, "error", err)
				continue
			}
			s.logInfo("code scanned", "code", code)
			s.Scan(code)
		}
	}
}

func parseCode(s string) (int, error) {
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not an integer code: %q", s)
	}
	return code, nil
}

func (s *Scanner) statusChanged() {
	s.hookMu.RLock()
	n := s.notifier
	s.hookMu.RUnlock()
	if n != nil {
		n.StatusChanged()
	}
}

func (s *Scanner) logInfo(msg string, args ...any) {
	s.hookMu.RLock()
	l := s.logger
	s.hookMu.RUnlock()
	if l != nil {
		l.Info(msg, args...)
	}
}

func (s *Scanner) logWarn(msg string, args ...any) {
	s.hookMu.RLock()
	l := s.logger
	s.hookMu.RUnlock()
	if l != nil {
		l.Warn(msg, args...)
	}
}
