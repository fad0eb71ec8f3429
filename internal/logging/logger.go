package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/lattice-org/internal/config"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// FileName is the log file written under .lattice-org/logs.
const FileName = "lattice-org.log"

// Logger appends timestamped lines to .lattice-org/logs/lattice-org.log (or any
// writer) so operators can inspect actor failures after the process exits.
type Logger struct {
	mu   sync.Mutex
	out  io.Writer
	file *os.File
	path string
	now  func() time.Time
}

// New creates (or reuses) the log file for the current project directory.
func New(projectDir string) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.ProjectDirName, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{out: f, file: f, path: path, now: time.Now}, nil
}

// NewWriter logs to an arbitrary writer, typically stderr or a test buffer.
func NewWriter(w io.Writer) *Logger {
	return &Logger{out: w, now: time.Now}
}

// Tee duplicates every line onto an additional writer.
func (l *Logger) Tee(w io.Writer) *Logger {
	if l == nil || w == nil {
		return l
	}
	l.mu.Lock()
	l.out = io.MultiWriter(l.out, w)
	l.mu.Unlock()
	return l
}

// Path returns the file backing this logger, empty for writer loggers.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes a single timestamped line.
func (l *Logger) Printf(format string, args ...any) {
	l.write("", fmt.Sprintf(format, args...))
}

// Infof writes an INFO line.
func (l *Logger) Infof(format string, args ...any) {
	l.write(LevelInfo, fmt.Sprintf(format, args...))
}

// Warnf writes a WARN line.
func (l *Logger) Warnf(format string, args ...any) {
	l.write(LevelWarn, fmt.Sprintf(format, args...))
}

// Errorf writes an ERROR line.
func (l *Logger) Errorf(format string, args ...any) {
	l.write(LevelError, fmt.Sprintf(format, args...))
}

func (l *Logger) write(level Level, line string) {
	if l == nil || l.out == nil {
		return
	}
	line = strings.TrimRight(line, "\n")
	timestamp := l.now().UTC().Format(time.RFC3339)
	l.mu.Lock()
	defer l.mu.Unlock()
	if level == "" {
		fmt.Fprintf(l.out, "[%s] %s\n", timestamp, line)
		return
	}
	fmt.Fprintf(l.out, "[%s] %-5s %s\n", timestamp, string(level), line)
}

// Tail returns up to maxLines of the most recent entries from the log file at path.
func Tail(path string, maxLines int) ([]string, error) {
	if maxLines <= 0 {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines, nil
}

// Printer is the narrow logging contract shared by every package.
type Printer interface {
	Printf(format string, args ...any)
}

// Nop discards everything.
type Nop struct{}

// Printf implements Printer.
func (Nop) Printf(string, ...any) {}

// OrNop returns p, or a no-op printer when p is nil.
func OrNop(p Printer) Printer {
	if p == nil {
		return Nop{}
	}
	return p
}
