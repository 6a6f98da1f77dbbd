// Package activity writes the human-readable activity log: one timestamped
// text record per tool call, with command output indented under a title.
//
// Writes never block or fail the caller. Records are queued and written by a
// single goroutine; when the queue is full the record is dropped.
package activity

import (
	"io"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const queueSize = 256

// indent prefixes each body line of a block record.
const indent = "    "

// Config configures the activity log file.
type Config struct {
	// Path is the log file. Empty disables the activity log.
	Path string

	// MaxSizeMB rotates the file at this size. Zero uses lumberjack's default.
	MaxSizeMB int

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int
}

// Logger appends records to the activity log. A nil *Logger is a no-op.
type Logger struct {
	out     io.Writer
	closer  io.Closer
	now     func() time.Time
	records chan string
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// New opens a rotating activity log at cfg.Path. It returns nil, a no-op
// logger, when no path is configured.
func New(cfg Config, opts ...Option) *Logger {
	if cfg.Path == "" {
		return nil
	}
	file := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	l := NewWriter(file, opts...)
	l.closer = file
	return l
}

// NewWriter creates a Logger that writes records to w.
func NewWriter(w io.Writer, opts ...Option) *Logger {
	l := &Logger{
		out:     w,
		now:     time.Now,
		records: make(chan string, queueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.run()
	return l
}

// Log appends a single-line record. Line breaks in msg are escaped.
func (l *Logger) Log(msg string) {
	if l == nil {
		return
	}
	l.enqueue(l.stamp() + " " + oneLine.Replace(msg) + "\n")
}

// Block appends a record with title on the first line and body indented
// beneath it. An empty body writes only the title. Line breaks in title are
// escaped so every record starts with a stamped line.
func (l *Logger) Block(title, body string) {
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString(l.stamp())
	b.WriteByte(' ')
	b.WriteString(oneLine.Replace(title))
	b.WriteByte('\n')
	body = strings.TrimRight(body, "\n")
	if body != "" {
		for _, line := range strings.Split(body, "\n") {
			b.WriteString(indent)
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	l.enqueue(b.String())
}

// Close flushes queued records and closes the file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.records)
		l.mu.Unlock()

		<-l.done
		if l.closer != nil {
			err = l.closer.Close()
		}
	})
	return err
}

var oneLine = strings.NewReplacer("\r\n", `\n`, "\n", `\n`, "\r", `\r`)

func (l *Logger) stamp() string {
	return "[" + l.now().UTC().Format(time.RFC3339Nano) + "]"
}

func (l *Logger) enqueue(record string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.records <- record:
	default:
	}
}

func (l *Logger) run() {
	defer close(l.done)
	for record := range l.records {
		_, _ = io.WriteString(l.out, record)
	}
}
