package oplog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry 描述一次已完成（或失败）的记忆操作
// Entry describes one completed (or failed) memory operation.
type Entry struct {
	Operation string
	Path      string
	PriorPath string
	Detail    string
	Time      time.Time
}

// Logger 将记忆操作同步写入审计日志文件，并镜像到控制台 sink。
// Logger appends memory operations to an audit log file synchronously and
// mirrors each line to a console sink. Write-only; read it with tail.
type Logger struct {
	path   string
	mirror io.Writer
	mu     sync.Mutex
	file   *os.File
}

// New creates a logger writing to path. The mirror writer may be nil.
func New(path string, mirror io.Writer) (*Logger, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("oplog path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create oplog directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open oplog: %w", err)
	}
	return &Logger{path: path, mirror: mirror, file: f}, nil
}

func (l *Logger) Path() string {
	return l.path
}

// Log appends one fixed-width line. Never buffered: a crash after Log returns
// loses nothing.
func (l *Logger) Log(e Entry) error {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	path := e.Path
	if e.PriorPath != "" {
		path = e.PriorPath + " -> " + e.Path
	}
	line := fmt.Sprintf("%s | %-8s | %-40s | %s\n",
		ts.UTC().Format("2006-01-02 15:04:05"),
		strings.ToUpper(e.Operation),
		path,
		e.Detail,
	)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.WriteString(line); err != nil {
		return fmt.Errorf("write oplog: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync oplog: %w", err)
	}
	if l.mirror != nil {
		_, _ = io.WriteString(l.mirror, line)
	}
	return nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
