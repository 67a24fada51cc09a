// Package archive writes events to rolling local files and hands each closed
// file to a callback.
package archive

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"usagerelay/internal/config"
	"usagerelay/internal/logger"
	"usagerelay/pkg/metrics"
)

const defaultTemplate = "events_%Y_%m_%d_%X_%f.dat"

// Callback receives every rolled file.
type Callback interface {
	Name() string
	Rolled(ctx context.Context, path string) error
}

// RollManager appends newline separated records to the active file and rolls
// it once it reaches the size limit or its age limit.
type RollManager struct {
	mu        sync.Mutex
	dir       string
	template  string
	rollSize  int64
	rollEvery time.Duration
	callback  Callback
	now       func() time.Time
	logger    logger.Logger

	file   *os.File
	w      *bufio.Writer
	size   int64
	opened time.Time
}

func NewRollManager(cfg config.ShoeboxConfig, cb Callback, log logger.Logger) (*RollManager, error) {
	dir := cfg.WorkingDirectory
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}
	template := cfg.FilenameTemplate
	if template == "" {
		template = defaultTemplate
	}
	if cb == nil {
		cb = NoopCallback{}
	}
	return &RollManager{
		dir:       dir,
		template:  template,
		rollSize:  int64(cfg.RollSizeMB) * 1024 * 1024,
		rollEvery: time.Duration(cfg.RollMinutes) * time.Minute,
		callback:  cb,
		now:       time.Now,
		logger:    log,
	}, nil
}

// Write appends one record. The file is rolled afterwards when a limit is hit.
func (m *RollManager) Write(ctx context.Context, record []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file == nil {
		if err := m.open(); err != nil {
			return err
		}
	}
	n, err := m.w.Write(record)
	m.size += int64(n)
	if err != nil {
		return fmt.Errorf("write archive record: %w", err)
	}
	if err := m.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write archive record: %w", err)
	}
	m.size++

	if m.shouldRoll() {
		return m.roll(ctx)
	}
	return nil
}

func (m *RollManager) shouldRoll() bool {
	if m.rollSize > 0 && m.size >= m.rollSize {
		return true
	}
	return m.rollEvery > 0 && m.now().Sub(m.opened) >= m.rollEvery
}

// Roll closes the active file, if any, and passes it to the callback.
func (m *RollManager) Roll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roll(ctx)
}

// Close rolls the active file.
func (m *RollManager) Close(ctx context.Context) error {
	return m.Roll(ctx)
}

// ActiveFile returns the path of the file being written, or "".
func (m *RollManager) ActiveFile() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return ""
	}
	return m.file.Name()
}

func (m *RollManager) open() error {
	now := m.now()
	path := filepath.Join(m.dir, FormatFilename(m.template, now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open archive file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat archive file: %w", err)
	}
	m.file = f
	m.w = bufio.NewWriter(f)
	m.size = info.Size()
	m.opened = now
	m.logger.Debugw("Opened archive file", "path", path)
	return nil
}

func (m *RollManager) roll(ctx context.Context) error {
	if m.file == nil {
		return nil
	}
	path := m.file.Name()
	flushErr := m.w.Flush()
	closeErr := m.file.Close()
	m.file, m.w, m.size = nil, nil, 0
	if flushErr != nil {
		return fmt.Errorf("flush archive file: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close archive file: %w", closeErr)
	}

	if err := m.callback.Rolled(ctx, path); err != nil {
		metrics.ArchiveRollsTotal.WithLabelValues(m.callback.Name(), "error").Inc()
		m.logger.ErrorwCtx(ctx, "Archive callback failed", "callback", m.callback.Name(), "path", path, "error", err)
		return err
	}
	metrics.ArchiveRollsTotal.WithLabelValues(m.callback.Name(), "success").Inc()
	m.logger.InfowCtx(ctx, "Rolled archive file", "callback", m.callback.Name(), "path", path)
	return nil
}
