package blackbox

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ghalamif/MeshTrace/internal/domain"
	"github.com/ghalamif/MeshTrace/internal/ports"
)

const (
	ActiveFileName = "blackbox_current.jsonl"
	CrashFileName  = "crash_events.jsonl"

	archivePrefix = "blackbox_archive_"
	archiveSuffix = ".jsonl.gz"
	// Lexical order of archive names is chronological order.
	archiveStamp = "20060102_150405.000000"
)

// ErrClosed is returned by appends after Close.
var ErrClosed = errors.New("blackbox: closed")

type Config struct {
	Dir              string `yaml:"dir"`
	MaxSizeBytes     int64  `yaml:"max_size_bytes"`
	Retention        int    `yaml:"retention"`
	FailureThreshold int    `yaml:"failure_threshold"`
}

func (c *Config) ApplyDefaults() {
	if c.Dir == "" {
		c.Dir = "./data/blackbox"
	}
	if c.MaxSizeBytes == 0 {
		c.MaxSizeBytes = 50 << 20
	}
	if c.Retention == 0 {
		c.Retention = 5
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 10
	}
}

func (c *Config) Validate() error {
	if c.Dir == "" {
		return errors.New("dir is required")
	}
	if c.MaxSizeBytes <= 0 {
		return errors.New("max_size_bytes must be > 0")
	}
	if c.Retention < 1 {
		return errors.New("retention must be >= 1")
	}
	return nil
}

// Log is the append-only blackbox: a general JSONL log of every tick and crash,
// a crash-only JSONL log, and gzip archives of rotated general logs.
type Log struct {
	mu        sync.Mutex
	cfg       Config
	obs       ports.Observability
	now       func() time.Time
	remove    func(string) error
	active    *os.File
	crash     *os.File
	sizeBytes int64
	closed    bool

	rotations   uint64
	failures    uint64
	consecutive uint64
	unhealthy   bool
	diag        rate.Sometimes
}

func Open(cfg Config, obs ports.Observability) (*Log, error) {
	return open(cfg, obs, time.Now)
}

func open(cfg Config, obs ports.Observability, now func() time.Time) (*Log, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	l := &Log{
		cfg:    cfg,
		obs:    obs,
		now:    now,
		remove: os.Remove,
		diag:   rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
	if err := l.openActive(); err != nil {
		return nil, err
	}
	crash, err := os.OpenFile(l.crashPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = l.active.Close()
		return nil, err
	}
	l.crash = crash
	return l, nil
}

func (l *Log) activePath() string { return filepath.Join(l.cfg.Dir, ActiveFileName) }
func (l *Log) crashPath() string  { return filepath.Join(l.cfg.Dir, CrashFileName) }

func (l *Log) openActive() error {
	f, err := os.OpenFile(l.activePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	l.active = f
	l.sizeBytes = st.Size()
	return nil
}

// Append writes one record to the general log and rotates it once it reaches
// the size limit. A failure is counted and returned; callers keep sampling.
func (l *Log) Append(kind domain.RecordKind, payload any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.appendLocked(kind, payload)
	l.track(err)
	return err
}

// AppendCrash writes the package to the crash-only log and to the general log,
// syncing both before returning.
func (l *Log) AppendCrash(pkg *domain.CrashPackage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.appendCrashLocked(pkg)
	l.track(err)
	return err
}

func (l *Log) appendCrashLocked(pkg *domain.CrashPackage) error {
	if l.closed {
		return ErrClosed
	}
	line, err := encodeRecord(l.now(), domain.RecordCrashEvent, pkg)
	if err != nil {
		return err
	}
	if _, err := l.crash.Write(line); err != nil {
		return fmt.Errorf("blackbox crash write: %w", err)
	}
	if err := l.crash.Sync(); err != nil {
		return fmt.Errorf("blackbox crash sync: %w", err)
	}
	if err := l.writeActiveLocked(domain.RecordCrash, pkg, true); err != nil {
		return err
	}
	return l.maybeRotateLocked()
}

func (l *Log) appendLocked(kind domain.RecordKind, payload any) error {
	if l.closed {
		return ErrClosed
	}
	if err := l.writeActiveLocked(kind, payload, false); err != nil {
		return err
	}
	return l.maybeRotateLocked()
}

func (l *Log) writeActiveLocked(kind domain.RecordKind, payload any, sync bool) error {
	line, err := encodeRecord(l.now(), kind, payload)
	if err != nil {
		return err
	}
	// A rotation that could not reopen the log leaves active nil.
	if l.active == nil {
		if err := l.openActive(); err != nil {
			return fmt.Errorf("blackbox reopen: %w", err)
		}
	}
	n, err := l.active.Write(line)
	l.sizeBytes += int64(n)
	if err != nil {
		return fmt.Errorf("blackbox write: %w", err)
	}
	if sync {
		if err := l.active.Sync(); err != nil {
			return fmt.Errorf("blackbox sync: %w", err)
		}
	}
	return nil
}

func encodeRecord(ts time.Time, kind domain.RecordKind, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("blackbox encode payload: %w", err)
	}
	line, err := json.Marshal(domain.LogRecord{Timestamp: ts, Kind: kind, Payload: data})
	if err != nil {
		return nil, fmt.Errorf("blackbox encode record: %w", err)
	}
	return append(line, '\n'), nil
}

func (l *Log) maybeRotateLocked() error {
	if l.sizeBytes < l.cfg.MaxSizeBytes {
		return nil
	}
	return l.rotateLocked()
}

// rotateLocked archives the active log before removing it, so a reader sees
// either the full active log or the archive, never a truncated file. The old
// handle stays open until the log is unlinked, and a failed reopen is retried
// by the next append.
func (l *Log) rotateLocked() error {
	if err := l.active.Sync(); err != nil {
		return fmt.Errorf("blackbox rotate sync: %w", err)
	}

	archive := filepath.Join(l.cfg.Dir, archivePrefix+l.now().UTC().Format(archiveStamp)+archiveSuffix)
	if err := compressFile(l.activePath(), archive); err != nil {
		return fmt.Errorf("blackbox rotate archive: %w", err)
	}

	if err := l.remove(l.activePath()); err != nil {
		// The active log is intact; the next rotation archives it again.
		_ = os.Remove(archive)
		return fmt.Errorf("blackbox rotate remove: %w", err)
	}

	l.rotations++
	l.obs.IncCounter(ports.MetricBlackboxRotations, 1)
	l.obs.LogInfo("blackbox_rotated", ports.Field{Key: "archive", Value: filepath.Base(archive)})

	var errs []error
	old := l.active
	l.active, l.sizeBytes = nil, 0
	if err := old.Close(); err != nil {
		errs = append(errs, fmt.Errorf("blackbox rotate close: %w", err))
	}
	if err := l.openActive(); err != nil {
		errs = append(errs, fmt.Errorf("blackbox rotate reopen: %w", err))
	}
	errs = append(errs, l.pruneLocked())
	return errors.Join(errs...)
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := zw.Close(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func (l *Log) pruneLocked() error {
	archives, err := l.Archives()
	if err != nil {
		return fmt.Errorf("blackbox prune list: %w", err)
	}
	var errs []error
	for _, name := range archives[min(len(archives), l.cfg.Retention):] {
		if err := os.Remove(filepath.Join(l.cfg.Dir, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		l.obs.LogInfo("blackbox_archive_pruned", ports.Field{Key: "archive", Value: name})
	}
	return errors.Join(errs...)
}

// Archives lists archive file names, newest first.
func (l *Log) Archives() ([]string, error) {
	entries, err := os.ReadDir(l.cfg.Dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, archivePrefix) && strings.HasSuffix(name, archiveSuffix) {
			names = append(names, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// track updates failure counters and the health signal. Diagnostics for a
// persistently failing disk are rate limited; the counter is not.
func (l *Log) track(err error) {
	if err == nil {
		l.consecutive = 0
		if l.unhealthy {
			l.unhealthy = false
			l.obs.SetGauge(ports.GaugeBlackboxHealthy, 1)
			l.obs.LogInfo("blackbox_recovered")
		}
		l.obs.SetGauge(ports.GaugeBlackboxBytes, float64(l.sizeBytes))
		return
	}

	l.failures++
	l.consecutive++
	l.obs.IncCounter(ports.MetricBlackboxFailures, 1)
	l.diag.Do(func() {
		l.obs.LogError("blackbox_append_failed", err, ports.Field{Key: "consecutive", Value: l.consecutive})
	})
	if !l.unhealthy && l.consecutive >= uint64(l.cfg.FailureThreshold) {
		l.unhealthy = true
		l.obs.SetGauge(ports.GaugeBlackboxHealthy, 0)
		l.obs.LogCritical("blackbox_unhealthy", err, ports.Field{Key: "consecutive", Value: l.consecutive})
	}
}

func (l *Log) Stats() ports.EventLogStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ports.EventLogStats{
		ActiveSizeBytes:     l.sizeBytes,
		Rotations:           l.rotations,
		Failures:            l.failures,
		ConsecutiveFailures: l.consecutive,
	}
}

// Close syncs and closes both logs. It is safe to call more than once.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	for _, f := range []*os.File{l.active, l.crash} {
		if f == nil {
			continue
		}
		if err := f.Sync(); err != nil {
			errs = append(errs, err)
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReadRecent returns up to count trailing records of the active log, oldest
// first, optionally filtered by kind.
func (l *Log) ReadRecent(count int, kind domain.RecordKind) ([]domain.LogRecord, error) {
	return readTail(l.activePath(), count, kind)
}

// ReadCrashes returns up to count trailing crash-only records, oldest first.
func (l *Log) ReadCrashes(count int) ([]domain.LogRecord, error) {
	return ReadCrashFile(l.cfg.Dir, count)
}

// ReadCrashFile reads the crash-only log in dir without opening it for writing.
func ReadCrashFile(dir string, count int) ([]domain.LogRecord, error) {
	return readTail(filepath.Join(dir, CrashFileName), count, "")
}

func readTail(path string, count int, kind domain.RecordKind) ([]domain.LogRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	for sc.Scan() {
		lines = append(lines, append([]byte(nil), sc.Bytes()...))
		if count > 0 && len(lines) > count {
			lines = lines[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("blackbox read %s: %w", filepath.Base(path), err)
	}

	out := make([]domain.LogRecord, 0, len(lines))
	for _, line := range lines {
		var rec domain.LogRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("corrupt blackbox record: %w", err)
		}
		if kind != "" && rec.Kind != kind {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ ports.EventLog = (*Log)(nil)
