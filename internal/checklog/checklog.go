// internal/checklog/checklog.go - dated CSV mirror of probe outcomes
package checklog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/config"
	"github.com/John-MustangGT/ntripwatch/internal/database"
	"github.com/sirupsen/logrus"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02 15:04:05"
)

var header = []string{"timestamp", "caster", "success", "message"}

// Writer appends one row per probe to <dir>/<prefix>-YYYY-MM-DD.csv. A new
// file starts when the probe's UTC date changes.
type Writer struct {
	dir    string
	prefix string

	mu   sync.Mutex
	date string
	file *os.File
	csv  *csv.Writer
}

func NewWriter(cfg config.CheckLogConfig) (*Writer, error) {
	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create check log directory: %w", err)
	}
	return &Writer{dir: cfg.Directory, prefix: cfg.Prefix}, nil
}

// PathFor returns the file a probe taken at t is written to.
func (w *Writer) PathFor(t time.Time) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.csv", w.prefix, t.UTC().Format(dateLayout)))
}

// Append writes the probe and flushes it to disk.
func (w *Writer) Append(p *database.Probe) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotate(p.Timestamp); err != nil {
		return err
	}

	success := "0"
	if p.Success {
		success = "1"
	}
	row := []string{p.Timestamp.UTC().Format(timestampLayout), p.Caster, success, p.Message}
	if err := w.csv.Write(row); err != nil {
		return fmt.Errorf("failed to write check log row: %w", err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("failed to flush check log: %w", err)
	}
	return nil
}

// rotate opens the file for t's date, writing the header if the file is new.
func (w *Writer) rotate(t time.Time) error {
	date := t.UTC().Format(dateLayout)
	if w.file != nil && w.date == date {
		return nil
	}
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}

	path := w.PathFor(t)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open check log %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat check log %s: %w", path, err)
	}

	w.file = f
	w.date = date
	w.csv = csv.NewWriter(f)

	if info.Size() == 0 {
		if err := w.csv.Write(header); err != nil {
			return fmt.Errorf("failed to write check log header: %w", err)
		}
		logrus.WithField("path", path).Info("Started new check log")
	}
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	w.csv.Flush()
	err := w.file.Close()
	w.file = nil
	return err
}

// ListFiles returns the dated check log files in dir for prefix, oldest first.
func ListFiles(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := fileDate(e.Name(), prefix); !ok {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Prune deletes check log files whose date is more than retentionDays
// before now. Zero retention keeps everything.
func Prune(dir, prefix string, retentionDays int, now time.Time) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	paths, err := ListFiles(dir, prefix)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list check logs: %w", err)
	}

	today := now.UTC().Truncate(24 * time.Hour)
	cutoff := today.AddDate(0, 0, -retentionDays)

	removed := 0
	for _, p := range paths {
		date, _ := fileDate(filepath.Base(p), prefix)
		if !date.Before(cutoff) {
			continue
		}
		if err := os.Remove(p); err != nil {
			logrus.WithError(err).WithField("path", p).Warn("Failed to remove old check log")
			continue
		}
		removed++
	}
	return removed, nil
}

func fileDate(name, prefix string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(name, prefix+"-")
	if !ok {
		return time.Time{}, false
	}
	rest, ok = strings.CutSuffix(rest, ".csv")
	if !ok {
		return time.Time{}, false
	}
	date, err := time.Parse(dateLayout, rest)
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}
