package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// PruneRunLogs keeps the newest keep files in dir matching pattern and
// removes the rest. exclude (usually the current run's log) is never
// removed. keep <= 0 disables pruning.
func PruneRunLogs(logger *slog.Logger, dir, pattern string, keep int, exclude string) {
	dir = strings.TrimSpace(dir)
	if keep <= 0 || dir == "" {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	if abs, err := filepath.Abs(exclude); err == nil {
		exclude = abs
	}

	type candidate struct {
		path    string
		modTime int64
	}
	var files []candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if matched, err := filepath.Match(pattern, entry.Name()); err != nil || !matched {
			continue
		}
		fullPath, err := filepath.Abs(filepath.Join(dir, entry.Name()))
		if err != nil || fullPath == exclude {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{path: fullPath, modTime: info.ModTime().UnixNano()})
	}
	// the excluded file counts toward keep
	if exclude != "" {
		keep--
	}
	if len(files) <= keep {
		return
	}
	slices.SortFunc(files, func(a, b candidate) int {
		switch {
		case a.modTime > b.modTime:
			return -1
		case a.modTime < b.modTime:
			return 1
		default:
			return strings.Compare(a.path, b.path)
		}
	})
	for _, file := range files[max(keep, 0):] {
		if err := os.Remove(file.path); err != nil {
			WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
				String("path", file.path),
				Error(err),
				String(FieldErrorHint, "check file permissions and log_dir ownership"),
				String(FieldImpact, "old log file remains on disk"),
			)
			continue
		}
		if logger != nil {
			logger.Debug("log pruned",
				String("path", file.path),
				String(FieldEventType, "log_pruned"),
			)
		}
	}
}
