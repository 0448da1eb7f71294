// Package cleanup removes session audio after a combine, ages out old combined
// artifacts and reports storage usage below the outputs directory.
package cleanup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-session-service/internal/session"
	"github.com/dustin/go-humanize"
)

// Storage warning thresholds.
const (
	warnTotalSizeBytes   = 1 << 30
	warnCombinedFiles    = 100
	warnOldestAgeMinutes = 24 * 60
)

// Report messages.
const (
	errFmtFileDelete    = "file deletion failed: %s: %v"
	errFmtDirDelete     = "directory cleanup failed: %s: %v"
	errFmtSweepStat     = "error processing %s: %v"
	errFmtSweepDelete   = "failed to delete %s: %v"
	errFmtSweepList     = "failed to list %s: %v"
	errFmtStatEntry     = "error reading %s: %v"
	warnFmtTotalSize    = "outputs directory holds %s (over %s)"
	warnFmtCombined     = "%d combined files are waiting for collection (over %d)"
	warnFmtOldest       = "oldest file is %.0f minutes old (over %d)"
	logFmtSessionStart  = "Starting session cleanup: %s"
	logFmtSessionDone   = "Session cleanup completed for %s: %d files, %s"
	logFmtSessionFailed = "Session cleanup for %s finished with %d errors"
	logFmtFileFailed    = "Failed to delete %s: %v"
	logFmtSweepDeleted  = "Removed old combined file %s (%s, %.1f min old)"
	logFmtSweepDone     = "Combined sweep removed %d files, %s freed"
)

// Result reports what a cleanup pass removed. Errors are per-item and never
// abort the pass.
type Result struct {
	Errors       []string `json:"errors"`
	DeletedFiles int      `json:"deletedFiles"`
	DeletedSize  int64    `json:"deletedSize"`
	Success      bool     `json:"success"`
}

// StorageInfo summarizes the contents of the outputs directory.
type StorageInfo struct {
	Warnings             []string `json:"warnings"`
	TotalSizeHuman       string   `json:"total_size_human"`
	TotalFiles           int      `json:"total_files"`
	TotalSize            int64    `json:"total_size"`
	CombinedFiles        int      `json:"combined_files"`
	CombinedSize         int64    `json:"combined_size"`
	TempDirectories      int      `json:"temp_directories"`
	TempFiles            int      `json:"temp_files"`
	TempSize             int64    `json:"temp_size"`
	OldestFileAgeMinutes float64  `json:"oldest_file_age_minutes"`
	OutputsDirExists     bool     `json:"outputs_dir_exists"`
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithClock replaces the wall clock used for age calculations.
func WithClock(clock func() time.Time) Option {
	return func(c *Cleaner) {
		c.clock = clock
	}
}

// WithRemoveAll replaces the function that removes a session directory tree.
func WithRemoveAll(removeAll func(path string) error) Option {
	return func(c *Cleaner) {
		c.removeAll = removeAll
	}
}

// Cleaner deletes session files following the directory convention of layout.
type Cleaner struct {
	log       *logger.Logger
	clock     func() time.Time
	removeAll func(path string) error
	layout    session.Layout
}

// New creates a Cleaner.
func New(layout session.Layout, log *logger.Logger, opts ...Option) *Cleaner {
	cleaner := &Cleaner{log: log, clock: time.Now, removeAll: os.RemoveAll, layout: layout}
	for _, opt := range opts {
		opt(cleaner)
	}

	return cleaner
}

// CleanSession deletes the session's numbered audio files and then its
// directory tree. Cleaning a missing session succeeds with zero deletions.
// When the directory removal fails, the pass still succeeds if at least one
// file was deleted. The error return is reserved for an invalid identifier.
func (c *Cleaner) CleanSession(sessionID string) (Result, error) {
	safeID, err := session.Validate(sessionID)
	if err != nil {
		return Result{Errors: nil, DeletedFiles: 0, DeletedSize: 0, Success: false}, err
	}

	result := Result{Errors: []string{}, DeletedFiles: 0, DeletedSize: 0, Success: false}
	c.log.Info(logFmtSessionStart, safeID)

	c.deleteAudioFiles(c.layout.AudioDir(safeID), &result)

	sessionDir := c.layout.SessionDir(safeID)

	removeErr := c.removeAll(sessionDir)
	if removeErr != nil {
		result.Errors = append(result.Errors, fmt.Sprintf(errFmtDirDelete, sessionDir, removeErr))
		result.Success = result.DeletedFiles > 0
	} else {
		result.Success = true
	}

	if result.Success {
		c.log.Info(logFmtSessionDone, safeID, result.DeletedFiles, humanize.Bytes(uint64(result.DeletedSize)))
	} else {
		c.log.Warn(logFmtSessionFailed, safeID, len(result.Errors))
	}

	return result, nil
}

func (c *Cleaner) deleteAudioFiles(dir string, result *Result) {
	names, err := session.ListAudioFiles(dir)
	if err != nil {
		return
	}

	for _, name := range names {
		path := filepath.Join(dir, name)

		var size int64
		if info, statErr := os.Stat(path); statErr == nil {
			size = info.Size()
		}

		removeErr := os.Remove(path)
		if removeErr != nil {
			result.Errors = append(result.Errors, fmt.Sprintf(errFmtFileDelete, name, removeErr))
			c.log.Warn(logFmtFileFailed, path, removeErr)

			continue
		}

		result.DeletedFiles++
		result.DeletedSize += size
	}
}

// SweepOldCombined deletes top-level combined artifacts whose modification
// time is more than maxAgeMinutes in the past.
func (c *Cleaner) SweepOldCombined(maxAgeMinutes float64) Result {
	result := Result{Errors: []string{}, DeletedFiles: 0, DeletedSize: 0, Success: true}
	root := c.layout.Root()

	entries, err := os.ReadDir(root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf(errFmtSweepList, root, err))
		}

		return result
	}

	now := c.clock()
	maxAge := time.Duration(maxAgeMinutes * float64(time.Minute))

	for _, entry := range entries {
		if entry.IsDir() || !session.IsCombinedArtifact(entry.Name()) {
			continue
		}

		path := filepath.Join(root, entry.Name())

		info, infoErr := entry.Info()
		if infoErr != nil {
			result.Errors = append(result.Errors, fmt.Sprintf(errFmtSweepStat, entry.Name(), infoErr))

			continue
		}

		age := now.Sub(info.ModTime())
		if age <= maxAge {
			continue
		}

		removeErr := os.Remove(path)
		if removeErr != nil {
			result.Errors = append(result.Errors, fmt.Sprintf(errFmtSweepDelete, entry.Name(), removeErr))
			c.log.Warn(logFmtFileFailed, path, removeErr)

			continue
		}

		result.DeletedFiles++
		result.DeletedSize += info.Size()
		c.log.Info(logFmtSweepDeleted, entry.Name(), humanize.Bytes(uint64(info.Size())), age.Minutes())
	}

	if result.DeletedFiles > 0 {
		c.log.Info(logFmtSweepDone, result.DeletedFiles, humanize.Bytes(uint64(result.DeletedSize)))
	}

	return result
}

// CleanAll cleans every session directory below the outputs directory and
// returns the aggregated result.
func (c *Cleaner) CleanAll() Result {
	total := Result{Errors: []string{}, DeletedFiles: 0, DeletedSize: 0, Success: true}

	entries, err := os.ReadDir(c.layout.Root())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			total.Success = false
			total.Errors = append(total.Errors, fmt.Sprintf(errFmtSweepList, c.layout.Root(), err))
		}

		return total
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		result, cleanErr := c.CleanSession(entry.Name())
		if cleanErr != nil {
			total.Errors = append(total.Errors, cleanErr.Error())

			continue
		}

		total.DeletedFiles += result.DeletedFiles
		total.DeletedSize += result.DeletedSize
		total.Errors = append(total.Errors, result.Errors...)
		total.Success = total.Success && result.Success
	}

	return total
}

// StorageInfo walks the outputs directory. Unreadable entries become warnings.
func (c *Cleaner) StorageInfo() StorageInfo {
	info := StorageInfo{Warnings: []string{}, TotalSizeHuman: humanize.Bytes(0)}
	root := c.layout.Root()

	entries, err := os.ReadDir(root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			info.Warnings = append(info.Warnings, fmt.Sprintf(errFmtStatEntry, root, err))
		}

		return info
	}

	info.OutputsDirExists = true
	now := c.clock()
	oldest := now

	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())

		if entry.IsDir() {
			info.TempDirectories++
			oldest = c.walkSessionDir(path, &info, oldest)

			continue
		}

		stat, statErr := entry.Info()
		if statErr != nil {
			info.Warnings = append(info.Warnings, fmt.Sprintf(errFmtStatEntry, entry.Name(), statErr))

			continue
		}

		info.TotalFiles++
		info.TotalSize += stat.Size()
		oldest = earlier(oldest, stat.ModTime())

		if session.IsCombinedArtifact(entry.Name()) {
			info.CombinedFiles++
			info.CombinedSize += stat.Size()
		}
	}

	if oldest.Before(now) {
		info.OldestFileAgeMinutes = now.Sub(oldest).Minutes()
	}

	info.TotalSizeHuman = humanize.Bytes(uint64(info.TotalSize))
	info.Warnings = append(info.Warnings, usageWarnings(info)...)

	return info
}

func (c *Cleaner) walkSessionDir(dir string, info *StorageInfo, oldest time.Time) time.Time {
	walkErr := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			info.Warnings = append(info.Warnings, fmt.Sprintf(errFmtStatEntry, path, err))

			return nil
		}

		if entry.IsDir() {
			return nil
		}

		stat, statErr := entry.Info()
		if statErr != nil {
			info.Warnings = append(info.Warnings, fmt.Sprintf(errFmtStatEntry, path, statErr))

			return nil
		}

		info.TempFiles++
		info.TempSize += stat.Size()
		info.TotalFiles++
		info.TotalSize += stat.Size()
		oldest = earlier(oldest, stat.ModTime())

		return nil
	})
	if walkErr != nil {
		info.Warnings = append(info.Warnings, fmt.Sprintf(errFmtStatEntry, dir, walkErr))
	}

	return oldest
}

func usageWarnings(info StorageInfo) []string {
	var warnings []string

	if info.TotalSize > warnTotalSizeBytes {
		warnings = append(warnings, fmt.Sprintf(warnFmtTotalSize,
			humanize.Bytes(uint64(info.TotalSize)), humanize.Bytes(warnTotalSizeBytes)))
	}

	if info.CombinedFiles > warnCombinedFiles {
		warnings = append(warnings, fmt.Sprintf(warnFmtCombined, info.CombinedFiles, warnCombinedFiles))
	}

	if info.OldestFileAgeMinutes > warnOldestAgeMinutes {
		warnings = append(warnings, fmt.Sprintf(warnFmtOldest, info.OldestFileAgeMinutes, warnOldestAgeMinutes))
	}

	return warnings
}

func earlier(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}

	return a
}
