// Package ttsutils provides file and path utility functions for the voice service.
//
// The helpers here cover the scratch-file lifecycle of a pipeline call: resolving
// the working directory, naming temporary audio files so concurrent invocations
// never collide, and removing them again without turning cleanup into a failure.
package ttsutils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common application directory and path constants.
const (
	appName                = "voice-service"
	scratchDirName         = "scratch"
	defaultDirPermissions  = 0o750
	dot                    = "."
	invalidCharReplacement = "_"
	uuidSuffixLength       = 8
)

// Data size constants.
const (
	byteUnit = 1
	kilobyte = byteUnit * 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
	formatTempName  = "%s_%d_%s%s"
)

// File extension constants.
const (
	extAAC  = ".aac"
	extFLAC = ".flac"
	extM4A  = ".m4a"
	extMP3  = ".mp3"
	extOGG  = ".ogg"
	extWAV  = ".wav"
)

// Error message and format string constants.
const (
	errFmtFailedToCreateDir = "failed to create directory %s: %w"
	errFmtFailedToRemove    = "failed to remove %s: %w"
)

// Remover is the minimal logging surface RemoveQuietly reports through.
type Remover interface {
	Warn(format string, args ...any)
}

// ScratchDir returns the directory temporary audio files are written to. An
// explicit configured directory wins; otherwise a scratch directory under the
// system temp dir is used.
func ScratchDir(configured string) string {
	if configured != "" {
		return configured
	}

	return filepath.Join(os.TempDir(), appName, scratchDirName)
}

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(path string) error {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		mkdirErr := os.MkdirAll(path, defaultDirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf(
				errFmtFailedToCreateDir,
				path,
				mkdirErr,
			)
		}
	}

	return nil
}

// TempName builds a collision-resistant file path inside dir. The name carries a
// nanosecond timestamp plus a short random suffix, so concurrent pipeline calls
// started within the same clock tick still get distinct files.
func TempName(dir, prefix, ext string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:uuidSuffixLength]
	if ext != "" && !strings.HasPrefix(ext, dot) {
		ext = dot + ext
	}

	name := fmt.Sprintf(formatTempName, SanitizeFilename(prefix), time.Now().UnixNano(), suffix, ext)

	return filepath.Join(dir, name)
}

// RemoveFile deletes path. A file that is already gone is not an error.
func RemoveFile(path string) error {
	if path == "" {
		return nil
	}

	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf(errFmtFailedToRemove, path, err)
	}

	return nil
}

// RemoveQuietly deletes every path and reports failures through log instead of
// returning them. It is meant for deferred cleanup on all exit paths.
func RemoveQuietly(log Remover, paths ...string) {
	for _, path := range paths {
		err := RemoveFile(path)
		if err != nil && log != nil {
			log.Warn("Failed to remove temp file '%s': %v", path, err)
		}
	}
}

// FileSize returns the size of the file at path, or 0 when it cannot be stat'ed.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}

	return info.Size()
}

// FormatDuration formats a duration in a human-readable string (e.g., "1h 15m", "5m
// 30.5s", "45.2s").
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a byte count in a human-readable string (e.g., "1.2 GB").
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

// IsValidAudioFile checks if a filename has a common audio file extension.
func IsValidAudioFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case extWAV, extMP3, extFLAC, extOGG, extM4A, extAAC:
		return true
	default:
		return false
	}
}

// SanitizeFilename removes or replaces characters that are invalid in most filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
		" ", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}
