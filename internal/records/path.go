// Package records names and finds record files in the records directory.
package records

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// TimestampLayout is the YYYYMMDD_HHMMSS prefix of every record name.
const TimestampLayout = "20060102_150405"

// nameSuffix follows the timestamp in every record name.
const nameSuffix = "_audio"

// ErrNoRecords is returned by Latest when the directory holds no records.
var ErrNoRecords = errors.New("no records found")

// NextPath returns <dir>/<YYYYMMDD_HHMMSS>_audio.<ext>, appending _1, _2, ...
// until the name does not exist yet.
func NextPath(dir, ext string, now time.Time) (string, error) {
	ext = strings.TrimPrefix(ext, ".")
	base := now.Format(TimestampLayout) + nameSuffix

	candidate := filepath.Join(dir, base+"."+ext)
	for i := 1; ; i++ {
		_, err := os.Stat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("check %s: %w", candidate, err)
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d.%s", base, i, ext))
	}
}

// maxCreateAttempts bounds Create against a directory that keeps gaining
// files with the same name.
const maxCreateAttempts = 100

// Create claims the next free record name for now by creating the file with
// O_EXCL, choosing a new name whenever another writer took the candidate
// first. The file is opened for appending.
func Create(dir, ext string, now time.Time) (*os.File, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		path, err := NextPath(dir, ext, now)
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("no free record name for %s after %d attempts", now.Format(TimestampLayout), maxCreateAttempts)
}

// Latest returns the most recently modified non-empty record with extension
// ext.
func Latest(dir, ext string) (string, error) {
	ext = "." + strings.TrimPrefix(ext, ".")

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoRecords
		}
		return "", fmt.Errorf("read records directory: %w", err)
	}

	type record struct {
		path    string
		modTime time.Time
	}
	var found []record
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			continue
		}
		if !strings.Contains(entry.Name(), nameSuffix) {
			continue
		}
		info, err := entry.Info()
		// Empty files are takes that have not flushed yet.
		if err != nil || info.Size() == 0 {
			continue
		}
		found = append(found, record{path: filepath.Join(dir, entry.Name()), modTime: info.ModTime()})
	}
	if len(found) == 0 {
		return "", ErrNoRecords
	}

	// Newest first; names break ties so records made within one mtime tick
	// still sort by their timestamp and suffix.
	sort.Slice(found, func(i, j int) bool {
		if !found[i].modTime.Equal(found[j].modTime) {
			return found[i].modTime.After(found[j].modTime)
		}
		return found[i].path > found[j].path
	})
	return found[0].path, nil
}
