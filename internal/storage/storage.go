// Package storage implements the Storage Service §4.8 consumes: free-space
// queries and age-based cleanup of recorded segments. It is the only
// collaborator the rotator and the DISK_FULL fault handler talk to; nothing
// else in this repo touches the filesystem's free-space accounting directly.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
)

// Logger is the narrow logging surface the package needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Service implements the Storage Service contract. It holds no per-camera
// state: every call is parameterized by path, so it is safe for concurrent
// callers across cameras (§4.8 "safe under concurrent callers").
type Service struct {
	logger Logger
}

// New creates a Storage Service. logger may be nil, in which case cleanup
// activity is not logged.
func New(logger Logger) *Service {
	return &Service{logger: logger}
}

func (s *Service) logf(info bool, format string, args ...any) {
	if s.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if info {
		s.logger.Info(msg)
	} else {
		s.logger.Warn(msg)
	}
}

// FreeSpaceGB returns the free space, in gigabytes, on the filesystem backing
// path. path need not exist yet; its nearest existing ancestor is queried.
func (s *Service) FreeSpaceGB(path string) (float64, error) {
	probe := nearestExistingAncestor(path)
	usage, err := disk.Usage(probe)
	if err != nil {
		return 0, fmt.Errorf("querying free space for %q: %w", probe, err)
	}
	return float64(usage.Free) / (1024 * 1024 * 1024), nil
}

// AutoCleanup deletes files under root older than maxAge, oldest first,
// stopping once minFreeTargetGB of free space is reached (or the candidate
// list is exhausted). It returns the number of files deleted. Safe to call
// concurrently: each delete is a single atomic os.Remove, idempotent against
// a file already gone (ignored, not an error).
func (s *Service) AutoCleanup(ctx context.Context, root string, maxAge time.Duration, minFreeTargetGB float64) (int, error) {
	candidates, err := collectStaleFiles(root, maxAge)
	if err != nil {
		return 0, fmt.Errorf("scanning %q for cleanup candidates: %w", root, err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.Before(candidates[j].modTime)
	})

	deleted := 0
	for _, c := range candidates {
		select {
		case <-ctx.Done():
			return deleted, ctx.Err()
		default:
		}

		free, err := s.FreeSpaceGB(root)
		if err == nil && free >= minFreeTargetGB {
			break
		}

		if err := os.Remove(c.path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			s.logf(false, "cleanup: failed to remove %s: %v", c.path, err)
			continue
		}
		deleted++
		s.logf(true, "cleanup: removed %s (%s, age %s)", c.path, humanize.Bytes(uint64(c.size)), humanize.Time(c.modTime))
	}

	return deleted, nil
}

type staleFile struct {
	path    string
	modTime time.Time
	size    int64
}

// collectStaleFiles walks root (which nests {camera_id}/{date}/ per §3)
// collecting regular files older than maxAge.
func collectStaleFiles(root string, maxAge time.Duration) ([]staleFile, error) {
	cutoff := time.Now().Add(-maxAge)
	var out []staleFile

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		out = append(out, staleFile{path: path, modTime: info.ModTime(), size: info.Size()})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return out, nil
}

// nearestExistingAncestor walks up from path until it finds a directory that
// exists, so FreeSpaceGB can be queried before the per-day directory has been
// created yet.
func nearestExistingAncestor(path string) string {
	p := path
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
