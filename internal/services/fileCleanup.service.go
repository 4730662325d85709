package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vidmill/config"

	logger "github.com/Bparsons0904/goLogger"
)

// tempPrefix marks in-flight artifacts. The leading dot keeps them out of
// listings; the job id segment keeps concurrent jobs off each other's files.
const tempPrefix = ".tmp-"

// TempArtifactName derives the working name for a job's in-flight file.
func TempArtifactName(jobID, finalName string) string {
	tag := jobID
	if len(tag) > 8 {
		tag = tag[:8]
	}
	return tempPrefix + tag + "-" + finalName
}

// IsTempArtifact reports whether a directory entry is an in-flight working
// file rather than a completed artifact.
func IsTempArtifact(name string) bool {
	return strings.HasPrefix(name, tempPrefix)
}

// FileCleanupService sweeps leftovers out of the download directory: temp
// artifacts orphaned by crashed or killed jobs. Jobs clean up after
// themselves on the happy path; this is the backstop.
type FileCleanupService struct {
	config config.Config
	log    logger.Logger
}

func NewFileCleanupService(config config.Config) *FileCleanupService {
	return &FileCleanupService{
		config: config,
		log:    logger.New("fileCleanupService"),
	}
}

// SweepTempArtifacts removes temp artifacts older than the cutoff, returning
// how many were deleted. Individual failures are logged and skipped so one
// stuck file does not shield the rest.
func (fcs *FileCleanupService) SweepTempArtifacts(
	ctx context.Context,
	olderThan time.Duration,
) (int, error) {
	log := fcs.log.Function("SweepTempArtifacts")

	dir := fcs.config.DownloadDir
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		log.Info("Download directory does not exist, nothing to sweep", "directory", dir)
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, log.Err("failed to read download directory", err, "directory", dir)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	var firstErr error

	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if entry.IsDir() || !IsTempArtifact(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Warn("failed to stat temp artifact", "name", entry.Name(), "error", err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		entryPath := filepath.Join(dir, entry.Name())
		if err := os.Remove(entryPath); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.Er("failed to remove temp artifact", err, "path", entryPath)
			continue
		}
		removed++
	}

	if firstErr != nil {
		return removed, log.Err("failed to remove some temp artifacts", firstErr, "removed", removed)
	}

	if removed > 0 {
		log.Info("Swept stale temp artifacts", "directory", dir, "removed", removed)
	}
	return removed, nil
}
