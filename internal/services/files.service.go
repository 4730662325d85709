package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"vidmill/config"
	"vidmill/internal/models"
	"vidmill/internal/utils"

	logger "github.com/Bparsons0904/goLogger"
)

// FileService manages completed artifacts in the download directory:
// listing, renaming, deleting, and resolving names for the pipelines that
// start from an existing file.
type FileService struct {
	config config.Config
	log    logger.Logger
}

func NewFileService(config config.Config) *FileService {
	return &FileService{
		config: config,
		log:    logger.New("fileService"),
	}
}

// List returns the completed artifacts, newest first. In-flight temp files
// are not artifacts and stay hidden.
func (fs *FileService) List(ctx context.Context) ([]models.StoredFile, error) {
	log := fs.log.Function("List")

	dir := fs.config.DownloadDir
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []models.StoredFile{}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, log.Err("failed to read download directory", err, "directory", dir)
	}

	files := make([]models.StoredFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || IsTempArtifact(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			log.Warn("failed to stat file", "name", entry.Name(), "error", err)
			continue
		}
		files = append(files, models.StoredFile{
			Name:       entry.Name(),
			Size:       info.Size(),
			SizeHuman:  utils.HumanSize(info.Size()),
			ModifiedAt: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModifiedAt.After(files[j].ModifiedAt)
	})

	return files, nil
}

// Path resolves an artifact name to its absolute path, rejecting names that
// escape the download directory or do not exist.
func (fs *FileService) Path(name string) (string, error) {
	path, err := utils.SafeJoin(fs.config.DownloadDir, name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// Delete removes a completed artifact.
func (fs *FileService) Delete(ctx context.Context, name string) error {
	log := fs.log.Function("Delete")

	path, err := fs.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return log.Err("failed to delete file", err, "path", path)
	}

	log.Info("Deleted file", "name", name)
	return nil
}

// Rename gives an artifact a new sanitized name, keeping the old extension
// when the new name has none. Refuses to clobber an existing file.
func (fs *FileService) Rename(ctx context.Context, name, newName string) (string, error) {
	log := fs.log.Function("Rename")

	oldPath, err := fs.Path(name)
	if err != nil {
		return "", err
	}

	cleaned := utils.SanitizeFilename(newName)
	if cleaned == "" {
		return "", &MissingParameterError{Param: "new_name"}
	}
	if filepath.Ext(cleaned) == "" {
		cleaned += filepath.Ext(oldPath)
	}

	newPath, err := utils.SafeJoin(fs.config.DownloadDir, cleaned)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(newPath); err == nil {
		return "", fmt.Errorf("a file named %s already exists", cleaned)
	}

	if err := os.Rename(oldPath, newPath); err != nil {
		return "", log.Err("failed to rename file", err, "from", name, "to", cleaned)
	}

	log.Info("Renamed file", "from", name, "to", cleaned)
	return cleaned, nil
}
