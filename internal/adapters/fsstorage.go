package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	argerr "github.com/argus-soc/argus/internal/errors"
)

// FSStorage is a local-filesystem Storage adapter. It serves as the default
// evidence store for single-node deployments; object-store backends plug in
// behind the same interface.
type FSStorage struct {
	name string
	root string
}

// NewFSStorage builds a filesystem storage adapter rooted at dir.
func NewFSStorage(name, dir string) *FSStorage {
	return &FSStorage{name: name, root: dir}
}

// Name implements Adapter.
func (s *FSStorage) Name() string { return s.name }

// Connect implements Adapter.
func (s *FSStorage) Connect(ctx context.Context) error {
	return os.MkdirAll(s.root, 0o750)
}

// Disconnect implements Adapter.
func (s *FSStorage) Disconnect(ctx context.Context) error { return nil }

// HealthCheck implements Adapter.
func (s *FSStorage) HealthCheck(ctx context.Context) (*Health, error) {
	if _, err := os.Stat(s.root); err != nil {
		return &Health{Status: HealthUnhealthy, Message: err.Error()}, nil
	}
	return &Health{Status: HealthHealthy}, nil
}

// GetConfig implements Adapter.
func (s *FSStorage) GetConfig() map[string]interface{} {
	return map[string]interface{}{"root": s.root}
}

func (s *FSStorage) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if strings.Contains(clean, "..") {
		return "", argerr.Validationf("storage_path", "invalid path %q", path)
	}
	return filepath.Join(s.root, clean), nil
}

// UploadBytes implements Storage.
func (s *FSStorage) UploadBytes(ctx context.Context, path string, data []byte) (*FileMetadata, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o640); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return &FileMetadata{
		Path:       path,
		Size:       int64(len(data)),
		SHA256:     hex.EncodeToString(sum[:]),
		ModifiedAt: time.Now().UTC(),
	}, nil
}

// UploadFile implements Storage.
func (s *FSStorage) UploadFile(ctx context.Context, path, localPath string) (*FileMetadata, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", localPath, err)
	}
	return s.UploadBytes(ctx, path, data)
}

// DownloadBytes implements Storage.
func (s *FSStorage) DownloadBytes(ctx context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, argerr.NotFound("storage_download", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// DownloadFile implements Storage.
func (s *FSStorage) DownloadFile(ctx context.Context, path, localPath string) error {
	data, err := s.DownloadBytes(ctx, path)
	if err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0o640)
}

// StreamDownload implements Storage.
func (s *FSStorage) StreamDownload(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if os.IsNotExist(err) {
		return nil, argerr.NotFound("storage_download", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

// Exists implements Storage.
func (s *FSStorage) Exists(ctx context.Context, path string) (bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// GetMetadata implements Storage.
func (s *FSStorage) GetMetadata(ctx context.Context, path string) (*FileMetadata, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if os.IsNotExist(err) {
		return nil, argerr.NotFound("storage_metadata", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return &FileMetadata{Path: path, Size: info.Size(), ModifiedAt: info.ModTime().UTC()}, nil
}

// ListFiles implements Storage.
func (s *FSStorage) ListFiles(ctx context.Context, prefix string) ([]FileMetadata, error) {
	var out []FileMetadata
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(rel, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, FileMetadata{Path: rel, Size: info.Size(), ModifiedAt: info.ModTime().UTC()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list storage: %w", err)
	}
	return out, nil
}

// GetStats implements Storage.
func (s *FSStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	files, err := s.ListFiles(ctx, "")
	if err != nil {
		return nil, err
	}
	stats := &StorageStats{Files: int64(len(files))}
	for _, f := range files {
		stats.TotalBytes += f.Size
	}
	return stats, nil
}

// Copy implements Storage.
func (s *FSStorage) Copy(ctx context.Context, src, dst string) error {
	data, err := s.DownloadBytes(ctx, src)
	if err != nil {
		return err
	}
	_, err = s.UploadBytes(ctx, dst, data)
	return err
}

// Move implements Storage.
func (s *FSStorage) Move(ctx context.Context, src, dst string) error {
	if err := s.Copy(ctx, src, dst); err != nil {
		return err
	}
	return s.Delete(ctx, src)
}

// Delete implements Storage.
func (s *FSStorage) Delete(ctx context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return argerr.NotFound("storage_delete", path)
		}
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// DeleteMany implements Storage. It returns how many paths were removed;
// missing paths are skipped, other errors abort.
func (s *FSStorage) DeleteMany(ctx context.Context, paths []string) (int, error) {
	deleted := 0
	for _, p := range paths {
		err := s.Delete(ctx, p)
		if err == nil {
			deleted++
			continue
		}
		if argerr.KindOf(err) == argerr.KindNotFound {
			continue
		}
		return deleted, err
	}
	return deleted, nil
}

// PresignedURL implements Storage. Local files have no URL scheme a browser
// could use across hosts, so this returns a file URI valid on this node.
func (s *FSStorage) PresignedURL(ctx context.Context, path string, expiry time.Duration) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); err != nil {
		return "", argerr.NotFound("storage_presign", path)
	}
	return "file://" + full, nil
}
