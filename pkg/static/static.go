// Package static collects static assets into one directory and precompresses them.
package static

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// CacheDirSuffix guards ClearCache against deleting an arbitrary directory.
const CacheDirSuffix = "CACHE"

// ErrUnsafeCacheDir is returned when the cache directory does not end in CacheDirSuffix.
var ErrUnsafeCacheDir = errors.New("refusing to remove cache directory")

// compressible lists extensions worth gzipping; images and archives are already compressed.
var compressible = map[string]bool{
	".css": true, ".js": true, ".map": true, ".html": true, ".htm": true,
	".svg": true, ".json": true, ".txt": true, ".xml": true, ".csv": true,
}

// Collector copies assets from source directories into Root and gzips them into CacheDir.
type Collector struct {
	Sources  []string
	Root     string
	CacheDir string
	logger   *zap.Logger
}

// NewCollector creates a Collector. cacheDir may be empty to skip compression.
func NewCollector(sources []string, root, cacheDir string, logger *zap.Logger) *Collector {
	return &Collector{
		Sources:  sources,
		Root:     root,
		CacheDir: cacheDir,
		logger:   logger.Named("static"),
	}
}

// Collect copies every file under the source directories into Root, keeping
// relative paths. When two sources hold the same path the earlier source wins.
// Missing source directories are skipped. Returns the number of files copied.
func (c *Collector) Collect() (int, error) {
	seen := make(map[string]bool)
	copied := 0

	for _, src := range c.Sources {
		info, err := os.Stat(src)
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("Static source missing, skipping", zap.String("dir", src))
			continue
		}
		if err != nil {
			return copied, fmt.Errorf("failed to stat %s: %w", src, err)
		}
		if !info.IsDir() {
			return copied, fmt.Errorf("static source %s is not a directory", src)
		}

		err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(src, path)
			if err != nil {
				return err
			}
			if seen[rel] {
				c.logger.Debug("Static file shadowed", zap.String("path", rel), zap.String("source", src))
				return nil
			}
			seen[rel] = true

			if err := copyFile(path, filepath.Join(c.Root, rel)); err != nil {
				return err
			}
			copied++
			return nil
		})
		if err != nil {
			return copied, fmt.Errorf("failed to collect %s: %w", src, err)
		}
	}

	c.logger.Info("Collected static files", zap.Int("files", copied), zap.String("root", c.Root))
	return copied, nil
}

// Compress writes a .gz copy of every compressible file under Root into
// CacheDir, keeping relative paths. Returns the number of files written.
func (c *Collector) Compress() (int, error) {
	if c.CacheDir == "" {
		return 0, nil
	}

	written := 0
	err := filepath.WalkDir(c.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !compressible[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(c.Root, path)
		if err != nil {
			return err
		}
		if err := gzipFile(path, filepath.Join(c.CacheDir, rel+".gz")); err != nil {
			return err
		}
		written++
		return nil
	})
	if err != nil {
		return written, fmt.Errorf("failed to compress static files: %w", err)
	}

	c.logger.Info("Compressed static files", zap.Int("files", written), zap.String("dir", c.CacheDir))
	return written, nil
}

// ClearCache removes dir when it exists and its name ends in CacheDirSuffix.
// Returns false when there was nothing to remove.
func ClearCache(dir string) (bool, error) {
	clean := filepath.Clean(dir)
	if !strings.HasSuffix(clean, CacheDirSuffix) {
		return false, fmt.Errorf("%w: %s does not end in %s", ErrUnsafeCacheDir, clean, CacheDirSuffix)
	}

	info, err := os.Stat(clean)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", clean, err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%w: %s is not a directory", ErrUnsafeCacheDir, clean)
	}

	if err := os.RemoveAll(clean); err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", clean, err)
	}
	return true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return writeFile(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return writeFile(dst, func(w io.Writer) error {
		gz, err := gzip.NewWriterLevel(w, gzip.BestCompression)
		if err != nil {
			return err
		}
		if _, err := io.Copy(gz, in); err != nil {
			return err
		}
		return gz.Close()
	})
}

// writeFile creates dst and its parent directories and fills it with fill.
func writeFile(dst string, fill func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := fill(out); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return out.Close()
}
