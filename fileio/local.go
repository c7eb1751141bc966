package fileio

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const chunkBoundary = 1024 * 1024

// Local is the default FileIO implementation used when no GUI collaborator
// supplies its own.
type Local struct {
	downloadDir string
}

// NewLocal constructs a Local rooted at downloadDir for DefaultDownloadDir.
func NewLocal(downloadDir string) *Local {
	return &Local{downloadDir: downloadDir}
}

// ReadFile reads path fully, reporting progress at 1 MiB boundaries.
func (l *Local) ReadFile(path string, progress ProgressFunc) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fileio: open %q: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("fileio: stat %q: %w", path, err)
	}
	total := info.Size()
	name := filepath.Base(path)

	data := make([]byte, 0, total)
	buf := make([]byte, chunkBoundary)
	var done int64
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
			done += int64(n)
			if progress != nil {
				progress(done, total, name)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("fileio: read %q: %w", path, readErr)
		}
		if n == 0 {
			break
		}
	}

	return data, nil
}

// WriteFile writes data to path, creating parent directories, reporting
// progress at 1 MiB boundaries.
func (l *Local) WriteFile(path string, data []byte, progress ProgressFunc) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("fileio: create parent directories for %q: %w", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fileio: create %q: %w", path, err)
	}
	defer f.Close()

	name := filepath.Base(path)
	total := int64(len(data))
	var done int64
	for done < total {
		end := done + chunkBoundary
		if end > total {
			end = total
		}
		if _, err := f.Write(data[done:end]); err != nil {
			return fmt.Errorf("fileio: write %q: %w", path, err)
		}
		done = end
		if progress != nil {
			progress(done, total, name)
		}
	}
	if total == 0 && progress != nil {
		progress(0, 0, name)
	}

	return nil
}

// FileExists reports whether path exists.
func (l *Local) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GetFileInfo returns metadata about path.
func (l *Local) GetFileInfo(path string) (Info, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("fileio: stat %q: %w", path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return Info{
		Name:     stat.Name(),
		AbsPath:  absPath,
		Size:     stat.Size(),
		ModTime:  stat.ModTime(),
		MimeType: mimeType,
	}, nil
}

// UniqueName suffixes _1, _2, ... before the extension until dir/name' does
// not exist.
func (l *Local) UniqueName(dir, name string) (string, error) {
	candidate := name
	if !l.FileExists(filepath.Join(dir, candidate)) {
		return candidate, nil
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for i := 1; ; i++ {
		candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
		if !l.FileExists(filepath.Join(dir, candidate)) {
			return candidate, nil
		}
	}
}

// DefaultDownloadDir returns the configured download directory.
func (l *Local) DefaultDownloadDir() string {
	return l.downloadDir
}

// OpenFile launches the OS default handler for path. Returns false if no
// launcher is available or the command fails to start.
func (l *Local) OpenFile(path string) bool {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", path)
	case "darwin":
		cmd = exec.Command("open", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	return cmd.Start() == nil
}
