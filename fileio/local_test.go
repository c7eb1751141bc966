package fileio

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestReadWriteFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	local := NewLocal(dir)

	src := filepath.Join(dir, "source.bin")
	content := bytes.Repeat([]byte{0x7a}, 2*1024*1024+13)
	if err := os.WriteFile(src, content, 0o600); err != nil {
		t.Fatalf("seed source file: %v", err)
	}

	var readProgressCalls int
	data, err := local.ReadFile(src, func(done, total int64, name string) {
		readProgressCalls++
		if name != "source.bin" {
			t.Fatalf("unexpected progress file name: %q", name)
		}
		if done > total {
			t.Fatalf("progress done %d exceeds total %d", done, total)
		}
	})
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Fatalf("ReadFile returned mismatched content")
	}
	if readProgressCalls == 0 {
		t.Fatalf("expected at least one progress callback")
	}

	dest := filepath.Join(dir, "nested", "dest.bin")
	if err := local.WriteFile(dest, data, func(done, total int64, name string) {}); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	written, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if !bytes.Equal(written, content) {
		t.Fatalf("written file does not match source")
	}
}

func TestWriteFileZeroBytes(t *testing.T) {
	dir := t.TempDir()
	local := NewLocal(dir)

	path := filepath.Join(dir, "empty.bin")
	if err := local.WriteFile(path, []byte{}, nil); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat written file: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected zero-byte file, got %d bytes", info.Size())
	}
}

func TestUniqueName(t *testing.T) {
	dir := t.TempDir()
	local := NewLocal(dir)

	name, err := local.UniqueName(dir, "hello.txt")
	if err != nil {
		t.Fatalf("UniqueName failed: %v", err)
	}
	if name != "hello.txt" {
		t.Fatalf("expected hello.txt for an empty directory, got %q", name)
	}

	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	name, err = local.UniqueName(dir, "hello.txt")
	if err != nil {
		t.Fatalf("UniqueName failed: %v", err)
	}
	if name != "hello_1.txt" {
		t.Fatalf("expected hello_1.txt, got %q", name)
	}

	if err := os.WriteFile(filepath.Join(dir, "hello_1.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	name, err = local.UniqueName(dir, "hello.txt")
	if err != nil {
		t.Fatalf("UniqueName failed: %v", err)
	}
	if name != "hello_2.txt" {
		t.Fatalf("expected hello_2.txt, got %q", name)
	}
}

func TestGetFileInfo(t *testing.T) {
	dir := t.TempDir()
	local := NewLocal(dir)

	path := filepath.Join(dir, "report.json")
	if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	info, err := local.GetFileInfo(path)
	if err != nil {
		t.Fatalf("GetFileInfo failed: %v", err)
	}
	if info.Name != "report.json" {
		t.Fatalf("unexpected name: %q", info.Name)
	}
	if info.Size != 2 {
		t.Fatalf("unexpected size: %d", info.Size)
	}
	if info.MimeType != "application/json" {
		t.Fatalf("unexpected mime type: %q", info.MimeType)
	}
}
