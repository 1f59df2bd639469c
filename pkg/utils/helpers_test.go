package utils

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHumanReadableBytes(t *testing.T) {
	cases := map[int64]string{
		2757:                   "2 KiB",
		5 * 1024 * 1024:        "5 MiB",
		3 * 1024 * 1024 * 1024: "3.00 GiB",
	}
	for size, want := range cases {
		if got := HumanReadableBytes(size); got != want {
			t.Errorf("HumanReadableBytes(%d) = %q, want %q", size, got, want)
		}
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "entry.json")

	if err := WriteFileAtomic(path, 0644, func(w io.Writer) error {
		_, err := io.WriteString(w, "[]")
		return err
	}); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if string(data) != "[]" {
		t.Fatalf("content = %q, want %q", data, "[]")
	}
	assertNoTempFiles(t, path)
}

func TestWriteFileAtomicKeepsPreviousContentOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entry.json")
	if err := os.WriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := WriteFileAtomic(path, 0644, func(w io.Writer) error {
		io.WriteString(w, "partial")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fill error, got %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "old" {
		t.Fatalf("content = %q, want previous content", data)
	}
	assertNoTempFiles(t, path)
}

func assertNoTempFiles(t *testing.T, path string) {
	t.Helper()
	matches, err := filepath.Glob(TempPattern(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) > 0 {
		t.Fatalf("temporary files left behind: %v", matches)
	}
}

func TestWriteFileAtomicConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merged.tar")

	started := make(chan struct{})
	resume := make(chan struct{})
	errA := make(chan error, 1)
	go func() {
		errA <- WriteFileAtomic(path, 0644, func(w io.Writer) error {
			io.WriteString(w, "AAAA")
			close(started)
			<-resume
			_, err := io.WriteString(w, "AAAA")
			return err
		})
	}()

	<-started
	if err := WriteFileAtomic(path, 0644, func(w io.Writer) error {
		_, err := io.WriteString(w, "BBBBBBBB")
		return err
	}); err != nil {
		t.Fatalf("second writer failed: %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "BBBBBBBB" {
		t.Fatalf("content after second writer = %q", data)
	}

	close(resume)
	if err := <-errA; err != nil {
		t.Fatalf("first writer failed: %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "AAAAAAAA" {
		t.Fatalf("last writer must win intact, got %q", data)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0644 {
		t.Fatalf("mode = %v, want 0644", fi.Mode().Perm())
	}
	assertNoTempFiles(t, path)
}

func TestTerminalProgress(t *testing.T) {
	var buf bytes.Buffer
	progress := TerminalProgress(&buf)
	progress(0, 2, "sed")
	progress(1, 2, "pcre2")

	out := buf.String()
	if !strings.Contains(out, "processing 1/2 (sed)") || !strings.Contains(out, "processing 2/2 (pcre2)") {
		t.Fatalf("unexpected progress output %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("expected trailing newline after last unit")
	}
}
