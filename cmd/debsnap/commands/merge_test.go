package commands

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

const helloChangelog = "hello (1.0-1) unstable; urgency=medium\n\n  * Initial release.\n\n" +
	" -- Jane Doe <jane@example.org>  Mon, 01 Jan 2024 18:37:14 -0500\n"

func requireGNUTar(t *testing.T) {
	t.Helper()
	out, err := exec.Command("tar", "--version").Output()
	if err != nil || !strings.Contains(string(out), "GNU tar") {
		t.Skip("GNU tar required")
	}
}

func writeSourceTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(content)), ModTime: time.Unix(1600000000, 0)}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

// writeSourceDsc lists files, which must already exist in dir, in a
// Checksums-Sha256 manifest.
func writeSourceDsc(t *testing.T, dir, source, version string, files ...string) {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "Format: 3.0 (quilt)\nSource: %s\nBinary: %s\nVersion: %s\n", source, source, version)
	b.WriteString("Maintainer: Jane Doe <jane@example.org>\nChecksums-Sha256:\n")
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			t.Fatal(err)
		}
		sum := sha256.Sum256(data)
		fmt.Fprintf(&b, " %s %d %s\n", hex.EncodeToString(sum[:]), len(data), f)
	}
	name := fmt.Sprintf("%s_%s.dsc", source, version)
	if err := os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
}

// brokenThenGood prepares a source whose tarball is not a tar archive
// but matches its manifest, followed by a valid source package.
func brokenThenGood(t *testing.T, env *Env) {
	t.Helper()
	dir := filepath.Join(env.Config.OutDir, "sources")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "aaa_1.0.tar.gz"), []byte("this is not an archive"), 0644); err != nil {
		t.Fatal(err)
	}
	writeSourceDsc(t, dir, "aaa", "1.0", "aaa_1.0.tar.gz")

	writeSourceTarGz(t, filepath.Join(dir, "hello_1.0.orig.tar.gz"), map[string]string{
		"hello-1.0/README": "hello\n",
	})
	writeSourceTarGz(t, filepath.Join(dir, "hello_1.0-1.debian.tar.gz"), map[string]string{
		"debian/changelog": helloChangelog,
	})
	writeSourceDsc(t, dir, "hello", "1.0-1", "hello_1.0.orig.tar.gz", "hello_1.0-1.debian.tar.gz")
}

func TestMergeSourcesContinuesAfterToolFailure(t *testing.T) {
	requireGNUTar(t)
	env, _ := newTestEnv(t, "https://snapshot.invalid")
	brokenThenGood(t, env)
	pkgs := mustPackages(t, "aaa 1.0 source\nhello 1.0-1 source\n")

	if err := MergeSources(context.Background(), env, pkgs, MergeOptions{}); err != nil {
		t.Fatalf("a broken package must be skipped, got %v", err)
	}

	merged, _ := filepath.Glob(filepath.Join(env.Config.MergePath(), "sources", "hello_1.0-1.merged*"))
	if len(merged) != 1 {
		t.Fatalf("the valid package was not merged: %v", merged)
	}
	if broken, _ := filepath.Glob(filepath.Join(env.Config.MergePath(), "sources", "aaa_1.0.merged*")); len(broken) > 0 {
		t.Fatalf("unexpected archive for the broken package: %v", broken)
	}
}

func TestRepackContinuesAfterToolFailure(t *testing.T) {
	requireGNUTar(t)
	env, out := newTestEnv(t, "https://snapshot.invalid")
	brokenThenGood(t, env)
	pkgs := mustPackages(t, "aaa 1.0 source\nhello 1.0-1 source\n")

	if err := RepackPackages(context.Background(), env, pkgs, RepackOptions{OutDir: t.TempDir()}); err != nil {
		t.Fatalf("a broken package must be skipped, got %v", err)
	}

	var rec repackedPackage
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &rec); err != nil {
		t.Fatalf("expected a single record, got %q: %v", out.String(), err)
	}
	if rec.PURL != "pkg:deb/debian/hello@1.0-1?arch=source" {
		t.Fatalf("purl = %s", rec.PURL)
	}
}

func TestMergeSourcesCancelled(t *testing.T) {
	env, _ := newTestEnv(t, "https://snapshot.invalid")
	pkgs := mustPackages(t, "hello 1.0-1 source\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := MergeSources(ctx, env, pkgs, MergeOptions{}); err == nil {
		t.Fatalf("cancellation must end the batch")
	}
}
