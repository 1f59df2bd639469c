package merge

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	derrors "github.com/CeGenreDeChat/debsnap/internal/errors"
	"github.com/CeGenreDeChat/debsnap/pkg/debian"
	"github.com/CeGenreDeChat/debsnap/pkg/utils"
)

const changelogDate = "Mon, 01 Jan 2024 18:37:14 -0500"

var helloChangelog = "hello (1.0-1) unstable; urgency=medium\n\n  * Initial release.\n\n" +
	" -- Jane Doe <jane@example.org>  " + changelogDate + "\n"

const fixPatch = `--- a/README
+++ b/README
@@ -1 +1 @@
-hello
+hello, patched
`

func requireTools(t *testing.T, tools ...string) {
	t.Helper()
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available", tool)
		}
	}
	out, err := exec.Command("tar", "--version").Output()
	if err != nil || !strings.Contains(string(out), "GNU tar") {
		t.Skip("GNU tar required")
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func writeTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()

	var names []string
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(files[name])), ModTime: time.Unix(1600000000, 0)}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(tw, files[name]); err != nil {
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

func writeGz(t *testing.T, path, content string) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	io.WriteString(gz, content)
	gz.Close()
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func writeDsc(t *testing.T, dir, name, format string, files ...string) string {
	t.Helper()

	var b strings.Builder
	fmt.Fprintf(&b, "Format: %s\nSource: hello\nBinary: hello\nVersion: 1.0-1\n", format)
	b.WriteString("Maintainer: Jane Doe <jane@example.org>\nHomepage: https://example.org/hello\n")
	b.WriteString("Checksums-Sha256:\n")
	for _, f := range files {
		path := filepath.Join(dir, f)
		digest, err := debian.FileDigest(path, debian.SHA256)
		if err != nil {
			t.Fatal(err)
		}
		fi, _ := os.Stat(path)
		fmt.Fprintf(&b, " %s %d %s\n", digest, fi.Size(), f)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// quiltFixture creates a 3.0 (quilt) package in <root>/sources.
func quiltFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "sources")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	writeTarGz(t, filepath.Join(dir, "hello_1.0.orig.tar.gz"), map[string]string{
		"hello-1.0/README":  "hello\n",
		"hello-1.0/hello.c": "int main(void) { return 0; }\n",
	})
	writeTarGz(t, filepath.Join(dir, "hello_1.0-1.debian.tar.gz"), map[string]string{
		"debian/changelog":         helloChangelog,
		"debian/patches/series":    "# applied in order\nfix.patch\n",
		"debian/patches/fix.patch": fixPatch,
	})
	writeDsc(t, dir, "hello_1.0-1.dsc", "3.0 (quilt)", "hello_1.0.orig.tar.gz", "hello_1.0-1.debian.tar.gz")
	return root
}

func readTar(t *testing.T, r io.Reader) map[string]*tar.Header {
	t.Helper()
	out := map[string]*tar.Header{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("invalid tar: %v", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			var buf bytes.Buffer
			io.Copy(&buf, tr)
			hdr.PAXRecords = map[string]string{"content": buf.String()}
		}
		out[hdr.Name] = hdr
	}
}

func mustSource(t *testing.T) *debian.PackageRef {
	t.Helper()
	p, err := debian.NewSourcePackage("hello", "1.0-1")
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCompressionLookup(t *testing.T) {
	if c, err := CompressionFromTool(""); err != nil || !c.IsNone() {
		t.Fatalf("empty tool must select none")
	}
	for _, c := range Formats() {
		byTool, err := CompressionFromTool(c.Tool)
		if err != nil || byTool.Name != c.Name {
			t.Errorf("CompressionFromTool(%s) = %v, %v", c.Tool, byTool.Name, err)
		}
		byExt, err := CompressionFromExt(c.Ext)
		if err != nil || byExt.Name != c.Name {
			t.Errorf("CompressionFromExt(%s) = %v, %v", c.Ext, byExt.Name, err)
		}
	}
	if _, err := CompressionFromTool("false"); !errors.Is(err, derrors.ErrUnsupportedCompression) {
		t.Fatalf("expected ErrUnsupportedCompression, got %v", err)
	}
	if _, err := CompressionFromExt("foobar"); err == nil {
		t.Fatalf("expected error for unknown extension")
	}
	if c, _ := CompressionFromExt(""); !c.IsNone() {
		t.Fatalf("empty extension must select none")
	}
	if len(FormatNames()) != 6 {
		t.Fatalf("FormatNames() = %v", FormatNames())
	}
}

func TestCompressionNewReader(t *testing.T) {
	const payload = "--- a/x\n+++ b/x\n"

	var gz, zs, xzb bytes.Buffer
	gw := gzip.NewWriter(&gz)
	io.WriteString(gw, payload)
	gw.Close()

	zw, _ := zstd.NewWriter(&zs)
	io.WriteString(zw, payload)
	zw.Close()

	xw, err := xz.NewWriter(&xzb)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(xw, payload)
	xw.Close()

	for _, tc := range []struct {
		c    Compression
		data []byte
	}{
		{Gzip, gz.Bytes()},
		{Zstd, zs.Bytes()},
		{Xz, xzb.Bytes()},
		{None, []byte(payload)},
	} {
		r, err := tc.c.NewReader(bytes.NewReader(tc.data))
		if err != nil {
			t.Fatalf("%s: %v", tc.c.Name, err)
		}
		got, err := io.ReadAll(r)
		r.Close()
		if err != nil || string(got) != payload {
			t.Errorf("%s: got %q, %v", tc.c.Name, got, err)
		}
	}

	if _, err := Lz4.NewReader(bytes.NewReader(nil)); !errors.Is(err, derrors.ErrUnsupportedCompression) {
		t.Fatalf("lz4 has no in-process decoder")
	}
}

func TestMergeQuiltWithPatches(t *testing.T) {
	requireTools(t, "tar", "patch")
	root := quiltFixture(t)
	outdir := filepath.Join(root, "merged")

	m, err := New(filepath.Join(root, "sources"), outdir, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	pkg := mustSource(t)

	merged, err := m.Merge(context.Background(), pkg, true, nil)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if want := filepath.Join(outdir, "sources", "hello_1.0-1.merged.patched.tar"); merged != want {
		t.Fatalf("merged = %s, want %s", merged, want)
	}
	if pkg.Maintainer != "Jane Doe <jane@example.org>" || pkg.Homepage == "" {
		t.Fatalf("package not enriched: %+v", pkg)
	}

	f, err := os.Open(merged)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	entries := readTar(t, f)

	readme, ok := entries["hello-1.0/README"]
	if !ok {
		t.Fatalf("missing README in %v", entries)
	}
	if readme.PAXRecords["content"] != "hello, patched\n" {
		t.Fatalf("series not applied: %q", readme.PAXRecords["content"])
	}
	if _, ok := entries["hello-1.0/debian/changelog"]; !ok {
		t.Fatalf("debian directory not moved into the source tree")
	}

	expected, _ := time.Parse(time.RFC1123Z, changelogDate)
	for name, hdr := range entries {
		if hdr.ModTime.Unix() != expected.Unix() {
			t.Errorf("%s: mtime %v, want %v", name, hdr.ModTime, expected)
		}
		if hdr.Uid != 0 || hdr.Gid != 0 {
			t.Errorf("%s: owner %d:%d", name, hdr.Uid, hdr.Gid)
		}
	}

	before, _ := os.Stat(merged)
	again, err := m.Merge(context.Background(), mustSource(t), true, nil)
	if err != nil || again != merged {
		t.Fatalf("second merge: %s %v", again, err)
	}
	after, _ := os.Stat(merged)
	if !after.ModTime().Equal(before.ModTime()) {
		t.Fatalf("existing merged archive was rebuilt")
	}
}

func TestMergeWithoutPatches(t *testing.T) {
	requireTools(t, "tar", "patch", "gzip")
	root := quiltFixture(t)

	m, err := New(filepath.Join(root, "sources"), filepath.Join(root, "merged"),
		WithCompression(Gzip), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	mtime := time.Date(2025, 10, 1, 11, 34, 56, 0, time.UTC)

	merged, err := m.Merge(context.Background(), mustSource(t), false, &mtime)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !strings.HasSuffix(merged, "hello_1.0-1.merged.tar.gz") {
		t.Fatalf("merged = %s", merged)
	}

	f, err := os.Open(merged)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("merged archive is not gzip: %v", err)
	}
	entries := readTar(t, gz)

	if got := entries["hello-1.0/README"].PAXRecords["content"]; got != "hello\n" {
		t.Fatalf("patches applied without applyPatches: %q", got)
	}
	if entries["hello-1.0/hello.c"].ModTime.Unix() != mtime.Unix() {
		t.Fatalf("explicit mtime not used")
	}
	if leftovers, _ := filepath.Glob(utils.TempPattern(merged)); len(leftovers) > 0 {
		t.Fatalf("temporary files left behind: %v", leftovers)
	}
}

func TestMergeDiffFormat(t *testing.T) {
	requireTools(t, "tar", "patch")
	root := t.TempDir()
	dir := filepath.Join(root, "sources")
	os.MkdirAll(dir, 0755)

	writeTarGz(t, filepath.Join(dir, "hello_1.0.orig.tar.gz"), map[string]string{
		"hello-1.0.orig/README": "hello\n",
	})
	diff := "--- hello-1.0.orig/debian/changelog\n+++ hello-1.0/debian/changelog\n@@ -0,0 +1,5 @@\n"
	for _, line := range strings.Split(strings.TrimSuffix(helloChangelog, "\n"), "\n") {
		diff += "+" + line + "\n"
	}
	writeGz(t, filepath.Join(dir, "hello_1.0-1.diff.gz"), diff)
	writeDsc(t, dir, "hello_1.0-1.dsc", "1.0", "hello_1.0.orig.tar.gz", "hello_1.0-1.diff.gz")

	m, err := New(dir, filepath.Join(root, "merged"), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	merged, err := m.Merge(context.Background(), mustSource(t), false, nil)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	f, _ := os.Open(merged)
	defer f.Close()
	entries := readTar(t, f)
	changelog, ok := entries["hello-1.0.orig/debian/changelog"]
	if !ok {
		t.Fatalf("diff not applied: %v", entries)
	}
	expected, _ := time.Parse(time.RFC1123Z, changelogDate)
	if changelog.ModTime.Unix() != expected.Unix() {
		t.Fatalf("mtime = %v", changelog.ModTime)
	}
}

func TestMergeComponentTarballs(t *testing.T) {
	requireTools(t, "tar", "patch")
	root := t.TempDir()
	dir := filepath.Join(root, "sources")
	os.MkdirAll(dir, 0755)

	writeTarGz(t, filepath.Join(dir, "hello_1.0.orig.tar.gz"), map[string]string{
		"hello-1.0/README": "hello\n",
	})
	writeTarGz(t, filepath.Join(dir, "hello_1.0.orig-docs.tar.gz"), map[string]string{
		"docs-1.0/manual.txt": "read me\n",
	})
	writeTarGz(t, filepath.Join(dir, "hello_1.0-1.debian.tar.gz"), map[string]string{
		"debian/changelog": helloChangelog,
	})
	writeDsc(t, dir, "hello_1.0-1.dsc", "3.0 (quilt)",
		"hello_1.0.orig.tar.gz", "hello_1.0.orig-docs.tar.gz", "hello_1.0-1.debian.tar.gz")

	m, err := New(dir, filepath.Join(root, "merged"), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	merged, err := m.Merge(context.Background(), mustSource(t), true, nil)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	f, err := os.Open(merged)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	entries := readTar(t, f)

	manual, ok := entries["hello-1.0/docs/manual.txt"]
	if !ok {
		t.Fatalf("component not unpacked into the source tree: %v", entries)
	}
	if manual.PAXRecords["content"] != "read me\n" {
		t.Fatalf("component content = %q", manual.PAXRecords["content"])
	}
	for name := range entries {
		if !strings.HasPrefix(name, "hello-1.0/") && name != "hello-1.0" {
			t.Errorf("unexpected top-level entry %s", name)
		}
	}
}

func TestMergeFlatNativeTarball(t *testing.T) {
	requireTools(t, "tar", "patch")
	root := t.TempDir()
	dir := filepath.Join(root, "sources")
	os.MkdirAll(dir, 0755)

	writeTarGz(t, filepath.Join(dir, "hello_1.0.tar.gz"), map[string]string{
		"README":           "hello\n",
		"src/main.c":       "int main(void) { return 0; }\n",
		"debian/changelog": helloChangelog,
	})
	writeDsc(t, dir, "hello_1.0.dsc", "3.0 (native)", "hello_1.0.tar.gz")

	m, err := New(dir, filepath.Join(root, "merged"), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	pkg, err := debian.NewSourcePackage("hello", "1.0")
	if err != nil {
		t.Fatal(err)
	}
	merged, err := m.Merge(context.Background(), pkg, true, nil)
	if err != nil {
		t.Fatalf("a tarball without a top-level directory must merge: %v", err)
	}

	f, err := os.Open(merged)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	entries := readTar(t, f)
	for _, name := range []string{"README", "src/main.c", "debian/changelog"} {
		if _, ok := entries[name]; !ok {
			t.Fatalf("missing %s in %v", name, entries)
		}
	}
}

func TestMergeCorruptedFile(t *testing.T) {
	root := quiltFixture(t)
	dir := filepath.Join(root, "sources")
	if err := os.WriteFile(filepath.Join(dir, "hello_1.0.orig.tar.gz"), []byte("tampered"), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := New(dir, filepath.Join(root, "merged"), WithRunner(failingRunner{t}), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.Merge(context.Background(), mustSource(t), false, nil)
	if !errors.Is(err, derrors.ErrCorruptedFile) {
		t.Fatalf("expected ErrCorruptedFile, got %v", err)
	}
}

func TestMergeDscChecksum(t *testing.T) {
	root := quiltFixture(t)
	m, err := New(filepath.Join(root, "sources"), "", WithRunner(failingRunner{t}), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	pkg := mustSource(t)
	pkg.SetChecksum(debian.SHA256, strings.Repeat("0", 64))
	_, err = m.Merge(context.Background(), pkg, false, nil)
	if !errors.Is(err, derrors.ErrDscFileNotFound) {
		t.Fatalf("a .dsc with another digest must not be used, got %v", err)
	}
}

func TestMergeDscFileNotFound(t *testing.T) {
	m, err := New(t.TempDir(), "", WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.Merge(context.Background(), mustSource(t), false, nil)
	if !errors.Is(err, derrors.ErrDscFileNotFound) || !derrors.IsRecoverable(err) {
		t.Fatalf("expected recoverable ErrDscFileNotFound, got %v", err)
	}
}

func TestChangelogTimestampMissing(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "hello-1.0"), 0755)

	_, err := ChangelogTimestamp(root)
	if !errors.Is(err, derrors.ErrChangelogTimestamp) {
		t.Fatalf("expected ErrChangelogTimestamp, got %v", err)
	}
}

func TestChangelogTimestamp(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "hello-1.0", "debian")
	os.MkdirAll(dir, 0755)
	if err := os.WriteFile(filepath.Join(dir, "changelog"), []byte(helloChangelog+"\n"+helloChangelog), 0644); err != nil {
		t.Fatal(err)
	}

	when, err := ChangelogTimestamp(root)
	if err != nil {
		t.Fatal(err)
	}
	if when.Unix() != 1704152234 {
		t.Fatalf("timestamp = %v (%d)", when, when.Unix())
	}
}

func TestExecRunnerToolError(t *testing.T) {
	requireTools(t, "tar")

	err := ExecRunner{Logger: quietLogger()}.Run(context.Background(), t.TempDir(), nil, nil, "tar", "xf", "does-not-exist.tar")
	if !errors.Is(err, derrors.ErrToolInvocation) {
		t.Fatalf("expected ErrToolInvocation, got %v", err)
	}
	var e *derrors.Error
	if !errors.As(err, &e) || e.Output == "" {
		t.Fatalf("stderr not captured: %v", err)
	}
}

func TestExecRunnerPipeReportsConsumer(t *testing.T) {
	requireTools(t, "sh")

	var out bytes.Buffer
	runner := ExecRunner{Logger: quietLogger()}
	err := runner.Pipe(context.Background(), t.TempDir(), &out,
		[]string{"sh", "-c", "while :; do echo data; done"},
		[]string{"sh", "-c", "echo boom >&2; exit 3"})
	if !errors.Is(err, derrors.ErrToolInvocation) {
		t.Fatalf("expected ErrToolInvocation, got %v", err)
	}
	var e *derrors.Error
	if !errors.As(err, &e) || !strings.Contains(e.Output, "boom") {
		t.Fatalf("consumer stderr not reported: %v", err)
	}

	err = runner.Pipe(context.Background(), t.TempDir(), &out,
		[]string{"sh", "-c", "echo broken >&2; exit 2"},
		[]string{"cat"})
	if !errors.As(err, &e) || !strings.Contains(e.Output, "broken") {
		t.Fatalf("producer stderr not reported: %v", err)
	}
}

type failingRunner struct {
	t *testing.T
}

func (r failingRunner) Run(context.Context, string, io.Reader, io.Writer, ...string) error {
	r.t.Fatalf("no tool may run")
	return nil
}

func (r failingRunner) Pipe(context.Context, string, io.Writer, []string, []string) error {
	r.t.Fatalf("no tool may run")
	return nil
}
