// Package merge rebuilds a single source archive from the upstream tarballs
// and Debian packaging files referenced by a .dsc file.
package merge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	derrors "github.com/CeGenreDeChat/debsnap/internal/errors"
	"github.com/CeGenreDeChat/debsnap/pkg/debian"
	"github.com/CeGenreDeChat/debsnap/pkg/utils"
)

var (
	// archive files (upstream and debian)
	archiveRegex = regexp.MustCompile(`^.*\.tar(\.(bz2|gz|xz|zst|lzma))?$`)
	// debian diff files of format 1.0 packages
	diffRegex = regexp.MustCompile(`^.*\.diff\.(bz2|gz|xz|zst)$`)
	// additional upstream tarballs of 3.0 (quilt) packages
	componentRegex = regexp.MustCompile(`\.orig-([A-Za-z0-9][A-Za-z0-9-]*)\.tar(\.(bz2|gz|xz|zst|lzma))?$`)
)

type Merger struct {
	downloadDir string
	outDir      string
	compression Compression
	runner      Runner
	logger      *log.Logger
}

type Option func(*Merger)

func WithCompression(c Compression) Option {
	return func(m *Merger) {
		m.compression = c
	}
}

func WithRunner(r Runner) Option {
	return func(m *Merger) {
		m.runner = r
	}
}

func WithLogger(l *log.Logger) Option {
	return func(m *Merger) {
		m.logger = l
	}
}

// New creates a merger reading from downloadDir and writing to outDir,
// which defaults to downloadDir.
func New(downloadDir, outDir string, opts ...Option) (*Merger, error) {
	if outDir == "" {
		outDir = downloadDir
	}
	m := &Merger{
		downloadDir: downloadDir,
		outDir:      outDir,
		compression: None,
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.runner == nil {
		m.runner = ExecRunner{Logger: m.logger}
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return m, nil
}

// LocateArtifact searches basedir and its direct sub-directories for the
// file of pkg. When pkg carries a SHA256 only a file with that digest
// matches; otherwise the first candidate is returned.
func LocateArtifact(pkg *debian.PackageRef, basedir string, logger *log.Logger) (string, bool, error) {
	dirs := []string{basedir}
	entries, err := os.ReadDir(basedir)
	if err != nil && !os.IsNotExist(err) {
		return "", false, err
	}
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(basedir, e.Name()))
		}
	}

	name := pkg.Filename()
	expected, hasDigest := pkg.Checksums[debian.SHA256]
	for _, dir := range dirs {
		cand := filepath.Join(dir, name)
		if !utils.IsRegularFile(cand) {
			continue
		}
		if !hasDigest {
			logger.Warn("no SHA256 digest, assuming the first candidate", "package", pkg.String(), "archive", filepath.Base(dir))
			return cand, true, nil
		}
		digest, err := debian.FileDigest(cand, debian.SHA256)
		if err != nil {
			return "", false, err
		}
		if debian.DigestEqual(digest, expected) {
			return cand, true, nil
		}
	}
	return "", false, nil
}

// MergedName returns the file name of the merged archive of pkg.
func (m *Merger) MergedName(pkg *debian.PackageRef, applyPatches bool) string {
	suffix := ".merged.tar"
	if applyPatches {
		suffix = ".merged.patched.tar"
	}
	return strings.TrimSuffix(pkg.DscFile(), ".dsc") + suffix + m.compression.Ext
}

// Merge verifies the files referenced by the .dsc of pkg, unpacks them,
// applies the Debian diff and, when applyPatches is set on a non-native
// quilt package, the patch series, then packs the tree reproducibly with
// mtime (or the changelog date when nil). pkg is enriched with the .dsc
// metadata. An existing merged archive is returned as is.
func (m *Merger) Merge(ctx context.Context, pkg *debian.PackageRef, applyPatches bool, mtime *time.Time) (string, error) {
	dscPkg, err := debian.NewSourcePackage(pkg.Name, pkg.Version.String())
	if err != nil {
		return "", err
	}
	for algo, digest := range pkg.Checksums {
		dscPkg.SetChecksum(algo, digest)
	}

	dscPath, ok, err := LocateArtifact(dscPkg, m.downloadDir, m.logger)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", derrors.New(derrors.KindDscFileNotFound, pkg.DscFile()).WithPath(m.downloadDir)
	}

	dir := filepath.Join(m.outDir, filepath.Base(filepath.Dir(dscPath)))
	merged := filepath.Join(dir, m.MergedName(pkg, applyPatches))

	dsc, err := m.verify(dscPath, pkg)
	if err != nil {
		return "", err
	}

	if ref, err := dsc.PackageRef(); err == nil {
		pkg.MergeWith(ref)
	}

	if utils.IsRegularFile(merged) {
		m.logger.Debug("already merged", "dsc", dscPath, "merged", merged)
		return merged, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	m.logger.Debug("merging sources", "dsc", dscPath)
	tmpdir, err := os.MkdirTemp("", "debsnap-merge-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpdir)

	if err := m.unpack(ctx, tmpdir, dscPath, dsc, pkg, applyPatches); err != nil {
		return "", err
	}

	if mtime == nil {
		when, err := ChangelogTimestamp(tmpdir)
		if err != nil {
			return "", derrors.Wrap(derrors.KindChangelogTimestamp, err, "please specify a timestamp for %s", pkg.String())
		}
		mtime = &when
	}

	if err := m.pack(ctx, tmpdir, merged, *mtime); err != nil {
		return "", err
	}
	return merged, nil
}

// verify checks the .dsc against the package SHA256 and every referenced
// file against the Checksums-Sha256 manifest.
func (m *Merger) verify(dscPath string, pkg *debian.PackageRef) (*debian.Dsc, error) {
	if expected, ok := pkg.Checksums[debian.SHA256]; ok {
		m.logger.Debug("checking sha256sum", "file", dscPath)
		if err := checkSHA256(dscPath, expected); err != nil {
			return nil, err
		}
	}

	dsc, err := debian.ReadDsc(dscPath)
	if err != nil {
		return nil, derrors.Wrap(derrors.KindCorruptedFile, err, "unreadable control file").WithPath(dscPath)
	}

	base := filepath.Dir(dscPath)
	for _, entry := range dsc.ChecksumsSha256 {
		if err := checkSHA256(filepath.Join(base, entry.Name), entry.Hash); err != nil {
			return nil, err
		}
	}
	return dsc, nil
}

func checkSHA256(path, expected string) error {
	digest, err := debian.FileDigest(path, debian.SHA256)
	if err != nil {
		return derrors.Wrap(derrors.KindCorruptedFile, err, "cannot hash file").WithPath(path)
	}
	if !debian.DigestEqual(digest, expected) {
		return derrors.New(derrors.KindCorruptedFile, "sha256 mismatch").WithPath(path)
	}
	return nil
}

func (m *Merger) unpack(ctx context.Context, tmpdir, dscPath string, dsc *debian.Dsc, pkg *debian.PackageRef, applyPatches bool) error {
	base := filepath.Dir(dscPath)

	var diffs []string
	components := map[string]string{}
	for _, entry := range dsc.ChecksumsSha256 {
		abs, err := filepath.Abs(filepath.Join(base, entry.Name))
		if err != nil {
			return err
		}
		switch {
		case diffRegex.MatchString(entry.Name):
			diffs = append(diffs, abs)
		case componentRegex.MatchString(entry.Name):
			components[componentRegex.FindStringSubmatch(entry.Name)[1]] = abs
		case archiveRegex.MatchString(entry.Name):
			if err := m.runner.Run(ctx, tmpdir, nil, nil, "tar", "xf", abs); err != nil {
				return err
			}
		}
	}

	srcdir, err := sourceDir(tmpdir)
	if err != nil {
		return err
	}
	if err := moveDebianDir(tmpdir, srcdir); err != nil {
		return err
	}

	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := m.unpackComponent(ctx, tmpdir, srcdir, name, components[name]); err != nil {
			return err
		}
	}

	if len(diffs) > 1 {
		m.logger.Warn("only a single debian .diff is supported", "package", pkg.String())
	}
	if len(diffs) > 0 {
		if err := m.applyDiff(ctx, srcdir, diffs[0]); err != nil {
			return err
		}
	}

	if applyPatches && !pkg.IsNative() && strings.Contains(dsc.Format, "quilt") {
		return m.applySeries(ctx, srcdir)
	}
	return nil
}

// sourceDir returns the unpacked upstream tree. It is the top-level
// directory when that directory is the only entry besides a detached
// debian directory, and tmpdir itself for a tarball without a top-level
// directory.
func sourceDir(tmpdir string) (string, error) {
	entries, err := os.ReadDir(tmpdir)
	if err != nil {
		return "", err
	}
	var rest []os.DirEntry
	for _, e := range entries {
		if e.Name() != "debian" {
			rest = append(rest, e)
		}
	}
	if len(rest) == 1 && rest[0].IsDir() {
		return filepath.Join(tmpdir, rest[0].Name()), nil
	}
	return tmpdir, nil
}

// unpackComponent extracts the orig-<name> tarball into <srcdir>/<name>,
// dropping its single top-level directory if it has one.
func (m *Merger) unpackComponent(ctx context.Context, tmpdir, srcdir, name, archive string) error {
	stage, err := os.MkdirTemp(tmpdir, ".component-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(stage)

	if err := m.runner.Run(ctx, stage, nil, nil, "tar", "xf", archive); err != nil {
		return err
	}
	entries, err := os.ReadDir(stage)
	if err != nil {
		return err
	}

	target := filepath.Join(srcdir, name)
	if err := os.RemoveAll(target); err != nil {
		return err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return os.Rename(filepath.Join(stage, entries[0].Name()), target)
	}
	return os.Rename(stage, target)
}

// moveDebianDir moves a debian directory unpacked next to the source tree
// (3.0 quilt debian tarball) into it, replacing any upstream one.
func moveDebianDir(tmpdir, srcdir string) error {
	if srcdir == tmpdir {
		return nil
	}
	detached := filepath.Join(tmpdir, "debian")
	if fi, err := os.Stat(detached); err != nil || !fi.IsDir() {
		return nil
	}
	inside := filepath.Join(srcdir, "debian")
	if err := os.RemoveAll(inside); err != nil {
		return err
	}
	return os.Rename(detached, inside)
}

func (m *Merger) applyDiff(ctx context.Context, srcdir, diff string) error {
	comp, err := CompressionFromExt(filepath.Ext(diff))
	if err != nil {
		return err
	}

	f, err := os.Open(diff)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := comp.NewReader(f)
	if err != nil {
		return derrors.Wrap(derrors.KindCorruptedFile, err, "cannot decompress diff").WithPath(diff)
	}
	defer r.Close()

	return m.runner.Run(ctx, srcdir, r, nil, "patch", "-p1", "-s", "-f")
}

func (m *Merger) applySeries(ctx context.Context, srcdir string) error {
	series := filepath.Join(srcdir, "debian", "patches", "series")
	f, err := os.Open(series)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		strip := "-p1"
		if len(fields) > 1 && strings.HasPrefix(fields[1], "-p") {
			strip = fields[1]
		}
		patch := filepath.Join("debian", "patches", fields[0])
		m.logger.Debug("applying patch", "patch", fields[0])
		if err := m.runner.Run(ctx, srcdir, nil, nil, "patch", strip, "-s", "-f", "-i", patch); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// pack writes the sorted top-level entries of tmpdir as a reproducible tar
// stream, compressed, to merged through a temporary file.
func (m *Merger) pack(ctx context.Context, tmpdir, merged string, mtime time.Time) error {
	entries, err := os.ReadDir(tmpdir)
	if err != nil {
		return err
	}
	var sources []string
	for _, e := range entries {
		if e.IsDir() || e.Type().IsRegular() {
			sources = append(sources, e.Name())
		}
	}
	sort.Strings(sources)

	tarCmd := append([]string{
		"tar", "c",
		"--force-local",
		"--format=gnu",
		"--sort=name",
		"--owner=0",
		"--group=0",
		"--numeric-owner",
		"--mtime=@" + strconv.FormatInt(mtime.Unix(), 10),
	}, sources...)

	return utils.WriteFileAtomic(merged, 0644, func(w io.Writer) error {
		if m.compression.IsNone() {
			return m.runner.Run(ctx, tmpdir, nil, w, tarCmd...)
		}
		compressor := append([]string{m.compression.Tool}, m.compression.CompressArgs...)
		return m.runner.Pipe(ctx, tmpdir, w, tarCmd, compressor)
	})
}
