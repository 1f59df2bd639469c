// Package download retrieves resolved mirror files into a local directory,
// fetching each content hash at most once.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	derrors "github.com/CeGenreDeChat/debsnap/internal/errors"
	"github.com/CeGenreDeChat/debsnap/pkg/debian"
	"github.com/CeGenreDeChat/debsnap/pkg/snapshot"
	"github.com/CeGenreDeChat/debsnap/pkg/utils"
)

const (
	SourcesDir  = "sources"
	BinariesDir = "binaries"
)

// Fetcher opens the content of a mirror file.
type Fetcher interface {
	FetchFile(ctx context.Context, f snapshot.RemoteFile) (io.ReadCloser, error)
}

// Stats summarises the registered files, counting each hash once.
type Stats struct {
	Files       int
	Bytes       int64
	CachedFiles int
	CachedBytes int64
}

type entry struct {
	pkg  *debian.PackageRef
	file snapshot.RemoteFile
}

// Downloader stores source files under <outdir>/sources and everything
// else under <outdir>/binaries. Files already present with the mirror hash
// are not fetched again.
type Downloader struct {
	fetcher     Fetcher
	sourcesDir  string
	binariesDir string
	logger      *log.Logger

	pending []entry
}

type Option func(*Downloader)

func WithLogger(l *log.Logger) Option {
	return func(d *Downloader) {
		d.logger = l
	}
}

// New creates the output directories.
func New(fetcher Fetcher, outdir string, opts ...Option) (*Downloader, error) {
	d := &Downloader{
		fetcher:     fetcher,
		sourcesDir:  filepath.Join(outdir, SourcesDir),
		binariesDir: filepath.Join(outdir, BinariesDir),
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	for _, dir := range []string{outdir, d.sourcesDir, d.binariesDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return d, nil
}

// Register queues files for download. pkg may be nil; when set, its
// checksum is verified on the downloaded content.
func (d *Downloader) Register(files []snapshot.RemoteFile, pkg *debian.PackageRef) {
	for _, f := range files {
		d.pending = append(d.pending, entry{pkg: pkg, file: f})
	}
}

// Pending returns the number of registered entries.
func (d *Downloader) Pending() int {
	return len(d.pending)
}

func (d *Downloader) targetPath(f snapshot.RemoteFile) string {
	if f.IsSource() {
		return filepath.Join(d.sourcesDir, f.Filename)
	}
	return filepath.Join(d.binariesDir, f.Filename)
}

// Stat reports what a download of the registered files would transfer.
// It does not touch the network.
func (d *Downloader) Stat() Stats {
	unique := make(map[string]snapshot.RemoteFile)
	var order []string
	for _, e := range d.pending {
		if _, ok := unique[e.file.Hash]; !ok {
			order = append(order, e.file.Hash)
		}
		unique[e.file.Hash] = e.file
	}

	var st Stats
	for _, hash := range order {
		f := unique[hash]
		st.Files++
		st.Bytes += f.Size
		if utils.IsRegularFile(d.targetPath(f)) {
			st.CachedFiles++
			st.CachedBytes += f.Size
		}
	}
	return st
}

// knownHashes maps the content hashes materialised during one batch to
// the path holding them.
type knownHashes map[string]string

// Download processes every registered entry and returns one result per
// entry, in registration order.
func (d *Downloader) Download(ctx context.Context, progress utils.ProgressFunc) ([]Result, error) {
	results := make([]Result, 0, len(d.pending))
	err := d.Each(ctx, progress, func(r Result) bool {
		results = append(results, r)
		return true
	})
	return results, err
}

// Each processes the registered entries one at a time and passes each
// result to fn. Returning false stops the batch. A file that cannot be
// fetched yields a StatusFailed result and the batch moves on; only
// cancellation of ctx ends it early with an error. The queue is emptied
// when Each returns, whether or not all entries were processed.
func (d *Downloader) Each(ctx context.Context, progress utils.ProgressFunc, fn func(Result) bool) error {
	batch := d.pending
	d.pending = nil
	known := make(knownHashes)

	d.logger.Info("starting download", "files", len(batch))
	for idx, e := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if progress != nil {
			progress(idx, len(batch), e.file.Filename)
		}

		res, err := d.fetch(ctx, e, known)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			d.logger.Error("download failed", "file", e.file.Filename, "err", err)
			res = Result{Package: e.pkg, Filename: e.file.Filename, Status: StatusFailed, Err: err}
		}
		d.logger.Debug("download result", "status", res.Status, "file", res.Filename)
		if !fn(res) {
			return nil
		}
	}
	return nil
}

func (d *Downloader) fetch(ctx context.Context, e entry, known knownHashes) (Result, error) {
	f := e.file
	target := d.targetPath(f)
	res := Result{Package: e.pkg, Filename: f.Filename}

	if utils.IsRegularFile(target) {
		digest, err := debian.FileDigest(target, debian.SHA1)
		if err != nil {
			return res, err
		}
		if debian.DigestEqual(digest, f.Hash) {
			known[f.Hash] = target
			res.Path, res.Status = target, StatusOK
			return res, nil
		}
		d.logger.Warn("checksum mismatch on existing file, downloading again", "file", f.Filename)
		delete(known, f.Hash)
	}
	if _, err := os.Lstat(target); err == nil {
		if err := os.Remove(target); err != nil {
			return res, fmt.Errorf("failed to remove %s: %w", target, err)
		}
	}

	if other, ok := known[f.Hash]; ok {
		rel, err := filepath.Rel(filepath.Dir(target), other)
		if err != nil {
			return res, err
		}
		if err := os.Symlink(rel, target); err != nil {
			return res, fmt.Errorf("failed to link %s: %w", target, err)
		}
		res.Path, res.Status = target, StatusOK
		return res, nil
	}

	d.logger.Debug("downloading", "url", f.DownloadURL, "target", target)
	status, err := d.stream(ctx, e, target)
	if err != nil {
		return res, err
	}
	res.Status = status
	if status == StatusOK {
		known[f.Hash] = target
		res.Path = target
	}
	return res, nil
}

// stream writes the content of e.file to a temporary sibling of target,
// verifies it and renames it into place.
func (d *Downloader) stream(ctx context.Context, e entry, target string) (Status, error) {
	body, err := d.fetcher.FetchFile(ctx, e.file)
	if err != nil {
		if errors.Is(err, derrors.ErrNotFoundOnMirror) {
			d.logger.Warn("not found upstream", "file", e.file.Filename)
			return StatusNotFound, nil
		}
		return 0, err
	}
	defer body.Close()

	algo, expected, verify := d.expectedDigest(e)
	hasher := debian.NewMultiHasher(debian.SHA1, algo)

	out, err := utils.CreateTempSibling(target, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create a temporary file for %s: %w", target, err)
	}
	tmp := out.Name()
	if _, err := io.Copy(io.MultiWriter(out, hasher), body); err != nil {
		out.Close()
		os.Remove(tmp)
		return 0, derrors.Wrap(derrors.KindMirrorTransport, err, "failed to download %s", e.file.Filename)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}

	digests := hasher.Digests()
	if !debian.DigestEqual(digests[debian.SHA1], e.file.Hash) {
		d.logger.Error("downloaded content does not match the mirror hash", "file", e.file.Filename,
			"expected", e.file.Hash, "actual", digests[debian.SHA1])
		os.Remove(tmp)
		return StatusChecksumMismatch, nil
	}
	if verify && !debian.DigestEqual(digests[algo], expected) {
		d.logger.Error("checksum mismatch", "file", e.file.Filename, "algo", algo,
			"expected", expected, "actual", digests[algo])
		os.Remove(tmp)
		return StatusChecksumMismatch, nil
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to rename %s: %w", tmp, err)
	}
	return StatusOK, nil
}

// expectedDigest returns the package checksum that applies to e. Binary
// package checksums apply to every file of the package, source package
// checksums to the .dsc only.
func (d *Downloader) expectedDigest(e entry) (debian.ChecksumAlgo, string, bool) {
	if e.pkg == nil {
		return debian.SHA1, "", false
	}
	if e.pkg.IsSource() && e.file.Filename != e.pkg.DscFile() {
		return debian.SHA1, "", false
	}
	algo, digest, ok := e.pkg.BestChecksum()
	if !ok {
		return debian.SHA1, "", false
	}
	return algo, digest, true
}
