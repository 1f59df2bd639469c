// Package resolver maps local package references to the files the snapshot
// mirror holds for them.
package resolver

import (
	"context"
	"io"
	"sort"

	"github.com/charmbracelet/log"

	derrors "github.com/CeGenreDeChat/debsnap/internal/errors"
	"github.com/CeGenreDeChat/debsnap/pkg/debian"
	"github.com/CeGenreDeChat/debsnap/pkg/snapshot"
	"github.com/CeGenreDeChat/debsnap/pkg/utils"
)

// PreferredArchive wins when the files of a source package are spread over
// several archives and no checksum selects one of them.
const PreferredArchive = "debian"

// Archive is the part of the mirror client the resolver needs.
type Archive interface {
	SourceFiles(ctx context.Context, name, version string, filter snapshot.SourceFilter) ([]snapshot.RemoteFile, error)
	BinaryFiles(ctx context.Context, q snapshot.BinaryQuery) ([]snapshot.RemoteFile, error)
	FetchFile(ctx context.Context, f snapshot.RemoteFile) (io.ReadCloser, error)
}

type Resolver struct {
	archive   Archive
	cache     Cache
	dscFilter bool
	logger    *log.Logger
}

type Option func(*Resolver)

// WithCache sets the cache consulted before the mirror. The default never
// hits.
func WithCache(c Cache) Option {
	return func(r *Resolver) {
		r.cache = c
	}
}

// WithDscFilter restricts source packages to the .dsc and the files it
// references.
func WithDscFilter(enabled bool) Option {
	return func(r *Resolver) {
		r.dscFilter = enabled
	}
}

func WithLogger(l *log.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

func New(archive Archive, opts ...Option) *Resolver {
	r := &Resolver{
		archive: archive,
		cache:   NoopCache{},
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the mirror files of pkg. A package unknown to the mirror
// yields an error matching derrors.ErrNotFoundOnMirror.
func (r *Resolver) Resolve(ctx context.Context, pkg *debian.PackageRef) ([]snapshot.RemoteFile, error) {
	if files, ok := r.cache.Lookup(pkg); ok {
		return files, nil
	}

	var files []snapshot.RemoteFile
	var err error
	if pkg.IsSource() {
		files, err = r.resolveSource(ctx, pkg)
	} else {
		files, err = r.archive.BinaryFiles(ctx, snapshot.BinaryQuery{
			Name:    pkg.Name,
			Version: pkg.Version.String(),
			Arch:    pkg.Architecture,
		})
	}
	if err != nil {
		return nil, err
	}

	if err := r.cache.Insert(pkg, files); err != nil {
		r.logger.Warn("failed to update cache", "package", pkg.String(), "err", err)
	}
	r.logger.Debug("resolved package", "package", pkg.String(), "files", len(files))
	return files, nil
}

func (r *Resolver) resolveSource(ctx context.Context, pkg *debian.PackageRef) ([]snapshot.RemoteFile, error) {
	files, err := r.archive.SourceFiles(ctx, pkg.Name, pkg.Version.String(), snapshot.SourceFilter{})
	if err != nil {
		return nil, err
	}

	groups, order := groupByArchive(files)
	archive, dsc, err := r.selectArchive(ctx, pkg, groups, order)
	if err != nil {
		return nil, err
	}
	selected := groups[archive]

	if !r.dscFilter {
		return selected, nil
	}

	dscFile, ok := findFile(selected, pkg.DscFile())
	if !ok {
		return selected, nil
	}
	if dsc == nil {
		if dsc, err = FetchDsc(ctx, r.archive, dscFile, selected); err != nil {
			return nil, err
		}
	}
	return append([]snapshot.RemoteFile{dscFile}, dsc.SourceFiles()...), nil
}

// selectArchive picks the archive group of pkg. A known checksum selects the
// group holding a matching file: SHA1 is compared with the mirror hash,
// other digests with the fetched .dsc. Without a match the preferred
// archive wins, then the first in lexical order.
func (r *Resolver) selectArchive(ctx context.Context, pkg *debian.PackageRef, groups map[string][]snapshot.RemoteFile, order []string) (string, *RemoteDsc, error) {
	if len(order) <= 1 {
		if len(order) == 0 {
			return "", nil, nil
		}
		return order[0], nil, nil
	}

	if sha1, ok := pkg.Checksums[debian.SHA1]; ok {
		for _, archive := range order {
			for _, f := range groups[archive] {
				if debian.DigestEqual(f.Hash, sha1) {
					return archive, nil, nil
				}
			}
		}
	}

	for _, algo := range []debian.ChecksumAlgo{debian.SHA256, debian.MD5} {
		digest, ok := pkg.Checksums[algo]
		if !ok {
			continue
		}
		for _, archive := range order {
			dscFile, ok := findFile(groups[archive], pkg.DscFile())
			if !ok {
				continue
			}
			dsc, err := FetchDsc(ctx, r.archive, dscFile, groups[archive])
			if err != nil {
				if derrors.KindOf(err) == derrors.KindNotFoundOnMirror {
					continue
				}
				return "", nil, err
			}
			if dsc.Matches(algo, digest) {
				return archive, dsc, nil
			}
		}
		break
	}

	if _, _, ok := pkg.BestChecksum(); ok {
		r.logger.Warn("no archive matches the package checksum", "package", pkg.String())
	}

	sorted := append([]string(nil), order...)
	sort.Strings(sorted)
	for _, archive := range sorted {
		if archive == PreferredArchive {
			return archive, nil, nil
		}
	}
	r.logger.Debug("several archives provide the package", "package", pkg.String(), "archives", sorted)
	return sorted[0], nil, nil
}

func groupByArchive(files []snapshot.RemoteFile) (map[string][]snapshot.RemoteFile, []string) {
	groups := make(map[string][]snapshot.RemoteFile)
	var order []string
	for _, f := range files {
		if _, ok := groups[f.ArchiveName]; !ok {
			order = append(order, f.ArchiveName)
		}
		groups[f.ArchiveName] = append(groups[f.ArchiveName], f)
	}
	return groups, order
}

func findFile(files []snapshot.RemoteFile, name string) (snapshot.RemoteFile, bool) {
	for _, f := range files {
		if f.Filename == name {
			return f, true
		}
	}
	return snapshot.RemoteFile{}, false
}

// CheckDsc warns when the files of a source package do not include its
// .dsc file and reports whether it is present.
func (r *Resolver) CheckDsc(pkg *debian.PackageRef, files []snapshot.RemoteFile) bool {
	if !pkg.IsSource() {
		return true
	}
	if _, ok := findFile(files, pkg.DscFile()); ok {
		return true
	}
	r.logger.Warn("no .dsc file found", "package", pkg.String())
	return false
}

// EachFunc receives the files of one package, or the error that prevented
// its resolution. Returning false stops the iteration.
type EachFunc func(pkg *debian.PackageRef, files []snapshot.RemoteFile, err error) bool

// Each resolves pkgs one after the other. Errors are passed to fn and do not
// stop the iteration; a cancelled context does.
func (r *Resolver) Each(ctx context.Context, pkgs []*debian.PackageRef, progress utils.ProgressFunc, fn EachFunc) error {
	for idx, pkg := range pkgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if progress != nil {
			progress(idx, len(pkgs), pkg.Name)
		}

		files, err := r.Resolve(ctx, pkg)
		if !fn(pkg, files, err) {
			return nil
		}
	}
	return nil
}
