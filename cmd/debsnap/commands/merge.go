package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	derrors "github.com/CeGenreDeChat/debsnap/internal/errors"
	"github.com/CeGenreDeChat/debsnap/pkg/debian"
	"github.com/CeGenreDeChat/debsnap/pkg/download"
	"github.com/CeGenreDeChat/debsnap/pkg/merge"
)

type MergeOptions struct {
	// Mtime overrides the changelog date of every merged archive. Empty
	// means the changelog date.
	Mtime    string
	Progress bool
}

// ParseMtime accepts a unix timestamp, RFC3339 or a plain date.
func ParseMtime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid mtime %q", value)
}

func (e *Env) newMerger() (*merge.Merger, error) {
	compression, err := merge.CompressionFromTool(e.Config.Compress)
	if err != nil {
		return nil, err
	}
	return merge.New(
		filepath.Join(e.Config.OutDir, download.SourcesDir),
		e.Config.MergePath(),
		merge.WithCompression(compression),
		merge.WithLogger(e.logger()),
	)
}

// MergeSources merges the downloaded source packages of pkgs into one
// archive each. Binary packages are ignored.
func MergeSources(ctx context.Context, env *Env, pkgs []*debian.PackageRef, opts MergeOptions) error {
	mtime, err := ParseMtime(opts.Mtime)
	if err != nil {
		return err
	}
	merger, err := env.newMerger()
	if err != nil {
		return err
	}

	logger := env.logger()
	sources := debian.FilterKind(pkgs, true, false)
	progress := env.progress(opts.Progress)

	logger.Info(env.localize("merge.start", "merging", nil), "packages", len(sources))
	for idx, pkg := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		if progress != nil {
			progress(idx, len(sources), pkg.String())
		}

		merged, err := merger.Merge(ctx, pkg, env.Config.ApplyPatches, mtime)
		switch {
		case err == nil:
			logger.Debug("merged", "package", pkg.String(), "path", merged)
		case derrors.KindOf(err) == derrors.KindDscFileNotFound:
			logger.Warn(env.localize("warn.dsc_not_found", "dsc file not found", nil), "package", pkg.String())
		case cancelled(ctx, err):
			return fmt.Errorf("%s: %w", pkg.String(), err)
		default:
			logger.Error(env.localize("warn.merge_failed", "failed to merge", nil), "package", pkg.String(), "err", err)
		}
	}
	return nil
}
