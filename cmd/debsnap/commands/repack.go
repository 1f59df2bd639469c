package commands

import (
	"context"
	"encoding/json"
	"fmt"

	derrors "github.com/CeGenreDeChat/debsnap/internal/errors"
	"github.com/CeGenreDeChat/debsnap/pkg/debian"
	"github.com/CeGenreDeChat/debsnap/pkg/merge"
)

type RepackOptions struct {
	OutDir   string
	Copy     bool
	Progress bool
}

type repackedPackage struct {
	PURL       string            `json:"purl"`
	Locator    string            `json:"locator"`
	Checksums  map[string]string `json:"checksums"`
	Maintainer string            `json:"maintainer,omitempty"`
	Homepage   string            `json:"homepage,omitempty"`
}

// RepackPackages lays out merged sources and downloaded binaries under
// opts.OutDir and prints the updated package records as JSON lines.
func RepackPackages(ctx context.Context, env *Env, pkgs []*debian.PackageRef, opts RepackOptions) error {
	if opts.OutDir == "" {
		return fmt.Errorf("%s", env.localize("error.repack_outdir", "repack output directory is required", nil))
	}

	merger, err := env.newMerger()
	if err != nil {
		return err
	}
	packer, err := merge.NewPacker(merger, env.Config.OutDir, opts.OutDir, env.Config.ApplyPatches)
	if err != nil {
		return err
	}

	logger := env.logger()
	progress := env.progress(opts.Progress)
	enc := json.NewEncoder(env.stdout())

	for idx, pkg := range pkgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if progress != nil {
			progress(idx, len(pkgs), pkg.String())
		}

		ok, err := packer.Repack(ctx, pkg, !opts.Copy)
		if err != nil {
			if cancelled(ctx, err) {
				return fmt.Errorf("%s: %w", pkg.String(), err)
			}
			logger.Error(env.localize("warn.repack_failed", "failed to repack", nil), "package", pkg.String(), "err", err,
				"kind", derrors.KindOf(err))
			continue
		}
		if !ok {
			continue
		}

		out := repackedPackage{
			PURL:       pkg.PURL(),
			Locator:    pkg.Locator,
			Checksums:  map[string]string{},
			Maintainer: pkg.Maintainer,
			Homepage:   pkg.Homepage,
		}
		for algo, digest := range pkg.Checksums {
			out.Checksums[algo.String()] = digest
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}
