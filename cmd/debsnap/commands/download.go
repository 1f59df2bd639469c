package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	derrors "github.com/CeGenreDeChat/debsnap/internal/errors"
	"github.com/CeGenreDeChat/debsnap/pkg/debian"
	"github.com/CeGenreDeChat/debsnap/pkg/download"
	"github.com/CeGenreDeChat/debsnap/pkg/snapshot"
	"github.com/CeGenreDeChat/debsnap/pkg/utils"
)

type DownloadOptions struct {
	Sources  bool
	Binaries bool
	JSON     bool
	Progress bool
}

// DownloadPackages resolves pkgs and stores their files under the output
// directory. With JSON set one result line is printed per file, plus one
// not_found line per package unknown to the mirror.
func DownloadPackages(ctx context.Context, env *Env, pkgs []*debian.PackageRef, opts DownloadOptions) error {
	if err := os.MkdirAll(env.Config.OutDir, 0755); err != nil {
		return fmt.Errorf("%s: %w", env.localize("error.outdir", "failed to create the output directory", nil), err)
	}

	logger := env.logger()
	client := env.NewClient()
	res, err := env.newResolver(client)
	if err != nil {
		return err
	}
	dl, err := download.New(client, env.Config.OutDir, download.WithLogger(logger))
	if err != nil {
		return err
	}

	pkgs = debian.FilterKind(pkgs, opts.Sources, opts.Binaries)
	progress := env.progress(opts.Progress)

	logger.Info(env.localize("download.resolving", "resolving upstream packages", nil), "packages", len(pkgs))
	var fatal error
	err = res.Each(ctx, pkgs, progress, func(pkg *debian.PackageRef, files []snapshot.RemoteFile, err error) bool {
		switch {
		case err == nil:
			if !res.CheckDsc(pkg, files) {
				logger.Warn(env.localize("warn.no_dsc", "no .dsc file found", nil), "package", pkg.String())
			}
			dl.Register(files, pkg)
		case errors.Is(err, derrors.ErrNotFoundOnMirror):
			logger.Warn(env.localize("warn.not_found", "not found upstream", nil), "package", pkg.String())
			if opts.JSON {
				fmt.Fprintln(env.stdout(), download.Result{Package: pkg, Status: download.StatusNotFound}.JSON())
			}
		case derrors.IsRecoverable(err):
			logger.Error(env.localize("warn.resolve_failed", "failed to resolve package", nil), "package", pkg.String(), "err", err)
		default:
			fatal = err
			return false
		}
		return true
	})
	if err = errors.Join(err, fatal); err != nil {
		return err
	}

	if !opts.JSON {
		st := dl.Stat()
		fmt.Fprintln(env.stdout(), env.localize("download.stat",
			fmt.Sprintf("downloading %d files, %s (cached: %d, %s)", st.Files, utils.HumanReadableBytes(st.Bytes), st.CachedFiles, utils.HumanReadableBytes(st.CachedBytes)),
			map[string]any{
				"Files":       st.Files,
				"Bytes":       utils.HumanReadableBytes(st.Bytes),
				"CachedFiles": st.CachedFiles,
				"CachedBytes": utils.HumanReadableBytes(st.CachedBytes),
			}))
	}

	return dl.Each(ctx, progress, func(r download.Result) bool {
		if opts.JSON {
			fmt.Fprintln(env.stdout(), r.JSON())
		}
		if r.Status != download.StatusOK {
			logger.Warn(env.localize("warn.download_failed", "download failed", nil), "status", r.Status, "file", r.Filename, "err", r.Err)
		}
		return true
	})
}
