package commands

import (
	"context"
	"encoding/json"
	"errors"

	derrors "github.com/CeGenreDeChat/debsnap/internal/errors"
	"github.com/CeGenreDeChat/debsnap/pkg/debian"
	"github.com/CeGenreDeChat/debsnap/pkg/snapshot"
)

type resolvedFile struct {
	PURL string `json:"purl"`
	snapshot.RemoteFile
}

// ResolvePackages prints the mirror files of each package as JSON lines.
// Packages that cannot be resolved are logged and skipped.
func ResolvePackages(ctx context.Context, env *Env, pkgs []*debian.PackageRef, progress bool) error {
	res, err := env.newResolver(env.NewClient())
	if err != nil {
		return err
	}

	logger := env.logger()
	enc := json.NewEncoder(env.stdout())
	var encErr error

	err = res.Each(ctx, pkgs, env.progress(progress), func(pkg *debian.PackageRef, files []snapshot.RemoteFile, err error) bool {
		if err != nil {
			if !derrors.IsRecoverable(err) {
				encErr = err
				return false
			}
			logger.Warn(env.localize("warn.not_found", "not found upstream", nil), "package", pkg.String(), "err", err)
			return true
		}
		if !res.CheckDsc(pkg, files) {
			logger.Warn(env.localize("warn.no_dsc", "no .dsc file found", nil), "package", pkg.String())
		}
		for _, f := range files {
			if err := enc.Encode(resolvedFile{PURL: pkg.PURL(), RemoteFile: f}); err != nil {
				encErr = err
				return false
			}
		}
		return true
	})
	return errors.Join(err, encErr)
}
