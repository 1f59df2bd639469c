package commands

import (
	"context"
	"fmt"

	"github.com/CeGenreDeChat/debsnap/pkg/debian"
)

// ListVersions prints every version of a source package known to the
// mirror, oldest first.
func ListVersions(ctx context.Context, env *Env, name string) error {
	if name == "" {
		return fmt.Errorf("%s", env.localize("error.package_required", "package name is required", nil))
	}

	versions, err := env.NewClient().ListVersions(ctx, name)
	if err != nil {
		return fmt.Errorf("%s: %w", env.localize("error.versions", "failed to list versions", map[string]any{"Package": name}), err)
	}

	debian.SortByVersion(versions)
	for _, v := range versions {
		fmt.Fprintln(env.stdout(), v)
	}
	return nil
}
