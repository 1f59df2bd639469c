package merge

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	derrors "github.com/CeGenreDeChat/debsnap/internal/errors"
	"github.com/CeGenreDeChat/debsnap/pkg/debian"
	"github.com/CeGenreDeChat/debsnap/pkg/download"
	"github.com/CeGenreDeChat/debsnap/pkg/utils"
)

// Packer lays out merged sources and downloaded binaries as
// <outdir>/{sources,binaries}/<sha1>/<file> and points the package locator
// at the result.
type Packer struct {
	merger       *Merger
	downloadDir  string
	outDir       string
	applyPatches bool
	logger       *log.Logger
}

// NewPacker creates the output layout. Sources are merged from
// <downloadDir>/sources by merger.
func NewPacker(merger *Merger, downloadDir, outDir string, applyPatches bool) (*Packer, error) {
	p := &Packer{
		merger:       merger,
		downloadDir:  downloadDir,
		outDir:       outDir,
		applyPatches: applyPatches,
		logger:       merger.logger,
	}
	for _, dir := range []string{outDir, filepath.Join(outDir, download.SourcesDir), filepath.Join(outDir, download.BinariesDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return p, nil
}

// Repack places the artifact of pkg in the output layout, as a relative
// symlink or as a copy. The package checksums are replaced by the SHA1 and
// SHA256 of the artifact. It reports false when the artifact is missing.
func (p *Packer) Repack(ctx context.Context, pkg *debian.PackageRef, symlink bool) (bool, error) {
	var artifact string
	if pkg.IsSource() {
		merged, err := p.merger.Merge(ctx, pkg, p.applyPatches, nil)
		if derrors.KindOf(err) == derrors.KindDscFileNotFound {
			p.logger.Warn("package not found", "package", pkg.String())
			return false, nil
		}
		if err != nil {
			return false, err
		}
		artifact = merged
	} else {
		found, ok, err := LocateArtifact(pkg, filepath.Join(p.downloadDir, download.BinariesDir), p.logger)
		if err != nil {
			return false, err
		}
		if !ok {
			p.logger.Warn("package not found", "package", pkg.String())
			return false, nil
		}
		artifact = found
	}

	digests, err := fileDigests(artifact)
	if err != nil {
		return false, err
	}
	pkg.Checksums = map[debian.ChecksumAlgo]string{}
	for algo, digest := range digests {
		pkg.SetChecksum(algo, digest)
	}

	kindDir := download.BinariesDir
	if pkg.IsSource() {
		kindDir = download.SourcesDir
	}
	target := filepath.Join(p.outDir, kindDir, digests[debian.SHA1], filepath.Base(artifact))
	rel, err := filepath.Rel(p.outDir, target)
	if err != nil {
		return false, err
	}
	pkg.Locator = "file:///" + filepath.ToSlash(rel)

	if fi, err := os.Lstat(target); err == nil {
		isLink := fi.Mode()&os.ModeSymlink != 0
		if isLink == symlink && utils.IsRegularFile(target) {
			return true, nil
		}
		if err := os.Remove(target); err != nil {
			return false, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return false, err
	}

	if symlink {
		absArtifact, err := filepath.Abs(artifact)
		if err != nil {
			return false, err
		}
		absDir, err := filepath.Abs(filepath.Dir(target))
		if err != nil {
			return false, err
		}
		relArtifact, err := filepath.Rel(absDir, absArtifact)
		if err != nil {
			return false, err
		}
		return true, os.Symlink(relArtifact, target)
	}
	return true, copyFile(artifact, target)
}

func fileDigests(path string) (map[debian.ChecksumAlgo]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := debian.NewMultiHasher(debian.SHA1, debian.SHA256)
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Digests(), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return utils.WriteFileAtomic(dst, 0644, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}
