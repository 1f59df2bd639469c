package debian

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/package-url/packageurl-go"
	"pault.ag/go/debian/version"
)

// Architecture value used for source packages and their files.
const ArchSource = "source"

// Vendor used as purl namespace.
const Vendor = "debian"

type Kind int

const (
	KindBinary Kind = iota
	KindSource
)

func (k Kind) String() string {
	if k == KindSource {
		return "source"
	}
	return "binary"
}

// PackageRef identifies a Debian source or binary package and collects what
// is learned about it while it is resolved, downloaded and merged.
// Name, Version, Architecture and Kind must not change after construction.
type PackageRef struct {
	Name         string
	Version      version.Version
	Architecture string
	Kind         Kind

	Checksums map[ChecksumAlgo]string
	// Locator is the final storage location, empty until known.
	Locator string

	Maintainer string
	Homepage   string
	VcsBrowser string
	VcsGit     string
	Binaries   []string
}

// NewSourcePackage creates a source package reference.
func NewSourcePackage(name, ver string) (*PackageRef, error) {
	v, err := version.Parse(ver)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q for %s: %w", ver, name, err)
	}
	return &PackageRef{
		Name:         name,
		Version:      v,
		Architecture: ArchSource,
		Kind:         KindSource,
		Checksums:    make(map[ChecksumAlgo]string),
	}, nil
}

// NewBinaryPackage creates a binary package reference. arch may be empty
// when unknown.
func NewBinaryPackage(name, ver, arch string) (*PackageRef, error) {
	v, err := version.Parse(ver)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q for %s: %w", ver, name, err)
	}
	return &PackageRef{
		Name:         name,
		Version:      v,
		Architecture: arch,
		Kind:         KindBinary,
		Checksums:    make(map[ChecksumAlgo]string),
	}, nil
}

func (p *PackageRef) IsSource() bool {
	return p.Kind == KindSource
}

func (p *PackageRef) IsBinary() bool {
	return p.Kind == KindBinary
}

// IsNative reports whether the package has no Debian revision.
func (p *PackageRef) IsNative() bool {
	return p.Version.IsNative()
}

// VersionWithoutEpoch returns the version as used in pool file names.
func (p *PackageRef) VersionWithoutEpoch() string {
	if p.Version.Revision == "" {
		return p.Version.Version
	}
	return p.Version.Version + "-" + p.Version.Revision
}

// DscFile returns the name of the source control file.
func (p *PackageRef) DscFile() string {
	return fmt.Sprintf("%s_%s.dsc", p.Name, p.VersionWithoutEpoch())
}

// DebFile returns the name of the binary package file.
func (p *PackageRef) DebFile() string {
	return fmt.Sprintf("%s_%s_%s.deb", p.Name, p.VersionWithoutEpoch(), p.Architecture)
}

// Filename returns the last element of the locator, or the default file
// name of the package when no locator is set.
func (p *PackageRef) Filename() string {
	if p.Locator != "" {
		return path.Base(p.Locator)
	}
	if p.IsSource() {
		return p.DscFile()
	}
	return p.DebFile()
}

// PURL returns the canonical package URL of the package, e.g.
// pkg:deb/debian/sed@4.9-2?arch=source.
func (p *PackageRef) PURL() string {
	qualifiers := map[string]string{}
	if p.Architecture != "" {
		qualifiers["arch"] = p.Architecture
	}
	purl := packageurl.NewPackageURL(
		packageurl.TypeDebian,
		Vendor,
		p.Name,
		p.Version.String(),
		packageurl.QualifiersFromMap(qualifiers),
		"",
	)
	return purl.ToString()
}

// FromPURL creates a package reference from a deb package URL.
func FromPURL(s string) (*PackageRef, error) {
	purl, err := packageurl.FromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid purl %q: %w", s, err)
	}
	if purl.Type != packageurl.TypeDebian {
		return nil, fmt.Errorf("not a debian purl: %s", s)
	}

	arch := purl.Qualifiers.Map()["arch"]
	if arch == ArchSource {
		return NewSourcePackage(purl.Name, purl.Version)
	}
	return NewBinaryPackage(purl.Name, purl.Version, arch)
}

// SetChecksum records a digest, normalised to lower case.
func (p *PackageRef) SetChecksum(algo ChecksumAlgo, digest string) {
	if p.Checksums == nil {
		p.Checksums = make(map[ChecksumAlgo]string)
	}
	p.Checksums[algo] = strings.ToLower(strings.TrimSpace(digest))
}

// BestChecksum returns the strongest digest known for the package.
func (p *PackageRef) BestChecksum() (ChecksumAlgo, string, bool) {
	return BestDigest(p.Checksums)
}

// MergeWith copies the fields of other that are unset on p. Binary names are
// merged, and for binary packages missing checksums are taken over.
func (p *PackageRef) MergeWith(other *PackageRef) {
	if other == nil {
		return
	}
	if p.Maintainer == "" {
		p.Maintainer = other.Maintainer
	}
	if p.Homepage == "" {
		p.Homepage = other.Homepage
	}
	if p.VcsBrowser == "" {
		p.VcsBrowser = other.VcsBrowser
	}
	if p.VcsGit == "" {
		p.VcsGit = other.VcsGit
	}

	seen := make(map[string]bool, len(p.Binaries))
	for _, b := range p.Binaries {
		seen[b] = true
	}
	for _, b := range other.Binaries {
		if !seen[b] {
			p.Binaries = append(p.Binaries, b)
			seen[b] = true
		}
	}

	if p.IsBinary() {
		for algo, digest := range other.Checksums {
			if _, ok := p.Checksums[algo]; !ok {
				p.SetChecksum(algo, digest)
			}
		}
	}
}

func (p *PackageRef) String() string {
	return fmt.Sprintf("%s@%s", p.Name, p.Version.String())
}

// SortByVersion sorts version strings in ascending Debian order. Strings
// that do not parse are kept at the end in their original order.
func SortByVersion(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, erri := version.Parse(versions[i])
		vj, errj := version.Parse(versions[j])
		switch {
		case erri != nil:
			return false
		case errj != nil:
			return true
		}
		return version.Compare(vi, vj) < 0
	})
}
