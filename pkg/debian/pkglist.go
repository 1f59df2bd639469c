package debian

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ParsePackageList reads one package per line, either as
// "name version arch" (arch "source" for source packages) or as a
// pkg:deb purl. Blank lines and lines starting with '#' are skipped and
// duplicates are dropped, keeping the first occurrence.
func ParsePackageList(r io.Reader) ([]*PackageRef, error) {
	var packages []*PackageRef
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		pkg, err := parsePackageLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		key := pkg.PURL()
		if seen[key] {
			continue
		}
		seen[key] = true
		packages = append(packages, pkg)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading package list: %w", err)
	}
	return packages, nil
}

func parsePackageLine(line string) (*PackageRef, error) {
	if strings.HasPrefix(line, "pkg:deb/") {
		return FromPURL(line)
	}

	fields := strings.Fields(line)
	if len(fields) != 3 {
		return nil, fmt.Errorf("expected 'name version arch', got %q", line)
	}

	name, ver, arch := fields[0], fields[1], fields[2]
	if arch == ArchSource {
		return NewSourcePackage(name, ver)
	}
	return NewBinaryPackage(name, ver, arch)
}

// FilterKind returns the packages of the selected kinds. With both flags
// false every package is kept.
func FilterKind(packages []*PackageRef, sources, binaries bool) []*PackageRef {
	if !sources && !binaries {
		return packages
	}
	var out []*PackageRef
	for _, p := range packages {
		if (sources && p.IsSource()) || (binaries && p.IsBinary()) {
			out = append(out, p)
		}
	}
	return out
}
