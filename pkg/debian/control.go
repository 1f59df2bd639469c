package debian

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
)

// Paragraph is a single deb822 paragraph. Field names are matched case
// insensitively; multi-line values keep one line per continuation line.
type Paragraph struct {
	fields map[string]string
	order  []string
}

// Get returns the value of field, or "" when absent.
func (p Paragraph) Get(field string) string {
	return p.fields[strings.ToLower(field)]
}

// Has reports whether field is present.
func (p Paragraph) Has(field string) bool {
	_, ok := p.fields[strings.ToLower(field)]
	return ok
}

// Fields returns the field names in file order.
func (p Paragraph) Fields() []string {
	return p.order
}

// FileEntry is one line of a Files / Checksums-* field.
type FileEntry struct {
	Hash string
	Size int64
	Name string
}

// Dsc is a parsed Debian source control file.
type Dsc struct {
	Source     string
	Version    string
	Format     string
	Maintainer string
	Homepage   string
	VcsBrowser string
	VcsGit     string
	Binaries   []string

	Files           []FileEntry
	ChecksumsSha1   []FileEntry
	ChecksumsSha256 []FileEntry
}

// ReadDsc reads and parses the .dsc file at filePath.
func ReadDsc(filePath string) (*Dsc, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	dsc, err := ParseDsc(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return dsc, nil
}

// ParseDsc parses a .dsc document. A clearsigned document is unwrapped
// without checking its signature.
func ParseDsc(data []byte) (*Dsc, error) {
	if block, _ := clearsign.Decode(data); block != nil {
		data = block.Plaintext
	} else if bytes.HasPrefix(bytes.TrimSpace(data), []byte(clearsignHeader)) {
		data = extractClearsignedContent(data)
	}

	para, err := ParseParagraph(string(data))
	if err != nil {
		return nil, err
	}

	dsc := &Dsc{
		Source:     para.Get("Source"),
		Version:    para.Get("Version"),
		Format:     para.Get("Format"),
		Maintainer: para.Get("Maintainer"),
		Homepage:   para.Get("Homepage"),
		VcsBrowser: para.Get("Vcs-Browser"),
		VcsGit:     para.Get("Vcs-Git"),
		Binaries:   parsePackageList(strings.ReplaceAll(para.Get("Binary"), "\n", " ")),
	}

	if dsc.Source == "" || dsc.Version == "" {
		return nil, errors.New("invalid dsc file: missing required fields (Source, Version)")
	}

	if dsc.Files, err = parseFileEntries(para.Get("Files")); err != nil {
		return nil, fmt.Errorf("invalid Files field: %w", err)
	}
	if dsc.ChecksumsSha1, err = parseFileEntries(para.Get("Checksums-Sha1")); err != nil {
		return nil, fmt.Errorf("invalid Checksums-Sha1 field: %w", err)
	}
	if dsc.ChecksumsSha256, err = parseFileEntries(para.Get("Checksums-Sha256")); err != nil {
		return nil, fmt.Errorf("invalid Checksums-Sha256 field: %w", err)
	}

	return dsc, nil
}

// Entries returns the manifest for algo.
func (d *Dsc) Entries(algo ChecksumAlgo) []FileEntry {
	switch algo {
	case MD5:
		return d.Files
	case SHA1:
		return d.ChecksumsSha1
	default:
		return d.ChecksumsSha256
	}
}

// PackageRef returns a source package reference carrying the metadata of
// the control file.
func (d *Dsc) PackageRef() (*PackageRef, error) {
	p, err := NewSourcePackage(d.Source, d.Version)
	if err != nil {
		return nil, err
	}
	p.Maintainer = d.Maintainer
	p.Homepage = d.Homepage
	p.VcsBrowser = d.VcsBrowser
	p.VcsGit = d.VcsGit
	p.Binaries = append([]string(nil), d.Binaries...)
	return p, nil
}

// ParseParagraph parses the first paragraph of content.
func ParseParagraph(content string) (Paragraph, error) {
	para := Paragraph{fields: make(map[string]string)}
	currentField := ""

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		if strings.TrimSpace(line) == "" {
			if len(para.order) > 0 {
				break
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if currentField == "" {
				return para, fmt.Errorf("continuation line without field: %q", line)
			}
			value := strings.TrimSpace(line)
			if value == "." {
				value = ""
			}
			if para.fields[currentField] == "" {
				para.fields[currentField] = value
			} else {
				para.fields[currentField] += "\n" + value
			}
			continue
		}

		colonIndex := strings.Index(line, ":")
		if colonIndex == -1 {
			return para, fmt.Errorf("malformed line: %q", line)
		}

		field := strings.TrimSpace(line[:colonIndex])
		value := strings.TrimSpace(line[colonIndex+1:])
		currentField = strings.ToLower(field)
		if _, dup := para.fields[currentField]; !dup {
			para.order = append(para.order, field)
		}
		para.fields[currentField] = value
	}

	if err := scanner.Err(); err != nil {
		return para, err
	}
	if len(para.order) == 0 {
		return para, errors.New("empty control paragraph")
	}
	return para, nil
}

const clearsignHeader = "-----BEGIN PGP SIGNED MESSAGE-----"

// extractClearsignedContent strips the armor of a clearsigned document whose
// signature block could not be decoded.
func extractClearsignedContent(data []byte) []byte {
	lines := strings.Split(string(data), "\n")
	var content strings.Builder
	started := false

	for _, line := range lines {
		if strings.HasPrefix(line, "-----BEGIN PGP SIGNATURE-----") {
			break
		}

		if !started {
			if strings.TrimSpace(line) == "" {
				started = true
			}
			continue
		}

		content.WriteString(strings.TrimPrefix(line, "- "))
		content.WriteString("\n")
	}

	return []byte(content.String())
}

func parseFileEntries(value string) ([]FileEntry, error) {
	var entries []FileEntry
	sc := bufio.NewScanner(bytes.NewBufferString(value))
	for sc.Scan() {
		parts := strings.Fields(sc.Text())
		if len(parts) == 0 {
			continue
		}
		if len(parts) < 3 {
			return nil, fmt.Errorf("malformed checksum line: %s", sc.Text())
		}
		size, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid size in checksum line: %w", err)
		}
		entries = append(entries, FileEntry{
			Hash: strings.ToLower(parts[0]),
			Size: size,
			Name: parts[2],
		})
	}
	return entries, sc.Err()
}

func parsePackageList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	packages := strings.Split(value, ",")
	out := packages[:0]
	for _, p := range packages {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
