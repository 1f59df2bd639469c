package resolver

import (
	"context"
	"fmt"
	"io"

	"github.com/CeGenreDeChat/debsnap/pkg/debian"
	"github.com/CeGenreDeChat/debsnap/pkg/snapshot"
)

// RemoteDsc is a .dsc file fetched from the mirror together with the
// candidate files of its archive.
type RemoteDsc struct {
	File    snapshot.RemoteFile
	Dsc     *debian.Dsc
	Digests map[debian.ChecksumAlgo]string

	candidates []snapshot.RemoteFile
}

// FetchDsc downloads and parses dscFile. Only the files of all that belong
// to the same archive as dscFile are kept as candidates.
func FetchDsc(ctx context.Context, archive Archive, dscFile snapshot.RemoteFile, all []snapshot.RemoteFile) (*RemoteDsc, error) {
	body, err := archive.FetchFile(ctx, dscFile)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	hasher := debian.NewMultiHasher(debian.MD5, debian.SHA1, debian.SHA256)
	data, err := io.ReadAll(io.TeeReader(body, hasher))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dscFile.Filename, err)
	}

	dsc, err := debian.ParseDsc(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dscFile.Filename, err)
	}

	rd := &RemoteDsc{
		File:    dscFile,
		Dsc:     dsc,
		Digests: hasher.Digests(),
	}
	for _, f := range all {
		if f.ArchiveName == dscFile.ArchiveName {
			rd.candidates = append(rd.candidates, f)
		}
	}
	return rd, nil
}

// SourceFiles returns the candidates listed in the Checksums-Sha1 field of
// the .dsc, matched by hash and name. The .dsc itself is not included.
func (d *RemoteDsc) SourceFiles() []snapshot.RemoteFile {
	var out []snapshot.RemoteFile
	for _, f := range d.candidates {
		for _, entry := range d.Dsc.ChecksumsSha1 {
			if f.Hash == entry.Hash && f.Filename == entry.Name {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// Matches reports whether the .dsc content has the given digest.
func (d *RemoteDsc) Matches(algo debian.ChecksumAlgo, digest string) bool {
	got, ok := d.Digests[algo]
	return ok && debian.DigestEqual(got, digest)
}
