package snapshot

import (
	"fmt"
	"net/url"
	"time"
)

// ArchSource is the architecture assigned to every file of a source package.
const ArchSource = "source"

// RemoteFile is a file stored on the snapshot mirror. The same content hash
// may be known under several names; each name is a separate RemoteFile.
type RemoteFile struct {
	Hash         string `json:"hash"`
	Filename     string `json:"filename"`
	Size         int64  `json:"size"`
	ArchiveName  string `json:"archive_name"`
	Path         string `json:"path"`
	FirstSeen    int64  `json:"first_seen"`
	DownloadURL  string `json:"downloadurl"`
	Architecture string `json:"architecture,omitempty"`
}

// IsSource reports whether the file belongs to a source package.
func (f RemoteFile) IsSource() bool {
	return f.Architecture == ArchSource
}

// BinaryRef is a binary package built from a source package.
type BinaryRef struct {
	Name          string
	Version       string
	SourceName    string
	SourceVersion string
}

// BinaryQuery selects the files of a binary package. When SourceName and
// SourceVersion are set the lookup goes through the source package, which
// yields the same files with more precise metadata. Arch restricts the
// result to one architecture.
type BinaryQuery struct {
	Name          string
	Version       string
	SourceName    string
	SourceVersion string
	Arch          string
}

// SourceFilter narrows the files of a source package.
type SourceFilter struct {
	Archive string
	Hash    string
}

func (f SourceFilter) match(rf RemoteFile) bool {
	if f.Archive != "" && rf.ArchiveName != f.Archive {
		return false
	}
	if f.Hash != "" && rf.Hash != f.Hash {
		return false
	}
	return true
}

type fileInfo struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ArchiveName string `json:"archive_name"`
	Path        string `json:"path"`
	FirstSeen   string `json:"first_seen"`
}

type hashResult struct {
	Hash         string `json:"hash"`
	Architecture string `json:"architecture"`
}

type filesResponse struct {
	Result   []hashResult          `json:"result"`
	FileInfo map[string][]fileInfo `json:"fileinfo"`
}

type versionsResponse struct {
	Package string `json:"package"`
	Result  []struct {
		Version string `json:"version"`
	} `json:"result"`
}

type packagesResponse struct {
	Result []struct {
		Package string `json:"package"`
	} `json:"result"`
}

type binPackagesResponse struct {
	Result []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"result"`
}

type fileInfoResponse struct {
	Result []fileInfo `json:"result"`
}

var firstSeenLayouts = []string{
	"20060102T150405Z",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

func parseFirstSeen(value string) (int64, error) {
	for _, layout := range firstSeenLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("invalid first_seen timestamp %q", value)
}

func (c *Client) remoteFile(hash string, info fileInfo) (RemoteFile, error) {
	firstSeen, err := parseFirstSeen(info.FirstSeen)
	if err != nil {
		return RemoteFile{}, err
	}
	return RemoteFile{
		Hash:        hash,
		Filename:    info.Name,
		Size:        info.Size,
		ArchiveName: info.ArchiveName,
		Path:        info.Path,
		FirstSeen:   firstSeen,
		DownloadURL: c.endpoint("file", hash, info.Name),
	}, nil
}

func escapeSegments(segments []string) string {
	out := ""
	for _, s := range segments {
		out += "/" + url.PathEscape(s)
	}
	return out
}
