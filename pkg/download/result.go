package download

import (
	"encoding/json"

	"github.com/CeGenreDeChat/debsnap/pkg/debian"
)

type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusChecksumMismatch
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusChecksumMismatch:
		return "checksum_mismatch"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result reports the outcome for one registered file. Path is only set
// when Status is StatusOK. Err carries the cause of a StatusFailed result.
type Result struct {
	Package  *debian.PackageRef
	Filename string
	Path     string
	Status   Status
	Err      error
}

type jsonPackage struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Architecture string `json:"architecture,omitempty"`
	PURL         string `json:"purl"`
}

type jsonResult struct {
	Status   Status       `json:"status"`
	Package  *jsonPackage `json:"package,omitempty"`
	Filename string       `json:"filename"`
	Path     string       `json:"path,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// JSON renders the result as a single line of JSON.
func (r Result) JSON() string {
	out := jsonResult{
		Status:   r.Status,
		Filename: r.Filename,
		Path:     r.Path,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	if r.Package != nil {
		out.Package = &jsonPackage{
			Name:         r.Package.Name,
			Version:      r.Package.Version.String(),
			Architecture: r.Package.Architecture,
			PURL:         r.Package.PURL(),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "{}"
	}
	return string(data)
}
