package merge

import (
	"compress/bzip2"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	derrors "github.com/CeGenreDeChat/debsnap/internal/errors"
)

// Compression describes an external compressor: the tool, its arguments to
// compress stdin to stdout and to decompress, and the file suffix.
type Compression struct {
	Name         string
	Tool         string
	CompressArgs []string
	ExtractArgs  []string
	Ext          string
}

var (
	None  = Compression{Name: "none", Tool: "cat", Ext: ""}
	Bzip2 = Compression{Name: "bzip2", Tool: "bzip2", CompressArgs: []string{"-q"}, ExtractArgs: []string{"-q", "-d", "-c"}, Ext: ".bz2"}
	Gzip  = Compression{Name: "gzip", Tool: "gzip", CompressArgs: []string{"-q"}, ExtractArgs: []string{"-q", "-d", "-c"}, Ext: ".gz"}
	Xz    = Compression{Name: "xz", Tool: "xz", CompressArgs: []string{"-q"}, ExtractArgs: []string{"-q", "-d", "-c"}, Ext: ".xz"}
	Zstd  = Compression{Name: "zstd", Tool: "zstd", CompressArgs: []string{"-q"}, ExtractArgs: []string{"-q", "-d", "-c"}, Ext: ".zst"}
	Lz4   = Compression{Name: "lz4", Tool: "lz4", CompressArgs: []string{"-q"}, ExtractArgs: []string{"-q", "-d", "-c"}, Ext: ".lz4"}
)

// Formats returns the available compressors, None excluded.
func Formats() []Compression {
	return []Compression{Bzip2, Gzip, Xz, Zstd, Lz4}
}

// FormatNames returns the names accepted by CompressionFromTool.
func FormatNames() []string {
	names := []string{None.Name}
	for _, c := range Formats() {
		names = append(names, c.Name)
	}
	return names
}

// CompressionFromTool returns the compressor run by tool. An empty tool
// or "none" selects None.
func CompressionFromTool(tool string) (Compression, error) {
	if tool == "" || tool == None.Name {
		return None, nil
	}
	for _, c := range Formats() {
		if c.Tool == tool {
			return c, nil
		}
	}
	return Compression{}, derrors.New(derrors.KindUnsupportedCompression, "no handler for compression with "+tool)
}

// CompressionFromExt returns the compressor producing files with suffix
// ext, with or without the leading dot.
func CompressionFromExt(ext string) (Compression, error) {
	if ext == "" {
		return None, nil
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	for _, c := range Formats() {
		if c.Ext == ext {
			return c, nil
		}
	}
	return Compression{}, derrors.New(derrors.KindUnsupportedCompression, "no handler for extension "+ext)
}

func (c Compression) IsNone() bool {
	return c.Tool == None.Tool
}

// NewReader decompresses r in process. lz4 has no in-process decoder.
func (c Compression) NewReader(r io.Reader) (io.ReadCloser, error) {
	switch c.Name {
	case None.Name:
		return io.NopCloser(r), nil
	case Bzip2.Name:
		return io.NopCloser(bzip2.NewReader(r)), nil
	case Gzip.Name:
		return gzip.NewReader(r)
	case Xz.Name:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case Zstd.Name:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	}
	return nil, derrors.New(derrors.KindUnsupportedCompression, "no in-process decoder for "+c.Name)
}
