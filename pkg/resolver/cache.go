package resolver

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"

	"github.com/CeGenreDeChat/debsnap/pkg/debian"
	"github.com/CeGenreDeChat/debsnap/pkg/snapshot"
	"github.com/CeGenreDeChat/debsnap/pkg/utils"
)

// Cache maps packages to the files resolved for them, so that the mirror
// is queried once per package identity.
type Cache interface {
	Lookup(pkg *debian.PackageRef) ([]snapshot.RemoteFile, bool)
	Insert(pkg *debian.PackageRef, files []snapshot.RemoteFile) error
}

// NoopCache never hits and discards inserts.
type NoopCache struct{}

func (NoopCache) Lookup(*debian.PackageRef) ([]snapshot.RemoteFile, bool) {
	return nil, false
}

func (NoopCache) Insert(*debian.PackageRef, []snapshot.RemoteFile) error {
	return nil
}

// PersistentCache stores one zstd compressed JSON file per package identity.
// Entries are never expired. Writers replace entries atomically, so
// concurrent writers of the same entry leave the last complete write.
type PersistentCache struct {
	dir    string
	level  zstd.EncoderLevel
	logger *log.Logger
}

type CacheOption func(*PersistentCache)

func WithCacheLogger(l *log.Logger) CacheOption {
	return func(c *PersistentCache) {
		c.logger = l
	}
}

func WithCompressionLevel(level zstd.EncoderLevel) CacheOption {
	return func(c *PersistentCache) {
		c.level = level
	}
}

// NewPersistentCache opens the cache in dir, creating the directory when
// needed.
func NewPersistentCache(dir string, opts ...CacheOption) (*PersistentCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &PersistentCache{
		dir:    dir,
		level:  zstd.SpeedBetterCompression,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EntryKey returns the cache key of pkg: the SHA256 of its purl encoded as
// a JSON string.
func EntryKey(pkg *debian.PackageRef) string {
	encoded, _ := json.Marshal(pkg.PURL())
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

func (c *PersistentCache) entryPath(pkg *debian.PackageRef) string {
	return filepath.Join(c.dir, EntryKey(pkg)+".json.zst")
}

// Lookup returns the cached files of pkg. Missing, unreadable or corrupted
// entries are misses, and so is an entry holding an empty list.
func (c *PersistentCache) Lookup(pkg *debian.PackageRef) ([]snapshot.RemoteFile, bool) {
	entry := c.entryPath(pkg)
	if !utils.IsRegularFile(entry) {
		c.logger.Debug("package is not cached", "package", pkg.Name)
		return nil, false
	}

	files, err := readEntry(entry)
	if err != nil {
		c.logger.Warn("cache entry is corrupted", "entry", filepath.Base(entry), "package", pkg.String(), "err", err)
		return nil, false
	}
	if len(files) == 0 {
		return nil, false
	}

	c.logger.Debug("package already cached", "package", pkg.Name)
	return files, true
}

func readEntry(entry string) ([]snapshot.RemoteFile, error) {
	f, err := os.Open(entry)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var files []snapshot.RemoteFile
	if err := json.NewDecoder(dec).Decode(&files); err != nil {
		return nil, err
	}
	return files, nil
}

// Insert writes the entry of pkg to a temporary file and renames it into
// place.
func (c *PersistentCache) Insert(pkg *debian.PackageRef, files []snapshot.RemoteFile) error {
	if files == nil {
		files = []snapshot.RemoteFile{}
	}

	return utils.WriteFileAtomic(c.entryPath(pkg), 0644, func(w io.Writer) error {
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(c.level))
		if err != nil {
			return err
		}
		if err := json.NewEncoder(enc).Encode(files); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	})
}
