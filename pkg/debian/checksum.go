package debian

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// ChecksumAlgo is a digest algorithm. Higher values are stronger.
type ChecksumAlgo int

const (
	MD5 ChecksumAlgo = iota + 1
	SHA1
	SHA256
)

func (a ChecksumAlgo) String() string {
	switch a {
	case MD5:
		return "md5"
	case SHA1:
		return "sha1"
	case SHA256:
		return "sha256"
	}
	return fmt.Sprintf("algo(%d)", int(a))
}

// ParseChecksumAlgo accepts the hashlib names and the deb822 field names
// (MD5sum, SHA1, SHA256, Checksums-Sha256...).
func ParseChecksumAlgo(name string) (ChecksumAlgo, error) {
	switch strings.TrimPrefix(strings.ToLower(name), "checksums-") {
	case "md5", "md5sum", "files":
		return MD5, nil
	case "sha1":
		return SHA1, nil
	case "sha256":
		return SHA256, nil
	}
	return 0, fmt.Errorf("unsupported checksum algorithm: %s", name)
}

func (a ChecksumAlgo) New() hash.Hash {
	switch a {
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	default:
		return sha256.New()
	}
}

// BestDigest returns the strongest digest in digests.
func BestDigest(digests map[ChecksumAlgo]string) (ChecksumAlgo, string, bool) {
	for _, algo := range []ChecksumAlgo{SHA256, SHA1, MD5} {
		if d, ok := digests[algo]; ok && d != "" {
			return algo, d, true
		}
	}
	return 0, "", false
}

// ReaderDigest hashes r with algo and returns the hex digest.
func ReaderDigest(r io.Reader, algo ChecksumAlgo) (string, error) {
	h := algo.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileDigest hashes the file at path with algo.
func FileDigest(path string, algo ChecksumAlgo) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digest, err := ReaderDigest(f, algo)
	if err != nil {
		return "", fmt.Errorf("failed to compute the checksum of %s: %w", path, err)
	}
	return digest, nil
}

// DigestEqual compares two hex digests in constant time, ignoring case.
func DigestEqual(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MultiHasher computes several digests in one pass over the data written to it.
type MultiHasher struct {
	hashers map[ChecksumAlgo]hash.Hash
	size    int64
}

func NewMultiHasher(algos ...ChecksumAlgo) *MultiHasher {
	m := &MultiHasher{hashers: make(map[ChecksumAlgo]hash.Hash, len(algos))}
	for _, algo := range algos {
		m.hashers[algo] = algo.New()
	}
	return m
}

func (m *MultiHasher) Write(buf []byte) (int, error) {
	for _, h := range m.hashers {
		h.Write(buf)
	}
	m.size += int64(len(buf))
	return len(buf), nil
}

func (m *MultiHasher) Size() int64 {
	return m.size
}

// Digests returns the hex digests computed so far.
func (m *MultiHasher) Digests() map[ChecksumAlgo]string {
	out := make(map[ChecksumAlgo]string, len(m.hashers))
	for algo, h := range m.hashers {
		out[algo] = hex.EncodeToString(h.Sum(nil))
	}
	return out
}
