package xisf

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// ChecksumAlgorithm identifies a block checksum hash function.
type ChecksumAlgorithm uint8

const (
	ChecksumNone ChecksumAlgorithm = iota
	ChecksumSHA1
	ChecksumSHA256
	ChecksumSHA512
)

func (a ChecksumAlgorithm) String() string {
	switch a {
	case ChecksumSHA1:
		return "sha1"
	case ChecksumSHA256:
		return "sha256"
	case ChecksumSHA512:
		return "sha512"
	}
	return "none"
}

// ParseChecksumAlgorithm accepts sha1, sha256 and sha512, with or without
// a dash after "sha".
func ParseChecksumAlgorithm(id string) (ChecksumAlgorithm, error) {
	switch foldID(strings.TrimSpace(id)) {
	case "", "none":
		return ChecksumNone, nil
	case "sha1", "sha-1":
		return ChecksumSHA1, nil
	case "sha256", "sha-256":
		return ChecksumSHA256, nil
	case "sha512", "sha-512":
		return ChecksumSHA512, nil
	}
	return ChecksumNone, fmt.Errorf("%w: '%s'", ErrUnsupportedChecksum, id)
}

// Size is the digest length in bytes.
func (a ChecksumAlgorithm) Size() int {
	switch a {
	case ChecksumSHA1:
		return sha1.Size
	case ChecksumSHA256:
		return sha256.Size
	case ChecksumSHA512:
		return sha512.Size
	}
	return 0
}

func (a ChecksumAlgorithm) newHash() hash.Hash {
	switch a {
	case ChecksumSHA1:
		return sha1.New()
	case ChecksumSHA256:
		return sha256.New()
	case ChecksumSHA512:
		return sha512.New()
	}
	return nil
}

// Sum hashes the concatenation of parts.
func (a ChecksumAlgorithm) Sum(parts ...[]byte) []byte {
	h := a.newHash()
	if h == nil {
		return nil
	}
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// Checksum is a block checksum attribute value.
type Checksum struct {
	Algorithm ChecksumAlgorithm
	Digest    []byte
}

// parseChecksumAttr decodes checksum="<algorithm>:<hex digest>".
func parseChecksumAttr(s string) (Checksum, error) {
	alg, digest, ok := strings.Cut(s, ":")
	if !ok || strings.Contains(digest, ":") {
		return Checksum{}, fmt.Errorf("malformed block checksum attribute: '%s'", s)
	}
	if strings.TrimSpace(alg) == "" {
		return Checksum{}, fmt.Errorf("missing checksum algorithm: %s", s)
	}
	a, err := ParseChecksumAlgorithm(alg)
	if err != nil {
		return Checksum{}, fmt.Errorf("unknown/unsupported checksum algorithm '%s'", alg)
	}
	d, err := hex.DecodeString(strings.TrimSpace(digest))
	if err != nil || len(d) != a.Size() {
		return Checksum{}, fmt.Errorf("invalid checksum length: '%s'", digest)
	}
	return Checksum{Algorithm: a, Digest: d}, nil
}

func (c Checksum) String() string {
	return c.Algorithm.String() + ":" + hex.EncodeToString(c.Digest)
}

// verify checks the digest of the concatenated parts.
func (c Checksum) verify(parts ...[]byte) error {
	got := c.Algorithm.Sum(parts...)
	if !bytes.Equal(got, c.Digest) {
		return fmt.Errorf("%w: Block %s checksum mismatch: Expected %x, got %x",
			ErrChecksumMismatch, c.Algorithm, c.Digest, got)
	}
	return nil
}
