// Package fingerprint derives content fingerprints for verification requests.
// Strategies are interchangeable; only Rolling is non-cryptographic and
// exists for compatibility with fingerprints issued by earlier deployments.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/OneOfOne/xxhash"
	"golang.org/x/crypto/blake2b"
)

const (
	AlgorithmSHA256  = "sha256"
	AlgorithmBlake2b = "blake2b"
	AlgorithmXXHash  = "xxhash"
	AlgorithmRolling = "rolling"
)

// Hasher turns a byte string into a printable fingerprint.
type Hasher interface {
	Name() string
	Sum(data []byte) string
}

// New returns the hasher registered under name.
func New(name string) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", AlgorithmSHA256:
		return SHA256{}, nil
	case AlgorithmBlake2b:
		return Blake2b{}, nil
	case AlgorithmXXHash:
		return XXHash{}, nil
	case AlgorithmRolling:
		return Rolling{}, nil
	default:
		return nil, fmt.Errorf("unsupported fingerprint algorithm: %s", name)
	}
}

// Canonical renders content the way it is fingerprinted: strings and byte
// slices verbatim, everything else as JSON.
func Canonical(content any) (string, error) {
	switch v := content.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.RawMessage:
		return string(v), nil
	}
	b, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("canonicalize content: %w", err)
	}
	return string(b), nil
}

// SumContent canonicalizes content and fingerprints it with h.
func SumContent(h Hasher, content any) (string, error) {
	s, err := Canonical(content)
	if err != nil {
		return "", err
	}
	return h.Sum([]byte(s)), nil
}

type SHA256 struct{}

func (SHA256) Name() string { return AlgorithmSHA256 }

func (SHA256) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type Blake2b struct{}

func (Blake2b) Name() string { return AlgorithmBlake2b }

func (Blake2b) Sum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// XXHash is fast and well distributed but not collision resistant against
// an adversary.
type XXHash struct{}

func (XXHash) Name() string { return AlgorithmXXHash }

func (XXHash) Sum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Checksum64(data))
}

// Rolling is the 32-bit "hash*31 + unit" checksum over UTF-16 code units,
// rendered as the absolute value in lowercase hex.
type Rolling struct{}

func (Rolling) Name() string { return AlgorithmRolling }

func (Rolling) Sum(data []byte) string {
	var h int32
	for _, unit := range utf16.Encode([]rune(string(data))) {
		h = (h << 5) - h + int32(unit)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return strconv.FormatInt(abs, 16)
}
