// Package fingerprint produces compact syntactic signatures for text
// bodies using MinHash over 3-word shingles. Two signatures estimate the
// Jaccard similarity of the underlying shingle sets, which makes them a
// cheap near-duplicate test that never needs the original text.
package fingerprint

import (
	"encoding/json"
	"hash/fnv"
	"math"
	"math/bits"
	"math/rand"
	"strings"
	"unicode"
)

const (
	// Version tags the signature layout. Signatures with a different
	// version are incomparable.
	Version = 1

	// NumPermutations is the MinHash signature width P. More
	// permutations tighten the Jaccard estimate at linear cost.
	NumPermutations = 128

	// DefaultThreshold is the Jaccard similarity at or above which two
	// texts are treated as near-duplicates.
	DefaultThreshold = 0.8

	shingleSize = 3

	// mersennePrime is the modulus for the affine permutation functions.
	// All permutation arithmetic is 64-bit with a 128-bit intermediate
	// product reduced modulo 2^61-1; widening beyond that would silently
	// change every stored signature.
	mersennePrime = (uint64(1) << 61) - 1

	// permutationSeed fixes the permutation coefficients so that the
	// signature space is stable across runs and processes.
	permutationSeed = 1
)

type permutation struct {
	a uint64
	b uint64
}

var permutations = generatePermutations(permutationSeed)

func generatePermutations(seed int64) [NumPermutations]permutation {
	rng := rand.New(rand.NewSource(seed))

	var perms [NumPermutations]permutation
	for i := range perms {
		perms[i] = permutation{
			a: 1 + rng.Uint64()%(mersennePrime-1),
			b: rng.Uint64() % mersennePrime,
		}
	}
	return perms
}

// Fingerprint is a versioned MinHash signature. Two fingerprints are
// comparable only when both version and permutation count match.
type Fingerprint struct {
	Version    int      `json:"version"`
	NumPerm    int      `json:"num_perm"`
	HashValues []uint64 `json:"hashvalues"`
}

// IsEmpty reports whether the fingerprint carries no signature, which
// happens when the source text had no tokens.
func (f Fingerprint) IsEmpty() bool {
	return len(f.HashValues) == 0
}

// Shingles tokenizes text into overlapping 3-word shingles. Texts with
// fewer than 3 words fall back to the words themselves.
func Shingles(text string) []string {
	words := tokenize(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) < shingleSize {
		return words
	}

	shingles := make([]string, 0, len(words)-shingleSize+1)
	for i := 0; i+shingleSize <= len(words); i++ {
		shingles = append(shingles, strings.Join(words[i:i+shingleSize], " "))
	}
	return shingles
}

// Compute derives the MinHash signature for text. Empty or token-free
// text yields an empty signature; comparisons against it are undefined
// rather than zero.
func Compute(text string) Fingerprint {
	shingles := Shingles(text)
	if len(shingles) == 0 {
		return Fingerprint{Version: Version, NumPerm: NumPermutations}
	}

	values := make([]uint64, NumPermutations)
	for i := range values {
		values[i] = math.MaxUint64
	}

	for _, shingle := range shingles {
		h := hashShingle(shingle)
		for i, perm := range permutations {
			if v := applyPermutation(perm, h); v < values[i] {
				values[i] = v
			}
		}
	}

	return Fingerprint{
		Version:    Version,
		NumPerm:    NumPermutations,
		HashValues: values,
	}
}

// Similarity estimates Jaccard similarity as the fraction of matching
// signature slots. The second return value is false when the
// fingerprints are incomparable (empty, version mismatch, or differing
// permutation counts); callers must treat that as "unknown", never as
// "dissimilar".
func Similarity(left, right Fingerprint) (float64, bool) {
	if left.IsEmpty() || right.IsEmpty() {
		return 0, false
	}
	if left.Version != right.Version || left.NumPerm != right.NumPerm {
		return 0, false
	}
	if len(left.HashValues) != len(right.HashValues) {
		return 0, false
	}

	matches := 0
	for i := range left.HashValues {
		if left.HashValues[i] == right.HashValues[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(left.HashValues)), true
}

// AreSimilar reports whether two fingerprints meet the threshold. The
// second return value mirrors Similarity's comparability flag.
func AreSimilar(left, right Fingerprint, threshold float64) (bool, bool) {
	similarity, ok := Similarity(left, right)
	if !ok {
		return false, false
	}
	return similarity >= threshold, true
}

// Encode serializes a fingerprint for storage.
func Encode(f Fingerprint) (string, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Decode parses a stored fingerprint. It returns false for empty input,
// malformed JSON, unknown versions, or signatures whose length does not
// match their declared permutation count.
func Decode(raw string) (Fingerprint, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Fingerprint{}, false
	}

	var f Fingerprint
	if err := json.Unmarshal([]byte(trimmed), &f); err != nil {
		return Fingerprint{}, false
	}
	if f.Version != Version {
		return Fingerprint{}, false
	}
	if f.NumPerm <= 0 || len(f.HashValues) != f.NumPerm {
		return Fingerprint{}, false
	}
	return f, true
}

func tokenize(text string) []string {
	trimmed := strings.TrimSpace(strings.ToLower(text))
	if trimmed == "" {
		return nil
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

func hashShingle(shingle string) uint64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(shingle))
	return hasher.Sum64()
}

func applyPermutation(p permutation, h uint64) uint64 {
	// (a*h + b) mod 2^61-1 with the product widened to 128 bits. The
	// high word of a*h stays below the modulus, so Div64 cannot panic.
	hi, lo := bits.Mul64(p.a, h)
	_, rem := bits.Div64(hi, lo, mersennePrime)
	return (rem + p.b) % mersennePrime
}
