package fingerprint

import (
	"strings"
	"testing"
)

const sampleText = `Acme Robotics announced a new orbital drone platform on Tuesday,
claiming a tenfold improvement in flight endurance over its previous
generation of hardware. The company plans to ship developer kits to early
partners before the end of the quarter, and expects a broader commercial
launch next year once regulators sign off on autonomous flight corridors.
Analysts noted that the announcement puts pressure on competing vendors,
several of which have delayed their own platform refreshes repeatedly.`

func TestComputeIsDeterministic(t *testing.T) {
	t.Parallel()

	first := Compute(sampleText)
	second := Compute(sampleText)

	if len(first.HashValues) != NumPermutations {
		t.Fatalf("unexpected signature width: got %d want %d", len(first.HashValues), NumPermutations)
	}
	for i := range first.HashValues {
		if first.HashValues[i] != second.HashValues[i] {
			t.Fatalf("signature differs at slot %d: %d != %d", i, first.HashValues[i], second.HashValues[i])
		}
	}
}

func TestSimilaritySelfIsOne(t *testing.T) {
	t.Parallel()

	f := Compute(sampleText)
	similarity, ok := Similarity(f, f)
	if !ok {
		t.Fatalf("expected self comparison to be comparable")
	}
	if similarity != 1.0 {
		t.Fatalf("expected self similarity 1.0, got %f", similarity)
	}
}

func TestSimilarityNearDuplicates(t *testing.T) {
	t.Parallel()

	variant := strings.Replace(sampleText, "Tuesday", "Wednesday", 1)
	similarity, ok := Similarity(Compute(sampleText), Compute(variant))
	if !ok {
		t.Fatalf("expected fingerprints to be comparable")
	}
	if similarity < DefaultThreshold {
		t.Fatalf("expected near-duplicate similarity >= %f, got %f", DefaultThreshold, similarity)
	}

	unrelated := Compute("Quarterly earnings at the regional grocery chain fell short of analyst expectations this spring season overall.")
	similarity, ok = Similarity(Compute(sampleText), unrelated)
	if !ok {
		t.Fatalf("expected fingerprints to be comparable")
	}
	if similarity >= DefaultThreshold {
		t.Fatalf("expected unrelated similarity < %f, got %f", DefaultThreshold, similarity)
	}
}

func TestSimilarityEmptyTextIsIncomparable(t *testing.T) {
	t.Parallel()

	empty := Compute("")
	if !empty.IsEmpty() {
		t.Fatalf("expected empty text to yield an empty signature")
	}

	if _, ok := Similarity(empty, Compute(sampleText)); ok {
		t.Fatalf("expected comparison with empty signature to be incomparable")
	}
	if _, ok := AreSimilar(empty, empty, DefaultThreshold); ok {
		t.Fatalf("expected empty-vs-empty comparison to be incomparable")
	}
}

func TestSimilarityMismatchedWidthIsIncomparable(t *testing.T) {
	t.Parallel()

	full := Compute(sampleText)
	truncated := Fingerprint{
		Version:    Version,
		NumPerm:    NumPermutations / 2,
		HashValues: append([]uint64(nil), full.HashValues[:NumPermutations/2]...),
	}

	if _, ok := Similarity(full, truncated); ok {
		t.Fatalf("expected mismatched permutation counts to be incomparable")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	original := Compute(sampleText)
	raw, err := Encode(original)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, ok := Decode(raw)
	if !ok {
		t.Fatalf("expected stored fingerprint to decode")
	}

	similarity, ok := Similarity(original, decoded)
	if !ok || similarity != 1.0 {
		t.Fatalf("expected decoded fingerprint to match original, got similarity=%f ok=%t", similarity, ok)
	}
}

func TestDecodeRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	if _, ok := Decode(""); ok {
		t.Fatalf("expected empty input to be rejected")
	}
	if _, ok := Decode("{not json"); ok {
		t.Fatalf("expected malformed JSON to be rejected")
	}
	if _, ok := Decode(`{"version":99,"num_perm":128,"hashvalues":[]}`); ok {
		t.Fatalf("expected unknown version to be rejected")
	}
	if _, ok := Decode(`{"version":1,"num_perm":128,"hashvalues":[1,2,3]}`); ok {
		t.Fatalf("expected truncated signature to be rejected")
	}
}

func TestShinglesShortText(t *testing.T) {
	t.Parallel()

	shingles := Shingles("hello world")
	if len(shingles) != 2 || shingles[0] != "hello" || shingles[1] != "world" {
		t.Fatalf("expected word fallback for short text, got %v", shingles)
	}

	shingles = Shingles("one two three four")
	want := []string{"one two three", "two three four"}
	if len(shingles) != len(want) {
		t.Fatalf("unexpected shingle count: got %v", shingles)
	}
	for i := range want {
		if shingles[i] != want[i] {
			t.Fatalf("unexpected shingle at %d: got %q want %q", i, shingles[i], want[i])
		}
	}
}
