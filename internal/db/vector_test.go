package db

import (
	"math"
	"strings"
	"testing"
)

func TestVectorLiteralRoundTrip(t *testing.T) {
	t.Parallel()

	original := []float32{0.25, -1.5, 0, 3.125}
	literal, err := VectorLiteral(original, len(original))
	if err != nil {
		t.Fatalf("vector literal failed: %v", err)
	}
	if !strings.HasPrefix(literal, "[") || !strings.HasSuffix(literal, "]") {
		t.Fatalf("unexpected literal shape: %q", literal)
	}

	parsed, err := ParseVector(literal)
	if err != nil {
		t.Fatalf("parse vector failed: %v", err)
	}
	if len(parsed) != len(original) {
		t.Fatalf("length mismatch: got %d want %d", len(parsed), len(original))
	}
	for i := range original {
		if parsed[i] != original[i] {
			t.Fatalf("component %d mismatch: got %f want %f", i, parsed[i], original[i])
		}
	}
}

func TestVectorLiteralRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := VectorLiteral(nil, 3); err == nil {
		t.Fatalf("expected error for empty vector")
	}
	if _, err := VectorLiteral([]float32{1, 2}, 3); err == nil {
		t.Fatalf("expected dimension validation error")
	}
	if _, err := VectorLiteral([]float32{float32(math.NaN())}, 0); err == nil {
		t.Fatalf("expected error for NaN component")
	}
	if _, err := VectorLiteral([]float32{float32(math.Inf(1))}, 0); err == nil {
		t.Fatalf("expected error for infinite component")
	}
}

func TestParseVectorRejectsMalformedLiterals(t *testing.T) {
	t.Parallel()

	for _, literal := range []string{"", "[]", "1,2,3", "[1,2", "[a,b]"} {
		if _, err := ParseVector(literal); err == nil {
			t.Fatalf("expected parse error for %q", literal)
		}
	}
}
