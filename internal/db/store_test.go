package db

import "testing"

func TestInt8ArrayLiteral(t *testing.T) {
	t.Parallel()

	if got := int8ArrayLiteral(nil); got != "{}" {
		t.Fatalf("expected empty array literal, got %q", got)
	}
	if got := int8ArrayLiteral([]int64{7}); got != "{7}" {
		t.Fatalf("unexpected literal: %q", got)
	}
	if got := int8ArrayLiteral([]int64{1, 2, 42}); got != "{1,2,42}" {
		t.Fatalf("unexpected literal: %q", got)
	}
}
