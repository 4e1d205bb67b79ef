package random_test

import (
	"testing"

	"ludo-service/pkg/utils/random"
)

func TestIntnRange(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 600; i++ {
		v, err := random.Intn(6)
		if err != nil {
			t.Fatalf("intn failed: %v", err)
		}
		if v < 0 || v >= 6 {
			t.Fatalf("value out of range: %d", v)
		}
		seen[v] = true
	}
	if len(seen) != 6 {
		t.Fatalf("expected every face to appear, got %v", seen)
	}
}

func TestCodeLength(t *testing.T) {
	if got := random.Code(8); len(got) != 8 {
		t.Fatalf("expected 8 chars, got %q", got)
	}
}
