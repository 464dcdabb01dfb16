package testfixtures

import (
	"slices"
	"testing"
)

func TestIDGeneratorProducesSequentialIDs(t *testing.T) {
	gen := NewIDGenerator("signup")

	if last := gen.Last(); last != "" {
		t.Fatalf("Last before Next = %q, want empty", last)
	}

	first := gen.Next()
	second := gen.NextFunc()()

	if first != "signup-1" || second != "signup-2" {
		t.Fatalf("unexpected identifiers: %q, %q", first, second)
	}
	if gen.Last() != "signup-2" {
		t.Fatalf("Last = %q, want signup-2", gen.Last())
	}
	if !slices.Equal(gen.Issued(), []string{"signup-1", "signup-2"}) {
		t.Fatalf("Issued = %v", gen.Issued())
	}
}

func TestIDGeneratorDefaultsPrefix(t *testing.T) {
	if got := NewIDGenerator("").Next(); got != "id-1" {
		t.Fatalf("expected id-1, got %q", got)
	}
}
