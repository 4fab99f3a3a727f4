package testfixtures

import (
	"strings"
	"sync"
	"testing"
)

func TestIDGeneratorIsSequentialAndPadded(t *testing.T) {
	gen := NewIDGenerator("lecture")

	if first, second := gen.Next(), gen.Next(); first != "lecture-001" || second != "lecture-002" {
		t.Fatalf("unexpected identifiers: %q, %q", first, second)
	}
	if got := strings.Join(gen.Issued(), ","); got != "lecture-001,lecture-002" {
		t.Fatalf("unexpected issued ids %q", got)
	}
}

func TestIDGeneratorDefaultPrefix(t *testing.T) {
	if next := NewIDGenerator("").NextFunc()(); next != "session-001" {
		t.Fatalf("expected session-001, got %q", next)
	}
}

func TestIDGeneratorIsSafeForConcurrentUse(t *testing.T) {
	gen := NewIDGenerator("")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gen.Next()
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, id := range gen.Issued() {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != 20 {
		t.Fatalf("expected 20 ids, got %d", len(seen))
	}
}
