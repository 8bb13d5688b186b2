package uuidv7

import "testing"

func TestNewStringIsUniqueAndVersioned(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewString()
		if len(id) != 36 {
			t.Fatalf("unexpected uuid length for %q", id)
		}
		if id[14] != '7' {
			t.Fatalf("expected version 7 uuid, got %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate uuid %q", id)
		}
		seen[id] = struct{}{}
	}
}
