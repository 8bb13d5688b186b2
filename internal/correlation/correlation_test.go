package correlation

import (
	"context"
	"strings"
	"testing"
)

func TestSetAndID(t *testing.T) {
	ctx := Set(context.Background(), "  req-42  ")
	if got := ID(ctx); got != "req-42" {
		t.Fatalf("ID = %q, want %q", got, "req-42")
	}
}

func TestNormalizeRejectsInvalid(t *testing.T) {
	cases := []string{"", "   ", strings.Repeat("x", MaxIDLength+1), "id\nwith\nnewlines", "smörgås"}
	for _, raw := range cases {
		if _, ok := Normalize(raw); ok {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestSetIgnoresInvalidID(t *testing.T) {
	ctx := Set(context.Background(), "\x00bad")
	if got := ID(ctx); got != "" {
		t.Fatalf("ID = %q, want empty", got)
	}
}

func TestGenerateIsNonEmpty(t *testing.T) {
	if Generate() == "" {
		t.Fatal("expected generated id")
	}
	if Generate() == Generate() {
		t.Fatal("expected unique ids")
	}
}
