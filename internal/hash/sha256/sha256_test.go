// Package sha256 includes tests for the SHA-256 digest helpers.
package sha256

import "testing"

// TestDigestDeterministic ensures repeated hashing yields the same digest.
func TestDigestDeterministic(t *testing.T) {
	t.Parallel()

	got := Digest([]byte("hello world"))
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if again := DigestString("hello world"); again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}
