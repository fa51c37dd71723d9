package sha256

import "testing"

func TestDigest(t *testing.T) {
	t.Parallel()

	got := Digest([]byte("hello world"))
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if !Verify([]byte("hello world"), got) {
		t.Fatal("expected digest to verify")
	}
	if Verify([]byte("hello world!"), got) {
		t.Fatal("expected altered body to fail verification")
	}
}
