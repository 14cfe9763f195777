package suite

import "testing"

func TestSanitizeTagReplacesUnsafeChars(t *testing.T) {
	got := SanitizeTag("pkg/v1:2024@build")
	want := "pkg__v1__2024__build"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSanitizeTagIsIdempotent(t *testing.T) {
	valid := "pkg-v1.2.3_build"
	if got := SanitizeTag(valid); got != valid {
		t.Fatalf("sanitizing an already-valid tag changed it: %q -> %q", valid, got)
	}
}
