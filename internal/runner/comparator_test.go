package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rurikawa-judge/judger/internal/model"
)

func TestCompareOutputMatchesAfterCRLFNormalization(t *testing.T) {
	match, err := compareOutput("a\r\nb\r\n", model.OutputSource{InMemory: "a\nb\n"})
	if err != nil {
		t.Fatal(err)
	}
	if !match {
		t.Fatal("expected CRLF-normalized outputs to match")
	}
}

func TestCompareOutputReadsExpectedFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "expected.txt")
	if err := os.WriteFile(path, []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}

	match, err := compareOutput("hello", model.OutputSource{FilePath: path})
	if err != nil {
		t.Fatal(err)
	}
	if !match {
		t.Fatal("expected file-backed comparator to match trimmed content")
	}
}

func TestCompareOutputMismatch(t *testing.T) {
	match, err := compareOutput("actual", model.OutputSource{InMemory: "expected"})
	if err != nil {
		t.Fatal(err)
	}
	if match {
		t.Fatal("expected outputs to differ")
	}
}
