package job

import (
	"os"
	"path/filepath"
	"testing"
)

func writeJudgeToml(t *testing.T, dir, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "judge.toml"), []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFindJudgeTomlRecursesIntoSubdirectories(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writeJudgeToml(t, sub, "")

	path, err := findJudgeToml(root)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "judge.toml" {
		t.Fatalf("found %q, want a judge.toml", path)
	}
}

func TestFindJudgeTomlErrorsWhenMissing(t *testing.T) {
	root := t.TempDir()
	if _, err := findJudgeToml(root); err == nil {
		t.Fatal("expected an error when no judge.toml exists")
	}
}

func TestParseJudgeTomlDecodesEntriesByName(t *testing.T) {
	root := t.TempDir()
	writeJudgeToml(t, root, `
[suite-a]
dockerfile = "Dockerfile"
build = ["make"]
run = ["./a.out"]

[suite-b]
image = "alpine:latest"
`)

	cfg, err := parseJudgeToml(filepath.Join(root, "judge.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg["suite-a"].Dockerfile != "Dockerfile" {
		t.Fatalf("suite-a.dockerfile = %q, want Dockerfile", cfg["suite-a"].Dockerfile)
	}
	if len(cfg["suite-a"].Build) != 1 || cfg["suite-a"].Build[0] != "make" {
		t.Fatalf("suite-a.build = %v, want [make]", cfg["suite-a"].Build)
	}
	if len(cfg["suite-a"].Run) != 1 || cfg["suite-a"].Run[0] != "./a.out" {
		t.Fatalf("suite-a.run = %v, want [./a.out]", cfg["suite-a"].Run)
	}
	if cfg["suite-b"].Image != "alpine:latest" {
		t.Fatalf("suite-b.image = %q, want alpine:latest", cfg["suite-b"].Image)
	}
}

func TestCheckDockerfilePathSafetyRejectsAbsolutePath(t *testing.T) {
	root := t.TempDir()
	if err := checkDockerfilePathSafety(root, "/etc/passwd"); err == nil {
		t.Fatal("expected absolute path to be rejected")
	}
}

func TestCheckDockerfilePathSafetyRejectsParentEscape(t *testing.T) {
	root := t.TempDir()
	if err := checkDockerfilePathSafety(root, "../../etc/passwd"); err == nil {
		t.Fatal("expected parent-escaping path to be rejected")
	}
}

func TestCheckDockerfilePathSafetyRejectsSymlinkComponent(t *testing.T) {
	root := t.TempDir()
	realDir := filepath.Join(root, "real")
	if err := os.MkdirAll(realDir, 0755); err != nil {
		t.Fatal(err)
	}
	linkDir := filepath.Join(root, "link")
	if err := os.Symlink(realDir, linkDir); err != nil {
		t.Skipf("symlinks unsupported in this environment: %v", err)
	}
	if err := os.WriteFile(filepath.Join(realDir, "Dockerfile"), []byte(""), 0644); err != nil {
		t.Fatal(err)
	}

	if err := checkDockerfilePathSafety(root, filepath.Join("link", "Dockerfile")); err == nil {
		t.Fatal("expected a path through a symlink to be rejected")
	}
}

func TestCheckDockerfilePathSafetyAcceptsPlainRelativePath(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "Dockerfile"), []byte(""), 0644); err != nil {
		t.Fatal(err)
	}
	if err := checkDockerfilePathSafety(root, "Dockerfile"); err != nil {
		t.Fatalf("expected plain relative path to be accepted, got %v", err)
	}
}
