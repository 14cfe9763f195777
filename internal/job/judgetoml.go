package job

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/rurikawa-judge/judger/errors"
)

// JobSpec is one suite's entry in judge.toml: either a Dockerfile to build
// or a prebuilt image to pull, never both, plus the job's own per-test
// build/run commands for the user container (§4.6).
type JobSpec struct {
	Dockerfile string   `toml:"dockerfile"`
	Image      string   `toml:"image"`
	Build      []string `toml:"build"`
	Run        []string `toml:"run"`
}

// JudgeConfig is the parsed judge.toml, keyed by suite name.
type JudgeConfig map[string]JobSpec

// findJudgeToml walks root recursively and returns the first judge.toml it
// finds (breadth isn't required; first match by walk order is sufficient).
func findJudgeToml(root string) (string, error) {
	var found string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if found != "" {
			return filepath.SkipDir
		}
		if !info.IsDir() && info.Name() == "judge.toml" {
			found = path
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to walk %s looking for judge.toml", root)
	}
	if found == "" {
		return "", errors.Newf("no judge.toml found under %s", root)
	}
	return found, nil
}

// parseJudgeToml loads and parses judge.toml at path.
func parseJudgeToml(path string) (JudgeConfig, error) {
	var cfg JudgeConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return cfg, nil
}

// checkDockerfilePathSafety enforces §4.7 step 6: the path must be
// relative, must not escape the suite root via "..", and must not pass
// through a symlink anywhere along the way.
func checkDockerfilePathSafety(suiteRoot, relPath string) error {
	if filepath.IsAbs(relPath) {
		return errors.Newf("dockerfile path %q must be relative", relPath)
	}
	clean := filepath.Clean(relPath)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return errors.Newf("dockerfile path %q escapes the suite root", relPath)
	}

	full := filepath.Join(suiteRoot, clean)
	rel, err := filepath.Rel(suiteRoot, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errors.Newf("dockerfile path %q resolves outside the suite root", relPath)
	}

	cursor := suiteRoot
	for _, part := range strings.Split(filepath.ToSlash(clean), "/") {
		cursor = filepath.Join(cursor, part)
		info, err := os.Lstat(cursor)
		if err != nil {
			return errors.Wrapf(err, "failed to stat %s while checking dockerfile path safety", cursor)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return errors.Newf("dockerfile path %q passes through a symlink at %s", relPath, cursor)
		}
	}
	return nil
}
