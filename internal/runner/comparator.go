package runner

import (
	"os"
	"strings"

	"github.com/rurikawa-judge/judger/errors"
	"github.com/rurikawa-judge/judger/internal/model"
)

// normalizeOutput turns CRLF into LF and trims trailing newlines, per the
// comparator contract in §4.5.
func normalizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimRight(s, "\n")
}

// compareOutput resolves src's expected content and compares it against
// got after normalizing both sides. Two sources are supported: an in-memory
// literal, or a host file read fresh on every comparison (suite-local
// expected files can be regenerated between runs).
func compareOutput(got string, src model.OutputSource) (bool, error) {
	want := src.InMemory
	if src.FilePath != "" {
		data, err := os.ReadFile(src.FilePath)
		if err != nil {
			return false, errors.Wrapf(err, "failed to read expected output file %s", src.FilePath)
		}
		want = string(data)
	}
	return normalizeOutput(got) == normalizeOutput(want), nil
}
