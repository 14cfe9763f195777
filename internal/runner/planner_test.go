package runner

import (
	"testing"
	"time"

	"github.com/rurikawa-judge/judger/internal/model"
)

func TestPlanTogetherAppendsSuiteStepsToUserGroup(t *testing.T) {
	cfg := model.PublicConfig{
		Variables: map[string]string{"$greeting": "hi"},
		Run:       []string{"judge"},
		ExecKind:  model.ExecKindTogether,
	}
	def := model.TestCaseDefinition{Name: "case1"}

	tc := Plan(cfg, def, []string{"build"})

	if len(tc.Groups) != 1 {
		t.Fatalf("groups = %d, want 1 for together execKind", len(tc.Groups))
	}
	if got := len(tc.Groups[0].Steps); got != 2 {
		t.Fatalf("steps = %d, want 2 (build + judge)", got)
	}
	if tc.Groups[0].Steps[0].Command != "build" || tc.Groups[0].Steps[1].Command != "judge" {
		t.Fatalf("unexpected step order: %+v", tc.Groups[0].Steps)
	}
	if env := tc.Groups[0].Steps[0].Env; env["greeting"] != "hi" || env["CI"] != "1" || env["JUDGE"] != "1" {
		t.Fatalf("env not built correctly: %+v", env)
	}
}

func TestPlanIsolatedCreatesTwoGroups(t *testing.T) {
	cfg := model.PublicConfig{
		Run:      []string{"judge"},
		ExecKind: model.ExecKindIsolated,
	}
	def := model.TestCaseDefinition{Name: "case1"}

	tc := Plan(cfg, def, []string{"build"})

	if len(tc.Groups) != 2 {
		t.Fatalf("groups = %d, want 2 for isolated execKind", len(tc.Groups))
	}
	if tc.Groups[0].ContainerTag != userContainerTag || tc.Groups[1].ContainerTag != judgerContainerTag {
		t.Fatalf("unexpected container tags: %+v", tc.Groups)
	}
	if len(tc.Groups[0].Steps) != 1 || tc.Groups[0].Steps[0].Command != "build" {
		t.Fatalf("user group should only carry judge.toml's own steps, got %+v", tc.Groups[0].Steps)
	}
	if len(tc.Groups[1].Steps) != 1 || tc.Groups[1].Steps[0].Command != "judge" {
		t.Fatalf("judger group should carry the suite's run steps, got %+v", tc.Groups[1].Steps)
	}
}

func TestPlanWiresPerStepTimeoutFromTimeLimit(t *testing.T) {
	limitMS := int64(1500)
	cfg := model.PublicConfig{
		Run:         []string{"judge"},
		ExecKind:    model.ExecKindTogether,
		TimeLimitMS: &limitMS,
	}
	def := model.TestCaseDefinition{Name: "case1"}

	tc := Plan(cfg, def, []string{"build"})

	for _, step := range tc.Groups[0].Steps {
		if step.Timeout != 1500*time.Millisecond {
			t.Fatalf("step timeout = %v, want 1.5s", step.Timeout)
		}
	}
}

func TestPlanAttachesComparatorWhenHasOutAndStdoutVarDefined(t *testing.T) {
	cfg := model.PublicConfig{
		Variables: map[string]string{"$stdout": "txt"},
		Run:       []string{"judge"},
		ExecKind:  model.ExecKindTogether,
		MappedDir: model.MappedDir{From: "/mapped"},
	}
	def := model.TestCaseDefinition{Name: "case1", HasOut: true}

	tc := Plan(cfg, def, []string{"build"})

	last := tc.Groups[0].Steps[len(tc.Groups[0].Steps)-1]
	if last.CompareOutput == nil {
		t.Fatal("expected a comparator to be attached to the last step")
	}
	if want := "/mapped/case1.txt"; last.CompareOutput.FilePath != want {
		t.Fatalf("comparator path = %q, want %q", last.CompareOutput.FilePath, want)
	}
}

func TestPlanSkipsComparatorWhenStdoutVarMissing(t *testing.T) {
	cfg := model.PublicConfig{
		Run:      []string{"judge"},
		ExecKind: model.ExecKindTogether,
	}
	def := model.TestCaseDefinition{Name: "case1", HasOut: true}

	tc := Plan(cfg, def, []string{"build"})

	last := tc.Groups[0].Steps[len(tc.Groups[0].Steps)-1]
	if last.CompareOutput != nil {
		t.Fatal("expected no comparator when $stdout is undefined")
	}
}
