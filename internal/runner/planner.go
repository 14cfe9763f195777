package runner

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rurikawa-judge/judger/internal/model"
)

const (
	userContainerTag   = "user"
	judgerContainerTag = "judger"
)

// Plan builds the TestCase for one case definition, per §4.6. userCommands
// is the job's own per-job build+run steps from judge.toml — these always
// run in the user container. cfg.Run is the suite's own grading steps:
// they run in a separate judger container when the suite is isolated, or
// are appended to the user container's steps otherwise.
func Plan(cfg model.PublicConfig, def model.TestCaseDefinition, userCommands []string) model.TestCase {
	env := buildEnv(cfg.Variables)
	timeout := cfg.TimeLimit()

	userGroup := model.ExecGroup{
		ContainerTag: userContainerTag,
		Steps:        stepsFor(userCommands, env, timeout),
	}

	var groups []model.ExecGroup
	switch cfg.ExecKind {
	case model.ExecKindIsolated:
		judgerSteps := stepsFor(cfg.Run, env, timeout)
		attachComparator(judgerSteps, cfg, def)
		groups = []model.ExecGroup{
			userGroup,
			{ContainerTag: judgerContainerTag, Steps: judgerSteps},
		}
	default: // together
		suiteSteps := stepsFor(cfg.Run, env, timeout)
		userGroup.Steps = append(userGroup.Steps, suiteSteps...)
		attachComparator(userGroup.Steps, cfg, def)
		groups = []model.ExecGroup{userGroup}
	}

	return model.TestCase{Name: def.Name, Groups: groups}
}

// buildEnv strips the leading "$" from variable names and sets the two
// fixed judging-context flags.
func buildEnv(vars map[string]string) map[string]string {
	env := make(map[string]string, len(vars)+2)
	for k, v := range vars {
		env[strings.TrimPrefix(k, "$")] = v
	}
	env["CI"] = "1"
	env["JUDGE"] = "1"
	return env
}

func stepsFor(commands []string, env map[string]string, timeout time.Duration) []model.ExecStep {
	steps := make([]model.ExecStep, 0, len(commands))
	for _, cmd := range commands {
		steps = append(steps, model.ExecStep{Command: cmd, Env: env, Timeout: timeout})
	}
	return steps
}

// attachComparator wires a file-based comparator onto the last step when
// the case declares hasOut and the suite config defines a stdout variable.
func attachComparator(steps []model.ExecStep, cfg model.PublicConfig, def model.TestCaseDefinition) {
	if len(steps) == 0 || !def.HasOut {
		return
	}
	stdoutExt, ok := cfg.Variables["$stdout"]
	if !ok {
		return
	}
	last := &steps[len(steps)-1]
	last.CompareOutput = &model.OutputSource{
		FilePath: filepath.Join(cfg.MappedDir.From, fmt.Sprintf("%s.%s", def.Name, stdoutExt)),
	}
}
