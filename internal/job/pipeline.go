// Package job implements the JobPipeline state machine (§4.7) and the
// Dispatcher that spawns one per accepted job (§4.11).
package job

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rurikawa-judge/judger/am"
	"github.com/rurikawa-judge/judger/errors"
	"github.com/rurikawa-judge/judger/internal/cancel"
	"github.com/rurikawa-judge/judger/internal/container"
	"github.com/rurikawa-judge/judger/internal/coordinator"
	"github.com/rurikawa-judge/judger/internal/model"
	"github.com/rurikawa-judge/judger/internal/runner"
	"github.com/rurikawa-judge/judger/internal/suite"
	"github.com/rurikawa-judge/judger/internal/teardown"
	"github.com/rurikawa-judge/judger/logger"
)

// judgerBaseImage is pulled for the isolated judger container when a suite
// doesn't need its own Dockerfile for it — the grading side only ever runs
// the suite's own script, never user-supplied build steps.
const judgerBaseImage = "ghcr.io/rurikawa-judge/judger-base:latest"

// Pipeline carries everything a JobPipeline run needs, shared across all
// concurrently-running jobs.
type Pipeline struct {
	Coordinator *suite.Coordinator
	Syncer      *suite.Syncer
	Client      *coordinator.Client
	Engine      container.Engine
	Config      am.WorkerConfig
	CacheRoot   string
	Sink        Sink
}

// NewPipeline builds a Pipeline from its dependencies.
func NewPipeline(coord *suite.Coordinator, syncer *suite.Syncer, client *coordinator.Client, engine container.Engine, cfg am.WorkerConfig, cacheRoot string, sink Sink) *Pipeline {
	return &Pipeline{
		Coordinator: coord,
		Syncer:      syncer,
		Client:      client,
		Engine:      engine,
		Config:      cfg,
		CacheRoot:   cacheRoot,
		Sink:        sink,
	}
}

func (p *Pipeline) jobRoot(id model.JobID) string {
	return filepath.Join(p.CacheRoot, "jobs", id.String())
}

// Run executes the full state machine for one job. It never returns an
// error: every failure path ends in a JobResult sent to the coordinator,
// because that's the only way the coordinator learns the outcome. A
// cancelled or aborted job sends only its final progress stage instead.
func (p *Pipeline) Run(j model.Job, token *cancel.Token) {
	collector := &teardown.Collector{}
	defer collector.TeardownAll(context.Background())

	root := p.jobRoot(j.ID)
	defer os.RemoveAll(root) // step 14

	rcGuard := p.Coordinator.BeforeJobStart(j.Suite)
	defer rcGuard.Release()

	result := p.run(token.Context(), j, token, root, collector)

	// §7: Cancelled and Aborted are progress messages, never a JobResult —
	// judging didn't reach a verdict, so there's nothing for the
	// coordinator to record beyond the stage itself.
	if token.IsCancelled() {
		stage := model.StageAborted
		if token.Cause() == cancel.CauseCancelled {
			stage = model.StageCancelled
		}
		p.Sink.SendJobProgress(j.ID, stage)
		return
	}

	if err := p.Client.SendResultWithRetry(context.Background(), result); err != nil {
		logger.JobErrorw("failed to deliver final job result", "job_id", j.ID.String(), "error", err)
	}
	p.Sink.SendJobResultFireAndForget(result)
}

func (p *Pipeline) run(ctx context.Context, j model.Job, token *cancel.Token, root string, collector *teardown.Collector) model.JobResult {
	p.Sink.SendJobProgress(j.ID, model.StageFetching)

	if err := cloneRepoAtRevision(ctx, j.RepoURL, j.Revision, root); err != nil {
		return errResult(j.ID, model.JobPipelineError, err)
	}

	judgeTomlPath, err := findJudgeToml(root)
	if err != nil {
		return errResult(j.ID, model.JobCompileError, err)
	}
	judgeCfg, err := parseJudgeToml(judgeTomlPath)
	if err != nil {
		return errResult(j.ID, model.JobCompileError, err)
	}

	sync, err := p.Syncer.CheckDownloadReadSuite(ctx, j.Suite)
	if err != nil {
		return errResult(j.ID, model.JobPipelineError, err)
	}

	readGuard := p.Coordinator.OnSuiteRun(j.Suite) // step 4, before releasing might_modify
	sync.MightModify.Release()                     // step 5
	defer readGuard.Release()

	spec, ok := judgeCfg[string(j.Suite)]
	if !ok {
		return errResult(j.ID, model.JobCompileError, errors.Newf("no such config for suite %s", j.Suite))
	}

	if spec.Dockerfile != "" {
		if err := checkDockerfilePathSafety(root, spec.Dockerfile); err != nil {
			return errResult(j.ID, model.JobCompileError, err)
		}
	}

	if token.IsCancelled() {
		return model.JobResult{ID: j.ID, Kind: model.JobAborted}
	}

	p.Sink.SendJobProgress(j.ID, model.StageCompiling)

	volumeName := fmt.Sprintf("rurikawa-judge-data-%s", j.ID.String())
	seedFrom := ""
	if sync.Config.MappedDir.From != "" {
		seedFrom = filepath.Join(p.Syncer.SuiteDir(j.Suite), sync.Config.MappedDir.From)
	}
	if err := p.Engine.CreateVolume(ctx, container.VolumeSpec{Name: volumeName, SeedFrom: seedFrom}); err != nil {
		return errResult(j.ID, model.JobPipelineError, err)
	}
	collector.PushFunc("volume:"+volumeName, func(ctx context.Context) error {
		return p.Engine.RemoveVolume(ctx, volumeName)
	})

	handles := runner.ContainerHandles{}

	if sync.Config.ExecKind == model.ExecKindIsolated {
		judgerContainerID, err := p.buildJudgerContainer(ctx, volumeName, sync.Config.MappedDir, collector)
		if err != nil {
			return errResult(j.ID, model.JobPipelineError, err)
		}
		handles["judger"] = judgerContainerID
	}

	userContainerID, err := p.buildUserContainer(ctx, root, spec, sync.Tag, j.ID, j.Suite, sync.Config.MappedDir, collector)
	if err != nil {
		return errResult(j.ID, model.JobCompileError, err)
	}
	handles["user"] = userContainerID

	if token.IsCancelled() {
		return model.JobResult{ID: j.ID, Kind: model.JobAborted}
	}

	p.Sink.SendJobProgress(j.ID, model.StageRunning)
	results := p.runTests(ctx, j, sync.Config, spec, handles, token)

	p.Sink.SendJobProgress(j.ID, model.StageFinished)
	return model.JobResult{ID: j.ID, Kind: model.JobAccepted, Results: results}
}

func (p *Pipeline) buildJudgerContainer(ctx context.Context, volumeName string, mapped model.MappedDir, collector *teardown.Collector) (string, error) {
	if err := p.Engine.PullImage(ctx, judgerBaseImage, os.Stderr); err != nil {
		return "", errors.Wrap(err, "failed to pull judger base image")
	}
	mounts := []container.Mount{{Source: volumeName, Target: mapped.To, ReadOnly: mapped.ReadOnly}}
	id, err := p.Engine.CreateContainer(ctx, judgerBaseImage, mounts, p.Config.ContainerUser)
	if err != nil {
		return "", errors.Wrap(err, "failed to create judger container")
	}
	collector.PushFunc("container:"+id, func(ctx context.Context) error {
		return p.Engine.RemoveContainer(ctx, id)
	})
	return id, nil
}

func (p *Pipeline) buildUserContainer(ctx context.Context, root string, spec JobSpec, tag string, jobID model.JobID, suiteID model.SuiteID, mapped model.MappedDir, collector *teardown.Collector) (string, error) {
	image := spec.Image
	if spec.Dockerfile != "" {
		image = fmt.Sprintf("rurikawa-judge-user-%s-%s:latest", tag, jobID.String())
		err := p.Engine.BuildImage(ctx, container.BuildOptions{
			DockerfilePath: spec.Dockerfile,
			ContextDir:     root,
			Tag:            image,
			CPUQuota:       p.Config.BuildCPUShare,
		}, os.Stderr)
		if err != nil {
			return "", errors.Wrap(err, "failed to build user image")
		}
	} else if image != "" {
		if err := p.Engine.PullImage(ctx, image, os.Stderr); err != nil {
			return "", errors.Wrapf(err, "failed to pull prebuilt image %s", image)
		}
	} else {
		return "", errors.New("judge.toml entry has neither dockerfile nor image")
	}

	mounts := []container.Mount{{Source: filepath.Join(p.Syncer.SuiteDir(suiteID), mapped.From), Target: mapped.To, ReadOnly: mapped.ReadOnly}}
	id, err := p.Engine.CreateContainer(ctx, image, mounts, p.Config.ContainerUser)
	if err != nil {
		return "", errors.Wrap(err, "failed to create user container")
	}
	collector.PushFunc("container:"+id, func(ctx context.Context) error {
		return p.Engine.RemoveContainer(ctx, id)
	})
	return id, nil
}

func (p *Pipeline) runTests(ctx context.Context, j model.Job, cfg model.PublicConfig, spec JobSpec, handles runner.ContainerHandles, token *cancel.Token) map[string]model.TestResult {
	r := runner.New(p.Engine)
	results := make(map[string]model.TestResult, len(j.Tests))
	userCommands := append(append([]string{}, spec.Build...), spec.Run...)

	for _, name := range j.Tests {
		if token.IsCancelled() {
			results[name] = model.TestResult{Kind: model.TestOtherError, Message: "job cancelled"}
			continue
		}

		def, ok := cfg.FindTestCase(name)
		if !ok {
			results[name] = model.TestResult{Kind: model.TestOtherError, Message: "no such test case in suite config"}
			continue
		}
		tc := runner.Plan(cfg, def, userCommands)
		outputs := runner.NewOutputSink()

		done := make(chan model.TestResult, 1)
		go func() {
			done <- r.Run(token, tc, handles, def.ShouldFail, outputs)
		}()

		var failedOutput []byte
		draining := true
		var res model.TestResult
		for draining {
			select {
			case out := <-outputs:
				failedOutput = append(failedOutput, out.Stdout...)
				failedOutput = append(failedOutput, out.Stderr...)
			case res = <-done:
				draining = false
			}
		}

		if res.Kind != model.TestAccepted && len(failedOutput) > 0 {
			fileID, err := p.Client.UploadFailedCache(ctx, j.ID, name, failedOutput)
			if err != nil {
				logger.JobWarnw("failed to upload failed-case cache", "job_id", j.ID.String(), "test_id", name, "error", err)
			} else {
				res.UploadedFileID = fileID
			}
		}

		results[name] = res
		p.Sink.SendPartialResult(j.ID, name, res)
	}

	return results
}

func errResult(id model.JobID, kind model.JobResultKind, err error) model.JobResult {
	logger.JobErrorw("job pipeline failed", "job_id", id.String(), "kind", kind, "error", err)
	return model.JobResult{ID: id, Kind: kind, Message: err.Error()}
}
