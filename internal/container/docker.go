package container

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/rurikawa-judge/judger/errors"
)

// DockerEngine implements Engine against a local Docker daemon.
type DockerEngine struct {
	cli *dockerclient.Client
}

// NewDockerEngine connects to the Docker daemon using the environment's
// usual DOCKER_HOST / DOCKER_TLS_VERIFY conventions.
func NewDockerEngine() (*DockerEngine, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct docker client")
	}
	return &DockerEngine{cli: cli}, nil
}

func cpuQuotaMicroseconds(share float64) int64 {
	// build_cpu_share/run_cpu_share × 100ms period, per §4.7 step 9.
	const periodMicros = 100_000
	return int64(share * periodMicros)
}

func (e *DockerEngine) BuildImage(ctx context.Context, opts BuildOptions, out io.Writer) error {
	buildCtx, err := archiveDir(opts.ContextDir)
	if err != nil {
		return errors.Wrapf(err, "failed to tar build context %s", opts.ContextDir)
	}
	defer buildCtx.Close()

	resp, err := e.cli.ImageBuild(ctx, buildCtx, dockertypes.ImageBuildOptions{
		Dockerfile: opts.DockerfilePath,
		Tags:       []string{opts.Tag},
		CPUQuota:   cpuQuotaMicroseconds(opts.CPUQuota),
		CPUPeriod:  100_000,
		Remove:     true,
	})
	if err != nil {
		return errors.Wrapf(err, "image build failed for %s", opts.Tag)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return errors.Wrap(err, "failed to stream build output")
	}
	return nil
}

func (e *DockerEngine) PullImage(ctx context.Context, ref string, out io.Writer) error {
	resp, err := e.cli.ImagePull(ctx, ref, dockertypes.ImagePullOptions{})
	if err != nil {
		return errors.Wrapf(err, "failed to pull image %s", ref)
	}
	defer resp.Close()

	if _, err := io.Copy(out, resp); err != nil {
		return errors.Wrap(err, "failed to stream pull output")
	}
	return nil
}

func (e *DockerEngine) CreateVolume(ctx context.Context, spec VolumeSpec) error {
	if _, err := e.cli.VolumeCreate(ctx, volume.CreateOptions{Name: spec.Name}); err != nil {
		return errors.Wrapf(err, "failed to create volume %s", spec.Name)
	}
	if spec.SeedFrom == "" {
		return nil
	}
	return e.seedVolume(ctx, spec.Name, spec.SeedFrom)
}

// seedVolume copies a host directory's contents into a fresh volume by
// mounting it into a short-lived busybox container and extracting a tar.
func (e *DockerEngine) seedVolume(ctx context.Context, volumeName, hostDir string) error {
	resp, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image: "busybox:latest",
		Cmd:   []string{"true"},
	}, &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: volumeName,
			Target: "/seed",
		}},
	}, nil, nil, "")
	if err != nil {
		return errors.Wrapf(err, "failed to create seeding container for volume %s", volumeName)
	}
	defer e.cli.ContainerRemove(ctx, resp.ID, dockertypes.ContainerRemoveOptions{Force: true})

	tarball, err := archiveDir(hostDir)
	if err != nil {
		return err
	}
	defer tarball.Close()

	if err := e.cli.CopyToContainer(ctx, resp.ID, "/seed", tarball, dockertypes.CopyToContainerOptions{}); err != nil {
		return errors.Wrapf(err, "failed to copy %s into volume %s", hostDir, volumeName)
	}
	return nil
}

func (e *DockerEngine) RemoveVolume(ctx context.Context, name string) error {
	if err := e.cli.VolumeRemove(ctx, name, true); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil
		}
		return errors.Wrapf(err, "failed to remove volume %s", name)
	}
	return nil
}

func (e *DockerEngine) CreateContainer(ctx context.Context, image string, mounts []Mount, user string) (string, error) {
	var dockerMounts []mount.Mount
	for _, m := range mounts {
		// An absolute Source is a host path; anything else names a volume.
		mountType := mount.TypeBind
		if !filepath.IsAbs(m.Source) {
			mountType = mount.TypeVolume
		}
		dockerMounts = append(dockerMounts, mount.Mount{
			Type:     mountType,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	resp, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image: image,
		User:  user,
		Cmd:   []string{"sleep", "infinity"},
	}, &container.HostConfig{
		Mounts: dockerMounts,
	}, nil, nil, "")
	if err != nil {
		return "", errors.Wrapf(err, "failed to create container from %s", image)
	}

	if err := e.cli.ContainerStart(ctx, resp.ID, dockertypes.ContainerStartOptions{}); err != nil {
		return "", errors.Wrapf(err, "failed to start container %s", resp.ID)
	}

	return resp.ID, nil
}

func (e *DockerEngine) RemoveContainer(ctx context.Context, containerID string) error {
	if err := e.cli.ContainerRemove(ctx, containerID, dockertypes.ContainerRemoveOptions{Force: true}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil
		}
		return errors.Wrapf(err, "failed to remove container %s", containerID)
	}
	return nil
}

func (e *DockerEngine) Exec(ctx context.Context, containerID, command string, opts ExecOptions) (ExecResult, error) {
	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	created, err := e.cli.ContainerExecCreate(execCtx, containerID, dockertypes.ExecConfig{
		Cmd:          []string{"/bin/sh", "-c", command},
		Env:          env,
		WorkingDir:   opts.WorkDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, errors.Wrapf(err, "failed to create exec for %q", command)
	}

	attach, err := e.cli.ContainerExecAttach(execCtx, created.ID, dockertypes.ExecStartCheck{})
	if err != nil {
		return ExecResult{}, errors.Wrapf(err, "failed to attach to exec for %q", command)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	stdoutCapped := newCappedWriter(&stdout, opts.StdoutCap)
	stderrCapped := newCappedWriter(&stderr, opts.StderrCap)

	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdoutCapped, stderrCapped, attach.Reader)
		copyDone <- err
	}()

	select {
	case <-execCtx.Done():
		return ExecResult{TimedOut: errors.Is(execCtx.Err(), context.DeadlineExceeded), Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, execCtx.Err()
	case err := <-copyDone:
		if err != nil && err != io.EOF {
			return ExecResult{}, errors.Wrapf(err, "failed to read exec output for %q", command)
		}
	}

	inspect, err := e.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, errors.Wrapf(err, "failed to inspect exec result for %q", command)
	}

	return ExecResult{
		ReturnCode: int32(inspect.ExitCode),
		Stdout:     stdout.Bytes(),
		Stderr:     stderr.Bytes(),
	}, nil
}

func (e *DockerEngine) UploadTar(ctx context.Context, containerID, destPath string, tarStream io.Reader) error {
	if err := e.cli.CopyToContainer(ctx, containerID, destPath, tarStream, dockertypes.CopyToContainerOptions{}); err != nil {
		return errors.Wrapf(err, "failed to upload tar to %s:%s", containerID, destPath)
	}
	return nil
}

// archiveDir tars a directory's contents for use as a build context or a
// volume seed payload.
func archiveDir(dir string) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go func() {
		tw := tar.NewWriter(pw)
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = rel
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(tw, f)
			return err
		})
		if err == nil {
			err = tw.Close()
		}
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// cappedWriter truncates writes past a byte cap, appending a terminator
// notice exactly once (Invariant 7).
type cappedWriter struct {
	w         io.Writer
	remaining int
	truncated bool
}

func newCappedWriter(w io.Writer, cap int) io.Writer {
	if cap <= 0 {
		cap = 1 << 20
	}
	return &cappedWriter{w: w, remaining: cap}
}

func (c *cappedWriter) Write(p []byte) (int, error) {
	if c.remaining <= 0 {
		if !c.truncated {
			c.truncated = true
			c.w.Write([]byte("\n...output truncated (cap reached)...\n"))
		}
		return len(p), nil
	}
	if len(p) > c.remaining {
		c.w.Write(p[:c.remaining])
		c.remaining = 0
		c.truncated = true
		c.w.Write([]byte("\n...output truncated (cap reached)...\n"))
		return len(p), nil
	}
	n, err := c.w.Write(p)
	c.remaining -= n
	return n, err
}
