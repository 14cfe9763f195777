// Package container defines the boundary between the judging core and
// whatever actually runs containers. The core only ever talks to the
// ContainerEngine interface; Docker is the one concrete implementation
// shipped here, but the core never imports the Docker SDK directly.
package container

import (
	"context"
	"io"
	"time"
)

// ExecOptions bounds one exec call: a hard timeout and byte caps on the
// two output streams (Invariant 7: buffers never exceed their cap).
type ExecOptions struct {
	Timeout      time.Duration
	StdoutCap    int
	StderrCap    int
	Env          map[string]string
	CPUQuota     float64 // fraction of a core, e.g. build_cpu_share
	WorkDir      string
}

// ExecResult is the outcome of one command run inside a container.
type ExecResult struct {
	ReturnCode int32 // negative encodes a terminating signal
	Stdout     []byte
	Stderr     []byte
	TimedOut   bool
}

// BuildOptions configures an image build.
type BuildOptions struct {
	DockerfilePath string // relative to ContextDir
	ContextDir     string
	Tag            string
	CPUQuota       float64
}

// VolumeSpec names a volume and, optionally, a host path whose contents
// should be copied in at creation time.
type VolumeSpec struct {
	Name       string
	SeedFrom   string // host directory to populate the volume from, or ""
}

// Mount binds a volume (or host path) into a container. An absolute Source
// is a host path; any other Source is a volume name.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Engine is everything the judging core needs from a container runtime.
// All methods are safe to call concurrently and must honor ctx
// cancellation promptly — the core composes them with cancellation
// tokens via context.Context (see internal/cancel).
type Engine interface {
	// BuildImage builds an image from a Dockerfile, streaming the
	// engine's textual build log to out as it's produced.
	BuildImage(ctx context.Context, opts BuildOptions, out io.Writer) error

	// PullImage pulls a prebuilt image by reference.
	PullImage(ctx context.Context, ref string, out io.Writer) error

	// CreateVolume creates a named volume, optionally seeded from a host
	// directory's contents.
	CreateVolume(ctx context.Context, spec VolumeSpec) error

	// RemoveVolume removes a volume by name. Must be idempotent: removing
	// an already-removed volume is not an error.
	RemoveVolume(ctx context.Context, name string) error

	// CreateContainer creates and starts a container from an image, with
	// the given mounts, returning an opaque container id.
	CreateContainer(ctx context.Context, image string, mounts []Mount, user string) (string, error)

	// RemoveContainer stops and removes a container. Idempotent.
	RemoveContainer(ctx context.Context, containerID string) error

	// Exec runs one command inside an already-created container and
	// waits for it to finish or opts.Timeout to elapse.
	Exec(ctx context.Context, containerID, command string, opts ExecOptions) (ExecResult, error)

	// UploadTar extracts a tar stream into a path inside a container.
	UploadTar(ctx context.Context, containerID, destPath string, tar io.Reader) error
}
