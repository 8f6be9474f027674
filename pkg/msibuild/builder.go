package msibuild

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/kolide/kit/fsutil"
	"github.com/kolide/msi-builder/pkg/contexts/ctxlog"
	"github.com/mixer/clock"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

const (
	DefaultTargetDir     = "../../rustdesk"
	DefaultVersion       = "1.3.0.1"
	DefaultConfiguration = "Release"
	DefaultPlatform      = "x64"
	DefaultTargetVersion = "Windows10"
	DefaultSolution      = "msi.sln"
	DefaultMSBuildPath   = `c:\Program Files\Microsoft Visual Studio\2022\Community\MSBuild\Current\Bin\msbuild.exe`
	DefaultPython        = "python"
	DefaultPreprocess    = "preprocess.py"
	DefaultGit           = "git"
)

type Builder struct {
	appName       string
	connType      string
	targetDir     string
	version       string
	configuration string
	platform      string
	targetVersion string
	solution      string

	msbuildPath string // Fixed install location of VS 2022 Community
	python      string
	preprocess  string // Relative to workDir
	git         string
	workDir     string // Every step runs here
	outputDir   string // If set, the msi is copied here

	clean              bool
	failFast           bool
	githubActionOutput bool

	stepOutput io.Writer // Tee of step output, usually the console
	stdout     io.Writer // github action output

	clock  clock.Clock
	execCC func(context.Context, string, ...string) *exec.Cmd // Allows test overrides
}

type Option func(*Builder)

func WithConnType(connType string) Option {
	return func(b *Builder) {
		b.connType = connType
	}
}

func WithTargetDir(dir string) Option {
	return func(b *Builder) {
		b.targetDir = dir
	}
}

// WithVersion sets the W.X.Y.Z version. VersionFromGit defers the
// choice to `git describe`.
func WithVersion(v string) Option {
	return func(b *Builder) {
		b.version = v
	}
}

func WithMSBuild(path string) Option {
	return func(b *Builder) {
		b.msbuildPath = path
	}
}

func WithPython(path string) Option {
	return func(b *Builder) {
		b.python = path
	}
}

func WithPreprocessScript(path string) Option {
	return func(b *Builder) {
		b.preprocess = path
	}
}

func WithGit(path string) Option {
	return func(b *Builder) {
		b.git = path
	}
}

func WithWorkDir(dir string) Option {
	return func(b *Builder) {
		b.workDir = dir
	}
}

func WithOutputDir(dir string) Option {
	return func(b *Builder) {
		b.outputDir = dir
	}
}

// WithClean runs `msbuild /t:clean` before anything else.
func WithClean() Option {
	return func(b *Builder) {
		b.clean = true
	}
}

// WithFailFast stops the build at the first failing step.
func WithFailFast() Option {
	return func(b *Builder) {
		b.failFast = true
	}
}

func WithGithubActionOutput() Option {
	return func(b *Builder) {
		b.githubActionOutput = true
	}
}

// WithStepOutput tees each step's stdout and stderr to w.
func WithStepOutput(w io.Writer) Option {
	return func(b *Builder) {
		b.stepOutput = w
	}
}

func WithClock(c clock.Clock) Option {
	return func(b *Builder) {
		b.clock = c
	}
}

// New returns a Builder for appName. appName is passed to the
// preprocessing script as is.
func New(appName string, opts ...Option) (*Builder, error) {
	b := &Builder{
		appName:       appName,
		targetDir:     DefaultTargetDir,
		version:       DefaultVersion,
		configuration: DefaultConfiguration,
		platform:      DefaultPlatform,
		targetVersion: DefaultTargetVersion,
		solution:      DefaultSolution,
		msbuildPath:   DefaultMSBuildPath,
		python:        DefaultPython,
		preprocess:    DefaultPreprocess,
		git:           DefaultGit,
		workDir:       ".",
		stdout:        os.Stdout,

		clock:  clock.DefaultClock{},
		execCC: exec.CommandContext,
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.appName == "" {
		return nil, errors.New("app name is required")
	}

	if b.version != VersionFromGit {
		if err := validateVersion(b.version); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// Build runs the packaging steps in order. Unless WithFailFast is set,
// a failed step is logged and recorded, and the next step runs anyway.
// The returned error is then only about setup, cancellation of ctx,
// and the artifact copy.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "msibuild.Build")
	defer span.End()

	logger := log.With(ctxlog.FromContext(ctx), "app_name", b.appName)

	if err := b.ResolveVersion(ctx); err != nil {
		return nil, errors.Wrap(err, "resolving version")
	}

	level.Info(logger).Log(
		"msg", "building msi",
		"version", b.version,
		"conn_type", b.connType,
		"work_dir", b.workDir,
	)

	started := b.clock.Now()
	result := &Result{}

	for _, c := range b.Commands() {
		// Cancellation ends the build under either failure policy.
		if err := ctx.Err(); err != nil {
			return result, errors.Wrap(err, "build interrupted")
		}

		sr := b.runStep(ctx, c)
		result.Steps = append(result.Steps, sr)

		if sr.Err == nil {
			continue
		}

		if err := ctx.Err(); err != nil {
			return result, errors.Wrapf(err, "build interrupted during %s", c.Step)
		}

		if b.failFast {
			return result, errors.Wrapf(sr.Err, "step %s", c.Step)
		}

		level.Warn(logger).Log(
			"msg", "step failed, continuing",
			"step", c.Step,
			"exit_code", sr.ExitCode,
			"err", sr.Err,
		)
	}

	artifact, err := findArtifact(b.workDir, b.platform, b.configuration, started.Add(-mtimeSlack))
	if err != nil {
		if b.failFast {
			return result, err
		}
		level.Warn(logger).Log("msg", "no msi produced", "err", err)
		return result, nil
	}

	if b.outputDir != "" {
		artifact, err = b.copyArtifact(artifact)
		if err != nil {
			return result, err
		}
	}
	result.Artifact = artifact

	// Tell github where we're at
	if b.githubActionOutput {
		fmt.Fprintf(b.stdout, "::set-output name=msi::%s\n", artifact)
	}

	level.Info(logger).Log(
		"msg", "finished",
		"msi", artifact,
		"failed_steps", len(result.Failed()),
	)

	return result, nil
}

func (b *Builder) runStep(ctx context.Context, c Command) StepResult {
	ctx, span := trace.StartSpan(ctx, "msibuild."+c.Step)
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	level.Debug(logger).Log(
		"msg", "Starting",
		"step", c.Step,
		"cmd", c.String(),
	)

	out := new(bytes.Buffer)
	var w io.Writer = out
	if b.stepOutput != nil {
		w = io.MultiWriter(out, b.stepOutput)
	}

	cmd := b.execCC(ctx, c.Path, c.Args...)
	cmd.Dir = b.workDir
	cmd.Stdout, cmd.Stderr = w, w

	start := b.clock.Now()
	err := cmd.Run()

	sr := StepResult{
		Step:     c.Step,
		Command:  c.String(),
		Output:   strings.TrimSpace(out.String()),
		ExitCode: exitCode(err),
		Duration: b.clock.Now().Sub(start),
	}

	if err != nil {
		sr.Err = errors.Wrapf(err, "run command %s\noutput=%s", sr.Command, sr.Output)
		span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: err.Error()})
	}

	level.Debug(logger).Log(
		"msg", "Finished",
		"step", c.Step,
		"exit_code", sr.ExitCode,
		"duration", sr.Duration,
	)

	return sr
}

func (b *Builder) copyArtifact(src string) (string, error) {
	if err := os.MkdirAll(b.outputDir, 0755); err != nil {
		return "", errors.Wrapf(err, "creating output dir %s", b.outputDir)
	}

	dst := filepath.Join(b.outputDir, b.ArtifactName())
	if err := fsutil.CopyFile(src, dst); err != nil {
		return "", errors.Wrapf(err, "copying %s to %s", src, dst)
	}

	return dst, nil
}

// ArtifactName is the file name used when copying into the output dir.
// Path separators in the app name become "-", so the copy always lands
// directly in the output dir.
func (b *Builder) ArtifactName() string {
	return fmt.Sprintf("%s-%s-%s.msi", sanitizeFileName(b.appName), b.version, b.platform)
}

var fileNameReplacer = strings.NewReplacer("/", "-", `\`, "-", ":", "-")

func sanitizeFileName(name string) string {
	return fileNameReplacer.Replace(name)
}

func (b *Builder) execOut(ctx context.Context, argv0 string, args ...string) (string, error) {
	cmd := b.execCC(ctx, argv0, args...)
	cmd.Dir = b.workDir
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.Stdout, cmd.Stderr = stdout, stderr
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "run command %s %v, stderr=%s", argv0, args, stderr)
	}
	return strings.TrimSpace(stdout.String()), nil
}
