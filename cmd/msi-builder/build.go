package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	"github.com/kolide/kit/env"
	"github.com/kolide/kit/logutil"
	"github.com/kolide/msi-builder/pkg/contexts/ctxlog"
	"github.com/kolide/msi-builder/pkg/msibuild"
	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v3"
	"github.com/pkg/errors"
)

type buildFlags struct {
	appName    string
	connType   string
	targetDir  string
	version    string
	msbuild    string
	python     string
	preprocess string
	git        string
	workDir    string
	outputDir  string
	clean      bool
	failFast   bool
	github     bool
	debug      bool
}

func newBuildFlagSet(mode string, opts *buildFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(mode, flag.ContinueOnError)

	fs.StringVar(&opts.appName, "app_name", "rustdesk", "application name passed to the preprocessing script")
	fs.StringVar(&opts.connType, "conn_type", "", "connection type passed to the preprocessing script (optional)")
	fs.StringVar(&opts.targetDir, "target_dir", msibuild.DefaultTargetDir, "source tree the preprocessing script reads")
	fs.StringVar(&opts.version, "version", msibuild.DefaultVersion, `W.X.Y.Z version, or "git" to use git describe at build time`)
	fs.StringVar(&opts.msbuild, "msbuild", msibuild.DefaultMSBuildPath, "path to msbuild.exe")
	fs.StringVar(&opts.python, "python", msibuild.DefaultPython, "python interpreter")
	fs.StringVar(&opts.preprocess, "preprocess", msibuild.DefaultPreprocess, "preprocessing script, relative to work_dir")
	fs.StringVar(&opts.git, "git", msibuild.DefaultGit, "git binary")
	fs.StringVar(&opts.workDir, "work_dir", ".", "msi source directory, every step runs here")
	fs.StringVar(&opts.outputDir, "output_dir", "", "copy the msi here (optional)")
	fs.BoolVar(&opts.clean, "clean", false, "run msbuild /t:clean first")
	fs.BoolVar(&opts.failFast, "fail_fast", false, "stop at the first failing step")
	fs.BoolVar(&opts.github, "github", env.Bool("GITHUB_ACTIONS", false), "include github action output")
	fs.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	_ = fs.String("config", "", "config file (optional)")

	fs.Usage = usageFor(fs, fmt.Sprintf("msi-builder %s [flags]", mode))

	return fs
}

func parseBuildFlags(mode string, args []string) (*buildFlags, error) {
	var opts buildFlags
	fs := newBuildFlagSet(mode, &opts)

	ffOpts := []ff.Option{
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("MSI"),
	}

	if err := ff.Parse(fs, args, ffOpts...); err != nil {
		return nil, errors.Wrap(err, "parsing flags")
	}

	return &opts, nil
}

func (f *buildFlags) builderOptions() []msibuild.Option {
	opts := []msibuild.Option{
		msibuild.WithConnType(f.connType),
		msibuild.WithTargetDir(f.targetDir),
		msibuild.WithVersion(f.version),
		msibuild.WithMSBuild(f.msbuild),
		msibuild.WithPython(f.python),
		msibuild.WithPreprocessScript(f.preprocess),
		msibuild.WithGit(f.git),
		msibuild.WithWorkDir(f.workDir),
	}

	if f.outputDir != "" {
		opts = append(opts, msibuild.WithOutputDir(f.outputDir))
	}
	if f.clean {
		opts = append(opts, msibuild.WithClean())
	}
	if f.failFast {
		opts = append(opts, msibuild.WithFailFast())
	}
	if f.github {
		opts = append(opts, msibuild.WithGithubActionOutput())
	}

	return opts
}

func runBuild(args []string) error {
	flags, err := parseBuildFlags("build", args)
	if err != nil {
		return err
	}

	logger := logutil.NewCLILogger(flags.debug)
	logger = log.With(logger, "build_id", uuid.New().String())
	ctx := ctxlog.NewContext(context.Background(), logger)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)
	defer signal.Stop(signals)

	_, err = buildMsi(ctx, flags, signals, msibuild.WithStepOutput(os.Stdout))
	return err
}

// buildMsi runs the build in a run group next to an interrupt listener.
// Anything received on interrupts cancels the build, which kills the
// running step.
func buildMsi(ctx context.Context, flags *buildFlags, interrupts <-chan os.Signal, opts ...msibuild.Option) (*msibuild.Result, error) {
	logger := ctxlog.FromContext(ctx)

	builder, err := msibuild.New(flags.appName, append(flags.builderOptions(), opts...)...)
	if err != nil {
		return nil, errors.Wrap(err, "invalid build options")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var result *msibuild.Result
	var g run.Group

	g.Add(func() error {
		var buildErr error
		result, buildErr = builder.Build(ctx)
		return buildErr
	}, func(error) {
		cancel()
	})

	g.Add(func() error {
		select {
		case sig := <-interrupts:
			level.Info(logger).Log("msg", "received signal", "signal", sig)
			return errors.Errorf("interrupted by %s", sig)
		case <-ctx.Done():
			return nil
		}
	}, func(error) {
		cancel()
	})

	if err := g.Run(); err != nil {
		return result, errors.Wrap(err, "building msi")
	}

	for _, s := range result.Failed() {
		level.Warn(logger).Log(
			"msg", "step failed",
			"step", s.Step,
			"exit_code", s.ExitCode,
		)
	}

	return result, nil
}

func runPlan(args []string) error {
	flags, err := parseBuildFlags("plan", args)
	if err != nil {
		return err
	}

	return printPlan(os.Stdout, flags)
}

// printPlan writes the commands build would run, without running
// anything. A "git" version is printed as is, since resolving it needs
// git describe.
func printPlan(w io.Writer, flags *buildFlags) error {
	builder, err := msibuild.New(flags.appName, flags.builderOptions()...)
	if err != nil {
		return errors.Wrap(err, "invalid build options")
	}

	for _, c := range builder.Commands() {
		fmt.Fprintln(w, c.String())
	}

	return nil
}

func usageFor(fs *flag.FlagSet, short string) func() {
	return func() {
		fmt.Fprintf(os.Stderr, "USAGE\n")
		fmt.Fprintf(os.Stderr, "  %s\n", short)
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		w := tabwriter.NewWriter(os.Stderr, 0, 2, 2, ' ', 0)
		fs.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(w, "\t-%s %s\t%s\n", f.Name, f.DefValue, f.Usage)
		})
		w.Flush()
		fmt.Fprintf(os.Stderr, "\n")
	}
}
