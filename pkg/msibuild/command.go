package msibuild

import (
	shellquote "github.com/kballard/go-shellquote"
)

const (
	StepClean      = "clean"
	StepRestore    = "restore"
	StepPreprocess = "preprocess"
	StepMSBuild    = "msbuild"
)

// Command is a single external invocation. Path is the program, Args
// are passed to it unmodified.
type Command struct {
	Step string
	Path string
	Args []string
}

func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// String renders the command as a shell-quoted line. It is meant for
// logs and for `plan` output, execution never goes through a shell.
func (c Command) String() string {
	return shellquote.Join(c.Argv()...)
}

// RestoreCommand discards local changes in the work dir.
func (b *Builder) RestoreCommand() Command {
	return Command{
		Step: StepRestore,
		Path: b.git,
		Args: []string{"restore", "."},
	}
}

// PreprocessCommand rewrites the installer sources for the configured
// application. --conn-type is only present when a connection type is
// set.
func (b *Builder) PreprocessCommand() Command {
	args := []string{
		b.preprocess,
		"--arp",
		"-d", b.targetDir,
		"--version", b.version,
		"--app-name", b.appName,
	}

	if b.connType != "" {
		args = append(args, "--conn-type", b.connType)
	}

	return Command{
		Step: StepPreprocess,
		Path: b.python,
		Args: args,
	}
}

// MSBuildCommand depends only on the solution and build settings,
// never on the application being branded.
func (b *Builder) MSBuildCommand() Command {
	return Command{
		Step: StepMSBuild,
		Path: b.msbuildPath,
		Args: []string{
			b.solution,
			"-p:Configuration=" + b.configuration,
			"-p:Platform=" + b.platform,
			"/p:TargetVersion=" + b.targetVersion,
		},
	}
}

func (b *Builder) CleanCommand() Command {
	return Command{
		Step: StepClean,
		Path: b.msbuildPath,
		Args: []string{b.solution, "/t:clean"},
	}
}

// Commands returns the steps Build runs, in order.
func (b *Builder) Commands() []Command {
	var cmds []Command
	if b.clean {
		cmds = append(cmds, b.CleanCommand())
	}

	return append(cmds,
		b.RestoreCommand(),
		b.PreprocessCommand(),
		b.MSBuildCommand(),
	)
}
