package msibuild

import (
	"os/exec"
	"time"

	"github.com/pkg/errors"
)

// StepResult records how one external command went.
type StepResult struct {
	Step     string
	Command  string
	Output   string // combined stdout and stderr
	ExitCode int    // -1 when the process never ran to an exit status
	Duration time.Duration
	Err      error
}

type Result struct {
	Steps    []StepResult
	Artifact string // path to the msi, empty if none was found
}

// Failed returns the steps that did not exit cleanly.
func (r *Result) Failed() []StepResult {
	var failed []StepResult
	for _, s := range r.Steps {
		if s.Err != nil {
			failed = append(failed, s)
		}
	}
	return failed
}

func (r *Result) Succeeded() bool {
	return len(r.Failed()) == 0 && r.Artifact != ""
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}
