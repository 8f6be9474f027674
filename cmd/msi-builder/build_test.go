package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kolide/msi-builder/pkg/msibuild"
	"github.com/stretchr/testify/require"
)

// TestMain lets the test binary stand in for git, python and msbuild.
// buildMsi tests point those flags at os.Executable and set
// FAKE_BUILD_TOOL to pick the behavior.
func TestMain(m *testing.M) {
	if mode := os.Getenv("FAKE_BUILD_TOOL"); mode != "" {
		os.Exit(fakeBuildTool(mode, os.Args[1:]))
	}
	os.Exit(m.Run())
}

func fakeBuildTool(mode string, args []string) int {
	if len(args) == 0 {
		return 2
	}

	fh, err := os.OpenFile("calls.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 5
	}
	fmt.Fprintln(fh, args[0])
	fh.Close()

	switch args[0] {
	case "restore":
		fmt.Println("restored")
	case "preprocess.py":
		if mode == "hang" {
			time.Sleep(time.Hour)
		}
		fmt.Println("preprocessed")
	case "msi.sln":
		outDir := filepath.Join("Package", "bin", "x64", "Release")
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return 4
		}
		if err := os.WriteFile(filepath.Join(outDir, "rustdesk.msi"), []byte("msi"), 0644); err != nil {
			return 4
		}
		fmt.Println("Build succeeded.")
	default:
		return 2
	}

	return 0
}

// clearBuildEnv unsets every variable the build flags read, for the
// length of the test.
func clearBuildEnv(t *testing.T) {
	keys := []string{"GITHUB_ACTIONS"}
	newBuildFlagSet("build", &buildFlags{}).VisitAll(func(f *flag.Flag) {
		keys = append(keys, "MSI_"+strings.ToUpper(f.Name))
	})

	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func fakeToolArgs(t *testing.T, workDir string) []string {
	exe, err := os.Executable()
	require.NoError(t, err)

	return []string{
		"-git", exe,
		"-python", exe,
		"-msbuild", exe,
		"-work_dir", workDir,
	}
}

func readCalls(t *testing.T, workDir string) []string {
	data, err := os.ReadFile(filepath.Join(workDir, "calls.log"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Fields(string(data))
}

func TestParseBuildFlagsDefaults(t *testing.T) {
	clearBuildEnv(t)

	flags, err := parseBuildFlags("build", []string{})
	require.NoError(t, err)

	require.Equal(t, "rustdesk", flags.appName)
	require.Equal(t, "", flags.connType)
	require.Equal(t, "../../rustdesk", flags.targetDir)
	require.Equal(t, "1.3.0.1", flags.version)
	require.Equal(t, "git", flags.git)
	require.False(t, flags.failFast)
	require.False(t, flags.clean)
	require.False(t, flags.github)
}

func TestParseBuildFlagsConfigFile(t *testing.T) {
	clearBuildEnv(t)

	configFile := filepath.Join(t.TempDir(), "msi.cfg")
	require.NoError(t, os.WriteFile(configFile, []byte("app_name acme\nconn_type direct\nfail_fast true\n"), 0644))

	flags, err := parseBuildFlags("build", []string{"-config", configFile, "-clean"})
	require.NoError(t, err)

	require.Equal(t, "acme", flags.appName)
	require.Equal(t, "direct", flags.connType)
	require.True(t, flags.failFast)
	require.True(t, flags.clean)
}

func TestParseBuildFlagsEnv(t *testing.T) {
	clearBuildEnv(t)
	t.Setenv("MSI_APP_NAME", "acme")
	t.Setenv("MSI_FAIL_FAST", "true")
	t.Setenv("GITHUB_ACTIONS", "true")

	flags, err := parseBuildFlags("build", []string{"-conn_type", "relay"})
	require.NoError(t, err)

	require.Equal(t, "acme", flags.appName)
	require.Equal(t, "relay", flags.connType)
	require.True(t, flags.failFast)
	require.True(t, flags.github)
}

func TestParseBuildFlagsUnknown(t *testing.T) {
	clearBuildEnv(t)

	_, err := parseBuildFlags("build", []string{"-not_a_flag"})
	require.Error(t, err)
}

func TestPrintPlan(t *testing.T) {
	clearBuildEnv(t)

	var tests = []struct {
		args     []string
		expected []string
	}{
		{
			args: []string{"-msbuild", "msbuild"},
			expected: []string{
				"git restore .",
				"python preprocess.py --arp -d ../../rustdesk --version 1.3.0.1 --app-name rustdesk",
				"msbuild msi.sln -p:Configuration=Release -p:Platform=x64 /p:TargetVersion=Windows10",
			},
		},
		{
			args: []string{"-msbuild", "msbuild", "-app_name", "acme", "-conn_type", "direct", "-clean"},
			expected: []string{
				"msbuild msi.sln /t:clean",
				"git restore .",
				"python preprocess.py --arp -d ../../rustdesk --version 1.3.0.1 --app-name acme --conn-type direct",
				"msbuild msi.sln -p:Configuration=Release -p:Platform=x64 /p:TargetVersion=Windows10",
			},
		},
		{
			// git is never run, so the version stays a placeholder
			args: []string{"-msbuild", "msbuild", "-version", "git", "-git", "/nonexistent/git"},
			expected: []string{
				"/nonexistent/git restore .",
				"python preprocess.py --arp -d ../../rustdesk --version git --app-name rustdesk",
				"msbuild msi.sln -p:Configuration=Release -p:Platform=x64 /p:TargetVersion=Windows10",
			},
		},
	}

	for _, tt := range tests {
		flags, err := parseBuildFlags("plan", tt.args)
		require.NoError(t, err)

		var out bytes.Buffer
		require.NoError(t, printPlan(&out, flags))
		require.Equal(t, tt.expected, strings.Split(strings.TrimSpace(out.String()), "\n"))
	}
}

func TestPrintPlanInvalidOptions(t *testing.T) {
	clearBuildEnv(t)

	flags, err := parseBuildFlags("plan", []string{"-app_name", ""})
	require.NoError(t, err)

	var out bytes.Buffer
	require.Error(t, printPlan(&out, flags))
	require.Empty(t, out.String())
}

func TestBuildMsi(t *testing.T) {
	clearBuildEnv(t)
	t.Setenv("FAKE_BUILD_TOOL", "ok")

	workDir := t.TempDir()
	flags, err := parseBuildFlags("build", fakeToolArgs(t, workDir))
	require.NoError(t, err)

	result, err := buildMsi(context.Background(), flags, make(chan os.Signal))
	require.NoError(t, err)

	require.True(t, result.Succeeded())
	require.Len(t, result.Steps, 3)
	require.Equal(t, filepath.Join(workDir, "Package", "bin", "x64", "Release", "rustdesk.msi"), result.Artifact)
	require.Equal(t, []string{"restore", "preprocess.py", "msi.sln"}, readCalls(t, workDir))
}

func TestBuildMsiInterrupted(t *testing.T) {
	clearBuildEnv(t)
	t.Setenv("FAKE_BUILD_TOOL", "hang")

	workDir := t.TempDir()
	flags, err := parseBuildFlags("build", fakeToolArgs(t, workDir))
	require.NoError(t, err)

	interrupts := make(chan os.Signal, 1)

	var result *msibuild.Result
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, err = buildMsi(context.Background(), flags, interrupts)
	}()

	// preprocess has started once it is recorded
	require.Eventually(t, func() bool {
		data, _ := os.ReadFile(filepath.Join(workDir, "calls.log"))
		return len(strings.Fields(string(data))) == 2
	}, 30*time.Second, 10*time.Millisecond)
	interrupts <- os.Interrupt
	<-done

	require.Error(t, err)
	require.Contains(t, err.Error(), "interrupted by")

	require.NotNil(t, result)
	require.Len(t, result.Steps, 2)
	require.Empty(t, result.Artifact)
	require.Equal(t, []string{"restore", "preprocess.py"}, readCalls(t, workDir))
}

func TestBuildMsiInvalidOptions(t *testing.T) {
	clearBuildEnv(t)

	flags, err := parseBuildFlags("build", []string{"-app_name", "", "-work_dir", t.TempDir()})
	require.NoError(t, err)

	result, err := buildMsi(context.Background(), flags, make(chan os.Signal))
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid build options")
	require.Nil(t, result)
}
