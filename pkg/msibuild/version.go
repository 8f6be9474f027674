package msibuild

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/go-kit/kit/log/level"
	"github.com/kolide/msi-builder/pkg/contexts/ctxlog"
	"github.com/pkg/errors"
)

// VersionFromGit asks Build to derive the version from `git describe`.
const VersionFromGit = "git"

var (
	gitVersionRegex     = regexp.MustCompile(`^v?(\d+)\.(\d+)(?:\.(\d+))?(?:[.-](\d+))?(?:-.*)?$`)
	windowsVersionRegex = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)\.(\d+)$`)
)

// FormatVersion formats a git style version as W.X.Y.Z, the only
// format the installer accepts. The commit count after the tag becomes
// the fourth field.
//
//   v1.3.0-1-gabc1234 -> 1.3.0.1
//   1.3.0             -> 1.3.0.0
func FormatVersion(rawVersion string) (string, error) {
	matches := gitVersionRegex.FindStringSubmatch(strings.TrimSpace(rawVersion))
	if matches == nil {
		return "", errors.Errorf("version %q did not match expected format", rawVersion)
	}

	if len(matches) != 5 {
		return "", errors.Errorf("expected 5 subgroups, got %d from string %s", len(matches), rawVersion)
	}

	parts := matches[1:]

	// If things are "", they should be 0
	for i := range parts {
		if parts[i] == "" {
			parts[i] = "0"
		}
	}

	return strings.Join(parts, "."), nil
}

// validateVersion checks v is W.X.Y.Z, and that W.X.Y fits the MSI
// ProductVersion limits.
func validateVersion(v string) error {
	matches := windowsVersionRegex.FindStringSubmatch(v)
	if matches == nil {
		return errors.Errorf("version %q is not W.X.Y.Z", v)
	}

	productVersion, err := semver.NewVersion(fmt.Sprintf("%s.%s.%s", matches[1], matches[2], matches[3]))
	if err != nil {
		return errors.Wrapf(err, "parse version %q", v)
	}

	if productVersion.Major() > 255 || productVersion.Minor() > 255 || productVersion.Patch() > 65535 {
		return errors.Errorf("version %q exceeds msi limits 255.255.65535", v)
	}

	return nil
}

// ResolveVersion replaces VersionFromGit with the formatted output of
// `git describe`. Other versions are left alone.
func (b *Builder) ResolveVersion(ctx context.Context) error {
	if b.version != VersionFromGit {
		return nil
	}

	logger := ctxlog.FromContext(ctx)

	described, err := b.execOut(ctx, b.git, "describe", "--tags", "--always")
	if err != nil {
		return errors.Wrap(err, "git describe")
	}

	v, err := FormatVersion(described)
	if err != nil {
		return errors.Wrap(err, "formatting git version")
	}

	if err := validateVersion(v); err != nil {
		return err
	}

	level.Debug(logger).Log(
		"msg", "resolved version from git",
		"described", described,
		"version", v,
	)

	b.version = v
	return nil
}
