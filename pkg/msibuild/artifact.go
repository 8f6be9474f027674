package msibuild

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Some filesystems only keep whole seconds.
const mtimeSlack = 2 * time.Second

// findArtifact returns the newest msi under a bin/<platform>/<configuration>
// directory of root that was written after since. Older msi files are
// leftovers, `git restore` does not touch untracked output.
func findArtifact(root, platform, configuration string, since time.Time) (string, error) {
	outputSegment := strings.ToLower(filepath.Join("bin", platform, configuration)) + string(filepath.Separator)

	var newest string
	var newestMod time.Time

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		if !strings.EqualFold(filepath.Ext(path), ".msi") {
			return nil
		}

		if !strings.Contains(strings.ToLower(path), outputSegment) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if info.ModTime().Before(since) {
			return nil
		}

		if newest == "" || info.ModTime().After(newestMod) {
			newest, newestMod = path, info.ModTime()
		}

		return nil
	})
	if err != nil {
		return "", errors.Wrapf(err, "walking %s", root)
	}

	if newest == "" {
		return "", errors.Errorf("no msi under %s newer than %s", filepath.Join(root, "**", "bin", platform, configuration), since.Format(time.RFC3339))
	}

	return newest, nil
}
