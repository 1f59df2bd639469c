package merge

import (
	"bufio"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pault.ag/go/debian/changelog"

	derrors "github.com/CeGenreDeChat/debsnap/internal/errors"
)

// ChangelogTimestamp returns the date of the newest debian/changelog entry
// found in one of the top-level directories of root.
func ChangelogTimestamp(root string) (time.Time, error) {
	path, err := findChangelog(root)
	if err != nil {
		return time.Time{}, err
	}

	if entry, err := changelog.ParseFileOne(path); err == nil && !entry.When.IsZero() {
		return entry.When, nil
	}

	when, err := trailerDate(path)
	if err != nil {
		return time.Time{}, derrors.Wrap(derrors.KindChangelogTimestamp, err, "could not extract a valid date from changelog").WithPath(path)
	}
	return when, nil
}

func findChangelog(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}

	candidates := []string{filepath.Join(root, "debian", "changelog")}
	for _, e := range entries {
		if e.IsDir() {
			candidates = append(candidates, filepath.Join(root, e.Name(), "debian", "changelog"))
		}
	}
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && fi.Mode().IsRegular() {
			return c, nil
		}
	}
	return "", derrors.New(derrors.KindChangelogTimestamp, "no changelog file found").WithPath(root)
}

// trailerDate reads the date of the first " -- maintainer  date" line.
func trailerDate(path string) (time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, " -- ") {
			continue
		}
		idx := strings.Index(line, ">  ")
		if idx < 0 {
			return time.Time{}, derrors.New(derrors.KindChangelogTimestamp, "malformed trailer line")
		}
		return mail.ParseDate(strings.TrimSpace(line[idx+3:]))
	}
	if err := scanner.Err(); err != nil {
		return time.Time{}, err
	}
	return time.Time{}, derrors.New(derrors.KindChangelogTimestamp, "no trailer line")
}
