package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

var reportNamePattern = regexp.MustCompile(`^Tokei Report (\d+)(?: WARNINGS\.txt|\.png|\.html)$`)

// ArtifactNames returns the image, markup and warnings file names of
// report n.
func ArtifactNames(n int) (image, markup, warnings string) {
	base := fmt.Sprintf("Tokei Report %d", n)
	return base + ".png", base + ".html", base + " WARNINGS.txt"
}

// NextSequence infers the next report number from the artifacts already
// in dir. A missing directory yields 1.
func NextSequence(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	highest := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := reportNamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

// artifactPaths joins ArtifactNames onto dir.
func artifactPaths(dir string, n int) (image, markup, warnings string) {
	i, m, w := ArtifactNames(n)
	return filepath.Join(dir, i), filepath.Join(dir, m), filepath.Join(dir, w)
}
