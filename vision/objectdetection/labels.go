package objectdetection

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// LoadLabels reads category names from a file with one label per line. A file holding a single
// line is split by commas, or by spaces if it has no commas.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "could not open label file")
	}
	defer f.Close() //nolint:errcheck

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "could not read label file")
	}
	labels = lo.DropRightWhile(labels, func(l string) bool { return l == "" })
	if len(labels) == 1 {
		labels = strings.Split(labels[0], ",")
	}
	if len(labels) == 1 {
		labels = strings.Fields(labels[0])
	}
	return lo.Map(labels, func(l string, _ int) string { return strings.TrimSpace(l) }), nil
}
