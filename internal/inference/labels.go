package inference

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/tphakala/sensorflow/internal/errors"
)

// LoadLabels reads one label per line. Blank lines and lines starting with
// '#' are skipped.
func LoadLabels(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("open labels: %w", err)).
			Component(ComponentInference).
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	defer file.Close()

	var labels []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(fmt.Errorf("read labels: %w", err)).
			Component(ComponentInference).
			Category(errors.CategoryFileParsing).
			FileContext(path, 0).
			Build()
	}
	return labels, nil
}

// CheckLabels reports ErrLabelMismatch unless labels is empty or has one
// entry per model output.
func CheckLabels(labels []string, m Model) error {
	if len(labels) == 0 || len(labels) == m.OutputSize() {
		return nil
	}
	return errors.New(fmt.Errorf("%w: %d labels for %d outputs", ErrLabelMismatch, len(labels), m.OutputSize())).
		Component(ComponentInference).
		Build()
}
