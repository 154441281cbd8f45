package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/sensorflow/internal/errors"
)

// DefaultConfigPaths lists the directories searched for config.yaml, in
// order of preference.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sensorflow"))
	}
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/sensorflow")
	}
	return paths
}

// SaveYAML writes settings to path atomically through a temp file in the
// same directory.
func SaveYAML(path string, s *Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return errors.New(fmt.Errorf("error marshaling settings: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return saveError(err, path)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return saveError(err, path)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return saveError(err, path)
	}
	if err := tmp.Close(); err != nil {
		return saveError(err, path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return saveError(err, path)
	}
	return nil
}

func saveError(err error, path string) error {
	return errors.New(fmt.Errorf("error saving config: %w", err)).
		Component("conf").
		Category(errors.CategoryFileIO).
		FileContext(path, 0).
		Build()
}
