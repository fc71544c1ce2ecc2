// Package announce builds the descriptor the registry publishes about itself.
package announce

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/discovery/internal/domain"
)

// Loader reads the announcement file. An empty path yields the defaults.
type Loader struct {
	filePath string
}

func NewLoader(filePath string) *Loader {
	return &Loader{filePath: filePath}
}

// Load reads and parses the file. ${VAR} references are expanded from the environment.
func (l *Loader) Load() (File, error) {
	if l.filePath == "" {
		return File{}.withDefaults(), nil
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return File{}, fmt.Errorf("failed to read announce file: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("failed to parse announce yaml: %w", err)
	}

	return f.withDefaults(), nil
}

// Descriptor maps the file onto the registry record reachable at endpoint.
func Descriptor(f File, endpoint string, now time.Time) *domain.Descriptor {
	f = f.withDefaults()
	return &domain.Descriptor{
		Type:             f.Type,
		Name:             f.Name,
		Endpoint:         endpoint,
		HealthCheckRoute: f.HealthCheckRoute,
		SchemaRoute:      f.SchemaRoute,
		DocsPath:         f.DocsPath,
		Region:           f.Region,
		Stage:            f.Stage,
		Version:          f.Version,
		Status:           domain.StatusOnline,
		Timestamp:        now,
	}
}
