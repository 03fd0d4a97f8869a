package registry

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/agl-services/applaunchd/internal/infrastructure/logging"
	"github.com/agl-services/applaunchd/internal/shared/types"
)

// catalogFile is the on-disk shape of the application catalog.
type catalogFile struct {
	Applications []catalogEntry `yaml:"applications"`
}

type catalogEntry struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Icon       string `yaml:"icon"`
	Command    string `yaml:"command"`
	Activation string `yaml:"activation"`
	Graphical  bool   `yaml:"graphical"`
}

// Seeder loads the application catalog from a YAML file at startup.
type Seeder struct {
	path   string
	logger *logging.Logger
}

// NewSeeder creates a catalog seeder for the given path.
func NewSeeder(path string, logger *logging.Logger) *Seeder {
	return &Seeder{path: path, logger: logger}
}

// Load parses the catalog and returns records in file order. Invalid
// entries are logged and skipped; only an unreadable or unparsable file
// is an error.
func (s *Seeder) Load() ([]*types.App, error) {
	s.logger.Info("Loading application catalog", zap.String("path", s.path))

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	var loaded, skipped int
	apps := make([]*types.App, 0, len(file.Applications))
	for _, entry := range file.Applications {
		app, err := s.buildRecord(entry)
		if err != nil {
			s.logger.Warn("Skipping catalog entry",
				zap.String("id", entry.ID),
				zap.Error(err))
			skipped++
			continue
		}
		s.logger.Debug("Adding application", zap.String("id", app.ID))
		apps = append(apps, app)
		loaded++
	}

	s.logger.Info("Catalog loaded",
		zap.Int("loaded", loaded),
		zap.Int("skipped", skipped))

	return apps, nil
}

func (s *Seeder) buildRecord(entry catalogEntry) (*types.App, error) {
	if entry.ID == "" {
		return nil, fmt.Errorf("missing application id")
	}

	method := types.ActivationMethod(entry.Activation)
	if entry.Activation == "" {
		method = types.ActivationProcess
	}
	if !method.Valid() {
		return nil, fmt.Errorf("unknown activation method %q", entry.Activation)
	}

	// Bus-activated applications are launched by name, not by command.
	if entry.Command == "" && method != types.ActivationDBus {
		return nil, fmt.Errorf("missing command for %s activation", method)
	}

	name := entry.Name
	if name == "" {
		name = entry.ID
	}

	return types.NewApp(entry.ID, name, entry.Icon, entry.Command, method, entry.Graphical), nil
}
