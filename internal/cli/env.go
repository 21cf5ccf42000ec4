package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Craig-0219/potato-autoA/internal/config"
	"github.com/Craig-0219/potato-autoA/internal/driver"
	"github.com/Craig-0219/potato-autoA/internal/logging"
	"github.com/Craig-0219/potato-autoA/internal/ports"
	"github.com/Craig-0219/potato-autoA/internal/state"
	"github.com/Craig-0219/potato-autoA/internal/task"
)

// newDriver builds the capability driver from configuration.
// It can be overridden in tests.
var newDriver = func(cfg config.Driver) (ports.Driver, error) {
	d, err := driver.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// environment is what every command needs: the validated configuration
// and the on-disk store.
type environment struct {
	cfg   *config.Config
	store *state.Store
	dir   string
}

// loadEnvironment reads the configuration, applies the log level and
// resolves the data directory.
func loadEnvironment() (*environment, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, exitError(ExitDefinition, err)
	}

	level := logging.ParseLevel(cfg.Logs.Level)
	if verbose {
		level = logging.LevelDebug
	}
	logging.SetLevel(level)

	dir := dataDir
	if dir == "" {
		dir = cfg.Logs.Dir
	}
	if !filepath.IsAbs(dir) {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve data directory: %w", err)
		}
		dir = abs
	}
	return &environment{cfg: cfg, store: state.NewStore(dir), dir: dir}, nil
}

// loadTask reads a task file; definition problems map to ExitDefinition.
func loadTask(path string) (*task.Definition, error) {
	def, err := task.Load(path)
	if err != nil {
		return nil, exitError(ExitDefinition, err)
	}
	return def, nil
}

// taskVars merges <dir>/.env with --var overrides, the latter winning.
func (env *environment) taskVars(pairs []string) (map[string]string, error) {
	vars, err := config.LoadEnvFile(env.dir)
	if err != nil {
		return nil, exitError(ExitDefinition, err)
	}
	flags, err := config.ParseVars(pairs)
	if err != nil {
		return nil, exitError(ExitDefinition, err)
	}
	for k, v := range flags {
		vars[k] = v
	}
	return vars, nil
}

// taskName accepts either a task name or a path to a task file.
func taskName(arg string) (string, error) {
	ext := strings.ToLower(filepath.Ext(arg))
	if ext != ".yaml" && ext != ".yml" {
		return arg, nil
	}
	if _, err := os.Stat(arg); err != nil {
		return strings.TrimSuffix(filepath.Base(arg), filepath.Ext(arg)), nil
	}
	def, err := loadTask(arg)
	if err != nil {
		return "", err
	}
	return def.Name, nil
}
