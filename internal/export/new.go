package export

import (
	"github.com/nguyentantai21042004/cirse-notes/internal/config"
	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
)

// Config controls where and in which formats artefacts are written.
type Config struct {
	OutputDir string
	Docx      bool
}

// ConfigFrom maps the application config onto the export config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{OutputDir: cfg.Paths.Output}
}

type implExporter struct {
	cfg    Config
	logger logger.Logger
}

// New creates an Exporter writing under cfg.OutputDir.
func New(cfg Config, log logger.Logger) Exporter {
	if cfg.OutputDir == "" {
		cfg.OutputDir = config.Default().Paths.Output
	}
	if log == nil {
		log = logger.Nop()
	}
	return &implExporter{cfg: cfg, logger: log}
}
