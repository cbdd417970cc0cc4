package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/nguyentantai21042004/cirse-notes/internal/auth"
	"github.com/nguyentantai21042004/cirse-notes/internal/catalog"
	"github.com/nguyentantai21042004/cirse-notes/internal/config"
	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
	"github.com/nguyentantai21042004/cirse-notes/internal/media"
	"github.com/nguyentantai21042004/cirse-notes/internal/pipeline"
	"github.com/nguyentantai21042004/cirse-notes/internal/summarizer"
	"github.com/nguyentantai21042004/cirse-notes/internal/transcriber"
	"github.com/nguyentantai21042004/cirse-notes/pkg/executor"
)

type commandContext struct {
	configFlag   *string
	envFlag      *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
	logger     logger.Logger
}

func newCommandContext(configFlag, envFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		envFlag:      envFlag,
		logLevelFlag: logLevelFlag,
	}
}

// ensureConfig loads the config file (or defaults when none exists) and the
// secrets, once per process.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(*c.configFlag)
		explicit := path != ""
		if !explicit {
			path = config.DefaultFilePath
		}

		cfg, err := config.Load(path)
		if err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				c.configErr = err
				return
			}
			cfg = config.Default()
		}
		if err := cfg.LoadSecrets(strings.TrimSpace(*c.envFlag)); err != nil {
			c.configErr = err
			return
		}
		if level := strings.TrimSpace(*c.logLevelFlag); level != "" {
			cfg.Logging.Level = level
		}
		if err := os.MkdirAll(cfg.Paths.Temp, 0o755); err != nil {
			c.configErr = fmt.Errorf("create directory %s: %w", cfg.Paths.Temp, err)
			return
		}

		c.config = cfg
		c.logger = logger.NewWithWriter(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	})
	return c.config, c.configErr
}

// login opens the shared library session.
func (c *commandContext) login(ctx context.Context) (*auth.Session, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return auth.Login(ctx, auth.ConfigFrom(cfg), cfg.Secrets.Credentials, c.logger)
}

// newPipeline wires the library-backed pipeline. sess is nil for local
// files, in which case fetcher must serve local paths.
func (c *commandContext) newPipeline(sess *auth.Session, fetcher media.Fetcher) (pipeline.Pipeline, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	exec := executor.New()

	tr, err := transcriber.New(transcriber.ConfigFrom(cfg), exec, c.logger)
	if err != nil {
		return nil, err
	}
	sum, err := summarizer.New(summarizer.ConfigFrom(cfg), c.logger)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Session:     sess,
		Fetcher:     fetcher,
		Transcriber: tr,
		Summarizer:  sum,
	}
	if sess != nil {
		deps.Searcher = catalog.New(catalog.ConfigFrom(cfg), c.logger)
		if deps.Fetcher == nil {
			deps.Fetcher = media.New(media.ConfigFrom(cfg), exec, c.logger)
		}
	}
	if deps.Fetcher == nil {
		return nil, errors.New("no media source configured")
	}
	return pipeline.New(pipeline.ConfigFrom(cfg), deps, c.logger), nil
}
