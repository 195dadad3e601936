package main

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"

	"go.viam.com/framedetect/config"
	"go.viam.com/framedetect/logging"
	"go.viam.com/framedetect/services/detectlabel"
	"go.viam.com/framedetect/web/server"
)

// ServeAction reads a config file and serves its pipeline over HTTP until interrupted.
func ServeAction(c *cli.Context) error {
	cfg, err := config.Read(c.String(flagConfig))
	if err != nil {
		return err
	}
	logger := newLogger(c)
	if !c.Bool(flagDebug) {
		level, err := logging.LevelFromString(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
	}
	if cfg.LogFile != "" {
		appender := logging.NewFileAppender(cfg.LogFile, cfg.LogMaxSizeMB)
		defer goutils.UncheckedErrorFunc(appender.Close)
		logger.AddAppender(appender)
	}
	logging.ReplaceGlobal(logger)

	conf, err := detectlabel.ConfigFromAttributes(cfg.Detector)
	if err != nil {
		return errors.Wrap(err, "invalid detector config")
	}
	if conf.ModelPath == "" {
		conf.ModelPath = cfg.ModelPath
	}
	p, err := detectlabel.New(c.Context, conf, logger.Sublogger("detectlabel"))
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(func() error { return p.Close(c.Context) })
	detectlabel.Register(p)
	defer detectlabel.Deregister()

	return server.New(p, logger.Sublogger("web")).ListenAndServe(c.Context, cfg.Listen)
}
