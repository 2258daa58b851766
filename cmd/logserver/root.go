package main

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/coffersTech/logserver/internal/config"
	"github.com/coffersTech/logserver/internal/logging"
	"github.com/coffersTech/logserver/logstore"
	"github.com/coffersTech/logserver/sink"
)

// app carries what every subcommand needs after the root pre-run.
type app struct {
	configPath string
	logLevel   string

	cfg config.Config
	log *log.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "logserver",
		Short:         "Capture logs locally, upload them in the background, clear them on demand",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.logLevel != "" {
				cfg.LogLevel = a.logLevel
			}
			a.cfg = cfg
			a.log = logging.New(cmd.ErrOrStderr(), cfg.LogLevel)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "diagnostic log level (debug, info, warn, error)")

	cmd.AddCommand(
		newWriteCmd(a),
		newUploadCmd(a),
		newClearCmd(a),
		newShowCmd(a),
		newStatusCmd(a),
		newServeCmd(a),
		newHashKeyCmd(a),
	)
	return cmd
}

// openStore builds the store and its sink from configuration.
func (a *app) openStore() (*logstore.Store, error) {
	sc := a.cfg.Store
	s := logstore.New(logstore.Options{
		Dir:            sc.Dir,
		Name:           sc.Name,
		MaxSizeMB:      sc.MaxSizeMB,
		MaxBackups:     sc.MaxBackups,
		MaxAgeDays:     sc.MaxAgeDays,
		LockTimeout:    sc.LockTimeout,
		UploadAttempts: sc.UploadAttempts,
		RetryBackoff:   sc.RetryBackoff,
		Logger:         a.log,
	})

	snk, err := a.newSink(s.Dir())
	if err != nil {
		return nil, err
	}
	s.SetSink(snk)
	return s, nil
}

func (a *app) newSink(storeDir string) (logstore.Sink, error) {
	id, err := sink.InstanceID(storeDir)
	if err != nil {
		a.log.Warn("instance id not persisted", "err", err)
	}

	uc := a.cfg.Upload
	switch uc.Sink {
	case config.SinkS3:
		return sink.NewObjectSink(sink.ObjectOptions{
			Endpoint:        uc.S3.Endpoint,
			AccessKeyID:     uc.S3.AccessKeyID,
			SecretAccessKey: uc.S3.SecretAccessKey,
			UseSSL:          uc.S3.UseSSL,
			Bucket:          uc.S3.Bucket,
			Prefix:          uc.S3.Prefix,
			InstanceID:      id,
		})
	case config.SinkHTTP, "":
		return sink.NewHTTPSink(sink.HTTPOptions{
			URL:        uc.URL,
			APIKey:     uc.APIKey,
			Service:    uc.Service,
			InstanceID: id,
			Timeout:    uc.Timeout,
			Logger:     a.log,
		})
	default:
		return nil, errors.Newf("unknown sink %q", uc.Sink)
	}
}

// withStore opens the store, runs fn and closes it.
func (a *app) withStore(ctx context.Context, fn func(context.Context, *logstore.Store) error) error {
	s, err := a.openStore()
	if err != nil {
		return err
	}
	err = fn(ctx, s)
	return errors.CombineErrors(err, s.Close())
}
