package main

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/coffersTech/logserver/logstore"
)

func newWriteCmd(a *app) *cobra.Command {
	var (
		level string
		attrs []string
		tee   bool
	)
	cmd := &cobra.Command{
		Use:   "write [message...]",
		Short: "Capture a message, or every line read from stdin, into local storage",
		Example: `  logserver write "device booted"
  ./worker 2>&1 | logserver write --level WARN --attr job=nightly --tee`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, err := parseAttrs(attrs)
			if err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(ctx context.Context, s *logstore.Store) error {
				if err := s.WriteLog(ctx); err != nil {
					return err
				}
				if len(args) > 0 {
					return s.Append(ctx, logstore.Entry{
						Time:    time.Now(),
						Level:   level,
						Message: strings.Join(args, " "),
						Attrs:   kv,
					})
				}

				lw := s.NewLineWriter(level, kv)
				var src io.Reader = cmd.InOrStdin()
				if tee {
					src = io.TeeReader(src, cmd.OutOrStdout())
				}
				_, cerr := io.Copy(lw, src)
				return errors.CombineErrors(cerr, errors.CombineErrors(lw.Close(), lw.Err()))
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "INFO", "level recorded with each entry")
	cmd.Flags().StringArrayVar(&attrs, "attr", nil, "key=value attribute recorded with each entry (repeatable)")
	cmd.Flags().BoolVar(&tee, "tee", false, "copy stdin to stdout while capturing")
	return cmd
}

func parseAttrs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, errors.Newf("invalid attribute %q, want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
