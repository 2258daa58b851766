package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"

	"github.com/coffersTech/logserver/internal/query"
	"github.com/coffersTech/logserver/logstore"
)

func newUploadCmd(a *app) *cobra.Command {
	var (
		clearAfter bool
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Send local logs to the configured sink",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(ctx context.Context, s *logstore.Store) error {
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				res, err := s.UploadLog(ctx).Wait(ctx)
				if err != nil {
					return errors.Wrap(err, "upload")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d entries (%d bytes) in %d attempt(s), %s\n",
					res.Entries, res.Bytes, res.Attempts, res.Duration.Round(time.Millisecond))
				if clearAfter && res.Entries > 0 {
					return s.ClearLog(ctx)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clearAfter, "clear", false, "clear local logs after a successful upload")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 waits for all retries)")
	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all local logs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(ctx context.Context, s *logstore.Store) error {
				if err := s.ClearLog(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "local logs cleared")
				return nil
			})
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	var (
		asJSON bool
		tail   int
		filter string
		since  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print local logs, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(ctx context.Context, s *logstore.Store) error {
				f, err := query.Compile(filter)
				if err != nil {
					return err
				}
				all, err := s.Entries(ctx)
				if err != nil {
					return err
				}
				var cutoff time.Time
				if since > 0 {
					cutoff = time.Now().Add(-since)
				}
				entries := all[:0]
				for _, e := range all {
					if e.Time.Before(cutoff) || !f.Match(query.EntryFields(e)) {
						continue
					}
					entries = append(entries, e)
				}
				if tail > 0 && len(entries) > tail {
					entries = entries[len(entries)-tail:]
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					for _, e := range entries {
						if err := enc.Encode(e); err != nil {
							return err
						}
					}
					return nil
				}
				for _, e := range entries {
					fmt.Fprintln(out, formatEntry(e))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON lines")
	cmd.Flags().IntVarP(&tail, "tail", "n", 0, "print only the last n entries")
	cmd.Flags().StringVarP(&filter, "query", "q", "", `filter, e.g. 'level>=WARN AND msg~"timeout"'`)
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this (e.g. 30m)")
	return cmd
}

func formatEntry(e logstore.Entry) string {
	var b strings.Builder
	b.WriteString(e.Time.Format(time.RFC3339Nano))
	b.WriteByte(' ')
	fmt.Fprintf(&b, "%-5s ", e.Level)
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%q", k, e.Attrs[k])
	}
	return b.String()
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where local logs live and how much is stored",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(ctx context.Context, s *logstore.Store) error {
				st, err := s.Stat(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "dir:      %s\n", st.Dir)
				fmt.Fprintf(out, "segments: %d\n", st.Segments)
				fmt.Fprintf(out, "bytes:    %d\n", st.Bytes)
				fmt.Fprintf(out, "sink:     %s\n", a.cfg.Upload.Sink)
				return nil
			})
		},
	}
}
