/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/common"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/feed"
)

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	var feedFile string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Merge a YAML feed file into the local mirror",
		Long: `Merge a stream of YAML feed batches into the local mirror.

Each YAML document is one batch for one user. Records older than the stored
ones are ignored, so ingesting the same file twice is harmless.

Examples:
  walletsync ingest --feed ./feed.yaml
  walletsync ingest --feed ./feed.yaml --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			source, err := feed.NewFileSource(feedFile)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open feed", err)
			}
			defer source.Close()

			services, err := common.InitializeServices(ctx, rootOpts.config)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize services", err)
			}
			defer services.Close()

			syncer := feed.NewSyncer(feed.SyncerConfig{Store: services.DbService, Source: source})
			stats, err := syncer.Drain(ctx)
			if err != nil && !errors.Is(err, io.EOF) {
				return WrapExitError(ExitCommandError, "failed to ingest feed", err)
			}

			if rootOpts.Format == "json" {
				if err := writeJSON(cmd.OutOrStdout(), stats); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(),
					"Batches: %d  Applied: %d  Ignored: %d  Deleted: %d  Transfers: %d  Failed: %d\n",
					stats.Batches, stats.Applied, stats.Ignored, stats.Deleted, stats.Transfers, stats.Failed)
			}
			if stats.Failed > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d record(s) failed", stats.Failed))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&feedFile, "feed", "", "path to the YAML feed file (required)")
	_ = cmd.MarkFlagRequired("feed")
	return cmd
}
