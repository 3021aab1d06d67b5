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
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/common"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/feed"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/scheduler"
)

type stopper interface {
	Stop()
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var feedFile string
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the task scheduler and, optionally, a feed syncer",
		Long: `Run the background task scheduler until interrupted.

With --feed the given YAML feed is merged into the mirror while the
scheduler runs; tasks armed by the feed are picked up right away.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.config
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			zap.L().Info("Starting walletsync")

			services, err := common.InitializeServices(ctx, cfg)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize services", err)
			}
			defer services.Close()

			var running []stopper

			if feedFile != "" {
				source, err := feed.NewFileSource(feedFile)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to open feed", err)
				}
				defer source.Close()

				syncer := feed.NewSyncer(feed.SyncerConfig{
					Store:           services.DbService,
					Source:          source,
					PollingInterval: cfg.Scheduler.PollingInterval,
				})
				syncer.Start(ctx)
				running = append(running, syncer)
			}

			runner := scheduler.NewRunner(scheduler.RunnerConfig{
				Store:           services.DbService,
				Fetcher:         services.Remote,
				Transfers:       services.Remote,
				Accounts:        services.Remote,
				Bus:             services.Bus,
				PollingInterval: cfg.Scheduler.PollingInterval,
				BatchSize:       cfg.Scheduler.BatchSize,
				FetchTimeout:    cfg.Scheduler.FetchTimeout,
			})
			runner.Start(ctx)
			running = append(running, runner)

			zap.L().Info("Press Ctrl+C to stop")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			<-sigChan

			zap.L().Info("Shutdown signal received, stopping...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()

			done := make(chan struct{})
			go func() {
				var wg sync.WaitGroup
				for _, s := range running {
					wg.Add(1)
					go func(s stopper) {
						defer wg.Done()
						s.Stop()
					}(s)
				}
				wg.Wait()
				close(done)
			}()

			select {
			case <-done:
				zap.L().Info("Stopped gracefully")
			case <-shutdownCtx.Done():
				zap.L().Warn("Forced shutdown after timeout")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&feedFile, "feed", "", "YAML feed file to merge while running")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "how long to wait for a graceful stop")
	return cmd
}
