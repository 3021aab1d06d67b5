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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/common"
)

// NewDeleteAccountCommand creates the delete-account command.
func NewDeleteAccountCommand(rootOpts *RootOptions) *cobra.Command {
	var userId, accountUri string

	cmd := &cobra.Command{
		Use:   "delete-account",
		Short: "Force the deletion of an account",
		Long: `Schedule an immediate DeleteAccount task. The next scheduler pass deletes the
account on the server and then removes it from the local mirror.

Examples:
  walletsync delete-account --user alice --account https://example.com/creditors/1/accounts/7/`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			db, err := common.InitializeDatabaseOnly(ctx, rootOpts.config)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer db.Close()

			task, err := db.ScheduleAccountDeletion(ctx, userId, accountUri)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to schedule account deletion", err)
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), task)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scheduled deletion of %s (task %d)\n", accountUri, task.TaskID)
			return nil
		},
	}

	cmd.Flags().StringVar(&userId, "user", "", "user id (required)")
	cmd.Flags().StringVar(&accountUri, "account", "", "account URI (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
