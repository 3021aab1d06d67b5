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

// NewInstallUserCommand creates the install-user command.
func NewInstallUserCommand(rootOpts *RootOptions) *cobra.Command {
	var walletUri string

	cmd := &cobra.Command{
		Use:   "install-user <user-id>",
		Short: "Register a wallet user",
		Long: `Register a wallet user so that actions, tasks and transfers can be stored for it.
Installing an already installed user updates its wallet URI.

Examples:
  walletsync install-user alice --wallet https://example.com/creditors/1/wallet`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			db, err := common.InitializeDatabaseOnly(ctx, rootOpts.config)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer db.Close()

			user, err := db.InstallUser(ctx, args[0], walletUri)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to install user", err)
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), user)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed user %s (%s)\n", user.Id, user.WalletURI)
			return nil
		},
	}

	cmd.Flags().StringVar(&walletUri, "wallet", "", "wallet URI of the user (required)")
	_ = cmd.MarkFlagRequired("wallet")
	return cmd
}

// NewUninstallUserCommand creates the uninstall-user command.
func NewUninstallUserCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "uninstall-user <user-id>",
		Short:         "Remove a user and everything stored for it",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			db, err := common.InitializeDatabaseOnly(ctx, rootOpts.config)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer db.Close()

			if err := db.UninstallUser(ctx, args[0]); err != nil {
				return WrapExitError(ExitFailure, "failed to uninstall user", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled user %s\n", args[0])
			return nil
		},
	}
}
