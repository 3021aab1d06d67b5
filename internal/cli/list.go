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
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/bus"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/common"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/index"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/store"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/transfers"
)

const listWidth = 80

// ActionsOptions holds flags for the actions command.
type ActionsOptions struct {
	*RootOptions
	UserID      string
	Limit       int
	LatestFirst bool
	Remove      int64
}

// NewActionsCommand creates the actions command.
func NewActionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ActionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List pending actions of a user",
		Long: `List the pending actions of a user in creation order.

With --remove the given action is resolved first, running its cleanup
(an acknowledged AckAccountInfo, for example, spawns its follow-ups).

Examples:
  walletsync actions --user alice
  walletsync actions --user alice --latest-first --limit 5
  walletsync actions --user alice --remove 12`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActions(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of actions (0 = all)")
	cmd.Flags().BoolVar(&opts.LatestFirst, "latest-first", false, "list the newest actions first")
	cmd.Flags().Int64Var(&opts.Remove, "remove", 0, "remove the action with this id before listing")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runActions(opts *ActionsOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	db, err := common.InitializeDatabaseOnly(ctx, opts.config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer db.Close()

	if opts.Remove != 0 {
		if err := db.RemoveAction(ctx, opts.Remove); err != nil {
			return WrapExitError(ExitFailure, "failed to remove action "+strconv.FormatInt(opts.Remove, 10), err)
		}
	}

	actions, err := db.ListActions(ctx, opts.UserID, store.ListOptions{Limit: opts.Limit, LatestFirst: opts.LatestFirst})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list actions", err)
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(out, actions)
	}
	if len(actions) == 0 {
		fmt.Fprintln(out, "No pending actions")
		return nil
	}
	fmt.Fprintf(out, "%-6s %-22s %-20s %s\n", "ID", "TYPE", "CREATED", "ACCOUNT")
	for _, a := range actions {
		fmt.Fprintf(out, "%-6d %-22s %-20s %s\n",
			a.ActionID, a.ActionType, a.CreatedAt.UTC().Format("2006-01-02 15:04:05"), a.AccountURI())
	}
	return nil
}

// NewTasksCommand creates the tasks command.
func NewTasksCommand(rootOpts *RootOptions) *cobra.Command {
	var userId string
	var within time.Duration
	var limit int

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List scheduled background tasks",
		Long: `List the background tasks that are due within the given window, for one
user or for every installed user.

Examples:
  walletsync tasks
  walletsync tasks --user alice
  walletsync tasks --user alice --within 720h`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			db, err := common.InitializeDatabaseOnly(ctx, rootOpts.config)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer db.Close()

			users, err := common.InitializeUsers(ctx, db, userId)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to look up users", err)
			}

			var tasks []models.Task
			until := time.Now().Add(within)
			for _, user := range users {
				due, err := db.DueTasks(ctx, user.Id, until, limit)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list tasks", err)
				}
				tasks = append(tasks, due...)
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(out, tasks)
			}
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No scheduled tasks")
				return nil
			}
			for _, t := range tasks {
				fmt.Fprintf(out, "%-6d %-10s %-16s %-20s backoff=%-8s %s\n",
					t.TaskID, t.UserID, t.TaskType, t.ScheduledFor.UTC().Format("2006-01-02 15:04:05"),
					time.Duration(t.BackoffSeconds)*time.Second, t.TargetKey())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userId, "user", "", "only list tasks of this user")
	cmd.Flags().DurationVar(&within, "within", 30*24*time.Hour, "include tasks scheduled up to this far in the future")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of tasks per user")
	return cmd
}

type transferRow struct {
	models.Transfer
	State transfers.SettlementState `json:"state"`
}

// NewTransfersCommand creates the transfers command.
func NewTransfersCommand(rootOpts *RootOptions) *cobra.Command {
	var userId string
	var limit int

	cmd := &cobra.Command{
		Use:           "transfers",
		Short:         "List the transfer history of a user, newest first",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			db, err := common.InitializeDatabaseOnly(ctx, rootOpts.config)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer db.Close()

			list, err := db.ListTransfers(ctx, userId, limit)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list transfers", err)
			}

			now := time.Now()
			rows := make([]transferRow, 0, len(list))
			for i := range list {
				rows = append(rows, transferRow{
					Transfer: list[i],
					State:    transfers.State(&list[i].TransferSnapshot, now, rootOpts.config.Transfers.DelayedAfter),
				})
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(out, rows)
			}
			common.PrintHeader(fmt.Sprintf("TRANSFERS: %s", userId), listWidth)
			for i, r := range rows {
				initiated := r.InitiatedAt
				fmt.Printf("%s %s  %-12s %10d  %s\n",
					common.BoxPrefix(i == len(rows)-1), common.FormatTime(&initiated), r.State, r.Amount, r.Recipient.URI)
				if r.PaymentInfo.PayeeName != "" || r.PaymentInfo.Description != "" {
					fmt.Printf("     %s %s\n", r.PaymentInfo.PayeeName, r.PaymentInfo.Description)
				}
			}
			common.PrintFooter(fmt.Sprintf("%d transfer(s)", len(rows)), listWidth)
			return nil
		},
	}

	cmd.Flags().StringVar(&userId, "user", "", "user id (required)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of transfers")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// NewAccountsCommand creates the accounts command.
func NewAccountsCommand(rootOpts *RootOptions) *cobra.Command {
	var followPeg string

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List mirrored accounts and their debtors",
		Long: `List the mirrored accounts through the accounts index.

Examples:
  walletsync accounts
  walletsync accounts --follow-peg https://example.com/creditors/1/accounts/7/`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			db, err := common.InitializeDatabaseOnly(ctx, rootOpts.config)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer db.Close()

			b := bus.NewHub().Connect()
			defer b.Close()
			accounts := index.NewAccountsMap(b, db)
			if err := accounts.Init(ctx); err != nil {
				return WrapExitError(ExitCommandError, "failed to load accounts index", err)
			}
			defer accounts.Close()

			out := cmd.OutOrStdout()
			if followPeg != "" {
				chain := accounts.FollowPegChain(followPeg)
				if rootOpts.Format == "json" {
					return writeJSON(out, chain)
				}
				for i, uri := range chain {
					fmt.Fprintf(out, "%d. %s\n", i+1, uri)
				}
				return nil
			}

			type accountRow struct {
				URI       string `json:"uri"`
				DebtorURI string `json:"debtorUri"`
				Name      string `json:"debtorName,omitempty"`
				Balance   string `json:"balance"`
			}
			var rows []accountRow
			for _, uri := range accounts.AccountURIs() {
				row := accountRow{URI: uri}
				acc, ok := accounts.Object(uri).(*models.Account)
				if !ok {
					continue
				}
				row.DebtorURI = acc.Debtor.URI
				var principal int64
				if l, ok := accounts.Object(acc.Ledger.URI).(*models.AccountLedger); ok {
					principal = l.Principal
				}
				if d, ok := accounts.Object(acc.Display.URI).(*models.AccountDisplay); ok {
					if d.DebtorName != nil {
						row.Name = *d.DebtorName
					}
					row.Balance = common.FormatAmount(principal, d.AmountDivisor, d.DecimalPlaces, d.Unit)
				} else {
					row.Balance = strconv.FormatInt(principal, 10)
				}
				rows = append(rows, row)
			}

			if rootOpts.Format == "json" {
				return writeJSON(out, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No accounts")
				return nil
			}
			for _, r := range rows {
				fmt.Fprintf(out, "%-30s %20s  %s\n  %s\n", r.Name, r.Balance, r.DebtorURI, r.URI)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&followPeg, "follow-peg", "", "print the peg chain that starts at this account")
	return cmd
}
