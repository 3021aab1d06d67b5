package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/database"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
)

const accountFeed = `
userId: alice
accounts:
  - account:
      uri: acc-1
      debtor: {uri: debtor-1}
      display: {uri: acc-1/display}
      config: {uri: acc-1/config}
      knowledge: {uri: acc-1/knowledge}
      exchange: {uri: acc-1/exchange}
      info: {uri: acc-1/info}
      ledger: {uri: acc-1/ledger}
      latestUpdateId: 1
    display:
      uri: acc-1/display
      account: {uri: acc-1}
      debtorName: Acme
      amountDivisor: "100"
      decimalPlaces: 2
      unit: EUR
      latestUpdateId: 1
    config:
      uri: acc-1/config
      account: {uri: acc-1}
      negligibleAmount: "0"
      latestUpdateId: 1
    knowledge:
      uri: acc-1/knowledge
      account: {uri: acc-1}
      interestRate: "0"
      latestUpdateId: 1
    exchange:
      uri: acc-1/exchange
      account: {uri: acc-1}
      latestUpdateId: 1
    info:
      uri: acc-1/info
      account: {uri: acc-1}
      interestRate: "0"
      latestUpdateId: 1
    ledger:
      uri: acc-1/ledger
      account: {uri: acc-1}
      latestUpdateId: 1
transfers:
  - uri: tr-1
    transferUuid: 3f0c2a4e-5f6b-4d6e-9a55-0b8a1c7d2e11
    initiatedAt: 2026-05-04T10:00:00Z
    amount: 500
    recipient: {uri: payee-1}
    noteFormat: PAYMENT0
    note: "INV-1\nACME\nrent"
    latestUpdateId: 1
`

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decode(t *testing.T, out string, v interface{}) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(out), &env), out)
	require.Equal(t, "ok", env.Status)
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func testDB(t *testing.T) string {
	t.Helper()
	t.Setenv("BUS_KIND", "memory")
	return filepath.Join(t.TempDir(), "wallet.db")
}

func TestInstallAndUninstallUser(t *testing.T) {
	db := testDB(t)

	out, err := execute(t, "--db", db, "--format", "json", "install-user", "alice", "--wallet", "https://example.com/wallet")
	require.NoError(t, err)
	var user models.User
	decode(t, out, &user)
	assert.Equal(t, "alice", user.Id)
	assert.Equal(t, "https://example.com/wallet", user.WalletURI)

	out, err = execute(t, "--db", db, "uninstall-user", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Uninstalled user alice")
}

func TestIngestFeed(t *testing.T) {
	db := testDB(t)
	feedPath := filepath.Join(t.TempDir(), "feed.yaml")
	require.NoError(t, os.WriteFile(feedPath, []byte(accountFeed), 0o600))

	_, err := execute(t, "--db", db, "install-user", "alice", "--wallet", "https://example.com/wallet")
	require.NoError(t, err)

	out, err := execute(t, "--db", db, "--format", "json", "ingest", "--feed", feedPath)
	require.NoError(t, err)
	var stats struct {
		Batches   int
		Applied   int
		Transfers int
		Failed    int
	}
	decode(t, out, &stats)
	assert.Equal(t, 1, stats.Batches)
	assert.Equal(t, 1, stats.Applied)
	assert.Equal(t, 1, stats.Transfers)
	assert.Zero(t, stats.Failed)

	out, err = execute(t, "--db", db, "--format", "json", "accounts")
	require.NoError(t, err)
	var accounts []struct {
		URI        string `json:"uri"`
		DebtorURI  string `json:"debtorUri"`
		DebtorName string `json:"debtorName"`
		Balance    string `json:"balance"`
	}
	decode(t, out, &accounts)
	require.Len(t, accounts, 1)
	assert.Equal(t, "acc-1", accounts[0].URI)
	assert.Equal(t, "debtor-1", accounts[0].DebtorURI)
	assert.Equal(t, "Acme", accounts[0].DebtorName)
	assert.Equal(t, "0.00 EUR", accounts[0].Balance)

	out, err = execute(t, "--db", db, "--format", "json", "transfers", "--user", "alice")
	require.NoError(t, err)
	var rows []struct {
		URI   string `json:"uri"`
		State string `json:"state"`
	}
	decode(t, out, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "tr-1", rows[0].URI)
	assert.Equal(t, "delayed", rows[0].State)

	// Ingesting again merges into the same records.
	_, err = execute(t, "--db", db, "ingest", "--feed", feedPath)
	require.NoError(t, err)
	out, err = execute(t, "--db", db, "--format", "json", "transfers", "--user", "alice")
	require.NoError(t, err)
	decode(t, out, &rows)
	assert.Len(t, rows, 1)
}

func TestIngestUnknownUser(t *testing.T) {
	db := testDB(t)
	feedPath := filepath.Join(t.TempDir(), "feed.yaml")
	require.NoError(t, os.WriteFile(feedPath, []byte(accountFeed), 0o600))

	_, err := execute(t, "--db", db, "ingest", "--feed", feedPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestActionsListAndRemove(t *testing.T) {
	db := testDB(t)
	_, err := execute(t, "--db", db, "install-user", "alice", "--wallet", "https://example.com/wallet")
	require.NoError(t, err)

	ctx := context.Background()
	service, err := database.NewService(ctx, models.DatabaseConfig{
		Path: db, MaxOpenConns: 1, MaxIdleConns: 1, PingTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	var ids []int64
	for _, uri := range []string{"acc-1", "acc-2"} {
		id, err := service.CreateAction(ctx, &models.Action{
			UserID:     "alice",
			CreatedAt:  time.Now(),
			ActionType: models.ActionUpdatePolicy,
			UpdatePolicy: &models.UpdatePolicyAction{
				AccountURI: uri,
			},
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	service.Close()

	out, err := execute(t, "--db", db, "--format", "json", "actions", "--user", "alice", "--latest-first")
	require.NoError(t, err)
	var actions []models.Action
	decode(t, out, &actions)
	require.Len(t, actions, 2)
	assert.Equal(t, ids[1], actions[0].ActionID)

	out, err = execute(t, "--db", db, "actions", "--user", "alice", "--remove", strconv.FormatInt(ids[0], 10))
	require.NoError(t, err)
	assert.NotContains(t, out, "acc-1")
	assert.Contains(t, out, "acc-2")
}

func TestTasksAcrossUsers(t *testing.T) {
	db := testDB(t)
	for _, user := range []string{"alice", "bob"} {
		_, err := execute(t, "--db", db, "install-user", user, "--wallet", "https://example.com/"+user)
		require.NoError(t, err)
	}

	ctx := context.Background()
	service, err := database.NewService(ctx, models.DatabaseConfig{
		Path: db, MaxOpenConns: 1, MaxIdleConns: 1, PingTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	for _, user := range []string{"alice", "bob"} {
		_, err := service.PutTask(ctx, &models.Task{
			UserID:       user,
			TaskType:     models.TaskDeleteTransfer,
			ScheduledFor: time.Now().Add(time.Hour),
			TransferURI:  "https://example.com/" + user + "/transfers/1",
		})
		require.NoError(t, err)
	}
	service.Close()

	out, err := execute(t, "--db", db, "--format", "json", "tasks")
	require.NoError(t, err)
	var tasks []models.Task
	decode(t, out, &tasks)
	assert.Len(t, tasks, 2)

	out, err = execute(t, "--db", db, "--format", "json", "tasks", "--user", "bob")
	require.NoError(t, err)
	decode(t, out, &tasks)
	require.Len(t, tasks, 1)
	assert.Equal(t, "bob", tasks[0].UserID)

	out, err = execute(t, "--db", db, "tasks", "--user", "alice", "--within", "1m")
	require.NoError(t, err)
	assert.Contains(t, out, "No scheduled tasks")
}

func TestDeleteAccount(t *testing.T) {
	db := testDB(t)
	feedPath := filepath.Join(t.TempDir(), "feed.yaml")
	require.NoError(t, os.WriteFile(feedPath, []byte(accountFeed), 0o600))

	_, err := execute(t, "--db", db, "install-user", "alice", "--wallet", "https://example.com/wallet")
	require.NoError(t, err)
	_, err = execute(t, "--db", db, "ingest", "--feed", feedPath)
	require.NoError(t, err)

	_, err = execute(t, "--db", db, "delete-account", "--user", "alice", "--account", "acc-9")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err := execute(t, "--db", db, "--format", "json", "delete-account", "--user", "alice", "--account", "acc-1")
	require.NoError(t, err)
	var task models.Task
	decode(t, out, &task)
	assert.Equal(t, models.TaskDeleteAccount, task.TaskType)
	assert.Equal(t, "acc-1", task.AccountURI)

	out, err = execute(t, "--db", db, "--format", "json", "tasks", "--user", "alice", "--within", "0s")
	require.NoError(t, err)
	var tasks []models.Task
	decode(t, out, &tasks)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.TaskID, tasks[0].TaskID)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--db", testDB(t), "--format", "xml", "tasks", "--user", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "bad", errors.New("x"))))

	wrapped := WrapExitError(ExitFailure, "outer", NewExitError(ExitCommandError, "inner"))
	assert.Equal(t, "outer: inner", wrapped.Error())
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
}
