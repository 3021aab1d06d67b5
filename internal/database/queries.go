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

package database

const schema = `
	-- Installed users; every other table is scoped by user_id
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		wallet_uri TEXT NOT NULL,
		installed_at INTEGER NOT NULL
	);

	-- Mirrored server objects, one row per URI
	CREATE TABLE IF NOT EXISTS objects (
		uri TEXT PRIMARY KEY,
		object_type TEXT NOT NULL,
		user_id TEXT NOT NULL,
		account_uri TEXT,
		debtor_uri TEXT,
		latest_update_id INTEGER NOT NULL,
		data BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_objects_account ON objects(account_uri);
	CREATE INDEX IF NOT EXISTS idx_objects_type ON objects(object_type);
	-- One account per debtor and user
	CREATE UNIQUE INDEX IF NOT EXISTS idx_objects_user_debtor ON objects(user_id, debtor_uri)
		WHERE debtor_uri IS NOT NULL;

	-- Highest update id at which an object was deleted
	CREATE TABLE IF NOT EXISTS tombstones (
		uri TEXT PRIMARY KEY,
		object_type TEXT NOT NULL,
		latest_update_id INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS actions (
		action_id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		action_type TEXT NOT NULL,
		account_uri TEXT,
		reuse_key TEXT,
		data BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_actions_user_created ON actions(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_actions_reuse ON actions(user_id, action_type, reuse_key);
	CREATE INDEX IF NOT EXISTS idx_actions_account ON actions(account_uri);

	CREATE TABLE IF NOT EXISTS tasks (
		task_id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		task_type TEXT NOT NULL,
		target_key TEXT NOT NULL,
		account_uri TEXT,
		scheduled_for INTEGER NOT NULL,
		backoff_seconds INTEGER NOT NULL DEFAULT 0,
		data BLOB NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_target ON tasks(user_id, task_type, target_key);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_scheduled ON tasks(user_id, scheduled_for);
	CREATE INDEX IF NOT EXISTS idx_tasks_account ON tasks(account_uri);

	-- Transfers outlive the server resource; time is the tie-broken ordering key
	CREATE TABLE IF NOT EXISTS transfers (
		uri TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		time INTEGER NOT NULL,
		latest_update_id INTEGER NOT NULL,
		data BLOB NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_transfers_user_time ON transfers(user_id, time);
`

const (
	// User queries
	queryInsertUser = `
		INSERT INTO users (id, wallet_uri, installed_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET wallet_uri = excluded.wallet_uri`

	queryGetUsers = `
		SELECT id, wallet_uri, installed_at
		FROM users
		ORDER BY installed_at, id`

	queryGetUserById = `
		SELECT id, wallet_uri, installed_at
		FROM users
		WHERE id = ?`

	queryDeleteUser = `DELETE FROM users WHERE id = ?`

	// Object queries
	queryGetObject = `
		SELECT object_type, user_id, latest_update_id, data
		FROM objects
		WHERE uri = ?`

	queryUpsertObject = `
		INSERT INTO objects (uri, object_type, user_id, account_uri, debtor_uri, latest_update_id, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			latest_update_id = excluded.latest_update_id,
			data = excluded.data`

	queryDeleteObject = `DELETE FROM objects WHERE uri = ?`

	queryGetTombstone = `SELECT latest_update_id FROM tombstones WHERE uri = ?`

	// Update ids are uint64 stored as INTEGER, so SQL ordering is wrong above
	// 2^63. Callers compare in Go and only ever raise the tombstone.
	queryUpsertTombstone = `
		INSERT INTO tombstones (uri, object_type, latest_update_id) VALUES (?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			object_type = excluded.object_type,
			latest_update_id = excluded.latest_update_id`

	queryDeleteTombstone = `DELETE FROM tombstones WHERE uri = ?`

	queryFindAccountByDebtor = `
		SELECT uri
		FROM objects
		WHERE user_id = ? AND debtor_uri = ? AND object_type = 'Account'`

	queryGetObjectsByAccount = `
		SELECT uri, object_type, latest_update_id
		FROM objects
		WHERE account_uri = ? AND object_type = ?`

	queryGetObjectsByType = `
		SELECT object_type, data
		FROM objects
		WHERE object_type = ?
		ORDER BY uri`

	queryGetOwnedObjectsByType = `
		SELECT user_id, data
		FROM objects
		WHERE object_type = ?`

	queryGetUserObjects = `
		SELECT uri, object_type, latest_update_id
		FROM objects
		WHERE user_id = ?`

	// Action queries
	queryInsertAction = `
		INSERT INTO actions (user_id, created_at, action_type, account_uri, reuse_key, data)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryGetAction = `SELECT data FROM actions WHERE action_id = ?`

	queryUpdateActionData = `UPDATE actions SET data = ? WHERE action_id = ?`

	queryUpdateAction = `
		UPDATE actions
		SET user_id = ?, created_at = ?, action_type = ?, account_uri = ?, reuse_key = ?, data = ?
		WHERE action_id = ?`

	queryDeleteAction = `DELETE FROM actions WHERE action_id = ?`

	queryFindReusableAction = `
		SELECT action_id, data
		FROM actions
		WHERE user_id = ? AND action_type = ? AND reuse_key = ?
		ORDER BY action_id
		LIMIT 1`

	queryDeleteAccountActions = `DELETE FROM actions WHERE account_uri = ?`

	queryDeleteUserActions = `DELETE FROM actions WHERE user_id = ?`

	// Task queries
	queryFindTask = `
		SELECT task_id
		FROM tasks
		WHERE user_id = ? AND task_type = ? AND target_key = ?`

	queryInsertTask = `
		INSERT INTO tasks (user_id, task_type, target_key, account_uri, scheduled_for, backoff_seconds, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	queryRearmTask = `
		UPDATE tasks
		SET scheduled_for = ?, backoff_seconds = 0, data = ?
		WHERE task_id = ?`

	queryGetTask = `
		SELECT task_id, backoff_seconds, data
		FROM tasks
		WHERE task_id = ?`

	queryDueTasks = `
		SELECT task_id, scheduled_for, backoff_seconds, data
		FROM tasks
		WHERE user_id = ? AND scheduled_for <= ?
		ORDER BY scheduled_for, task_id
		LIMIT ?`

	queryRescheduleTask = `
		UPDATE tasks
		SET scheduled_for = ?, backoff_seconds = ?
		WHERE task_id = ?`

	queryDeleteTask = `DELETE FROM tasks WHERE task_id = ?`

	queryDeleteAccountTasks = `DELETE FROM tasks WHERE account_uri = ?`

	queryDeleteUserTasks = `DELETE FROM tasks WHERE user_id = ?`

	// Transfer queries
	queryGetTransfer = `SELECT data FROM transfers WHERE uri = ?`

	queryInsertTransfer = `
		INSERT INTO transfers (uri, user_id, time, latest_update_id, data)
		VALUES (?, ?, ?, ?, ?)`

	queryUpdateTransfer = `
		UPDATE transfers
		SET latest_update_id = ?, data = ?
		WHERE uri = ?`

	queryListTransfers = `
		SELECT data
		FROM transfers
		WHERE user_id = ?
		ORDER BY time DESC
		LIMIT ?`

	queryDeleteUserTransfers = `DELETE FROM transfers WHERE user_id = ?`
)
