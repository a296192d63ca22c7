package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"cececho/internal/logging"
	dbconfig "cececho/pkg/database"
	"cececho/pkg/interfaces"
	"cececho/pkg/types"
)

// Manager implements interfaces.DatabaseManager on SQLite.
// Reads run concurrently on the pool; every write goes through a single writer goroutine.
type Manager struct {
	db           *sqlx.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sqlx.DB) error
	result    chan error
}

var _ interfaces.DatabaseManager = (*Manager)(nil)

// NewManager opens the database, applies migrations and starts the writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sqlx.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	migrations := dbconfig.NewMigrationManager(db.DB, config.MigrationsPath)
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(db.DB).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	if err := dbconfig.ReserveGroupNames(db.DB, config.ReservedGroupNames...); err != nil {
		_ = db.Close()
		return nil, err
	}

	versions, err := migrations.AppliedVersions()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	logging.Info().
		Str("path", config.DatabasePath).
		Strs("migrations", versions).
		Msg("Database ready")

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if isBusy(err) {
				logging.Warn().Err(err).Dur("delay", m.config.BusyRetryDelay).Msg("Database busy, retrying write once")
				time.Sleep(m.config.BusyRetryDelay)
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			logging.Debug().Msg("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sqlx.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return errors.New("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("write operation timeout")
	case <-m.shutdown:
		return errors.New("database manager is shutting down")
	}

	select {
	case err := <-result:
		return err
	case <-timer.C:
		return errors.New("write operation timeout")
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintTrigger
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.ErrNotFound
	}
	return err
}

// casResult maps a zero-row conditional update to ErrNotFound or ErrVersionConflict.
func casResult(ctx context.Context, db *sqlx.DB, res sql.Result, table, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	var exists int
	if err := db.GetContext(ctx, &exists, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id); err != nil {
		return err
	}
	if exists == 0 {
		return interfaces.ErrNotFound
	}
	return interfaces.ErrVersionConflict
}

// Users

const userColumns = `id, username, first_name, last_name, role, department, registration_number,
	is_active, profile_picture, created_at`

// GetUser retrieves a user by ID
func (m *Manager) GetUser(ctx context.Context, id string) (*types.User, error) {
	var user types.User
	err := m.db.GetContext(ctx, &user, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// GetUsersByIDs resolves a batch of users; unknown ids are absent from the map.
func (m *Manager) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*types.User, error) {
	users := make(map[string]*types.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	query, args, err := sqlx.In("SELECT "+userColumns+" FROM users WHERE id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build user query: %w", err)
	}

	var rows []*types.User
	if err := m.db.SelectContext(ctx, &rows, m.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	for _, u := range rows {
		users[u.ID] = u
	}
	return users, nil
}

// CreateUser inserts an account record.
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO users (id, username, first_name, last_name, role, department,
				registration_number, is_active, profile_picture, created_at)
			VALUES (:id, :username, :first_name, :last_name, :role, :department,
				:registration_number, :is_active, :profile_picture, :created_at)
		`, user)
		if isUniqueViolation(err) {
			return interfaces.ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

// DeleteUser removes an account record.
func (m *Manager) DeleteUser(ctx context.Context, id string) error {
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		res, err := db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
}

// Groups

const groupColumns = `id, name, description, creator, members, admins, is_private, version, created_at, updated_at`

// GetGroup retrieves a group by ID
func (m *Manager) GetGroup(ctx context.Context, id string) (*types.Group, error) {
	var group types.Group
	err := m.db.GetContext(ctx, &group, "SELECT "+groupColumns+" FROM groups WHERE id = ?", id)
	if err != nil {
		return nil, notFound(err)
	}
	return &group, nil
}

// FindGroupByName matches the name case-insensitively, oldest group first.
func (m *Manager) FindGroupByName(ctx context.Context, name string) (*types.Group, error) {
	var group types.Group
	err := m.db.GetContext(ctx, &group,
		"SELECT "+groupColumns+" FROM groups WHERE lower(name) = lower(?) ORDER BY created_at ASC LIMIT 1",
		strings.TrimSpace(name))
	if err != nil {
		return nil, notFound(err)
	}
	return &group, nil
}

// ListGroupsForUser returns every group whose membership list contains userID.
func (m *Manager) ListGroupsForUser(ctx context.Context, userID string) ([]*types.Group, error) {
	var groups []*types.Group
	err := m.db.SelectContext(ctx, &groups, `
		SELECT `+groupColumns+` FROM groups
		WHERE EXISTS (
			SELECT 1 FROM json_each(groups.members)
			WHERE json_extract(json_each.value, '$.user') = ?
		)
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return groups, nil
}

// CreateGroup inserts a group at version 1.
func (m *Manager) CreateGroup(ctx context.Context, group *types.Group) error {
	now := time.Now().UTC()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = group.CreatedAt
	group.Version = 1

	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO groups (id, name, description, creator, members, admins, is_private, version, created_at, updated_at)
			VALUES (:id, :name, :description, :creator, :members, :admins, :is_private, :version, :created_at, :updated_at)
		`, group)
		if isUniqueViolation(err) {
			return interfaces.ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("failed to insert group: %w", err)
		}
		return nil
	})
}

// UpdateGroup writes the group only if the stored version still equals expectedVersion.
func (m *Manager) UpdateGroup(ctx context.Context, group *types.Group, expectedVersion int64) error {
	updatedAt := time.Now().UTC()

	err := m.executeWrite(ctx, func(db *sqlx.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE groups
			SET name = ?, description = ?, members = ?, admins = ?, is_private = ?,
				version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`, group.Name, group.Description, group.Members, group.Admins, group.IsPrivate,
			updatedAt, group.ID, expectedVersion)
		if isUniqueViolation(err) {
			return interfaces.ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("failed to update group: %w", err)
		}
		return casResult(ctx, db, res, "groups", group.ID)
	})
	if err != nil {
		return err
	}

	group.Version = expectedVersion + 1
	group.UpdatedAt = updatedAt
	return nil
}

// Calls

const callColumns = `id, caller, callee, group_id, call_type, status, meeting_id,
	start_time, end_time, duration, version, created_at, updated_at`

// CreateCall inserts a call at version 1.
func (m *Manager) CreateCall(ctx context.Context, call *types.Call) error {
	now := time.Now().UTC()
	if call.CreatedAt.IsZero() {
		call.CreatedAt = now
	}
	call.UpdatedAt = call.CreatedAt
	call.Version = 1

	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO calls (id, caller, callee, group_id, call_type, status, meeting_id,
				start_time, end_time, duration, version, created_at, updated_at)
			VALUES (:id, :caller, :callee, :group_id, :call_type, :status, :meeting_id,
				:start_time, :end_time, :duration, :version, :created_at, :updated_at)
		`, call)
		if isUniqueViolation(err) {
			return interfaces.ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("failed to insert call: %w", err)
		}
		return nil
	})
}

// GetCall retrieves a call by ID
func (m *Manager) GetCall(ctx context.Context, id string) (*types.Call, error) {
	var call types.Call
	err := m.db.GetContext(ctx, &call, "SELECT "+callColumns+" FROM calls WHERE id = ?", id)
	if err != nil {
		return nil, notFound(err)
	}
	return &call, nil
}

// UpdateCall writes the mutable call fields only if the stored version still equals expectedVersion.
func (m *Manager) UpdateCall(ctx context.Context, call *types.Call, expectedVersion int64) error {
	updatedAt := time.Now().UTC()

	err := m.executeWrite(ctx, func(db *sqlx.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE calls
			SET status = ?, meeting_id = ?, start_time = ?, end_time = ?, duration = ?,
				version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`, call.Status, call.MeetingID, call.StartTime, call.EndTime, call.Duration,
			updatedAt, call.ID, expectedVersion)
		if err != nil {
			return fmt.Errorf("failed to update call: %w", err)
		}
		return casResult(ctx, db, res, "calls", call.ID)
	})
	if err != nil {
		return err
	}

	call.Version = expectedVersion + 1
	call.UpdatedAt = updatedAt
	return nil
}

// Messages

const messageColumns = `id, sender, receiver, group_id, content, message_type, file_url,
	file_name, file_size, is_read, is_deleted, created_at`

// CreateMessage stores a chat message
func (m *Manager) CreateMessage(ctx context.Context, message *types.Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO messages (id, sender, receiver, group_id, content, message_type, file_url,
				file_name, file_size, is_read, is_deleted, created_at)
			VALUES (:id, :sender, :receiver, :group_id, :content, :message_type, :file_url,
				:file_name, :file_size, :is_read, :is_deleted, :created_at)
		`, message)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// ListGroupMessages returns the latest limit messages of a group in chronological order.
func (m *Manager) ListGroupMessages(ctx context.Context, groupID string, limit int) ([]*types.Message, error) {
	var messages []*types.Message
	err := m.db.SelectContext(ctx, &messages, `
		SELECT * FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE group_id = ? AND is_deleted = 0
			ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC
	`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query group messages: %w", err)
	}
	return messages, nil
}

// ListDirectMessages returns the latest limit messages exchanged between two users in chronological order.
func (m *Manager) ListDirectMessages(ctx context.Context, userA, userB string, limit int) ([]*types.Message, error) {
	var messages []*types.Message
	err := m.db.SelectContext(ctx, &messages, `
		SELECT * FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE is_deleted = 0 AND group_id IS NULL
				AND ((sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?))
			ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC
	`, userA, userB, userB, userA, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query direct messages: %w", err)
	}
	return messages, nil
}

// MarkDirectMessagesRead flags every unread message from senderID to receiverID as read.
func (m *Manager) MarkDirectMessagesRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	var updated int64
	err := m.executeWrite(ctx, func(db *sqlx.DB) error {
		result, err := db.ExecContext(ctx, `
			UPDATE messages SET is_read = 1
			WHERE receiver = ? AND sender = ? AND is_read = 0 AND group_id IS NULL
		`, receiverID, senderID)
		if err != nil {
			return fmt.Errorf("failed to mark messages read: %w", err)
		}
		updated, err = result.RowsAffected()
		return err
	})
	return updated, err
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM schema_migrations"); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer goroutine and closes the pool. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
