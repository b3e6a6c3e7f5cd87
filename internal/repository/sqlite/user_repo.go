package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prn-tf/tradernet-identity/internal/domain"
	"github.com/prn-tf/tradernet-identity/internal/repository"
)

// userRepository implements repository.UserRepository for SQLite.
type userRepository struct {
	db        *DB
	parseHash repository.HashParser
}

// NewUserRepository creates a new SQLite user repository. parseHash decodes
// stored credentials.
func NewUserRepository(db *DB, parseHash repository.HashParser) repository.UserRepository {
	return &userRepository{db: db, parseHash: parseHash}
}

const userColumns = `id, username, status, account_expiry, email, password_never_expires,
	last_login, incorrect_login_attempts, bypass_lockout, change_password_next_login,
	full_name, bypass_document_security, external_identity, created_at, updated_at`

// pendingRecord is a credential inserted in a transaction; its ID is
// assigned to the aggregate only after commit.
type pendingRecord struct {
	rec *domain.PasswordRecord
	id  int64
}

// Create creates a new user aggregate.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	var (
		id      int64
		pending []pendingRecord
	)

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO users (username, username_key, status, account_expiry, email,
				password_never_expires, last_login, incorrect_login_attempts, bypass_lockout,
				change_password_next_login, full_name, bypass_document_security,
				external_identity, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			user.Username,
			domain.NormalizeUsername(user.Username),
			int(user.Status),
			formatNullTime(user.AccountExpiry),
			user.Email,
			boolToInt(user.PasswordNeverExpires),
			formatNullTime(user.LastLogin),
			user.IncorrectLoginAttempts,
			boolToInt(user.BypassLockout),
			boolToInt(user.ChangePasswordNextLogin),
			user.FullName,
			boolToInt(user.BypassDocumentSecurity),
			boolToInt(user.ExternalIdentity),
			formatTime(user.CreatedAt),
			formatTime(user.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.NewDomainError(domain.ErrUserAlreadyExists, "username taken", user.Username)
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		if id, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}

		pending, err = r.saveRelations(ctx, tx, id, user)
		return err
	})
	if err != nil {
		return err
	}

	if err := user.AssignID(id); err != nil {
		return err
	}
	return assignPending(pending)
}

// GetByID retrieves a user aggregate by ID.
func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id, fmt.Sprint(id))
}

// GetByUsername retrieves a user aggregate by username, case-insensitively.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username_key = ?`,
		domain.NormalizeUsername(username), username)
}

func (r *userRepository) getOne(ctx context.Context, query string, arg any, resource string) (*domain.User, error) {
	user, err := scanUser(r.db.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewDomainError(domain.ErrUserNotFound, "no such user", resource)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	graph, err := loadGroupGraph(ctx, r.db.db)
	if err != nil {
		return nil, err
	}
	if err := r.loadRelations(ctx, r.db.db, user, graph); err != nil {
		return nil, err
	}
	return user, nil
}

// Update persists the user aggregate.
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	id, ok := user.ID.Value()
	if !ok {
		return fmt.Errorf("%w: user %s", repository.ErrUnsavedReference, user.Username)
	}
	user.UpdatedAt = time.Now().UTC()

	var pending []pendingRecord
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE users SET
				username = ?, username_key = ?, status = ?, account_expiry = ?, email = ?,
				password_never_expires = ?, last_login = ?, incorrect_login_attempts = ?,
				bypass_lockout = ?, change_password_next_login = ?, full_name = ?,
				bypass_document_security = ?, external_identity = ?, updated_at = ?
			WHERE id = ?`,
			user.Username,
			domain.NormalizeUsername(user.Username),
			int(user.Status),
			formatNullTime(user.AccountExpiry),
			user.Email,
			boolToInt(user.PasswordNeverExpires),
			formatNullTime(user.LastLogin),
			user.IncorrectLoginAttempts,
			boolToInt(user.BypassLockout),
			boolToInt(user.ChangePasswordNextLogin),
			user.FullName,
			boolToInt(user.BypassDocumentSecurity),
			boolToInt(user.ExternalIdentity),
			formatTime(user.UpdatedAt),
			id,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.NewDomainError(domain.ErrUserAlreadyExists, "username taken", user.Username)
			}
			return fmt.Errorf("failed to update user: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return domain.NewDomainError(domain.ErrUserNotFound, "no such user", user.Username)
		}

		for _, stmt := range []string{
			`DELETE FROM user_roles WHERE user_id = ?`,
			`DELETE FROM user_group_members WHERE user_id = ?`,
			`DELETE FROM user_properties WHERE user_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("failed to clear user relations: %w", err)
			}
		}

		if err := deleteRemovedCredentials(ctx, tx, id, user.Credentials()); err != nil {
			return err
		}

		pending, err = r.saveRelations(ctx, tx, id, user)
		return err
	})
	if err != nil {
		return err
	}
	return assignPending(pending)
}

// List returns users with pagination.
func (r *userRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	opts = opts.Normalize()

	where, args := "", []any{}
	if opts.Status != nil {
		where = " WHERE status = ?"
		args = append(args, int(*opts.Status))
	}

	var total int64
	if err := r.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	rows, err := r.db.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users`+where+` ORDER BY username_key LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	graph, err := loadGroupGraph(ctx, r.db.db)
	if err != nil {
		return nil, err
	}
	for _, user := range users {
		if err := r.loadRelations(ctx, r.db.db, user, graph); err != nil {
			return nil, err
		}
	}

	return &repository.ListResult[domain.User]{
		Items:  users,
		Total:  total,
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}, nil
}

// ExistsByUsername checks if a user with the given username exists.
func (r *userRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists int
	err := r.db.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username_key = ?)`,
		domain.NormalizeUsername(username),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return exists != 0, nil
}

// =============================================================================
// Aggregate mapping
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		id                                      int64
		username, email, fullName               string
		status, attempts                        int
		accountExpiry, lastLogin                sql.NullString
		neverExpires, bypassLockout, changeNext int
		bypassDocSecurity, externalID           int
		createdAt, updatedAt                    string
	)

	err := row.Scan(
		&id, &username, &status, &accountExpiry, &email, &neverExpires,
		&lastLogin, &attempts, &bypassLockout, &changeNext,
		&fullName, &bypassDocSecurity, &externalID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	user := domain.NewUser(username)
	if err := user.AssignID(id); err != nil {
		return nil, err
	}
	user.Status = domain.UserStatusFromCode(status)
	if user.AccountExpiry, err = parseNullTime(accountExpiry); err != nil {
		return nil, err
	}
	if user.LastLogin, err = parseNullTime(lastLogin); err != nil {
		return nil, err
	}
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	user.Email = email
	user.PasswordNeverExpires = neverExpires != 0
	user.IncorrectLoginAttempts = attempts
	user.BypassLockout = bypassLockout != 0
	user.ChangePasswordNextLogin = changeNext != 0
	user.FullName = fullName
	user.BypassDocumentSecurity = bypassDocSecurity != 0
	user.ExternalIdentity = externalID != 0
	return user, nil
}

// loadRelations attaches roles, groups, credentials and properties to user.
func (r *userRepository) loadRelations(ctx context.Context, q querier, user *domain.User, graph groupGraph) error {
	id := user.ID.Int64()

	// Roles
	rows, err := q.QueryContext(ctx, `
		SELECT r.id, r.name, r.created_at
		FROM roles r JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = ? ORDER BY r.name`, id)
	if err != nil {
		return fmt.Errorf("failed to load user roles: %w", err)
	}
	var roles []*domain.Role
	for rows.Next() {
		var (
			roleID    int64
			name      string
			createdAt string
		)
		if err := rows.Scan(&roleID, &name, &createdAt); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan user role: %w", err)
		}
		role, err := newRole(roleID, name, createdAt)
		if err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan user role: %w", err)
		}
		roles = append(roles, role)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, role := range roles {
		user.AddRole(role)
	}

	// Groups
	groupIDs, err := queryIDs(ctx, q, `SELECT group_id FROM user_group_members WHERE user_id = ? ORDER BY group_id`, id)
	if err != nil {
		return fmt.Errorf("failed to load user groups: %w", err)
	}
	for _, gid := range groupIDs {
		if g, ok := graph[gid]; ok {
			user.AddGroup(g)
		}
	}

	// Credentials, oldest first so equal timestamps keep insertion order.
	rows, err = q.QueryContext(ctx,
		`SELECT id, hash, last_changed FROM passwords WHERE user_id = ? ORDER BY last_changed, id`, id)
	if err != nil {
		return fmt.Errorf("failed to load user passwords: %w", err)
	}
	type storedCredential struct {
		id          int64
		hash        string
		lastChanged string
	}
	var creds []storedCredential
	for rows.Next() {
		var c storedCredential
		if err := rows.Scan(&c.id, &c.hash, &c.lastChanged); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan user password: %w", err)
		}
		creds = append(creds, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, c := range creds {
		hash, err := r.parseHash(c.hash)
		if err != nil {
			return fmt.Errorf("failed to decode password %d of user %d: %w", c.id, id, err)
		}
		lastChanged, err := parseTime(c.lastChanged)
		if err != nil {
			return fmt.Errorf("failed to decode password %d of user %d: %w", c.id, id, err)
		}
		user.RestoreCredential(c.id, hash, lastChanged)
	}

	// Properties
	rows, err = q.QueryContext(ctx,
		`SELECT name, value FROM user_properties WHERE user_id = ? ORDER BY rowid`, id)
	if err != nil {
		return fmt.Errorf("failed to load user properties: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return fmt.Errorf("failed to scan user property: %w", err)
		}
		user.SetProperty(name, value)
	}
	return rows.Err()
}

// saveRelations inserts role links, group links, properties and unsaved
// credentials of user.
func (r *userRepository) saveRelations(ctx context.Context, tx *sql.Tx, id int64, user *domain.User) ([]pendingRecord, error) {
	for _, role := range user.Roles() {
		roleID, ok := role.ID.Value()
		if !ok {
			return nil, fmt.Errorf("%w: role %s", repository.ErrUnsavedReference, role.Name)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)`, id, roleID); err != nil {
			if isForeignKeyViolation(err) {
				return nil, domain.NewDomainError(domain.ErrRoleNotFound, "role does not exist", role.Name)
			}
			return nil, fmt.Errorf("failed to link role: %w", err)
		}
	}

	for _, group := range user.Groups() {
		groupID, ok := group.ID.Value()
		if !ok {
			return nil, fmt.Errorf("%w: group %s", repository.ErrUnsavedReference, group.Name)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_group_members (user_id, group_id) VALUES (?, ?)`, id, groupID); err != nil {
			if isForeignKeyViolation(err) {
				return nil, domain.NewDomainError(domain.ErrGroupNotFound, "group does not exist", group.Name)
			}
			return nil, fmt.Errorf("failed to link group: %w", err)
		}
	}

	for _, p := range user.Properties() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_properties (user_id, name, name_key, value) VALUES (?, ?, ?, ?)`,
			id, p.Name, domain.PropertyKey(p.Name), p.Value); err != nil {
			return nil, fmt.Errorf("failed to save property: %w", err)
		}
	}

	var pending []pendingRecord
	for _, rec := range user.Credentials() {
		if rec.ID.IsAssigned() {
			continue
		}
		result, err := tx.ExecContext(ctx,
			`INSERT INTO passwords (user_id, hash, last_changed) VALUES (?, ?, ?)`,
			id, rec.Hash().Encoded(), formatTime(rec.LastChanged()))
		if err != nil {
			return nil, fmt.Errorf("failed to save password: %w", err)
		}
		recID, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to get last insert ID: %w", err)
		}
		pending = append(pending, pendingRecord{rec: rec, id: recID})
	}
	return pending, nil
}

// deleteRemovedCredentials deletes stored credentials of user id that are no
// longer in the aggregate's history.
func deleteRemovedCredentials(ctx context.Context, tx *sql.Tx, id int64, kept []*domain.PasswordRecord) error {
	stored, err := queryIDs(ctx, tx, `SELECT id FROM passwords WHERE user_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to load stored passwords: %w", err)
	}

	keep := make(map[int64]struct{}, len(kept))
	for _, rec := range kept {
		if recID, ok := rec.ID.Value(); ok {
			keep[recID] = struct{}{}
		}
	}

	for _, storedID := range stored {
		if _, ok := keep[storedID]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM passwords WHERE id = ?`, storedID); err != nil {
			return fmt.Errorf("failed to delete password: %w", err)
		}
	}
	return nil
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func assignPending(pending []pendingRecord) error {
	for _, p := range pending {
		if err := p.rec.AssignID(p.id); err != nil {
			return err
		}
	}
	return nil
}
