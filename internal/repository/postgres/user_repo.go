package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/tradernet-identity/internal/domain"
	"github.com/prn-tf/tradernet-identity/internal/repository"
)

// userRepository implements repository.UserRepository.
type userRepository struct {
	db        *DB
	parseHash repository.HashParser
}

// NewUserRepository creates a new PostgreSQL user repository. parseHash
// decodes stored credentials.
func NewUserRepository(db *DB, parseHash repository.HashParser) repository.UserRepository {
	return &userRepository{db: db, parseHash: parseHash}
}

const userColumns = `id, username, status, account_expiry, email, password_never_expires,
	last_login, incorrect_login_attempts, bypass_lockout, change_password_next_login,
	full_name, bypass_document_security, external_identity, created_at, updated_at`

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

	err := r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO users (username, username_key, status, account_expiry, email,
				password_never_expires, last_login, incorrect_login_attempts, bypass_lockout,
				change_password_next_login, full_name, bypass_document_security,
				external_identity, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			RETURNING id`,
			user.Username,
			domain.NormalizeUsername(user.Username),
			int16(user.Status),
			user.AccountExpiry,
			user.Email,
			user.PasswordNeverExpires,
			user.LastLogin,
			user.IncorrectLoginAttempts,
			user.BypassLockout,
			user.ChangePasswordNextLogin,
			user.FullName,
			user.BypassDocumentSecurity,
			user.ExternalIdentity,
			user.CreatedAt,
			user.UpdatedAt,
		).Scan(&id)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.NewDomainError(domain.ErrUserAlreadyExists, "username taken", user.Username)
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		pending, err = saveRelations(ctx, tx, id, user)
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
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id, fmt.Sprint(id))
}

// GetByUsername retrieves a user aggregate by username, case-insensitively.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username_key = $1`,
		domain.NormalizeUsername(username), username)
}

func (r *userRepository) getOne(ctx context.Context, query string, arg any, resource string) (*domain.User, error) {
	rows, err := r.db.Pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewDomainError(domain.ErrUserNotFound, "no such user", resource)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	graph, err := loadGroupGraph(ctx, r.db.Pool)
	if err != nil {
		return nil, err
	}
	if err := r.loadRelations(ctx, r.db.Pool, user, graph); err != nil {
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
	err := r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE users SET
				username = $1, username_key = $2, status = $3, account_expiry = $4, email = $5,
				password_never_expires = $6, last_login = $7, incorrect_login_attempts = $8,
				bypass_lockout = $9, change_password_next_login = $10, full_name = $11,
				bypass_document_security = $12, external_identity = $13, updated_at = $14
			WHERE id = $15`,
			user.Username,
			domain.NormalizeUsername(user.Username),
			int16(user.Status),
			user.AccountExpiry,
			user.Email,
			user.PasswordNeverExpires,
			user.LastLogin,
			user.IncorrectLoginAttempts,
			user.BypassLockout,
			user.ChangePasswordNextLogin,
			user.FullName,
			user.BypassDocumentSecurity,
			user.ExternalIdentity,
			user.UpdatedAt,
			id,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.NewDomainError(domain.ErrUserAlreadyExists, "username taken", user.Username)
			}
			return fmt.Errorf("failed to update user: %w", err)
		}
		if result.RowsAffected() == 0 {
			return domain.NewDomainError(domain.ErrUserNotFound, "no such user", user.Username)
		}

		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM user_roles WHERE user_id = $1`, id)
		batch.Queue(`DELETE FROM user_group_members WHERE user_id = $1`, id)
		batch.Queue(`DELETE FROM user_properties WHERE user_id = $1`, id)
		batch.Queue(`DELETE FROM passwords WHERE user_id = $1 AND NOT (id = ANY($2))`, id, storedCredentialIDs(user))
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to clear user relations: %w", err)
		}

		pending, err = saveRelations(ctx, tx, id, user)
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
		where = " WHERE status = $1"
		args = append(args, int16(*opts.Status))
	}

	var total int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY username_key LIMIT $%d OFFSET $%d`,
		userColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.Pool.Query(ctx, query, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users, err := pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, fmt.Errorf("failed to scan users: %w", err)
	}

	graph, err := loadGroupGraph(ctx, r.db.Pool)
	if err != nil {
		return nil, err
	}
	for _, user := range users {
		if err := r.loadRelations(ctx, r.db.Pool, user, graph); err != nil {
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
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username_key = $1)`,
		domain.NormalizeUsername(username),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return exists, nil
}

func scanUser(row pgx.CollectableRow) (*domain.User, error) {
	var (
		id        int64
		username  string
		status    int16
		createdAt time.Time
		updatedAt time.Time
	)
	u := &domain.User{}
	err := row.Scan(
		&id, &username, &status, &u.AccountExpiry, &u.Email, &u.PasswordNeverExpires,
		&u.LastLogin, &u.IncorrectLoginAttempts, &u.BypassLockout, &u.ChangePasswordNextLogin,
		&u.FullName, &u.BypassDocumentSecurity, &u.ExternalIdentity, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	user := domain.NewUser(username)
	if err := user.AssignID(id); err != nil {
		return nil, err
	}
	user.Status = domain.UserStatusFromCode(int(status))
	user.AccountExpiry = utcPtr(u.AccountExpiry)
	user.Email = u.Email
	user.PasswordNeverExpires = u.PasswordNeverExpires
	user.LastLogin = utcPtr(u.LastLogin)
	user.IncorrectLoginAttempts = u.IncorrectLoginAttempts
	user.BypassLockout = u.BypassLockout
	user.ChangePasswordNextLogin = u.ChangePasswordNextLogin
	user.FullName = u.FullName
	user.BypassDocumentSecurity = u.BypassDocumentSecurity
	user.ExternalIdentity = u.ExternalIdentity
	user.CreatedAt = createdAt.UTC()
	user.UpdatedAt = updatedAt.UTC()
	return user, nil
}

// loadRelations attaches roles, groups, credentials and properties to user.
func (r *userRepository) loadRelations(ctx context.Context, q Querier, user *domain.User, graph groupGraph) error {
	id := user.ID.Int64()

	rows, err := q.Query(ctx, `
		SELECT r.id, r.name, r.created_at
		FROM roles r JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1 ORDER BY r.name`, id)
	if err != nil {
		return fmt.Errorf("failed to load user roles: %w", err)
	}
	roles, err := pgx.CollectRows(rows, scanRole)
	if err != nil {
		return fmt.Errorf("failed to scan user roles: %w", err)
	}
	for _, role := range roles {
		user.AddRole(role)
	}

	rows, err = q.Query(ctx, `SELECT group_id FROM user_group_members WHERE user_id = $1 ORDER BY group_id`, id)
	if err != nil {
		return fmt.Errorf("failed to load user groups: %w", err)
	}
	groupIDs, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return fmt.Errorf("failed to scan user groups: %w", err)
	}
	for _, gid := range groupIDs {
		if g, ok := graph[gid]; ok {
			user.AddGroup(g)
		}
	}

	// Oldest first so equal timestamps keep insertion order.
	rows, err = q.Query(ctx,
		`SELECT id, hash, last_changed FROM passwords WHERE user_id = $1 ORDER BY last_changed, id`, id)
	if err != nil {
		return fmt.Errorf("failed to load user passwords: %w", err)
	}
	var (
		credID      int64
		encoded     string
		lastChanged time.Time
	)
	_, err = pgx.ForEachRow(rows, []any{&credID, &encoded, &lastChanged}, func() error {
		hash, err := r.parseHash(encoded)
		if err != nil {
			return fmt.Errorf("failed to decode password %d of user %d: %w", credID, id, err)
		}
		user.RestoreCredential(credID, hash, lastChanged.UTC())
		return nil
	})
	if err != nil {
		return err
	}

	rows, err = q.Query(ctx,
		`SELECT name, value FROM user_properties WHERE user_id = $1 ORDER BY position`, id)
	if err != nil {
		return fmt.Errorf("failed to load user properties: %w", err)
	}
	var name, value string
	_, err = pgx.ForEachRow(rows, []any{&name, &value}, func() error {
		user.SetProperty(name, value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan user properties: %w", err)
	}
	return nil
}

// saveRelations inserts role links, group links, properties and unsaved
// credentials of user.
func saveRelations(ctx context.Context, tx pgx.Tx, id int64, user *domain.User) ([]pendingRecord, error) {
	for _, role := range user.Roles() {
		roleID, ok := role.ID.Value()
		if !ok {
			return nil, fmt.Errorf("%w: role %s", repository.ErrUnsavedReference, role.Name)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, id, roleID); err != nil {
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
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_group_members (user_id, group_id) VALUES ($1, $2)`, id, groupID); err != nil {
			if isForeignKeyViolation(err) {
				return nil, domain.NewDomainError(domain.ErrGroupNotFound, "group does not exist", group.Name)
			}
			return nil, fmt.Errorf("failed to link group: %w", err)
		}
	}

	for _, p := range user.Properties() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_properties (user_id, name, name_key, value) VALUES ($1, $2, $3, $4)`,
			id, p.Name, domain.PropertyKey(p.Name), p.Value); err != nil {
			return nil, fmt.Errorf("failed to save property: %w", err)
		}
	}

	var pending []pendingRecord
	for _, rec := range user.Credentials() {
		if rec.ID.IsAssigned() {
			continue
		}
		var recID int64
		err := tx.QueryRow(ctx,
			`INSERT INTO passwords (user_id, hash, last_changed) VALUES ($1, $2, $3) RETURNING id`,
			id, rec.Hash().Encoded(), rec.LastChanged(),
		).Scan(&recID)
		if err != nil {
			return nil, fmt.Errorf("failed to save password: %w", err)
		}
		pending = append(pending, pendingRecord{rec: rec, id: recID})
	}
	return pending, nil
}

// storedCredentialIDs returns the IDs of credentials already persisted.
func storedCredentialIDs(user *domain.User) []int64 {
	ids := []int64{}
	for _, rec := range user.Credentials() {
		if id, ok := rec.ID.Value(); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func assignPending(pending []pendingRecord) error {
	for _, p := range pending {
		if err := p.rec.AssignID(p.id); err != nil {
			return err
		}
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
