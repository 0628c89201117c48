package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.hackfix.me/roster/db/types"
)

// User is an account of the platform.
type User struct {
	ID           uint64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PublicID     string
	Name         string
	Email        string
	PasswordHash string
	// Roles holds the names of the roles assigned to the user, sorted.
	Roles []string
}

// Save stores the user data in the database. Roles are stored separately with
// AssignRoles.
func (u *User) Save(ctx context.Context, d types.Querier, update bool) error {
	timeNow := d.TimeNow().UTC()
	if update {
		var filter *types.Filter
		var filterStr string
		switch {
		case u.ID != 0:
			filter = &types.Filter{Where: "id = ?", Args: []any{u.ID}}
			filterStr = fmt.Sprintf("ID %d", u.ID)
		case u.Name != "":
			filter = &types.Filter{Where: "name = ?", Args: []any{u.Name}}
			filterStr = fmt.Sprintf("name '%s'", u.Name)
		default:
			return errors.New("must provide either a user name or ID to update")
		}

		args := append([]any{timeNow, u.Email, u.PasswordHash}, filter.Args...)
		updateStmt := fmt.Sprintf(`UPDATE users
			SET updated_at = ?, email = ?, password_hash = ?
			WHERE %s`, filter.Where)
		res, err := d.ExecContext(ctx, updateStmt, args...)
		if err != nil {
			return types.Err("user", filterStr, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed getting affected rows: %w", err)
		}
		if n == 0 {
			return types.NoResultError{ModelName: "user", ID: filterStr}
		}
		if n > 1 {
			return types.IntegrityError{Msg: fmt.Sprintf("updated %d users", n)}
		}
		u.UpdatedAt = timeNow
	} else {
		if u.Name == "" || u.PublicID == "" {
			return types.InvalidInputError{Msg: "user name and public ID must be set"}
		}
		insertStmt := `INSERT INTO users
		(created_at, updated_at, public_id, name, email, password_hash)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`
		err := d.QueryRowContext(ctx, insertStmt,
			timeNow, timeNow, u.PublicID, u.Name, u.Email, u.PasswordHash).Scan(&u.ID)
		if err != nil {
			return types.Err("user", fmt.Sprintf("name '%s'", u.Name), err)
		}
		u.CreatedAt = timeNow
		u.UpdatedAt = timeNow
	}

	return nil
}

// AssignRoles assigns the named roles to the user, which must already exist.
func (u *User) AssignRoles(ctx context.Context, d types.Querier, roleNames ...string) error {
	if u.ID == 0 {
		return types.InvalidInputError{Msg: "user ID must be set"}
	}

	for _, name := range roleNames {
		res, err := d.ExecContext(ctx, `INSERT INTO user_roles (user_id, role_id)
			SELECT ?, r.id FROM roles r WHERE r.name = ?`, u.ID, name)
		if err != nil {
			return types.Err("user role", fmt.Sprintf("'%s' for user '%s'", name, u.Name), err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed getting affected rows: %w", err)
		} else if n == 0 {
			return types.NoResultError{ModelName: "role", ID: fmt.Sprintf("name '%s'", name)}
		}
		u.Roles = append(u.Roles, name)
	}

	return nil
}

// Load the user data from the database. Either the user ID or Name must be set
// for the lookup.
func (u *User) Load(ctx context.Context, d types.Querier) error {
	if u.ID == 0 && u.Name == "" {
		return types.InvalidInputError{Msg: "either user ID or Name must be set"}
	}

	var filter *types.Filter
	var filterStr string
	if u.ID != 0 {
		filter = &types.Filter{Where: "u.id = ?", Args: []any{u.ID}}
		filterStr = fmt.Sprintf("ID %d", u.ID)
	} else {
		filter = &types.Filter{Where: "u.name = ?", Args: []any{u.Name}}
		filterStr = fmt.Sprintf("name '%s'", u.Name)
	}

	users, err := Users(ctx, d, filter)
	if err != nil {
		return err
	}

	if len(users) == 0 {
		return types.NoResultError{ModelName: "user", ID: filterStr}
	}

	// The unique constraint on both users.id and users.name should return only
	// a single result.
	if len(users) > 1 {
		return types.IntegrityError{Msg: fmt.Sprintf("users query returned %d users", len(users))}
	}
	*u = *users[0]

	return nil
}

// Delete removes the user data from the database. Either the user ID or Name
// must be set for the lookup. It returns an error if the user doesn't exist.
func (u *User) Delete(ctx context.Context, d types.Querier) error {
	if u.ID == 0 && u.Name == "" {
		return types.InvalidInputError{Msg: "either user ID or Name must be set"}
	}

	var filter *types.Filter
	var filterStr string
	if u.ID != 0 {
		filter = &types.Filter{Where: "id = ?", Args: []any{u.ID}}
		filterStr = fmt.Sprintf("ID %d", u.ID)
	} else {
		filter = &types.Filter{Where: "name = ?", Args: []any{u.Name}}
		filterStr = fmt.Sprintf("name '%s'", u.Name)
	}

	stmt := fmt.Sprintf(`DELETE FROM users WHERE %s`, filter.Where)

	res, err := d.ExecContext(ctx, stmt, filter.Args...)
	if err != nil {
		return types.Err("user", filterStr, err)
	}

	var n int64
	if n, err = res.RowsAffected(); err != nil {
		return fmt.Errorf("failed getting affected rows: %w", err)
	} else if n == 0 {
		return types.NoResultError{ModelName: "user", ID: filterStr}
	}

	return nil
}

// Users returns one or more users from the database, with their role names. An
// optional filter can be passed to limit the results.
func Users(ctx context.Context, d types.Querier, filter *types.Filter) ([]*User, error) {
	users, err := queryUsers(ctx, d, filter)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return users, nil
	}

	roles, err := userRoles(ctx, d, users)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		u.Roles = roles[u.ID]
	}

	return users, nil
}

func queryUsers(ctx context.Context, d types.Querier, filter *types.Filter) (users []*User, rerr error) {
	query := `SELECT u.id, u.created_at, u.updated_at, u.public_id, u.name,
			u.email, u.password_hash
		FROM users u %s
		ORDER BY u.id ASC`

	where := "1=1"
	args := []any{}
	if filter != nil {
		where = filter.Where
		args = filter.Args
	}

	query = fmt.Sprintf(query, fmt.Sprintf("WHERE %s", where))

	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.LoadError{ModelName: "users", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			rerr = fmt.Errorf("failed closing users rows: %w", err)
		}
	}()

	users = make([]*User, 0)
	for rows.Next() {
		var u User
		err = rows.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt, &u.PublicID, &u.Name,
			&u.Email, &u.PasswordHash)
		if err != nil {
			return nil, types.ScanError{ModelName: "user", Err: err}
		}
		users = append(users, &u)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over users rows: %w", err)
	}

	return users, nil
}

func userRoles(ctx context.Context, d types.Querier, users []*User) (roles map[uint64][]string, rerr error) {
	placeholders := make([]string, len(users))
	args := make([]any, len(users))
	for i, u := range users {
		placeholders[i] = "?"
		args[i] = u.ID
	}

	query := fmt.Sprintf(`SELECT ur.user_id, r.name
		FROM user_roles ur
		INNER JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id IN (%s)
		ORDER BY r.name ASC`, strings.Join(placeholders, ", "))

	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.LoadError{ModelName: "user roles", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			rerr = fmt.Errorf("failed closing user roles rows: %w", err)
		}
	}()

	roles = map[uint64][]string{}
	for rows.Next() {
		var (
			userID uint64
			name   string
		)
		if err = rows.Scan(&userID, &name); err != nil {
			return nil, types.ScanError{ModelName: "user role", Err: err}
		}
		roles[userID] = append(roles[userID], name)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over user roles rows: %w", err)
	}

	return roles, nil
}
