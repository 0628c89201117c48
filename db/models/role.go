package models

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zpatrick/rbac"

	"go.hackfix.me/roster/db/types"
)

// Permission grants actions matching the Action glob on targets matching the
// Target glob.
type Permission struct {
	Action string `json:"action"`
	Target string `json:"target"`
}

// Role is a named set of permissions assigned to users.
type Role struct {
	ID          uint64
	CreatedAt   time.Time
	Name        string
	Permissions []Permission
}

// Save stores a new role in the database.
func (r *Role) Save(ctx context.Context, d types.Querier) error {
	if r.Name == "" {
		return types.InvalidInputError{Msg: "role name must be set"}
	}

	perms, err := json.Marshal(r.Permissions)
	if err != nil {
		return fmt.Errorf("failed encoding permissions of role '%s': %w", r.Name, err)
	}

	timeNow := d.TimeNow().UTC()
	err = d.QueryRowContext(ctx,
		`INSERT INTO roles (created_at, name, permissions) VALUES (?, ?, ?) RETURNING id`,
		timeNow, r.Name, string(perms)).Scan(&r.ID)
	if err != nil {
		return types.Err("role", fmt.Sprintf("name '%s'", r.Name), err)
	}
	r.CreatedAt = timeNow

	return nil
}

// Load the role data from the database by its Name.
func (r *Role) Load(ctx context.Context, d types.Querier) error {
	if r.Name == "" {
		return types.InvalidInputError{Msg: "role name must be set"}
	}

	roles, err := Roles(ctx, d, types.NewFilter("r.name = ?", []any{r.Name}))
	if err != nil {
		return err
	}
	if len(roles) == 0 {
		return types.NoResultError{ModelName: "role", ID: fmt.Sprintf("name '%s'", r.Name)}
	}
	*r = *roles[0]

	return nil
}

// Delete removes the role from the database by its Name. Assignments to users
// are removed with it.
func (r *Role) Delete(ctx context.Context, d types.Querier) error {
	if r.Name == "" {
		return types.InvalidInputError{Msg: "role name must be set"}
	}

	filterStr := fmt.Sprintf("name '%s'", r.Name)
	res, err := d.ExecContext(ctx, `DELETE FROM roles WHERE name = ?`, r.Name)
	if err != nil {
		return types.Err("role", filterStr, err)
	}

	var n int64
	if n, err = res.RowsAffected(); err != nil {
		return fmt.Errorf("failed getting affected rows: %w", err)
	} else if n == 0 {
		return types.NoResultError{ModelName: "role", ID: filterStr}
	}

	return nil
}

// RBAC returns the role in the form used for permission checks.
func (r *Role) RBAC() rbac.Role {
	perms := make([]rbac.Permission, len(r.Permissions))
	for i, p := range r.Permissions {
		perms[i] = rbac.NewGlobPermission(p.Action, p.Target)
	}
	return rbac.Role{RoleID: r.Name, Permissions: perms}
}

// Can reports whether the role allows action on target.
func (r *Role) Can(action, target string) (bool, error) {
	ok, err := r.RBAC().Can(action, target)
	if err != nil {
		return false, fmt.Errorf("failed checking permission of role '%s': %w", r.Name, err)
	}
	return ok, nil
}

// Roles returns one or more roles from the database. An optional filter can be
// passed to limit the results.
func Roles(ctx context.Context, d types.Querier, filter *types.Filter) (roles []*Role, rerr error) {
	query := `SELECT r.id, r.created_at, r.name, r.permissions
		FROM roles r %s
		ORDER BY r.name ASC`

	where := "1=1"
	args := []any{}
	if filter != nil {
		where = filter.Where
		args = filter.Args
	}

	query = fmt.Sprintf(query, fmt.Sprintf("WHERE %s", where))

	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.LoadError{ModelName: "roles", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			rerr = fmt.Errorf("failed closing roles rows: %w", err)
		}
	}()

	roles = make([]*Role, 0)
	for rows.Next() {
		var (
			r     Role
			perms string
		)
		if err = rows.Scan(&r.ID, &r.CreatedAt, &r.Name, &perms); err != nil {
			return nil, types.ScanError{ModelName: "role", Err: err}
		}
		if err = json.Unmarshal([]byte(perms), &r.Permissions); err != nil {
			return nil, types.ScanError{ModelName: "role", Err: err}
		}
		roles = append(roles, &r)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over roles rows: %w", err)
	}

	return roles, nil
}
