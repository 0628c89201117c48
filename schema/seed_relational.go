package schema

import (
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/bcrypt"

	"go.hackfix.me/roster/db/migrator"
	"go.hackfix.me/roster/db/models"
	"go.hackfix.me/roster/db/types"
)

//go:embed fixtures/users.json
var usersFixture []byte

// DefaultRoles are the roles created by the roles seeder.
var DefaultRoles = []models.Role{
	{Name: "admin", Permissions: []models.Permission{{Action: "*", Target: "*"}}},
	{Name: "member", Permissions: []models.Permission{
		{Action: "read", Target: "*"},
		{Action: "write", Target: "profile"},
	}},
	{Name: "viewer", Permissions: []models.Permission{
		{Action: "read", Target: "profile"},
		{Action: "read", Target: "settings"},
	}},
}

// UserFixture is a user created by the users seeder.
type UserFixture struct {
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

// UserFixtures returns the users created by the users seeder.
func UserFixtures() ([]UserFixture, error) {
	var fixtures []UserFixture
	if err := json.Unmarshal(usersFixture, &fixtures); err != nil {
		return nil, fmt.Errorf("failed decoding user fixtures: %w", err)
	}
	return fixtures, nil
}

func relationalSeeders(o *options) ([]migrator.Seeder[types.Querier], error) {
	fixtures, err := UserFixtures()
	if err != nil {
		return nil, err
	}

	return []migrator.Seeder[types.Querier]{
		{
			Name:     "users",
			Order:    2,
			Run:      seedUsers(o, fixtures),
			Rollback: unseedUsers(fixtures),
		},
		{
			Name:     "roles",
			Order:    1,
			Run:      seedRoles,
			Rollback: unseedRoles,
		},
	}, nil
}

func seedRoles(ctx context.Context, q types.Querier) error {
	for _, r := range DefaultRoles {
		if err := r.Save(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func unseedRoles(ctx context.Context, q types.Querier) error {
	for _, r := range DefaultRoles {
		role := models.Role{Name: r.Name}
		if err := role.Delete(ctx, q); err != nil && !isNoResult(err) {
			return err
		}
	}
	return nil
}

func seedUsers(o *options, fixtures []UserFixture) migrator.Func[types.Querier] {
	return func(ctx context.Context, q types.Querier) error {
		for _, f := range fixtures {
			password := ""
			if f.Name == "admin" {
				password = o.adminPassword
			}
			generated := password == ""
			if generated {
				var err error
				if password, err = randomToken(18); err != nil {
					return err
				}
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(password), o.bcryptCost)
			if err != nil {
				return fmt.Errorf("failed hashing password of user '%s': %w", f.Name, err)
			}
			publicID, err := randomToken(16)
			if err != nil {
				return err
			}

			user := &models.User{
				PublicID:     publicID,
				Name:         f.Name,
				Email:        f.Email,
				PasswordHash: string(hash),
			}
			if err = user.Save(ctx, q, false); err != nil {
				return err
			}
			if err = user.AssignRoles(ctx, q, f.Roles...); err != nil {
				return err
			}

			if f.Name == "admin" && generated {
				o.logger.Warn("generated admin password; store it now, it won't be shown again",
					"user", f.Name, "password", password)
			}
		}

		return nil
	}
}

func unseedUsers(fixtures []UserFixture) migrator.Func[types.Querier] {
	return func(ctx context.Context, q types.Querier) error {
		for _, f := range fixtures {
			user := &models.User{Name: f.Name}
			if err := user.Delete(ctx, q); err != nil && !isNoResult(err) {
				return err
			}
		}
		return nil
	}
}

// randomToken returns n random bytes encoded as base58.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed reading random bytes: %w", err)
	}
	return base58.Encode(b), nil
}

func isNoResult(err error) bool {
	var nrErr types.NoResultError
	return errors.As(err, &nrErr)
}
