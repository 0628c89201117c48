package schema

import (
	"context"

	"go.hackfix.me/roster/db/migrator"
	"go.hackfix.me/roster/docdb"
)

// Document collections.
const (
	ProfilesCollection = "profiles"
	SettingsCollection = "settings"
)

func documentMigrations() []migrator.Migration[docdb.Store] {
	return []migrator.Migration[docdb.Store]{
		{
			ID:   1,
			Name: "0001-create_profiles",
			Apply: func(ctx context.Context, s docdb.Store) error {
				err := s.DefineCollection(ctx, docdb.Collection{
					Name:   ProfilesCollection,
					Strict: true,
					Fields: []docdb.Field{
						{Name: "userId", Type: "int", Assert: "$value > 0"},
						{Name: "publicId", Type: "string"},
						{Name: "name", Type: "string"},
						{Name: "email", Type: "string"},
						{Name: "roles", Type: "array"},
						{Name: "capabilities", Type: "array"},
						{Name: "source", Type: "string"},
						{Name: "updatedAt", Type: "datetime"},
					},
				})
				if err != nil {
					return err
				}
				return s.DefineIndex(ctx, docdb.Index{
					Name:       "profiles_user_id_uq",
					Collection: ProfilesCollection,
					Fields:     []string{"userId"},
					Unique:     true,
				})
			},
			Rollback: func(ctx context.Context, s docdb.Store) error {
				return s.RemoveCollection(ctx, ProfilesCollection)
			},
		},
		{
			ID:   2,
			Name: "0002-create_settings",
			Apply: func(ctx context.Context, s docdb.Store) error {
				return s.DefineCollection(ctx, docdb.Collection{
					Name: SettingsCollection,
					Fields: []docdb.Field{
						{Name: "updatedAt", Type: "datetime"},
					},
				})
			},
			Rollback: func(ctx context.Context, s docdb.Store) error {
				return s.RemoveCollection(ctx, SettingsCollection)
			},
		},
	}
}
