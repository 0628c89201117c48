package schema

import (
	"context"
	"fmt"

	"go.hackfix.me/roster/db/migrator"
	"go.hackfix.me/roster/db/models"
	"go.hackfix.me/roster/docdb"
)

const seedSource = "seed"

// Capabilities are the action:target pairs resolved for every profile from
// the roles of its user.
var Capabilities = [][2]string{
	{"read", "profile"},
	{"write", "profile"},
	{"read", "settings"},
	{"write", "settings"},
	{"manage", "users"},
}

// GlobalSettingsID is the ID of the settings document created by the settings
// seeder.
const GlobalSettingsID = "global"

func documentSeeders(o *options) []migrator.Seeder[DocEnv] {
	return []migrator.Seeder[DocEnv]{
		{
			Name:     "profiles",
			Order:    1,
			Run:      seedProfiles(o),
			Rollback: unseedProfiles,
		},
		{
			Name:  "settings",
			Order: 2,
			Run: func(ctx context.Context, env DocEnv) error {
				return env.Store.Upsert(ctx, SettingsCollection, GlobalSettingsID, docdb.Document{
					"siteName":         "Roster",
					"defaultRole":      "viewer",
					"registrationOpen": false,
					"updatedAt":        o.timeNow().UTC(),
				})
			},
			Rollback: func(ctx context.Context, env DocEnv) error {
				return env.Store.Delete(ctx, SettingsCollection, GlobalSettingsID)
			},
		},
	}
}

// ProfileID returns the ID of the profile document of the user with userID.
func ProfileID(userID uint64) string {
	return fmt.Sprintf("user-%d", userID)
}

// seedProfiles writes one profile per relational user, and removes seeded
// profiles whose user no longer exists. Profiles are keyed by user ID, so
// running it again converges to the same state.
func seedProfiles(o *options) migrator.Func[DocEnv] {
	return func(ctx context.Context, env DocEnv) error {
		users, err := models.Users(ctx, env.SQL, nil)
		if err != nil {
			return err
		}
		roles, err := models.Roles(ctx, env.SQL, nil)
		if err != nil {
			return err
		}
		rolesByName := make(map[string]*models.Role, len(roles))
		for _, r := range roles {
			rolesByName[r.Name] = r
		}

		keep := make(map[string]struct{}, len(users))
		for _, u := range users {
			caps, err := capabilities(u, rolesByName)
			if err != nil {
				return err
			}
			id := ProfileID(u.ID)
			keep[id] = struct{}{}
			err = env.Store.Upsert(ctx, ProfilesCollection, id, docdb.Document{
				"userId":       u.ID,
				"publicId":     u.PublicID,
				"name":         u.Name,
				"email":        u.Email,
				"roles":        append([]string{}, u.Roles...),
				"capabilities": caps,
				"source":       seedSource,
				"updatedAt":    o.timeNow().UTC(),
			})
			if err != nil {
				return fmt.Errorf("failed writing profile of user '%s': %w", u.Name, err)
			}
		}

		existing, err := env.Store.Find(ctx, ProfilesCollection, map[string]any{"source": seedSource})
		if err != nil {
			return err
		}
		for _, doc := range existing {
			if _, ok := keep[doc.ID()]; ok {
				continue
			}
			o.logger.Debug("removing orphaned profile", "id", doc.ID())
			if err = env.Store.Delete(ctx, ProfilesCollection, doc.ID()); err != nil {
				return err
			}
		}

		return nil
	}
}

func unseedProfiles(ctx context.Context, env DocEnv) error {
	docs, err := env.Store.Find(ctx, ProfilesCollection, map[string]any{"source": seedSource})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err = env.Store.Delete(ctx, ProfilesCollection, doc.ID()); err != nil {
			return err
		}
	}
	return nil
}

func capabilities(u *models.User, roles map[string]*models.Role) ([]string, error) {
	caps := []string{}
	for _, c := range Capabilities {
		for _, name := range u.Roles {
			role, ok := roles[name]
			if !ok {
				continue
			}
			can, err := role.Can(c[0], c[1])
			if err != nil {
				return nil, err
			}
			if can {
				caps = append(caps, c[0]+":"+c[1])
				break
			}
		}
	}
	return caps, nil
}
