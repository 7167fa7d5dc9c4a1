package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/kv"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Applied redis migrations are recorded as marker keys holding the unix
// time they ran.
const redisMigrationKeyPrefix = "db_migrations:"

var errNothingToStrip = errors.New("record carries no credential")

type redisMigrationDefinition struct {
	name  string
	apply func(context.Context, kv.Store) error
}

func applyRedisMigrations(ctx context.Context, client *redis.Client, logger *zap.Logger) error {
	store, err := kv.NewRedisStore(client)
	if err != nil {
		return err
	}
	migrations := []redisMigrationDefinition{
		{name: migrationStripStoredCredentials, apply: stripStoredCredentialsFromStore},
	}

	for _, migration := range migrations {
		marker := redisMigrationKeyPrefix + migration.name
		applied, err := client.Exists(ctx, marker).Result()
		if err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		if applied > 0 {
			continue
		}
		if err := migration.apply(ctx, store); err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		if err := client.Set(ctx, marker, time.Now().UTC().Unix(), 0).Err(); err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// stripStoredCredentialsFromStore rewrites each prompt record that still
// carries a credential, one atomic single-key update per record.
func stripStoredCredentialsFromStore(ctx context.Context, store kv.Store) error {
	entries, err := store.List(ctx, promptKeyPrefix)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		_, changed, err := stripCredentialField(entry.Value)
		if err != nil {
			return err
		}
		if !changed {
			continue
		}
		_, err = store.Update(ctx, entry.Key, func(current []byte, found bool) ([]byte, error) {
			if !found {
				return nil, errNothingToStrip
			}
			cleaned, changed, err := stripCredentialField(current)
			if err != nil {
				return nil, err
			}
			if !changed {
				return nil, errNothingToStrip
			}
			return cleaned, nil
		})
		if err != nil && !errors.Is(err, errNothingToStrip) {
			return err
		}
	}
	return nil
}
