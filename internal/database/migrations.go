package database

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/kv"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationStripStoredCredentials = "2026-10-10_strip_stored_credentials"

	promptKeyPrefix     = "prompt:"
	credentialFieldName = "authPassword"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationStripStoredCredentials, apply: stripStoredCredentials},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// stripStoredCredentials removes admin credentials that earlier deployments
// persisted alongside prompt records. Rows that are not JSON objects are left
// untouched for the listing path to report.
func stripStoredCredentials(db *gorm.DB) error {
	var records []kv.Record
	if err := db.Where("entry_key LIKE ?", promptKeyPrefix+"%").Find(&records).Error; err != nil {
		return err
	}

	for _, record := range records {
		if !strings.HasPrefix(record.Key, promptKeyPrefix) {
			continue
		}
		cleaned, changed, err := stripCredentialField([]byte(record.Value))
		if err != nil {
			return err
		}
		if !changed {
			continue
		}
		if err := db.Model(&kv.Record{}).
			Where("entry_key = ?", record.Key).
			Update("entry_value", string(cleaned)).Error; err != nil {
			return err
		}
	}
	return nil
}

// stripCredentialField drops the credential field from a JSON object.
// changed is false for values without the field and for non-objects.
func stripCredentialField(raw []byte) (cleaned []byte, changed bool, err error) {
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil || fields == nil {
		return raw, false, nil
	}
	if _, ok := fields[credentialFieldName]; !ok {
		return raw, false, nil
	}
	delete(fields, credentialFieldName)
	cleaned, err = json.Marshal(fields)
	if err != nil {
		return nil, false, err
	}
	return cleaned, true, nil
}
