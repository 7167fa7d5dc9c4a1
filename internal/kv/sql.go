package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("kv: database handle is required")

// Record is the relational row backing a single key.
type Record struct {
	Key              string `gorm:"column:entry_key;primaryKey;size:512;not null"`
	Value            string `gorm:"column:entry_value;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "kv_entries"
}

// SQLStore implements Store on a gorm database. Read-modify-write paths run
// in transactions, so the pool must serialize writers (sqlite with a single
// open connection does).
type SQLStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewSQLStore wraps a migrated gorm handle.
func NewSQLStore(db *gorm.DB, clock func() time.Time) (*SQLStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	return &SQLStore{db: db, clock: clock}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	record, err := takeRecord(s.db.WithContext(ctx), key)
	if err != nil {
		return nil, err
	}
	return []byte(record.Value), nil
}

func (s *SQLStore) Put(ctx context.Context, key string, value []byte) error {
	return s.write(s.db.WithContext(ctx), key, value)
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&Record{}).Error
}

func (s *SQLStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	query := s.db.WithContext(ctx).Where("entry_key >= ?", prefix)
	if upper, ok := prefixUpperBound(prefix); ok {
		query = query.Where("entry_key < ?", upper)
	}

	var records []Record
	if err := query.Order("entry_key ASC").Find(&records).Error; err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(records))
	for _, record := range records {
		if !strings.HasPrefix(record.Key, prefix) {
			continue
		}
		entries = append(entries, Entry{Key: record.Key, Value: []byte(record.Value)})
	}
	return entries, nil
}

func (s *SQLStore) Increment(ctx context.Context, key string) (int64, error) {
	var next int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int64
		record, err := takeRecord(tx, key)
		switch {
		case errors.Is(err, ErrKeyNotFound):
			current = 0
		case err != nil:
			return err
		default:
			current, err = strconv.ParseInt(strings.TrimSpace(record.Value), 10, 64)
			if err != nil {
				return fmt.Errorf("kv: value under %s is not an integer: %w", key, err)
			}
		}
		next = current + 1
		return s.write(tx, key, []byte(strconv.FormatInt(next, 10)))
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *SQLStore) Update(ctx context.Context, key string, mutate MutateFunc) ([]byte, error) {
	var written []byte
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current []byte
		found := true
		record, err := takeRecord(tx, key)
		if errors.Is(err, ErrKeyNotFound) {
			found = false
		} else if err != nil {
			return err
		} else {
			current = []byte(record.Value)
		}

		next, err := mutate(current, found)
		if err != nil {
			return err
		}
		if err := s.write(tx, key, next); err != nil {
			return err
		}
		written = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}

func (s *SQLStore) write(db *gorm.DB, key string, value []byte) error {
	record := Record{
		Key:              key,
		Value:            string(value),
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"entry_value", "updated_at_s"}),
	}).Create(&record).Error
}

func takeRecord(db *gorm.DB, key string) (Record, error) {
	var record Record
	err := db.Where("entry_key = ?", key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrKeyNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return record, nil
}

// prefixUpperBound returns the smallest string greater than every string
// sharing prefix, or false when no such bound exists.
func prefixUpperBound(prefix string) (string, bool) {
	bytes := []byte(prefix)
	for index := len(bytes) - 1; index >= 0; index-- {
		if bytes[index] < 0xff {
			bytes[index]++
			return string(bytes[:index+1]), true
		}
	}
	return "", false
}
