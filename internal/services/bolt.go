package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MegaGrindStone/typewriter-chat/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB persists the reveal settings in a single BoltDB file. Conversation turns live only in
// memory for the lifetime of the process.
type BoltDB struct {
	db *bolt.DB
}

var (
	settingsBucket = []byte("settings")
	settingsKey    = []byte("reveal")
)

// NewBoltDB opens or creates the database at path and makes sure the settings bucket exists.
// The file is created with 0600 permissions.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(settingsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create settings bucket: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Settings returns the stored reveal settings, or the defaults if none were saved yet.
func (b BoltDB) Settings(context.Context) (models.Settings, error) {
	settings := models.DefaultSettings()
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(settingsBucket).Get(settingsKey)
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &settings); err != nil {
			return fmt.Errorf("failed to unmarshal settings: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Settings{}, err
	}
	return settings, nil
}

// SaveSettings replaces the stored reveal settings. Validation is the caller's job.
func (b BoltDB) SaveSettings(_ context.Context, settings models.Settings) error {
	v, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(settingsBucket).Put(settingsKey, v)
	})
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}
