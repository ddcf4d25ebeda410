// Package secretstore keeps the device id issued at login in a Badger
// database, optionally encrypted at rest, so later runs present the same
// device.
package secretstore

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

const deviceKeyPrefix = "device/"

// Store implements session.ArtifactStore. Encryption comes from Badger's own
// options, not from this wrapper.
type Store struct {
	db *badger.DB
}

type OpenOptions struct {
	Path          string
	EncryptionKey []byte // 32 bytes; nil opens the database unencrypted
	InMemory      bool
}

func Open(opts OpenOptions) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if strings.TrimSpace(opts.Path) == "" {
			return nil, errors.New("secretstore: path is required")
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithLogger(nil)
	if len(opts.EncryptionKey) > 0 {
		// encrypted workloads need an index cache
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(16 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("secretstore: open: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func deviceKey(clientID string) ([]byte, error) {
	id := strings.TrimSpace(clientID)
	if id == "" {
		return nil, errors.New("secretstore: client id is empty")
	}
	return []byte(deviceKeyPrefix + id), nil
}

// LoadDeviceID returns "" with no error when nothing is stored yet.
func (s *Store) LoadDeviceID(_ context.Context, clientID string) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("secretstore: not opened")
	}
	k, err := deviceKey(clientID)
	if err != nil {
		return "", err
	}
	var out string
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("secretstore: load device id: %w", err)
	}
	return out, nil
}

func (s *Store) SaveDeviceID(_ context.Context, clientID, deviceID string) error {
	if s == nil || s.db == nil {
		return errors.New("secretstore: not opened")
	}
	k, err := deviceKey(clientID)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if deviceID == "" {
			return txn.Delete(k)
		}
		return txn.Set(k, []byte(deviceID))
	})
}

// ParseKey accepts 32 bytes as hex (optionally 0x-prefixed) or base64. An
// empty input returns nil.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}
