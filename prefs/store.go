// Package prefs keeps per-profile UI state (folder expansion and theme) in a
// bbolt file so it outlives page reloads and server restarts.
package prefs

import (
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Theme is the console color scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// ParseTheme maps anything but "dark" to the light theme.
func ParseTheme(s string) Theme {
	if s == string(ThemeDark) {
		return ThemeDark
	}
	return ThemeLight
}

var (
	profilesBucket = []byte("profiles")
	expandBucket   = []byte("expand")
	themeKey       = []byte("theme")

	valueOpen   = []byte("true")
	valueClosed = []byte("false")
)

// ErrNoProfile is returned when a write is attempted without a profile id.
var ErrNoProfile = errors.New("profile id is required")

// Store is the durable key/value store behind ExpandState and the theme.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the store file.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(profilesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init state db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// profile returns the profile bucket, or nil when it does not exist yet.
func profile(tx *bolt.Tx, id string) *bolt.Bucket {
	return tx.Bucket(profilesBucket).Bucket([]byte(id))
}

func profileForWrite(tx *bolt.Tx, id string) (*bolt.Bucket, error) {
	if id == "" {
		return nil, ErrNoProfile
	}
	return tx.Bucket(profilesBucket).CreateBucketIfNotExists([]byte(id))
}

// SetExpanded records whether a folder is open for the profile.
func (s *Store) SetExpanded(profileID, folderID string, open bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		p, err := profileForWrite(tx, profileID)
		if err != nil {
			return err
		}
		b, err := p.CreateBucketIfNotExists(expandBucket)
		if err != nil {
			return err
		}
		v := valueClosed
		if open {
			v = valueOpen
		}
		return b.Put([]byte(folderID), v)
	})
}

// IsExpanded reports the saved state of a folder, true when nothing was saved.
func (s *Store) IsExpanded(profileID, folderID string) bool {
	open := true
	_ = s.db.View(func(tx *bolt.Tx) error {
		p := profile(tx, profileID)
		if p == nil {
			return nil
		}
		b := p.Bucket(expandBucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(folderID)); v != nil {
			open = string(v) != string(valueClosed)
		}
		return nil
	})
	return open
}

// Expanded returns every saved folder state for the profile. Folders missing
// from the map have no saved state and count as expanded.
func (s *Store) Expanded(profileID string) (map[string]bool, error) {
	states := make(map[string]bool)
	err := s.db.View(func(tx *bolt.Tx) error {
		p := profile(tx, profileID)
		if p == nil {
			return nil
		}
		b := p.Bucket(expandBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			states[string(k)] = string(v) != string(valueClosed)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read expand state: %w", err)
	}
	return states, nil
}

// Forget drops saved state for folders that no longer exist.
func (s *Store) Forget(profileID string, folderIDs ...string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		p := profile(tx, profileID)
		if p == nil {
			return nil
		}
		b := p.Bucket(expandBucket)
		if b == nil {
			return nil
		}
		for _, id := range folderIDs {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Theme returns the profile's theme, light when unset.
func (s *Store) Theme(profileID string) Theme {
	theme := ThemeLight
	_ = s.db.View(func(tx *bolt.Tx) error {
		if p := profile(tx, profileID); p != nil {
			if v := p.Get(themeKey); v != nil {
				theme = ParseTheme(string(v))
			}
		}
		return nil
	})
	return theme
}

// SetTheme saves the profile's theme.
func (s *Store) SetTheme(profileID string, theme Theme) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		p, err := profileForWrite(tx, profileID)
		if err != nil {
			return err
		}
		return p.Put(themeKey, []byte(theme))
	})
}

// ToggleTheme flips between light and dark and returns the new theme.
func (s *Store) ToggleTheme(profileID string) (Theme, error) {
	next := ThemeDark
	err := s.db.Update(func(tx *bolt.Tx) error {
		p, err := profileForWrite(tx, profileID)
		if err != nil {
			return err
		}
		if ParseTheme(string(p.Get(themeKey))) == ThemeDark {
			next = ThemeLight
		}
		return p.Put(themeKey, []byte(next))
	})
	if err != nil {
		return "", err
	}
	return next, nil
}
