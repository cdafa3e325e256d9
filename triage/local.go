package triage

import (
	"database/sql"
	"encoding/json"
	"errors"

	_ "modernc.org/sqlite"
)

const localStateKey = "property_states"

// LocalStateStore persists the propertyId -> PropertyState map as a single
// blob row in a sqlite kv table. It is the offline fallback read when the
// realtime channel cannot be reached within the connect timeout, and written
// after hydration and successful persists.
type LocalStateStore struct {
	db *sql.DB
}

func OpenLocalStateStore(path string) (*LocalStateStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &LocalStateStore{
		db: db,
	}, nil
}

func (self *LocalStateStore) LoadStates() (map[string]*PropertyState, error) {
	var value string
	err := self.db.QueryRow(
		`SELECT value FROM kv WHERE key = ?`,
		localStateKey,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]*PropertyState{}, nil
	}
	if err != nil {
		return nil, err
	}

	states := map[string]*PropertyState{}
	if err := json.Unmarshal([]byte(value), &states); err != nil {
		return nil, err
	}
	for propertyId, state := range states {
		if state == nil || state.PropertyId == "" {
			delete(states, propertyId)
		}
	}
	return states, nil
}

func (self *LocalStateStore) SaveStates(states map[string]*PropertyState) error {
	value, err := json.Marshal(states)
	if err != nil {
		return err
	}
	_, err = self.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		localStateKey,
		string(value),
	)
	return err
}

func (self *LocalStateStore) Close() error {
	return self.db.Close()
}
