package repo

import (
	"context"
	"database/sql"
	"encoding/json"
)

// RelaysKey stores the runtime relay override as a JSON array.
const RelaysKey = "nostr_relays"

func (r Repo) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func (r Repo) SetSetting(ctx context.Context, key, value, description string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO settings(key,value,description) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, description=COALESCE(excluded.description, settings.description)`,
		key, value, nullable(description))
	return err
}

// GetRelayOverride returns the stored relay set, or ErrNotFound when none
// is configured.
func (r Repo) GetRelayOverride(ctx context.Context) ([]string, error) {
	raw, err := r.GetSetting(ctx, RelaysKey)
	if err != nil {
		return nil, err
	}
	var relays []string
	if err := json.Unmarshal([]byte(raw), &relays); err != nil {
		// A corrupt override disables publishing rather than failing reads.
		return []string{}, nil
	}
	return relays, nil
}

func (r Repo) SetRelayOverride(ctx context.Context, relays []string) error {
	data, err := json.Marshal(relays)
	if err != nil {
		return err
	}
	return r.SetSetting(ctx, RelaysKey, string(data), "Nostr relays for publishing")
}
