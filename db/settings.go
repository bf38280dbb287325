package db

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Known filter setting names with their expected shapes. Values are
// validated before insert; a stored value that fails to decode at read time
// is skipped so the pipeline falls back to default behavior.
const (
	SettingAddSubjectTagPrefix = "AddSubjectTagPrefixSettings"
	SettingArchivedAtLink      = "ArchivedAtLinkSettings"
	SettingMimeReject          = "MimeRejectSettings"
)

// AddSubjectTagPrefixSettings toggles the `[list-id]` subject prefix.
type AddSubjectTagPrefixSettings struct {
	Enabled bool `json:"enabled"`
}

// ArchivedAtLinkSettings configures the Archived-At header. Template is
// expanded with {msg_id}; PreserveCarets keeps the surrounding <> of the
// message id in the expansion.
type ArchivedAtLinkSettings struct {
	Template       string `json:"template"`
	PreserveCarets bool   `json:"preserve_carets"`
}

// MimeRejectSettings lists MIME types that are not accepted in posts.
type MimeRejectSettings struct {
	Enabled bool     `json:"enabled"`
	Reject  []string `json:"reject"`
}

// validateSetting checks a raw JSON value against the schema of its name.
func validateSetting(name string, value json.RawMessage) error {
	var err error
	switch name {
	case SettingAddSubjectTagPrefix:
		var s AddSubjectTagPrefixSettings
		err = strictUnmarshal(value, &s)
	case SettingArchivedAtLink:
		var s ArchivedAtLinkSettings
		err = strictUnmarshal(value, &s)
	case SettingMimeReject:
		var s MimeRejectSettings
		err = strictUnmarshal(value, &s)
	default:
		return fmt.Errorf("unknown setting name %q", name)
	}
	if err != nil {
		return fmt.Errorf("invalid value for setting %q: %w", name, err)
	}
	return nil
}

func strictUnmarshal(data json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// GetListSettings returns the name to JSON value map of a list's filter
// settings.
func (db *Database) GetListSettings(ctx context.Context, listID int64) (map[string]json.RawMessage, error) {
	rows, err := db.TimedQuery(ctx, "get_list_settings",
		"SELECT name, value FROM list_settings WHERE list_id = $1", listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]json.RawMessage)
	for rows.Next() {
		var name string
		var value json.RawMessage
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		settings[name] = value
	}
	return settings, rows.Err()
}

// SetListSetting validates and upserts a filter setting for a list.
func (db *Database) SetListSetting(ctx context.Context, tx pgx.Tx, listID int64, name string, value json.RawMessage) error {
	if err := validateSetting(name, value); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO list_settings (list_id, name, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (list_id, name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		listID, name, value)
	return err
}

// RemoveListSetting deletes a filter setting, restoring default behavior.
func (db *Database) RemoveListSetting(ctx context.Context, tx pgx.Tx, listID int64, name string) error {
	_, err := tx.Exec(ctx,
		"DELETE FROM list_settings WHERE list_id = $1 AND name = $2", listID, name)
	return err
}
