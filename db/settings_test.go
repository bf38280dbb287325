package db

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSetting(t *testing.T) {
	tests := []struct {
		name    string
		setting string
		value   string
		wantErr bool
	}{
		{name: "valid subject tag", setting: SettingAddSubjectTagPrefix, value: `{"enabled": true}`},
		{name: "valid archived at", setting: SettingArchivedAtLink, value: `{"template": "https://x/{msg_id}", "preserve_carets": false}`},
		{name: "valid mime reject", setting: SettingMimeReject, value: `{"enabled": true, "reject": ["text/html"]}`},
		{name: "unknown field rejected", setting: SettingAddSubjectTagPrefix, value: `{"enabled": true, "prefix": "x"}`, wantErr: true},
		{name: "wrong type rejected", setting: SettingMimeReject, value: `{"enabled": "yes"}`, wantErr: true},
		{name: "not an object", setting: SettingArchivedAtLink, value: `"template"`, wantErr: true},
		{name: "unknown setting name", setting: "FrobnicateSettings", value: `{}`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSetting(tc.setting, json.RawMessage(tc.value))
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
