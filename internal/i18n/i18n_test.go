package i18n

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBundle() *Bundle {
	return NewBundle(map[string]map[string]string{
		"en-US": {
			"update_required": "Please update your client.",
			"replay_hint":     "Replay of game",
		},
		"zh-CN": {
			"update_required": "请更新你的客户端。",
		},
	})
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	b := testBundle()

	tests := []struct {
		name   string
		locale string
		msg    string
		want   string
	}{
		{"bare token", "en-US", "#{update_required}", "Please update your client."},
		{"locale override", "zh-CN", "#{update_required}", "请更新你的客户端。"},
		{"fallback to default locale", "zh-CN", "#{replay_hint}", "Replay of game"},
		{"unknown locale falls back", "fr-FR", "#{update_required}", "Please update your client."},
		{"unknown key renders key", "en-US", "#{no_such_key}", "no_such_key"},
		{"token inside literal text", "en-US", "[#{replay_hint} 2]", "[Replay of game 2]"},
		{"plain text untouched", "en-US", "gg wp", "gg wp"},
		{"unterminated token untouched", "en-US", "#{broken", "#{broken"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, b.Translate(tt.locale, tt.msg))
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "en-US.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"welcome": "Enjoy your duel!"}`), 0o644))

	b := testBundle()
	require.NoError(t, b.LoadFile("en-US", path))

	assert.Equal(t, "Enjoy your duel!", b.Translate("en-US", "#{welcome}"))
	// Existing keys survive the merge.
	assert.Equal(t, "Replay of game", b.Translate("en-US", "#{replay_hint}"))

	assert.Error(t, b.LoadFile("en-US", filepath.Join(t.TempDir(), "missing.json")))
}
