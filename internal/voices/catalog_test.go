// Package voices_test tests voice catalog loading and lookups.
package voices_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/tts-session-service/internal/voices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_SKTVoices(t *testing.T) {
	t.Parallel()

	catalog, err := voices.Default()
	require.NoError(t, err)

	aria, ok := catalog.SKTVoice("aria")
	require.True(t, ok)
	assert.Equal(t, "axtts-2-6", aria.Model)
	assert.Equal(t, "00422", aria.VoiceID)
	assert.Equal(t, "ko-KR", aria.Language)
	assert.Equal(t, "aria", aria.Nickname)

	call, ok := catalog.SKTVoice("aria_call")
	require.True(t, ok)
	assert.Equal(t, "axtts-2-1", call.Model)

	dialect, ok := catalog.SKTVoice("fjja")
	require.True(t, ok)
	assert.Equal(t, "jeonga", dialect.Nickname)

	_, ok = catalog.SKTVoice("nobody")
	assert.False(t, ok)
}

func TestDefault_SKTVoicesSortedByModelThenName(t *testing.T) {
	t.Parallel()

	catalog, err := voices.Default()
	require.NoError(t, err)

	list := catalog.SKTVoices()
	require.NotEmpty(t, list)

	for i := 1; i < len(list); i++ {
		previous, current := list[i-1], list[i]
		ordered := previous.Model < current.Model ||
			(previous.Model == current.Model && previous.Name < current.Name)
		assert.True(t, ordered, "%s/%s before %s/%s", previous.Model, previous.Name, current.Model, current.Name)
	}

	assert.Equal(t, []string{"axtts-2-1", "axtts-2-1-dialect", "axtts-2-6", "axtts-2-6-ainews"}, catalog.SKTModels())
}

func TestDefault_ElevenLabsResolution(t *testing.T) {
	t.Parallel()

	catalog, err := voices.Default()
	require.NoError(t, err)

	assert.Equal(t, "21m00Tcm4TlvDq8ikWAM", catalog.ElevenLabsVoiceID(""))
	assert.Equal(t, "ZJCNdZEjYwkOElxugmW2", catalog.ElevenLabsVoiceID("Hyuk"))
	assert.Equal(t, "custom-voice-id", catalog.ElevenLabsVoiceID("custom-voice-id"))
}

func TestLoad_OverrideFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voices.yaml")
	doc := `
skt_ax:
  language: ko-KR
  voices:
    - name: solo
      voice_id: "00001"
      model: axtts-test
      gender: female
      age: adult
      style: general
elevenlabs:
  default_voice: one
  voices:
    one: id-one
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	catalog, err := voices.Load(path)
	require.NoError(t, err)

	assert.Len(t, catalog.SKTVoices(), 1)
	assert.Equal(t, "id-one", catalog.ElevenLabsVoiceID(""))
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	_, err := voices.Parse([]byte("skt_ax:\n  voices: []\n"))
	require.ErrorIs(t, err, voices.ErrEmptyCatalog)

	doc := "skt_ax:\n  voices:\n    - name: a\n      model: m\nelevenlabs:\n  default_voice: ghost\n"
	_, err = voices.Parse([]byte(doc))
	require.ErrorIs(t, err, voices.ErrUnknownDefaultVoice)
}
