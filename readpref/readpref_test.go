package readpref

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ntppool.org/clustermon/description"
)

func TestModeFromString(t *testing.T) {
	for in, want := range map[string]Mode{
		"primary":            Primary,
		"PRIMARYPREFERRED":   PrimaryPreferred,
		"secondary":          Secondary,
		"secondaryPreferred": SecondaryPreferred,
		"nearest":            Nearest,
	} {
		got, err := ModeFromString(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ModeFromString("closest")
	assert.Error(t, err)

	var m Mode
	require.NoError(t, m.UnmarshalText([]byte("nearest")))
	assert.Equal(t, Nearest, m)
	b, _ := m.MarshalText()
	assert.Equal(t, "nearest", string(b))
}

func TestNew(t *testing.T) {
	rp := New(Secondary,
		WithTagSets(description.TagSet{"dc": "ny"}, description.TagSet{}),
		WithMaxStaleness(90*time.Second),
	)
	assert.Equal(t, Secondary, rp.Mode)
	assert.Len(t, rp.TagSets, 2)
	assert.True(t, rp.HasTags())
	assert.Equal(t, "secondary tags={dc:ny},{} maxStaleness=1m30s", rp.String())

	assert.False(t, New(Primary, WithTagSets(description.TagSet{})).HasTags())
	assert.Equal(t, Primary, PrimaryPref().Mode)
}
