package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionRoundTrip(t *testing.T) {
	raw := []byte(`{"type":"action","action":"collect","item_id":"dream_bottle_1","area_id":"woander_porch"}`)

	var a Action
	require.NoError(t, json.Unmarshal(raw, &a))
	assert.Equal(t, "action", a.Type)
	assert.Equal(t, "collect", a.Action)
	assert.Equal(t, "dream_bottle_1", a.Args["item_id"])
	assert.Equal(t, "woander_porch", a.Args["area_id"])

	encoded, err := json.Marshal(a)
	require.NoError(t, err)

	var roundTripped Action
	require.NoError(t, json.Unmarshal(encoded, &roundTripped))
	assert.Equal(t, a, roundTripped)
}

func TestActionNoArgs(t *testing.T) {
	var a Action
	require.NoError(t, json.Unmarshal([]byte(`{"type":"action","action":"look"}`), &a))
	assert.Empty(t, a.Args)
}
