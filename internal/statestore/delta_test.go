package statestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDelta_SetReplacesPlainValue(t *testing.T) {
	target := map[string]any{"current_area": "entrance"}
	changed, err := ApplyDelta(target, map[string]any{
		"current_area": map[string]any{"$set": "gift_shop"},
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "gift_shop", target["current_area"])
}

func TestApplyDelta_PlainValueReplacesWithoutOperator(t *testing.T) {
	target := map[string]any{"last_action": "look"}
	changed, err := ApplyDelta(target, map[string]any{"last_action": "collect"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "collect", target["last_action"])
}

func TestApplyDelta_PlainValueNoChangeReportsUnchanged(t *testing.T) {
	target := map[string]any{"last_action": "look"}
	changed, err := ApplyDelta(target, map[string]any{"last_action": "look"})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestApplyDelta_AppendToList(t *testing.T) {
	target := map[string]any{"inventory": []any{}}
	changed, err := ApplyDelta(target, map[string]any{
		"inventory": map[string]any{
			"$append": map[string]any{"instance_id": "i1", "template_id": "acorn"},
		},
	})
	require.NoError(t, err)
	assert.True(t, changed)
	list := target["inventory"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "i1", list[0].(map[string]any)["instance_id"])
}

func TestApplyDelta_RemoveByPredicate(t *testing.T) {
	target := map[string]any{
		"inventory": []any{
			map[string]any{"instance_id": "i1"},
			map[string]any{"instance_id": "i2"},
		},
	}
	changed, err := ApplyDelta(target, map[string]any{
		"inventory": map[string]any{
			"$remove": map[string]any{"instance_id": "i1"},
		},
	})
	require.NoError(t, err)
	assert.True(t, changed)
	list := target["inventory"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "i2", list[0].(map[string]any)["instance_id"])
}

func TestApplyDelta_RemoveRequiresObjectPredicate(t *testing.T) {
	target := map[string]any{"inventory": []any{}}
	_, err := ApplyDelta(target, map[string]any{
		"inventory": map[string]any{"$remove": "i1"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDelta)
}

func TestApplyDelta_UpdatePatchesMatchingElements(t *testing.T) {
	target := map[string]any{
		"npcs": []any{
			map[string]any{"instance_id": "npc1", "visible": true},
		},
	}
	changed, err := ApplyDelta(target, map[string]any{
		"npcs": map[string]any{
			"$update": []any{
				map[string]any{"instance_id": "npc1", "visible": false},
			},
		},
	})
	require.NoError(t, err)
	assert.True(t, changed)
	list := target["npcs"].([]any)
	assert.Equal(t, false, list[0].(map[string]any)["visible"])
}

func TestApplyDelta_UpdateZeroMatchesIsNoopNotError(t *testing.T) {
	target := map[string]any{
		"npcs": []any{map[string]any{"instance_id": "npc1"}},
	}
	_, err := ApplyDelta(target, map[string]any{
		"npcs": map[string]any{
			"$update": []any{
				map[string]any{"instance_id": "nonexistent", "visible": false},
			},
		},
	})
	require.NoError(t, err)
}

func TestApplyDelta_IncrementClampsTrustLevel(t *testing.T) {
	target := map[string]any{"trust_level": float64(95)}
	_, err := ApplyDelta(target, map[string]any{
		"trust_level": map[string]any{"$increment": float64(20)},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(100), target["trust_level"])
}

func TestApplyDelta_IncrementClampsToMinimum(t *testing.T) {
	target := map[string]any{"trust_level": float64(5)}
	_, err := ApplyDelta(target, map[string]any{
		"trust_level": map[string]any{"$increment": float64(-50)},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(0), target["trust_level"])
}

func TestApplyDelta_IncrementUnclampedField(t *testing.T) {
	target := map[string]any{"total_conversations": float64(3)}
	_, err := ApplyDelta(target, map[string]any{
		"total_conversations": map[string]any{"$increment": float64(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(4), target["total_conversations"])
}

func TestApplyDelta_LimitTruncatesToMostRecent(t *testing.T) {
	target := map[string]any{
		"conversation_history": []any{"a", "b", "c", "d"},
	}
	_, err := ApplyDelta(target, map[string]any{
		"conversation_history": map[string]any{"$limit": float64(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"c", "d"}, target["conversation_history"])
}

func TestApplyDelta_NestedObjectMergeDoesNotClobberSiblingKeys(t *testing.T) {
	target := map[string]any{
		"npcs": map[string]any{
			"mira": map[string]any{"trust_level": float64(10), "total_conversations": float64(2)},
		},
	}
	_, err := ApplyDelta(target, map[string]any{
		"npcs": map[string]any{
			"mira": map[string]any{
				"trust_level": map[string]any{"$increment": float64(5)},
			},
		},
	})
	require.NoError(t, err)
	mira := target["npcs"].(map[string]any)["mira"].(map[string]any)
	assert.Equal(t, float64(15), mira["trust_level"])
	assert.Equal(t, float64(2), mira["total_conversations"])
}

func TestApplyDelta_UnknownOperatorIsInvalid(t *testing.T) {
	target := map[string]any{"x": float64(1)}
	_, err := ApplyDelta(target, map[string]any{
		"x": map[string]any{"$bogus": float64(1)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDelta)
}
