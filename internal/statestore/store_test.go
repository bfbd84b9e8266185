package statestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-run/aoi-runtime/internal/config"
	"github.com/kestrel-run/aoi-runtime/internal/eventbus/mock"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LockTimeoutSeconds: 1},
		Experiences: map[string]config.Experience{
			"wylding-woods": {
				StateModel: config.StateModelShared,
				Bootstrap: config.BootstrapConfig{
					StartingLocation:  "woander_store",
					StartingArea:      "entrance",
					StartingInventory: []string{"map"},
				},
				ContentPaths: config.ContentPaths{Root: "experiences/wylding-woods"},
			},
		},
	}
}

func newTestStore(t *testing.T) (*FileStore, *mock.Bus) {
	t.Helper()
	bus := mock.New()
	require.NoError(t, bus.Connect(context.Background()))
	store := NewFileStore(testConfig(), t.TempDir(), bus)
	return store, bus
}

func TestFileStore_LoadExperienceConfig_NotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.LoadExperienceConfig("nonexistent")
	assert.ErrorIs(t, err, ErrExperienceNotFound)
}

func TestFileStore_GetPlayerView_BootstrapsFromConfig(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	pv, err := store.GetPlayerView(ctx, "wylding-woods", "user1")
	require.NoError(t, err)
	assert.Equal(t, "woander_store", pv.CurrentLocation)
	assert.Equal(t, "entrance", pv.CurrentArea)
	require.Len(t, pv.Inventory, 1)
	assert.Equal(t, "map", pv.Inventory[0].TemplateID)
	assert.NotEmpty(t, pv.Inventory[0].InstanceID)
	assert.Equal(t, uint64(0), pv.SnapshotVersion)
}

func TestFileStore_GetPlayerView_SecondCallReturnsPersistedView(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.GetPlayerView(ctx, "wylding-woods", "user1")
	require.NoError(t, err)

	second, err := store.GetPlayerView(ctx, "wylding-woods", "user1")
	require.NoError(t, err)
	assert.Equal(t, first.Inventory[0].InstanceID, second.Inventory[0].InstanceID)
}

func TestFileStore_GetWorldState_InitializesEmptyWhenNoTemplate(t *testing.T) {
	store, _ := newTestStore(t)
	w, err := store.GetWorldState(context.Background(), "wylding-woods")
	require.NoError(t, err)
	assert.Empty(t, w.Zones)
}

func TestFileStore_GetWorldState_InitializesFromTemplate(t *testing.T) {
	dataRoot := t.TempDir()
	cfg := testConfig()
	tmplPath := filepath.Join(dataRoot, "experiences/wylding-woods", "state", "world.template")
	require.NoError(t, os.MkdirAll(filepath.Dir(tmplPath), 0o755))

	tmpl := World{Zones: map[string]Zone{
		"woander_store": {ID: "woander_store", Areas: map[string]Area{
			"entrance": {ID: "entrance", Items: []Instance{{InstanceID: "seed1", TemplateID: "acorn", Visible: true}}},
		}},
	}}
	data, err := json.Marshal(tmpl)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(tmplPath, data, 0o644))

	bus := mock.New()
	require.NoError(t, bus.Connect(context.Background()))
	store := NewFileStore(cfg, dataRoot, bus)

	w, err := store.GetWorldState(context.Background(), "wylding-woods")
	require.NoError(t, err)
	require.Contains(t, w.Zones, "woander_store")
	assert.Equal(t, "seed1", w.Zones["woander_store"].Areas["entrance"].Items[0].InstanceID)

	// Persisted to the live world path, not re-derived from the template on
	// every read.
	worldPath := filepath.Join(dataRoot, "experiences/wylding-woods", "state", "world")
	_, err = os.Stat(worldPath)
	assert.NoError(t, err)
}

func TestFileStore_UpdatePlayerView_PersistsAndIncrementsVersion(t *testing.T) {
	store, bus := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetPlayerView(ctx, "wylding-woods", "user1")
	require.NoError(t, err)

	updated, err := store.UpdatePlayerView(ctx, "wylding-woods", "user1",
		map[string]any{"current_area": map[string]any{"$set": "gift_shop"}},
		[]Change{{Operation: "move", AreaID: "gift_shop"}},
	)
	require.NoError(t, err)
	assert.Equal(t, "gift_shop", updated.CurrentArea)
	assert.Equal(t, uint64(1), updated.SnapshotVersion)

	reloaded, err := store.GetPlayerView(ctx, "wylding-woods", "user1")
	require.NoError(t, err)
	assert.Equal(t, "gift_shop", reloaded.CurrentArea)
	assert.Equal(t, uint64(1), reloaded.SnapshotVersion)

	require.Len(t, bus.Published(), 1)
}

func TestFileStore_UpdatePlayerView_NoopDoesNotBumpVersionOrPublish(t *testing.T) {
	store, bus := newTestStore(t)
	ctx := context.Background()

	pv, err := store.GetPlayerView(ctx, "wylding-woods", "user1")
	require.NoError(t, err)

	updated, err := store.UpdatePlayerView(ctx, "wylding-woods", "user1",
		map[string]any{"current_area": pv.CurrentArea},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), updated.SnapshotVersion)
	assert.Empty(t, bus.Published())
}

func TestFileStore_UpdateWorldState_PersistsAndPublishesToActor(t *testing.T) {
	store, bus := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetPlayerView(ctx, "wylding-woods", "user1")
	require.NoError(t, err)

	_, err = store.UpdateWorldState(ctx, "wylding-woods",
		map[string]any{"zones": map[string]any{
			"woander_store": map[string]any{
				"id": "woander_store",
				"areas": map[string]any{
					"entrance": map[string]any{
						"id": "entrance",
						"items": map[string]any{
							"$append": map[string]any{"instance_id": "i1", "template_id": "acorn", "visible": true},
						},
					},
				},
			},
		}},
		[]Change{{Operation: "spawn", InstanceID: "i1"}},
		"user1",
	)
	require.NoError(t, err)

	w, err := store.GetWorldState(ctx, "wylding-woods")
	require.NoError(t, err)
	require.Contains(t, w.Zones, "woander_store")
	require.Len(t, w.Zones["woander_store"].Areas["entrance"].Items, 1)

	pv, err := store.GetPlayerView(ctx, "wylding-woods", "user1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pv.SnapshotVersion)

	require.Len(t, bus.Published(), 1)
	assert.Equal(t, "world.updates.user.user1", bus.Published()[0].Subject)
}

func TestFileStore_UpdateWorldState_RejectsIsolatedExperience(t *testing.T) {
	cfg := testConfig()
	exp := cfg.Experiences["wylding-woods"]
	exp.StateModel = config.StateModelIsolated
	cfg.Experiences["wylding-woods"] = exp

	bus := mock.New()
	require.NoError(t, bus.Connect(context.Background()))
	store := NewFileStore(cfg, t.TempDir(), bus)

	_, err := store.UpdateWorldState(context.Background(), "wylding-woods", map[string]any{}, nil, "user1")
	assert.Error(t, err)
}

func TestFileStore_ApplyCombined_SinglePublishForWorldAndPlayerDelta(t *testing.T) {
	store, bus := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetPlayerView(ctx, "wylding-woods", "user1")
	require.NoError(t, err)

	world, view, err := store.ApplyCombined(ctx, "wylding-woods", "user1",
		map[string]any{"zones": map[string]any{
			"woander_store": map[string]any{
				"id": "woander_store",
				"areas": map[string]any{
					"entrance": map[string]any{
						"id": "entrance",
						"items": map[string]any{
							"$append": map[string]any{"instance_id": "i1", "template_id": "acorn", "visible": true},
						},
					},
				},
			},
		}},
		map[string]any{"inventory": map[string]any{
			"$append": map[string]any{"instance_id": "i1", "template_id": "acorn"},
		}},
		[]Change{
			{Operation: "remove", AreaID: "entrance", InstanceID: "i1"},
			{Operation: "add", Path: "inventory", InstanceID: "i1"},
		},
	)
	require.NoError(t, err)
	require.Len(t, world.Zones["woander_store"].Areas["entrance"].Items, 1)
	require.Len(t, view.Inventory, 2) // bootstrap "map" + collected "acorn"
	assert.Equal(t, uint64(1), view.SnapshotVersion)

	require.Len(t, bus.Published(), 1)
}

func TestFileStore_ApplyCombined_NoopProducesNoPublish(t *testing.T) {
	store, bus := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.ApplyCombined(ctx, "wylding-woods", "user1", nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, bus.Published())
}

func TestFileStore_ResetPlayer_RemovesView(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.GetPlayerView(ctx, "wylding-woods", "user1")
	require.NoError(t, err)
	firstID := first.Inventory[0].InstanceID

	require.NoError(t, store.ResetPlayer(ctx, "user1", "wylding-woods"))

	recreated, err := store.GetPlayerView(ctx, "wylding-woods", "user1")
	require.NoError(t, err)
	assert.NotEqual(t, firstID, recreated.Inventory[0].InstanceID)
}

func TestFileStore_ResetPlayer_IdempotentWhenNoViewExists(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.ResetPlayer(context.Background(), "ghost-user", "wylding-woods")
	assert.NoError(t, err)
}

func TestFileStore_ResetExperience_RestoresFromTemplate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetPlayerView(ctx, "wylding-woods", "user1")
	require.NoError(t, err)
	_, err = store.UpdateWorldState(ctx, "wylding-woods",
		map[string]any{"zones": map[string]any{
			"woander_store": map[string]any{"id": "woander_store", "areas": map[string]any{}},
		}},
		nil, "user1",
	)
	require.NoError(t, err)

	w, err := store.GetWorldState(ctx, "wylding-woods")
	require.NoError(t, err)
	require.NotEmpty(t, w.Zones)

	require.NoError(t, store.ResetExperience(ctx, "wylding-woods"))

	reset, err := store.GetWorldState(ctx, "wylding-woods")
	require.NoError(t, err)
	assert.Empty(t, reset.Zones)
}

func TestFileStore_ResetInstance_RestoresVisibility(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpdateWorldState(ctx, "wylding-woods",
		map[string]any{"zones": map[string]any{
			"woander_store": map[string]any{
				"id": "woander_store",
				"areas": map[string]any{
					"entrance": map[string]any{
						"id": "entrance",
						"items": map[string]any{
							"$append": map[string]any{"instance_id": "i1", "template_id": "acorn", "visible": false},
						},
					},
				},
			},
		}},
		nil, "",
	)
	require.NoError(t, err)

	require.NoError(t, store.ResetInstance(ctx, "wylding-woods", "i1"))

	w, err := store.GetWorldState(ctx, "wylding-woods")
	require.NoError(t, err)
	assert.True(t, w.Zones["woander_store"].Areas["entrance"].Items[0].Visible)
}

func TestFileStore_ResetInstance_NotFound(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.ResetInstance(context.Background(), "wylding-woods", "ghost")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func seedAreaItem(t *testing.T, store *FileStore, zoneID, areaID string, inst Instance) {
	t.Helper()
	_, err := store.UpdateWorldState(context.Background(), "wylding-woods",
		map[string]any{"zones": map[string]any{
			zoneID: map[string]any{
				"id": zoneID,
				"areas": map[string]any{
					areaID: map[string]any{
						"id":    areaID,
						"items": map[string]any{"$append": mustGenericMap(t, inst)},
					},
				},
			},
		}},
		nil, "",
	)
	require.NoError(t, err)
}

func mustGenericMap(t *testing.T, v any) map[string]any {
	t.Helper()
	m, err := toGenericMap(v)
	require.NoError(t, err)
	return m
}

func TestFileStore_CollectItem_MovesInstanceIntoInventory(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	seedAreaItem(t, store, "woander_store", "entrance", Instance{InstanceID: "i1", TemplateID: "acorn", Visible: true, Collectible: true})

	view, appended, err := store.CollectItem(ctx, "wylding-woods", "woander_store", "entrance", "u1", "i1", func(inst Instance) Instance {
		inst.State = map[string]any{"collected_at": int64(1)}
		return inst
	})
	require.NoError(t, err)
	assert.Equal(t, "acorn", appended.TemplateID)
	require.Len(t, view.Inventory, 1)
	assert.Equal(t, "i1", view.Inventory[0].InstanceID)

	w, err := store.GetWorldState(ctx, "wylding-woods")
	require.NoError(t, err)
	assert.Empty(t, w.Zones["woander_store"].Areas["entrance"].Items)
}

// TestFileStore_CollectItem_RestoresInstanceWhenCreditFails exercises the
// failure boundary a plain TryRemoveAreaItem+UpdatePlayerView pair would
// not have: if crediting the player view fails after the world-side removal
// already committed, the instance must come back rather than being
// orphaned — reachable from neither an area nor an inventory (§3 invariant
// 1, §7 atomicity).
func TestFileStore_CollectItem_RestoresInstanceWhenCreditFails(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	seedAreaItem(t, store, "woander_store", "entrance", Instance{InstanceID: "i1", TemplateID: "acorn", Visible: true, Collectible: true})

	// Force the player-view credit step to fail by holding its lock file
	// externally for the duration of the (1s-timeout) test config.
	viewPath := store.layout.playerViewPath("u1", "wylding-woods")
	require.NoError(t, os.MkdirAll(filepath.Dir(viewPath), 0o755))
	blocker := flock.New(store.layout.lockPath(viewPath))
	locked, err := blocker.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer blocker.Unlock()

	_, _, err = store.CollectItem(ctx, "wylding-woods", "woander_store", "entrance", "u1", "i1", func(inst Instance) Instance {
		return inst
	})
	require.ErrorIs(t, err, ErrLockTimeout)

	w, err := store.GetWorldState(ctx, "wylding-woods")
	require.NoError(t, err)
	items := w.Zones["woander_store"].Areas["entrance"].Items
	require.Len(t, items, 1, "instance must be restored to its area, not orphaned")
	assert.Equal(t, "i1", items[0].InstanceID)
}
