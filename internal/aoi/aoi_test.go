package aoi

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-run/aoi-runtime/internal/config"
	"github.com/kestrel-run/aoi-runtime/internal/eventbus/mock"
	"github.com/kestrel-run/aoi-runtime/internal/statestore"
	"github.com/kestrel-run/aoi-runtime/internal/template"
)

const contentRoot = "experiences/wylding-woods"

func setup(t *testing.T) (*Builder, *statestore.FileStore, string) {
	t.Helper()
	dataRoot := t.TempDir()

	cfg := &config.Config{
		Server: config.ServerConfig{LockTimeoutSeconds: 1},
		Experiences: map[string]config.Experience{
			"wylding-woods": {
				StateModel: config.StateModelShared,
				Bootstrap: config.BootstrapConfig{
					StartingLocation: "woander_store",
					StartingArea:     "entrance",
				},
				ContentPaths: config.ContentPaths{Root: contentRoot},
				Geographies: []config.Geography{
					{ID: "woander_store", Lat: 37.7749, Lng: -122.4194, ZoneID: "woander_store"},
				},
			},
		},
	}

	bus := mock.New()
	require.NoError(t, bus.Connect(context.Background()))
	store := statestore.NewFileStore(cfg, dataRoot, bus)

	writeTemplateFile(t, dataRoot, contentRoot, "items", "acorn", template.Template{
		TemplateID: "acorn", Type: template.KindItem, Name: "Acorn", Collectible: true,
	})
	writeTemplateFile(t, dataRoot, contentRoot, "npcs", "mira", template.Template{
		TemplateID: "mira", Type: template.KindNPC, Name: "Mira",
	})

	reg := template.NewRegistry(dataRoot)
	builder := NewBuilder(store, reg)
	return builder, store, dataRoot
}

func writeTemplateFile(t *testing.T, dataRoot, contentRoot, subdir, id string, tmpl template.Template) {
	t.Helper()
	dir := filepath.Join(dataRoot, contentRoot, "templates", subdir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(tmpl)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, id), data, 0o644))
}

func TestBuilder_Build_NoConfiguredGeographyReturnsEmptyAOINotError(t *testing.T) {
	dataRoot := t.TempDir()
	cfg := &config.Config{
		Server: config.ServerConfig{LockTimeoutSeconds: 1},
		Experiences: map[string]config.Experience{
			"wylding-woods": {
				StateModel:   config.StateModelShared,
				ContentPaths: config.ContentPaths{Root: contentRoot},
			},
		},
	}
	bus := mock.New()
	require.NoError(t, bus.Connect(context.Background()))
	store := statestore.NewFileStore(cfg, dataRoot, bus)
	builder := NewBuilder(store, template.NewRegistry(dataRoot))

	got, err := builder.Build(context.Background(), "wylding-woods", "user1", 0, 0)
	require.NoError(t, err)
	assert.Nil(t, got.Zone)
	assert.Empty(t, got.Areas)
}

func TestBuilder_Build_UnmatchedZoneIDReturnsEmptyAOINotError(t *testing.T) {
	builder, _, _ := setup(t)
	// No UpdateWorldState call was made, so the shared world has no zones at
	// all; the configured geography's zone_id ("woander_store") resolves to
	// nothing in an empty World.
	got, err := builder.Build(context.Background(), "wylding-woods", "user1", 37.7749, -122.4194)
	require.NoError(t, err)
	assert.Nil(t, got.Zone)
	assert.Empty(t, got.Areas)
}

func TestBuilder_Build_AssemblesZoneAreasAndPlayer(t *testing.T) {
	builder, store, _ := setup(t)
	ctx := context.Background()

	_, err := store.UpdateWorldState(ctx, "wylding-woods",
		map[string]any{"zones": map[string]any{
			"woander_store": map[string]any{
				"id": "woander_store", "name": "Woander Store",
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
		nil, "",
	)
	require.NoError(t, err)

	got, err := builder.Build(ctx, "wylding-woods", "user1", 37.7749, -122.4194)
	require.NoError(t, err)
	require.NotNil(t, got.Zone)
	assert.Equal(t, "Woander Store", got.Zone.Name)
	require.Contains(t, got.Areas, "entrance")
	require.Len(t, got.Areas["entrance"].Items, 1)
	assert.Equal(t, "Acorn", got.Areas["entrance"].Items[0].Name)
	assert.Equal(t, "woander_store", got.Player.CurrentLocation)
}

func TestBuilder_Build_InvisibleItemsAreSkipped(t *testing.T) {
	builder, store, _ := setup(t)
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

	got, err := builder.Build(ctx, "wylding-woods", "user1", 37.7749, -122.4194)
	require.NoError(t, err)
	assert.Empty(t, got.Areas["entrance"].Items)
}

func TestBuilder_Build_NPCsRouteSeparatelyFromItems(t *testing.T) {
	builder, store, _ := setup(t)
	ctx := context.Background()

	_, err := store.UpdateWorldState(ctx, "wylding-woods",
		map[string]any{"zones": map[string]any{
			"woander_store": map[string]any{
				"id": "woander_store",
				"areas": map[string]any{
					"entrance": map[string]any{
						"id": "entrance",
						"items": map[string]any{
							"$append": map[string]any{"instance_id": "npc1", "template_id": "mira", "visible": true},
						},
					},
				},
			},
		}},
		nil, "",
	)
	require.NoError(t, err)

	got, err := builder.Build(ctx, "wylding-woods", "user1", 37.7749, -122.4194)
	require.NoError(t, err)
	assert.Empty(t, got.Areas["entrance"].Items)
	require.Len(t, got.Areas["entrance"].NPCs, 1)
	assert.Equal(t, "Mira", got.Areas["entrance"].NPCs[0].Name)
}

func TestBuilder_Build_StampsSnapshotVersionFromPlayerView(t *testing.T) {
	builder, store, _ := setup(t)
	ctx := context.Background()

	_, err := store.UpdatePlayerView(ctx, "wylding-woods", "user1",
		map[string]any{"current_area": map[string]any{"$set": "gift_shop"}}, nil)
	require.NoError(t, err)

	got, err := builder.Build(ctx, "wylding-woods", "user1", 37.7749, -122.4194)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.SnapshotVersion)
}
