package wsapi

import (
	"github.com/kestrel-run/aoi-runtime/internal/aoi"
	"github.com/kestrel-run/aoi-runtime/internal/statestore"
	"github.com/kestrel-run/aoi-runtime/internal/template"
	"github.com/kestrel-run/aoi-runtime/pkg/wire"
)

// toWireRecord converts the AOI/Template layer's denormalized record to its
// wire-protocol twin. The two are separate types: the Template Registry
// package does not import pkg/wire. The wire record carries no visible or
// visual field, so those are dropped here.
func toWireRecord(rec template.RuntimeRecord) wire.RuntimeRecord {
	return wire.RuntimeRecord{
		InstanceID:  rec.InstanceID,
		TemplateID:  rec.TemplateID,
		Type:        string(rec.Type),
		Name:        rec.Name,
		Description: rec.Description,
		Collectible: rec.Collectible,
		State:       rec.State,
	}
}

func toWireRecords(recs []template.RuntimeRecord) []wire.RuntimeRecord {
	out := make([]wire.RuntimeRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, toWireRecord(r))
	}
	return out
}

// toWireAOI converts an AOI Builder payload to its wire frame. The payload
// embeds no frame type; callers set Type on the returned value.
func toWireAOI(a *aoi.AOI) wire.AreaOfInterest {
	out := wire.AreaOfInterest{
		SnapshotVersion: a.SnapshotVersion,
		Areas:           make(map[string]wire.AreaView, len(a.Areas)),
		Player: wire.PlayerView{
			CurrentLocation: a.Player.CurrentLocation,
			CurrentArea:     a.Player.CurrentArea,
			Inventory:       toWireRecords(a.Player.Inventory),
		},
	}
	if a.Zone != nil {
		out.Zone = &wire.ZoneView{
			ID:          a.Zone.ID,
			Name:        a.Zone.Name,
			Description: a.Zone.Description,
			GPS:         wire.GPS{Lat: a.Zone.Lat, Lng: a.Zone.Lng},
		}
	}
	for id, area := range a.Areas {
		out.Areas[id] = wire.AreaView{
			ID:          area.ID,
			Name:        area.Name,
			Description: area.Description,
			Items:       toWireRecords(area.Items),
			NPCs:        toWireRecords(area.NPCs),
		}
	}
	return out
}

// toWireOperation converts a statestore.Change to a wire.Operation,
// resolving the Change's raw Instance against templateRoot so the client
// receives the same denormalized shape the AOI builder produces. A Change
// with no Item (a pure removal) carries no item either way.
func toWireOperation(c statestore.Change, templates *template.Registry, templateRoot string) wire.Operation {
	op := wire.Operation{
		Operation:  c.Operation,
		AreaID:     c.AreaID,
		Path:       c.Path,
		InstanceID: c.InstanceID,
		TemplateID: c.TemplateID,
	}
	if c.Item != nil {
		if t, err := templates.Resolve(templateRoot, c.Item.TemplateID); err == nil {
			rec := toWireRecord(template.Merge(*c.Item, t))
			op.Item = &rec
		}
	}
	return op
}
