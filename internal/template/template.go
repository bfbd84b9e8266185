// Package template is the Template Registry: it resolves template_id to a
// content blueprint loaded from an experience's content tree and merges
// Templates with runtime Instances into the denormalized records the wire
// protocol sends to clients.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kestrel-run/aoi-runtime/internal/statestore"
)

// ErrNotFound is returned when no template file exists for a given
// (experience, type, template_id).
var ErrNotFound = errors.New("template: not found")

// Kind is a template's content type.
type Kind string

const (
	KindItem Kind = "item"
	KindNPC  Kind = "npc"
	KindQuest Kind = "quest"
)

// Template is an immutable, offline-authored content blueprint (§3 Entities
// — Template). Fields beyond the identifying ones are opaque and carried
// through Merge's denormalization.
type Template struct {
	TemplateID  string         `json:"template_id"`
	Type        Kind           `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Collectible bool           `json:"collectible"`
	Visual      map[string]any `json:"visual,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// RuntimeRecord is the denormalized Template+Instance record emitted to
// clients (§4.3, §4.4): template fields provide defaults, instance fields
// override them.
type RuntimeRecord struct {
	InstanceID  string         `json:"instance_id"`
	TemplateID  string         `json:"template_id"`
	Type        Kind           `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Visible     bool           `json:"visible"`
	Collectible bool           `json:"collectible"`
	Visual      map[string]any `json:"visual,omitempty"`
	State       map[string]any `json:"state,omitempty"`
}

// cacheKey identifies a cached Template by the experience content tree it
// was loaded from and its template_id.
type cacheKey struct {
	contentRoot string
	templateID  string
}

// Registry resolves template_id → Template on demand from an experience's
// content tree, caching per (experience, template_id) for the process
// lifetime (§4.3: "Templates are loaded on demand... cached per
// (experience, template_id)"; templates are read-only at runtime, so the
// cache is never invalidated except by process restart).
type Registry struct {
	dataRoot string

	mu    sync.RWMutex
	cache map[cacheKey]Template
}

// NewRegistry creates a Registry rooted at dataRoot — the same filesystem
// root statestore.FileStore uses, so content_paths.root resolves
// consistently across both.
func NewRegistry(dataRoot string) *Registry {
	return &Registry{
		dataRoot: dataRoot,
		cache:    make(map[cacheKey]Template),
	}
}

// Resolve returns the Template identified by templateID within
// contentRoot's content tree (an experience's content_paths.root),
// searching items/ then npcs/ then quests/. Returns [ErrNotFound] if no
// matching file exists in any.
func (r *Registry) Resolve(contentRoot, templateID string) (Template, error) {
	key := cacheKey{contentRoot: contentRoot, templateID: templateID}

	r.mu.RLock()
	if t, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return t, nil
	}
	r.mu.RUnlock()

	t, err := r.load(contentRoot, templateID)
	if err != nil {
		return Template{}, err
	}

	r.mu.Lock()
	r.cache[key] = t
	r.mu.Unlock()
	return t, nil
}

func (r *Registry) load(contentRoot, templateID string) (Template, error) {
	for _, subdir := range []string{"items", "npcs", "quests"} {
		path := filepath.Join(r.dataRoot, contentRoot, "templates", subdir, templateID)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Template{}, fmt.Errorf("template: read %s: %w", path, err)
		}
		var t Template
		if err := json.Unmarshal(data, &t); err != nil {
			return Template{}, fmt.Errorf("template: parse %s: %w", path, err)
		}
		if t.TemplateID == "" {
			t.TemplateID = templateID
		}
		return t, nil
	}
	return Template{}, fmt.Errorf("%w: %s", ErrNotFound, templateID)
}

// Merge denormalizes template fields into inst, producing the outgoing wire
// record. Instance-specific fields (state, visible) always override
// template defaults; template fields (name, description, collectible
// default, visual properties) fill in the rest (§4.3) — collectible is a
// template-level default, not an instance override, so it is taken from t
// even though Instance separately caches it for dispatcher-side precondition
// checks that must not depend on the Template Registry.
func Merge(inst statestore.Instance, t Template) RuntimeRecord {
	return RuntimeRecord{
		InstanceID:  inst.InstanceID,
		TemplateID:  inst.TemplateID,
		Type:        t.Type,
		Name:        t.Name,
		Description: t.Description,
		Visible:     inst.Visible,
		Collectible: t.Collectible,
		Visual:      t.Visual,
		State:       inst.State,
	}
}
