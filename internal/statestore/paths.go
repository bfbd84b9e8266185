package statestore

import "path/filepath"

// Layout implements §6.3's persisted-state layout:
//
//	experiences/<experience_id>/state/world
//	experiences/<experience_id>/state/world.template
//	players/<user_id>/<experience_id>/view
//
// contentRoot is an experience's config.ContentPaths.Root, which already
// embeds the "experiences/<experience_id>" prefix; Layout resolves the
// remaining state file paths relative to dataRoot.
type layout struct {
	dataRoot string
}

func newLayout(dataRoot string) layout {
	return layout{dataRoot: dataRoot}
}

func (l layout) worldPath(contentRoot string) string {
	return filepath.Join(l.dataRoot, contentRoot, "state", "world")
}

func (l layout) worldTemplatePath(contentRoot string) string {
	return filepath.Join(l.dataRoot, contentRoot, "state", "world.template")
}

func (l layout) playerViewPath(userID, experienceID string) string {
	return filepath.Join(l.dataRoot, "players", userID, experienceID, "view")
}

func (l layout) lockPath(statePath string) string {
	return statePath + ".lock"
}
