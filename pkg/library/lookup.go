package library

import "path/filepath"

// unmanicFileName is the per-library settings file pkg/worker consults
// for plugin-specific settings (spec.md §6.3).
const unmanicFileName = ".unmanic"

// PluginFlow satisfies pkg/worker.LibraryLookup: the ordered runner
// names a task belonging to libraryID must pass through.
func (s *Store) PluginFlow(libraryID int64) ([]string, error) {
	l, err := s.Get(libraryID)
	if err != nil {
		return nil, err
	}
	return l.GetPluginFlow(), nil
}

// PluginSettings satisfies pkg/worker.LibraryLookup: the section of
// libraryID's .unmanic file named after pluginName, as map[string]any.
// Any error reading the file (including "no such file") yields an empty
// settings map rather than failing the task - a plugin with no
// configured settings simply runs with its own defaults.
func (s *Store) PluginSettings(libraryID int64, pluginName string) map[string]any {
	l, err := s.Get(libraryID)
	if err != nil {
		return map[string]any{}
	}
	settings, err := LoadUnmanicFile(filepath.Join(l.Path, unmanicFileName))
	if err != nil {
		return map[string]any{}
	}
	section, ok := settings[pluginName]
	if !ok {
		return map[string]any{}
	}
	out := make(map[string]any, len(section))
	for k, v := range section {
		out[k] = v
	}
	return out
}
