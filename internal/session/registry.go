package session

import (
	"os"
	"path/filepath"
	"sort"

	"agentbrowser/internal/procstate"
)

// Entry describes one session found in the runtime directory.
type Entry struct {
	Name  string
	PID   int
	Alive bool
}

// Registry enumerates sessions in a shared runtime directory.
type Registry struct {
	Dir string
}

// NewRegistry returns a registry rooted at dir.
func NewRegistry(dir string) *Registry {
	return &Registry{Dir: dir}
}

// Resolve returns the identity of name inside the registry directory.
func (r *Registry) Resolve(name string) Paths {
	return Resolve(r.Dir, name)
}

// List returns every session with a marker file, in directory enumeration
// order. Markers that disappear during the scan are skipped. A missing
// directory yields an empty list.
func (r *Registry) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(r.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name, ok := nameFromMarker(de.Name())
		if !ok {
			continue
		}
		pid, err := ReadPID(filepath.Join(r.Dir, de.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			entries = append(entries, Entry{Name: name})
			continue
		}
		entries = append(entries, Entry{Name: name, PID: pid, Alive: pid > 0 && procstate.Alive(pid)})
	}
	return entries, nil
}

// SortEntries orders entries by name.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}
