package engine

import "sync"

// tmpRegistry tracks in-progress temporary files of one task so that any
// left behind by a cancelled run can be removed at the end.
type tmpRegistry struct {
	paths map[string]struct{}
	mu    sync.Mutex
}

func (r *tmpRegistry) register(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paths == nil {
		r.paths = make(map[string]struct{})
	}
	r.paths[path] = struct{}{}
}

func (r *tmpRegistry) deregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paths, path)
}

// cleanup removes every registered path with remove and empties the registry.
func (r *tmpRegistry) cleanup(remove func(string) error) {
	r.mu.Lock()
	paths := make([]string, 0, len(r.paths))
	for p := range r.paths {
		paths = append(paths, p)
	}
	r.paths = nil
	r.mu.Unlock()

	for _, p := range paths {
		_ = remove(p)
	}
}
