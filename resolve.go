package appbundle

import (
	"git.sr.ht/~jackmordaunt/appbundle/internal/util"
)

// ResolvedLibrary is a library name and the host file that provides it.
type ResolvedLibrary struct {
	Name string
	Path string
}

// Resolver locates shared libraries under a search root.
type Resolver struct {
	Root string
}

// Resolve the first file called name under the search root.
// An unreadable or empty root simply resolves nothing.
func (r Resolver) Resolve(name string) (ResolvedLibrary, bool) {
	path, err := util.Finder{Root: r.Root}.Find(name)
	if err != nil || path == "" {
		return ResolvedLibrary{}, false
	}
	return ResolvedLibrary{Name: name, Path: path}, true
}

// ResolveAll resolves each name independently, in order, and returns the
// names it could not find.
func (r Resolver) ResolveAll(names []string) (found []ResolvedLibrary, skipped []string) {
	for _, name := range names {
		if lib, ok := r.Resolve(name); ok {
			found = append(found, lib)
		} else {
			skipped = append(skipped, name)
		}
	}
	return found, skipped
}
