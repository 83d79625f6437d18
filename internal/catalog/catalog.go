package catalog

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/weft-run/weft/internal/validation"
	"github.com/weft-run/weft/pkg/schema"
)

// Entry is one cataloged workflow version. Entries are immutable once
// stored: Put never rewrites an existing version and callers must not
// mutate a returned definition.
type Entry struct {
	Name      string           `json:"name"`
	Version   int              `json:"version"`
	Workflow  *schema.Workflow `json:"workflow"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Ref renders the canonical name@vN reference of the entry.
func (e *Entry) Ref() string {
	return e.Name + "@v" + strconv.Itoa(e.Version)
}

// Catalog is a versioned, in-memory workflow library. Storing a
// definition under an existing name appends the next version; readers
// address a specific version or the latest.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string][]*Entry // name -> versions, ascending
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{entries: make(map[string][]*Entry)}
}

// Put validates the definition and stores it under its workflow id,
// assigning the next version number for that name.
func (c *Catalog) Put(wf *schema.Workflow) (*Entry, error) {
	if err := validation.CheckWorkflow(wf).ToError(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	versions := c.entries[wf.ID]
	entry := &Entry{
		Name:      wf.ID,
		Version:   len(versions) + 1,
		Workflow:  wf,
		CreatedAt: time.Now().UTC(),
	}
	c.entries[wf.ID] = append(versions, entry)
	return entry, nil
}

// Get returns one version of a named workflow; version <= 0 selects the
// latest.
func (c *Catalog) Get(name string, version int) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	versions := c.entries[name]
	if len(versions) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q is not cataloged", name)
	}
	if version <= 0 {
		return versions[len(versions)-1], nil
	}
	if version > len(versions) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q has no version v%d", name, version)
	}
	return versions[version-1], nil
}

// Versions returns every stored version of a name, oldest first.
func (c *Catalog) Versions(name string) ([]*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	versions := c.entries[name]
	if len(versions) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q is not cataloged", name)
	}
	out := make([]*Entry, len(versions))
	copy(out, versions)
	return out, nil
}

// List returns the latest version of every cataloged name, sorted by name.
func (c *Catalog) List() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Entry, 0, len(c.entries))
	for _, versions := range c.entries {
		out = append(out, versions[len(versions)-1])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of cataloged names.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Delete removes a name and all its versions.
func (c *Catalog) Delete(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[name]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q is not cataloged", name)
	}
	delete(c.entries, name)
	return nil
}

// ParseRef splits a "name" or "name@vN" workflow reference. A missing
// version selects the latest.
func ParseRef(ref string) (name string, version int, err error) {
	name, ver, found := strings.Cut(ref, "@")
	if name == "" {
		return "", 0, schema.NewError(schema.ErrCodeValidation, "workflow reference is empty")
	}
	if !found {
		return name, 0, nil
	}
	ver = strings.TrimPrefix(ver, "v")
	n, convErr := strconv.Atoi(ver)
	if convErr != nil || n <= 0 {
		return "", 0, schema.NewErrorf(schema.ErrCodeValidation,
			"workflow reference %q has a malformed version", ref)
	}
	return name, n, nil
}
