package models

// GroupRecord is the persisted shape of one connection group.
type GroupRecord struct {
	ID       string `json:"id" yaml:"id" mapstructure:"id"`
	Name     string `json:"name" yaml:"name" mapstructure:"name"`
	ParentID string `json:"parentId,omitempty" yaml:"parentId,omitempty" mapstructure:"parentId"`
}

// ConnectionProfileGroup is a named node in the in-memory group forest.
// Parent/child relationships are held as id references in the owning
// GroupArena rather than as pointers.
type ConnectionProfileGroup struct {
	ID       string
	Name     string
	ParentID string // empty = root
}

// GroupArena holds a forest of groups addressed by id. Tree walks are
// explicit traversals over the flat map.
type GroupArena struct {
	nodes map[string]*ConnectionProfileGroup
	order []string // insertion order, for stable listings
}

// NewGroupArena builds an arena from persisted group records. A root-level
// group encoded with an empty-string parent stays a root.
func NewGroupArena(records []GroupRecord) *GroupArena {
	a := &GroupArena{nodes: make(map[string]*ConnectionProfileGroup, len(records))}
	for _, r := range records {
		a.Add(&ConnectionProfileGroup{ID: r.ID, Name: r.Name, ParentID: r.ParentID})
	}
	return a
}

// Add inserts a group node. A second insert with an id already present is
// ignored.
func (a *GroupArena) Add(g *ConnectionProfileGroup) {
	if _, ok := a.nodes[g.ID]; ok {
		return
	}
	a.nodes[g.ID] = g
	a.order = append(a.order, g.ID)
}

// Get returns the group with the given id.
func (a *GroupArena) Get(id string) (*ConnectionProfileGroup, bool) {
	g, ok := a.nodes[id]
	return g, ok
}

// All returns every group in insertion order.
func (a *GroupArena) All() []*ConnectionProfileGroup {
	out := make([]*ConnectionProfileGroup, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.nodes[id])
	}
	return out
}

// Len returns the number of groups in the arena.
func (a *GroupArena) Len() int { return len(a.nodes) }

// FindChild returns the child of parentID named name. Two groups with the
// same name under the same parent are the same group, so at most one match
// exists.
func (a *GroupArena) FindChild(parentID, name string) (*ConnectionProfileGroup, bool) {
	for _, id := range a.order {
		g := a.nodes[id]
		if g.ParentID == parentID && g.Name == name {
			return g, true
		}
	}
	return nil, false
}

// Children returns the direct children of the group with the given id, in
// insertion order. Pass the empty string for root-level groups.
func (a *GroupArena) Children(parentID string) []*ConnectionProfileGroup {
	var out []*ConnectionProfileGroup
	for _, id := range a.order {
		if g := a.nodes[id]; g.ParentID == parentID {
			out = append(out, g)
		}
	}
	return out
}

// FullName computes the slash-delimited path of the group by walking parent
// ids up to the root.
func (a *GroupArena) FullName(id string) string {
	var segments []string
	for id != "" {
		g, ok := a.nodes[id]
		if !ok {
			break
		}
		segments = append([]string{g.Name}, segments...)
		id = g.ParentID
	}
	out := ""
	for i, s := range segments {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}

// Descendants returns the transitive closure of subgroups under the given
// id, not including the group itself.
func (a *GroupArena) Descendants(id string) []*ConnectionProfileGroup {
	var out []*ConnectionProfileGroup
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range a.Children(current) {
			out = append(out, child)
			queue = append(queue, child.ID)
		}
	}
	return out
}

// Records converts the arena back to persisted records in insertion order.
func (a *GroupArena) Records() []GroupRecord {
	out := make([]GroupRecord, 0, len(a.order))
	for _, id := range a.order {
		g := a.nodes[id]
		out = append(out, GroupRecord{ID: g.ID, Name: g.Name, ParentID: g.ParentID})
	}
	return out
}
