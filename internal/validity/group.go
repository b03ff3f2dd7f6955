package validity

// Group is valid only while all of its children are valid. An empty group is valid.
type Group struct {
	state    Tracker
	children []groupChild
}

type groupChild struct {
	source Source
	sub    Subscription
}

// NewGroup returns an empty group containing the given children.
func NewGroup(children ...Source) *Group {
	g := &Group{state: Tracker{valid: true}}
	for _, child := range children {
		g.Add(child)
	}
	return g
}

// Valid reports whether every child is valid.
func (g *Group) Valid() bool { return g.state.Valid() }

// Subscribe registers fn for changes of the aggregate.
func (g *Group) Subscribe(fn Observer) Subscription { return g.state.Subscribe(fn) }

// Unsubscribe removes an observer registered with Subscribe.
func (g *Group) Unsubscribe(id Subscription) { g.state.Unsubscribe(id) }

// Observers returns the number of observers on the aggregate.
func (g *Group) Observers() int { return g.state.Observers() }

// Add subscribes to child and folds its validity into the group.
func (g *Group) Add(child Source) {
	if child == nil {
		return
	}
	for _, existing := range g.children {
		if existing.source == child {
			return
		}
	}
	sub := child.Subscribe(func(bool) { g.recompute() })
	g.children = append(g.children, groupChild{source: child, sub: sub})
	g.recompute()
}

// Remove unsubscribes from child and drops it from the group.
func (g *Group) Remove(child Source) {
	for i, existing := range g.children {
		if existing.source == child {
			child.Unsubscribe(existing.sub)
			g.children = append(g.children[:i], g.children[i+1:]...)
			g.recompute()
			return
		}
	}
}

// Clear unsubscribes from every child. The group becomes valid.
func (g *Group) Clear() {
	for _, existing := range g.children {
		existing.source.Unsubscribe(existing.sub)
	}
	g.children = nil
	g.recompute()
}

// Len returns the number of children.
func (g *Group) Len() int {
	return len(g.children)
}

func (g *Group) recompute() {
	valid := true
	for _, child := range g.children {
		if !child.source.Valid() {
			valid = false
			break
		}
	}
	g.state.Set(valid)
}
