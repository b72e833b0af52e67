package escalation

// Binding routes errors of Kind to the handler function at Target, an index
// into the office function arena.
type Binding struct {
	Kind   *Kind
	Target int
}

// Bindings is one level of the escalation chain, in declaration order.
type Bindings []Binding

// Resolve returns the binding whose kind matches err most specifically.
// Among equally specific matches the first declared wins.
func (b Bindings) Resolve(err error) (Binding, bool) {
	best := -1
	for i, binding := range b {
		if !binding.Kind.Matches(err) {
			continue
		}
		if best < 0 || binding.Kind.Depth() > b[best].Kind.Depth() {
			best = i
		}
	}
	if best < 0 {
		return Binding{}, false
	}
	return b[best], true
}
