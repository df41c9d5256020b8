package scene

// Selection is an ordered set of entity handles
type Selection struct {
	order []EntityID
	index map[EntityID]struct{}
}

// NewSelection creates an empty selection
func NewSelection() *Selection {
	return &Selection{index: make(map[EntityID]struct{})}
}

// Add appends ids not already selected
func (sel *Selection) Add(ids ...EntityID) {
	for _, id := range ids {
		if _, ok := sel.index[id]; ok {
			continue
		}
		sel.index[id] = struct{}{}
		sel.order = append(sel.order, id)
	}
}

// Remove drops an id from the selection
func (sel *Selection) Remove(id EntityID) {
	if _, ok := sel.index[id]; !ok {
		return
	}
	delete(sel.index, id)
	for i, cur := range sel.order {
		if cur == id {
			sel.order = append(sel.order[:i], sel.order[i+1:]...)
			break
		}
	}
}

// Clear empties the selection
func (sel *Selection) Clear() {
	sel.order = nil
	sel.index = make(map[EntityID]struct{})
}

// Snapshot returns the selected ids in selection order
func (sel *Selection) Snapshot() []EntityID {
	return append([]EntityID(nil), sel.order...)
}

// Len returns the number of selected ids
func (sel *Selection) Len() int {
	return len(sel.order)
}

// Contains reports whether id is selected
func (sel *Selection) Contains(id EntityID) bool {
	_, ok := sel.index[id]
	return ok
}
