// Package element defines the accessibility tree vocabulary shared between
// the driver, the executor, and the IPC wire formats: elements, selector
// triples, and glob matching over flattened trees.
package element

// Frame is an element's on-screen bounding box in points, top-left origin.
type Frame struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Element is a node in an accessibility tree as reported by the agent.
// Hittable is populated only when the element came from a live
// single-element query; tree dumps leave it nil.
type Element struct {
	Identifier *string    `json:"identifier,omitempty"`
	Label      *string    `json:"label,omitempty"`
	Value      *string    `json:"value,omitempty"`
	Type       *string    `json:"type,omitempty"`
	Frame      *Frame     `json:"frame,omitempty"`
	Children   []*Element `json:"children,omitempty"`
	Role       *string    `json:"role,omitempty"`
	Hittable   *bool      `json:"hittable,omitempty"`
}

// HasIdentity reports whether the element carries an identifier or label,
// the criterion used to decide inclusion in a flattened element list.
func (e *Element) HasIdentity() bool {
	return e.Identifier != nil || e.Label != nil
}

// Selector is the (selector, by_label, element_type) triple used to look
// up elements. When ByLabel is false the selector matches Identifier,
// otherwise Label. Matching is case-sensitive over the full string.
type Selector struct {
	Value       string  `json:"selector"`
	ByLabel     bool    `json:"by_label"`
	ElementType *string `json:"element_type,omitempty"`
}

// Match reports whether e satisfies the selector: the selector field
// (identifier or label, per ByLabel) glob-matches Value, and, when
// ElementType is set, e's type equals it exactly.
func (s Selector) Match(e *Element) bool {
	var field *string
	if s.ByLabel {
		field = e.Label
	} else {
		field = e.Identifier
	}
	if field == nil || !Glob(s.Value, *field) {
		return false
	}
	if s.ElementType != nil {
		if e.Type == nil || *e.Type != *s.ElementType {
			return false
		}
	}
	return true
}

// Flatten returns every element in the tree (in depth-first pre-order)
// that has an identifier or a label, skipping purely structural nodes.
func Flatten(roots []*Element) []*Element {
	var out []*Element
	var walk func([]*Element)
	walk = func(elems []*Element) {
		for _, e := range elems {
			if e.HasIdentity() {
				out = append(out, e)
			}
			walk(e.Children)
		}
	}
	walk(roots)
	return out
}

// Find walks the tree in depth-first pre-order and returns the first
// element matching the selector, or nil if none matches.
func Find(roots []*Element, sel Selector) *Element {
	for _, e := range roots {
		if sel.Match(e) {
			return e
		}
		if found := Find(e.Children, sel); found != nil {
			return found
		}
	}
	return nil
}
