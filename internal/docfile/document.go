// Package docfile defines the envelope every document file under
// docs/<primaryKey>.json carries (spec §3: "Document File").
package docfile

// Document is the JSON payload stored for one primary key. Tombstone and
// Attachments are always present, even when empty, so two documents can
// be compared without nil-checking either field.
type Document struct {
	Fields      map[string]any `json:"fields"`
	Tombstone   bool           `json:"tombstone"`
	Attachments map[string]any `json:"attachments"`
}

// New wraps fields in a fresh, non-deleted Document with an empty
// attachments map.
func New(fields map[string]any) Document {
	if fields == nil {
		fields = map[string]any{}
	}
	return Document{Fields: fields, Attachments: map[string]any{}}
}

// SameState reports whether d and other represent the same master state
// for conflict-detection purposes: equal Fields, ignoring Tombstone and
// Attachments (spec §4.4: "deep equality modulo attachments/tombstone
// markers").
func (d Document) SameState(other Document) bool {
	return fieldsEqual(d.Fields, other.Fields)
}

func fieldsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if !valueEqual(av, bv) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if aok && bok {
		return fieldsEqual(am, bm)
	}
	if aok != bok {
		return false
	}

	aSlice, aok := a.([]any)
	bSlice, bok := b.([]any)
	if aok && bok {
		if len(aSlice) != len(bSlice) {
			return false
		}
		for i := range aSlice {
			if !valueEqual(aSlice[i], bSlice[i]) {
				return false
			}
		}
		return true
	}
	if aok != bok {
		return false
	}

	return a == b
}
