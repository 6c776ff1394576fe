package store

// FieldKind selects how the converter treats a field.
type FieldKind int

const (
	KindScalar FieldKind = iota
	KindEmbedded
	KindCollection
	KindMap
	KindEntityReference
)

func (k FieldKind) String() string {
	switch k {
	case KindScalar:
		return "SCALAR"
	case KindEmbedded:
		return "EMBEDDED"
	case KindCollection:
		return "COLLECTION"
	case KindMap:
		return "MAP"
	case KindEntityReference:
		return "ENTITY_REFERENCE"
	}

	return "UNKNOWN"
}

// EmbeddedPrecedence decides which encoding of an embedded field is tried
// first when a record could match both.
type EmbeddedPrecedence int

const (
	// PreferNested reads the sub-record stored under the field name and falls
	// back to sibling elements.
	PreferNested EmbeddedPrecedence = iota
	// PreferFlattened reads sibling elements when any of them belong to the
	// embedded type and falls back to the sub-record.
	PreferFlattened
)
