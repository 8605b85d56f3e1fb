package msgid

// Kind discriminates the two identifier spaces a message can be looked
// up by. The zero value is deliberately invalid so an unset Ref fails
// loudly instead of resolving against the wrong column.
type Kind int

const (
	KindExternal Kind = iota + 1 // public messageId ("m...")
	KindInternal                 // database row id
)

func (k Kind) String() string {
	switch k {
	case KindExternal:
		return "external"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Ref is a tagged message reference. Callers state which space the
// value lives in; nothing downstream guesses from the string shape.
type Ref struct {
	Kind  Kind
	Value string
}

func External(id string) Ref {
	return Ref{Kind: KindExternal, Value: id}
}

func Internal(rowID string) Ref {
	return Ref{Kind: KindInternal, Value: rowID}
}
