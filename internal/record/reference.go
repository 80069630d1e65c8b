package record

import "fmt"

// RefKind distinguishes the two shapes a reference field can take in source
// exports: a bare string, or a linked record carrying both an opaque value and
// a human-readable display label.
type RefKind int

const (
	// RefPlain is a bare string reference.
	RefPlain RefKind = iota
	// RefLinked is a {value, display} pair.
	RefLinked
)

// Reference is a resolved reference field. It is built once at ingestion time
// with ParseReference so readers never inspect raw shapes again.
type Reference struct {
	Kind    RefKind
	Value   string
	Display string
}

// Plain returns a plain reference.
func Plain(v string) Reference { return Reference{Kind: RefPlain, Value: v} }

// Linked returns a linked reference.
func Linked(value, display string) Reference {
	return Reference{Kind: RefLinked, Value: value, Display: display}
}

// ParseReference resolves a raw export value. Strings become Plain; objects
// with a "value" key become Linked, taking the label from "display_value" or
// "display". Anything else is formatted into a Plain reference; nil yields an
// empty Plain reference.
func ParseReference(raw any) Reference {
	switch v := raw.(type) {
	case nil:
		return Plain("")
	case string:
		return Plain(v)
	case Reference:
		return v
	case map[string]any:
		value, _ := v["value"].(string)
		display, _ := v["display_value"].(string)
		if display == "" {
			display, _ = v["display"].(string)
		}
		if value == "" && display == "" {
			return Plain("")
		}
		return Linked(value, display)
	}
	return Plain(fmt.Sprint(raw))
}

// String returns the label a reader should see: the display label for linked
// references (falling back to the value), the value otherwise.
func (r Reference) String() string {
	if r.Kind == RefLinked && r.Display != "" {
		return r.Display
	}
	return r.Value
}

// IsZero reports whether the reference carries no data.
func (r Reference) IsZero() bool { return r.Value == "" && r.Display == "" }

// Fields renders the reference as flat fields under prefix. Linked references
// also emit "<prefix>_value" so the opaque id survives.
func (r Reference) Fields(prefix string) Fields {
	out := Fields{prefix: r.String()}
	if r.Kind == RefLinked {
		out[prefix+"_value"] = r.Value
	}
	return out
}
