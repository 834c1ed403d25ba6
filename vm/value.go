package vm

// Value is any runtime value. Receivers are classified by valueTag: immediates
// carry no shape, *Object values carry one, and Foreign values are opaque.
type Value = any

// Symbol is an interned name. Symbols are immediates.
type Symbol string

// Foreign is implemented by values that come from outside the object model.
// All foreign values dispatch through the Foreign class.
type Foreign interface {
	ForeignName() string
}

// valueTag is the explicit receiver-type tag used by dispatch guards.
type valueTag uint8

const (
	tagNil valueTag = iota
	tagTrue
	tagFalse
	tagInteger
	tagFloat
	tagString
	tagSymbol
	tagObject
	tagForeign
	tagUnknown
)

var tagNames = [...]string{
	tagNil:     "nil",
	tagTrue:    "true",
	tagFalse:   "false",
	tagInteger: "integer",
	tagFloat:   "float",
	tagString:  "string",
	tagSymbol:  "symbol",
	tagObject:  "object",
	tagForeign: "foreign",
	tagUnknown: "unknown",
}

func (t valueTag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return "invalid"
}

// tagOf classifies v. Object and Foreign checks come first since they are the
// common receivers at polymorphic sites.
func tagOf(v Value) valueTag {
	switch x := v.(type) {
	case *Object:
		if x == nil {
			return tagNil
		}
		return tagObject
	case nil:
		return tagNil
	case bool:
		if x {
			return tagTrue
		}
		return tagFalse
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return tagInteger
	case float32, float64:
		return tagFloat
	case string:
		return tagString
	case Symbol:
		return tagSymbol
	case Foreign:
		return tagForeign
	}
	return tagUnknown
}

// isImmediate reports whether values with this tag are shape-free.
func (t valueTag) isImmediate() bool {
	return t <= tagSymbol
}

// isBoolean reports whether the tag is one of the two boolean singletons.
func (t valueTag) isBoolean() bool {
	return t == tagTrue || t == tagFalse
}
