package absave

import "reflect"

// parseState is the decoder's position within the current frame.
type parseState uint8

const (
	stateAwaitingHeader parseState = iota
	stateAwaitingName
	stateAwaitingValue
	stateInsideArray
	stateInsideDictionaryKey
	stateInsideDictionaryValue
	// stateAfterItem follows a value that no separator ended (a number,
	// a null or, in dictionaries, a nested structure).
	stateAfterItem
)

func (s parseState) String() string {
	switch s {
	case stateAwaitingHeader:
		return "awaiting-header"
	case stateAwaitingName:
		return "awaiting-name"
	case stateAwaitingValue:
		return "awaiting-value"
	case stateInsideArray:
		return "inside-array"
	case stateInsideDictionaryKey:
		return "inside-dictionary-key"
	case stateInsideDictionaryValue:
		return "inside-dictionary-value"
	case stateAfterItem:
		return "after-item"
	default:
		return "unknown"
	}
}

type frameKind uint8

const (
	frameRoot frameKind = iota // Root value that is not an object
	frameObject
	frameBox // Typed non-object value in an interface slot
	frameArray
	frameDictionary
	frameDiscard // Skipped structure
)

func (k frameKind) String() string {
	switch k {
	case frameRoot:
		return "root"
	case frameObject:
		return "object"
	case frameBox:
		return "box"
	case frameArray:
		return "array"
	case frameDictionary:
		return "dictionary"
	default:
		return "discard"
	}
}

// parseFrame is one in-progress structure on the decoder stack.
type parseFrame struct {
	kind  frameKind
	state parseState
	typ   reflect.Type // Concrete type being built (pointers stripped)
	dest  reflect.Type // Declared type of the parent slot; nil when popping writes nothing
	named bool
	start int // Offset of the opening marker

	// drop reads the structure by its type and stores nothing. It stands
	// in for an item the parent could not take.
	drop bool

	// afterSep is set once a separator has begun the current item.
	afterSep bool

	// Objects.
	members  []Member
	captured []Captured
	pos      int // Next slot (unnamed), names seen (named), items (root, box, array)
	pending  int // Member awaiting its value in named style; -1 discards

	// Arrays, dictionaries, roots and boxes.
	seq    reflect.Value
	dict   reflect.Value
	key    reflect.Value
	keyOK  bool
	result reflect.Value

	item bool // Discard stands in for a value of the parent
}

// slot returns the declared type of the slot the next item fills. A nil
// type with ok set means the item is read and dropped. ok is false when
// the frame has no room for another item.
func (f *parseFrame) slot() (t reflect.Type, ok bool) {
	switch f.kind {
	case frameRoot, frameBox:
		if f.pos > 0 {
			return nil, false
		}
		return f.typ, true
	case frameObject:
		if f.named {
			if f.pending < 0 {
				return nil, true
			}
			return f.members[f.pending].Type, true
		}
		if f.pos >= len(f.members) {
			return nil, false
		}
		return f.members[f.pos].Type, true
	case frameArray:
		if f.typ.Kind() == reflect.Array && f.pos >= f.typ.Len() {
			return nil, false
		}
		return f.typ.Elem(), true
	case frameDictionary:
		if !f.keyOK {
			return nil, true
		}
		return f.typ.Elem(), true
	}
	return nil, true
}

// assign stores v (invalid for null) in the current slot and advances.
func (f *parseFrame) assign(v reflect.Value) {
	switch f.kind {
	case frameRoot, frameBox:
		if f.pos == 0 {
			f.result = v
		}
		f.pos++
	case frameObject:
		idx := f.pos
		if f.named {
			idx = f.pending
			f.pending = -1
		} else {
			f.pos++
		}
		if idx >= 0 && idx < len(f.members) {
			f.captured = append(f.captured, Captured{Member: f.members[idx], Value: v})
		}
	case frameArray:
		elem := f.typ.Elem()
		if !v.IsValid() {
			v = reflect.Zero(elem)
		}
		if f.typ.Kind() == reflect.Slice {
			f.seq = reflect.Append(f.seq, v)
		} else if f.pos < f.seq.Len() {
			f.seq.Index(f.pos).Set(v)
		}
		f.pos++
	case frameDictionary:
		if f.keyOK {
			if !v.IsValid() {
				v = reflect.Zero(f.typ.Elem())
			}
			f.dict.SetMapIndex(f.key, v)
		}
		f.keyOK = false
	}
}

// nextItem moves to the start of the next item after a separator.
func (f *parseFrame) nextItem() {
	f.afterSep = true
	switch f.kind {
	case frameObject:
		if f.named {
			f.state = stateAwaitingName
		} else {
			f.state = stateAwaitingValue
		}
	case frameArray:
		f.state = stateInsideArray
	case frameDictionary:
		f.state = stateInsideDictionaryKey
	default:
		f.state = stateAwaitingValue
	}
}

// afterNested moves past a nested child that just closed. Objects and
// arrays continue without a separator; dictionaries expect one before the
// next key.
func (f *parseFrame) afterNested() {
	f.afterSep = false
	switch f.kind {
	case frameObject:
		if f.named {
			f.state = stateAwaitingName
		} else {
			f.state = stateAwaitingValue
		}
	case frameArray:
		f.state = stateInsideArray
	default:
		f.state = stateAfterItem
	}
}

// atValue reports whether the frame is waiting for a value.
func (f *parseFrame) atValue() bool {
	switch f.state {
	case stateAwaitingValue, stateInsideArray, stateInsideDictionaryValue:
		return f.kind != frameDiscard
	}
	return false
}
