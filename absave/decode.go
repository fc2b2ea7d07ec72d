package absave

import (
	"encoding"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"reflect"
	"strconv"
)

// ============================================================
// Public API
// ============================================================

// Unmarshal decodes a document into v, which must be a non-nil pointer.
func Unmarshal(data []byte, v any, s Settings) error {
	_, err := unmarshal(data, v, s)
	return err
}

func unmarshal(data []byte, v any, s Settings) (Header, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return Header{}, fmt.Errorf("absave: Unmarshal needs a non-nil pointer, got %T", v)
	}
	d := newDecodeState(data, s)
	res, err := d.decode(rv.Type().Elem())
	if err != nil {
		return d.header, err
	}
	if res.IsValid() {
		rv.Elem().Set(res)
	} else {
		rv.Elem().SetZero()
	}
	return d.header, nil
}

// Decoder reads one document from an input stream.
type Decoder struct {
	r      io.Reader
	s      Settings
	header Header
}

// NewDecoder returns a decoder that reads from r.
func NewDecoder(r io.Reader, s Settings) *Decoder {
	return &Decoder{r: r, s: s}
}

// Decode reads the remainder of the stream as one document and stores it
// in v.
func (dec *Decoder) Decode(v any) error {
	data, err := io.ReadAll(dec.r)
	if err != nil {
		return fmt.Errorf("absave: read: %w", err)
	}
	dec.header, err = unmarshal(data, v, dec.s)
	return err
}

// Header returns the header of the last decoded document.
func (dec *Decoder) Header() Header {
	return dec.header
}

// ============================================================
// Decode Session
// ============================================================

type decodeState struct {
	scan   *Scanner
	s      Settings
	header Header

	refl  Reflector
	cache *TypeCache
	errs  *ErrorHandler
	log   *slog.Logger

	stack  []*parseFrame
	result reflect.Value
}

func newDecodeState(data []byte, s Settings) *decodeState {
	return &decodeState{
		scan: NewScanner(data),
		s:    s,
		refl: s.reflector(),
		errs: s.errors(),
		log:  s.logger(),
	}
}

// fail routes an error through the handler. A nil return means the kind is
// suppressed and decoding continues.
func (d *decodeState) fail(kind ErrorKind, pos int, format string, args ...any) error {
	err := d.errs.Handle(kind, pos, format, args...)
	if err == nil && !d.errs.IgnoreAll {
		d.log.Warn("suppressed error", slog.String("kind", kind.String()), slog.Int("pos", pos))
	}
	return err
}

func (d *decodeState) top() *parseFrame {
	if len(d.stack) == 0 {
		return nil
	}
	return d.stack[len(d.stack)-1]
}

func (d *decodeState) push(f *parseFrame) {
	d.stack = append(d.stack, f)
}

// discard pushes a frame that skips a structure. An item discard stands
// in for a value and advances its parent when it closes.
func (d *decodeState) discard(pos int, item bool) {
	d.push(&parseFrame{kind: frameDiscard, start: pos, item: item})
}

func (d *decodeState) decode(root reflect.Type) (reflect.Value, error) {
	ok, err := d.readHeader()
	if err != nil || !ok {
		return reflect.Value{}, err
	}
	d.cache = NewTypeCache(d.s.CacheTypes && d.header.Typed)
	d.log.Debug("decode start",
		slog.String("style", d.header.Style.String()),
		slog.Bool("typed", d.header.Typed),
		slog.Int("bytes", len(d.scan.input)))

	if err := d.pushRoot(root); err != nil {
		return reflect.Value{}, err
	}

	for len(d.stack) > 0 {
		f := d.top()
		if t, ok := d.pendingNumber(f); ok {
			if err := d.readNumber(f, t); err != nil {
				return reflect.Value{}, err
			}
			continue
		}

		tok := d.scan.Next()
		if err := d.handle(f, tok); err != nil {
			return reflect.Value{}, err
		}
		if tok.Type == TokenEOF {
			// Frames still open at end of input close implicitly.
			for len(d.stack) > 0 {
				if err := d.pop(tok.Pos); err != nil {
					return reflect.Value{}, err
				}
			}
			break
		}
	}
	if !d.scan.AtEnd() {
		if err := d.fail(KindUnexpectedToken, d.scan.Pos(), "data after end of document"); err != nil {
			return reflect.Value{}, err
		}
	}

	d.log.Debug("decode done", slog.Int("cached_types", d.cache.Len()))
	return d.result, nil
}

// readHeader parses the header. ok is false when there is no body to read.
func (d *decodeState) readHeader() (ok bool, err error) {
	tok := d.scan.Next()
	fallback := Header{Style: d.s.Style, Typed: true}
	if fallback.Style == StyleInfer {
		fallback.Style = StyleUnnamed
	}

	if tok.Type != TokenNextItem {
		d.header = fallback
		return false, d.fail(KindInvalidHeader, tok.Pos, "header not terminated by a separator")
	}
	h, perr := ParseHeader(tok.Leading)
	if perr != nil {
		if err := d.fail(KindInvalidHeader, tok.Start, "%v", perr); err != nil {
			return false, err
		}
		h = fallback
	}
	if d.s.Style != StyleInfer && h.Style != d.s.Style {
		if err := d.fail(KindInvalidHeader, tok.Start, "document is %s, decoder expects %s", h.Style, d.s.Style); err != nil {
			return false, err
		}
	}
	d.header = h
	return true, nil
}

func (d *decodeState) pushRoot(t reflect.Type) error {
	base := derefType(t)
	if info := classifyType(t); !info.dynamic && info.cat == CategoryObject && !d.nullBody(t) {
		f, err := d.objectFrame(base, t, d.scan.Pos())
		if err != nil {
			return err
		}
		d.push(f)
		return nil
	}
	d.push(&parseFrame{kind: frameRoot, state: stateAwaitingValue, typ: t, dest: t})
	return nil
}

// nullBody reports whether a pointer root is written as a lone null. A
// root object whose only member is null has the same body; pointer roots
// read it as nil.
func (d *decodeState) nullBody(t reflect.Type) bool {
	b, ok := d.scan.PeekByte()
	return ok && b == Null && t.Kind() == reflect.Pointer && d.scan.Pos()+1 == len(d.scan.input)
}

func (d *decodeState) objectFrame(t, dest reflect.Type, pos int) (*parseFrame, error) {
	members, err := d.refl.Members(t)
	if err != nil {
		return nil, fmt.Errorf("absave: %w", err)
	}
	f := &parseFrame{
		kind:    frameObject,
		typ:     t,
		dest:    dest,
		named:   d.header.Style == StyleNamed,
		start:   pos,
		members: members,
		pending: -1,
	}
	if f.named {
		f.state = stateAwaitingName
	} else {
		f.state = stateAwaitingValue
	}
	return f, nil
}

// ============================================================
// Token Dispatch
// ============================================================

func (d *decodeState) handle(f *parseFrame, tok Token) error {
	if f.kind == frameDiscard {
		return d.onDiscard(f, tok)
	}
	switch f.state {
	case stateAwaitingName:
		return d.onName(f, tok)
	case stateInsideDictionaryKey:
		return d.onKey(f, tok)
	case stateAfterItem:
		return d.onAfterItem(f, tok)
	default:
		return d.onValue(f, tok)
	}
}

// onValue handles a token at the start of a value.
func (d *decodeState) onValue(f *parseFrame, tok Token) error {
	present := true
	switch tok.Type {
	case TokenExitLevel, TokenEOF:
		present = tok.Leading != "" || f.afterSep || d.emptyStringSlot(f)
	}

	var slotT reflect.Type
	if present {
		t, ok := f.slot()
		if !ok {
			if err := d.fail(KindTooManyItems, tok.Start, "%s %s has no room for another item", f.kind, f.typ); err != nil {
				return err
			}
		}
		slotT = t
	}

	switch tok.Type {
	case TokenNull:
		if tok.Leading != "" {
			if err := d.fail(KindInvalidValue, tok.Start, "literal %q before null", tok.Leading); err != nil {
				return err
			}
		}
		f.assign(reflect.Value{})
		f.state = stateAfterItem
		return nil

	case TokenNextItem:
		if err := d.assignLiteral(f, slotT, tok); err != nil {
			return err
		}
		f.nextItem()
		return nil

	case TokenExitLevel:
		if present {
			if err := d.assignLiteral(f, slotT, tok); err != nil {
				return err
			}
		}
		return d.pop(tok.Pos)

	case TokenEOF:
		if present {
			return d.assignLiteral(f, slotT, tok)
		}
		return nil

	case TokenStartObject:
		return d.openObject(slotT, tok)

	case TokenStartArray:
		if err := d.noPrefix(tok); err != nil {
			return err
		}
		return d.openArray(slotT, tok.Pos)

	case TokenStartDictionary:
		if err := d.noPrefix(tok); err != nil {
			return err
		}
		return d.openDictionary(slotT, tok.Pos)
	}
	return nil
}

// emptyStringSlot reports whether an exit byte or end of input right at
// the start of an object, box or root closes an empty string. Arrays
// treat the same bytes as an empty array.
func (d *decodeState) emptyStringSlot(f *parseFrame) bool {
	if f.kind == frameArray || f.kind == frameDictionary {
		return false
	}
	t, ok := f.slot()
	if !ok || t == nil {
		return false
	}
	info := classifyType(t)
	return info.cat == CategoryString && !info.converted && !info.dynamic
}

func (d *decodeState) noPrefix(tok Token) error {
	if tok.Leading == "" {
		return nil
	}
	return d.fail(KindUnexpectedToken, tok.Start, "literal %q before %s", tok.Leading, tok.Type)
}

// onName handles a token where named style expects a member name.
func (d *decodeState) onName(f *parseFrame, tok Token) error {
	switch tok.Type {
	case TokenNextItem:
		f.pending = -1
		f.pos++
		switch idx := memberIndex(f.members, tok.Leading); {
		case tok.Leading == "":
			if err := d.fail(KindMissingName, tok.Start, "empty member name in %s", f.typ); err != nil {
				return err
			}
		case idx < 0:
			if err := d.fail(KindMissingName, tok.Start, "%s has no member %q", f.typ, tok.Leading); err != nil {
				return err
			}
		case f.pos > len(f.members):
			if err := d.fail(KindTooManyItems, tok.Start, "%s has %d members", f.typ, len(f.members)); err != nil {
				return err
			}
		default:
			f.pending = idx
		}
		f.state = stateAwaitingValue
		f.afterSep = true
		return nil

	case TokenExitLevel, TokenEOF:
		if tok.Leading != "" || f.afterSep {
			if err := d.fail(KindUnexpectedToken, tok.Start, "member name %q without a value", tok.Leading); err != nil {
				return err
			}
		}
		if tok.Type == TokenExitLevel {
			return d.pop(tok.Pos)
		}
		return nil

	case TokenNull:
		if err := d.fail(KindMissingName, tok.Pos, "null value without a member name in %s", f.typ); err != nil {
			return err
		}
		f.state = stateAfterItem
		return nil
	}

	// A structure where a name belongs.
	if err := d.fail(KindUnexpectedToken, tok.Pos, "%s where a member name was expected", tok.Type); err != nil {
		return err
	}
	return d.skipStructure(tok, false)
}

func memberIndex(members []Member, name string) int {
	for i, m := range members {
		if m.Name == name {
			return i
		}
	}
	return -1
}

// onKey handles a token where a dictionary key is expected.
func (d *decodeState) onKey(f *parseFrame, tok Token) error {
	switch tok.Type {
	case TokenNextItem:
		f.keyOK = false
		k, err := parseKey(tok.Leading, f.typ.Key())
		if err != nil {
			if err := d.fail(KindInvalidValue, tok.Start, "dictionary key %q: %v", tok.Leading, err); err != nil {
				return err
			}
		} else {
			f.key, f.keyOK = k, true
		}
		f.state = stateInsideDictionaryValue
		f.afterSep = true
		return nil

	case TokenExitLevel, TokenEOF:
		if tok.Leading != "" || f.afterSep {
			if err := d.fail(KindUnexpectedToken, tok.Start, "dictionary key %q without a value", tok.Leading); err != nil {
				return err
			}
		}
		if tok.Type == TokenExitLevel {
			return d.pop(tok.Pos)
		}
		return nil

	case TokenNull:
		return d.fail(KindUnexpectedToken, tok.Pos, "null where a dictionary key was expected")
	}

	if err := d.fail(KindUnexpectedToken, tok.Pos, "%s where a dictionary key was expected", tok.Type); err != nil {
		return err
	}
	return d.skipStructure(tok, false)
}

// onAfterItem handles the token after a number, a null or a nested
// dictionary value.
func (d *decodeState) onAfterItem(f *parseFrame, tok Token) error {
	switch tok.Type {
	case TokenNextItem, TokenExitLevel, TokenEOF:
		if tok.Leading != "" {
			if err := d.fail(KindUnexpectedToken, tok.Start, "literal %q directly after a value", tok.Leading); err != nil {
				return err
			}
		}
		switch tok.Type {
		case TokenNextItem:
			f.nextItem()
		case TokenExitLevel:
			return d.pop(tok.Pos)
		}
		return nil
	}

	// A null or structure without its separator. Read it as the next
	// item.
	f.nextItem()
	f.afterSep = false
	return d.handle(f, tok)
}

// onDiscard skips everything up to the discard frame's exit byte. Nested
// structures get their own frames.
func (d *decodeState) onDiscard(f *parseFrame, tok Token) error {
	switch tok.Type {
	case TokenStartObject, TokenStartArray, TokenStartDictionary:
		return d.skipStructure(tok, false)
	case TokenExitLevel:
		return d.pop(tok.Pos)
	}
	return nil
}

// skipStructure drops the structure tok opens. A typed object whose prefix
// resolves is read by its members, which keeps packed numbers and nested
// type prefixes in step with the encoder. Anything else is skipped token
// by token.
func (d *decodeState) skipStructure(tok Token, item bool) error {
	if tok.Type == TokenStartObject && d.header.Typed && tok.Leading != "" {
		rt, err := d.resolveTypePrefix(tok, nil, true)
		if err != nil {
			return err
		}
		if rt != nil {
			return d.pushObject(rt, nil, tok.Pos, true)
		}
	}
	d.discard(tok.Pos, item)
	return nil
}

// ============================================================
// Nested Structures
// ============================================================

// openObject handles a start-object marker. Its leading text is the type
// prefix in typed documents.
func (d *decodeState) openObject(slotT reflect.Type, tok Token) error {
	var declared reflect.Type // nil for interface slots
	if slotT != nil {
		info := classifyType(slotT)
		switch {
		case info.dynamic:
		case info.cat == CategoryObject:
			declared = derefType(slotT)
		default:
			if err := d.fail(KindUnexpectedToken, tok.Pos, "object where %s was expected", slotT); err != nil {
				return err
			}
			slotT = nil
		}
	}
	if slotT == nil {
		return d.skipStructure(tok, true)
	}

	var rt reflect.Type
	if d.header.Typed {
		t, err := d.resolveTypePrefix(tok, declared, false)
		if err != nil {
			return err
		}
		rt = t
	} else if tok.Leading != "" {
		if err := d.fail(KindUnexpectedToken, tok.Start, "type prefix %q in an untyped document", tok.Leading); err != nil {
			return err
		}
	}

	switch {
	case declared != nil:
		if rt != nil && rt != declared {
			// The prefix names another type and the mismatch has been
			// reported. Read it as that type and drop it.
			return d.pushObject(rt, nil, tok.Pos, true)
		}
		rt = declared
	case rt == nil:
		if err := d.fail(KindInvalidValue, tok.Pos, "cannot infer the type of a %s value without a type prefix", slotT); err != nil {
			return err
		}
		d.discard(tok.Pos, true)
		return nil
	case !rt.AssignableTo(derefType(slotT)):
		if err := d.fail(KindInvalidValue, tok.Pos, "%s does not fit a %s slot", rt, slotT); err != nil {
			return err
		}
		return d.pushObject(rt, nil, tok.Pos, true)
	}
	return d.pushObject(rt, slotT, tok.Pos, false)
}

// pushObject opens an object frame for rt, or a box frame when rt is not an
// object type. A dropped frame stores nothing in its parent.
func (d *decodeState) pushObject(rt, dest reflect.Type, pos int, drop bool) error {
	if info := classifyType(rt); info.cat == CategoryObject && !info.dynamic {
		f, err := d.objectFrame(derefType(rt), dest, pos)
		if err != nil {
			return err
		}
		f.drop = drop
		d.push(f)
		return nil
	}
	d.push(&parseFrame{kind: frameBox, state: stateAwaitingValue, typ: rt, dest: dest, start: pos, drop: drop})
	return nil
}

// resolveTypePrefix reads the type prefix of an object or box. With the
// cache on, the prefix is either a 2-byte key or TypeRef text followed by
// the key it is registered under. A prefix that names a type other than
// declared returns that type along with the error.
//
// While skipping, text naming an unknown type still claims its cache key
// and yields a nil type without an error.
func (d *decodeState) resolveTypePrefix(tok Token, declared reflect.Type, skipping bool) (reflect.Type, error) {
	lit := tok.Leading
	if !d.cache.Enabled() {
		return d.typeFromText(lit, declared, tok.Start, skipping)
	}

	if len(lit) < cacheKeyLen {
		return declared, d.fail(KindUnknownTypeKey, tok.Start, "type prefix %q is shorter than a cache key", lit)
	}
	key := parseCacheKey(lit[len(lit)-cacheKeyLen:])

	if len(lit) == cacheKeyLen {
		ent, ok := d.cache.Resolve(key)
		if !ok {
			return declared, d.fail(KindUnknownTypeKey, tok.Start, "type key %d was never registered", key)
		}
		if declared == nil {
			return ent.Type, nil
		}
		if ent.Type != nil && ent.Type != declared {
			return ent.Type, d.fail(KindInvalidValue, tok.Start, "type key %d is %s, expected %s", key, ent.Type, declared)
		}
		return declared, nil
	}

	text := lit[:len(lit)-cacheKeyLen]
	t, err := d.typeFromText(text, declared, tok.Start, skipping)
	if err != nil {
		return nil, err
	}
	if !d.cache.Register(key, text, t) {
		if err := d.fail(KindUnknownTypeKey, tok.Start, "type key %d out of sequence", key); err != nil {
			return nil, err
		}
	} else {
		d.log.Debug("type cached", slog.Int("key", int(key)), slog.String("typeref", text))
	}
	return t, nil
}

// typeFromText parses TypeRef text. For a concrete slot the text must
// name the declared type.
func (d *decodeState) typeFromText(text string, declared reflect.Type, pos int, skipping bool) (reflect.Type, error) {
	desc, err := ParseTypeRef(text)
	if err != nil {
		if skipping {
			return nil, nil
		}
		return declared, d.fail(KindInvalidValue, pos, "%v", err)
	}
	if declared != nil {
		if desc.Key() == d.refl.Describe(declared).Key() {
			return declared, nil
		}
		rt, ok := d.refl.Resolve(desc)
		if ok && rt == declared {
			return declared, nil
		}
		if !ok {
			rt = declared
		}
		return rt, d.fail(KindInvalidValue, pos, "document type %s does not match %s", desc.Key(), declared)
	}
	rt, ok := d.refl.Resolve(desc)
	if !ok {
		if skipping {
			return nil, nil
		}
		return nil, d.fail(KindInvalidValue, pos, "unknown type %s", desc)
	}
	return rt, nil
}

func (d *decodeState) openArray(slotT reflect.Type, pos int) error {
	base, ok, err := d.structureType(slotT, CategoryArray, anySliceType, pos)
	if err != nil || !ok {
		if err == nil {
			d.discard(pos, true)
		}
		return err
	}
	f := &parseFrame{kind: frameArray, state: stateInsideArray, typ: base, dest: slotT, start: pos}
	if base.Kind() == reflect.Slice {
		f.seq = reflect.MakeSlice(base, 0, 0)
	} else {
		f.seq = reflect.New(base).Elem()
	}
	d.push(f)
	return nil
}

func (d *decodeState) openDictionary(slotT reflect.Type, pos int) error {
	base, ok, err := d.structureType(slotT, CategoryDictionary, anyMapType, pos)
	if err != nil || !ok {
		if err == nil {
			d.discard(pos, true)
		}
		return err
	}
	d.push(&parseFrame{
		kind:  frameDictionary,
		state: stateInsideDictionaryKey,
		typ:   base,
		dest:  slotT,
		start: pos,
		dict:  reflect.MakeMap(base),
	})
	return nil
}

// structureType checks that slotT can hold an array or dictionary. Interface
// slots take the generic form. ok is false when the structure must be
// skipped.
func (d *decodeState) structureType(slotT reflect.Type, want Category, generic reflect.Type, pos int) (reflect.Type, bool, error) {
	if slotT == nil {
		return nil, false, nil
	}
	info := classifyType(slotT)
	base := derefType(slotT)
	if info.dynamic {
		if generic.AssignableTo(base) {
			return generic, true, nil
		}
	} else if info.cat == want {
		return base, true, nil
	}
	return nil, false, d.fail(KindUnexpectedToken, pos, "%s where %s was expected", want, slotT)
}

// pop closes the top frame and stores its value in the parent.
func (d *decodeState) pop(pos int) error {
	f := d.top()
	d.stack = d.stack[:len(d.stack)-1]

	v, err := d.materialize(f)
	if err != nil {
		var be *buildError
		if !errors.As(err, &be) {
			return err
		}
		if err := d.fail(be.kind, f.start, "%s", be.msg); err != nil {
			return err
		}
		v = reflect.Value{}
	}
	if f.kind != frameDiscard {
		d.log.Debug("frame closed", slog.String("kind", f.kind.String()), slog.String("type", f.typ.String()))
	}

	parent := d.top()
	if f.kind == frameDiscard && !f.item {
		return nil
	}

	if v.IsValid() && f.dest != nil {
		if v, err = fitSlot(v, f.dest); err != nil {
			if err := d.fail(KindInvalidValue, pos, "%v", err); err != nil {
				return err
			}
			v = reflect.Value{}
		}
	}

	if parent == nil {
		d.result = v
		return nil
	}
	parent.assign(v)
	parent.afterNested()
	return nil
}

func (d *decodeState) materialize(f *parseFrame) (reflect.Value, error) {
	if f.drop {
		return reflect.Value{}, nil
	}
	switch f.kind {
	case frameObject:
		return Build(f.typ, f.captured, d.refl.Constructors(f.typ))
	case frameArray:
		return f.seq, nil
	case frameDictionary:
		return f.dict, nil
	case frameRoot, frameBox:
		if f.result.IsValid() {
			return f.result, nil
		}
	}
	return reflect.Value{}, nil
}

// fitSlot converts v, a value of a concrete type, to the declared slot
// type t: through pointer levels and into interfaces.
func fitSlot(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	if v.Type() == t {
		return v, nil
	}
	switch t.Kind() {
	case reflect.Pointer:
		inner, err := fitSlot(v, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(inner)
		return p, nil
	case reflect.Interface:
		if !v.Type().AssignableTo(t) {
			return reflect.Value{}, fmt.Errorf("%s does not implement %s", v.Type(), t)
		}
		out := reflect.New(t).Elem()
		out.Set(v)
		return out, nil
	}
	if v.Type().ConvertibleTo(t) && v.Kind() == t.Kind() {
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot store %s in %s", v.Type(), t)
}

// ============================================================
// Literals
// ============================================================

// assignLiteral parses the token's leading text for a slot of type t and
// stores it. A nil t drops the item.
func (d *decodeState) assignLiteral(f *parseFrame, t reflect.Type, tok Token) error {
	if t == nil {
		f.assign(reflect.Value{})
		return nil
	}
	v, err := d.parseLiteral(tok.Leading, t)
	if err == nil {
		v, err = fitSlot(v, t)
	}
	if err != nil {
		if err := d.fail(KindInvalidValue, tok.Start, "%v", err); err != nil {
			return err
		}
		v = reflect.Value{}
	}
	f.assign(v)
	return nil
}

// parseLiteral converts literal text to a value of the concrete type
// behind t.
func (d *decodeState) parseLiteral(text string, t reflect.Type) (reflect.Value, error) {
	info := classifyType(t)
	base := derefType(t)

	if info.dynamic {
		return reflect.ValueOf(text), nil
	}

	switch info.cat {
	case CategoryTypeRef:
		desc, err := ParseTypeRef(text)
		if err != nil {
			return reflect.Value{}, err
		}
		rt, ok := d.refl.Resolve(desc)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown type %s", desc)
		}
		out := reflect.New(typeRefType).Elem()
		out.Set(reflect.ValueOf(rt))
		return out, nil

	case CategoryString:
		if info.converted {
			p := reflect.New(base)
			if err := p.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(text)); err != nil {
				return reflect.Value{}, fmt.Errorf("%s: %w", base, err)
			}
			return p.Elem(), nil
		}
		out := reflect.New(base).Elem()
		out.SetString(text)
		return out, nil

	case CategoryBoolean:
		out := reflect.New(base).Elem()
		switch text {
		case "T", "t":
			out.SetBool(true)
		case "F", "f":
		default:
			return reflect.Value{}, fmt.Errorf("invalid boolean %q", text)
		}
		return out, nil
	}

	return reflect.Value{}, fmt.Errorf("literal %q where %s %s was expected", text, info.cat, t)
}

// parseKey converts dictionary key text to the map's key type.
func parseKey(text string, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		out.SetString(text)
		return out, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(text, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetInt(n)
		return out, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(text, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetUint(n)
		return out, nil
	case reflect.Interface:
		if reflect.TypeFor[string]().AssignableTo(t) {
			out.Set(reflect.ValueOf(text))
			return out, nil
		}
	}
	if isConvertible(t) {
		if err := out.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(text)); err != nil {
			return reflect.Value{}, err
		}
		return out, nil
	}
	return reflect.Value{}, fmt.Errorf("unsupported key type %s", t)
}

// ============================================================
// Numbers
// ============================================================

// pendingNumber reports whether the next item is a raw number: the frame
// awaits a value for a numeric or date slot and the next byte is not a
// null or exit marker.
func (d *decodeState) pendingNumber(f *parseFrame) (reflect.Type, bool) {
	if !f.atValue() {
		return nil, false
	}
	t, ok := f.slot()
	if !ok && f.kind == frameArray {
		// A full fixed-size array still consumes the number it rejects.
		t, ok = f.typ.Elem(), true
	}
	if !ok || t == nil {
		return nil, false
	}
	info := classifyType(t)
	if info.dynamic || (info.cat != CategoryNumber && info.cat != CategoryDateTime) {
		return nil, false
	}
	b, ok := d.scan.PeekByte()
	if !ok || b == Null || b == ExitLevel {
		return nil, false
	}
	return t, true
}

// readNumber reads a raw number for a slot of type t and stores it.
func (d *decodeState) readNumber(f *parseFrame, t reflect.Type) error {
	pos := d.scan.Pos()
	if _, room := f.slot(); !room {
		if err := d.fail(KindTooManyItems, pos, "%s %s has no room for another item", f.kind, f.typ); err != nil {
			return err
		}
	}
	v, err := d.numberValue(t)
	if err == nil {
		v, err = fitSlot(v, t)
	}
	if err != nil {
		if err := d.fail(KindInvalidValue, pos, "%s: %v", t, err); err != nil {
			return err
		}
		v = reflect.Value{}
	}
	f.assign(v)
	f.state = stateAfterItem
	return nil
}

func (d *decodeState) numberValue(t reflect.Type) (reflect.Value, error) {
	info := classifyType(t)
	base := derefType(t)
	out := reflect.New(base).Elem()

	if info.cat == CategoryDateTime {
		u, err := d.readUint(8)
		if err != nil {
			return reflect.Value{}, err
		}
		out.Set(reflect.ValueOf(FromTicks(int64(u))))
		return out, nil
	}

	switch k := info.num; {
	case k.Signed():
		u, err := d.readUint(k.Size())
		if err != nil {
			return reflect.Value{}, err
		}
		n := signExtend(u, k.Size())
		if out.OverflowInt(n) {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", n, base)
		}
		out.SetInt(n)
	case k == NumberFloat32:
		u, err := d.readUint(4)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetFloat(float64(math.Float32frombits(uint32(u))))
	case k == NumberFloat64:
		u, err := d.readUint(8)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetFloat(math.Float64frombits(u))
	case k == NumberDecimal:
		var w [4]uint32
		for i := range w {
			u, err := d.readUint(4)
			if err != nil {
				return reflect.Value{}, err
			}
			w[i] = uint32(u)
		}
		dec, err := DecimalFromWords(w)
		if err != nil {
			return reflect.Value{}, err
		}
		out.Set(reflect.ValueOf(dec).Convert(base))
	default:
		u, err := d.readUint(k.Size())
		if err != nil {
			return reflect.Value{}, err
		}
		if out.OverflowUint(u) {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", u, base)
		}
		out.SetUint(u)
	}
	return out, nil
}

func (d *decodeState) readUint(size int) (uint64, error) {
	le, err := d.scan.ReadNumber()
	if err != nil {
		return 0, err
	}
	return widen(le, size)
}
