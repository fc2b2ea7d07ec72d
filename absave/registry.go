package absave

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
)

// Registry errors
var (
	ErrNotStruct      = errors.New("type is not a struct")
	ErrDuplicateName  = errors.New("type identity already registered")
	ErrBadConstructor = errors.New("invalid constructor definition")
)

// ============================================================
// Reflector
// ============================================================

// Member is one encodable member of an object type.
type Member struct {
	Name  string
	Type  reflect.Type
	Index []int // Struct field index; nil if the member can only be set by a constructor
}

// BuildFunc constructs an instance from arguments already converted to
// the parameters' member types. It returns a T or *T.
type BuildFunc func(args []any) (any, error)

// Constructor is a registered builder for an object type.
type Constructor struct {
	Params []string // Member names, matched by the Object Builder
	Build  BuildFunc
}

// Reflector supplies type metadata to encoders, decoders and the Object
// Builder.
type Reflector interface {
	// Members returns the ordered members of a struct type.
	Members(t reflect.Type) ([]Member, error)
	// Describe returns the wire identity of t.
	Describe(t reflect.Type) TypeDescriptor
	// Resolve maps a wire identity back to a type.
	Resolve(d TypeDescriptor) (reflect.Type, bool)
	// Constructors returns the builders registered for t, in declaration
	// order.
	Constructors(t reflect.Type) []Constructor
}

// ============================================================
// Registry
// ============================================================

// Registry is the default Reflector. It derives members from exported
// struct fields, honouring `absave:"name"` and `absave:"-"` tags, and
// records every type it describes so that it can resolve it later.
//
// A Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[reflect.Type]*typeEntry
	byKey map[string]reflect.Type
}

type typeEntry struct {
	desc    TypeDescriptor
	members []Member
	ctors   []Constructor
	scanned bool
}

// RegisterOption customizes a registration.
type RegisterOption func(*typeEntry) error

// WithName overrides the wire name.
func WithName(name string) RegisterOption {
	return func(e *typeEntry) error {
		if name == "" {
			return fmt.Errorf("empty type name")
		}
		e.desc.Name = name
		return nil
	}
}

// WithModule overrides the defining module.
func WithModule(module string) RegisterOption {
	return func(e *typeEntry) error {
		if strings.ContainsRune(module, ',') {
			return fmt.Errorf("module %q contains a comma", module)
		}
		e.desc.Module = module
		return nil
	}
}

// WithVersion sets up to four version components.
func WithVersion(parts ...uint32) RegisterOption {
	return func(e *typeEntry) error {
		if len(parts) > len(e.desc.Version) {
			return fmt.Errorf("version has %d components, max %d", len(parts), len(e.desc.Version))
		}
		e.desc.Version = [4]uint32{}
		copy(e.desc.Version[:], parts)
		return nil
	}
}

// WithLocale sets the locale name.
func WithLocale(locale string) RegisterOption {
	return func(e *typeEntry) error {
		if strings.ContainsRune(locale, ',') {
			return fmt.Errorf("locale %q contains a comma", locale)
		}
		e.desc.Locale = locale
		return nil
	}
}

// WithPublicKeyToken sets the public-key token.
func WithPublicKeyToken(token []byte) RegisterOption {
	return func(e *typeEntry) error {
		e.desc.PublicKeyToken = append([]byte(nil), token...)
		return nil
	}
}

// WithConstructor adds a builder. Constructors are tried in the order they
// were added.
func WithConstructor(params []string, fn BuildFunc) RegisterOption {
	return func(e *typeEntry) error {
		if fn == nil {
			return fmt.Errorf("%w: nil build func", ErrBadConstructor)
		}
		for _, p := range params {
			if p == "" {
				return fmt.Errorf("%w: empty parameter name", ErrBadConstructor)
			}
		}
		e.ctors = append(e.ctors, Constructor{Params: append([]string(nil), params...), Build: fn})
		return nil
	}
}

// builtinTypes are registered in every new Registry so that interface
// slots holding them can be typed on the wire.
var builtinTypes = []reflect.Type{
	reflect.TypeFor[bool](),
	reflect.TypeFor[string](),
	reflect.TypeFor[int](),
	reflect.TypeFor[int8](),
	reflect.TypeFor[int16](),
	reflect.TypeFor[int32](),
	reflect.TypeFor[int64](),
	reflect.TypeFor[uint](),
	reflect.TypeFor[uint8](),
	reflect.TypeFor[uint16](),
	reflect.TypeFor[uint32](),
	reflect.TypeFor[uint64](),
	reflect.TypeFor[float32](),
	reflect.TypeFor[float64](),
	reflect.TypeFor[time.Time](),
	reflect.TypeFor[apd.Decimal](),
	reflect.TypeFor[uuid.UUID](),
	reflect.TypeFor[[]any](),
	reflect.TypeFor[map[string]any](),
	reflect.TypeFor[[]string](),
	reflect.TypeFor[map[string]string](),
	reflect.TypeFor[[]byte](),
}

// NewRegistry creates a registry with the builtin types registered.
func NewRegistry() *Registry {
	r := &Registry{
		types: make(map[reflect.Type]*typeEntry),
		byKey: make(map[string]reflect.Type),
	}
	for _, t := range builtinTypes {
		r.add(t, defaultDescriptor(t))
	}
	return r
}

// defaultDescriptor names t after its Go type and package path.
func defaultDescriptor(t reflect.Type) TypeDescriptor {
	return TypeDescriptor{Name: t.String(), Module: t.PkgPath()}
}

func (r *Registry) add(t reflect.Type, d TypeDescriptor) *typeEntry {
	e := &typeEntry{desc: d}
	r.types[t] = e
	r.byKey[d.Key()] = t
	return e
}

// Register records a type. sample is a value of the type, a pointer to
// one, or a reflect.Type. Registering a type again replaces its identity
// and constructors.
func (r *Registry) Register(sample any, opts ...RegisterOption) error {
	t, ok := sample.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(sample)
	}
	if t == nil {
		return fmt.Errorf("register: nil type")
	}
	t = derefType(t)

	e := &typeEntry{desc: defaultDescriptor(t)}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return fmt.Errorf("register %s: %w", t, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if other, ok := r.byKey[e.desc.Key()]; ok && other != t {
		return fmt.Errorf("register %s: %w: %s is %s", t, ErrDuplicateName, e.desc.Key(), other)
	}
	if old, ok := r.types[t]; ok {
		delete(r.byKey, old.desc.Key())
	}
	r.types[t] = e
	r.byKey[e.desc.Key()] = t
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(sample any, opts ...RegisterOption) {
	if err := r.Register(sample, opts...); err != nil {
		panic(err)
	}
}

// entry returns the entry for t, creating a default one if needed.
func (r *Registry) entry(t reflect.Type) *typeEntry {
	r.mu.RLock()
	e, ok := r.types[t]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.types[t]; ok {
		return e
	}
	d := defaultDescriptor(t)
	if _, taken := r.byKey[d.Key()]; taken {
		// Another type owns this identity; describe t without making it
		// resolvable.
		e := &typeEntry{desc: d}
		r.types[t] = e
		return e
	}
	return r.add(t, d)
}

// Describe implements Reflector.
func (r *Registry) Describe(t reflect.Type) TypeDescriptor {
	return r.entry(derefType(t)).desc
}

// Resolve implements Reflector.
func (r *Registry) Resolve(d TypeDescriptor) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byKey[d.Key()]
	return t, ok
}

// Constructors implements Reflector.
func (r *Registry) Constructors(t reflect.Type) []Constructor {
	return r.entry(derefType(t)).ctors
}

// Members implements Reflector.
func (r *Registry) Members(t reflect.Type) ([]Member, error) {
	t = derefType(t)
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s", ErrNotStruct, t)
	}
	e := r.entry(t)

	r.mu.RLock()
	members, scanned := e.members, e.scanned
	r.mu.RUnlock()
	if scanned {
		return members, nil
	}

	members, err := structMembers(t)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	e.members, e.scanned = members, true
	r.mu.Unlock()
	return members, nil
}

// structMembers lists exported fields in declaration order.
func structMembers(t reflect.Type) ([]Member, error) {
	var members []Member
	seen := make(map[string]bool)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("absave"); ok {
			tag, _, _ = strings.Cut(tag, ",")
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		if seen[name] {
			return nil, fmt.Errorf("%s: duplicate member name %q", t, name)
		}
		seen[name] = true
		members = append(members, Member{Name: name, Type: f.Type, Index: f.Index})
	}
	return members, nil
}
