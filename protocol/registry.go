package protocol

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/minhng/cache-sync/cache"
)

// Built-in value type discriminators.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeBytes  = "bytes"
	TypeJSON   = "json"
)

// ValueRegistry maps wire type discriminators to Go value prototypes.
//
// Payload values are application-defined, so the codec must carry their type
// across the wire. Reconstructing arbitrary types from untrusted input is an
// attack surface, so decoding instantiates registered prototypes only: a
// discriminator outside the registry is rejected, never guessed at.
type ValueRegistry struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewValueRegistry creates a registry pre-populated with the built-in
// discriminators: string, int, float, bool, bytes, and json (a generic
// string-keyed object).
func NewValueRegistry() *ValueRegistry {
	r := &ValueRegistry{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}

	r.register(TypeString, "")
	r.register(TypeInt, int64(0))
	r.register(TypeFloat, float64(0))
	r.register(TypeBool, false)
	r.register(TypeBytes, []byte(nil))
	r.register(TypeJSON, map[string]any(nil))

	return r
}

// Register allow-lists a custom value type under the given discriminator.
// The prototype's concrete type is used for both encoding lookup and decode
// instantiation. Registering a name or type twice returns an error.
func (r *ValueRegistry) Register(name string, prototype any) error {
	if name == "" {
		return fmt.Errorf("value type name must not be empty")
	}
	if prototype == nil {
		return fmt.Errorf("value type %q: prototype must not be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t := reflect.TypeOf(prototype)
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("value type %q already registered", name)
	}
	if existing, exists := r.byType[t]; exists {
		return fmt.Errorf("type %s already registered as %q", t, existing)
	}

	r.byName[name] = t
	r.byType[t] = name
	return nil
}

func (r *ValueRegistry) register(name string, prototype any) {
	t := reflect.TypeOf(prototype)
	r.byName[name] = t
	r.byType[t] = name
}

// NameFor resolves the discriminator for a value. Integer and float widths
// are normalized to the built-in int and float discriminators.
func (r *ValueRegistry) NameFor(v any) (string, any, bool) {
	switch x := v.(type) {
	case string:
		return TypeString, x, true
	case int:
		return TypeInt, int64(x), true
	case int8:
		return TypeInt, int64(x), true
	case int16:
		return TypeInt, int64(x), true
	case int32:
		return TypeInt, int64(x), true
	case int64:
		return TypeInt, x, true
	case uint:
		return TypeInt, int64(x), true
	case uint8:
		return TypeInt, int64(x), true
	case uint16:
		return TypeInt, int64(x), true
	case uint32:
		return TypeInt, int64(x), true
	case float32:
		return TypeFloat, float64(x), true
	case float64:
		return TypeFloat, x, true
	case bool:
		return TypeBool, x, true
	case []byte:
		return TypeBytes, x, true
	case map[string]any:
		return TypeJSON, x, true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.byType[reflect.TypeOf(v)]
	return name, v, ok
}

// Decode instantiates a registered prototype for name and unmarshals data
// into it. Unknown discriminators are rejected.
func (r *ValueRegistry) Decode(name string, data []byte, m cache.Marshaller) (any, error) {
	r.mu.RLock()
	t, ok := r.byName[name]
	r.mu.RUnlock()

	if !ok {
		return nil, NewDecodeError("unregistered value type %q", name)
	}

	ptr := reflect.New(t)
	if err := m.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, &Error{
			Category: CategoryDecode,
			Msg:      fmt.Sprintf("value of type %q", name),
			Err:      err,
		}
	}
	return ptr.Elem().Interface(), nil
}
