package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

var (
	contextType  = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	deferredType = reflect.TypeOf((*Deferred)(nil)).Elem()
)

// Lifecycle and disposal methods are never exposed to peers.
var reservedMethods = map[string]bool{
	"OnConnected":    true,
	"OnDisconnected": true,
	"Close":          true,
}

type resultKind int

const (
	resultVoid resultKind = iota
	resultValue
	resultDeferred
)

type methodKey struct {
	name  string
	arity int
}

// hubMethod is a precomputed invocation thunk for one exported method.
type hubMethod struct {
	name        string
	fn          reflect.Value
	params      []reflect.Type
	withContext bool
	variadic    bool
	result      resultKind
	returnsErr  bool
}

type methodTable struct {
	hubType reflect.Type
	methods map[methodKey]*hubMethod
}

var methodTables sync.Map

// methodsFor returns the method table for the dynamic type of hub, building
// it on first use.
func methodsFor(hub any) *methodTable {
	t := reflect.TypeOf(hub)
	if cached, ok := methodTables.Load(t); ok {
		return cached.(*methodTable)
	}
	table := buildMethodTable(t)
	actual, _ := methodTables.LoadOrStore(t, table)
	return actual.(*methodTable)
}

func buildMethodTable(t reflect.Type) *methodTable {
	table := &methodTable{
		hubType: t,
		methods: make(map[methodKey]*hubMethod),
	}
	if t == nil {
		return table
	}

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !m.IsExported() || reservedMethods[m.Name] {
			continue
		}
		hm, ok := newHubMethod(m)
		if !ok {
			continue
		}
		key := methodKey{name: hm.name, arity: len(hm.params)}
		if _, exists := table.methods[key]; !exists {
			table.methods[key] = hm
		}
	}
	return table
}

func newHubMethod(m reflect.Method) (*hubMethod, bool) {
	mt := m.Type
	hm := &hubMethod{
		name:     m.Name,
		fn:       m.Func,
		variadic: mt.IsVariadic(),
	}

	// In(0) is the receiver.
	first := 1
	if mt.NumIn() > 1 && mt.In(1) == contextType {
		hm.withContext = true
		first = 2
	}
	for i := first; i < mt.NumIn(); i++ {
		hm.params = append(hm.params, mt.In(i))
	}

	switch mt.NumOut() {
	case 0:
		hm.result = resultVoid
	case 1:
		if mt.Out(0) == errorType {
			hm.result = resultVoid
			hm.returnsErr = true
		} else {
			hm.result = kindOf(mt.Out(0))
		}
	case 2:
		if mt.Out(1) != errorType {
			return nil, false
		}
		hm.result = kindOf(mt.Out(0))
		hm.returnsErr = true
	default:
		return nil, false
	}
	return hm, true
}

func kindOf(t reflect.Type) resultKind {
	if t.Implements(deferredType) {
		return resultDeferred
	}
	return resultValue
}

func (t *methodTable) lookup(name string, arity int) (*hubMethod, bool) {
	m, ok := t.methods[methodKey{name: name, arity: arity}]
	return m, ok
}

// invoke coerces args, calls the method and normalizes its outcome into a
// Deferred. It never panics; faults surface through the Deferred.
func (m *hubMethod) invoke(ctx context.Context, receiver any, codec Codec, args []json.RawMessage) Deferred {
	in := make([]reflect.Value, 0, len(m.params)+2)
	in = append(in, reflect.ValueOf(receiver))
	if m.withContext {
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, pt := range m.params {
		v, err := codec.Decode(args[i], pt)
		if err != nil {
			return Failed(fmt.Errorf("argument %d of %s: %w", i, m.name, err))
		}
		in = append(in, v)
	}

	out, err := m.call(in)
	if err != nil {
		return Failed(err)
	}
	return m.normalize(out)
}

func (m *hubMethod) call(in []reflect.Value) (out []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", m.name, r)
		}
	}()
	if m.variadic {
		return m.fn.CallSlice(in), nil
	}
	return m.fn.Call(in), nil
}

func (m *hubMethod) normalize(out []reflect.Value) Deferred {
	if m.returnsErr {
		if errVal := out[len(out)-1]; !errVal.IsNil() {
			return Failed(errVal.Interface().(error))
		}
	}

	switch m.result {
	case resultVoid:
		return Completed(nil)
	case resultDeferred:
		if isNilValue(out[0]) {
			return Completed(nil)
		}
		return out[0].Interface().(Deferred)
	default:
		return Completed(out[0].Interface())
	}
}

// Signatures lists the invokable methods as name/arity, sorted by name.
func (t *methodTable) Signatures() []string {
	sigs := make([]string, 0, len(t.methods))
	for key := range t.methods {
		sigs = append(sigs, fmt.Sprintf("%s/%d", key.name, key.arity))
	}
	sort.Strings(sigs)
	return sigs
}

func isNilValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}
