// Package managedobject defines the managed object source contract and the
// pooling used when recycling managed objects between processes.
//
// A managed object is one of three variants:
//   - ManagedObject: ready as soon as it is sourced
//   - Coordinating: receives its dependencies before first use
//   - Asynchronous: may declare itself busy and signals when it is ready again
//
// An object may be both Coordinating and Asynchronous.
package managedobject

import "context"

// Property describes one configuration property a source accepts.
type Property struct {
	Name     string
	Label    string
	Required bool
	Default  string
}

// Source supplies managed objects of one configured kind. A Source is shared
// by every process of its office, so ManagedObject must be safe for
// concurrent use.
type Source interface {
	// Specification declares the properties the source accepts.
	Specification() []Property
	// Init is called once at compile time with the resolved properties.
	Init(ctx InitContext) (*MetaData, error)
	// ManagedObject creates a new instance.
	ManagedObject(ctx context.Context) (ManagedObject, error)
}

// Starter is implemented by sources that run background work once the
// office floor opens, for example timers or listeners that instigate flows.
type Starter interface {
	Start(ctx ExecuteContext) error
}

// Stopper is implemented by sources that must release resources on close.
type Stopper interface {
	Stop() error
}

// InitContext exposes the configuration of the source being initialised.
type InitContext interface {
	Office() string
	Name() string
	// Property returns the configured value or def when unset.
	Property(name, def string) string
	Properties() map[string]string
}

// ExecuteContext lets a started source instigate the flows it declared.
type ExecuteContext interface {
	Context() context.Context
	// InvokeFlow starts a new process at the function linked to key.
	// callback, when non-nil, receives the outcome of the process.
	InvokeFlow(key string, parameter any, callback func(result any, err error)) error
}

// MetaData is what a source declares about the objects it supplies.
type MetaData struct {
	// ObjectType names the type of object handed to functions.
	ObjectType string
	// Dependencies lists the dependency keys, in registry index order.
	Dependencies []string
	// Flows lists the flow keys the source may instigate.
	Flows []string
	// Extensions lists the extension types available to governance.
	Extensions []Extension
}

// Extension exposes a typed view of a managed object used by governance.
type Extension struct {
	Type string
	// Extract returns the extension for one instance. It is called lazily,
	// only when a governance needs the extension.
	Extract func(mo ManagedObject) (any, error)
}

// Extension returns the extension declared for extensionType.
func (m *MetaData) Extension(extensionType string) (Extension, bool) {
	if m == nil {
		return Extension{}, false
	}
	for _, ext := range m.Extensions {
		if ext.Type == extensionType {
			return ext, true
		}
	}
	return Extension{}, false
}

// ManagedObject is one sourced instance.
type ManagedObject interface {
	// Object returns the object handed to functions.
	Object() (any, error)
}

// ObjectRegistry resolves the dependencies of a coordinating object by the
// index of the dependency key in MetaData.Dependencies.
type ObjectRegistry interface {
	Object(index int) (any, error)
}

// Coordinating objects receive their dependencies before first use.
type Coordinating interface {
	ManagedObject
	LoadObjects(registry ObjectRegistry) error
}

// AsyncContext is handed to asynchronous objects once they are sourced.
type AsyncContext interface {
	// Start marks the object busy. Functions depending on it are held back.
	Start()
	// Complete marks the object ready again. A non-nil err fails the
	// functions waiting on it.
	Complete(err error)
}

// Asynchronous objects may be busy, for example while awaiting I/O.
type Asynchronous interface {
	ManagedObject
	SetAsyncContext(ctx AsyncContext)
}

// Resettable objects are reset before they return to a pool.
type Resettable interface {
	Reset() error
}

// Variant is the closed set of managed object capabilities.
type Variant int

const (
	VariantSynchronous Variant = iota
	VariantCoordinating
	VariantAsynchronous
	VariantCoordinatingAsynchronous
)

func (v Variant) String() string {
	switch v {
	case VariantCoordinating:
		return "coordinating"
	case VariantAsynchronous:
		return "asynchronous"
	case VariantCoordinatingAsynchronous:
		return "coordinating-asynchronous"
	default:
		return "synchronous"
	}
}

// VariantOf classifies mo.
func VariantOf(mo ManagedObject) Variant {
	_, coordinating := mo.(Coordinating)
	_, async := mo.(Asynchronous)
	switch {
	case coordinating && async:
		return VariantCoordinatingAsynchronous
	case coordinating:
		return VariantCoordinating
	case async:
		return VariantAsynchronous
	default:
		return VariantSynchronous
	}
}

// Value wraps an already built object.
func Value(obj any) ManagedObject { return valueObject{obj: obj} }

type valueObject struct{ obj any }

func (v valueObject) Object() (any, error) { return v.obj, nil }

// SourceOf is a Source assembled from a fixed MetaData and a factory. It is
// convenient when registering objects built in code.
type SourceOf struct {
	Meta    MetaData
	Props   []Property
	Factory func(ctx context.Context) (ManagedObject, error)
}

var _ Source = (*SourceOf)(nil)

func (s *SourceOf) Specification() []Property { return s.Props }

func (s *SourceOf) Init(InitContext) (*MetaData, error) {
	meta := s.Meta
	return &meta, nil
}

func (s *SourceOf) ManagedObject(ctx context.Context) (ManagedObject, error) {
	return s.Factory(ctx)
}
