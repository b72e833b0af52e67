// Package meta holds the compiled, index linked description of an office
// floor. Values are immutable once compiled and shared by every process.
package meta

import (
	"fmt"
	"strings"

	"github.com/officefloor/officefloor/internal/escalation"
	"github.com/officefloor/officefloor/internal/function"
	"github.com/officefloor/officefloor/internal/governance"
	"github.com/officefloor/officefloor/internal/managedobject"
	"github.com/officefloor/officefloor/internal/team"
)

// None marks an unset index.
const None = -1

// Floor is a compiled office floor.
type Floor struct {
	Teams   []*Team
	Offices []*Office
}

// Office returns the office named name.
func (f *Floor) Office(name string) (*Office, bool) {
	for _, o := range f.Offices {
		if o.Name == name {
			return o, true
		}
	}
	return nil, false
}

// Team returns the floor team named name.
func (f *Floor) Team(name string) (*Team, bool) {
	for _, t := range f.Teams {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Team is a running team shared by the offices of the floor.
type Team struct {
	Name string
	Type string
	Team team.Team
}

// Office is a compiled office. Managed objects, governances and functions
// live in arenas and reference each other by index.
type Office struct {
	Name           string
	Fingerprint    string
	ManagedObjects []*ManagedObject
	Governances    []*Governance
	Functions      []*Function
	// Escalations is the office level of the escalation chain.
	Escalations escalation.Bindings
	Kinds       *escalation.Registry

	functions map[string]int
}

// Function returns the function named name.
func (o *Office) Function(name string) (*Function, bool) {
	if o.functions == nil {
		for _, fn := range o.Functions {
			if fn.Name == name {
				return fn, true
			}
		}
		return nil, false
	}
	i, ok := o.functions[name]
	if !ok {
		return nil, false
	}
	return o.Functions[i], true
}

// IndexFunctions builds the name lookup for Function.
func (o *Office) IndexFunctions() {
	o.functions = make(map[string]int, len(o.Functions))
	for i, fn := range o.Functions {
		o.functions[fn.Name] = i
	}
}

// ManagedObject is a compiled managed object source.
type ManagedObject struct {
	Index  int
	Name   string
	Type   string
	Source managedobject.Source
	Meta   *managedobject.MetaData
	// Dependencies holds the arena index for each key of Meta.Dependencies.
	Dependencies []int
	// Flows maps each flow key of Meta.Flows to a function index.
	Flows map[string]int
	// FlowTeam runs instigated flows instead of the target function's team.
	FlowTeam *Team
	// Pool is nil when instances are not pooled.
	Pool managedobject.Pool
}

// Governance is a compiled governance.
type Governance struct {
	Index         int
	Name          string
	Type          string
	Source        governance.Source
	ExtensionType string
}

// Strategy is how a flow is instigated.
type Strategy int

const (
	Sequential Strategy = iota
	Parallel
	Asynchronous
)

func (s Strategy) String() string {
	switch s {
	case Parallel:
		return "parallel"
	case Asynchronous:
		return "asynchronous"
	default:
		return "sequential"
	}
}

// ParseStrategy parses a configured strategy. Empty means sequential.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequential":
		return Sequential, nil
	case "parallel":
		return Parallel, nil
	case "asynchronous", "async":
		return Asynchronous, nil
	default:
		return Sequential, fmt.Errorf("unknown flow strategy %q", s)
	}
}

// Flow links a flow key of a function to the function it instigates.
type Flow struct {
	Key      string
	Target   int
	Strategy Strategy
}

// GovernedObjects lists the arena indices of the objects of a function that
// provide the extension of one governance.
type GovernedObjects struct {
	Governance int
	Objects    []int
}

// Function is a compiled function.
type Function struct {
	Index    int
	Name     string
	Type     string
	Function function.Function
	Team     *Team
	// Objects is the object registry: position i holds the arena index of
	// the object returned by Context.Object(i).
	Objects []int
	// LoadOrder lists Objects and their transitive dependencies, each after
	// its dependencies.
	LoadOrder   []int
	Next        int
	Flows       map[string]Flow
	Escalations escalation.Bindings
	Governances []GovernedObjects
}

// UnderGovernance reports whether the function runs under governance g.
func (f *Function) UnderGovernance(g int) bool {
	for _, gov := range f.Governances {
		if gov.Governance == g {
			return true
		}
	}
	return false
}
