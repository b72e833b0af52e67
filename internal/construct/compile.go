// Package construct compiles configuration into index linked meta-data.
//
// Compilation never stops at the first problem: every unresolved or duplicate
// reference is recorded as an issue and all of them are returned together.
package construct

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/officefloor/officefloor/internal/config"
	"github.com/officefloor/officefloor/internal/escalation"
	"github.com/officefloor/officefloor/internal/issues"
	"github.com/officefloor/officefloor/internal/log"
	"github.com/officefloor/officefloor/internal/managedobject"
	"github.com/officefloor/officefloor/internal/meta"
	"github.com/officefloor/officefloor/internal/source"
)

// Compile builds the meta-data for cfg using the sources in reg. Teams are
// created as part of compilation and stopped again when compilation fails.
// A failed compilation returns an *issues.Error.
func Compile(cfg *config.Floor, reg *source.Registry) (*meta.Floor, error) {
	c := &compiler{
		cfg:    cfg,
		reg:    reg,
		issues: &issues.Collector{},
		logger: log.WithComponent("construct"),
	}
	floor := c.compile()
	if err := c.issues.Err(); err != nil {
		for _, t := range floor.Teams {
			_ = t.Team.Stop(context.Background())
		}
		return nil, err
	}
	return floor, nil
}

type compiler struct {
	cfg    *config.Floor
	reg    *source.Registry
	issues *issues.Collector
	logger *slog.Logger
	teams  map[string]*meta.Team
}

func (c *compiler) compile() *meta.Floor {
	floor := &meta.Floor{}
	c.teams = make(map[string]*meta.Team)

	for _, tc := range c.cfg.Teams {
		if t := c.compileTeam(tc); t != nil {
			floor.Teams = append(floor.Teams, t)
		}
	}

	seen := make(map[string]bool)
	for i := range c.cfg.Offices {
		oc := &c.cfg.Offices[i]
		if strings.TrimSpace(oc.Name) == "" {
			c.issues.Add(issues.LocationFloor, c.cfg.Service.Name, "", fmt.Sprintf("office %d has no name", i))
			continue
		}
		if seen[oc.Name] {
			c.issues.Add(issues.LocationOffice, oc.Name, "", "duplicate office name")
			continue
		}
		seen[oc.Name] = true
		floor.Offices = append(floor.Offices, c.compileOffice(oc))
	}
	return floor
}

func (c *compiler) compileTeam(tc config.TeamConfig) *meta.Team {
	if strings.TrimSpace(tc.Name) == "" {
		c.issues.Add(issues.LocationTeam, "", "", "team has no name")
		return nil
	}
	if _, dup := c.teams[tc.Name]; dup {
		c.issues.Add(issues.LocationTeam, tc.Name, "", "duplicate team name")
		return nil
	}
	src, ok := c.reg.Team(tc.Type)
	if !ok {
		c.issues.Add(issues.LocationTeam, tc.Name, tc.Type, fmt.Sprintf("unknown team type %q", tc.Type))
		return nil
	}
	created, err := src.CreateTeam(&teamContext{
		properties: properties(tc.Properties),
		name:       tc.Name,
		logger:     log.WithComponent("team"),
	})
	if err != nil {
		c.issues.Add(issues.LocationTeam, tc.Name, tc.Type, fmt.Sprintf("create team: %v", err))
		return nil
	}
	t := &meta.Team{Name: tc.Name, Type: tc.Type, Team: created}
	c.teams[tc.Name] = t
	return t
}

// officeCompiler holds the name lookups of one office.
type officeCompiler struct {
	*compiler
	cfg            *config.OfficeConfig
	office         *meta.Office
	managedObjects map[string]int
	governances    map[string]int
	functions      map[string]int
}

func (c *compiler) compileOffice(oc *config.OfficeConfig) *meta.Office {
	o := &officeCompiler{
		compiler:       c,
		cfg:            oc,
		office:         &meta.Office{Name: oc.Name, Kinds: c.reg.Kinds()},
		managedObjects: make(map[string]int),
		governances:    make(map[string]int),
		functions:      make(map[string]int),
	}

	for _, mc := range oc.ManagedObjects {
		o.declareManagedObject(mc)
	}
	for _, gc := range oc.Governances {
		o.declareGovernance(gc)
	}
	for _, fc := range oc.Functions {
		o.declareFunction(fc)
	}

	o.linkManagedObjects()
	o.detectDependencyCycles()
	o.linkFunctions()
	o.office.Escalations = o.escalations(issues.LocationOffice, oc.Name, oc.Escalations)
	o.office.IndexFunctions()

	fingerprint, err := fingerprintOffice(o.office)
	if err != nil {
		c.issues.Add(issues.LocationOffice, oc.Name, "", err.Error())
	}
	o.office.Fingerprint = fingerprint
	c.logger.Debug("office compiled",
		"office", oc.Name,
		"functions", len(o.office.Functions),
		"managed_objects", len(o.office.ManagedObjects),
		"governances", len(o.office.Governances),
		"fingerprint", fingerprint,
	)
	return o.office
}

func (o *officeCompiler) resolveTeam(name string) (*meta.Team, bool) {
	if alias, ok := o.cfg.Teams[name]; ok {
		name = alias
	}
	t, ok := o.teams[name]
	return t, ok
}

func (o *officeCompiler) declareManagedObject(mc config.ManagedObjectConfig) {
	if strings.TrimSpace(mc.Name) == "" {
		o.issues.Add(issues.LocationManagedObject, o.cfg.Name, "", "managed object has no name")
		return
	}
	if _, dup := o.managedObjects[mc.Name]; dup {
		o.issues.Add(issues.LocationManagedObject, mc.Name, o.cfg.Name, "duplicate managed object name")
		return
	}
	index := len(o.office.ManagedObjects)
	mo := &meta.ManagedObject{Index: index, Name: mc.Name, Type: mc.Type}
	o.managedObjects[mc.Name] = index
	o.office.ManagedObjects = append(o.office.ManagedObjects, mo)

	src, ok := o.reg.ManagedObject(mc.Type)
	if !ok {
		o.issues.Add(issues.LocationManagedObject, mc.Name, mc.Type, fmt.Sprintf("unknown managed object type %q", mc.Type))
		return
	}
	mo.Source = src

	props, missing := resolveProperties(src.Specification(), mc.Properties)
	for _, name := range missing {
		o.issues.Add(issues.LocationManagedObject, mc.Name, name, "required property not configured")
	}
	if len(missing) > 0 {
		return
	}
	md, err := src.Init(&initContext{properties: props, office: o.cfg.Name, name: mc.Name})
	if err != nil {
		o.issues.Add(issues.LocationManagedObject, mc.Name, mc.Type, fmt.Sprintf("init: %v", err))
		return
	}
	if md == nil {
		md = &managedobject.MetaData{}
	}
	mo.Meta = md

	if mc.Pool != nil {
		pool, err := managedobject.NewBoundedPool(mc.Pool.Capacity)
		if err != nil {
			o.issues.Add(issues.LocationManagedObject, mc.Name, "pool", err.Error())
		} else {
			mo.Pool = pool
		}
	}
	if mc.Team != "" {
		t, ok := o.resolveTeam(mc.Team)
		if !ok {
			o.issues.Add(issues.LocationManagedObject, mc.Name, mc.Team, "unknown team")
		}
		mo.FlowTeam = t
	}
}

func resolveProperties(spec []managedobject.Property, configured map[string]string) (properties, []string) {
	props := make(properties, len(configured)+len(spec))
	for k, v := range configured {
		props[k] = v
	}
	var missing []string
	for _, p := range spec {
		if v, ok := props[p.Name]; ok && v != "" {
			continue
		}
		if p.Default != "" {
			props[p.Name] = p.Default
			continue
		}
		if p.Required {
			missing = append(missing, p.Name)
		}
	}
	return props, missing
}

func (o *officeCompiler) declareGovernance(gc config.GovernanceConfig) {
	if strings.TrimSpace(gc.Name) == "" {
		o.issues.Add(issues.LocationGovernance, o.cfg.Name, "", "governance has no name")
		return
	}
	if _, dup := o.governances[gc.Name]; dup {
		o.issues.Add(issues.LocationGovernance, gc.Name, o.cfg.Name, "duplicate governance name")
		return
	}
	index := len(o.office.Governances)
	g := &meta.Governance{Index: index, Name: gc.Name, Type: gc.Type}
	o.governances[gc.Name] = index
	o.office.Governances = append(o.office.Governances, g)

	src, ok := o.reg.Governance(gc.Type)
	if !ok {
		o.issues.Add(issues.LocationGovernance, gc.Name, gc.Type, fmt.Sprintf("unknown governance type %q", gc.Type))
		return
	}
	g.Source = src
	md, err := src.Init(&initContext{properties: properties(gc.Properties), office: o.cfg.Name, name: gc.Name})
	if err != nil {
		o.issues.Add(issues.LocationGovernance, gc.Name, gc.Type, fmt.Sprintf("init: %v", err))
		return
	}
	if md == nil || md.ExtensionType == "" {
		o.issues.Add(issues.LocationGovernance, gc.Name, gc.Type, "no extension type declared")
		return
	}
	g.ExtensionType = md.ExtensionType
}

func (o *officeCompiler) declareFunction(fc config.FunctionConfig) {
	if strings.TrimSpace(fc.Name) == "" {
		o.issues.Add(issues.LocationFunction, o.cfg.Name, "", "function has no name")
		return
	}
	if _, dup := o.functions[fc.Name]; dup {
		o.issues.Add(issues.LocationFunction, fc.Name, o.cfg.Name, "duplicate function name")
		return
	}
	index := len(o.office.Functions)
	o.functions[fc.Name] = index
	o.office.Functions = append(o.office.Functions, &meta.Function{
		Index: index,
		Name:  fc.Name,
		Type:  fc.Type,
		Next:  meta.None,
	})
}

func (o *officeCompiler) linkManagedObjects() {
	for _, mc := range o.cfg.ManagedObjects {
		index, ok := o.managedObjects[mc.Name]
		if !ok {
			continue
		}
		mo := o.office.ManagedObjects[index]
		if mo.Meta == nil {
			continue
		}

		mo.Dependencies = make([]int, len(mo.Meta.Dependencies))
		for i, key := range mo.Meta.Dependencies {
			mo.Dependencies[i] = meta.None
			target, ok := mc.Dependencies[key]
			if !ok {
				o.issues.Add(issues.LocationManagedObject, mc.Name, key, "dependency not linked")
				continue
			}
			depIndex, ok := o.managedObjects[target]
			if !ok {
				o.issues.Add(issues.LocationManagedObject, mc.Name, key, fmt.Sprintf("unknown managed object %q", target))
				continue
			}
			mo.Dependencies[i] = depIndex
		}
		for _, key := range sortedKeys(mc.Dependencies) {
			if !contains(mo.Meta.Dependencies, key) {
				o.issues.Add(issues.LocationManagedObject, mc.Name, key, "dependency key not declared by source")
			}
		}

		mo.Flows = make(map[string]int, len(mo.Meta.Flows))
		for _, key := range mo.Meta.Flows {
			target, ok := mc.Flows[key]
			if !ok {
				o.issues.Add(issues.LocationManagedObject, mc.Name, key, "flow not linked")
				continue
			}
			fnIndex, ok := o.functions[target]
			if !ok {
				o.issues.Add(issues.LocationManagedObject, mc.Name, key, fmt.Sprintf("unknown function %q", target))
				continue
			}
			mo.Flows[key] = fnIndex
		}
		for _, key := range sortedKeys(mc.Flows) {
			if !contains(mo.Meta.Flows, key) {
				o.issues.Add(issues.LocationManagedObject, mc.Name, key, "flow key not declared by source")
			}
		}
	}
}

// detectDependencyCycles reports each dependency cycle with its path.
func (o *officeCompiler) detectDependencyCycles() {
	mos := o.office.ManagedObjects
	state := make([]int, len(mos))
	reported := make(map[string]bool)

	var walk func(index int, stack []int) bool
	walk = func(index int, stack []int) bool {
		switch state[index] {
		case 2:
			return true
		case 1:
			idx := 0
			for i := range stack {
				if stack[i] == index {
					idx = i
					break
				}
			}
			names := make([]string, 0, len(stack)-idx+1)
			for _, i := range stack[idx:] {
				names = append(names, mos[i].Name)
			}
			names = append(names, mos[index].Name)
			path := strings.Join(names, " -> ")
			if !reported[mos[index].Name] {
				reported[mos[index].Name] = true
				o.issues.Add(issues.LocationManagedObject, mos[index].Name, "", "dependency cycle detected: "+path)
			}
			return false
		}
		state[index] = 1
		stack = append(stack, index)
		ok := true
		for _, dep := range mos[index].Dependencies {
			if dep == meta.None {
				continue
			}
			if !walk(dep, stack) {
				ok = false
			}
		}
		state[index] = 2
		return ok
	}
	for i := range mos {
		if state[i] == 0 {
			walk(i, nil)
		}
	}
}

func (o *officeCompiler) linkFunctions() {
	linked := make(map[int]bool, len(o.office.Functions))
	for _, fc := range o.cfg.Functions {
		index, ok := o.functions[fc.Name]
		if !ok || linked[index] {
			continue
		}
		linked[index] = true
		o.linkFunction(o.office.Functions[index], fc)
	}
}

func (o *officeCompiler) linkFunction(fn *meta.Function, fc config.FunctionConfig) {
	t, ok := o.resolveTeam(fc.Team)
	if !ok {
		o.issues.Add(issues.LocationFunction, fc.Name, fc.Team, fmt.Sprintf("unknown team %q", fc.Team))
	}
	fn.Team = t

	fn.Objects = make([]int, len(fc.Objects))
	for i, name := range fc.Objects {
		moIndex, ok := o.managedObjects[name]
		if !ok {
			fn.Objects[i] = meta.None
			o.issues.Add(issues.LocationFunction, fc.Name, name, "unknown managed object")
			continue
		}
		fn.Objects[i] = moIndex
	}
	fn.LoadOrder = o.loadOrder(fn.Objects)

	if fc.Next != "" {
		next, ok := o.functions[fc.Next]
		if !ok {
			o.issues.Add(issues.LocationFunction, fc.Name, fc.Next, "unknown next function")
		} else {
			fn.Next = next
		}
	}

	fn.Flows = make(map[string]meta.Flow, len(fc.Flows))
	flowKeys := make([]string, 0, len(fc.Flows))
	for _, flow := range fc.Flows {
		if flow.Key == "" {
			o.issues.Add(issues.LocationFunction, fc.Name, flow.Function, "flow has no key")
			continue
		}
		if _, dup := fn.Flows[flow.Key]; dup {
			o.issues.Add(issues.LocationFunction, fc.Name, flow.Key, "duplicate flow key")
			continue
		}
		strategy, err := meta.ParseStrategy(flow.Strategy)
		if err != nil {
			o.issues.Add(issues.LocationFunction, fc.Name, flow.Key, err.Error())
			continue
		}
		target, ok := o.functions[flow.Function]
		if !ok {
			o.issues.Add(issues.LocationFunction, fc.Name, flow.Key, fmt.Sprintf("unknown flow function %q", flow.Function))
			continue
		}
		fn.Flows[flow.Key] = meta.Flow{Key: flow.Key, Target: target, Strategy: strategy}
		flowKeys = append(flowKeys, flow.Key)
	}

	fn.Escalations = o.escalations(issues.LocationFunction, fc.Name, fc.Escalations)

	seenGov := make(map[int]bool)
	for _, name := range fc.Governances {
		g, ok := o.governances[name]
		if !ok {
			o.issues.Add(issues.LocationFunction, fc.Name, name, "unknown governance")
			continue
		}
		if seenGov[g] {
			continue
		}
		seenGov[g] = true
		fn.Governances = append(fn.Governances, meta.GovernedObjects{
			Governance: g,
			Objects:    o.governedObjects(g, fn.LoadOrder),
		})
	}

	src, ok := o.reg.Function(fc.Type)
	if !ok {
		o.issues.Add(issues.LocationFunction, fc.Name, fc.Type, fmt.Sprintf("unknown function type %q", fc.Type))
		return
	}
	built, err := src.Function(&functionContext{
		properties: properties(fc.Properties),
		office:     o.cfg.Name,
		name:       fc.Name,
		objects:    fc.Objects,
		flowKeys:   flowKeys,
	})
	if err != nil {
		o.issues.Add(issues.LocationFunction, fc.Name, fc.Type, fmt.Sprintf("build function: %v", err))
		return
	}
	if built == nil {
		o.issues.Add(issues.LocationFunction, fc.Name, fc.Type, "source returned no function")
		return
	}
	fn.Function = built
}

// loadOrder returns objects with their transitive dependencies, each listed
// after everything it depends on.
func (o *officeCompiler) loadOrder(objects []int) []int {
	mos := o.office.ManagedObjects
	visited := make(map[int]bool)
	onStack := make(map[int]bool)
	var order []int
	var visit func(int)
	visit = func(index int) {
		if index == meta.None || visited[index] || onStack[index] {
			return
		}
		onStack[index] = true
		for _, dep := range mos[index].Dependencies {
			visit(dep)
		}
		onStack[index] = false
		visited[index] = true
		order = append(order, index)
	}
	for _, index := range objects {
		visit(index)
	}
	return order
}

func (o *officeCompiler) governedObjects(g int, loadOrder []int) []int {
	ext := o.office.Governances[g].ExtensionType
	if ext == "" {
		return nil
	}
	var governed []int
	for _, index := range loadOrder {
		if _, ok := o.office.ManagedObjects[index].Meta.Extension(ext); ok {
			governed = append(governed, index)
		}
	}
	return governed
}

func (o *officeCompiler) escalations(locationType issues.LocationType, location string, configured []config.EscalationConfig) escalation.Bindings {
	var bindings escalation.Bindings
	for _, ec := range configured {
		kind, ok := o.reg.Kinds().Lookup(ec.Kind)
		if !ok {
			o.issues.Add(issues.LocationEscalation, location, ec.Kind, fmt.Sprintf("unknown escalation kind (in %s)", locationType))
			continue
		}
		target, ok := o.functions[ec.Function]
		if !ok {
			o.issues.Add(issues.LocationEscalation, location, ec.Kind, fmt.Sprintf("unknown handler function %q (in %s)", ec.Function, locationType))
			continue
		}
		bindings = append(bindings, escalation.Binding{Kind: kind, Target: target})
	}
	return bindings
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
