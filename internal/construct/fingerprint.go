package construct

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/officefloor/officefloor/internal/escalation"
	"github.com/officefloor/officefloor/internal/meta"
)

// fingerprintOffice hashes the normalised shape of a compiled office. Two
// configurations producing the same function graph share a fingerprint.
func fingerprintOffice(o *meta.Office) (string, error) {
	type flowShape struct {
		Key      string `json:"key"`
		Target   string `json:"target"`
		Strategy string `json:"strategy"`
	}
	type escalationShape struct {
		Kind    string `json:"kind"`
		Handler string `json:"handler"`
	}
	type functionShape struct {
		Name        string            `json:"name"`
		Type        string            `json:"type"`
		Team        string            `json:"team"`
		Objects     []string          `json:"objects"`
		Next        string            `json:"next,omitempty"`
		Flows       []flowShape       `json:"flows"`
		Escalations []escalationShape `json:"escalations"`
		Governances []string          `json:"governances"`
	}
	type objectShape struct {
		Name         string   `json:"name"`
		Type         string   `json:"type"`
		Dependencies []string `json:"dependencies"`
		Pooled       bool     `json:"pooled"`
	}
	type officeShape struct {
		Name           string            `json:"name"`
		ManagedObjects []objectShape     `json:"managed_objects"`
		Governances    []string          `json:"governances"`
		Functions      []functionShape   `json:"functions"`
		Escalations    []escalationShape `json:"escalations"`
	}

	fnName := func(i int) string {
		if i < 0 || i >= len(o.Functions) {
			return ""
		}
		return o.Functions[i].Name
	}
	moName := func(i int) string {
		if i < 0 || i >= len(o.ManagedObjects) {
			return ""
		}
		return o.ManagedObjects[i].Name
	}
	escalationShapes := func(b escalation.Bindings) []escalationShape {
		out := make([]escalationShape, 0, len(b))
		for _, e := range b {
			out = append(out, escalationShape{Kind: e.Kind.Name(), Handler: fnName(e.Target)})
		}
		return out
	}

	shape := officeShape{Name: o.Name, Escalations: escalationShapes(o.Escalations)}
	for _, mo := range o.ManagedObjects {
		s := objectShape{Name: mo.Name, Type: mo.Type, Pooled: mo.Pool != nil}
		for _, dep := range mo.Dependencies {
			s.Dependencies = append(s.Dependencies, moName(dep))
		}
		shape.ManagedObjects = append(shape.ManagedObjects, s)
	}
	for _, g := range o.Governances {
		shape.Governances = append(shape.Governances, g.Name+":"+g.ExtensionType)
	}
	for _, fn := range o.Functions {
		s := functionShape{
			Name:        fn.Name,
			Type:        fn.Type,
			Next:        fnName(fn.Next),
			Escalations: escalationShapes(fn.Escalations),
		}
		if fn.Team != nil {
			s.Team = fn.Team.Name
		}
		for _, obj := range fn.Objects {
			s.Objects = append(s.Objects, moName(obj))
		}
		for _, flow := range fn.Flows {
			s.Flows = append(s.Flows, flowShape{Key: flow.Key, Target: fnName(flow.Target), Strategy: flow.Strategy.String()})
		}
		sort.Slice(s.Flows, func(i, j int) bool { return s.Flows[i].Key < s.Flows[j].Key })
		for _, g := range fn.Governances {
			s.Governances = append(s.Governances, o.Governances[g.Governance].Name)
		}
		shape.Functions = append(shape.Functions, s)
	}
	sort.Slice(shape.ManagedObjects, func(i, j int) bool { return shape.ManagedObjects[i].Name < shape.ManagedObjects[j].Name })
	sort.Slice(shape.Functions, func(i, j int) bool { return shape.Functions[i].Name < shape.Functions[j].Name })
	sort.Strings(shape.Governances)

	body, err := json.Marshal(shape)
	if err != nil {
		return "", fmt.Errorf("marshal office fingerprint input: %w", err)
	}
	sum := blake3.Sum256(body)
	return "blake3:" + hex.EncodeToString(sum[:]), nil
}
