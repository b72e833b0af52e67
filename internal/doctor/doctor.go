// Package doctor validates an office floor configuration without starting it.
package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/officefloor/officefloor/internal/auth"
	"github.com/officefloor/officefloor/internal/config"
	"github.com/officefloor/officefloor/internal/construct"
	"github.com/officefloor/officefloor/internal/issues"
	"github.com/officefloor/officefloor/internal/source"
	"github.com/officefloor/officefloor/internal/sources/timer"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
	// Fingerprint identifies the effective configuration.
	Fingerprint string `json:"fingerprint,omitempty"`
	// ConfigHash is the blake3 hash of the root config file, when known.
	ConfigHash string `json:"config_hash,omitempty"`
	// Offices maps each compiled office to its fingerprint.
	Offices map[string]string `json:"offices,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against the registered sources.
type Doctor struct {
	cfg        *config.Floor
	registry   *source.Registry
	configPath string
}

// New creates a Doctor from a loaded config and source registry. configPath
// may be empty.
func New(cfg *config.Floor, registry *source.Registry, configPath string) *Doctor {
	return &Doctor{cfg: cfg, registry: registry, configPath: configPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.fingerprint(r)
	d.compile(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.validateWebhooks(r)
	d.warnUnusedManagedObjects(r)
	d.warnUnusedTeams(r)
	d.warnMissingEnvVars(r)
	d.warnSuspiciousSchedule(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) fingerprint(r *Result) {
	if fp, err := config.Fingerprint(d.cfg); err == nil {
		r.Fingerprint = fp
	}
	if d.configPath == "" {
		return
	}
	hash, err := config.FileDigest(d.configPath)
	if err != nil {
		d.addWarning(r, "config", d.configPath, err.Error())
		return
	}
	r.ConfigHash = hash
}

// compile runs the full compiler so every unresolved reference is reported.
func (d *Doctor) compile(r *Result) {
	floor, err := construct.Compile(d.cfg, d.registry)
	if err != nil {
		var ie *issues.Error
		if !errors.As(err, &ie) {
			d.addError(r, "compile", "", err.Error())
			return
		}
		for _, i := range ie.Issues {
			field := i.Location
			if i.Asset != "" {
				field += "." + i.Asset
			}
			d.addError(r, string(i.LocationType), field, i.Description)
		}
		return
	}

	r.Offices = make(map[string]string, len(floor.Offices))
	for _, o := range floor.Offices {
		r.Offices[o.Name] = o.Fingerprint
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, t := range floor.Teams {
		_ = t.Team.Stop(ctx)
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no tokens configured; every request will be rejected")
	}
	if d.cfg.API.MaxConcurrentSync <= 0 {
		d.addWarning(r, "api", "api.max_concurrent_sync", "synchronous invocations are disabled")
	}
}

// validateWebhooks checks that every endpoint targets an existing office
// function.
func (d *Doctor) validateWebhooks(r *Result) {
	if d.cfg.Webhooks == nil {
		return
	}
	for i, ep := range d.cfg.Webhooks.Endpoints {
		field := fmt.Sprintf("webhooks.endpoints[%d]", i)
		office, ok := d.cfg.Office(ep.Office)
		if !ok {
			d.addError(r, "webhooks", field+".office", fmt.Sprintf("webhook %s targets unknown office %q", ep.Path, ep.Office))
			continue
		}
		if !slices.ContainsFunc(office.Functions, func(fn config.FunctionConfig) bool { return fn.Name == ep.Function }) {
			d.addError(r, "webhooks", field+".function", fmt.Sprintf("webhook %s targets unknown function %s.%s", ep.Path, ep.Office, ep.Function))
		}
	}
}

// validateTokenScopes checks that scopes are well formed and name configured
// offices.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			field := fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j)
			d.validateSingleScope(r, scope, field)
		}
	}
}

var readOnlyResources = []string{"processes", "events", "metrics"}

func (d *Doctor) validateSingleScope(r *Result, scope, field string) {
	if scope == auth.ScopeAll {
		return
	}
	g, ok := auth.ParseScope(scope)
	if !ok {
		d.addError(r, "token_scopes", field,
			fmt.Sprintf("invalid scope %q (expected resource:ro, resource:rw or office:NAME:ro|rw)", scope))
		return
	}

	switch {
	case g.Office != "":
		if _, ok := d.cfg.Office(g.Office); !ok {
			d.addError(r, "token_scopes", field,
				fmt.Sprintf("scope %q references unknown office %q", scope, g.Office))
		}
	case g.Resource == "office":
	case slices.Contains(readOnlyResources, g.Resource):
		if g.Write {
			d.addWarning(r, "token_scopes", field,
				fmt.Sprintf("scope %q: %s is read-only, rw grants nothing more than ro", scope, g.Resource))
		}
	default:
		d.addError(r, "token_scopes", field, fmt.Sprintf("scope %q references unknown resource %q", scope, g.Resource))
	}
}

// warnUnusedManagedObjects warns about managed objects no function or other
// object depends on. Objects instigating flows are in use.
func (d *Doctor) warnUnusedManagedObjects(r *Result) {
	for _, office := range d.cfg.Offices {
		used := make(map[string]bool)
		for _, fn := range office.Functions {
			for _, obj := range fn.Objects {
				used[obj] = true
			}
		}
		for _, mo := range office.ManagedObjects {
			for _, dep := range mo.Dependencies {
				used[dep] = true
			}
			if len(mo.Flows) > 0 {
				used[mo.Name] = true
			}
		}
		for _, mo := range office.ManagedObjects {
			if !used[mo.Name] {
				d.addWarning(r, "unused", fmt.Sprintf("%s.managed_objects.%s", office.Name, mo.Name),
					fmt.Sprintf("managed object %q is never used", mo.Name))
			}
		}
	}
}

// warnUnusedTeams warns about floor teams no function or managed object
// runs on.
func (d *Doctor) warnUnusedTeams(r *Result) {
	used := make(map[string]bool)
	for _, office := range d.cfg.Offices {
		for _, floorTeam := range office.Teams {
			used[floorTeam] = true
		}
		for _, fn := range office.Functions {
			used[fn.Team] = true
		}
		for _, mo := range office.ManagedObjects {
			used[mo.Team] = true
		}
	}
	for _, team := range d.cfg.Teams {
		if !used[team.Name] {
			d.addWarning(r, "unused", "teams."+team.Name, fmt.Sprintf("team %q is never used", team.Name))
		}
	}
}

// warnMissingEnvVars warns about ${VAR} references left unresolved.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	unresolved := config.UnresolvedEnvVars(d.cfg)
	sort.Strings(unresolved)
	for _, ref := range unresolved {
		field, variable, _ := strings.Cut(ref, ": ")
		d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable %s not set", variable))
	}
}

// warnSuspiciousSchedule warns about sub-second timer intervals, which run
// once a second at most. Invalid schedules are reported by the compiler.
func (d *Doctor) warnSuspiciousSchedule(r *Result) {
	for _, office := range d.cfg.Offices {
		for _, mo := range office.ManagedObjects {
			if mo.Type != timer.Type {
				continue
			}
			spec := mo.Properties[timer.PropertySchedule]
			if _, err := timer.ParseSchedule(spec); err != nil {
				continue
			}
			if every, err := time.ParseDuration(spec); err == nil && every < time.Second {
				d.addWarning(r, "schedule", fmt.Sprintf("%s.managed_objects.%s.properties.schedule", office.Name, mo.Name),
					fmt.Sprintf("schedule %q is shorter than 1s and will run every second", spec))
			}
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	if r.Valid {
		names := make([]string, 0, len(r.Offices))
		for name := range r.Offices {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  office %s %s\n", name, r.Offices[name])
		}
	}
	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
