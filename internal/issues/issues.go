// Package issues collects configuration problems found while compiling an
// OfficeFloor so that every problem is reported in one pass.
package issues

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// LocationType identifies the kind of configuration entity an issue is about.
type LocationType string

const (
	LocationFloor         LocationType = "office_floor"
	LocationOffice        LocationType = "office"
	LocationTeam          LocationType = "team"
	LocationManagedObject LocationType = "managed_object"
	LocationFunction      LocationType = "function"
	LocationGovernance    LocationType = "governance"
	LocationEscalation    LocationType = "escalation"
)

// Issue is one configuration problem.
type Issue struct {
	LocationType LocationType `json:"location_type"`
	Location     string       `json:"location"`
	Asset        string       `json:"asset,omitempty"`
	Description  string       `json:"description"`
}

func (i Issue) String() string {
	if i.Asset == "" {
		return fmt.Sprintf("%s %s: %s", i.LocationType, i.Location, i.Description)
	}
	return fmt.Sprintf("%s %s (%s): %s", i.LocationType, i.Location, i.Asset, i.Description)
}

// Collector accumulates issues. Safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	issues []Issue
}

// Add records an issue.
func (c *Collector) Add(locationType LocationType, location, asset, description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issues = append(c.issues, Issue{
		LocationType: locationType,
		Location:     location,
		Asset:        asset,
		Description:  description,
	})
}

// Addf records an issue with a formatted description.
func (c *Collector) Addf(locationType LocationType, location, asset, format string, args ...any) {
	c.Add(locationType, location, asset, fmt.Sprintf(format, args...))
}

// Len returns the number of recorded issues.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.issues)
}

// Issues returns a copy of the recorded issues in recording order.
func (c *Collector) Issues() []Issue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Issue(nil), c.issues...)
}

// Err returns nil when nothing was recorded, otherwise an *Error holding
// every recorded issue.
func (c *Collector) Err() error {
	list := c.Issues()
	if len(list) == 0 {
		return nil
	}
	return &Error{Issues: list}
}

// Error is returned when compilation recorded at least one issue.
type Error struct {
	Issues []Issue
}

func (e *Error) Error() string {
	lines := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		lines = append(lines, issue.String())
	}
	sort.Strings(lines)
	return fmt.Sprintf("%d configuration issue(s):\n  %s", len(e.Issues), strings.Join(lines, "\n  "))
}
