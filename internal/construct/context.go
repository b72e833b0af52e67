package construct

import (
	"log/slog"
	"maps"
)

type properties map[string]string

func (p properties) Property(name, def string) string {
	if v, ok := p[name]; ok && v != "" {
		return v
	}
	return def
}

func (p properties) Properties() map[string]string { return maps.Clone(map[string]string(p)) }

type teamContext struct {
	properties
	name   string
	logger *slog.Logger
}

func (c *teamContext) Name() string         { return c.name }
func (c *teamContext) Logger() *slog.Logger { return c.logger }

// initContext serves both managed object and governance initialisation.
type initContext struct {
	properties
	office string
	name   string
}

func (c *initContext) Office() string { return c.office }
func (c *initContext) Name() string   { return c.name }

type functionContext struct {
	properties
	office   string
	name     string
	objects  []string
	flowKeys []string
}

func (c *functionContext) Office() string     { return c.office }
func (c *functionContext) Name() string       { return c.name }
func (c *functionContext) Objects() []string  { return append([]string(nil), c.objects...) }
func (c *functionContext) FlowKeys() []string { return append([]string(nil), c.flowKeys...) }
