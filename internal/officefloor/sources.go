package officefloor

import (
	"context"
	"fmt"

	"github.com/officefloor/officefloor/internal/escalation"
	"github.com/officefloor/officefloor/internal/execute"
	"github.com/officefloor/officefloor/internal/managedobject"
	"github.com/officefloor/officefloor/internal/meta"
)

type startedSource struct {
	office string
	mo     *meta.ManagedObject
}

func (s startedSource) stop() error {
	stopper, ok := s.mo.Source.(managedobject.Stopper)
	if !ok {
		return nil
	}
	if err := stopper.Stop(); err != nil {
		return fmt.Errorf("stop managed object %s.%s: %w", s.office, s.mo.Name, err)
	}
	return nil
}

// startSources starts every source implementing managedobject.Starter, in
// office then declaration order. Sources implementing only
// managedobject.Stopper are recorded so Close still stops them.
func (f *OfficeFloor) startSources() error {
	for _, office := range f.floor.Offices {
		e := f.engines[office.Name]
		for _, mo := range office.ManagedObjects {
			starter, isStarter := mo.Source.(managedobject.Starter)
			_, isStopper := mo.Source.(managedobject.Stopper)
			if isStarter {
				if err := starter.Start(&executeContext{floor: f, engine: e, mo: mo}); err != nil {
					return fmt.Errorf("start managed object %s.%s: %w", office.Name, mo.Name, err)
				}
				f.logger.Debug("managed object source started", "office", office.Name, "managed_object", mo.Name)
			}
			if isStarter || isStopper {
				f.mu.Lock()
				f.started = append(f.started, startedSource{office: office.Name, mo: mo})
				f.mu.Unlock()
			}
		}
	}
	return nil
}

// executeContext lets a started source instigate the flows it declared.
type executeContext struct {
	floor  *OfficeFloor
	engine *execute.Engine
	mo     *meta.ManagedObject
}

func (c *executeContext) Context() context.Context { return c.floor.ctx }

func (c *executeContext) InvokeFlow(key string, parameter any, callback func(result any, err error)) error {
	index, ok := c.mo.Flows[key]
	if !ok {
		return fmt.Errorf("%w: managed object %s has no flow %q", escalation.ErrIllegalArgument, c.mo.Name, key)
	}
	fn := c.engine.Office().Functions[index]
	var done func(execute.Outcome)
	if callback != nil {
		done = func(o execute.Outcome) { callback(o.Result, o.Err) }
	}
	_, err := c.floor.start(c.floor.ctx, c.engine, fn, parameter, c.mo.FlowTeam, "managed-object:"+c.mo.Name, done)
	return err
}
