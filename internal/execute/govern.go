package execute

import (
	"errors"
	"fmt"

	"github.com/officefloor/officefloor/internal/governance"
	"github.com/officefloor/officefloor/internal/meta"
)

func (f *flow) ownedGovernance() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.owned...)
}

func (f *flow) own(g int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owned = append(f.owned, g)
}

func (f *flow) disown(g int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, owned := range f.owned {
		if owned == g {
			f.owned = append(f.owned[:i], f.owned[i+1:]...)
			return
		}
	}
}

// prepareGovernance ends the governance f owns that fn does not run under,
// or that a failure has already condemned, before cont runs fn.
func (f *flow) prepareGovernance(fn *meta.Function, cont func()) {
	var stale []int
	for _, g := range f.ownedGovernance() {
		if !fn.UnderGovernance(g) || f.p.governance[g].Failed() {
			stale = append(stale, g)
		}
	}
	if len(stale) == 0 {
		cont()
		return
	}
	f.whenJoined(func() {
		if f.p.isTerminated() {
			f.abort(true)
			return
		}
		if err := recovered(func() error { return f.finalize(stale) }); err != nil {
			f.p.escalate(f, nil, err)
			return
		}
		cont()
	})
}

// activateGovernance activates the governance fn runs under and registers
// the extensions of its objects. A governance activated here is owned by f.
func (f *flow) activateGovernance(fn *meta.Function) error {
	p := f.p
	for _, gov := range fn.Governances {
		c := p.governance[gov.Governance]
		activated, err := c.Activate(p.ctx)
		if err != nil {
			return err
		}
		if activated {
			f.own(gov.Governance)
		}
		extType := p.office.Governances[gov.Governance].ExtensionType
		for _, index := range gov.Objects {
			oc := p.objects[index]
			ext, ok := oc.meta.Meta.Extension(extType)
			if !ok {
				continue
			}
			inst := oc.managedObject()
			extract := func() (any, error) {
				if ext.Extract == nil {
					return inst, nil
				}
				return ext.Extract(inst)
			}
			if err := c.Govern(p.ctx, oc, extract); err != nil {
				return fmt.Errorf("govern %s: %w", oc.meta.Name, err)
			}
		}
	}
	return nil
}

// finalize ends each governance in govs, latest first. The first enforce
// failure is returned and the remaining governance is disregarded.
func (f *flow) finalize(govs []int) error {
	p := f.p
	var failed error
	for i := len(govs) - 1; i >= 0; i-- {
		g := govs[i]
		c := p.governance[g]
		f.disown(g)
		if failed != nil {
			p.disregard(c)
			continue
		}
		state, err := c.Finalize(p.ctx)
		if errors.Is(err, governance.ErrNotActive) {
			continue
		}
		p.engine.observer.GovernanceFinalized(p.office.Name, c.Name(), state, err)
		if err == nil {
			p.logger.Debug("governance finalized", "governance", c.Name(), "state", state.String())
			continue
		}
		if state == governance.StateEnforced {
			failed = err
			continue
		}
		p.logger.Warn("disregard governance failed", "governance", c.Name(), "error", err)
	}
	return failed
}

func (f *flow) disregardOwned() {
	owned := f.ownedGovernance()
	for i := len(owned) - 1; i >= 0; i-- {
		f.disown(owned[i])
		f.p.disregard(f.p.governance[owned[i]])
	}
}

func (p *process) disregard(c *governance.Container) {
	err := c.Disregard(p.ctx)
	if errors.Is(err, governance.ErrNotActive) {
		return
	}
	p.engine.observer.GovernanceFinalized(p.office.Name, c.Name(), governance.StateDisregarded, err)
	if err != nil {
		p.logger.Warn("disregard governance failed", "governance", c.Name(), "error", err)
	}
}

// markGovernanceFailed condemns every active governance fn runs under.
func (p *process) markGovernanceFailed(fn *meta.Function) {
	for _, gov := range fn.Governances {
		p.governance[gov.Governance].MarkFailed()
	}
}
