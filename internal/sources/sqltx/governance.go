package sqltx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/officefloor/officefloor/internal/governance"
	"github.com/officefloor/officefloor/internal/log"
)

// GovernanceSource creates transaction governances.
type GovernanceSource struct {
	name   string
	logger *slog.Logger
}

// NewGovernanceSource creates an unconfigured source.
func NewGovernanceSource() governance.Source { return &GovernanceSource{} }

func (s *GovernanceSource) Init(ctx governance.InitContext) (*governance.MetaData, error) {
	s.name = ctx.Name()
	s.logger = log.WithOffice(ctx.Office()).With("governance", ctx.Name())
	return &governance.MetaData{ExtensionType: ExtensionType}, nil
}

func (s *GovernanceSource) Create(context.Context) (governance.Governance, error) {
	return &transactionGovernance{source: s}, nil
}

// transactionGovernance spans the transactions of every connection used
// within one governed scope.
type transactionGovernance struct {
	source *GovernanceSource
	txs    []*Transaction
}

func (g *transactionGovernance) Govern(ctx context.Context, extension any) error {
	tx, ok := extension.(*Transaction)
	if !ok {
		return fmt.Errorf("governance %s: extension %T is not a transaction", g.source.name, extension)
	}
	if err := tx.Begin(ctx); err != nil {
		return err
	}
	g.txs = append(g.txs, tx)
	return nil
}

func (g *transactionGovernance) Enforce(context.Context) error {
	var errs []error
	committed := 0
	for _, tx := range g.txs {
		ok, err := tx.Commit()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			committed++
		}
	}
	g.source.logger.Debug("transactions enforced", "governed", len(g.txs), "committed", committed)
	g.txs = nil
	return errors.Join(errs...)
}

func (g *transactionGovernance) Disregard(context.Context) error {
	var errs []error
	for _, tx := range g.txs {
		if err := tx.Rollback(); err != nil {
			errs = append(errs, err)
		}
	}
	g.source.logger.Debug("transactions disregarded", "governed", len(g.txs))
	g.txs = nil
	return errors.Join(errs...)
}
