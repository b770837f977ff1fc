// Package provider wires the C6 selector across both wire clients
package provider

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	perr "github.com/mextic/rechargeengine/internal/platform/errors"
	"github.com/mextic/rechargeengine/internal/recharge/domain"
)

// Selector probes every configured provider's balance in parallel and
// ranks those above minBalance, descending. Grounded on the errgroup
// fan-out pattern the pack uses for bounded parallel I/O
type Selector struct {
	Clients []domain.ProviderClient
}

// NewSelector wires a Selector over the given provider clients
func NewSelector(clients ...domain.ProviderClient) *Selector {
	return &Selector{Clients: clients}
}

func (s *Selector) Select(ctx context.Context, minBalance float64) ([]domain.ProviderBalance, error) {
	balances := make([]domain.ProviderBalance, len(s.Clients))

	g, gctx := errgroup.WithContext(ctx)
	for i, client := range s.Clients {
		i, client := i, client
		g.Go(func() error {
			bal, err := client.Balance(gctx)
			if err != nil {
				// a probe failure is not fatal to selection; record as unavailable
				balances[i] = domain.ProviderBalance{Name: client.Name(), Available: false}
				return nil
			}
			balances[i] = bal
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, perr.BackendErrorf("provider selector: probe: %v", err)
	}

	var qualified []domain.ProviderBalance
	for _, b := range balances {
		if b.Available && b.Balance > minBalance {
			qualified = append(qualified, b)
		}
	}
	if len(qualified) == 0 {
		return nil, perr.NoProviderAboveThresholdf("provider selector: no provider above %.2f; probed %+v", minBalance, balances)
	}

	sort.Slice(qualified, func(i, j int) bool { return qualified[i].Balance > qualified[j].Balance })
	return qualified, nil
}

var _ domain.ProviderSelector = (*Selector)(nil)
