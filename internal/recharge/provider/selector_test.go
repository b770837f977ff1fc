package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mextic/rechargeengine/internal/recharge/domain"
)

type fakeProviderClient struct {
	name    domain.ProviderName
	balance float64
	avail   bool
	err     error
}

func (f *fakeProviderClient) Name() domain.ProviderName { return f.name }

func (f *fakeProviderClient) Balance(ctx context.Context) (domain.ProviderBalance, error) {
	if f.err != nil {
		return domain.ProviderBalance{}, f.err
	}
	return domain.ProviderBalance{Name: f.name, Balance: f.balance, Available: f.avail}, nil
}

func (f *fakeProviderClient) Recharge(ctx context.Context, req domain.RechargeRequest) (domain.WebserviceCallResult, error) {
	return domain.WebserviceCallResult{}, nil
}

func TestSelector_RanksDescendingAboveThreshold(t *testing.T) {
	t.Parallel()
	sel := NewSelector(
		&fakeProviderClient{name: domain.ProviderTaecel, balance: 80, avail: true},
		&fakeProviderClient{name: domain.ProviderMST, balance: 150, avail: true},
	)

	ranked, err := sel.Select(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	require.Equal(t, domain.ProviderMST, ranked[0].Name)
	require.Equal(t, domain.ProviderTaecel, ranked[1].Name)
}

func TestSelector_NoneAboveThreshold_Errors(t *testing.T) {
	t.Parallel()
	sel := NewSelector(
		&fakeProviderClient{name: domain.ProviderTaecel, balance: 10, avail: true},
		&fakeProviderClient{name: domain.ProviderMST, balance: 20, avail: true},
	)

	_, err := sel.Select(context.Background(), 50)
	require.Error(t, err)
}

func TestSelector_ProbeFailureExcludedNotFatal(t *testing.T) {
	t.Parallel()
	sel := NewSelector(
		&fakeProviderClient{name: domain.ProviderTaecel, err: errors.New("timeout")},
		&fakeProviderClient{name: domain.ProviderMST, balance: 150, avail: true},
	)

	ranked, err := sel.Select(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	require.Equal(t, domain.ProviderMST, ranked[0].Name)
}
