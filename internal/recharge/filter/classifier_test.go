package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mextic/rechargeengine/internal/recharge/domain"
)

func TestClassifier_VOZ_AllDispatchImmediately(t *testing.T) {
	t.Parallel()
	c := NewClassifier(domain.ServiceVOZ, 999)

	candidates := []domain.Candidate{
		{Sim: "sim-a", IdleMinutes: 0},
		{Sim: "sim-b", IdleMinutes: 99999},
	}

	result, err := c.Classify(context.Background(), candidates)
	require.NoError(t, err)
	require.Len(t, result.ToRecharge, 2)
	require.Empty(t, result.Savings)
	require.Zero(t, result.ReportingOnTime)
	for _, cand := range result.ToRecharge {
		require.Equal(t, domain.ClassToRecharge, cand.Class)
	}
}

func TestClassifier_GPS_AboveThresholdDispatches(t *testing.T) {
	t.Parallel()
	c := NewClassifier(domain.ServiceGPS, 60)

	candidates := []domain.Candidate{{Sim: "sim-a", IdleMinutes: 60}}

	result, err := c.Classify(context.Background(), candidates)
	require.NoError(t, err)
	require.Len(t, result.ToRecharge, 1)
	require.Equal(t, domain.ClassToRecharge, result.ToRecharge[0].Class)
	require.Empty(t, result.Savings)
	require.Zero(t, result.ReportingOnTime)
}

func TestClassifier_GPS_BelowThresholdIsSavings(t *testing.T) {
	t.Parallel()
	c := NewClassifier(domain.ServiceGPS, 60)

	candidates := []domain.Candidate{{Sim: "sim-a", IdleMinutes: 10}}

	result, err := c.Classify(context.Background(), candidates)
	require.NoError(t, err)
	require.Empty(t, result.ToRecharge)
	require.Len(t, result.Savings, 1)
	require.Equal(t, domain.ClassSavings, result.Savings[0].Class)
	require.Equal(t, 1, result.ReportingOnTime)
}

func TestClassifier_ELIOT_MixedCandidatesSplitIntoDisjointSets(t *testing.T) {
	t.Parallel()
	c := NewClassifier(domain.ServiceELIOT, 30)

	candidates := []domain.Candidate{
		{Sim: "idle-1", IdleMinutes: 45},
		{Sim: "idle-2", IdleMinutes: 30},
		{Sim: "fresh-1", IdleMinutes: 5},
		{Sim: "fresh-2", IdleMinutes: 0},
		{Sim: "fresh-3", IdleMinutes: 29},
	}

	result, err := c.Classify(context.Background(), candidates)
	require.NoError(t, err)

	require.Len(t, result.ToRecharge, 2)
	require.Len(t, result.Savings, 3)
	require.Equal(t, 3, result.ReportingOnTime)

	var toRechargeSims, savingsSims []string
	for _, cand := range result.ToRecharge {
		toRechargeSims = append(toRechargeSims, cand.Sim)
	}
	for _, cand := range result.Savings {
		savingsSims = append(savingsSims, cand.Sim)
	}
	require.ElementsMatch(t, []string{"idle-1", "idle-2"}, toRechargeSims)
	require.ElementsMatch(t, []string{"fresh-1", "fresh-2", "fresh-3"}, savingsSims)
}
