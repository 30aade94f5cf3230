package stats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"admoderation/internal/failure"
	"admoderation/internal/model"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	calls        atomic.Int32
	gate         chan struct{}
	summary      model.StatsSummary
	decisionsErr error
}

func (f *fakeSource) wait(ctx context.Context) error {
	if f.gate == nil {
		return nil
	}
	select {
	case <-f.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeSource) Summary(ctx context.Context, q model.StatsQuery) (model.StatsSummary, error) {
	f.calls.Add(1)
	if err := f.wait(ctx); err != nil {
		return model.StatsSummary{}, err
	}
	return f.summary, nil
}

func (f *fakeSource) Activity(ctx context.Context, q model.StatsQuery) ([]model.ActivityPoint, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return []model.ActivityPoint{{Date: "2024-01-01", Approved: 3}}, nil
}

func (f *fakeSource) Decisions(ctx context.Context, q model.StatsQuery) (model.DecisionTotals, error) {
	if f.decisionsErr != nil {
		return model.DecisionTotals{}, f.decisionsErr
	}
	if err := f.wait(ctx); err != nil {
		return model.DecisionTotals{}, err
	}
	return model.DecisionTotals{Approved: 3, Rejected: 1}, nil
}

func (f *fakeSource) Categories(ctx context.Context, q model.StatsQuery) (model.CategoryTotals, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return model.CategoryTotals{"Электроника": 4}, nil
}

var week = model.StatsQuery{Period: model.PeriodWeek}

func TestLoad_AllFourParts(t *testing.T) {
	src := &fakeSource{summary: model.StatsSummary{TotalReviewed: 4, ApprovedPercentage: 75, RejectedPercentage: 25}}
	agg := NewAggregator(src, nil)

	bundle, err := agg.Load(context.Background(), week)
	require.NoError(t, err)
	require.Equal(t, 4, bundle.Summary.TotalReviewed)
	require.Len(t, bundle.Activity, 1)
	require.Equal(t, 3.0, bundle.Decisions.Approved)
	require.Equal(t, 4.0, bundle.Categories["Электроника"])

	_, err = agg.Load(context.Background(), week)
	require.NoError(t, err)
	require.Equal(t, int32(1), src.calls.Load(), "second load must hit the cache")

	agg.Invalidate()
	_, ok := agg.Cached(week)
	require.False(t, ok)
	_, err = agg.Load(context.Background(), week)
	require.NoError(t, err)
	require.Equal(t, int32(2), src.calls.Load())
}

func TestLoad_FailsWhenOneQueryFails(t *testing.T) {
	src := &fakeSource{decisionsErr: errors.New("decisions unavailable")}
	agg := NewAggregator(src, nil)

	bundle, err := agg.Load(context.Background(), week)
	require.Error(t, err)
	require.True(t, failure.Is(err, failure.KindFetch))
	require.Equal(t, model.StatsBundle{}, bundle)
	_, ok := agg.Cached(week)
	require.False(t, ok)
}

func TestLoad_InvalidPercentagesFail(t *testing.T) {
	src := &fakeSource{summary: model.StatsSummary{ApprovedPercentage: 90, RejectedPercentage: 40}}
	agg := NewAggregator(src, nil)

	_, err := agg.Load(context.Background(), week)
	require.True(t, failure.Is(err, failure.KindFetch))
}

func TestLoad_ValidationFailure(t *testing.T) {
	src := &fakeSource{}
	agg := NewAggregator(src, nil)

	_, err := agg.Load(context.Background(), model.StatsQuery{Period: "decade"})
	require.True(t, failure.Is(err, failure.KindValidation))
	require.Equal(t, int32(0), src.calls.Load())
}

func TestLoad_ConcurrentCallersShareFlight(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	agg := NewAggregator(src, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := agg.Load(context.Background(), week)
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), src.calls.Load())
}

func TestLoad_CallerCancelDoesNotBreakSharedFlight(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	agg := NewAggregator(src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := agg.Load(ctx, week)
		first <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.Error(t, <-first)

	second := make(chan error, 1)
	go func() {
		_, err := agg.Load(context.Background(), week)
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	require.NoError(t, <-second)
	require.Equal(t, int32(1), src.calls.Load(), "second caller joins the detached flight")
}

func TestLoad_FlightFinishingAfterInvalidateNotCached(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	agg := NewAggregator(src, nil)

	done := make(chan error, 1)
	go func() {
		_, err := agg.Load(context.Background(), week)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	agg.Invalidate()
	close(src.gate)
	require.NoError(t, <-done)

	_, ok := agg.Cached(week)
	require.False(t, ok, "pre-invalidation result must not be cached")
}
