package reaper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockReclaimer struct {
	mock.Mock
}

func (m *mockReclaimer) ReapLapsed(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

func TestReaper_TickReclaims(t *testing.T) {
	rec := &mockReclaimer{}
	rec.On("ReapLapsed", mock.Anything, 10).Return(3, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	New(rec, 20*time.Millisecond, 10, nil).Start(ctx)

	rec.AssertCalled(t, "ReapLapsed", mock.Anything, 10)
}

func TestReaper_TickDrainsFullBatches(t *testing.T) {
	rec := &mockReclaimer{}
	rec.On("ReapLapsed", mock.Anything, 2).Return(2, nil).Twice()
	rec.On("ReapLapsed", mock.Anything, 2).Return(1, nil).Once()

	New(rec, time.Second, 2, nil).tick(context.Background())

	rec.AssertNumberOfCalls(t, "ReapLapsed", 3)
}

func TestReaper_TickStopsOnError(t *testing.T) {
	rec := &mockReclaimer{}
	rec.On("ReapLapsed", mock.Anything, 5).Return(0, errors.New("db error")).Once()

	New(rec, time.Second, 5, nil).tick(context.Background())

	rec.AssertNumberOfCalls(t, "ReapLapsed", 1)
}

func TestReaper_StopsOnContextCancel(t *testing.T) {
	rec := &mockReclaimer{}
	r := New(rec, time.Hour, 5, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop on context cancel")
	}
	assert.Empty(t, rec.Calls)
}
