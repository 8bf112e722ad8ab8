package seatstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-arbiter/internal/errs"
	"github.com/iliyamo/seat-arbiter/internal/model"
)

var now = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func availableSeat() model.Seat {
	return model.Seat{ID: 401751, EventID: 9, Label: "A1", Status: model.SeatAvailable, Version: 3}
}

func heldSeat(holder string, expiresAt time.Time) model.Seat {
	return model.Seat{ID: 401751, EventID: 9, Label: "A1", Status: model.SeatHeld,
		HolderID: ptr(holder), HoldExpiresAt: ptr(expiresAt), Version: 4}
}

func bookedSeat(owner string) model.Seat {
	return model.Seat{ID: 401751, EventID: 9, Label: "A1", Status: model.SeatBooked, HolderID: ptr(owner), Version: 5}
}

func TestNext_Table(t *testing.T) {
	tests := []struct {
		from    model.SeatStatus
		ev      Event
		want    model.SeatStatus
		invalid bool
	}{
		{model.SeatAvailable, Hold, model.SeatHeld, false},
		{model.SeatAvailable, Confirm, "", true},
		{model.SeatAvailable, Expire, "", true},
		{model.SeatAvailable, Cancel, "", true},
		{model.SeatHeld, Hold, "", true},
		{model.SeatHeld, Confirm, model.SeatBooked, false},
		{model.SeatHeld, Expire, model.SeatAvailable, false},
		{model.SeatHeld, Cancel, "", true},
		{model.SeatBooked, Hold, "", true},
		{model.SeatBooked, Confirm, "", true},
		{model.SeatBooked, Expire, "", true},
		{model.SeatBooked, Cancel, model.SeatAvailable, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			got, err := Next(tt.from, tt.ev)
			if tt.invalid {
				assert.ErrorIs(t, err, errs.ErrInvalidTransition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyHold(t *testing.T) {
	exp := now.Add(300 * time.Second)

	next, err := ApplyHold(availableSeat(), "u1", exp)

	require.NoError(t, err)
	assert.Equal(t, model.SeatHeld, next.Status)
	assert.Equal(t, "u1", next.Holder())
	require.NotNil(t, next.HoldExpiresAt)
	assert.Equal(t, exp, *next.HoldExpiresAt)
	assert.Equal(t, uint64(4), next.Version)
}

func TestApplyHold_RejectedWhenNotAvailable(t *testing.T) {
	_, err := ApplyHold(heldSeat("u1", now.Add(time.Minute)), "u2", now.Add(5*time.Minute))
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	_, err = ApplyHold(bookedSeat("u1"), "u2", now.Add(5*time.Minute))
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestApplyConfirm(t *testing.T) {
	next, err := ApplyConfirm(heldSeat("u1", now.Add(time.Minute)), "u1", now)

	require.NoError(t, err)
	assert.Equal(t, model.SeatBooked, next.Status)
	assert.Equal(t, "u1", next.Holder())
	assert.Nil(t, next.HoldExpiresAt)
	assert.Equal(t, uint64(5), next.Version)
}

func TestApplyConfirm_Guards(t *testing.T) {
	_, err := ApplyConfirm(heldSeat("u1", now.Add(time.Minute)), "u2", now)
	assert.ErrorIs(t, err, errs.ErrNotOwner)

	_, err = ApplyConfirm(heldSeat("u1", now), "u1", now)
	assert.ErrorIs(t, err, errs.ErrLockExpired)

	_, err = ApplyConfirm(availableSeat(), "u1", now)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	_, err = ApplyConfirm(bookedSeat("u1"), "u1", now)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestApplyExpire(t *testing.T) {
	next, err := ApplyExpire(heldSeat("u1", now.Add(-time.Second)), now)

	require.NoError(t, err)
	assert.Equal(t, model.SeatAvailable, next.Status)
	assert.Nil(t, next.HolderID)
	assert.Nil(t, next.HoldExpiresAt)
	assert.Equal(t, uint64(5), next.Version)
}

func TestApplyExpire_LiveHoldOrAvailable(t *testing.T) {
	_, err := ApplyExpire(heldSeat("u1", now.Add(time.Second)), now)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	_, err = ApplyExpire(availableSeat(), now)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestApplyCancel(t *testing.T) {
	next, err := ApplyCancel(bookedSeat("u1"), model.Caller{UserID: "u1", Role: model.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, model.SeatAvailable, next.Status)
	assert.Nil(t, next.HolderID)

	_, err = ApplyCancel(bookedSeat("u1"), model.Caller{UserID: "admin-7", Role: model.RoleAdmin})
	require.NoError(t, err)

	_, err = ApplyCancel(bookedSeat("u1"), model.Caller{UserID: "u2", Role: model.RoleUser})
	assert.ErrorIs(t, err, errs.ErrNotOwner)

	_, err = ApplyCancel(heldSeat("u1", now.Add(time.Minute)), model.Caller{UserID: "u1"})
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	in := heldSeat("u1", now.Add(time.Minute))

	_, err := ApplyConfirm(in, "u1", now)

	require.NoError(t, err)
	assert.Equal(t, model.SeatHeld, in.Status)
	assert.Equal(t, uint64(4), in.Version)
}
