package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("placing stake: %w", NewAlreadyStakedError(1, 2))

	assert.True(t, errors.Is(err, ErrAlreadyStaked))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, KindAlreadyStaked, KindOf(err))
	assert.Contains(t, err.Error(), "user 2 has already staked on bet 1")
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "typed", err: newError(KindExpired, "late"), want: KindExpired},
		{name: "wrapped typed", err: fmt.Errorf("x: %w", newError(KindNotFound, "gone")), want: KindNotFound},
		{name: "transient", err: fmt.Errorf("x: %w", ErrTransient), want: KindUnavailable},
		{name: "partial", err: &PartialSettlementFailure{BetID: 1, FailedWinners: []int64{2}}, want: KindPartialSettlement},
		{name: "untyped", err: errors.New("boom"), want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestError_UnwrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := wrapError(KindUnavailable, cause, "storage unavailable")

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, "storage unavailable: connection reset", err.Error())
}

func TestPartialSettlementFailure_Message(t *testing.T) {
	err := &PartialSettlementFailure{
		BetID:           7,
		ResolvedWinners: []int64{1, 2},
		FailedWinners:   []int64{3},
	}
	assert.Equal(t, "bet 7 settled with 1 of 3 payouts failed; failed winners [3] queued for reconciliation", err.Error())
}
