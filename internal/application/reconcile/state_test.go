package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateInit, StateCheckingRemote, true},
		{StateInit, StateEntitled, false},
		{StateInit, StatePendingVerification, false},
		{StateCheckingRemote, StateEntitled, true},
		{StateCheckingRemote, StateNotEntitled, true},
		{StateCheckingRemote, StateCommitting, false},
		{StateNotEntitled, StatePendingVerification, true},
		{StateEntitled, StateRestoring, true},
		{StateEntitled, StateCommitting, false},
		{StatePendingVerification, StateCommitting, true},
		{StatePendingVerification, StateNotEntitled, true},
		{StateCommitting, StateEntitled, true},
		{StateCommitting, StateCheckingRemote, false},
		{StateRestoring, StateMatching, true},
		{StateMatching, StateCommitting, true},
		{StateMatching, StateEntitled, false},
		{StateCommitting, StateInit, true},
		{StateRestoring, StateInit, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransition_InvalidEdgeKeepsState(t *testing.T) {
	o := NewOrchestrator("user-1", Dependencies{
		Authority: &mockAuthority{},
		Cache:     newMemoryCache(),
	}, Options{}, logger.NewNopLogger())
	t.Cleanup(o.Close)

	err := o.transition(StateCommitting)

	require.ErrorIs(t, err, entitlement.ErrInvalidTransition)
	assert.Equal(t, StateInit, o.State())
}

func TestState_Settled(t *testing.T) {
	assert.True(t, StateEntitled.Settled())
	assert.True(t, StateNotEntitled.Settled())
	assert.False(t, StateInit.Settled())
	assert.False(t, StateCommitting.Settled())
}
