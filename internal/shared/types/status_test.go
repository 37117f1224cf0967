package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]SigningState]bool{
		{StateUnsigned, StateSigningInProgress}:      true,
		{StateSigningInProgress, StateSigned}:        true,
		{StateSigningInProgress, StateSigningFailed}: true,
		{StateSigningFailed, StateSigningInProgress}: true,
		{StateSigned, StateSigningInProgress}:        true,
	}

	states := []SigningState{StateUnsigned, StateSigningInProgress, StateSigned, StateSigningFailed}
	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]SigningState{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransition_RejectsSelfLoop(t *testing.T) {
	assert.False(t, CanTransition(StateSigningInProgress, StateSigningInProgress))
	assert.False(t, CanTransition(StateSigned, StateUnsigned))
}

func TestSigningStatus_Validate(t *testing.T) {
	assert.NoError(t, Unsigned().Validate())
	assert.NoError(t, SigningFailed("expired certificate").Validate())
	assert.Error(t, SigningStatus{State: "bogus"}.Validate())
	assert.Error(t, SigningStatus{State: StateSigned, Reason: "nope"}.Validate())
}

func TestSigningStatus_String(t *testing.T) {
	assert.Equal(t, "signed", Signed().String())
	assert.Equal(t, "signing_failed(no profile)", SigningFailed("no profile").String())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("signed")
	assert.NoError(t, err)
	assert.Equal(t, KindSigned, k)

	_, err = ParseKind("installed")
	assert.Error(t, err)
}
