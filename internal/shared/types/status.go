package types

import "fmt"

// SigningState is the lifecycle state of code signing applied to a bundle.
type SigningState string

const (
	StateUnsigned          SigningState = "unsigned"
	StateSigningInProgress SigningState = "signing_in_progress"
	StateSigned            SigningState = "signed"
	StateSigningFailed     SigningState = "signing_failed"
)

// Valid reports whether s is a known state.
func (s SigningState) Valid() bool {
	switch s {
	case StateUnsigned, StateSigningInProgress, StateSigned, StateSigningFailed:
		return true
	}
	return false
}

// SigningStatus is a SigningState plus the failure reason when the state is
// StateSigningFailed.
type SigningStatus struct {
	State  SigningState `json:"state"`
	Reason string       `json:"reason,omitempty"`
}

// Unsigned is the status of every newly committed record.
func Unsigned() SigningStatus { return SigningStatus{State: StateUnsigned} }

// SigningInProgress marks a bundle that is being signed.
func SigningInProgress() SigningStatus { return SigningStatus{State: StateSigningInProgress} }

// Signed marks a successfully signed bundle.
func Signed() SigningStatus { return SigningStatus{State: StateSigned} }

// SigningFailed marks a failed signing attempt.
func SigningFailed(reason string) SigningStatus {
	return SigningStatus{State: StateSigningFailed, Reason: reason}
}

func (s SigningStatus) String() string {
	if s.State == StateSigningFailed && s.Reason != "" {
		return fmt.Sprintf("%s(%s)", s.State, s.Reason)
	}
	return string(s.State)
}

// Validate checks that the status is well formed.
func (s SigningStatus) Validate() error {
	if !s.State.Valid() {
		return fmt.Errorf("unknown signing state %q", s.State)
	}
	if s.Reason != "" && s.State != StateSigningFailed {
		return fmt.Errorf("reason is only allowed for %s", StateSigningFailed)
	}
	return nil
}

var transitions = map[SigningState][]SigningState{
	StateUnsigned:          {StateSigningInProgress},
	StateSigningInProgress: {StateSigned, StateSigningFailed},
	StateSigningFailed:     {StateSigningInProgress},
	StateSigned:            {StateSigningInProgress},
}

// CanTransition reports whether a record may move from one state to another.
// A state never transitions to itself.
func CanTransition(from, to SigningState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
