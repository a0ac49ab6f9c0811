package domain

import (
	"errors"
	"slices"
	"time"
)

// ErrIllegalTransition is returned when an attempt is moved to a state its current state does not lead to.
var ErrIllegalTransition = errors.New("mfa attempt: illegal state transition")

// AttemptState is the state of one authentication attempt.
type AttemptState string

const (
	StatePrimaryAuthenticated AttemptState = "primary_authenticated"
	StatePendingSecondFactor  AttemptState = "pending_second_factor"
	StateCodeIssued           AttemptState = "code_issued"
	StateVerified             AttemptState = "verified"
	StateFailed               AttemptState = "failed"
	StateExpired              AttemptState = "expired"
)

// Failed and Expired loop back to pending; a code issued for another attempt of the same subject
// can still be submitted from either. Verified is terminal.
var transitions = map[AttemptState][]AttemptState{
	StatePrimaryAuthenticated: {StatePendingSecondFactor},
	StatePendingSecondFactor:  {StateCodeIssued},
	StateCodeIssued:           {StateCodeIssued, StateVerified, StateFailed, StateExpired},
	StateFailed:               {StatePendingSecondFactor, StateCodeIssued, StateVerified, StateFailed, StateExpired},
	StateExpired:              {StatePendingSecondFactor, StateCodeIssued, StateVerified, StateFailed, StateExpired},
}

// Attempt is an authentication attempt that passed primary credentials. It lives in the ephemeral
// store under ID, so ID is not part of the serialized payload.
type Attempt struct {
	ID        string       `json:"-"`
	SubjectID string       `json:"subject_id"`
	State     AttemptState `json:"state"`
	Provider  string       `json:"provider,omitempty"`
	Prepared  []string     `json:"prepared,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// IsPending reports whether the attempt references a subject and still awaits a second factor.
func (a *Attempt) IsPending() bool {
	if a == nil || a.SubjectID == "" {
		return false
	}
	switch a.State {
	case StatePendingSecondFactor, StateCodeIssued, StateFailed, StateExpired:
		return true
	}
	return false
}

// IsPrepared reports whether provider issued a code for this attempt.
func (a *Attempt) IsPrepared(provider string) bool {
	return slices.Contains(a.Prepared, provider)
}

// Transition moves the attempt to next or returns ErrIllegalTransition.
func (a *Attempt) Transition(next AttemptState) error {
	if !slices.Contains(transitions[a.State], next) {
		return ErrIllegalTransition
	}
	a.State = next
	return nil
}

// MarkPrepared records that provider issued a code and moves the attempt to CodeIssued.
func (a *Attempt) MarkPrepared(provider string) error {
	if err := a.Transition(StateCodeIssued); err != nil {
		return err
	}
	a.Provider = provider
	if !a.IsPrepared(provider) {
		a.Prepared = append(a.Prepared, provider)
	}
	return nil
}
