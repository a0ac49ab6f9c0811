package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseMethodType(t *testing.T) {
	cases := []struct {
		in   string
		want MethodType
		ok   bool
	}{
		{"email", MethodEmail, true},
		{" SMS ", MethodSMS, true},
		{"totp", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseMethodType(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseMethodType(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestMethod_HasActiveCode(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	m := &Method{AuthCode: "123456", LastCodeExpiresAt: now.Add(time.Minute)}
	if !m.HasActiveCode(now) {
		t.Error("code before expiry should be active")
	}
	if m.HasActiveCode(now.Add(2 * time.Minute)) {
		t.Error("code after expiry should not be active")
	}
	if !(&Method{AuthCode: "123456"}).HasActiveCode(now) {
		t.Error("code without expiry should be active")
	}
	if (&Method{}).HasActiveCode(now) {
		t.Error("method without code should not be active")
	}
}

func TestSubject_Method(t *testing.T) {
	email := &Method{ID: "m1", Type: MethodEmail}
	s := &Subject{ID: "u1", Methods: []*Method{email}}
	if s.Method(MethodEmail) != email {
		t.Error("Method(email) should return the email method")
	}
	if s.Method(MethodSMS) != nil {
		t.Error("Method(sms) should be nil")
	}
	var nilSubject *Subject
	if nilSubject.Method(MethodEmail) != nil {
		t.Error("nil subject should have no methods")
	}
}

func TestAttempt_IsPending(t *testing.T) {
	for state, want := range map[AttemptState]bool{
		StatePrimaryAuthenticated: false,
		StatePendingSecondFactor:  true,
		StateCodeIssued:           true,
		StateFailed:               true,
		StateExpired:              true,
		StateVerified:             false,
	} {
		a := &Attempt{SubjectID: "u1", State: state}
		if got := a.IsPending(); got != want {
			t.Errorf("IsPending(%s) = %v, want %v", state, got, want)
		}
	}
	if (&Attempt{State: StatePendingSecondFactor}).IsPending() {
		t.Error("attempt without subject should not be pending")
	}
	var nilAttempt *Attempt
	if nilAttempt.IsPending() {
		t.Error("nil attempt should not be pending")
	}
}

func TestAttempt_MarkPrepared(t *testing.T) {
	a := &Attempt{SubjectID: "u1", State: StatePendingSecondFactor}
	if err := a.MarkPrepared("email"); err != nil {
		t.Fatalf("MarkPrepared: %v", err)
	}
	if err := a.MarkPrepared("email"); err != nil {
		t.Fatalf("MarkPrepared again: %v", err)
	}
	if a.State != StateCodeIssued || a.Provider != "email" || len(a.Prepared) != 1 {
		t.Errorf("attempt = %+v", a)
	}
	if !a.IsPrepared("email") || a.IsPrepared("sms") {
		t.Error("IsPrepared mismatch")
	}
}

func TestAttempt_TransitionRules(t *testing.T) {
	a := &Attempt{SubjectID: "u1", State: StateVerified}
	if err := a.Transition(StateCodeIssued); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("verified -> code_issued: err = %v, want ErrIllegalTransition", err)
	}
	a = &Attempt{SubjectID: "u1", State: StatePendingSecondFactor}
	if err := a.Transition(StateVerified); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("pending -> verified without a code: err = %v, want ErrIllegalTransition", err)
	}
	a = &Attempt{SubjectID: "u1", State: StateFailed}
	if err := a.Transition(StatePendingSecondFactor); err != nil {
		t.Errorf("failed -> pending: %v", err)
	}
	a = &Attempt{SubjectID: "u1", State: StatePrimaryAuthenticated}
	if err := a.Transition(StateCodeIssued); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("primary -> code_issued: err = %v, want ErrIllegalTransition", err)
	}
}
