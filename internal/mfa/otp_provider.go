package mfa

import (
	"context"
	"time"

	"credential-lifecycle/backend/internal/mfa/domain"
)

// OTPProvider delivers numeric codes over one method type (e-mail or SMS).
type OTPProvider struct {
	methodType domain.MethodType
	codes      *CodeGenerator
	now        func() time.Time
}

// NewOTPProvider returns a provider for methodType that issues codes with codes.
func NewOTPProvider(methodType domain.MethodType, codes *CodeGenerator) *OTPProvider {
	return &OTPProvider{methodType: methodType, codes: codes, now: time.Now}
}

// NewEmailProvider returns the e-mail code provider.
func NewEmailProvider(codes *CodeGenerator) *OTPProvider {
	return NewOTPProvider(domain.MethodEmail, codes)
}

// NewSMSProvider returns the SMS code provider.
func NewSMSProvider(codes *CodeGenerator) *OTPProvider {
	return NewOTPProvider(domain.MethodSMS, codes)
}

func (p *OTPProvider) Name() string {
	return string(p.methodType)
}

func (p *OTPProvider) method(s *domain.Subject) *domain.Method {
	m := s.Method(p.methodType)
	if m == nil || !m.Enabled || m.Recipient == "" {
		return nil
	}
	return m
}

func (p *OTPProvider) Supports(s *domain.Subject) bool {
	return p.method(s) != nil
}

func (p *OTPProvider) Prepare(ctx context.Context, s *domain.Subject) error {
	m := p.method(s)
	if m == nil {
		return ErrNoMethod
	}
	return p.codes.GenerateAndSend(ctx, m)
}

func (p *OTPProvider) Resend(ctx context.Context, s *domain.Subject) error {
	m := p.method(s)
	if m == nil {
		return ErrNoMethod
	}
	return p.codes.ReSend(ctx, m)
}

func (p *OTPProvider) Redeem(ctx context.Context, s *domain.Subject) (bool, error) {
	m := p.method(s)
	if m == nil {
		return false, ErrNoMethod
	}
	return p.codes.Redeem(ctx, m)
}

// Validate fails closed: no method, no code, a passed expiry, or a mismatch all return false.
func (p *OTPProvider) Validate(s *domain.Subject, code string) bool {
	m := p.method(s)
	if m == nil || !m.HasActiveCode(p.now()) {
		return false
	}
	return CodeEqual(NormalizeCode(code), m.AuthCode)
}
