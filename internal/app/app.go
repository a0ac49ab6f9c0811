// Package app assembles the credential services from configuration and infrastructure handles.
// cmd/server and cmd/worker build on it; the RPC layer calls the services it exposes.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	actiontokenrepo "credential-lifecycle/backend/internal/actiontoken/repository"
	actiontokensvc "credential-lifecycle/backend/internal/actiontoken/service"
	"credential-lifecycle/backend/internal/audit"
	auditrepo "credential-lifecycle/backend/internal/audit/repository"
	"credential-lifecycle/backend/internal/config"
	"credential-lifecycle/backend/internal/devotp"
	"credential-lifecycle/backend/internal/ephemeral"
	"credential-lifecycle/backend/internal/mfa"
	"credential-lifecycle/backend/internal/mfa/attempt"
	mfarepo "credential-lifecycle/backend/internal/mfa/repository"
	"credential-lifecycle/backend/internal/mfa/sms"
	"credential-lifecycle/backend/internal/notify"
	"credential-lifecycle/backend/internal/security"
	"credential-lifecycle/backend/internal/telemetry"
	userrepo "credential-lifecycle/backend/internal/user/repository"
)

// ErrNoStorage is returned when neither a database nor explicit repositories are supplied.
var ErrNoStorage = errors.New("app: a database or repositories are required")

// Infra holds the handles the services run on. DB backs every repository left nil.
type Infra struct {
	DB     *sql.DB
	States ephemeral.Backend

	Tokens    actiontokenrepo.Repository
	Methods   mfarepo.Repository
	AuditLogs auditrepo.Repository
	Users     userrepo.Repository

	Tracer      trace.Tracer
	Meter       metric.Meter
	Emitter     telemetry.EventEmitter
	IPExtractor audit.IPExtractor

	// PasswordSetter and RegistrationConfirmer default to Users. Without either
	// ResetPassword and ConfirmRegistration return ErrNotConfigured.
	PasswordSetter        actiontokensvc.PasswordSetter
	RegistrationConfirmer actiontokensvc.RegistrationConfirmer
}

// App is the assembled set of credential services.
type App struct {
	States       *ephemeral.Store
	Attempts     *attempt.Store
	Methods      mfarepo.Repository
	Users        userrepo.Repository
	MFA          *mfa.Orchestrator
	Assertions   *security.AssertionProvider
	ActionTokens *actiontokensvc.Service
	Audit        *audit.Logger
	// DevOTP holds issued codes when OTP_RETURN_TO_CLIENT is on; nil otherwise.
	DevOTP *devotp.MemoryStore
}

// New wires every service from cfg and infra.
func New(cfg *config.Config, infra Infra) (*App, error) {
	if infra.DB != nil {
		if infra.Tokens == nil {
			infra.Tokens = actiontokenrepo.NewPostgresRepository(infra.DB)
		}
		if infra.Methods == nil {
			infra.Methods = mfarepo.NewPostgresRepository(infra.DB)
		}
		if infra.AuditLogs == nil {
			infra.AuditLogs = auditrepo.NewPostgresRepository(infra.DB)
		}
		if infra.Users == nil {
			infra.Users = userrepo.NewPostgresRepository(infra.DB)
		}
	}
	if infra.Users != nil {
		if infra.PasswordSetter == nil {
			infra.PasswordSetter = infra.Users
		}
		if infra.RegistrationConfirmer == nil {
			infra.RegistrationConfirmer = infra.Users
		}
	}
	if infra.Tokens == nil || infra.Methods == nil || infra.AuditLogs == nil {
		return nil, ErrNoStorage
	}
	if infra.States == nil {
		log.Println("app: no ephemeral backend configured, keeping state in process memory")
		infra.States = ephemeral.NewMemoryBackend()
	}

	a := &App{Methods: infra.Methods, Users: infra.Users}
	a.Audit = audit.NewLogger(infra.AuditLogs, infra.IPExtractor, infra.Emitter)
	a.States = ephemeral.NewStore(infra.States, ephemeral.Config{
		KeyBytes:   cfg.EphemeralKeyBytes,
		DefaultTTL: cfg.EphemeralDefaultTTL,
		OpTimeout:  cfg.CacheOpTimeout,
	})
	a.Attempts = attempt.NewStore(a.States, cfg.MFAAttemptTTL)

	var err error
	if a.Assertions, err = newAssertions(cfg); err != nil {
		return nil, err
	}

	var mailer *notify.Mailer
	if cfg.SMTPHost != "" {
		mailer = notify.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom)
	}
	if a.MFA, a.DevOTP, err = newOrchestrator(cfg, infra, a, mailer); err != nil {
		return nil, err
	}
	if a.ActionTokens, err = newActionTokens(cfg, infra, a.Audit, mailer); err != nil {
		return nil, err
	}
	return a, nil
}

func newAssertions(cfg *config.Config) (*security.AssertionProvider, error) {
	if cfg.JWTPrivateKey == "" || cfg.JWTPublicKey == "" {
		return nil, fmt.Errorf("%w: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set", config.ErrConfiguration)
	}
	signer, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: JWT_PRIVATE_KEY: %v", config.ErrConfiguration, err)
	}
	pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: JWT_PUBLIC_KEY: %v", config.ErrConfiguration, err)
	}
	return security.NewAssertionProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.MFAAssertionTTL), nil
}

// newOrchestrator registers one provider per deliverable factor. With OTP_RETURN_TO_CLIENT every
// factor records into the dev store instead of sending.
func newOrchestrator(cfg *config.Config, infra Infra, a *App, mailer *notify.Mailer) (*mfa.Orchestrator, *devotp.MemoryStore, error) {
	var (
		emailSender mfa.CodeSender
		smsSender   mfa.CodeSender
		dev         *devotp.MemoryStore
	)
	switch {
	case cfg.OTPReturnToClient:
		dev = devotp.NewMemoryStore()
		sender := devotp.NewSender(dev, cfg.MFACodeTTL)
		emailSender, smsSender = sender, sender
		log.Println("app: OTP_RETURN_TO_CLIENT is on, codes are recorded instead of delivered")
	default:
		if mailer != nil {
			emailSender = mailer
		}
		if cfg.SMSLocalAPIKey != "" {
			smsSender = sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender)
		}
	}

	var providers []mfa.Provider
	if emailSender != nil {
		codes, err := mfa.NewCodeGenerator(cfg.MFACodeDigits, cfg.MFACodeTTL, infra.Methods, emailSender)
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, mfa.NewEmailProvider(codes))
	}
	if smsSender != nil {
		codes, err := mfa.NewCodeGenerator(cfg.MFACodeDigits, cfg.MFACodeTTL, infra.Methods, smsSender)
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, mfa.NewSMSProvider(codes))
	}
	if len(providers) == 0 {
		log.Println("app: no second factor can be delivered; set SMTP_HOST or SMS_LOCAL_API_KEY")
	}

	opts := []mfa.Option{mfa.WithAuditLogger(a.Audit)}
	if infra.Tracer != nil {
		opts = append(opts, mfa.WithTracer(infra.Tracer))
	}
	if infra.Meter != nil {
		opts = append(opts, mfa.WithMeter(infra.Meter))
	}
	o, err := mfa.NewOrchestrator(mfa.NewRegistry(providers...), infra.Methods, a.Attempts, a.Assertions, opts...)
	if err != nil {
		return nil, nil, err
	}
	return o, dev, nil
}

func newActionTokens(cfg *config.Config, infra Infra, auditLogger *audit.Logger, mailer *notify.Mailer) (*actiontokensvc.Service, error) {
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}
	tokens, err := security.NewTokenGenerator(key, cfg.ActionTokenSelectorLen, cfg.ActionTokenVerifierLen)
	if err != nil {
		return nil, err
	}
	opts := []actiontokensvc.Option{actiontokensvc.WithAuditLogger(auditLogger)}
	if mailer != nil {
		opts = append(opts, actiontokensvc.WithMailer(mailer))
	}
	if infra.PasswordSetter != nil {
		opts = append(opts, actiontokensvc.WithPasswordReset(security.NewHasher(cfg.BcryptCost), infra.PasswordSetter))
	}
	if infra.RegistrationConfirmer != nil {
		opts = append(opts, actiontokensvc.WithRegistrationConfirmer(infra.RegistrationConfirmer))
	}
	if infra.Meter != nil {
		opts = append(opts, actiontokensvc.WithMeter(infra.Meter))
	}
	return actiontokensvc.NewService(infra.Tokens, tokens, actiontokensvc.Config{
		PasswordResetTTL: cfg.PasswordResetTTL,
		RegistrationTTL:  cfg.RegistrationTTL,
	}, opts...)
}
