package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/citygrid-api/internal/dto"
	"github.com/noah-isme/citygrid-api/internal/models"
	appErrors "github.com/noah-isme/citygrid-api/pkg/errors"
)

// Stage names, also used as metric labels.
const (
	StageIdentity   = "identity"
	StagePhone      = "phone"
	StagePermission = "permission"
	StageZone       = "zone"
	StageZeroTrust  = "zero_trust"
)

// AccessRequest is the context every stage reads. Identity fills in Claims
// and Account for the stages after it.
type AccessRequest struct {
	Token  string
	Module models.Module
	Action models.Action

	// Zone targets, tried in this order.
	PathAssetID string
	BodyAssetID string
	BodyZone    string

	Client dto.ClientContext

	Claims  *models.AccessClaims
	Account *models.Account
}

// Decision is the outcome of a stage or of a whole chain.
type Decision struct {
	Allowed bool
	Stage   string
	Err     *appErrors.Error
	Reason  string
}

func allow(stage string) Decision { return Decision{Allowed: true, Stage: stage} }

func deny(stage string, err *appErrors.Error, reason string) Decision {
	return Decision{Stage: stage, Err: err, Reason: reason}
}

// Stage is one ordered check of a chain.
type Stage interface {
	Name() string
	Evaluate(ctx context.Context, req *AccessRequest) Decision
}

type stageFunc struct {
	name string
	fn   func(ctx context.Context, req *AccessRequest) Decision
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Evaluate(ctx context.Context, req *AccessRequest) Decision { return s.fn(ctx, req) }

type accessVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*models.AccessClaims, error)
}

type assetLocator interface {
	FindByID(ctx context.Context, id string) (*models.Asset, error)
}

type threatScorer interface {
	threatRecorder
	Score(ctx context.Context) (int, error)
}

type trustAdjuster interface {
	Adjust(ctx context.Context, accountID string, signal TrustSignal) (int, error)
}

type auditLogger interface {
	LogAction(ctx context.Context, entry *models.AuditLog) (bool, error)
}

// GatekeeperConfig holds zero-trust policy thresholds.
type GatekeeperConfig struct {
	TrustFloor            int
	LockdownThreshold     int
	RestrictedThreshold   int
	AuditAllowedDecisions bool
}

// Gatekeeper authorizes requests against protected infrastructure routes.
type Gatekeeper struct {
	tokens      accessVerifier
	accounts    accountReader
	assets      assetLocator
	permissions *PermissionTable
	threats     threatScorer
	trust       trustAdjuster
	audit       auditLogger
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         GatekeeperConfig
	now         func() time.Time
}

// NewGatekeeper constructs a Gatekeeper.
func NewGatekeeper(tokens accessVerifier, accounts accountReader, assets assetLocator, permissions *PermissionTable, threats threatScorer, trust trustAdjuster, audit auditLogger, metrics *MetricsService, logger *zap.Logger, cfg GatekeeperConfig) *Gatekeeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TrustFloor <= 0 {
		cfg.TrustFloor = 40
	}
	if cfg.LockdownThreshold <= 0 {
		cfg.LockdownThreshold = 80
	}
	if cfg.RestrictedThreshold <= 0 {
		cfg.RestrictedThreshold = 90
	}
	return &Gatekeeper{
		tokens:      tokens,
		accounts:    accounts,
		assets:      assets,
		permissions: permissions,
		threats:     threats,
		trust:       trust,
		audit:       audit,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ReadChain guards read routes: identity, phone, permission.
func (g *Gatekeeper) ReadChain() []Stage {
	return []Stage{g.IdentityStage(), g.PhoneStage(), g.PermissionStage()}
}

// WriteChain guards write and override routes: the read chain followed by zone and zero-trust checks.
func (g *Gatekeeper) WriteChain() []Stage {
	return append(g.ReadChain(), g.ZoneStage(), g.ZeroTrustStage())
}

// IdentityChain only authenticates the caller.
func (g *Gatekeeper) IdentityChain() []Stage {
	return []Stage{g.IdentityStage()}
}

// Evaluate runs chain in order and stops at the first deny. Denials are
// always audited; allowed decisions when configured.
func (g *Gatekeeper) Evaluate(ctx context.Context, req *AccessRequest, chain []Stage) Decision {
	decision := Decision{Allowed: true}
	for _, stage := range chain {
		decision = stage.Evaluate(ctx, req)
		if decision.Stage == "" {
			decision.Stage = stage.Name()
		}
		if !decision.Allowed {
			break
		}
	}

	outcome := models.OutcomeAllowed
	if !decision.Allowed {
		outcome = models.OutcomeDenied
	}
	g.metrics.ObserveDecision(decision.Stage, string(outcome))

	if !decision.Allowed {
		g.logger.Info("access denied",
			zap.String("stage", decision.Stage),
			zap.String("reason", decision.Reason),
			zap.String("endpoint", req.Client.Endpoint),
			zap.String("ip", req.Client.IP),
		)
	}
	if !decision.Allowed || g.cfg.AuditAllowedDecisions {
		g.record(ctx, req, outcome, decision)
	}
	return decision
}

func (g *Gatekeeper) record(ctx context.Context, req *AccessRequest, outcome models.Outcome, decision Decision) {
	entry := &models.AuditLog{
		Endpoint: req.Client.Endpoint,
		Method:   req.Client.Method,
		Outcome:  outcome,
		Reason:   decision.Reason,
		DeviceID: req.Client.DeviceID,
		IP:       req.Client.IP,
	}
	if outcome == models.OutcomeAllowed && entry.Reason == "" {
		entry.Reason = fmt.Sprintf("%s %s", req.Module, req.Action)
	}
	if req.Account != nil {
		accountID := req.Account.ID
		entry.AccountID = &accountID
		entry.Username = req.Account.Username
		entry.Role = string(req.Account.Role)
	}
	if _, err := g.audit.LogAction(ctx, entry); err != nil {
		g.logger.Error("failed to audit access decision", zap.Error(err))
	}
}

// IdentityStage verifies the bearer token and loads the account. Every
// failure returns the same generic 401.
func (g *Gatekeeper) IdentityStage() Stage {
	return stageFunc{name: StageIdentity, fn: func(ctx context.Context, req *AccessRequest) Decision {
		if req.Token == "" {
			return deny(StageIdentity, appErrors.ErrUnauthorized, "missing bearer token")
		}
		claims, err := g.tokens.VerifyAccessToken(ctx, req.Token)
		if err != nil {
			return deny(StageIdentity, appErrors.ErrUnauthorized, err.Error())
		}
		account, err := g.accounts.FindByID(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return deny(StageIdentity, appErrors.ErrUnauthorized, "account not found")
			}
			g.logger.Error("identity lookup failed", zap.Error(err))
			return deny(StageIdentity, appErrors.ErrUnauthorized, "account lookup failed")
		}
		if account.Locked {
			return deny(StageIdentity, appErrors.ErrUnauthorized, "account locked")
		}
		role, err := ParseRole(string(account.Role), g.logger)
		if err != nil {
			return deny(StageIdentity, appErrors.ErrUnauthorized, err.Error())
		}
		account.Role = role
		req.Claims = claims
		req.Account = account
		return allow(StageIdentity)
	}}
}

// PhoneStage requires a verified phone number.
func (g *Gatekeeper) PhoneStage() Stage {
	return stageFunc{name: StagePhone, fn: func(_ context.Context, req *AccessRequest) Decision {
		if !req.Account.PhoneVerified {
			return deny(StagePhone, appErrors.ErrPhoneUnverified, "phone not verified")
		}
		return allow(StagePhone)
	}}
}

// PermissionStage checks the role table. A refusal counts as attempted
// privilege escalation.
func (g *Gatekeeper) PermissionStage() Stage {
	return stageFunc{name: StagePermission, fn: func(ctx context.Context, req *AccessRequest) Decision {
		account := req.Account
		if g.permissions.Allows(account.Role, req.Module, req.Action) {
			return allow(StagePermission)
		}
		reason := fmt.Sprintf("role %s may not %s %s", account.Role, req.Action, req.Module)
		if _, err := g.threats.RecordEvent(ctx, ThreatEventInput{
			Type:      models.ThreatPrivilegeEscalation,
			Severity:  models.SeverityMedium,
			AccountID: account.ID,
			Endpoint:  req.Client.Endpoint,
			IP:        req.Client.IP,
			Detail:    reason,
		}); err != nil {
			g.logger.Error("failed to record privilege escalation", zap.Error(err))
		}
		if _, err := g.trust.Adjust(ctx, account.ID, SignalUnauthorizedAccess); err != nil {
			g.logger.Error("failed to apply trust penalty", zap.Error(err))
		}
		return deny(StagePermission, appErrors.Clone(appErrors.ErrForbidden, "role is not permitted to perform this action"), reason)
	}}
}

// ZoneStage resolves the target zone, first match wins: path asset id, body
// asset id, body zone. SUPER_ADMIN is not zone bound.
func (g *Gatekeeper) ZoneStage() Stage {
	return stageFunc{name: StageZone, fn: func(ctx context.Context, req *AccessRequest) Decision {
		account := req.Account
		if account.Role == models.RoleSuperAdmin {
			return allow(StageZone)
		}

		var (
			target string
			source string
		)
		switch {
		case req.PathAssetID != "":
			zone, decision, ok := g.assetZone(ctx, req, req.PathAssetID)
			if !ok {
				return decision
			}
			target, source = zone, "asset "+req.PathAssetID
		case req.BodyAssetID != "":
			zone, decision, ok := g.assetZone(ctx, req, req.BodyAssetID)
			if !ok {
				return decision
			}
			target, source = zone, "asset "+req.BodyAssetID
		case req.BodyZone != "":
			target, source = req.BodyZone, "zone"
		default:
			return deny(StageZone, appErrors.Clone(appErrors.ErrForbidden, "target zone could not be determined"), "unresolved target zone")
		}

		if target != account.Zone {
			msg := fmt.Sprintf("cross-zone access denied: account zone %s does not match %s in zone %s", account.Zone, source, target)
			return deny(StageZone, appErrors.Clone(appErrors.ErrCrossZone, msg), msg)
		}
		return allow(StageZone)
	}}
}

func (g *Gatekeeper) assetZone(ctx context.Context, req *AccessRequest, id string) (string, Decision, bool) {
	asset, err := g.assets.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", deny(StageZone, appErrors.Clone(appErrors.ErrForbidden, "target zone could not be determined"), "unknown asset "+id), false
		}
		g.logger.Error("asset lookup failed", zap.String("asset_id", id), zap.Error(err))
		return "", deny(StageZone, appErrors.ErrPolicyUnavailable, "asset lookup failed"), false
	}
	if asset.Module != req.Module {
		return "", deny(StageZone, appErrors.Clone(appErrors.ErrForbidden, "asset does not belong to this module"), fmt.Sprintf("asset %s belongs to %s", id, asset.Module)), false
	}
	return asset.Zone, Decision{}, true
}

// ZeroTrustStage applies the global threat level and device trust floor.
func (g *Gatekeeper) ZeroTrustStage() Stage {
	return stageFunc{name: StageZeroTrust, fn: func(ctx context.Context, req *AccessRequest) Decision {
		account := req.Account
		score, err := g.threats.Score(ctx)
		if err != nil {
			g.logger.Error("threat score unavailable", zap.Error(err))
			return deny(StageZeroTrust, appErrors.ErrPolicyUnavailable, "threat score unavailable")
		}

		if score > g.cfg.RestrictedThreshold {
			return deny(StageZeroTrust, appErrors.ErrRestrictedMode, "restricted mode")
		}
		if account.TrustScore < g.cfg.TrustFloor {
			if _, err := g.trust.Adjust(ctx, account.ID, SignalPolicyDeniedWrite); err != nil {
				g.logger.Error("failed to apply trust penalty", zap.Error(err))
			}
			return deny(StageZeroTrust, appErrors.ErrTrustTooLow, "trust score below floor")
		}
		if score > g.cfg.LockdownThreshold && !account.HasActiveOverride(g.now()) {
			return deny(StageZeroTrust, appErrors.ErrLockdown, "lockdown without emergency override")
		}

		if _, err := g.trust.Adjust(ctx, account.ID, SignalAuthorizedAction); err != nil {
			g.logger.Warn("failed to apply trust reward", zap.Error(err))
		}
		return allow(StageZeroTrust)
	}}
}
