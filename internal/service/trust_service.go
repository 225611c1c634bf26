package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/citygrid-api/internal/models"
	"github.com/noah-isme/citygrid-api/pkg/geo"
)

// TrustSignal is an observation that moves an account's device trust score.
type TrustSignal string

const (
	SignalFailedLogin        TrustSignal = "failed_login"
	SignalLowTrustLogin      TrustSignal = "low_trust_login"
	SignalTravelMedium       TrustSignal = "travel_medium"
	SignalTravelHigh         TrustSignal = "travel_high"
	SignalTravelCritical     TrustSignal = "travel_critical"
	SignalUnauthorizedAccess TrustSignal = "unauthorized_access"
	SignalPolicyDeniedWrite  TrustSignal = "policy_denied_write"
	SignalAuthorizedAction   TrustSignal = "authorized_action"
)

// Delta returns the score change for the signal.
func (s TrustSignal) Delta() int {
	switch s {
	case SignalFailedLogin:
		return -15
	case SignalLowTrustLogin:
		return -20
	case SignalTravelMedium:
		return -10
	case SignalTravelHigh:
		return -25
	case SignalTravelCritical:
		return -50
	case SignalUnauthorizedAccess:
		return -10
	case SignalPolicyDeniedWrite:
		return -5
	case SignalAuthorizedAction:
		return 1
	default:
		return 0
	}
}

// minTravelHours keeps back-to-back logins from producing infinite speeds.
const minTravelHours = 0.01

type trustStore interface {
	AdjustTrust(ctx context.Context, id string, delta int) (int, error)
	SetPhoneVerified(ctx context.Context, id string, verified bool) error
}

// TravelConfig sets the implied-speed thresholds in km/h.
type TravelConfig struct {
	MaxSpeedKMH      float64
	CriticalSpeedKMH float64
}

// TravelAssessment is the outcome of comparing two consecutive logins.
type TravelAssessment struct {
	Severity   models.Severity
	DistanceKM float64
	SpeedKMH   float64
	Reason     string
}

// Anomalous reports whether any tier matched.
func (a TravelAssessment) Anomalous() bool { return a.Severity != "" }

// TrustService applies device trust signals.
type TrustService struct {
	store   trustStore
	threats threatRecorder
	metrics *MetricsService
	logger  *zap.Logger
	travel  TravelConfig
}

// NewTrustService constructs a TrustService.
func NewTrustService(store trustStore, threats threatRecorder, metrics *MetricsService, logger *zap.Logger, travel TravelConfig) *TrustService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if travel.MaxSpeedKMH <= 0 {
		travel.MaxSpeedKMH = 900
	}
	if travel.CriticalSpeedKMH <= 0 {
		travel.CriticalSpeedKMH = 2000
	}
	return &TrustService{store: store, threats: threats, metrics: metrics, logger: logger, travel: travel}
}

// Adjust applies signal to the account and returns the clamped score.
func (s *TrustService) Adjust(ctx context.Context, accountID string, signal TrustSignal) (int, error) {
	delta := signal.Delta()
	if delta == 0 {
		return 0, fmt.Errorf("unknown trust signal %q", signal)
	}
	score, err := s.store.AdjustTrust(ctx, accountID, delta)
	if err != nil {
		return 0, fmt.Errorf("adjust trust: %w", err)
	}
	s.metrics.ObserveTrustAdjustment(string(signal))
	s.logger.Debug("trust adjusted",
		zap.String("account_id", accountID),
		zap.String("signal", string(signal)),
		zap.Int("score", score),
	)
	return score, nil
}

// DetectTravelAnomaly compares the current login with the previous one.
func (s *TrustService) DetectTravelAnomaly(prev *models.LoginRecord, curr models.LoginRecord) TravelAssessment {
	if prev == nil {
		return TravelAssessment{}
	}

	deviceChanged := prev.DeviceID != curr.DeviceID
	countryChanged := prev.Country != "" && curr.Country != "" && prev.Country != curr.Country

	var result TravelAssessment
	if prev.Located && curr.Located {
		result.DistanceKM = geo.DistanceKM(prev.Lat, prev.Lon, curr.Lat, curr.Lon)
		hours := curr.At.Sub(prev.At).Hours()
		if hours < minTravelHours {
			hours = minTravelHours
		}
		result.SpeedKMH = result.DistanceKM / hours
	}

	switch {
	case result.SpeedKMH > s.travel.CriticalSpeedKMH && deviceChanged:
		result.Severity = models.SeverityCritical
		result.Reason = fmt.Sprintf("implied speed %.0f km/h from a new device", result.SpeedKMH)
	case result.SpeedKMH > s.travel.MaxSpeedKMH:
		result.Severity = models.SeverityHigh
		result.Reason = fmt.Sprintf("implied speed %.0f km/h", result.SpeedKMH)
	case countryChanged && deviceChanged:
		result.Severity = models.SeverityMedium
		result.Reason = fmt.Sprintf("country changed %s -> %s from a new device", prev.Country, curr.Country)
	}
	return result
}

// ApplyTravelAnomaly penalises the account and records an impossible_travel
// event of the same severity. Critical anomalies also revoke phone verification.
func (s *TrustService) ApplyTravelAnomaly(ctx context.Context, accountID string, assessment TravelAssessment, ip string, at time.Time) error {
	var signal TrustSignal
	switch assessment.Severity {
	case models.SeverityCritical:
		signal = SignalTravelCritical
	case models.SeverityHigh:
		signal = SignalTravelHigh
	case models.SeverityMedium:
		signal = SignalTravelMedium
	default:
		return nil
	}

	if _, err := s.Adjust(ctx, accountID, signal); err != nil {
		return err
	}
	if assessment.Severity == models.SeverityCritical {
		if err := s.store.SetPhoneVerified(ctx, accountID, false); err != nil {
			return fmt.Errorf("reset phone verification: %w", err)
		}
	}
	s.logger.Warn("geo-velocity anomaly",
		zap.String("account_id", accountID),
		zap.String("severity", string(assessment.Severity)),
		zap.Float64("distance_km", assessment.DistanceKM),
		zap.Float64("speed_kmh", assessment.SpeedKMH),
		zap.Time("at", at),
	)
	if s.threats == nil {
		return nil
	}
	if _, err := s.threats.RecordEvent(ctx, ThreatEventInput{
		Type:      models.ThreatImpossibleTravel,
		Severity:  assessment.Severity,
		AccountID: accountID,
		Endpoint:  "/auth/login",
		IP:        ip,
		Detail:    assessment.Reason,
	}); err != nil {
		return err
	}
	return nil
}
