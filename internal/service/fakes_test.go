package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/noah-isme/citygrid-api/internal/models"
	"github.com/noah-isme/citygrid-api/internal/repository"
)

var fixedNow = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

type mockAccounts struct {
	mu       sync.Mutex
	byID     map[string]*models.Account
	findErr  error
	adjusts  []int
	logins   []models.LoginRecord
	createFn func(*models.Account) error
}

func newMockAccounts(accounts ...*models.Account) *mockAccounts {
	m := &mockAccounts{byID: make(map[string]*models.Account)}
	for _, a := range accounts {
		m.byID[a.ID] = a
	}
	return m
}

func (m *mockAccounts) get(id string) *models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

func (m *mockAccounts) FindByID(_ context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	a, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *a
	return &copied, nil
}

func (m *mockAccounts) FindByUsername(_ context.Context, username string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, a := range m.byID {
		if strings.EqualFold(a.Username, username) {
			copied := *a
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAccounts) Create(_ context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createFn != nil {
		if err := m.createFn(account); err != nil {
			return err
		}
	}
	for _, a := range m.byID {
		if strings.EqualFold(a.Username, account.Username) {
			return repository.ErrDuplicate
		}
	}
	copied := *account
	m.byID[account.ID] = &copied
	return nil
}

func (m *mockAccounts) AdjustTrust(_ context.Context, id string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	a.TrustScore = clampScore(a.TrustScore + delta)
	m.adjusts = append(m.adjusts, delta)
	return a.TrustScore, nil
}

func (m *mockAccounts) RecordFailedLogin(_ context.Context, id string, maxFailures int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.byID[id]
	a.FailedLoginCount++
	if a.FailedLoginCount >= maxFailures {
		a.Locked = true
	}
	return a.FailedLoginCount, a.Locked, nil
}

func (m *mockAccounts) RecordSuccessfulLogin(_ context.Context, id string, login models.LoginRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.byID[id]
	a.FailedLoginCount = 0
	at, ip, country, device := login.At, login.IP, login.Country, login.DeviceID
	a.LastLoginAt, a.LastLoginIP, a.LastLoginCountry, a.LastLoginDeviceID = &at, &ip, &country, &device
	a.LastLoginLat, a.LastLoginLon = nil, nil
	if login.Located {
		lat, lon := login.Lat, login.Lon
		a.LastLoginLat, a.LastLoginLon = &lat, &lon
	}
	m.logins = append(m.logins, login)
	return nil
}

func (m *mockAccounts) SetPhoneVerified(_ context.Context, id string, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].PhoneVerified = verified
	return nil
}

func (m *mockAccounts) GrantOverride(_ context.Context, id string, expiresAt, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.byID[id]
	if a.HasActiveOverride(now) {
		return false, nil
	}
	a.OverrideExpiresAt = &expiresAt
	return true, nil
}

type mockRefreshStore struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
}

func newMockRefreshStore() *mockRefreshStore {
	return &mockRefreshStore{tokens: make(map[string]*models.RefreshToken)}
}

func (m *mockRefreshStore) Create(_ context.Context, token *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *token
	m.tokens[token.JTI] = &copied
	return nil
}

func (m *mockRefreshStore) FindByJTI(_ context.Context, jti string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[jti]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *t
	return &copied, nil
}

func (m *mockRefreshStore) Rotate(_ context.Context, oldJTI string, next *models.RefreshToken, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tokens[oldJTI]
	if !ok || old.Revoked {
		return repository.ErrRefreshTokenConsumed
	}
	old.Revoked = true
	old.RevokedAt = &now
	copied := *next
	m.tokens[next.JTI] = &copied
	return nil
}

func (m *mockRefreshStore) Revoke(_ context.Context, jti string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[jti]
	if !ok || t.Revoked {
		return false, nil
	}
	t.Revoked = true
	t.RevokedAt = &now
	return true, nil
}

func (m *mockRefreshStore) RevokeAllForAccount(_ context.Context, accountID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tokens {
		if t.AccountID == accountID && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *mockRefreshStore) active(accountID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tokens {
		if t.AccountID == accountID && !t.Revoked {
			n++
		}
	}
	return n
}

type mockRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Duration
	err     error
}

func newMockRevocations() *mockRevocations {
	return &mockRevocations{revoked: make(map[string]time.Duration)}
}

func (m *mockRevocations) Mark(_ context.Context, jti string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.revoked[jti]; !ok {
		m.revoked[jti] = ttl
	}
	return nil
}

func (m *mockRevocations) Contains(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.revoked[jti]
	return ok, nil
}

func (m *mockRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return m.Contains(ctx, jti)
}

type mockRevokedLog struct {
	mu      sync.Mutex
	records map[string]*models.RevokedToken
}

func (m *mockRevokedLog) Insert(_ context.Context, record *models.RevokedToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]*models.RevokedToken)
	}
	if _, ok := m.records[record.JTI]; !ok {
		m.records[record.JTI] = record
	}
	return nil
}

type mockThreatStore struct {
	mu       sync.Mutex
	score    int
	events   []models.ThreatEvent
	scoreErr error
}

func (m *mockThreatStore) InsertEvent(_ context.Context, event *models.ThreatEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

func (m *mockThreatStore) AdjustScore(_ context.Context, _ string, delta int, _ time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.score = clampScore(m.score + delta)
	return m.score, nil
}

func (m *mockThreatStore) Score(_ context.Context, _ string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scoreErr != nil {
		return 0, m.scoreErr
	}
	return m.score, nil
}

func (m *mockThreatStore) RecentEvents(_ context.Context, limit int) ([]models.ThreatEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) < limit {
		limit = len(m.events)
	}
	return append([]models.ThreatEvent(nil), m.events[:limit]...), nil
}

func (m *mockThreatStore) eventsOf(t models.ThreatEventType) []models.ThreatEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ThreatEvent
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type mockAuditStore struct {
	mu      sync.Mutex
	entries []models.AuditLog
	err     error
}

func (m *mockAuditStore) Insert(_ context.Context, entry *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockAuditStore) List(_ context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AuditLog(nil), m.entries...), len(m.entries), nil
}

func (m *mockAuditStore) rows() []models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AuditLog(nil), m.entries...)
}

// mockThrottle behaves like SET NX PX against a controllable clock.
type mockThrottle struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
	err  error
}

func newMockThrottle(now func() time.Time) *mockThrottle {
	return &mockThrottle{keys: make(map[string]time.Time), now: now}
}

func (m *mockThrottle) Acquire(_ context.Context, key string, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	now := m.now()
	if exp, ok := m.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.keys[key] = now.Add(window)
	return true, nil
}

func (m *mockThrottle) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type mockAssets struct {
	assets map[string]*models.Asset
	err    error
	merged map[string]models.AssetState
}

func newMockAssets(assets ...*models.Asset) *mockAssets {
	m := &mockAssets{assets: make(map[string]*models.Asset), merged: make(map[string]models.AssetState)}
	for _, a := range assets {
		m.assets[a.ID] = a
	}
	return m
}

func (m *mockAssets) FindByID(_ context.Context, id string) (*models.Asset, error) {
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.assets[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *a
	return &copied, nil
}

func (m *mockAssets) ListByModule(_ context.Context, module models.Module, zone string) ([]models.Asset, error) {
	var out []models.Asset
	for _, a := range m.assets {
		if a.Module == module && (zone == "" || a.Zone == zone) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockAssets) MergeState(_ context.Context, id string, patch models.AssetState, _ time.Time) error {
	if _, ok := m.assets[id]; !ok {
		return sql.ErrNoRows
	}
	m.merged[id] = patch
	return nil
}

type publishedMessage struct {
	Topic    string
	Payload  []byte
	Retained bool
}

type mockBus struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

func (m *mockBus) Topic(parts ...string) string {
	return "citygrid/" + strings.Join(parts, "/")
}

func (m *mockBus) PublishJSON(topic string, v interface{}, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.messages = append(m.messages, publishedMessage{Topic: topic, Payload: payload, Retained: retained})
	return nil
}

func (m *mockBus) topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		out = append(out, msg.Topic)
	}
	return out
}

type mockCodes struct {
	codes map[string]string
}

func (m *mockCodes) Store(_ context.Context, accountID, code string, _ time.Duration) error {
	if m.codes == nil {
		m.codes = make(map[string]string)
	}
	m.codes[accountID] = code
	return nil
}

func (m *mockCodes) Consume(_ context.Context, accountID, code string) (bool, error) {
	stored, ok := m.codes[accountID]
	if !ok || stored != code {
		return false, nil
	}
	delete(m.codes, accountID)
	return true, nil
}

type capturingNotifier struct {
	phone string
	code  string
}

func (n *capturingNotifier) SendVerificationCode(_ context.Context, phoneNumber, code string) error {
	n.phone, n.code = phoneNumber, code
	return nil
}

func mustField(t *testing.T, payload []byte, field string) json.RawMessage {
	t.Helper()
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	value, ok := fields[field]
	if !ok {
		t.Fatalf("field %q missing from %s", field, payload)
	}
	return value
}
