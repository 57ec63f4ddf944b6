package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/langchou/tesmileage/internal/api/tesla"
	"github.com/langchou/tesmileage/internal/models"
	"github.com/langchou/tesmileage/internal/repository"
	"github.com/langchou/tesmileage/internal/sink"
)

// ---------------------------------------------------------------------------
// Tesla API
// ---------------------------------------------------------------------------

type fakeVehicleAPI struct {
	mu            sync.Mutex
	vehicles      []tesla.Vehicle
	wakeErr       error
	getVehicle    func(call int) (*tesla.Vehicle, error)
	vehicleDelay  time.Duration
	getData       func(call int) (*tesla.VehicleData, error)
	wakeCalls     int
	vehicleCalls  int
	dataCalls     int
	listVehicleFn func() ([]tesla.Vehicle, error)
}

func (f *fakeVehicleAPI) ListVehicles(context.Context, string) ([]tesla.Vehicle, error) {
	if f.listVehicleFn != nil {
		return f.listVehicleFn()
	}
	return f.vehicles, nil
}

func (f *fakeVehicleAPI) GetVehicle(ctx context.Context, _, _ string) (*tesla.Vehicle, error) {
	f.mu.Lock()
	f.vehicleCalls++
	call := f.vehicleCalls
	f.mu.Unlock()
	if f.vehicleDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.vehicleDelay):
		}
	}
	if f.getVehicle == nil {
		return &tesla.Vehicle{State: "online"}, nil
	}
	return f.getVehicle(call)
}

func (f *fakeVehicleAPI) GetVehicleData(context.Context, string, string) (*tesla.VehicleData, error) {
	f.mu.Lock()
	f.dataCalls++
	call := f.dataCalls
	f.mu.Unlock()
	return f.getData(call)
}

func (f *fakeVehicleAPI) WakeUp(context.Context, string, string) error {
	f.mu.Lock()
	f.wakeCalls++
	f.mu.Unlock()
	return f.wakeErr
}

func odometerData(miles float64) *tesla.VehicleData {
	return &tesla.VehicleData{State: "online", VehicleState: &tesla.VehicleState{Odometer: miles}}
}

type fakeTokenAPI struct {
	configured bool
	token      *tesla.Token
	err        error
	calls      int
	lastToken  string
}

func (f *fakeTokenAPI) HasClientCredentials() bool { return f.configured }

func (f *fakeTokenAPI) RefreshToken(_ context.Context, refreshToken string) (*tesla.Token, error) {
	f.calls++
	f.lastToken = refreshToken
	if f.err != nil {
		return nil, f.err
	}
	return f.token, nil
}

type fakeOAuthAPI struct {
	token        *tesla.Token
	err          error
	gotCode      string
	gotVerifier  string
	gotChallenge string
}

func (f *fakeOAuthAPI) AuthorizeURL(state, challenge string) string {
	f.gotChallenge = challenge
	return "https://auth.example/authorize?state=" + state
}

func (f *fakeOAuthAPI) ExchangeCode(_ context.Context, code, verifier string) (*tesla.Token, error) {
	f.gotCode = code
	f.gotVerifier = verifier
	if f.err != nil {
		return nil, f.err
	}
	return f.token, nil
}

// ---------------------------------------------------------------------------
// Stores
// ---------------------------------------------------------------------------

type memVault struct {
	mu       sync.Mutex
	creds    map[string]*models.Credentials
	loadErr  map[string]error
	storeErr error
	loads    int
}

func newMemVault() *memVault {
	return &memVault{creds: map[string]*models.Credentials{}, loadErr: map[string]error{}}
}

func (m *memVault) Store(_ context.Context, userID, access, refresh string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return m.storeErr
	}
	m.creds[userID] = &models.Credentials{UserID: userID, AccessToken: access, RefreshToken: refresh, ExpiresAt: expiresAt}
	return nil
}

func (m *memVault) Load(_ context.Context, userID string) (*models.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if err := m.loadErr[userID]; err != nil {
		return nil, err
	}
	c, ok := m.creds[userID]
	if !ok {
		return nil, ErrNotConnected
	}
	cp := *c
	return &cp, nil
}

func (m *memVault) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, userID)
	return nil
}

func (m *memVault) ConnectedUsers(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for id := range m.creds {
		seen[id] = true
	}
	for id := range m.loadErr {
		seen[id] = true
	}
	var ids []string
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type memPKCE struct {
	mu     sync.Mutex
	states map[string]*models.PKCEState
}

func newMemPKCE() *memPKCE { return &memPKCE{states: map[string]*models.PKCEState{}} }

func (m *memPKCE) Create(_ context.Context, s *models.PKCEState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.states[s.State] = &cp
	return nil
}

func (m *memPKCE) Consume(_ context.Context, state, userID string) (*models.PKCEState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[state]
	if !ok || s.UserID != userID {
		return nil, repository.ErrNotFound
	}
	delete(m.states, state)
	return s, nil
}

func (m *memPKCE) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, s := range m.states {
		if s.CreatedAt.Before(cutoff) {
			delete(m.states, k)
			n++
		}
	}
	return n, nil
}

type memVehicles struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.Vehicle
}

func newMemVehicles(vs ...*models.Vehicle) *memVehicles {
	m := &memVehicles{rows: map[int64]*models.Vehicle{}}
	for _, v := range vs {
		cp := *v
		m.rows[v.ID] = &cp
		if v.ID > m.nextID {
			m.nextID = v.ID
		}
	}
	return m
}

func (m *memVehicles) Upsert(_ context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.UserID == v.UserID && row.TeslaVehicleID == v.TeslaVehicleID {
			row.VIN, row.DisplayName, row.Model, row.IsActive = v.VIN, v.DisplayName, v.Model, true
			v.ID, v.IsActive = row.ID, true
			return nil
		}
	}
	m.nextID++
	v.ID, v.IsActive = m.nextID, true
	cp := *v
	m.rows[v.ID] = &cp
	return nil
}

func (m *memVehicles) list(userID string, activeOnly bool) []*models.Vehicle {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Vehicle
	for _, v := range m.rows {
		if v.UserID == userID && (!activeOnly || v.IsActive) {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memVehicles) ListActiveByUser(_ context.Context, userID string) ([]*models.Vehicle, error) {
	return m.list(userID, true), nil
}

func (m *memVehicles) ListByUser(_ context.Context, userID string) ([]*models.Vehicle, error) {
	return m.list(userID, false), nil
}

func (m *memVehicles) GetForUser(_ context.Context, userID string, id int64) (*models.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.rows[id]
	if !ok || v.UserID != userID {
		return nil, repository.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memVehicles) DeactivateByUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, v := range m.rows {
		if v.UserID == userID && v.IsActive {
			v.IsActive = false
			n++
		}
	}
	return n, nil
}

type memReadings struct {
	mu   sync.Mutex
	rows map[string]*models.MileageReading
}

func newMemReadings() *memReadings { return &memReadings{rows: map[string]*models.MileageReading{}} }

func readingKey(vehicleID int64, date string) string { return fmt.Sprintf("%d/%s", vehicleID, date) }

func (m *memReadings) put(r *models.MileageReading) {
	cp := *r
	m.rows[readingKey(r.VehicleID, r.ReadingDate)] = &cp
}

func (m *memReadings) GetLatest(_ context.Context, vehicleID int64) (*models.MileageReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.MileageReading
	for _, r := range m.rows {
		if r.VehicleID == vehicleID && (latest == nil || r.ReadingDate > latest.ReadingDate) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *memReadings) GetByDate(_ context.Context, vehicleID int64, date string) (*models.MileageReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[readingKey(vehicleID, date)]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memReadings) ListRange(_ context.Context, vehicleID int64, from, to string) ([]*models.MileageReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.MileageReading
	for _, r := range m.rows {
		if r.VehicleID == vehicleID && r.ReadingDate >= from && r.ReadingDate <= to {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReadingDate < out[j].ReadingDate })
	return out, nil
}

func (m *memReadings) InsertIfAbsent(_ context.Context, r *models.MileageReading) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[readingKey(r.VehicleID, r.ReadingDate)]; ok {
		return false, nil
	}
	m.put(r)
	return true, nil
}

func (m *memReadings) Upsert(_ context.Context, r *models.MileageReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(r)
	return nil
}

func (m *memReadings) UpdateClosure(_ context.Context, r *models.MileageReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[readingKey(r.VehicleID, r.ReadingDate)]; !ok {
		return repository.ErrNotFound
	}
	m.put(r)
	return nil
}

// all 按日期排序的全部日桶
func (m *memReadings) all(vehicleID int64) []*models.MileageReading {
	out, _ := m.ListRange(context.Background(), vehicleID, "", "9999-12-31")
	return out
}

type memStatuses struct {
	mu   sync.Mutex
	rows map[int64]*models.SyncStatus
}

func newMemStatuses() *memStatuses { return &memStatuses{rows: map[int64]*models.SyncStatus{}} }

func (m *memStatuses) Record(_ context.Context, vehicleID int64, userID string, o models.SyncOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[vehicleID]
	if !ok {
		s = &models.SyncStatus{VehicleID: vehicleID, UserID: userID}
		m.rows[vehicleID] = s
	}
	s.LastSyncAttempt = o.At
	s.IsOffline = o.IsOffline
	if o.Success {
		at := o.At
		s.LastSuccessfulSync = &at
		s.ConsecutiveFailures = 0
		s.LastError = nil
	} else {
		s.ConsecutiveFailures++
		msg := o.Error
		s.LastError = &msg
	}
	return nil
}

func (m *memStatuses) Get(_ context.Context, vehicleID int64) (*models.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[vehicleID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

type memAudits struct {
	mu     sync.Mutex
	events []*models.AuditEvent
	err    error
}

func (m *memAudits) Insert(_ context.Context, e *models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memAudits) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		out = append(out, e.Action)
	}
	return out
}

type recordingSink struct {
	mu    sync.Mutex
	trips []sink.Trip
}

func (r *recordingSink) Append(_ context.Context, trip sink.Trip) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trips = append(r.trips, trip)
}

type recordingHub struct {
	mu       sync.Mutex
	messages map[string][]string
}

func (h *recordingHub) SendToUser(userID, msgType string, _ interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.messages == nil {
		h.messages = map[string][]string{}
	}
	h.messages[userID] = append(h.messages[userID], msgType)
}
