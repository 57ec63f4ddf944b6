package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/langchou/tesmileage/internal/api/tesla"
	"github.com/langchou/tesmileage/internal/models"
	"github.com/langchou/tesmileage/internal/state"
)

type directoryFixture struct {
	dir      *VehicleDirectory
	api      *fakeVehicleAPI
	vehicles *memVehicles
	readings *memReadings
	statuses *memStatuses
	vault    *memVault
	states   *state.Manager
	audits   *memAudits
}

func newDirectoryFixture(t *testing.T) *directoryFixture {
	logger := zaptest.NewLogger(t)
	f := &directoryFixture{
		api: &fakeVehicleAPI{vehicles: []tesla.Vehicle{
			{ID: 101, IDS: "101", VIN: "5YJ3E1EA1KF000001", DisplayName: "Red"},
			{ID: 102, VIN: "7SAYGDEE1NF000002", DisplayName: "Blue"},
		}},
		vehicles: newMemVehicles(),
		readings: newMemReadings(),
		statuses: newMemStatuses(),
		vault:    newMemVault(),
		states:   state.NewManager(nil),
		audits:   &memAudits{},
	}
	rec := NewRecorder(f.statuses, f.audits, logger)
	f.dir = NewVehicleDirectory(f.api, f.vehicles, f.readings, f.statuses, f.vault, nil, f.states, rec, logger)
	return f
}

func TestSyncVehicleList_UpsertsAndReactivates(t *testing.T) {
	f := newDirectoryFixture(t)
	ctx := context.Background()

	vs, err := f.dir.SyncVehicleList(ctx, "u1", "token")
	require.NoError(t, err)
	require.Len(t, vs, 2)
	assert.Equal(t, "101", vs[0].TeslaVehicleID)
	assert.Equal(t, "Model 3", vs[0].Model)
	assert.Equal(t, "102", vs[1].TeslaVehicleID)
	assert.Equal(t, "Model Y", vs[1].Model)

	f.vault.creds["u1"] = &models.Credentials{UserID: "u1"}
	require.NoError(t, f.dir.Disconnect(ctx, "u1"))
	active, _ := f.vehicles.ListActiveByUser(ctx, "u1")
	assert.Empty(t, active)
	assert.NotContains(t, f.vault.creds, "u1")
	assert.Contains(t, f.audits.actions(), models.AuditTeslaDisconnected)

	again, err := f.dir.Connected(ctx, "u1", "token")
	require.NoError(t, err)
	assert.Equal(t, vs[0].ID, again[0].ID)
	active, _ = f.vehicles.ListActiveByUser(ctx, "u1")
	assert.Len(t, active, 2)
}

func TestDisconnect_KeepsReadings(t *testing.T) {
	f := newDirectoryFixture(t)
	ctx := context.Background()
	vs, err := f.dir.SyncVehicleList(ctx, "u1", "token")
	require.NoError(t, err)
	f.readings.put(&models.MileageReading{VehicleID: vs[0].ID, UserID: "u1", ReadingDate: "2024-01-01", OdometerKm: 100})

	require.NoError(t, f.dir.Disconnect(ctx, "u1"))
	rows, err := f.dir.Readings(ctx, "u1", vs[0].ID, "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestReadings_Validation(t *testing.T) {
	f := newDirectoryFixture(t)
	ctx := context.Background()
	vs, err := f.dir.SyncVehicleList(ctx, "u1", "token")
	require.NoError(t, err)

	_, err = f.dir.Readings(ctx, "u2", vs[0].ID, "", "")
	assert.ErrorIs(t, err, ErrVehicleNotFound)

	_, err = f.dir.Readings(ctx, "u1", vs[0].ID, "2024/01/01", "")
	assert.Error(t, err)

	today := time.Now().UTC().Format(models.DateLayout)
	f.readings.put(&models.MileageReading{VehicleID: vs[0].ID, UserID: "u1", ReadingDate: today, OdometerKm: 100})
	rows, err := f.dir.Readings(ctx, "u1", vs[0].ID, "", "")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestStatus(t *testing.T) {
	f := newDirectoryFixture(t)
	ctx := context.Background()
	vs, err := f.dir.SyncVehicleList(ctx, "u1", "token")
	require.NoError(t, err)
	id := vs[0].ID

	st, err := f.dir.Status(ctx, "u1", id)
	require.NoError(t, err)
	assert.Nil(t, st.Sync)
	assert.Nil(t, st.Wake)

	require.NoError(t, f.statuses.Record(ctx, id, "u1", models.SyncOutcome{IsOffline: true, Error: "asleep", At: fixedNow}))
	_ = f.states.GetOrCreate(id, state.StateAsleep)

	st, err = f.dir.Status(ctx, "u1", id)
	require.NoError(t, err)
	require.NotNil(t, st.Sync)
	assert.True(t, st.Sync.IsOffline)
	require.NotNil(t, st.Wake)
	assert.Equal(t, state.StateAsleep, st.Wake.CurrentState)
}

func TestModelFromVIN(t *testing.T) {
	assert.Equal(t, "Model S", modelFromVIN("5YJSA1E2XJF000001"))
	assert.Equal(t, "Model X", modelFromVIN("5YJXCAE2XJF000001"))
	assert.Equal(t, "", modelFromVIN("ABC"))
}
