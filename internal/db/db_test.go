package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/laminar-data/fgbridge/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.MigrateUp("migrations"))
	return db
}

func TestMigrateUpIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.MigrateUp("migrations"))

	version, dirty, err := db.MigrateVersion("migrations")
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(1), version)
}

func TestRecordAndReadStates(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.RecordState("uav", []float64{12.5, 3.2, 0.0}))
	require.NoError(t, db.RecordState("uav", []float64{13.0, 3.3, 0.1}))
	require.NoError(t, db.RecordState("ugv", []float64{1.0}))

	states, err := db.RecentStates("uav", 10)
	require.NoError(t, err)
	require.Len(t, states, 2)

	// Newest first.
	require.Equal(t, []float64{13.0, 3.3, 0.1}, states[0].Values)
	require.Equal(t, []float64{12.5, 3.2, 0.0}, states[1].Values)
	require.Equal(t, "uav", states[0].Endpoint)

	states, err = db.RecentStates("ugv", 10)
	require.NoError(t, err)
	require.Len(t, states, 1)
}

func TestRecentStatesRespectsLimit(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.RecordState("uav", []float64{float64(i)}))
	}
	states, err := db.RecentStates("uav", 3)
	require.NoError(t, err)
	require.Len(t, states, 3)
	require.Equal(t, []float64{4}, states[0].Values)
}

func TestRecordAndReadCommands(t *testing.T) {
	db := newTestDB(t)

	id, err := db.RecordCommand("uav", "90.000000, 0.000000\n")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	commands, err := db.RecentCommands("uav", 10)
	require.NoError(t, err)
	require.Len(t, commands, 1)
	require.Equal(t, id, commands[0].CommandID)
	// Trailing newline is stripped before storage.
	require.Equal(t, "90.000000, 0.000000", commands[0].Line)
}

func TestValuesRoundTrip(t *testing.T) {
	values := []float64{0, -1.5, 199.67, 0.0174532925}
	decoded, err := decodeValues(encodeValues(values))
	require.NoError(t, err)
	require.Equal(t, values, decoded)

	decoded, err = decodeValues("")
	require.NoError(t, err)
	require.Nil(t, decoded)

	_, err = decodeValues("1.0\tbogus")
	require.Error(t, err)
}
