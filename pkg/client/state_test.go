package client

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestState(t *testing.T) *State {
	t.Helper()

	state, err := OpenState(filepath.Join(t.TempDir(), "nested", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = state.Close() })
	return state
}

func TestStateConfig(t *testing.T) {
	state := openTestState(t)

	value, err := state.GetConfig("missing")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, state.SetConfig("theme", "dark"))
	require.NoError(t, state.SetConfig("theme", "light"))
	value, err = state.GetConfig("theme")
	require.NoError(t, err)
	assert.Equal(t, "light", value)
}

func TestStateLastUsername(t *testing.T) {
	state := openTestState(t)

	assert.Empty(t, state.GetLastUsername())
	require.NoError(t, state.SetLastUsername("alice"))
	assert.Equal(t, "alice", state.GetLastUsername())
}

func TestStateFirstRun(t *testing.T) {
	state := openTestState(t)

	assert.True(t, state.GetFirstRun())
	require.NoError(t, state.SetFirstRunComplete())
	assert.False(t, state.GetFirstRun())
}

func TestStateReadStateOnlyMovesForward(t *testing.T) {
	state := openTestState(t)
	addr := "localhost:8080"

	got, err := state.GetReadState(addr)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	later := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	require.NoError(t, state.UpdateReadState(addr, later))
	require.NoError(t, state.UpdateReadState(addr, earlier))

	got, err = state.GetReadState(addr)
	require.NoError(t, err)
	assert.True(t, later.Equal(got))

	other, err := state.GetReadState("elsewhere:1")
	require.NoError(t, err)
	assert.True(t, other.IsZero())
}

func TestStatePersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	state, err := OpenState(path)
	require.NoError(t, err)
	require.NoError(t, state.SetLastUsername("bob"))
	require.NoError(t, state.Close())

	state, err = OpenState(path)
	require.NoError(t, err)
	defer state.Close()
	assert.Equal(t, "bob", state.GetLastUsername())
	assert.Equal(t, filepath.Dir(path), state.GetStateDir())
}

func TestMockStateMatchesState(t *testing.T) {
	for name, st := range map[string]StateInterface{
		"sqlite": openTestState(t),
		"mock":   NewMockState(),
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.SetLastUsername("carol"))
			assert.Equal(t, "carol", st.GetLastUsername())

			ts := time.UnixMilli(1700000000000).UTC()
			require.NoError(t, st.UpdateReadState("srv", ts))
			require.NoError(t, st.UpdateReadState("srv", ts.Add(-time.Minute)))
			got, err := st.GetReadState("srv")
			require.NoError(t, err)
			assert.True(t, ts.Equal(got))
		})
	}
}
