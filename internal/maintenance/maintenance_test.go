package maintenance

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	healthErr  error
	checkpoint int
}

func (f *fakeChecker) WALCheckpoint(mode string) (int, int, int, error) {
	f.checkpoint++
	return 0, 0, 1, nil
}

func (f *fakeChecker) HealthCheck(ctx context.Context) error { return f.healthErr }

func (f *fakeChecker) Path() string { return "/tmp/fake.db" }

func TestRunDailyMaintenanceCheckpointsAllDatabases(t *testing.T) {
	ledger := &fakeChecker{}
	aux := &fakeChecker{}
	s := New(Config{Databases: map[string]checker{"ledger": ledger, "aux": aux}}, zerolog.Nop())

	require.NoError(t, s.RunDailyMaintenance(context.Background()))
	require.Equal(t, 1, ledger.checkpoint)
	require.Equal(t, 1, aux.checkpoint)
}

func TestRunDailyMaintenanceFailsOnIntegrityError(t *testing.T) {
	bad := &fakeChecker{healthErr: require.AnError}
	s := New(Config{Databases: map[string]checker{"ledger": bad}}, zerolog.Nop())

	err := s.RunDailyMaintenance(context.Background())
	require.Error(t, err)
}

func TestCheckDiskSpaceSkippedWithoutDataDir(t *testing.T) {
	s := New(Config{}, zerolog.Nop())
	require.NoError(t, s.checkDiskSpace())
}

func TestCheckDiskSpaceInvokesOnCriticalBelowThreshold(t *testing.T) {
	var halted bool
	s := New(Config{DataDir: t.TempDir(), CriticalFreeGB: 1e12, WarnFreeGB: 1e12}, zerolog.Nop())
	s.OnCritical = func(reason string) { halted = true }

	err := s.checkDiskSpace()
	require.Error(t, err)
	require.True(t, halted)
}
