package scm

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// LifecycleTestSuite exercises the full service lifecycle end to end: a
// registry creates and configures a service, the dispatcher hosts its entry
// function, and management controls drive it through state transitions while
// status persists to disk.
type LifecycleTestSuite struct {
	suite.Suite
	tempDir string
	sup     *LocalSupervisor
	ctx     context.Context
}

func TestLifecycleIntegration(t *testing.T) {
	suite.Run(t, new(LifecycleTestSuite))
}

func (s *LifecycleTestSuite) SetupTest() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "go-scm-test-*")
	require.NoError(s.T(), err, "Failed to create temp directory")

	s.sup, err = NewLocalSupervisor(s.tempDir)
	require.NoError(s.T(), err)
	s.ctx = context.Background()
}

func (s *LifecycleTestSuite) TearDownTest() {
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}
}

func (s *LifecycleTestSuite) TestFullLifecycle() {
	t := s.T()

	// Install the service through the management boundary
	reg, err := s.sup.OpenRegistry(ManagerAllAccess)
	require.NoError(t, err)
	defer reg.Close()

	cfg := testConfig("worker")
	cfg.StartType = StartAuto
	h, err := reg.CreateService(s.ctx, cfg, AccessAll)
	require.NoError(t, err)
	defer h.Close()

	// Host the entry function
	done := dispatch(s.sup, Table{"worker": testEntry(s.sup)})
	awaitState(t, s.sup, "worker", StateRunning)

	// Status is queryable and persisted
	rec, err := h.QueryStatus(s.ctx)
	require.NoError(t, err)
	require.Equal(t, StateRunning, rec.State)
	require.True(t, rec.Accepts.Has(AcceptPauseContinue))

	data, err := os.ReadFile(s.sup.statusPath("worker"))
	require.NoError(t, err)
	persisted, err := decodeStatus(data)
	require.NoError(t, err)
	require.Equal(t, StateRunning, persisted.State)

	// Pause and continue
	_, err = h.Control(s.ctx, ControlPause)
	require.NoError(t, err)
	awaitState(t, s.sup, "worker", StatePaused)

	_, err = h.Control(s.ctx, ControlContinue)
	require.NoError(t, err)
	awaitState(t, s.sup, "worker", StateRunning)

	// Observe the stop through a watch
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	events, cleanup, err := s.sup.Watch(ctx, "worker", 5*time.Millisecond)
	require.NoError(t, err)
	defer func() { _ = cleanup() }()

	_, err = h.Control(s.ctx, ControlStop)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case ev := <-events:
			return ev.Err == nil && ev.Status.State == StateStopped
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond, "Stop was not observed through the watch")

	awaitDispatch(t, done)

	rec, err = h.QueryStatus(s.ctx)
	require.NoError(t, err)
	require.Equal(t, StateStopped, rec.State)
	require.True(t, rec.ExitCode.OK())
}

func (s *LifecycleTestSuite) TestManagerDrivesConfiguredServices() {
	t := s.T()

	reg, err := s.sup.OpenRegistry(ManagerAllAccess)
	require.NoError(t, err)
	defer reg.Close()

	for _, name := range []string{"api", "worker"} {
		h, err := reg.CreateService(s.ctx, testConfig(name), AccessQueryConfig)
		require.NoError(t, err)
		require.NoError(t, h.Close())
	}

	done := dispatch(s.sup, Table{
		"api":    testEntry(s.sup),
		"worker": testEntry(s.sup),
	})
	awaitState(t, s.sup, "api", StateRunning)
	awaitState(t, s.sup, "worker", StateRunning)

	m := NewManager(reg)

	statuses, err := m.StatusAll(s.ctx, "api", "worker")
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for name, rec := range statuses {
		require.Equal(t, StateRunning, rec.State, "service %s", name)
	}

	require.NoError(t, m.StopAll(s.ctx, "api", "worker"))
	awaitState(t, s.sup, "api", StateStopped)
	awaitState(t, s.sup, "worker", StateStopped)
	awaitDispatch(t, done)
}

func (s *LifecycleTestSuite) TestConfigurationSurvivesRestart() {
	t := s.T()

	reg, err := s.sup.OpenRegistry(ManagerAllAccess)
	require.NoError(t, err)

	cfg := testConfig("persistent")
	cfg.Dependencies = []string{"network"}
	h, err := reg.CreateService(s.ctx, cfg, AccessQueryConfig)
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, reg.Close())

	// A fresh supervisor over the same directory sees the configuration
	reloaded, err := NewLocalSupervisor(s.tempDir)
	require.NoError(t, err)

	reg2, err := reloaded.OpenRegistry(ManagerConnect)
	require.NoError(t, err)
	defer reg2.Close()

	h2, err := reg2.OpenService(s.ctx, "persistent", AccessQueryConfig)
	require.NoError(t, err)
	defer h2.Close()

	got, err := h2.QueryConfig(s.ctx)
	require.NoError(t, err)
	require.Equal(t, cfg.DisplayName, got.DisplayName)
	require.Equal(t, []string{"network"}, got.Dependencies)
}
