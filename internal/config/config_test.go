package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RequiresTaskSet(t *testing.T) {
	c := New()
	err := c.Validate(0)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "task sets", ve.Option)
}

func TestValidate_WorkerManagerMutuallyExclusive(t *testing.T) {
	c := New()
	c.Worker = true
	c.Manager = true
	err := c.Validate(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestValidate_WorkerRejectsHost(t *testing.T) {
	c := New()
	c.Worker = true
	c.WithHost("http://example.test")
	err := c.Validate(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host")
}

func TestValidate_ManagerRejectsDebugLog(t *testing.T) {
	c := New()
	c.Manager = true
	c.ExpectWorkers = 1
	c.DebugLog = FileLogConfig{Path: "debug.log", Format: LogFormatRaw}
	err := c.Validate(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "debug-log")
}

func TestValidate_ExpectWorkersBounds(t *testing.T) {
	c := New()
	c.Manager = true
	c.Users = 4
	c.ExpectWorkers = 0
	require.Error(t, c.Validate(1))

	c.ExpectWorkers = 5
	require.Error(t, c.Validate(1))

	c.ExpectWorkers = 4
	require.NoError(t, c.Validate(1))
}

func TestValidate_ThrottleRange(t *testing.T) {
	c := New()
	c.ThrottleRequests = 0
	require.NoError(t, c.Validate(1))

	c.ThrottleRequests = 1_000_001
	require.Error(t, c.Validate(1))

	c.ThrottleRequests = 10
	c.Manager = true
	c.ExpectWorkers = 1
	require.Error(t, c.Validate(1))
}

func TestValidate_NoAutostartRequiresController(t *testing.T) {
	c := New()
	c.NoAutostart = true
	err := c.Validate(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")

	c.ControllerLineAddr = "127.0.0.1:5115"
	require.NoError(t, c.Validate(1))
}

func TestValidate_CoordinatedOmissionConstraints(t *testing.T) {
	c := New()
	c.CoordinatedOmissionMitigation = COMitigationAverage
	c.NoMetrics = true
	require.Error(t, c.Validate(1))

	c.NoMetrics = false
	c.SchedulerPolicy = Random
	require.Error(t, c.Validate(1))

	c.SchedulerPolicy = RoundRobin
	require.NoError(t, c.Validate(1))
}

func TestValidate_LogFormatRequiresPath(t *testing.T) {
	c := New()
	c.RequestLog = FileLogConfig{Format: LogFormatCSV}
	err := c.Validate(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request-log-format")
}

func TestFileDefaultsNeverOverrideExplicitValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swanling.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users: 7\nhost: http://file.test\n"), 0o644))

	c := New().WithUsers(50)
	require.NoError(t, c.FileDefaults(path))

	assert.Equal(t, 50, c.Users, "an explicit value must survive file defaults")
	assert.Equal(t, "http://file.test", c.Host, "an untouched field takes the file's value")
	assert.True(t, c.IsProgrammatic("Host"))
	assert.False(t, c.IsProgrammatic("Users"))
}

func TestResolvedReportsThreeTiers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swanling.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: http://file.test\n"), 0o644))

	c := New().WithUsers(10)
	require.NoError(t, c.FileDefaults(path))

	assert.Equal(t, SourceExplicit, c.Resolved("Users", c.Users).Source)
	assert.Equal(t, SourceProgrammaticDefault, c.Resolved("Host", c.Host).Source)
	assert.Equal(t, SourceEngineDefault, c.Resolved("HatchRate", c.HatchRate).Source)
}

func TestMarkExplicitBlocksFileDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swanling.yaml")
	require.NoError(t, os.WriteFile(path, []byte("throttlerequests: 25\n"), 0o644))

	c := New()
	c.ThrottleRequests = 100
	c.MarkExplicit("ThrottleRequests")
	require.NoError(t, c.FileDefaults(path))

	assert.Equal(t, 100, c.ThrottleRequests)
}

func TestBuilderChainReturnsReceiver(t *testing.T) {
	c := New().WithHost("http://example.test").WithUsers(10).WithHatchRate(2).WithRunTime(time.Second)
	assert.Equal(t, "http://example.test", c.Host)
	assert.Equal(t, 10, c.Users)
	assert.True(t, c.IsExplicit("Users"))
	assert.False(t, c.IsExplicit("ThrottleRequests"))
}
