package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"party": { "id": "alice", "side": "client" },
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "alice", viper.GetString("party.id"))
	assert.Equal(t, "host", viper.GetString("party.host"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./vehiclelogs", viper.GetString("logsDir"))
	assert.Equal(t, "localhost", viper.GetString("db.host"))
	assert.Equal(t, "5432", viper.GetString("db.port"))
	assert.Equal(t, "postgres", viper.GetString("db.username"))
	assert.Equal(t, "vehiclesim", viper.GetString("db.database"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
	assert.Equal(t, "loopback", viper.GetString("transport.type"))
	assert.Equal(t, "memory", viper.GetString("storage.type"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestGetters(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	viper.Set("testInt", 42)
	viper.Set("testBool", true)
	assert.Equal(t, "testValue", GetString("testKey"))
	assert.Equal(t, 42, GetInt("testInt"))
	assert.Equal(t, true, GetBool("testBool"))
}

func TestTypedConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, PartyConfig{ID: "host", Host: "host", Side: "server"}, GetPartyConfig())

	sim := GetSimConfig()
	assert.Equal(t, SimConfig{TickRate: 60, FlushInterval: 3, KeyframeInterval: 100}, sim)
	assert.Equal(t, time.Second/60, sim.TickDuration())

	assert.Equal(t, AuthorityConfig{LeaseTimeoutTicks: 300, HostSimulatesUnoccupied: true}, GetAuthorityConfig())
	assert.Equal(t, ControlsConfig{StartGraceTicks: 60}, GetControlsConfig())

	st := GetStorageConfig()
	assert.Equal(t, "memory", st.Type)
	assert.Equal(t, "./snapshots", st.Memory.OutputDir)
	assert.True(t, st.Memory.CompressOutput)
	assert.Equal(t, 3*time.Minute, st.SQLite.DumpInterval)

	tr := GetTransportConfig()
	assert.Equal(t, "loopback", tr.Type)
	assert.Equal(t, "ws://localhost:5080/relay", tr.WebSocket.URL)

	oc := GetOTelConfig()
	assert.False(t, oc.Enabled)
	assert.Equal(t, "vehiclesim", oc.ServiceName)
	assert.Equal(t, 5*time.Second, oc.BatchTimeout)
	assert.True(t, oc.Insecure)

	ic := GetInfluxConfig()
	assert.False(t, ic.Enabled)
	assert.Equal(t, "http://localhost:8086", ic.ServerURL())

	assert.Equal(t, GraylogConfig{Address: "localhost:12201"}, GetGraylogConfig())
}

func TestTypedConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"sim": { "tickRate": 30, "flushInterval": 1 },
		"authority": { "leaseTimeoutTicks": 0, "simulationRange": 250.5 },
		"controls": { "forceFullGo": true },
		"storage": {
			"type": "sqlite",
			"memory": { "outputDir": "/tmp/out", "compressOutput": false },
			"sqlite": { "dumpInterval": "10m" }
		},
		"transport": { "type": "websocket", "websocket": { "url": "ws://relay:9000/ws", "secret": "s3" } },
		"otel": { "enabled": true, "serviceName": "my-service", "batchTimeout": "30s", "endpoint": "localhost:4317", "insecure": false }
	}`)))

	sim := GetSimConfig()
	assert.Equal(t, 30, sim.TickRate)
	assert.Equal(t, 1, sim.FlushInterval)
	assert.Equal(t, 100, sim.KeyframeInterval)

	ac := GetAuthorityConfig()
	assert.Equal(t, uint64(0), ac.LeaseTimeoutTicks)
	assert.Equal(t, 250.5, ac.SimulationRange)

	assert.True(t, GetControlsConfig().ForceFullGo)

	sc := GetStorageConfig()
	assert.Equal(t, "sqlite", sc.Type)
	assert.Equal(t, "/tmp/out", sc.Memory.OutputDir)
	assert.False(t, sc.Memory.CompressOutput)
	assert.Equal(t, 10*time.Minute, sc.SQLite.DumpInterval)

	tc := GetTransportConfig()
	assert.Equal(t, "websocket", tc.Type)
	assert.Equal(t, "ws://relay:9000/ws", tc.WebSocket.URL)
	assert.Equal(t, "s3", tc.WebSocket.Secret)

	oc := GetOTelConfig()
	assert.True(t, oc.Enabled)
	assert.Equal(t, "my-service", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, "localhost:4317", oc.Endpoint)
	assert.False(t, oc.Insecure)
}

func TestTickDuration_ZeroRate(t *testing.T) {
	assert.Equal(t, time.Second/60, SimConfig{}.TickDuration())
	assert.Equal(t, 50*time.Millisecond, SimConfig{TickRate: 20}.TickDuration())
}
