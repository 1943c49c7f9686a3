package control_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/sockcore/admission"
	"github.com/momentics/sockcore/control"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, files, err := control.Load("", nil)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Equal(t, control.Defaults(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_DirectivesAndImports(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "conf/extra.conf", `
// imported relative to the importing file
ddos_count: 4
deny: 10.0.0.0/8
import: ../main.conf
`)
	main := writeFile(t, dir, "main.conf", `
// socket directives
stall_time: 30
enable_ip_rules: yes
order: mutual-failure
allow: 127.0.0.1
allow: 192.168.0.0/255.255.0.0
ddos_interval: 1500
ddos_autoreset: 60000
ddos_history_buckets: 1000
debug: on
socket_max_client_packet: 4096
driver: poll
shortlist: off
import: conf/extra.conf
`)

	core, logs := observer.New(zapcore.WarnLevel)
	cfg, files, err := control.Load(main, zap.New(core))
	require.NoError(t, err)

	assert.Len(t, files, 2)
	assert.Equal(t, 1, logs.FilterMessage("config import cycle skipped").Len())
	assert.Equal(t, 30*time.Second, cfg.StallTime)
	assert.True(t, cfg.EnableIPRules)
	assert.Equal(t, admission.MutualFailure, cfg.Order)
	require.Len(t, cfg.Allow, 2)
	assert.Equal(t, uint32(0xFFFF0000), cfg.Allow[1].Mask)
	require.Len(t, cfg.Deny, 1)
	assert.Equal(t, 1500*time.Millisecond, cfg.DDoSInterval)
	assert.Equal(t, 4, cfg.DDoSCount)
	assert.Equal(t, time.Minute, cfg.DDoSAutoReset)
	assert.Equal(t, 1000, cfg.DDoSBuckets)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 4096, cfg.MaxClientPacket)
	assert.Equal(t, "poll", cfg.Driver)
	assert.False(t, cfg.Shortlist)

	gate := cfg.Gate()
	assert.Equal(t, 4, gate.Threshold)
	assert.True(t, gate.Debug)
}

func TestLoad_MalformedLinesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.conf", `
this line has no separator
colour: blue
stall_time: soon
enable_ip_rules: maybe
allow: 300.0.0.1
stall_time: 1
`)
	core, logs := observer.New(zapcore.WarnLevel)
	cfg, _, err := control.Load(path, zap.New(core))
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("malformed config line skipped").Len())
	assert.Equal(t, 1, logs.FilterMessage("unknown config directive skipped").Len())
	assert.Equal(t, 1, logs.FilterMessage("invalid switch value ignored").Len())
	assert.Equal(t, 1, logs.FilterMessage("invalid address rule skipped").Len())
	assert.Equal(t, 1, logs.FilterMessage("stall_time below minimum, clamped").Len())
	assert.Equal(t, control.MinStallTime, cfg.StallTime)
	assert.Equal(t, control.Defaults().EnableIPRules, cfg.EnableIPRules)
	assert.Empty(t, cfg.Allow)
}

func TestLoad_MissingFileIsError(t *testing.T) {
	_, _, err := control.Load(filepath.Join(t.TempDir(), "nope.conf"), nil)
	assert.Error(t, err)
}

func TestLoad_ImportDepthBounded(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < control.MaxImportDepth+4; i++ {
		writeFile(t, dir, filepath.Join("chain", strconv.Itoa(i)+".conf"), "import: "+strconv.Itoa(i+1)+".conf\n")
	}
	core, logs := observer.New(zapcore.WarnLevel)
	_, files, err := control.Load(filepath.Join(dir, "chain", "0.conf"), zap.New(core))
	require.NoError(t, err)
	assert.Len(t, files, control.MaxImportDepth)
	assert.Equal(t, 1, logs.FilterMessage("config import too deep, skipped").Len())
}

func TestLoad_EnvAndFlagPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.conf", "ddos_count: 4\ndriver: epoll\nshow_stats: no\n")

	t.Setenv("SOCKCORE_DDOS_COUNT", "7")
	t.Setenv("SOCKCORE_DRIVER", "poll")

	flags := viper.New()
	flags.Set("driver", "epoll")

	cfg, _, err := control.NewLoader(flags, nil).Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.DDoSCount, "env beats file")
	assert.Equal(t, "epoll", cfg.Driver, "flag beats env")
	assert.False(t, cfg.ShowStats)
}

func TestParseSwitch(t *testing.T) {
	for _, s := range []string{"on", "YES", "true", "1"} {
		v, ok := control.ParseSwitch(s)
		assert.True(t, ok && v, s)
	}
	for _, s := range []string{"off", "No", "false", "0"} {
		v, ok := control.ParseSwitch(s)
		assert.True(t, ok && !v, s)
	}
	_, ok := control.ParseSwitch("perhaps")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	cfg := control.Defaults()
	cfg.StallTime = time.Second
	assert.Error(t, cfg.Validate())

	cfg = control.Defaults()
	cfg.MaxClientPacket = 0x10000
	assert.Error(t, cfg.Validate())
}

func TestStore_NotifiesListeners(t *testing.T) {
	s := control.NewStore(control.Defaults(), nil)
	var got []control.Config
	s.OnReload(func(c control.Config) { got = append(got, c) })

	next := control.Defaults()
	next.Debug = true
	s.Set(next, []string{"/etc/sock.conf"})

	require.Len(t, got, 1)
	assert.True(t, got[0].Debug)
	assert.True(t, s.Snapshot().Debug)
	assert.Equal(t, []string{"/etc/sock.conf"}, s.Files())
	assert.Equal(t, uint64(1), s.Version())
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.conf", "ddos_count: 4\n")

	loader := control.NewLoader(nil, nil)
	cfg, files, err := loader.Load(path)
	require.NoError(t, err)
	store := control.NewStore(cfg, files)

	w, err := control.NewWatcher(path, loader, store, nil)
	require.NoError(t, err)
	w.SetDebounce(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeFile(t, dir, "main.conf", "ddos_count: 9\n")
	assert.Eventually(t, func() bool { return store.Snapshot().DDoSCount == 9 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestProbes_Dump(t *testing.T) {
	p := control.NewProbes()
	p.Register("sessions", func() any { return 3 })
	state := p.Dump()
	assert.Equal(t, 3, state["sessions"])
	assert.Contains(t, state, "runtime.goroutines")
	assert.Equal(t, []string{"runtime.goroutines", "sessions"}, p.Names())

	p.Unregister("sessions")
	assert.NotContains(t, p.Dump(), "sessions")
}

func TestProbes_PublishReportsLastValue(t *testing.T) {
	type counts struct{ Open int }
	p := control.NewProbes()
	set := control.Publish[counts](p, "sessions")
	assert.Nil(t, p.Dump()["sessions"])

	set(counts{Open: 2})
	set(counts{Open: 5})
	assert.Equal(t, counts{Open: 5}, p.Dump()["sessions"])
}
