// control/loader.go
// Author: momentics <momentics@gmail.com>
//
// Line-oriented directive files ("key: value", // comments, import:) layered
// over defaults and environment through viper.

package control

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/samber/oops"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/momentics/sockcore/admission"
)

// EnvPrefix prefixes environment overrides, e.g. SOCKCORE_STALL_TIME.
const EnvPrefix = "SOCKCORE"

// MaxImportDepth bounds nested import directives.
const MaxImportDepth = 16

// Directive names.
const (
	KeyStallTime       = "stall_time"
	KeyEnableIPRules   = "enable_ip_rules"
	KeyOrder           = "order"
	KeyAllow           = "allow"
	KeyDeny            = "deny"
	KeyDDoSInterval    = "ddos_interval"
	KeyDDoSCount       = "ddos_count"
	KeyDDoSAutoReset   = "ddos_autoreset"
	KeyDDoSBuckets     = "ddos_history_buckets"
	KeyDDoSSweep       = "ddos_sweep_interval"
	KeyDebug           = "debug"
	KeyMaxClientPacket = "socket_max_client_packet"
	KeyDriver          = "driver"
	KeyShortlist       = "shortlist"
	KeyMaxHandles      = "max_handles"
	KeyAcceptRate      = "accept_rate"
	KeyAcceptBurst     = "accept_burst"
	KeyShowStats       = "show_stats"
	KeyStatsInterval   = "stats_interval"
	KeyLogFormat       = "log_format"
	KeyLogFile         = "log_file"
	KeyImport          = "import"
)

var knownKeys = []string{
	KeyStallTime, KeyEnableIPRules, KeyOrder, KeyAllow, KeyDeny,
	KeyDDoSInterval, KeyDDoSCount, KeyDDoSAutoReset, KeyDDoSBuckets, KeyDDoSSweep,
	KeyDebug, KeyMaxClientPacket, KeyDriver, KeyShortlist, KeyMaxHandles,
	KeyAcceptRate, KeyAcceptBurst, KeyShowStats, KeyStatsInterval,
	KeyLogFormat, KeyLogFile,
}

var (
	switchOn  = []string{"on", "yes", "true", "1"}
	switchOff = []string{"off", "no", "false", "0"}
)

// ParseSwitch reads an on/off directive value.
func ParseSwitch(s string) (bool, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case lo.Contains(switchOn, s):
		return true, true
	case lo.Contains(switchOff, s):
		return false, true
	}
	return false, false
}

// Loader resolves directive files into a Config. Flags bound to its viper
// instance take precedence over every other source.
type Loader struct {
	flags *viper.Viper
	log   *zap.Logger
}

// NewLoader creates a loader. flags may be nil.
func NewLoader(flags *viper.Viper, log *zap.Logger) *Loader {
	if flags == nil {
		flags = viper.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{flags: flags, log: log}
}

// Load is NewLoader(nil, log).Load(path).
func Load(path string, log *zap.Logger) (Config, []string, error) {
	return NewLoader(nil, log).Load(path)
}

type parsed struct {
	values map[string]any
	allow  []string
	deny   []string
	files  []string
	seen   map[string]bool
}

// Load reads path and its imports and returns the resolved configuration
// with every file that contributed to it. An empty path loads defaults,
// environment and flags only. Only an unreadable top-level file is an error;
// malformed lines, unknown keys and bad values are logged and skipped.
func (l *Loader) Load(path string) (Config, []string, error) {
	p := &parsed{values: make(map[string]any), seen: make(map[string]bool)}
	if path != "" {
		if err := l.readFile(p, path, 0); err != nil {
			return Defaults(), nil, err
		}
	}

	v := viper.New()
	def := Defaults()
	v.SetDefault(KeyStallTime, int(def.StallTime/time.Second))
	v.SetDefault(KeyEnableIPRules, def.EnableIPRules)
	v.SetDefault(KeyOrder, def.Order.String())
	v.SetDefault(KeyDDoSInterval, def.DDoSInterval.Milliseconds())
	v.SetDefault(KeyDDoSCount, def.DDoSCount)
	v.SetDefault(KeyDDoSAutoReset, def.DDoSAutoReset.Milliseconds())
	v.SetDefault(KeyDDoSBuckets, def.DDoSBuckets)
	v.SetDefault(KeyDDoSSweep, def.DDoSSweep.Milliseconds())
	v.SetDefault(KeyDebug, def.Debug)
	v.SetDefault(KeyMaxClientPacket, def.MaxClientPacket)
	v.SetDefault(KeyDriver, def.Driver)
	v.SetDefault(KeyShortlist, def.Shortlist)
	v.SetDefault(KeyMaxHandles, def.MaxHandles)
	v.SetDefault(KeyAcceptRate, def.AcceptRate)
	v.SetDefault(KeyAcceptBurst, def.AcceptBurst)
	v.SetDefault(KeyShowStats, def.ShowStats)
	v.SetDefault(KeyStatsInterval, def.StatsInterval.Milliseconds())
	v.SetDefault(KeyLogFormat, def.LogFormat)
	v.SetDefault(KeyLogFile, def.LogFile)
	v.SetDefault(KeyAllow, []string{})
	v.SetDefault(KeyDeny, []string{})

	if len(p.allow) > 0 {
		p.values[KeyAllow] = p.allow
	}
	if len(p.deny) > 0 {
		p.values[KeyDeny] = p.deny
	}
	if err := v.MergeConfigMap(p.values); err != nil {
		return Defaults(), p.files, oops.In("config").With("path", path).Wrapf(err, "merge directives")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for _, k := range knownKeys {
		if l.flags.IsSet(k) {
			v.Set(k, l.flags.Get(k))
		}
	}

	cfg := l.resolve(v, def)
	if cfg.StallTime < MinStallTime {
		l.log.Warn("stall_time below minimum, clamped",
			zap.Duration("configured", cfg.StallTime), zap.Duration("min", MinStallTime))
		cfg.StallTime = MinStallTime
	}
	return cfg, p.files, nil
}

func (l *Loader) readFile(p *parsed, path string, depth int) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if p.seen[abs] {
		l.log.Warn("config import cycle skipped", zap.String("file", abs))
		return nil
	}
	f, err := os.Open(abs)
	if err != nil {
		return oops.In("config").With("path", abs).Wrapf(err, "open config file")
	}
	defer f.Close()
	p.seen[abs] = true
	p.files = append(p.files, abs)

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "//") {
			continue
		}
		key, value, ok := strings.Cut(text, ":")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			l.log.Warn("malformed config line skipped",
				zap.String("file", abs), zap.Int("line", line), zap.String("text", text))
			continue
		}
		switch {
		case key == KeyImport:
			if depth+1 >= MaxImportDepth {
				l.log.Warn("config import too deep, skipped",
					zap.String("file", abs), zap.Int("line", line), zap.String("import", value))
				continue
			}
			target := value
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(abs), target)
			}
			if err := l.readFile(p, target, depth+1); err != nil {
				l.log.Warn("config import failed", zap.String("file", abs), zap.Int("line", line), zap.Error(err))
			}
		case key == KeyAllow:
			p.allow = append(p.allow, value)
		case key == KeyDeny:
			p.deny = append(p.deny, value)
		case lo.Contains(knownKeys, key):
			p.values[key] = value
		default:
			l.log.Warn("unknown config directive skipped",
				zap.String("file", abs), zap.Int("line", line), zap.String("key", key))
		}
	}
	if err := sc.Err(); err != nil {
		return oops.In("config").With("path", abs).Wrapf(err, "read config file")
	}
	return nil
}

func (l *Loader) resolve(v *viper.Viper, def Config) Config {
	cfg := def

	integer := func(key string, dst *int, floor int) {
		n, err := cast.ToIntE(v.Get(key))
		if err != nil || n < floor {
			l.log.Warn("invalid config value ignored", zap.String("key", key), zap.Any("value", v.Get(key)))
			return
		}
		*dst = n
	}
	millis := func(key string, dst *time.Duration) {
		var n int
		integer(key, &n, 0)
		if n > 0 {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
	flag := func(key string, dst *bool) {
		raw, err := cast.ToStringE(v.Get(key))
		b, ok := ParseSwitch(raw)
		if err != nil || !ok {
			l.log.Warn("invalid switch value ignored", zap.String("key", key), zap.Any("value", v.Get(key)))
			return
		}
		*dst = b
	}
	rules := func(key string) []admission.Rule {
		raw, err := cast.ToStringSliceE(v.Get(key))
		if err != nil {
			l.log.Warn("invalid rule list ignored", zap.String("key", key), zap.Error(err))
			return nil
		}
		var out []admission.Rule
		for _, item := range raw {
			for _, s := range strings.Split(item, ",") {
				if strings.TrimSpace(s) == "" {
					continue
				}
				r, err := admission.ParseRule(s)
				if err != nil {
					l.log.Warn("invalid address rule skipped", zap.String("key", key), zap.Error(err))
					continue
				}
				out = append(out, r)
			}
		}
		return out
	}

	var stall int
	integer(KeyStallTime, &stall, 0)
	if stall > 0 {
		cfg.StallTime = time.Duration(stall) * time.Second
	}
	flag(KeyEnableIPRules, &cfg.EnableIPRules)
	if o, err := admission.ParseOrder(cast.ToString(v.Get(KeyOrder))); err == nil {
		cfg.Order = o
	} else {
		l.log.Warn("invalid order ignored", zap.Error(err))
	}
	cfg.Allow = rules(KeyAllow)
	cfg.Deny = rules(KeyDeny)

	millis(KeyDDoSInterval, &cfg.DDoSInterval)
	integer(KeyDDoSCount, &cfg.DDoSCount, 0)
	millis(KeyDDoSAutoReset, &cfg.DDoSAutoReset)
	integer(KeyDDoSBuckets, &cfg.DDoSBuckets, 1)
	millis(KeyDDoSSweep, &cfg.DDoSSweep)

	flag(KeyDebug, &cfg.Debug)
	integer(KeyMaxClientPacket, &cfg.MaxClientPacket, 1)
	cfg.Driver = strings.ToLower(cast.ToString(v.Get(KeyDriver)))
	flag(KeyShortlist, &cfg.Shortlist)
	integer(KeyMaxHandles, &cfg.MaxHandles, 0)

	if r, err := cast.ToFloat64E(v.Get(KeyAcceptRate)); err == nil && r >= 0 {
		cfg.AcceptRate = r
	} else {
		l.log.Warn("invalid config value ignored", zap.String("key", KeyAcceptRate), zap.Any("value", v.Get(KeyAcceptRate)))
	}
	integer(KeyAcceptBurst, &cfg.AcceptBurst, 0)
	flag(KeyShowStats, &cfg.ShowStats)
	millis(KeyStatsInterval, &cfg.StatsInterval)
	cfg.LogFormat = cast.ToString(v.Get(KeyLogFormat))
	cfg.LogFile = cast.ToString(v.Get(KeyLogFile))
	return cfg
}
