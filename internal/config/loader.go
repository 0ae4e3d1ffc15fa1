package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileDefaults reads a YAML/TOML/JSON file (any format viper supports) and
// applies its values as programmatic defaults on top of c's engine
// defaults. Only the keys read below are applied (host, users, hatchrate,
// runtime, schedulerpolicy, throttlerequests, coordinatedomissionmitigation,
// and the two controller addresses); any other key in the file is ignored.
// Values already marked explicit on c (set via a With* builder call or
// MarkExplicit before FileDefaults runs) are never overwritten, keeping the
// explicit > programmatic-default > engine-default precedence order.
func (c *Config) FileDefaults(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("SWANLING")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	apply := func(field string, set func()) {
		if !c.IsExplicit(field) && v.IsSet(strings.ToLower(field)) {
			set()
			c.markProgrammatic(field)
		}
	}

	apply("Host", func() { c.Host = v.GetString("host") })
	apply("Users", func() { c.Users = v.GetInt("users") })
	apply("HatchRate", func() { c.HatchRate = v.GetFloat64("hatchrate") })
	apply("RunTime", func() {
		if d, err := time.ParseDuration(v.GetString("runtime")); err == nil {
			c.RunTime = d
		}
	})
	apply("SchedulerPolicy", func() { c.SchedulerPolicy = SchedulerPolicy(v.GetString("schedulerpolicy")) })
	apply("ThrottleRequests", func() { c.ThrottleRequests = v.GetInt("throttlerequests") })
	apply("CoordinatedOmissionMitigation", func() {
		c.CoordinatedOmissionMitigation = CoordinatedOmissionMitigation(v.GetString("coordinatedomissionmitigation"))
	})
	apply("Controllers", func() {
		c.ControllerLineAddr = v.GetString("controllerlineaddr")
		c.ControllerFramedAddr = v.GetString("controllerframedaddr")
	})

	return nil
}
