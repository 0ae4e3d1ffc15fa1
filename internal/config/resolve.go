package config

// Source identifies which tier of the three-way configuration merge
// produced a value: an explicit flag/programmatic call, a programmatic
// default set by the library caller at setup time, or the engine's own
// built-in default. See the configuration and defaults component.
type Source int

const (
	SourceEngineDefault Source = iota
	SourceProgrammaticDefault
	SourceExplicit
)

func (s Source) String() string {
	switch s {
	case SourceExplicit:
		return "explicit"
	case SourceProgrammaticDefault:
		return "programmatic-default"
	default:
		return "engine-default"
	}
}

// ResolvedValue carries a concrete field value along with the tier of the
// merge that produced it, for fields where the caller wants to know how a
// value was decided (e.g. for a `config` controller reply).
type ResolvedValue struct {
	Value  interface{}
	Source Source
}

// Resolved returns the resolution for a named field: explicit (a flag the
// operator passed or a With* builder call) beats programmatic (a config
// file or library-registered default), which beats the engine default
// recorded in New.
func (c *Config) Resolved(field string, value interface{}) ResolvedValue {
	switch {
	case c.IsExplicit(field):
		return ResolvedValue{Value: value, Source: SourceExplicit}
	case c.IsProgrammatic(field):
		return ResolvedValue{Value: value, Source: SourceProgrammaticDefault}
	default:
		return ResolvedValue{Value: value, Source: SourceEngineDefault}
	}
}
