package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	AbilityShield = "shield"
	AbilityBlast  = "blast"
)

// Tuning holds the gameplay and matchmaking knobs. Defaults match the ranked ruleset;
// a TOML file may override any subset of them.
type Tuning struct {
	TickRate             int           `toml:"tick_rate"`
	MapWidth             float64       `toml:"map_width"`
	MapHeight            float64       `toml:"map_height"`
	MoveSpeed            float64       `toml:"move_speed"`
	FireRange            float64       `toml:"fire_range"`
	FireDamage           int           `toml:"fire_damage"`
	FireCooldownTicks    int           `toml:"fire_cooldown_ticks"`
	AbilityKind          string        `toml:"ability_kind"`
	AbilityDamage        int           `toml:"ability_damage"`
	AbilityRange         float64       `toml:"ability_range"`
	AbilityCooldownTicks int           `toml:"ability_cooldown_ticks"`
	ShieldDurationTicks  int           `toml:"shield_duration_ticks"`
	ReadyTimeout         time.Duration `toml:"ready_timeout"`
	DisconnectGrace      time.Duration `toml:"disconnect_grace"`
	MaxMatchDuration     time.Duration `toml:"max_match_duration"`
	FinalSnapshotGrace   time.Duration `toml:"final_snapshot_grace"`

	Matchmaking Matchmaking `toml:"matchmaking"`
}

type Matchmaking struct {
	PairingInterval       time.Duration `toml:"pairing_interval"`
	StatusInterval        time.Duration `toml:"status_interval"`
	BaseWindow            int           `toml:"base_window"`
	WindowGrowthPerSecond float64       `toml:"window_growth_per_second"`
	UnlimitedAfter        time.Duration `toml:"unlimited_after"`
	DefaultPairingLatency time.Duration `toml:"default_pairing_latency"`
}

func DefaultTuning() Tuning {
	return Tuning{
		TickRate:             20,
		MapWidth:             1000,
		MapHeight:            1000,
		MoveSpeed:            10,
		FireRange:            300,
		FireDamage:           10,
		FireCooldownTicks:    10,
		AbilityKind:          AbilityShield,
		AbilityDamage:        25,
		AbilityRange:         450,
		AbilityCooldownTicks: 200,
		ShieldDurationTicks:  60,
		ReadyTimeout:         10 * time.Second,
		DisconnectGrace:      10 * time.Second,
		MaxMatchDuration:     5 * time.Minute,
		FinalSnapshotGrace:   2 * time.Second,
		Matchmaking: Matchmaking{
			PairingInterval:       500 * time.Millisecond,
			StatusInterval:        2 * time.Second,
			BaseWindow:            100,
			WindowGrowthPerSecond: 10,
			UnlimitedAfter:        60 * time.Second,
			DefaultPairingLatency: 5 * time.Second,
		},
	}
}

// LoadFile overlays the values present in a TOML file onto t.
func (t *Tuning) LoadFile(path string) error {
	if _, err := toml.DecodeFile(path, t); err != nil {
		return fmt.Errorf("failed to decode game config %s: %w", path, err)
	}
	return nil
}

func (t Tuning) Validate() error {
	switch {
	case t.TickRate <= 0:
		return fmt.Errorf("tick_rate must be positive, got %d", t.TickRate)
	case t.MapWidth <= 0 || t.MapHeight <= 0:
		return fmt.Errorf("map bounds must be positive, got %vx%v", t.MapWidth, t.MapHeight)
	case t.FireRange <= 0 || t.AbilityRange <= 0:
		return fmt.Errorf("ranges must be positive, got fire %v ability %v", t.FireRange, t.AbilityRange)
	case t.MoveSpeed < 0:
		return fmt.Errorf("move_speed must not be negative")
	case t.FireDamage < 0 || t.AbilityDamage < 0:
		return fmt.Errorf("damage values must not be negative")
	case t.FireCooldownTicks <= 0 || t.AbilityCooldownTicks <= 0:
		return fmt.Errorf("cooldowns must be at least one tick")
	case t.AbilityKind != AbilityShield && t.AbilityKind != AbilityBlast:
		return fmt.Errorf("unknown ability_kind %q", t.AbilityKind)
	case t.ShieldDurationTicks <= 0:
		return fmt.Errorf("shield_duration_ticks must be positive, got %d", t.ShieldDurationTicks)
	case t.ReadyTimeout <= 0 || t.DisconnectGrace <= 0 || t.MaxMatchDuration <= 0 || t.FinalSnapshotGrace <= 0:
		return fmt.Errorf("session timeouts must be positive")
	case t.Matchmaking.PairingInterval <= 0 || t.Matchmaking.StatusInterval <= 0:
		return fmt.Errorf("matchmaking intervals must be positive")
	}
	return nil
}

func (t Tuning) TickPeriod() time.Duration {
	return time.Second / time.Duration(t.TickRate)
}

// Ticks converts a wall-clock duration into a whole number of ticks, rounding up.
func (t Tuning) Ticks(d time.Duration) uint64 {
	period := t.TickPeriod()
	return uint64((d + period - 1) / period)
}
