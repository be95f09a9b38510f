package match

import (
	"math"

	"arena-backend/internal/config"
	"arena-backend/internal/domain"
)

// step advances the match by exactly one tick. Both slots are resolved against the
// same post-move positions and damage lands simultaneously, so the order of the slots
// never decides a result.
func (s *Session) step() {
	s.tick++
	t := s.tick

	for _, sl := range s.slots {
		if sl.Connected {
			sl.consume()
		}
	}
	for _, sl := range s.slots {
		s.move(sl)
	}

	var outgoing [2]int
	for i, sl := range s.slots {
		outgoing[i] = s.attack(sl, s.slots[1-i], t)
	}

	for i, sl := range s.slots {
		sl.DamageDealt += s.slots[1-i].absorb(outgoing[i])
	}

	for _, sl := range s.slots {
		if sl.ShieldActive && (t >= sl.ShieldEndTick || sl.ShieldHealth == 0) {
			sl.ShieldActive = false
			sl.ShieldHealth = 0
		}
		if !sl.AbilityReady && t-sl.LastAbilityTick >= uint64(s.tuning.AbilityCooldownTicks) {
			sl.AbilityReady = true
		}
	}

	s.evaluate(t)
}

func (s *Session) move(sl *Slot) {
	mx, my := sl.current.MoveX, sl.current.MoveY
	mag := math.Hypot(mx, my)
	if mag == 0 {
		return
	}
	if mag > 1 {
		mx /= mag
		my /= mag
	}
	sl.X = clampFloat(sl.X+mx*s.tuning.MoveSpeed, 0, s.tuning.MapWidth)
	sl.Y = clampFloat(sl.Y+my*s.tuning.MoveSpeed, 0, s.tuning.MapHeight)
	sl.Rotation = math.Atan2(my, mx)
}

// attack resolves this tick's fire and ability for one slot and returns the damage
// headed for the opponent. A shield activation takes effect immediately. A
// disconnected slot does not act.
func (s *Session) attack(sl, opp *Slot, t uint64) int {
	if !sl.Connected {
		return 0
	}
	damage := 0
	dist := distance(sl, opp)

	if sl.current.Fire && t >= sl.FireReadyTick {
		sl.FireReadyTick = t + uint64(s.tuning.FireCooldownTicks)
		if dist <= s.tuning.FireRange {
			damage += s.tuning.FireDamage
		}
	}

	if sl.input.takeAbility() && sl.AbilityReady {
		sl.AbilityReady = false
		sl.LastAbilityTick = t
		switch s.tuning.AbilityKind {
		case config.AbilityBlast:
			if dist <= s.tuning.AbilityRange {
				damage += s.tuning.AbilityDamage
			}
		case config.AbilityShield:
			sl.ShieldActive = true
			sl.ShieldHealth = ShieldCapacity
			sl.ShieldEndTick = t + uint64(s.tuning.ShieldDurationTicks)
		}
	}
	return damage
}

// evaluate checks the terminal conditions in priority order: knockouts, then expired
// disconnect grace, then the duration cap.
func (s *Session) evaluate(t uint64) {
	p1, p2 := s.slots[0], s.slots[1]

	switch {
	case p1.Health == 0 && p2.Health == 0:
		s.complete(domain.EndReasonTie, -1, -1)
		return
	case p1.Health == 0:
		s.complete(domain.EndReasonNormal, 1, -1)
		return
	case p2.Health == 0:
		s.complete(domain.EndReasonNormal, 0, -1)
		return
	}

	gone1, gone2 := graceExpired(p1, t), graceExpired(p2, t)
	switch {
	case gone1 && gone2:
		s.complete(domain.EndReasonTie, -1, -1)
		return
	case gone1:
		s.complete(domain.EndReasonDisconnection, 1, 0)
		return
	case gone2:
		s.complete(domain.EndReasonDisconnection, 0, 1)
		return
	}

	if t >= s.maxTicks {
		s.complete(domain.EndReasonTie, -1, -1)
	}
}

func graceExpired(sl *Slot, t uint64) bool {
	return !sl.Connected && sl.graceDeadline > 0 && t >= sl.graceDeadline
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
