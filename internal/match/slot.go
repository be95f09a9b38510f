package match

import (
	"math"
	"sync/atomic"

	"arena-backend/internal/protocol"
)

const (
	MaxHealth      = 100
	ShieldCapacity = 50
)

// Input is one client input sample. The move vector is normalized at consumption.
type Input struct {
	MoveX           float64
	MoveY           float64
	Fire            bool
	Ability         bool
	ClientTimestamp int64
}

func (in Input) valid() bool {
	return !math.IsNaN(in.MoveX) && !math.IsInf(in.MoveX, 0) &&
		!math.IsNaN(in.MoveY) && !math.IsInf(in.MoveY, 0)
}

// inputBuffer holds only the latest sample. The gateway overwrites it, the tick step
// reads it; there is never a queue of samples.
type inputBuffer struct {
	latest  atomic.Pointer[Input]
	ability atomic.Bool
	held    atomic.Bool
}

// offer stores a sample unless an already buffered one is newer. An ability press
// latches on the false to true edge only, so a held key fires once.
func (b *inputBuffer) offer(in Input) bool {
	next := &in
	for {
		cur := b.latest.Load()
		if cur != nil && in.ClientTimestamp < cur.ClientTimestamp {
			return false
		}
		if b.latest.CompareAndSwap(cur, next) {
			break
		}
	}
	if wasHeld := b.held.Swap(in.Ability); in.Ability && !wasHeld {
		b.ability.Store(true)
	}
	return true
}

// reset forgets the held key and any unconsumed press.
func (b *inputBuffer) reset() {
	b.held.Store(false)
	b.ability.Store(false)
}

func (b *inputBuffer) load() *Input {
	return b.latest.Load()
}

func (b *inputBuffer) takeAbility() bool {
	return b.ability.Swap(false)
}

// Slot is one player's side of a match. All fields except the input buffer are owned
// by the session goroutine.
type Slot struct {
	PlayerID        string
	X               float64
	Y               float64
	Rotation        float64
	Health          int
	ShieldHealth    int
	ShieldActive    bool
	ShieldEndTick   uint64
	FireReadyTick   uint64
	AbilityReady    bool
	LastAbilityTick uint64
	DamageDealt     int
	Ready           bool
	Connected       bool

	// tick at which a disconnected slot forfeits; zero while connected
	graceDeadline uint64

	input    inputBuffer
	current  Input
	consumed *Input
}

func newSlot(playerID string, x, y, rotation float64) *Slot {
	return &Slot{
		PlayerID:     playerID,
		X:            x,
		Y:            y,
		Rotation:     rotation,
		Health:       MaxHealth,
		AbilityReady: true,
		Connected:    true,
	}
}

// consume adopts the latest buffered sample. With nothing new the previous sample
// stays in effect; an invalid sample is skipped.
func (sl *Slot) consume() {
	in := sl.input.load()
	if in == nil || in == sl.consumed {
		return
	}
	sl.consumed = in
	if !in.valid() {
		return
	}
	sl.current = *in
}

// absorb takes damage into the shield first and then health. It returns the damage
// actually removed.
func (sl *Slot) absorb(damage int) int {
	if damage <= 0 {
		return 0
	}
	taken := 0
	if sl.ShieldActive && sl.ShieldHealth > 0 {
		n := min(damage, sl.ShieldHealth)
		sl.ShieldHealth -= n
		damage -= n
		taken += n
	}
	n := min(damage, sl.Health)
	sl.Health -= n
	taken += n
	return taken
}

func (sl *Slot) view() protocol.PlayerState {
	return protocol.PlayerState{
		ID:           sl.PlayerID,
		X:            sl.X,
		Y:            sl.Y,
		Rotation:     sl.Rotation,
		Health:       sl.Health,
		ShieldHealth: sl.ShieldHealth,
		ShieldActive: sl.ShieldActive,
		AbilityReady: sl.AbilityReady,
		DamageDealt:  sl.DamageDealt,
		Connected:    sl.Connected,
	}
}

func distance(a, b *Slot) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
