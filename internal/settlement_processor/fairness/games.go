package fairness

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/holiman/uint256"
	"github.com/onchain-casino-settlement/internal/domain/game"
	"gopkg.in/yaml.v3"
)

const bpsDenominator = 10_000

// Game maps the raw 64-bit roll taken from the final hash to a game outcome.
// Implementations are pure.
type Game interface {
	Resolve(raw uint64) (roll int64, won bool)
	// Odds returns the number of winning outcomes out of the total outcome space
	Odds() (wins, outcomes uint64)
}

// DiceHigh wins when roll%100 is above Cutoff
type DiceHigh struct{ Cutoff int64 }

func (g DiceHigh) Resolve(raw uint64) (int64, bool) {
	roll := int64(raw % 100)
	return roll, roll > g.Cutoff
}

func (g DiceHigh) Odds() (uint64, uint64) { return uint64(99 - g.Cutoff), 100 }

// DiceLow wins when roll%100 is below Cutoff
type DiceLow struct{ Cutoff int64 }

func (g DiceLow) Resolve(raw uint64) (int64, bool) {
	roll := int64(raw % 100)
	return roll, roll < g.Cutoff
}

func (g DiceLow) Odds() (uint64, uint64) { return uint64(g.Cutoff), 100 }

// CoinFlip wins when roll%2 equals Side (0 heads, 1 tails)
type CoinFlip struct{ Side int64 }

func (g CoinFlip) Resolve(raw uint64) (int64, bool) {
	roll := int64(raw % 2)
	return roll, roll == g.Side
}

func (g CoinFlip) Odds() (uint64, uint64) { return 1, 2 }

// Die wins when roll%6+1 equals Face
type Die struct{ Face int64 }

func (g Die) Resolve(raw uint64) (int64, bool) {
	roll := int64(raw%6) + 1
	return roll, roll == g.Face
}

func (g Die) Odds() (uint64, uint64) { return 1, 6 }

// Rule binds a game to its payout parameters
type Rule struct {
	Game          Game
	MultiplierBps uint64
	HouseEdgeBps  uint64
}

// Payout computes the credited amount and the house fee for a winning bet:
// gross = bet*multiplier, payout = gross*(1-edge), fee = gross-payout, all floored.
func (r Rule) Payout(bet int64) (payout, fee int64, err error) {
	if bet <= 0 {
		return 0, 0, fmt.Errorf("bet must be positive, got %d", bet)
	}
	denom := uint256.NewInt(bpsDenominator)

	gross := new(uint256.Int).Mul(uint256.NewInt(uint64(bet)), uint256.NewInt(r.MultiplierBps))
	gross.Div(gross, denom)

	net := new(uint256.Int).Mul(gross, uint256.NewInt(bpsDenominator-r.HouseEdgeBps))
	net.Div(net, denom)

	houseFee := new(uint256.Int).Sub(gross, net)

	if !gross.IsUint64() || gross.Uint64() > uint64(1<<63-1) {
		return 0, 0, fmt.Errorf("payout for bet %d overflows", bet)
	}
	return int64(net.Uint64()), int64(houseFee.Uint64()), nil
}

// RTPBps returns the expected return to player in basis points
func (r Rule) RTPBps() uint64 {
	wins, outcomes := r.Game.Odds()
	rtp := new(uint256.Int).Mul(uint256.NewInt(wins), uint256.NewInt(r.MultiplierBps))
	rtp.Mul(rtp, uint256.NewInt(bpsDenominator-r.HouseEdgeBps))
	rtp.Div(rtp, uint256.NewInt(outcomes*bpsDenominator))
	return rtp.Uint64()
}

// Registry is the lookup table of supported game types
type Registry map[game.Type]Rule

// Get returns the rule for a game type
func (r Registry) Get(t game.Type) (Rule, bool) {
	rule, ok := r[t]
	return rule, ok
}

// Types lists the registered game types in sorted order
func (r Registry) Types() []game.Type {
	types := make([]game.Type, 0, len(r))
	for t := range r {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ValidateTable rejects rules that would pay out at least as much as is wagered
func ValidateTable(r Registry) error {
	if len(r) == 0 {
		return fmt.Errorf("game table is empty")
	}
	for _, t := range r.Types() {
		rule := r[t]
		if rule.Game == nil {
			return fmt.Errorf("game %s: no outcome function", t)
		}
		if rule.MultiplierBps == 0 {
			return fmt.Errorf("game %s: multiplier must be positive", t)
		}
		if rule.HouseEdgeBps >= bpsDenominator {
			return fmt.Errorf("game %s: house edge %d bps must be below %d", t, rule.HouseEdgeBps, bpsDenominator)
		}
		wins, outcomes := rule.Game.Odds()
		if wins == 0 || wins >= outcomes {
			return fmt.Errorf("game %s: %d of %d winning outcomes is not a wager", t, wins, outcomes)
		}
		if rtp := rule.RTPBps(); rtp >= bpsDenominator {
			return fmt.Errorf("game %s: return to player %d bps must be below %d", t, rtp, bpsDenominator)
		}
	}
	return nil
}

// DefaultRegistry is the built-in game table
func DefaultRegistry() Registry {
	r := Registry{
		"dice/high":      {Game: DiceHigh{Cutoff: 50}, MultiplierBps: 19_800, HouseEdgeBps: 100},
		"dice/low":       {Game: DiceLow{Cutoff: 49}, MultiplierBps: 19_800, HouseEdgeBps: 100},
		"coinflip/heads": {Game: CoinFlip{Side: 0}, MultiplierBps: 19_600, HouseEdgeBps: 100},
		"coinflip/tails": {Game: CoinFlip{Side: 1}, MultiplierBps: 19_600, HouseEdgeBps: 100},
	}
	for face := int64(1); face <= 6; face++ {
		r[game.Type("d6/"+strconv.FormatInt(face, 10))] = Rule{Game: Die{Face: face}, MultiplierBps: 57_000, HouseEdgeBps: 100}
	}
	return r
}

type tableFile struct {
	Games []tableEntry `yaml:"games"`
}

type tableEntry struct {
	Type          string `yaml:"type"`
	Kind          string `yaml:"kind"`
	Cutoff        int64  `yaml:"cutoff"`
	Side          string `yaml:"side"`
	Face          int64  `yaml:"face"`
	MultiplierBps uint64 `yaml:"multiplier_bps"`
	HouseEdgeBps  uint64 `yaml:"house_edge_bps"`
}

func (e tableEntry) game() (Game, error) {
	switch e.Kind {
	case "dice_high":
		if e.Cutoff < 0 || e.Cutoff > 98 {
			return nil, fmt.Errorf("cutoff %d out of range", e.Cutoff)
		}
		return DiceHigh{Cutoff: e.Cutoff}, nil
	case "dice_low":
		if e.Cutoff < 1 || e.Cutoff > 99 {
			return nil, fmt.Errorf("cutoff %d out of range", e.Cutoff)
		}
		return DiceLow{Cutoff: e.Cutoff}, nil
	case "coinflip":
		switch e.Side {
		case "heads":
			return CoinFlip{Side: 0}, nil
		case "tails":
			return CoinFlip{Side: 1}, nil
		}
		return nil, fmt.Errorf("unknown coin side %q", e.Side)
	case "d6":
		if e.Face < 1 || e.Face > 6 {
			return nil, fmt.Errorf("face %d out of range", e.Face)
		}
		return Die{Face: e.Face}, nil
	}
	return nil, fmt.Errorf("unknown game kind %q", e.Kind)
}

// ParseTable decodes a YAML game table and validates it
func ParseTable(data []byte) (Registry, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode game table: %w", err)
	}

	r := make(Registry, len(file.Games))
	for _, entry := range file.Games {
		if entry.Type == "" {
			return nil, fmt.Errorf("game table entry without type")
		}
		if _, dup := r[game.Type(entry.Type)]; dup {
			return nil, fmt.Errorf("game %s listed twice", entry.Type)
		}
		g, err := entry.game()
		if err != nil {
			return nil, fmt.Errorf("game %s: %w", entry.Type, err)
		}
		r[game.Type(entry.Type)] = Rule{Game: g, MultiplierBps: entry.MultiplierBps, HouseEdgeBps: entry.HouseEdgeBps}
	}

	if err := ValidateTable(r); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadTable reads the game table at path, falling back to the built-in table when path is empty
func LoadTable(path string) (Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read game table %s: %w", path, err)
	}
	return ParseTable(data)
}
