// Package fairness implements the commit-reveal protocol that resolves every bet.
//
// The server commits to sha256(serverSeed ":" nonce) before the player picks a
// client seed. On reveal, the final hash is HMAC-SHA256 keyed by the server seed
// over clientSeed ":" txRef ":" nonce; its first eight bytes are the raw roll.
// A server commit is single use and expires after the configured TTL.
package fairness

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/onchain-casino-settlement/internal/domain/game"
	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/onchain-casino-settlement/internal/platform/cache"
)

const (
	serverSeedBytes = 32
	nonceBytes      = 8

	commitKeyPrefix   = "fairness:commit:"
	consumedKeyPrefix = "fairness:consumed:"
	clientKeyPrefix   = "fairness:client:"

	// cache entries outlive the protocol TTL so an expired commit reports
	// ErrCommitExpired rather than ErrCommitNotFound
	expiryGrace = time.Hour
)

// ErrNotReproducible is returned by Verify when a play does not follow from its revealed seeds
var ErrNotReproducible = errors.New("play does not reproduce from its seeds")

// Commitment is what the player sees before choosing a client seed
type Commitment struct {
	ServerCommit string    `json:"server_commit"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RevealRequest carries the player's half of the protocol
type RevealRequest struct {
	ServerCommit string
	ClientCommit string
	ClientSeed   string
	GameType     game.Type
	BetAmount    int64
	TxRef        string
}

// Outcome is the resolved bet together with everything needed to verify it offline
type Outcome struct {
	Roll         int64
	Won          bool
	Payout       int64
	HouseFee     int64
	Nonce        string
	FinalHash    string
	ServerSeed   string
	ServerCommit string
	ClientCommit string
}

type seedRecord struct {
	ServerSeed string    `json:"server_seed"`
	Nonce      string    `json:"nonce"`
	CreatedAt  time.Time `json:"created_at"`
}

// Engine issues commitments and resolves reveals
type Engine struct {
	store    cache.Store
	registry Registry
	ttl      time.Duration
	logger   *slog.Logger

	Now     func() time.Time
	Entropy io.Reader
}

// NewEngine creates a fairness engine backed by store
func NewEngine(store cache.Store, registry Registry, ttl time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		registry: registry,
		ttl:      ttl,
		logger:   logger.With("component", "fairness"),
		Now:      time.Now,
		Entropy:  rand.Reader,
	}
}

// Registry returns the game table the engine resolves against
func (e *Engine) Registry() Registry {
	return e.registry
}

// Commit draws a fresh server seed and nonce and stores them under their commitment
func (e *Engine) Commit(ctx context.Context) (*Commitment, error) {
	buf := make([]byte, serverSeedBytes+nonceBytes)
	if _, err := io.ReadFull(e.Entropy, buf); err != nil {
		return nil, fmt.Errorf("failed to draw server seed: %w", err)
	}
	record := seedRecord{
		ServerSeed: hex.EncodeToString(buf[:serverSeedBytes]),
		Nonce:      hex.EncodeToString(buf[serverSeedBytes:]),
		CreatedAt:  e.Now().UTC(),
	}
	commit := ServerCommit(record.ServerSeed, record.Nonce)

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode seed record: %w", err)
	}
	if err := e.store.Set(ctx, commitKeyPrefix+commit, data, e.ttl+expiryGrace); err != nil {
		return nil, shared.TransientInfraError{Op: "store server commit", Err: err}
	}

	e.logger.Debug("Server commit issued", "server_commit", commit)
	return &Commitment{ServerCommit: commit, ExpiresAt: record.CreatedAt.Add(e.ttl)}, nil
}

// Reveal checks the player's seed against its commitment, consumes the server
// commit and resolves the bet
func (e *Engine) Reveal(ctx context.Context, req RevealRequest) (*Outcome, error) {
	if req.BetAmount <= 0 {
		return nil, shared.ValidationError{Field: "bet_amount", Reason: "must be positive"}
	}
	if HashClientSeed(req.ClientSeed) != req.ClientCommit {
		return nil, shared.FairnessProtocolError{Err: shared.ErrClientCommitMismatch}
	}
	rule, ok := e.registry.Get(req.GameType)
	if !ok {
		return nil, shared.FairnessProtocolError{Err: shared.ErrUnsupportedGame, Detail: string(req.GameType)}
	}

	record, err := e.load(ctx, req.ServerCommit)
	if err != nil {
		return nil, err
	}
	if !e.Now().Before(record.CreatedAt.Add(e.ttl)) {
		return nil, shared.FairnessProtocolError{Err: shared.ErrCommitExpired, Detail: req.ServerCommit}
	}

	fresh, err := e.store.SetNX(ctx, clientKeyPrefix+req.ClientCommit, []byte(req.ServerCommit), e.ttl+expiryGrace)
	if err != nil {
		return nil, shared.TransientInfraError{Op: "mark client commit", Err: err}
	}
	if !fresh {
		return nil, shared.FairnessProtocolError{Err: shared.ErrClientCommitReplay, Detail: req.ClientCommit}
	}

	if err := e.consume(ctx, req.ServerCommit); err != nil {
		return nil, err
	}

	outcome, err := Derive(record.ServerSeed, record.Nonce, req.ClientSeed, req.TxRef, rule, req.BetAmount)
	if err != nil {
		return nil, err
	}
	outcome.ServerCommit = req.ServerCommit
	outcome.ClientCommit = req.ClientCommit

	e.logger.Debug("Server commit revealed",
		"server_commit", req.ServerCommit,
		"game_type", string(req.GameType),
		"roll", outcome.Roll,
		"won", outcome.Won,
	)
	return outcome, nil
}

func (e *Engine) load(ctx context.Context, commit string) (*seedRecord, error) {
	data, err := e.store.Get(ctx, commitKeyPrefix+commit)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, shared.FairnessProtocolError{Err: shared.ErrCommitNotFound, Detail: commit}
		}
		return nil, shared.TransientInfraError{Op: "load server commit", Err: err}
	}
	var record seedRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode seed record for %s: %w", commit, err)
	}
	return &record, nil
}

// consume claims the commit exactly once; a concurrent reveal of the same commit
// loses the claim and sees ErrCommitNotFound
func (e *Engine) consume(ctx context.Context, commit string) error {
	claimed, err := e.store.SetNX(ctx, consumedKeyPrefix+commit, []byte{1}, e.ttl+expiryGrace)
	if err != nil {
		return shared.TransientInfraError{Op: "consume server commit", Err: err}
	}
	if !claimed {
		return shared.FairnessProtocolError{Err: shared.ErrCommitNotFound, Detail: commit}
	}
	if err := e.store.Delete(ctx, commitKeyPrefix+commit); err != nil {
		// the consumed marker already blocks reuse
		e.logger.Warn("Failed to delete consumed server seed", "server_commit", commit, "error", err)
	}
	return nil
}

// Verify recomputes a settled play from its revealed seeds and reports the first mismatch
func (e *Engine) Verify(play *game.Play) error {
	if HashClientSeed(play.ClientSeed) != play.ClientCommit {
		return shared.FairnessProtocolError{Err: shared.ErrClientCommitMismatch, Detail: play.ID.String()}
	}
	if ServerCommit(play.ServerSeed, play.Nonce) != play.ServerCommit {
		return fmt.Errorf("%w: server seed does not match commit %s", ErrNotReproducible, play.ServerCommit)
	}
	rule, ok := e.registry.Get(play.GameType)
	if !ok {
		return shared.FairnessProtocolError{Err: shared.ErrUnsupportedGame, Detail: string(play.GameType)}
	}

	want, err := Derive(play.ServerSeed, play.Nonce, play.ClientSeed, play.TxRef, rule, play.BetAmount)
	if err != nil {
		return err
	}
	switch {
	case want.FinalHash != play.FinalHash:
		return fmt.Errorf("%w: final hash recorded %s, derived %s", ErrNotReproducible, play.FinalHash, want.FinalHash)
	case want.Roll != play.Roll || want.Won != play.Won:
		return fmt.Errorf("%w: recorded roll %d won %t, derived roll %d won %t", ErrNotReproducible, play.Roll, play.Won, want.Roll, want.Won)
	case want.Payout != play.Payout || want.HouseFee != play.HouseFee:
		return fmt.Errorf("%w: recorded payout %d fee %d, derived payout %d fee %d", ErrNotReproducible, play.Payout, play.HouseFee, want.Payout, want.HouseFee)
	}
	return nil
}

// Derive is the pure outcome function shared by Reveal and Verify
func Derive(serverSeed, nonce, clientSeed, txRef string, rule Rule, bet int64) (*Outcome, error) {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	mac.Write([]byte(clientSeed + ":" + txRef + ":" + nonce))
	digest := mac.Sum(nil)

	roll, won := rule.Game.Resolve(binary.BigEndian.Uint64(digest[:8]))
	outcome := &Outcome{
		Roll:       roll,
		Won:        won,
		Nonce:      nonce,
		FinalHash:  hex.EncodeToString(digest),
		ServerSeed: serverSeed,
	}
	if won {
		payout, fee, err := rule.Payout(bet)
		if err != nil {
			return nil, err
		}
		outcome.Payout, outcome.HouseFee = payout, fee
	}
	return outcome, nil
}

// ServerCommit is hex(sha256(serverSeed ":" nonce))
func ServerCommit(serverSeed, nonce string) string {
	sum := sha256.Sum256([]byte(serverSeed + ":" + nonce))
	return hex.EncodeToString(sum[:])
}

// HashClientSeed is the client commitment the player publishes before reveal
func HashClientSeed(clientSeed string) string {
	sum := sha256.Sum256([]byte(clientSeed))
	return hex.EncodeToString(sum[:])
}
