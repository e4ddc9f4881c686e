package abuse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/onchain-casino-settlement/internal/platform/cache"
	"github.com/onchain-casino-settlement/internal/platform/metrics"
)

const keyPrefix = "abuse:"

// ActivityStore keeps rolling windows of recent activity
type ActivityStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	AddToWindow(ctx context.Context, key, member string, at time.Time, ttl time.Duration) error
	WindowMembers(ctx context.Context, key string, since time.Time) ([]string, error)
}

// Client identifies where a request came from. Either field may be empty.
type Client struct {
	IP          string
	Fingerprint string
}

// Guard evaluates the checks against live activity windows
type Guard struct {
	store   ActivityStore
	th      Thresholds
	metrics *metrics.SettlementMetrics
	logger  *slog.Logger

	Now func() time.Time
}

func NewGuard(store ActivityStore, th Thresholds, m *metrics.SettlementMetrics, logger *slog.Logger) *Guard {
	if th.Window <= 0 {
		th.Window = 24 * time.Hour
	}
	return &Guard{
		store:   store,
		th:      th,
		metrics: m,
		logger:  logger.With("component", "abuse_guard"),
		Now:     time.Now,
	}
}

// AllowAccountActivity applies the multi-account rule to userID acting from client
func (g *Guard) AllowAccountActivity(ctx context.Context, userID string, client Client) (Decision, error) {
	agg, err := g.accountAggregates(ctx, userID, client)
	if err != nil {
		return Decision{}, err
	}
	return g.decide(userID, CheckMultiAccount(agg, g.th)), nil
}

// RecordAccount remembers that userID was seen from client
func (g *Guard) RecordAccount(ctx context.Context, userID string, client Client) error {
	now := g.Now()
	if client.IP != "" {
		if err := g.store.AddToWindow(ctx, ipAccountsKey(client.IP), userID, now, g.th.Window); err != nil {
			return fmt.Errorf("failed to record account activity: %w", err)
		}
	}
	if client.Fingerprint != "" {
		if err := g.store.AddToWindow(ctx, fingerprintAccountsKey(client.Fingerprint), userID, now, g.th.Window); err != nil {
			return fmt.Errorf("failed to record account activity: %w", err)
		}
	}
	return nil
}

func (g *Guard) AllowFaucet(ctx context.Context, userID string, client Client) (Decision, error) {
	agg, err := g.accountAggregates(ctx, userID, client)
	if err != nil {
		return Decision{}, err
	}

	last, err := g.store.Get(ctx, faucetUserKey(userID))
	switch {
	case errors.Is(err, cache.ErrMiss):
	case err != nil:
		return Decision{}, fmt.Errorf("failed to read faucet history: %w", err)
	default:
		at, perr := strconv.ParseInt(string(last), 10, 64)
		if perr != nil {
			return Decision{}, fmt.Errorf("failed to parse faucet history: %w", perr)
		}
		agg.FaucetClaimed = true
		agg.SinceLastFaucet = g.Now().Sub(time.Unix(0, at))
	}

	if client.IP != "" {
		claims, err := g.window(ctx, faucetIPKey(client.IP))
		if err != nil {
			return Decision{}, err
		}
		agg.FaucetClaimsOnIP = len(claims)
	}
	return g.decide(userID, CheckFaucet(agg, g.th)), nil
}

// RecordFaucet starts the cooldown and counts the claim against the client address
func (g *Guard) RecordFaucet(ctx context.Context, userID string, client Client) error {
	now := g.Now()
	cooldown := g.th.FaucetCooldown
	if cooldown <= 0 {
		cooldown = g.th.Window
	}
	if err := g.store.Set(ctx, faucetUserKey(userID), []byte(strconv.FormatInt(now.UnixNano(), 10)), cooldown); err != nil {
		return fmt.Errorf("failed to record faucet claim: %w", err)
	}
	if client.IP != "" {
		member := userID + ":" + strconv.FormatInt(now.UnixNano(), 10)
		if err := g.store.AddToWindow(ctx, faucetIPKey(client.IP), member, now, g.th.Window); err != nil {
			return fmt.Errorf("failed to record faucet claim: %w", err)
		}
	}
	return g.RecordAccount(ctx, userID, client)
}

// AllowReferral checks linking userID to referrer. alreadyReferred comes from the user row.
func (g *Guard) AllowReferral(ctx context.Context, userID, referrer string, alreadyReferred bool) (Decision, error) {
	agg := Aggregates{
		SelfReferral:    userID == referrer,
		AlreadyReferred: alreadyReferred,
	}
	referrals, err := g.window(ctx, referralsKey(referrer))
	if err != nil {
		return Decision{}, err
	}
	agg.ReferralsByReferrer = len(referrals)
	return g.decide(userID, CheckReferral(agg, g.th)), nil
}

func (g *Guard) RecordReferral(ctx context.Context, userID, referrer string) error {
	if err := g.store.AddToWindow(ctx, referralsKey(referrer), userID, g.Now(), g.th.Window); err != nil {
		return fmt.Errorf("failed to record referral: %w", err)
	}
	return nil
}

func (g *Guard) AllowWithdrawal(ctx context.Context, userID string, amount int64) (Decision, error) {
	members, err := g.window(ctx, withdrawalsKey(userID))
	if err != nil {
		return Decision{}, err
	}
	agg := Aggregates{WithdrawalsInWindow: len(members), RequestedAmount: amount}
	for _, m := range members {
		agg.WithdrawalSumInWindow += withdrawalAmount(m)
	}
	return g.decide(userID, CheckWithdrawalVelocity(agg, g.th)), nil
}

// RecordWithdrawal counts an accepted withdrawal; replays of the same id are counted once
func (g *Guard) RecordWithdrawal(ctx context.Context, userID, withdrawalID string, amount int64) error {
	member := withdrawalID + ":" + strconv.FormatInt(amount, 10)
	if err := g.store.AddToWindow(ctx, withdrawalsKey(userID), member, g.Now(), g.th.Window); err != nil {
		return fmt.Errorf("failed to record withdrawal: %w", err)
	}
	return nil
}

func (g *Guard) accountAggregates(ctx context.Context, userID string, client Client) (Aggregates, error) {
	var agg Aggregates
	if client.IP != "" {
		accounts, err := g.window(ctx, ipAccountsKey(client.IP))
		if err != nil {
			return agg, err
		}
		agg.OtherAccountsOnIP = countOthers(accounts, userID)
	}
	if client.Fingerprint != "" {
		accounts, err := g.window(ctx, fingerprintAccountsKey(client.Fingerprint))
		if err != nil {
			return agg, err
		}
		agg.OtherAccountsOnFingerprint = countOthers(accounts, userID)
	}
	return agg, nil
}

func (g *Guard) window(ctx context.Context, key string) ([]string, error) {
	members, err := g.store.WindowMembers(ctx, key, g.Now().Add(-g.th.Window))
	if err != nil {
		return nil, fmt.Errorf("failed to read activity window %s: %w", key, err)
	}
	return members, nil
}

func (g *Guard) decide(userID string, d Decision) Decision {
	if !d.Allowed {
		g.metrics.AbuseDenied(d.Check)
		g.logger.Warn("Action denied", "user_id", userID, "check", d.Check, "reason", d.Reason)
	}
	return d
}

func countOthers(members []string, userID string) int {
	n := 0
	for _, m := range members {
		if m != userID {
			n++
		}
	}
	return n
}

func withdrawalAmount(member string) int64 {
	i := strings.LastIndexByte(member, ':')
	if i < 0 {
		return 0
	}
	amount, err := strconv.ParseInt(member[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return amount
}

func ipAccountsKey(ip string) string         { return keyPrefix + "ip:" + ip + ":accounts" }
func fingerprintAccountsKey(fp string) string { return keyPrefix + "fp:" + fp + ":accounts" }
func faucetUserKey(userID string) string      { return keyPrefix + "faucet:user:" + userID }
func faucetIPKey(ip string) string            { return keyPrefix + "faucet:ip:" + ip }
func referralsKey(referrer string) string     { return keyPrefix + "referrals:" + referrer }
func withdrawalsKey(userID string) string     { return keyPrefix + "withdrawals:" + userID }
