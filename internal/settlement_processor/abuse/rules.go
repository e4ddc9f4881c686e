// Package abuse decides whether multi-account sensitive actions may proceed.
//
// The Check functions are pure: they look only at the aggregates and
// thresholds they are given. Guard collects those aggregates from rolling
// activity windows and records activity once an action is allowed.
package abuse

import (
	"time"

	"github.com/onchain-casino-settlement/internal/domain/shared"
)

// Check names, used as metric labels and as the field of the rejection error
const (
	NameMultiAccount       = "multi_account"
	CheckFaucetClaim       = "faucet"
	CheckReferralLink      = "referral"
	NameWithdrawalVelocity = "withdrawal_velocity"
)

// Denial reasons
const (
	ReasonAccountsPerIP          = "too many accounts from this network address"
	ReasonAccountsPerFingerprint = "too many accounts from this device"
	ReasonFaucetCooldown         = "faucet cooldown has not elapsed"
	ReasonFaucetPerIP            = "faucet limit reached for this network address"
	ReasonSelfReferral           = "users cannot refer themselves"
	ReasonAlreadyReferred        = "user already has a referrer"
	ReasonReferralLimit          = "referrer reached the referral limit"
	ReasonWithdrawalCount        = "too many withdrawals in the current window"
	ReasonWithdrawalSum          = "withdrawal volume limit reached for the current window"
)

// Thresholds are the configured limits; a zero limit disables its rule
type Thresholds struct {
	Window                    time.Duration
	MaxAccountsPerIP          int
	MaxAccountsPerFingerprint int
	FaucetCooldown            time.Duration
	MaxFaucetPerIP            int
	MaxReferralsPerReferrer   int
	MaxWithdrawalsPerWindow   int
	MaxWithdrawalSumPerWindow int64
}

// Aggregates is the recent activity relevant to one decision.
// Account counts exclude the acting user.
type Aggregates struct {
	OtherAccountsOnIP          int
	OtherAccountsOnFingerprint int

	FaucetClaimed    bool
	SinceLastFaucet  time.Duration
	FaucetClaimsOnIP int

	SelfReferral        bool
	AlreadyReferred     bool
	ReferralsByReferrer int

	WithdrawalsInWindow   int
	WithdrawalSumInWindow int64
	RequestedAmount       int64
}

// Decision is the outcome of a check
type Decision struct {
	Allowed bool   `json:"allowed"`
	Check   string `json:"check,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Err converts a denial into a ValidationError; nil when allowed
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return shared.ValidationError{Field: d.Check, Reason: d.Reason}
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(check, reason string) Decision {
	return Decision{Check: check, Reason: reason}
}

func CheckMultiAccount(agg Aggregates, th Thresholds) Decision {
	if th.MaxAccountsPerIP > 0 && agg.OtherAccountsOnIP >= th.MaxAccountsPerIP {
		return deny(NameMultiAccount, ReasonAccountsPerIP)
	}
	if th.MaxAccountsPerFingerprint > 0 && agg.OtherAccountsOnFingerprint >= th.MaxAccountsPerFingerprint {
		return deny(NameMultiAccount, ReasonAccountsPerFingerprint)
	}
	return allow()
}

// CheckFaucet applies the multi-account rule first; faucets are the main farming target
func CheckFaucet(agg Aggregates, th Thresholds) Decision {
	if d := CheckMultiAccount(agg, th); !d.Allowed {
		return d
	}
	if th.FaucetCooldown > 0 && agg.FaucetClaimed && agg.SinceLastFaucet < th.FaucetCooldown {
		return deny(CheckFaucetClaim, ReasonFaucetCooldown)
	}
	if th.MaxFaucetPerIP > 0 && agg.FaucetClaimsOnIP >= th.MaxFaucetPerIP {
		return deny(CheckFaucetClaim, ReasonFaucetPerIP)
	}
	return allow()
}

func CheckReferral(agg Aggregates, th Thresholds) Decision {
	switch {
	case agg.SelfReferral:
		return deny(CheckReferralLink, ReasonSelfReferral)
	case agg.AlreadyReferred:
		return deny(CheckReferralLink, ReasonAlreadyReferred)
	case th.MaxReferralsPerReferrer > 0 && agg.ReferralsByReferrer >= th.MaxReferralsPerReferrer:
		return deny(CheckReferralLink, ReasonReferralLimit)
	}
	return allow()
}

func CheckWithdrawalVelocity(agg Aggregates, th Thresholds) Decision {
	if th.MaxWithdrawalsPerWindow > 0 && agg.WithdrawalsInWindow >= th.MaxWithdrawalsPerWindow {
		return deny(NameWithdrawalVelocity, ReasonWithdrawalCount)
	}
	if th.MaxWithdrawalSumPerWindow > 0 && agg.WithdrawalSumInWindow+agg.RequestedAmount > th.MaxWithdrawalSumPerWindow {
		return deny(NameWithdrawalVelocity, ReasonWithdrawalSum)
	}
	return allow()
}
