// Package model defines the ledger records shared across the engines.
// Amounts are uint64 base token units; balances use ledger.Balance so they
// can only change through the balance ledger.
package model

import (
	"time"

	"github.com/vegais/ledger-engine/internal/ledger"
)

// PlatformStats holds the process-wide advisory counters. Authority is the
// identity allowed to settle wagers.
type PlatformStats struct {
	Authority   string    `json:"authority"`
	TotalUsers  uint64    `json:"total_users"`
	TotalBets   uint64    `json:"total_bets"`
	TotalVolume uint64    `json:"total_volume"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserLedger is one user's spendable funds and betting history.
type UserLedger struct {
	Identity    string         `json:"identity"`
	Username    string         `json:"username"`
	Balance     ledger.Balance `json:"balance"`
	TotalBets   uint64         `json:"total_bets"`
	TotalWins   uint64         `json:"total_wins"`
	TotalVolume uint64         `json:"total_volume"`
	IsActive    bool           `json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
}

type WagerStatus string

const (
	WagerPending WagerStatus = "pending"
	WagerSettled WagerStatus = "settled"
)

// BetResult is a settlement outcome. Void is only valid for vault bets.
type BetResult string

const (
	ResultNone BetResult = ""
	ResultWin  BetResult = "win"
	ResultLoss BetResult = "loss"
	ResultDraw BetResult = "draw"
	ResultVoid BetResult = "void"
)

// Wager is one bet placed from a user's platform balance.
type Wager struct {
	ID                string      `json:"id"`
	User              string      `json:"user"`
	MatchID           string      `json:"match_id"`
	Prediction        string      `json:"prediction"`
	Amount            uint64      `json:"amount"`
	Odds              float64     `json:"odds"`
	PotentialWinnings uint64      `json:"potential_winnings"`
	Winnings          uint64      `json:"winnings"`
	Status            WagerStatus `json:"status"`
	Result            BetResult   `json:"result,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	SettledAt         *time.Time  `json:"settled_at,omitempty"`
}

type PoolStatus string

const (
	PoolActive PoolStatus = "active"
	PoolPaused PoolStatus = "paused"
	PoolClosed PoolStatus = "closed"
)

// Valid reports whether s is a known pool status.
func (s PoolStatus) Valid() bool {
	switch s {
	case PoolActive, PoolPaused, PoolClosed:
		return true
	}
	return false
}

// InvestmentPool is a manager-run pooled strategy ("ETF").
type InvestmentPool struct {
	ID             string         `json:"id"`
	Manager        string         `json:"manager"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Strategy       string         `json:"strategy"`
	RiskLevel      uint8          `json:"risk_level"`
	MinInvestment  uint64         `json:"min_investment"`
	MaxInvestment  uint64         `json:"max_investment"`
	AnnualReturn   float64        `json:"annual_return"`
	ManagementFee  float64        `json:"management_fee"`
	PerformanceFee float64        `json:"performance_fee"`
	Status         PoolStatus     `json:"status"`
	TotalValue     ledger.Balance `json:"total_value"`
	TotalInvestors uint64         `json:"total_investors"`
	CurrentReturn  float64        `json:"current_return"`
	CreatedAt      time.Time      `json:"created_at"`
}

type InvestmentStatus string

const (
	InvestmentActive   InvestmentStatus = "active"
	InvestmentRedeemed InvestmentStatus = "redeemed"
	// InvestmentCancelled is part of the persisted state space; no
	// transition produces it.
	InvestmentCancelled InvestmentStatus = "cancelled"
)

// Investment is one user's stake in one pool.
type Investment struct {
	ID        string           `json:"id"`
	User      string           `json:"user"`
	PoolID    string           `json:"pool_id"`
	Amount    uint64           `json:"amount"`
	Shares    uint64           `json:"shares"`
	Status    InvestmentStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// VaultLedger is the vault's aggregate position. Authority may settle vault
// bets and collect fees.
type VaultLedger struct {
	Authority        string    `json:"authority"`
	Name             string    `json:"name"`
	Symbol           string    `json:"symbol"`
	TotalDeposits    uint64    `json:"total_deposits"`
	TotalWithdrawals uint64    `json:"total_withdrawals"`
	TotalEarnings    uint64    `json:"total_earnings"`
	TotalFees        uint64    `json:"total_fees"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
}

// VaultUserAccount is one user's position in the vault. Zero timestamps mean
// "never".
type VaultUserAccount struct {
	User             string         `json:"user"`
	TotalDeposited   uint64         `json:"total_deposited"`
	CurrentBalance   ledger.Balance `json:"current_balance"`
	TotalEarnings    uint64         `json:"total_earnings"`
	LastDepositAt    time.Time      `json:"last_deposit_at"`
	LastWithdrawalAt time.Time      `json:"last_withdrawal_at"`
}

type VaultBetStatus string

const (
	VaultBetPending   VaultBetStatus = "pending"
	VaultBetSettled   VaultBetStatus = "settled"
	VaultBetCancelled VaultBetStatus = "cancelled"
)

// VaultBetRecord is one strategy-tagged bet funded from a vault balance.
type VaultBetRecord struct {
	BetID      string         `json:"bet_id"`
	User       string         `json:"user"`
	StrategyID string         `json:"strategy_id"`
	Amount     uint64         `json:"amount"`
	Result     BetResult      `json:"result,omitempty"`
	Profit     int64          `json:"profit"`
	Status     VaultBetStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	SettledAt  *time.Time     `json:"settled_at,omitempty"`
}
