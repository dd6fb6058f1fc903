package model

import "time"

// EventType names an audit event.
type EventType string

const (
	EventPlatformInitialized EventType = "platform_initialized"
	EventUserCreated         EventType = "user_created"
	EventDeposit             EventType = "deposit"
	EventWithdraw            EventType = "withdraw"
	EventBetPlaced           EventType = "bet_placed"
	EventBetWon              EventType = "bet_won"
	EventBetLost             EventType = "bet_lost"
	EventBetDraw             EventType = "bet_draw"
	EventPoolCreated         EventType = "etf_created"
	EventPoolStatusChanged   EventType = "etf_status_changed"
	EventInvestment          EventType = "etf_investment"
	EventRedeem              EventType = "etf_redeem"
	EventVaultInitialized    EventType = "vault_initialized"
	EventVaultStatusChanged  EventType = "vault_status_changed"
	EventVaultDeposit        EventType = "vault_deposit"
	EventVaultWithdraw       EventType = "vault_withdraw"
	EventVaultBetExecuted    EventType = "vault_bet_executed"
	EventVaultBetSettled     EventType = "vault_bet_settled"
	EventVaultBetCancelled   EventType = "vault_bet_cancelled"
	EventFeesCollected       EventType = "fees_collected"
)

// Event is the immutable audit record a committed transition emits.
// Ref is the key of the record the event is about (wager, pool, bet, ...).
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	User      string    `json:"user,omitempty"`
	Ref       string    `json:"ref,omitempty"`
	Amount    uint64    `json:"amount"`
	Profit    int64     `json:"profit,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
