package game

import "time"

type TxKind string

const (
	TxBuy  TxKind = "buy"
	TxSell TxKind = "sell"
)

// Position is one buy lot. Its value tracks the entity metric relative to AnchorMetric.
type Position struct {
	ID              string    `json:"id"`
	EntityID        string    `json:"entity_id"`
	PrincipalMicros int64     `json:"principal_micros"`
	AnchorMetric    int64     `json:"anchor_metric"`
	OpenedAt        time.Time `json:"opened_at"`
}

type PositionState string

const (
	PositionOpen                PositionState = "open"
	PositionPartiallyLiquidated PositionState = "partially_liquidated"
	PositionClosed              PositionState = "closed"
)

// Holding aggregates every position an account has in one entity. Never stored.
type Holding struct {
	EntityID             string `json:"entity_id"`
	Positions            int    `json:"positions"`
	TotalPrincipalMicros int64  `json:"total_principal_micros"`
	CurrentValueMicros   int64  `json:"current_value_micros"`
	ProfitMicros         int64  `json:"profit_micros"`
}

type Transaction struct {
	ID           string    `json:"id"`
	Kind         TxKind    `json:"kind"`
	EntityID     string    `json:"entity_id"`
	AmountMicros int64     `json:"amount_micros"`
	At           time.Time `json:"at"`

	// PositionID links a buy to the lot it opened. IdempotencyKey is the key the
	// client submitted the trade with, if any.
	PositionID     string `json:"position_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type Account struct {
	ID              string        `json:"id"`
	Username        string        `json:"username"`
	CreditsMicros   int64         `json:"credits_micros"`
	Positions       []Position    `json:"positions"`
	Transactions    []Transaction `json:"transactions"`
	NetWorthHistory Series        `json:"net_worth_history"`
	CreatedAt       time.Time     `json:"created_at"`
	LastLogin       time.Time     `json:"last_login"`
	// PreviousLogin is the sign-in before LastLogin; "since your last session" queries use it.
	PreviousLogin time.Time `json:"previous_login"`
}

// Entity is a tracked popularity metric (an artist's follower count).
type Entity struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ImageURL   string    `json:"image_url,omitempty"`
	Metric     int64     `json:"metric"`
	Popularity int       `json:"popularity"`
	History    Series    `json:"history"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Metric is one upstream observation for an entity.
type Metric struct {
	Name       string `json:"name,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
	Value      int64  `json:"value"`
	Popularity int    `json:"popularity"`
}

// MetricSnapshot maps entity id to its current metric value.
type MetricSnapshot map[string]int64

type SellResult struct {
	CreditedMicros int64 `json:"credited_micros"`
	FullyClosed    bool  `json:"fully_closed"`
	Closed         int   `json:"closed_positions"`
}

type Mover struct {
	EntityID  string  `json:"entity_id"`
	Name      string  `json:"name"`
	Metric    int64   `json:"metric"`
	ChangePct float64 `json:"change_pct"`
}

type Movers struct {
	Gainers []Mover `json:"gainers"`
	Losers  []Mover `json:"losers"`
}

type TradedEntity struct {
	EntityID    string `json:"entity_id"`
	BuysMicros  int64  `json:"buys_micros"`
	SellsMicros int64  `json:"sells_micros"`
}

type LeaderboardRow struct {
	Rank           int64  `json:"rank"`
	AccountID      string `json:"account_id"`
	Username       string `json:"username"`
	NetWorthMicros int64  `json:"net_worth_micros"`
}

type Dashboard struct {
	AccountID            string    `json:"account_id"`
	Username             string    `json:"username"`
	CreditsMicros        int64     `json:"credits_micros"`
	NetWorthMicros       int64     `json:"net_worth_micros"`
	NetWorthChangeMicros int64     `json:"net_worth_change_micros"`
	Holdings             []Holding `json:"holdings"`
	NetWorthHistory      Series    `json:"net_worth_history"`
	PreviousLogin        time.Time `json:"previous_login"`
}

type EntityView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ImageURL   string    `json:"image_url,omitempty"`
	Metric     int64     `json:"metric"`
	Popularity int       `json:"popularity"`
	FetchedAt  time.Time `json:"fetched_at"`
}

type EntityDetail struct {
	EntityView
	Series Series `json:"series"`
}

type InvestInput struct {
	AccountID      string
	EntityID       string
	AmountMicros   int64
	IdempotencyKey string
}

type InvestResult struct {
	Position      Position    `json:"position"`
	Transaction   Transaction `json:"transaction"`
	CreditsMicros int64       `json:"credits_micros"`
	Replayed      bool        `json:"replayed,omitempty"`
}

type SellInput struct {
	AccountID      string
	EntityID       string
	AmountMicros   int64
	IdempotencyKey string
}

type SellOutcome struct {
	SellResult
	Transaction   Transaction `json:"transaction"`
	CreditsMicros int64       `json:"credits_micros"`
	Replayed      bool        `json:"replayed,omitempty"`
}

type AdvanceReport struct {
	At       time.Time `json:"at"`
	Periods  float64   `json:"periods"`
	Advanced []string  `json:"advanced"`
	Skipped  []string  `json:"skipped"`
	Accounts int       `json:"accounts"`
}
