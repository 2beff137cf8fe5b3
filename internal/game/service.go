package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"stockify/internal/telemetry"
)

// Store persists accounts and market state. LoadAccount returns (nil, nil) for an
// unknown account.
type Store interface {
	LoadAccount(ctx context.Context, accountID string) (*Account, error)
	SaveAccount(ctx context.Context, a Account) error
	LoadMarket(ctx context.Context) ([]Entity, error)
	SaveMarket(ctx context.Context, entities []Entity) error
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error)
}

// MetricProvider fetches the latest upstream metric for each id it knows.
// Unknown ids are left out of the result rather than failing the call.
type MetricProvider interface {
	FetchMetrics(ctx context.Context, ids []string) (map[string]Metric, error)
}

type Settings struct {
	Growth                GrowthModel
	HistoryCapacity       int
	Bucket                Granularity
	Seed                  int64
	StartingCreditsMicros int64
	Now                   func() time.Time
	NewID                 func() string
}

func DefaultSettings() Settings {
	return Settings{
		Growth:                DefaultGrowthModel(),
		HistoryCapacity:       DefaultHistoryCapacity,
		Bucket:                BucketDay,
		StartingCreditsMicros: StartingCreditsMicros,
	}
}

type accountSlot struct {
	mu   sync.Mutex
	acct Account
}

// Service hosts the engine. Each account has its own lock, so invest, sell and the
// per-account part of Advance never interleave for the same account.
type Service struct {
	store    Store
	provider MetricProvider
	log      *slog.Logger
	now      func() time.Time
	ledger   *Ledger
	history  HistoryWindow
	growth   *GrowthSimulator
	starting int64

	advanceMu sync.Mutex

	mu            sync.Mutex
	rand          *mathrand.Rand
	entities      map[string]Entity
	marketVersion uint64

	// saveMu orders market saves; a snapshot older than the last one saved is dropped.
	saveMu       sync.Mutex
	savedVersion uint64

	accountsMu sync.Mutex
	accounts   map[string]*accountSlot
}

func NewService(store Store, provider MetricProvider, logger *slog.Logger, settings Settings) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.Now == nil {
		settings.Now = func() time.Time { return time.Now().UTC() }
	}
	if settings.Seed == 0 {
		settings.Seed = time.Now().UnixNano()
	}
	if settings.StartingCreditsMicros <= 0 {
		settings.StartingCreditsMicros = StartingCreditsMicros
	}
	history := NewHistoryWindow(settings.HistoryCapacity, settings.Bucket)
	ledger := NewLedger()
	if settings.NewID != nil {
		ledger.NewID = settings.NewID
	}
	return &Service{
		store:    store,
		provider: provider,
		log:      logger,
		now:      settings.Now,
		ledger:   ledger,
		history:  history,
		growth:   NewGrowthSimulator(settings.Growth, history),
		starting: settings.StartingCreditsMicros,
		rand:     mathrand.New(mathrand.NewSource(settings.Seed)),
		entities: make(map[string]Entity),
		accounts: make(map[string]*accountSlot),
	}
}

// Restore loads the persisted market into memory.
func (s *Service) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	entities, err := s.store.LoadMarket(ctx)
	if err != nil {
		return fmt.Errorf("%w: market: %v", ErrLoadFailed, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		e.History = s.history.Trim(e.History)
		s.entities[e.ID] = e
	}
	telemetry.TrackedEntities.Set(float64(len(s.entities)))
	return nil
}

// SeedDefaults tracks each id that is not tracked yet. Failures are logged and skipped.
func (s *Service) SeedDefaults(ctx context.Context, ids []string) {
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, err := s.Track(ctx, id); err != nil {
			s.log.Warn("seed entity failed", "entity_id", id, "err", err)
		}
	}
}

// SignIn opens a session for accountID, creating the account with starting credits
// on first sign-in.
func (s *Service) SignIn(ctx context.Context, accountID, username string) (Dashboard, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return Dashboard{}, ErrInvalidAccountID
	}
	slot, err := s.slot(ctx, accountID, true)
	if err != nil {
		return Dashboard{}, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()

	now := s.now()
	next := cloneAccount(slot.acct)
	if next.CreatedAt.IsZero() {
		next.ID = accountID
		next.CreatedAt = now
		next.CreditsMicros = s.starting
		next.NetWorthHistory = s.history.Append(nil, Point{At: now, Value: s.starting})
	}
	if u := strings.TrimSpace(username); u != "" {
		next.Username = u
	}
	if next.Username == "" {
		next.Username = accountID
	}
	next.PreviousLogin = next.LastLogin
	if next.PreviousLogin.IsZero() {
		next.PreviousLogin = now
	}
	next.LastLogin = now

	slot.acct = next
	s.persistAccount(ctx, next)
	return s.dashboardLocked(next), nil
}

func (s *Service) Dashboard(ctx context.Context, accountID string) (Dashboard, error) {
	slot, err := s.slot(ctx, accountID, false)
	if err != nil {
		return Dashboard{}, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return s.dashboardLocked(slot.acct), nil
}

func (s *Service) dashboardLocked(a Account) Dashboard {
	snapshot := s.Snapshot()
	return Dashboard{
		AccountID:            a.ID,
		Username:             a.Username,
		CreditsMicros:        a.CreditsMicros,
		NetWorthMicros:       NetWorth(a, snapshot),
		NetWorthChangeMicros: NetWorthChange(a),
		Holdings:             HoldingsSnapshot(a, snapshot),
		NetWorthHistory:      append(Series(nil), a.NetWorthHistory...),
		PreviousLogin:        a.PreviousLogin,
	}
}

func (s *Service) Holdings(ctx context.Context, accountID string) ([]Holding, error) {
	slot, err := s.slot(ctx, accountID, false)
	if err != nil {
		return nil, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return HoldingsSnapshot(slot.acct, s.Snapshot()), nil
}

func (s *Service) Transactions(ctx context.Context, accountID string) ([]Transaction, error) {
	slot, err := s.slot(ctx, accountID, false)
	if err != nil {
		return nil, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return append([]Transaction(nil), slot.acct.Transactions...), nil
}

func (s *Service) Invest(ctx context.Context, in InvestInput) (InvestResult, error) {
	var out InvestResult
	slot, err := s.slot(ctx, in.AccountID, false)
	if err != nil {
		return out, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if prior, ok, err := replayed(slot.acct, in.IdempotencyKey, TxBuy, in.EntityID); err != nil || ok {
		if ok {
			out.Position, _ = positionByID(slot.acct.Positions, prior.PositionID)
			out.Transaction = prior
			out.CreditsMicros = slot.acct.CreditsMicros
			out.Replayed = true
		}
		return out, err
	}

	now := s.now()
	metric, err := s.tradableMetric(in.EntityID, now)
	if err != nil {
		return out, err
	}
	next, pos, tx, err := s.ledger.Invest(slot.acct, in.EntityID, in.AmountMicros, metric, now)
	if err != nil {
		return out, err
	}
	tx = stampKey(&next, tx, in.IdempotencyKey)
	next.NetWorthHistory = s.history.Append(next.NetWorthHistory, Point{At: now, Value: NetWorth(next, s.Snapshot())})
	slot.acct = next

	telemetry.Trades.WithLabelValues(string(TxBuy)).Inc()
	telemetry.TradeVolumeMicros.WithLabelValues(string(TxBuy)).Add(float64(tx.AmountMicros))
	s.persistAccount(ctx, next)

	out.Position = pos
	out.Transaction = tx
	out.CreditsMicros = next.CreditsMicros
	return out, nil
}

func (s *Service) Sell(ctx context.Context, in SellInput) (SellOutcome, error) {
	var out SellOutcome
	slot, err := s.slot(ctx, in.AccountID, false)
	if err != nil {
		return out, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if prior, ok, err := replayed(slot.acct, in.IdempotencyKey, TxSell, in.EntityID); err != nil || ok {
		if ok {
			out.CreditedMicros = prior.AmountMicros
			out.Transaction = prior
			out.CreditsMicros = slot.acct.CreditsMicros
			out.Replayed = true
		}
		return out, err
	}

	now := s.now()
	metric, err := s.tradableMetric(in.EntityID, now)
	if err != nil {
		return out, err
	}
	next, res, tx, err := s.ledger.Sell(slot.acct, in.EntityID, in.AmountMicros, metric, now)
	if err != nil {
		return out, err
	}
	tx = stampKey(&next, tx, in.IdempotencyKey)
	next.NetWorthHistory = s.history.Append(next.NetWorthHistory, Point{At: now, Value: NetWorth(next, s.Snapshot())})
	slot.acct = next

	telemetry.Trades.WithLabelValues(string(TxSell)).Inc()
	telemetry.TradeVolumeMicros.WithLabelValues(string(TxSell)).Add(float64(tx.AmountMicros))
	s.persistAccount(ctx, next)

	out.SellResult = res
	out.Transaction = tx
	out.CreditsMicros = next.CreditsMicros
	return out, nil
}

// replayed looks up an earlier trade submitted with key. A key reused for another
// kind of trade or another entity is rejected.
func replayed(acct Account, key string, kind TxKind, entityID string) (Transaction, bool, error) {
	prior, ok := TransactionByKey(acct.Transactions, strings.TrimSpace(key))
	if !ok {
		return Transaction{}, false, nil
	}
	if prior.Kind != kind || prior.EntityID != strings.TrimSpace(entityID) {
		return Transaction{}, false, fmt.Errorf("%w: %s", ErrDuplicateIdempotency, key)
	}
	return prior, true, nil
}

// stampKey records key on the transaction the ledger just appended.
func stampKey(acct *Account, tx Transaction, key string) Transaction {
	key = strings.TrimSpace(key)
	if key == "" || len(acct.Transactions) == 0 {
		return tx
	}
	tx.IdempotencyKey = key
	acct.Transactions[len(acct.Transactions)-1] = tx
	return tx
}

func positionByID(positions []Position, id string) (Position, bool) {
	for _, p := range positions {
		if p.ID == id {
			return p, true
		}
	}
	return Position{}, false
}

func (s *Service) tradableMetric(entityID string, at time.Time) (int64, error) {
	entityID = strings.TrimSpace(entityID)
	if err := ValidateEntityID(entityID); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[entityID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	if err := s.growth.Available(e, at); err != nil {
		return 0, err
	}
	return e.Metric, nil
}

// Advance runs one tick of elapsedPeriods at time at. The upstream fetch happens
// first and is the only blocking step; if it fails nothing changes. Entities whose
// metric is unavailable are skipped for this tick only. The new market is committed
// as a whole, then every loaded account records its net worth under its own lock.
func (s *Service) Advance(ctx context.Context, at time.Time, elapsedPeriods float64) (AdvanceReport, error) {
	s.advanceMu.Lock()
	defer s.advanceMu.Unlock()

	report := AdvanceReport{At: at, Periods: elapsedPeriods, Advanced: []string{}, Skipped: []string{}}
	if elapsedPeriods < 0 {
		return report, fmt.Errorf("elapsed periods must be >= 0")
	}

	ids := s.EntityIDs()
	var fetched map[string]Metric
	if s.provider != nil && len(ids) > 0 {
		var err error
		fetched, err = s.provider.FetchMetrics(ctx, ids)
		if err != nil {
			telemetry.TickFailures.Inc()
			return report, fmt.Errorf("%w: %w", ErrFetchFailed, err)
		}
	}
	if err := ctx.Err(); err != nil {
		telemetry.TickFailures.Inc()
		return report, err
	}

	s.mu.Lock()
	next := make(map[string]Entity, len(s.entities))
	for _, id := range ids {
		e, ok := s.entities[id]
		if !ok {
			continue
		}
		if m, ok := fetched[id]; ok {
			e = applyMetric(e, m, at)
		}
		ticked, _, err := s.growth.Tick(e, at, elapsedPeriods, s.rand)
		if err != nil {
			s.log.Warn("entity tick skipped", "entity_id", id, "err", err)
			telemetry.EntitiesSkipped.Inc()
			report.Skipped = append(report.Skipped, id)
			next[id] = s.entities[id]
			continue
		}
		next[id] = ticked
		report.Advanced = append(report.Advanced, id)
	}
	for id, e := range s.entities {
		if _, ok := next[id]; !ok {
			next[id] = e
		}
	}
	s.entities = next
	market, version := s.commitLocked()
	s.mu.Unlock()

	telemetry.Ticks.Inc()
	s.persistMarket(ctx, market, version)

	snapshot := s.Snapshot()
	for _, slot := range s.loadedSlots() {
		slot.mu.Lock()
		if slot.acct.ID == "" {
			slot.mu.Unlock()
			continue
		}
		acct := cloneAccount(slot.acct)
		acct.NetWorthHistory = s.history.Append(acct.NetWorthHistory, Point{At: at, Value: NetWorth(acct, snapshot)})
		slot.acct = acct
		s.persistAccount(ctx, acct)
		slot.mu.Unlock()
		report.Accounts++
	}
	return report, nil
}

// applyMetric folds an upstream observation into e. The metric only moves up.
func applyMetric(e Entity, m Metric, at time.Time) Entity {
	if m.Value > e.Metric {
		e.Metric = m.Value
	}
	e.Popularity = m.Popularity
	if m.Name != "" {
		e.Name = m.Name
	}
	if m.ImageURL != "" {
		e.ImageURL = m.ImageURL
	}
	e.FetchedAt = at
	return e
}

// Track adds entityID to the market using the provider's current metric.
func (s *Service) Track(ctx context.Context, entityID string) (EntityDetail, error) {
	entityID = strings.TrimSpace(entityID)
	if err := ValidateEntityID(entityID); err != nil {
		return EntityDetail{}, err
	}
	if d, err := s.Entity(entityID); err == nil {
		return d, nil
	}
	if s.provider == nil {
		return EntityDetail{}, fmt.Errorf("%w: no metric provider configured", ErrMetricUnavailable)
	}
	fetched, err := s.provider.FetchMetrics(ctx, []string{entityID})
	if err != nil {
		return EntityDetail{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	m, ok := fetched[entityID]
	if !ok {
		return EntityDetail{}, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}

	now := s.now()
	e := applyMetric(Entity{ID: entityID, Name: entityID}, m, now)
	e.History = s.history.Append(nil, Point{At: now, Value: e.Metric})

	s.mu.Lock()
	if existing, ok := s.entities[entityID]; ok {
		s.mu.Unlock()
		return detailOf(existing), nil
	}
	s.entities[entityID] = e
	market, version := s.commitLocked()
	s.mu.Unlock()

	telemetry.TrackedEntities.Set(float64(len(market)))
	s.persistMarket(ctx, market, version)
	return detailOf(e), nil
}

func (s *Service) Entity(entityID string) (EntityDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[strings.TrimSpace(entityID)]
	if !ok {
		return EntityDetail{}, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	return detailOf(e), nil
}

func (s *Service) Entities() []EntityView {
	s.mu.Lock()
	defer s.mu.Unlock()
	market := s.marketLocked()
	out := make([]EntityView, 0, len(market))
	for _, e := range market {
		out = append(out, detailOf(e).EntityView)
	}
	return out
}

func (s *Service) EntityIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns the current metric of every tracked entity.
func (s *Service) Snapshot() MetricSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(MetricSnapshot, len(s.entities))
	for id, e := range s.entities {
		out[id] = e.Metric
	}
	return out
}

func (s *Service) MarketMovers() Movers {
	s.mu.Lock()
	market := s.marketLocked()
	s.mu.Unlock()
	return MarketMovers(market)
}

// MostTraded ranks activity from every loaded account since the caller's previous login.
func (s *Service) MostTraded(ctx context.Context, accountID string) ([]TradedEntity, error) {
	slot, err := s.slot(ctx, accountID, false)
	if err != nil {
		return nil, err
	}
	slot.mu.Lock()
	since := slot.acct.PreviousLogin
	slot.mu.Unlock()

	var all []Transaction
	for _, other := range s.loadedSlots() {
		other.mu.Lock()
		all = append(all, TransactionsSince(other.acct.Transactions, since)...)
		other.mu.Unlock()
	}
	return MostTraded(all, since), nil
}

// Leaderboard merges persisted standings with the live net worth of loaded accounts.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	byID := make(map[string]LeaderboardRow)
	if s.store != nil {
		rows, err := s.store.Leaderboard(ctx, limit)
		if err != nil {
			s.log.Warn("leaderboard load failed", "err", err)
		}
		for _, r := range rows {
			byID[r.AccountID] = r
		}
	}
	snapshot := s.Snapshot()
	for _, slot := range s.loadedSlots() {
		slot.mu.Lock()
		if slot.acct.ID != "" {
			byID[slot.acct.ID] = LeaderboardRow{
				AccountID:      slot.acct.ID,
				Username:       slot.acct.Username,
				NetWorthMicros: NetWorth(slot.acct, snapshot),
			}
		}
		slot.mu.Unlock()
	}
	rows := make([]LeaderboardRow, 0, len(byID))
	for _, r := range byID {
		rows = append(rows, r)
	}
	return Leaderboard(rows, limit), nil
}

// slot returns the cached account, loading it from the store on first use.
// With create set, an unknown account gets an empty slot for SignIn to fill.
func (s *Service) slot(ctx context.Context, accountID string, create bool) (*accountSlot, error) {
	accountID = strings.TrimSpace(accountID)
	s.accountsMu.Lock()
	slot, ok := s.accounts[accountID]
	s.accountsMu.Unlock()
	if ok {
		return slot, nil
	}

	var loaded *Account
	if s.store != nil {
		a, err := s.store.LoadAccount(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("%w: account %s: %v", ErrLoadFailed, accountID, err)
		}
		loaded = a
	}
	if loaded == nil && !create {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	slot = &accountSlot{}
	if loaded != nil {
		slot.acct = *loaded
		slot.acct.NetWorthHistory = s.history.Trim(slot.acct.NetWorthHistory)
	}

	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()
	if existing, ok := s.accounts[accountID]; ok {
		return existing, nil
	}
	s.accounts[accountID] = slot
	telemetry.ActiveAccounts.Set(float64(len(s.accounts)))
	return slot, nil
}

// SignOut drops the account from memory after a final save. Nothing is in flight for
// it once its lock is held.
func (s *Service) SignOut(ctx context.Context, accountID string) {
	s.accountsMu.Lock()
	slot, ok := s.accounts[accountID]
	if ok {
		delete(s.accounts, accountID)
	}
	telemetry.ActiveAccounts.Set(float64(len(s.accounts)))
	s.accountsMu.Unlock()
	if !ok {
		return
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if !slot.acct.CreatedAt.IsZero() {
		s.persistAccount(ctx, slot.acct)
	}
}

func (s *Service) loadedSlots() []*accountSlot {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()
	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*accountSlot, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.accounts[id])
	}
	return out
}

func (s *Service) marketLocked() []Entity {
	out := make([]Entity, 0, len(s.entities))
	for _, e := range s.entities {
		e.History = append(Series(nil), e.History...)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Service) persistAccount(ctx context.Context, a Account) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveAccount(ctx, a); err != nil {
		telemetry.PersistFailures.WithLabelValues("account").Inc()
		s.log.Warn("persist account failed", "account_id", a.ID, "err", errors.Join(ErrSaveFailed, err))
	}
}

// commitLocked snapshots the market and stamps it with a new version. Callers hold s.mu.
func (s *Service) commitLocked() ([]Entity, uint64) {
	s.marketVersion++
	return s.marketLocked(), s.marketVersion
}

func (s *Service) persistMarket(ctx context.Context, market []Entity, version uint64) {
	if s.store == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if version <= s.savedVersion {
		return
	}
	s.savedVersion = version
	if err := s.store.SaveMarket(ctx, market); err != nil {
		telemetry.PersistFailures.WithLabelValues("market").Inc()
		s.log.Warn("persist market failed", "entities", len(market), "err", errors.Join(ErrSaveFailed, err))
	}
}

func detailOf(e Entity) EntityDetail {
	return EntityDetail{
		EntityView: EntityView{
			ID:         e.ID,
			Name:       e.Name,
			ImageURL:   e.ImageURL,
			Metric:     e.Metric,
			Popularity: e.Popularity,
			FetchedAt:  e.FetchedAt,
		},
		Series: append(Series(nil), e.History...),
	}
}
