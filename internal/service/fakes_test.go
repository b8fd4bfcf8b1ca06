package service_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketescrow/internal/domain"
	"github.com/alanyoungcy/marketescrow/internal/ledger"
)

var (
	tokenAddr    = common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	treasuryAddr = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	creatorAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	aliceAddr    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	bobAddr      = common.HexToAddress("0x3333333333333333333333333333333333333333")
	carolAddr    = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func txHash(n int) string { return fmt.Sprintf("0x%064x", n) }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ── ledger ──

type fakeLedger struct {
	mu        sync.Mutex
	txs       map[string]ledger.Transaction
	receipts  map[string]ledger.Receipt
	head      uint64
	txErr     error
	headErr   error
	headCalls int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		txs:      make(map[string]ledger.Transaction),
		receipts: make(map[string]ledger.Receipt),
		head:     1000,
	}
}

// addTransfer registers a mined, successful token transfer of raw base units.
func (l *fakeLedger) addTransfer(hash string, from common.Address, raw int64, block uint64) {
	input := transferCall(treasuryAddr, big.NewInt(raw))
	to := tokenAddr
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs[hash] = ledger.Transaction{
		Hash:        common.HexToHash(hash),
		From:        from,
		To:          &to,
		Input:       input,
		BlockNumber: &block,
	}
	l.receipts[hash] = ledger.Receipt{
		TxHash:      common.HexToHash(hash),
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: block,
		Logs:        []*types.Log{transferLog(from, raw)},
	}
}

// transferCall builds ERC-20 transfer(address,uint256) call data.
func transferCall(to common.Address, amount *big.Int) []byte {
	input := common.FromHex("0xa9059cbb")
	input = append(input, common.LeftPadBytes(to.Bytes(), 32)...)
	return append(input, common.LeftPadBytes(amount.Bytes(), 32)...)
}

func transferLog(from common.Address, raw int64) *types.Log {
	topic := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	return &types.Log{
		Address: tokenAddr,
		Topics: []common.Hash{
			topic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(treasuryAddr.Bytes()),
		},
		Data: common.LeftPadBytes(big.NewInt(raw).Bytes(), 32),
	}
}

func (l *fakeLedger) setReceipt(hash string, r ledger.Receipt) {
	l.mu.Lock()
	l.receipts[hash] = r
	l.mu.Unlock()
}

func (l *fakeLedger) dropReceipt(hash string) {
	l.mu.Lock()
	delete(l.receipts, hash)
	l.mu.Unlock()
}

func (l *fakeLedger) setHead(h uint64) {
	l.mu.Lock()
	l.head = h
	l.mu.Unlock()
}

func (l *fakeLedger) TransactionByHash(_ context.Context, hash string) (ledger.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.txErr != nil {
		return ledger.Transaction{}, l.txErr
	}
	tx, ok := l.txs[hash]
	if !ok {
		return ledger.Transaction{}, fmt.Errorf("ledger: transaction %s: %w", hash, ledger.ErrNotFound)
	}
	return tx, nil
}

func (l *fakeLedger) TransactionReceipt(_ context.Context, hash string) (ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.receipts[hash]
	if !ok {
		return ledger.Receipt{}, ledger.ErrNotFound
	}
	return r, nil
}

func (l *fakeLedger) BlockNumber(context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.headCalls++
	return l.head, l.headErr
}

// ── store ──

type fakeStore struct {
	mu          sync.Mutex
	markets     map[string]domain.Market
	bets        map[string][]domain.Bet
	payments    map[string]domain.Payment
	payouts     map[string][]domain.Payout
	earnings    map[string]domain.CreatorEarning
	forfeitures []domain.TreasuryForfeiture
	txHashes    map[string]bool
	failNext    error
	// notified reports whether a notification key exists in the outbox.
	notified func(key string) bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		markets:  make(map[string]domain.Market),
		bets:     make(map[string][]domain.Bet),
		payments: make(map[string]domain.Payment),
		payouts:  make(map[string][]domain.Payout),
		earnings: make(map[string]domain.CreatorEarning),
		txHashes: make(map[string]bool),
	}
}

func (s *fakeStore) put(m domain.Market) {
	s.mu.Lock()
	s.markets[m.ID] = m
	s.mu.Unlock()
}

func (s *fakeStore) market(id string) domain.Market {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markets[id]
}

func (s *fakeStore) payoutsFor(id string) []domain.Payout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Payout(nil), s.payouts[id]...)
}

func (s *fakeStore) forfeituresFor(id string) []domain.TreasuryForfeiture {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TreasuryForfeiture
	for _, f := range s.forfeitures {
		if f.SourceID == id {
			out = append(out, f)
		}
	}
	return out
}

func (s *fakeStore) earningFor(id string) (domain.CreatorEarning, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.earnings[id]
	return e, ok
}

func (s *fakeStore) CreateMarket(_ context.Context, m domain.Market, deposit domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	if s.txHashes[deposit.TxHash] {
		return domain.ErrDuplicateTransaction
	}
	s.txHashes[deposit.TxHash] = true
	s.markets[m.ID] = m
	s.payments[deposit.ID] = deposit
	return nil
}

func (s *fakeStore) GetMarket(_ context.Context, id string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	return m, nil
}

func (s *fakeStore) ListMarkets(_ context.Context, status domain.MarketStatus, _ domain.ListOpts) ([]domain.Market, error) {
	return s.filter(func(m domain.Market) bool { return status == "" || m.Status == status }, 0), nil
}

func (s *fakeStore) PlaceBet(_ context.Context, bet domain.Bet, payment domain.Payment, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[bet.MarketID]
	if !ok {
		return domain.ErrMarketNotFound
	}
	if !m.AcceptsBets(now) {
		return domain.ErrMarketNotActive
	}
	for _, b := range s.bets[bet.MarketID] {
		if b.UserID == bet.UserID {
			return domain.ErrDuplicateBet
		}
	}
	if s.txHashes[payment.TxHash] {
		return domain.ErrDuplicateTransaction
	}
	s.txHashes[payment.TxHash] = true
	s.payments[payment.ID] = payment
	s.bets[bet.MarketID] = append(s.bets[bet.MarketID], bet)
	return nil
}

func (s *fakeStore) ListBets(_ context.Context, marketID string) ([]domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Bet(nil), s.bets[marketID]...), nil
}

func (s *fakeStore) ListPayouts(_ context.Context, marketID string) ([]domain.Payout, error) {
	return s.payoutsFor(marketID), nil
}

func (s *fakeStore) TxHashUsed(_ context.Context, txHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txHashes[txHash], nil
}

func (s *fakeStore) filter(keep func(domain.Market) bool, limit int) []domain.Market {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CloseDate.Before(out[j].CloseDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *fakeStore) CloseExpired(_ context.Context, now time.Time, limit int) ([]domain.Market, error) {
	due := s.filter(func(m domain.Market) bool {
		return m.Status == domain.MarketActive && !m.CloseDate.After(now)
	}, limit)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range due {
		due[i].Status = domain.MarketClosed
		closedAt := now
		due[i].ClosedAt = &closedAt
		s.markets[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *fakeStore) ListClosedInWindow(_ context.Context, from, to time.Time, keyPrefix string, limit int) ([]domain.Market, error) {
	return s.filter(func(m domain.Market) bool {
		if s.notified != nil && s.notified(keyPrefix+m.ID) {
			return false
		}
		return m.Status == domain.MarketClosed && m.CloseDate.After(from) && !m.CloseDate.After(to)
	}, limit), nil
}

func (s *fakeStore) ListClosedBefore(_ context.Context, before time.Time, limit int) ([]domain.Market, error) {
	return s.filter(func(m domain.Market) bool {
		return m.Status == domain.MarketClosed && m.CloseDate.Before(before)
	}, limit), nil
}

func (s *fakeStore) ListActiveBefore(_ context.Context, before time.Time, limit int) ([]domain.Market, error) {
	return s.filter(func(m domain.Market) bool {
		return m.Status == domain.MarketActive && m.CloseDate.Before(before)
	}, limit), nil
}

// FinalizeMarket holds the store lock for the whole read-compute-write, the
// in-memory equivalent of SELECT ... FOR UPDATE plus the status CAS.
func (s *fakeStore) FinalizeMarket(_ context.Context, marketID string, settle domain.SettleFunc) (domain.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[marketID]
	if !ok {
		return domain.SettlementRecord{}, domain.ErrMarketNotFound
	}
	rec, err := settle(m, append([]domain.Bet(nil), s.bets[marketID]...))
	if err != nil {
		return domain.SettlementRecord{}, err
	}
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return domain.SettlementRecord{}, err
	}
	if m.Status != domain.MarketClosed {
		return domain.SettlementRecord{}, domain.ErrAlreadyFinalized
	}

	winner := rec.WinningOption
	finalizedAt := rec.FinalizedAt
	m.Status = domain.MarketFinalized
	m.WinningOption = &winner
	m.FinalizedAt = &finalizedAt
	m.CreatorCommission = rec.Commission
	m.DepositRefunded = rec.DepositRefund
	m.RespondedWithinDeadline = rec.WithinDeadline
	s.markets[marketID] = m
	s.payouts[marketID] = append(s.payouts[marketID], rec.Payouts...)
	if rec.Earning != nil {
		s.earnings[marketID] = *rec.Earning
	}
	s.forfeitures = append(s.forfeitures, rec.Forfeitures...)
	return rec, nil
}

func (s *fakeStore) EscalateMarket(_ context.Context, marketID string, now time.Time) (domain.Market, domain.TreasuryForfeiture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[marketID]
	if !ok {
		return domain.Market{}, domain.TreasuryForfeiture{}, domain.ErrMarketNotFound
	}
	if m.Status != domain.MarketClosed {
		return domain.Market{}, domain.TreasuryForfeiture{}, domain.ErrMarketNotClosed
	}
	exceeded := now
	m.Status = domain.MarketAwaitingAdmin
	m.AdminReviewRequired = true
	m.DeadlineExceededAt = &exceeded
	m.RespondedWithinDeadline = false
	m.DepositRefunded = decimal.Zero
	s.markets[marketID] = m

	f := domain.TreasuryForfeiture{
		ID:         "forfeit-" + marketID,
		SourceType: domain.ForfeitLateSettlement,
		SourceID:   marketID,
		Amount:     m.CreatorDepositAmount,
		Reason:     "deadline exceeded",
		CreatedAt:  now,
	}
	s.forfeitures = append(s.forfeitures, f)
	return m, f, nil
}

// ── payments ──

type fakePayments struct {
	mu       sync.Mutex
	payments map[string]domain.Payment
}

func newFakePayments(ps ...domain.Payment) *fakePayments {
	f := &fakePayments{payments: make(map[string]domain.Payment)}
	for _, p := range ps {
		f.payments[p.ID] = p
	}
	return f
}

func (f *fakePayments) get(id string) domain.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payments[id]
}

func (f *fakePayments) ListPending(_ context.Context, limit int) ([]domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Payment
	for _, p := range f.payments {
		if p.Status == domain.PaymentPending {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakePayments) UpdateConfirmations(_ context.Context, id string, count int, block uint64, confirmed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.payments[id]
	if p.Status != domain.PaymentPending {
		return nil
	}
	p.ConfirmationCount = count
	p.BlockNumber = &block
	if confirmed {
		p.Confirmed = true
		p.Status = domain.PaymentConfirmed
	}
	f.payments[id] = p
	return nil
}

func (f *fakePayments) MarkFailed(_ context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.payments[id]
	if p.Status != domain.PaymentPending {
		return nil
	}
	p.Status = domain.PaymentFailed
	p.FailureReason = reason
	f.payments[id] = p
	return nil
}

// ── collaborators ──

type fakeSink struct {
	mu   sync.Mutex
	keys map[string]bool
	sent []domain.Notification
	err  error
}

func newFakeSink() *fakeSink { return &fakeSink{keys: make(map[string]bool)} }

func (s *fakeSink) Enqueue(_ context.Context, n domain.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if n.IdempotencyKey != "" {
		if s.keys[n.IdempotencyKey] {
			return false, nil
		}
		s.keys[n.IdempotencyKey] = true
	}
	s.sent = append(s.sent, n)
	return true, nil
}

func (s *fakeSink) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key]
}

func (s *fakeSink) ofType(t domain.NotificationType) []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for _, n := range s.sent {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

type fakePolicy struct{ denied map[string]bool }

func (p fakePolicy) CanCreateMarket(_ context.Context, userID string) (bool, error) {
	return !p.denied[userID], nil
}

type fakeAdmins []string

func (a fakeAdmins) AdminIDs(context.Context) ([]string, error) { return a, nil }

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func newFakeLocks() *fakeLocks { return &fakeLocks{held: make(map[string]bool)} }

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

type fakeBus struct {
	mu     sync.Mutex
	events map[string][][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.events == nil {
		b.events = make(map[string][][]byte)
	}
	b.events[channel] = append(b.events[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *fakeAudit) Log(_ context.Context, event, marketID string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{
		ID:       int64(len(a.entries) + 1),
		Event:    event,
		MarketID: marketID,
		Detail:   detail,
	})
	return nil
}

func (a *fakeAudit) ListByMarket(_ context.Context, marketID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range a.entries {
		if e.MarketID == marketID {
			out = append(out, e)
		}
	}
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}
