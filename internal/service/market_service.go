package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketescrow/internal/domain"
	"github.com/alanyoungcy/marketescrow/internal/metrics"
	"github.com/alanyoungcy/marketescrow/internal/settlement"
)

const maxTitleLength = 200

// MarketRules is the pricing and settlement configuration applied to every
// market.
type MarketRules struct {
	MinEntryPrice    decimal.Decimal
	CreatorDeposit   decimal.Decimal
	CommissionRate   decimal.Decimal
	MaxDurationHours int
	SettlementWindow time.Duration
	TokenContract    string
	EscrowWallet     string
	TokenDecimals    int32
	MinConfirmations int
}

// Verifier validates a claimed on-chain payment.
type Verifier interface {
	Verify(ctx context.Context, claim DepositClaim) (VerifiedDeposit, error)
}

// MarketServiceDeps holds the collaborators of MarketService. Cache, Bus,
// Audit and Archiver are optional.
type MarketServiceDeps struct {
	Store    domain.MarketStore
	Verifier Verifier
	Policy   domain.MembershipPolicy
	Admins   domain.AdminDirectory
	Sink     domain.NotificationSink
	Cache    domain.MarketCache
	Bus      domain.SignalBus
	Audit    domain.AuditStore
	Archiver domain.SettlementArchiver
	Metrics  *metrics.Metrics
	Clock    func() time.Time
}

// MarketService owns the market lifecycle: create, bet, close, declare
// winner and escalate.
type MarketService struct {
	rules    MarketRules
	store    domain.MarketStore
	verifier Verifier
	policy   domain.MembershipPolicy
	admins   domain.AdminDirectory
	cache    domain.MarketCache
	bus      domain.SignalBus
	audit    domain.AuditStore
	archiver domain.SettlementArchiver
	metrics  *metrics.Metrics
	outbox   outbox
	now      func() time.Time
	logger   *slog.Logger
}

// NewMarketService creates a MarketService.
func NewMarketService(rules MarketRules, deps MarketServiceDeps, logger *slog.Logger) *MarketService {
	if rules.SettlementWindow <= 0 {
		rules.SettlementWindow = settlement.DefaultWindow
	}
	if rules.TokenDecimals <= 0 {
		rules.TokenDecimals = 6
	}
	now := deps.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger = logger.With(slog.String("component", "market_service"))
	return &MarketService{
		rules:    rules,
		store:    deps.Store,
		verifier: deps.Verifier,
		policy:   deps.Policy,
		admins:   deps.Admins,
		cache:    deps.Cache,
		bus:      deps.Bus,
		audit:    deps.Audit,
		archiver: deps.Archiver,
		metrics:  deps.Metrics,
		outbox:   outbox{sink: deps.Sink, metrics: deps.Metrics, logger: logger},
		now:      now,
		logger:   logger,
	}
}

// Rules returns the configured market rules.
func (s *MarketService) Rules() MarketRules { return s.rules }

// CreateMarketInput is a validated-on-entry request to open a market.
type CreateMarketInput struct {
	CreatorID     string
	Title         string
	Description   string
	OptionA       string
	OptionB       string
	EntryPrice    decimal.Decimal
	DurationHours int
	Wallet        string
	TxHash        string
}

func (s *MarketService) validateCreate(in CreateMarketInput) error {
	if in.CreatorID == "" {
		return domain.ErrUnauthenticated
	}
	title := strings.TrimSpace(in.Title)
	if title == "" || utf8.RuneCountInString(title) > maxTitleLength {
		return domain.ErrInvalidInput.With("title must be 1-%d characters", maxTitleLength).WithDetail("field", "title")
	}
	a, b := strings.TrimSpace(in.OptionA), strings.TrimSpace(in.OptionB)
	if a == "" || b == "" {
		return domain.ErrInvalidInput.With("both option labels are required").WithDetail("field", "options")
	}
	if strings.EqualFold(a, b) {
		return domain.ErrInvalidInput.With("option labels must differ").WithDetail("field", "options")
	}
	if in.EntryPrice.LessThan(s.rules.MinEntryPrice) {
		return domain.ErrEntryTooLow.
			With("entry price %s below minimum %s", in.EntryPrice.String(), s.rules.MinEntryPrice.String()).
			WithDetail("required", s.rules.MinEntryPrice.String()).
			WithDetail("actual", in.EntryPrice.String())
	}
	if in.DurationHours < 1 || (s.rules.MaxDurationHours > 0 && in.DurationHours > s.rules.MaxDurationHours) {
		return domain.ErrInvalidInput.
			With("duration must be between 1 and %d hours", s.rules.MaxDurationHours).
			WithDetail("field", "duration_hours")
	}
	if !common.IsHexAddress(in.Wallet) {
		return domain.ErrInvalidWallet
	}
	if !txHashPattern.MatchString(in.TxHash) {
		return domain.ErrInvalidTxHash
	}
	return nil
}

// CreateMarket verifies the creator deposit and opens an active market that
// closes DurationHours from now.
func (s *MarketService) CreateMarket(ctx context.Context, in CreateMarketInput) (domain.Market, error) {
	if err := s.validateCreate(in); err != nil {
		return domain.Market{}, err
	}
	in.TxHash = strings.ToLower(in.TxHash)

	if s.policy != nil {
		ok, err := s.policy.CanCreateMarket(ctx, in.CreatorID)
		if err != nil {
			return domain.Market{}, domain.ErrStoreFailure.Wrap(err)
		}
		if !ok {
			return domain.Market{}, domain.ErrMembershipNeeded
		}
	}

	verified, err := s.verifier.Verify(ctx, DepositClaim{
		TxHash:         in.TxHash,
		Wallet:         in.Wallet,
		TokenContract:  s.rules.TokenContract,
		Recipient:      s.rules.EscrowWallet,
		RequiredAmount: s.rules.CreatorDeposit,
		Purpose:        domain.PurposeCreatorDeposit,
	})
	if err != nil {
		return domain.Market{}, err
	}

	now := s.now()
	m := domain.Market{
		ID:                   uuid.NewString(),
		CreatorID:            in.CreatorID,
		Title:                strings.TrimSpace(in.Title),
		Description:          strings.TrimSpace(in.Description),
		OptionALabel:         strings.TrimSpace(in.OptionA),
		OptionBLabel:         strings.TrimSpace(in.OptionB),
		EntryPrice:           in.EntryPrice,
		CloseDate:            now.Add(time.Duration(in.DurationHours) * time.Hour),
		Status:               domain.MarketActive,
		CreatorDepositAmount: s.rules.CreatorDeposit,
		CreatorDepositTxHash: in.TxHash,
		CreatorDepositWallet: verified.Wallet,
		CreatorCommission:    decimal.Zero,
		DepositRefunded:      decimal.Zero,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	deposit := s.payment(in.CreatorID, m.ID, domain.PurposeCreatorDeposit, verified, now)

	if err := s.store.CreateMarket(ctx, m, deposit); err != nil {
		return domain.Market{}, storeError(err)
	}

	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market_id", m.ID),
		slog.String("creator_id", m.CreatorID),
		slog.Time("close_date", m.CloseDate),
	)
	s.transitioned(ctx, m, "market_created", map[string]any{
		"tx_hash":       in.TxHash,
		"deposit":       m.CreatorDepositAmount.String(),
		"confirmations": verified.Confirmations,
	})
	return m, nil
}

// PlaceBetInput is a request to stake on one option. A zero Amount means
// the market entry price.
type PlaceBetInput struct {
	MarketID string
	UserID   string
	Option   domain.Option
	Amount   decimal.Decimal
	Wallet   string
	TxHash   string
}

// PlaceBet verifies the bet payment and records one bet for the user.
func (s *MarketService) PlaceBet(ctx context.Context, in PlaceBetInput) (domain.Bet, error) {
	if in.UserID == "" {
		return domain.Bet{}, domain.ErrUnauthenticated
	}
	if !in.Option.Valid() {
		return domain.Bet{}, domain.ErrInvalidOption
	}
	if !common.IsHexAddress(in.Wallet) {
		return domain.Bet{}, domain.ErrInvalidWallet
	}
	if !txHashPattern.MatchString(in.TxHash) {
		return domain.Bet{}, domain.ErrInvalidTxHash
	}
	if in.Amount.IsNegative() {
		return domain.Bet{}, domain.ErrInvalidInput.With("amount must be positive").WithDetail("field", "amount")
	}
	if !in.Amount.Equal(in.Amount.Truncate(s.rules.TokenDecimals)) {
		return domain.Bet{}, domain.ErrInvalidInput.
			With("amount has more than %d decimal places", s.rules.TokenDecimals).
			WithDetail("field", "amount")
	}
	in.TxHash = strings.ToLower(in.TxHash)

	m, err := s.store.GetMarket(ctx, in.MarketID)
	if err != nil {
		return domain.Bet{}, storeError(err)
	}
	if !m.AcceptsBets(s.now()) {
		return domain.Bet{}, domain.ErrMarketNotActive.WithDetail("status", string(m.Status))
	}

	amount := in.Amount
	if amount.IsZero() {
		amount = m.EntryPrice
	}
	if amount.LessThan(m.EntryPrice) {
		return domain.Bet{}, domain.ErrEntryTooLow.
			With("bet amount %s below entry price %s", amount.String(), m.EntryPrice.String()).
			WithDetail("required", m.EntryPrice.String()).
			WithDetail("actual", amount.String())
	}

	verified, err := s.verifier.Verify(ctx, DepositClaim{
		TxHash:         in.TxHash,
		Wallet:         in.Wallet,
		TokenContract:  s.rules.TokenContract,
		Recipient:      s.rules.EscrowWallet,
		RequiredAmount: amount,
		Purpose:        domain.PurposeBet,
	})
	if err != nil {
		return domain.Bet{}, err
	}

	now := s.now()
	payment := s.payment(in.UserID, m.ID, domain.PurposeBet, verified, now)
	bet := domain.Bet{
		ID:             uuid.NewString(),
		MarketID:       m.ID,
		UserID:         in.UserID,
		WalletAddress:  verified.Wallet,
		SelectedOption: in.Option,
		Amount:         amount,
		PaymentID:      payment.ID,
		CreatedAt:      now,
	}
	if err := s.store.PlaceBet(ctx, bet, payment, now); err != nil {
		return domain.Bet{}, storeError(err)
	}

	s.logger.InfoContext(ctx, "market_service: bet placed",
		slog.String("market_id", m.ID),
		slog.String("user_id", in.UserID),
		slog.String("option", string(in.Option)),
		slog.String("amount", amount.String()),
	)
	s.outbox.enqueue(ctx, domain.Notification{
		UserID:   in.UserID,
		MarketID: m.ID,
		Type:     domain.NotifyBetPlaced,
		Title:    "Bet placed",
		Message:  fmt.Sprintf("Your %s bet on %q was recorded.", amount.String(), m.Title),
		Data:     map[string]string{"option": string(in.Option), "amount": amount.String()},
	}, now)
	s.transitioned(ctx, m, "bet_placed", map[string]any{
		"bet_id":  bet.ID,
		"user_id": in.UserID,
		"option":  string(in.Option),
		"amount":  amount.String(),
	})
	return bet, nil
}

// DeclareWinner settles a closed market for its creator. Exactly one call per
// market succeeds; later calls fail with ErrAlreadyFinalized.
func (s *MarketService) DeclareWinner(ctx context.Context, marketID, callerID string, winner domain.Option) (domain.SettlementRecord, error) {
	if callerID == "" {
		return domain.SettlementRecord{}, domain.ErrUnauthenticated
	}
	if !winner.Valid() {
		return domain.SettlementRecord{}, domain.ErrInvalidOption
	}

	now := s.now()
	var res settlement.Result
	settle := func(m domain.Market, bets []domain.Bet) (domain.SettlementRecord, error) {
		if m.CreatorID != callerID {
			return domain.SettlementRecord{}, domain.ErrNotCreator
		}
		switch m.Status {
		case domain.MarketClosed:
		case domain.MarketFinalized:
			return domain.SettlementRecord{}, domain.ErrAlreadyFinalized
		default:
			return domain.SettlementRecord{}, domain.ErrMarketNotClosed.WithDetail("status", string(m.Status))
		}

		within := settlement.WithinDeadline(m.CloseDate, now, s.rules.SettlementWindow)
		var err error
		res, err = settlement.Calculate(settlement.Input{
			Bets:           bets,
			WinningOption:  winner,
			CreatorDeposit: m.CreatorDepositAmount,
			WithinDeadline: within,
			CommissionRate: s.rules.CommissionRate,
			Scale:          s.rules.TokenDecimals,
		})
		if err != nil {
			return domain.SettlementRecord{}, err
		}
		return buildRecord(m, winner, now, within, res), nil
	}

	rec, err := s.store.FinalizeMarket(ctx, marketID, settle)
	if err != nil {
		return domain.SettlementRecord{}, storeError(err)
	}

	outcome := "on_time"
	switch {
	case !rec.WithinDeadline:
		outcome = "late"
	case len(rec.Payouts) == 0:
		outcome = "no_winner"
	}
	s.metrics.Settled(outcome)
	s.logger.InfoContext(ctx, "market_service: market finalized",
		slog.String("market_id", marketID),
		slog.String("winning_option", string(winner)),
		slog.Bool("within_deadline", rec.WithinDeadline),
		slog.Int("payouts", len(rec.Payouts)),
		slog.String("commission", rec.Commission.String()),
	)

	s.notifySettlement(ctx, rec, res, now)

	m := domain.Market{ID: marketID, CreatorID: rec.CreatorID, Status: domain.MarketFinalized}
	if fresh, err := s.store.GetMarket(ctx, marketID); err == nil {
		m = fresh
	}
	s.transitioned(ctx, m, "market_finalized", map[string]any{
		"winning_option":  string(winner),
		"within_deadline": rec.WithinDeadline,
		"commission":      rec.Commission.String(),
		"deposit_refund":  rec.DepositRefund.String(),
		"payouts":         len(rec.Payouts),
		"outcome":         outcome,
	})
	if s.archiver != nil {
		if key, err := s.archiver.ArchiveSettlement(ctx, m, rec); err != nil {
			s.logger.WarnContext(ctx, "market_service: archive settlement failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.DebugContext(ctx, "market_service: settlement archived",
				slog.String("market_id", marketID),
				slog.String("key", key),
			)
		}
	}
	return rec, nil
}

func buildRecord(m domain.Market, winner domain.Option, now time.Time, within bool, res settlement.Result) domain.SettlementRecord {
	rec := domain.SettlementRecord{
		MarketID:       m.ID,
		CreatorID:      m.CreatorID,
		WinningOption:  winner,
		FinalizedAt:    now,
		WithinDeadline: within,
		Commission:     res.Commission,
		DepositRefund:  res.DepositRefund,
		Payouts:        make([]domain.Payout, 0, len(res.Shares)),
	}
	for _, sh := range res.Shares {
		rec.Payouts = append(rec.Payouts, domain.Payout{
			ID:            uuid.NewString(),
			MarketID:      m.ID,
			UserID:        sh.Bet.UserID,
			WalletAddress: sh.Bet.WalletAddress,
			BetAmount:     sh.Bet.Amount,
			PayoutAmount:  sh.PayoutAmount,
			ProfitAmount:  sh.ProfitAmount,
			Status:        domain.PayoutPending,
			CreatedAt:     now,
		})
	}
	if within {
		rec.Earning = &domain.CreatorEarning{
			ID:               uuid.NewString(),
			MarketID:         m.ID,
			CreatorID:        m.CreatorID,
			CommissionAmount: res.Commission,
			DepositRefund:    res.DepositRefund,
			TotalEarned:      res.Commission.Add(res.DepositRefund),
			EarnedAt:         now,
		}
	} else {
		rec.Forfeitures = append(rec.Forfeitures, domain.TreasuryForfeiture{
			ID:         uuid.NewString(),
			SourceType: domain.ForfeitLateSettlement,
			SourceID:   m.ID,
			Amount:     res.DepositForfeited,
			Reason:     "winner declared after the settlement window",
			CreatedAt:  now,
		})
	}
	if res.PoolForfeited.IsPositive() {
		rec.Forfeitures = append(rec.Forfeitures, domain.TreasuryForfeiture{
			ID:         uuid.NewString(),
			SourceType: domain.ForfeitUnclaimedPool,
			SourceID:   m.ID,
			Amount:     res.PoolForfeited,
			Reason:     "no bets on the winning option",
			CreatedAt:  now,
		})
	}
	return rec
}

func (s *MarketService) notifySettlement(ctx context.Context, rec domain.SettlementRecord, res settlement.Result, now time.Time) {
	for _, p := range rec.Payouts {
		s.outbox.enqueue(ctx, domain.Notification{
			UserID:         p.UserID,
			MarketID:       rec.MarketID,
			Type:           domain.NotifyMarketWon,
			Title:          "You won",
			Message:        fmt.Sprintf("Option %s won. Your payout is %s.", rec.WinningOption, p.PayoutAmount.String()),
			Data:           map[string]string{"payout": p.PayoutAmount.String(), "profit": p.ProfitAmount.String()},
			IdempotencyKey: "market_won:" + rec.MarketID + ":" + p.UserID,
		}, now)
	}

	msg := fmt.Sprintf("Market settled. Commission %s, deposit refund %s.", rec.Commission.String(), rec.DepositRefund.String())
	if !rec.WithinDeadline {
		msg = fmt.Sprintf("Market settled after the deadline. Your deposit of %s was forfeited.", res.DepositForfeited.String())
	}
	s.outbox.enqueue(ctx, domain.Notification{
		UserID:   rec.CreatorID,
		MarketID: rec.MarketID,
		Type:     domain.NotifyMarketSettled,
		Title:    "Market settled",
		Message:  msg,
		Data: map[string]string{
			"winning_option":  string(rec.WinningOption),
			"commission":      rec.Commission.String(),
			"deposit_refund":  rec.DepositRefund.String(),
			"within_deadline": fmt.Sprintf("%t", rec.WithinDeadline),
		},
		IdempotencyKey: "market_settled:" + rec.MarketID,
	}, now)
}

// CloseExpired moves expired active markets to closed and tells each
// creator to declare a winner. Only markets transitioned by this call are
// returned, so overlapping runs never notify twice.
func (s *MarketService) CloseExpired(ctx context.Context, now time.Time, limit int) ([]domain.Market, error) {
	closed, err := s.store.CloseExpired(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("market_service: close expired: %w", err)
	}
	for _, m := range closed {
		deadline := m.CloseDate.Add(s.rules.SettlementWindow)
		s.outbox.enqueue(ctx, domain.Notification{
			UserID:         m.CreatorID,
			MarketID:       m.ID,
			Type:           domain.NotifyDeclareWinner,
			Title:          "Declare the winner",
			Message:        fmt.Sprintf("%q has closed. Declare the winner before %s or your deposit is forfeited.", m.Title, deadline.Format(time.RFC3339)),
			Data:           map[string]string{"deadline": deadline.Format(time.RFC3339)},
			IdempotencyKey: keyMarketClosed + m.ID,
		}, now)
		s.transitioned(ctx, m, "market_closed", nil)
	}
	return closed, nil
}

// Escalate hands a closed market whose creator missed the window to admin
// review and forfeits the deposit.
func (s *MarketService) Escalate(ctx context.Context, marketID string, now time.Time) (domain.Market, error) {
	m, forfeit, err := s.store.EscalateMarket(ctx, marketID, now)
	if err != nil {
		return domain.Market{}, storeError(err)
	}

	s.logger.WarnContext(ctx, "market_service: market escalated",
		slog.String("market_id", m.ID),
		slog.String("creator_id", m.CreatorID),
		slog.Float64("hours_since_close", m.HoursSinceClose(now)),
		slog.String("forfeited", forfeit.Amount.String()),
	)

	s.outbox.enqueue(ctx, domain.Notification{
		UserID:         m.CreatorID,
		MarketID:       m.ID,
		Type:           domain.NotifyDepositForfeited,
		Title:          "Deposit forfeited",
		Message:        fmt.Sprintf("No winner was declared for %q within the deadline. Your deposit of %s was forfeited.", m.Title, forfeit.Amount.String()),
		Data:           map[string]string{"amount": forfeit.Amount.String()},
		IdempotencyKey: keyEscalated + m.ID,
	}, now)
	if s.admins != nil {
		ids, err := s.admins.AdminIDs(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "market_service: list admins failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
		for _, id := range ids {
			s.outbox.enqueue(ctx, domain.Notification{
				UserID:         id,
				MarketID:       m.ID,
				Type:           domain.NotifyAdminReview,
				Title:          "Market needs review",
				Message:        fmt.Sprintf("%q missed its settlement deadline and needs an admin decision.", m.Title),
				Data:           map[string]string{"creator_id": m.CreatorID},
				IdempotencyKey: keyAdminReview + m.ID + ":" + id,
			}, now)
		}
	}

	s.transitioned(ctx, m, "market_escalated", map[string]any{
		"forfeited": forfeit.Amount.String(),
	})
	if s.archiver != nil {
		if _, err := s.archiver.ArchiveEscalation(ctx, m, forfeit); err != nil {
			s.logger.WarnContext(ctx, "market_service: archive escalation failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// GetMarket returns a market with its bets and payouts, served from the
// cache when possible.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.MarketDetail, error) {
	if s.cache != nil {
		if d, err := s.cache.Get(ctx, id); err == nil {
			return d, nil
		}
	}

	m, err := s.store.GetMarket(ctx, id)
	if err != nil {
		return domain.MarketDetail{}, storeError(err)
	}
	bets, err := s.store.ListBets(ctx, id)
	if err != nil {
		return domain.MarketDetail{}, storeError(err)
	}
	payouts, err := s.store.ListPayouts(ctx, id)
	if err != nil {
		return domain.MarketDetail{}, storeError(err)
	}
	d := domain.MarketDetail{Market: m, Bets: bets, Payouts: payouts}

	if s.cache != nil {
		if err := s.cache.Set(ctx, d); err != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return d, nil
}

// ListMarkets lists markets with the given status, newest first.
func (s *MarketService) ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	ms, err := s.store.ListMarkets(ctx, status, opts)
	if err != nil {
		return nil, storeError(err)
	}
	return ms, nil
}

// History returns the audit trail of a market, oldest first. It is empty
// when no audit store is wired.
func (s *MarketService) History(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		return nil, storeError(err)
	}
	if s.audit == nil {
		return nil, nil
	}
	entries, err := s.audit.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, domain.ErrStoreFailure.Wrap(err)
	}
	return entries, nil
}

func (s *MarketService) payment(userID, marketID string, purpose domain.PaymentPurpose, v VerifiedDeposit, now time.Time) domain.Payment {
	block := v.BlockNumber
	confirmed := v.Confirmations >= s.rules.MinConfirmations
	status := domain.PaymentPending
	if confirmed {
		status = domain.PaymentConfirmed
	}
	return domain.Payment{
		ID:                uuid.NewString(),
		UserID:            userID,
		MarketID:          marketID,
		Purpose:           purpose,
		WalletAddress:     v.Wallet,
		Amount:            v.Amount,
		TxHash:            v.TxHash,
		Confirmed:         confirmed,
		ConfirmationCount: v.Confirmations,
		Status:            status,
		BlockNumber:       &block,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// transitioned runs the best-effort side effects of a committed change:
// cache invalidation, a bus event and an audit entry.
func (s *MarketService) transitioned(ctx context.Context, m domain.Market, event string, detail map[string]any) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, m.ID); err != nil {
			s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus != nil {
		payload, _ := json.Marshal(domain.MarketEvent{
			Event:    event,
			MarketID: m.ID,
			Status:   m.Status,
			At:       s.now(),
		})
		if err := s.bus.Publish(ctx, domain.MarketChannel(m.ID), payload); err != nil {
			s.logger.WarnContext(ctx, "market_service: publish event failed",
				slog.String("market_id", m.ID),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.audit != nil {
		if err := s.audit.Log(ctx, event, m.ID, detail); err != nil {
			s.logger.WarnContext(ctx, "market_service: audit log failed",
				slog.String("market_id", m.ID),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

// storeError keeps coded errors as they are and classifies the rest.
func storeError(err error) error {
	if _, ok := domain.AsError(err); ok {
		return err
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrMarketNotFound
	}
	return domain.ErrStoreFailure.Wrap(err)
}
