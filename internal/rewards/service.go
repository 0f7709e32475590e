package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gestion-vehicule/gestion_vehicule/internal/balance"
	"github.com/gestion-vehicule/gestion_vehicule/internal/ledger"
	"github.com/gestion-vehicule/gestion_vehicule/internal/metrics"
	"github.com/gestion-vehicule/gestion_vehicule/internal/money"
	"github.com/gestion-vehicule/gestion_vehicule/internal/notification"
)

// Currency is the bonus currency every reward is paid in.
const Currency = "jmu"

// DefaultTimezone decides where a reward day starts and ends.
const DefaultTimezone = "Africa/Abidjan"

const randomKey = "RANDOM"

// Task codes.
const (
	TaskSignup                = "SIGNUP"
	TaskCreateVehicle         = "CREATE_VEHICLE"
	TaskPaymentSuccess        = "PAYMENT_SUCCESS"
	TaskDailyLogin            = "DAILY_LOGIN"
	TaskReferralSignup        = "REFERRAL_SIGNUP"
	TaskReferralCreateVehicle = "REFERRAL_CREATE_VEHICLE"
	TaskReferralFirstVehicle  = "REFERRAL_FIRST_VEHICLE"
	TaskContract              = "CONTRACT"
	TaskBonus                 = "BONUS"
)

// ErrInvalidAmount is returned by RewardManual for non-positive amounts.
var ErrInvalidAmount = errors.New("reward amount must be positive")

type task struct {
	amount    decimal.Decimal
	bonusType ledger.BonusType
	label     string
}

var tasks = map[string]task{
	TaskSignup:                {decimal.RequireFromString("0.0000000000000005"), ledger.BonusSignup, "Signup"},
	TaskCreateVehicle:         {decimal.RequireFromString("0.00000000000000005"), ledger.BonusCreateVehicle, "First vehicle"},
	TaskPaymentSuccess:        {decimal.RequireFromString("0.000000000000000002"), ledger.BonusPaymentSuccess, "Successful payment"},
	TaskDailyLogin:            {decimal.RequireFromString("0.000000000000000001"), ledger.BonusDailyLogin, "Daily login"},
	TaskReferralSignup:        {decimal.RequireFromString("0.0000000000000001"), ledger.BonusReferral, "Referral signup"},
	TaskReferralCreateVehicle: {decimal.RequireFromString("0.000000000000000005"), ledger.BonusReferral, "Referral vehicle"},
	TaskReferralFirstVehicle:  {decimal.RequireFromString("0.000000000000000005"), ledger.BonusReferral, "Referral first vehicle"},
	TaskContract:              {decimal.RequireFromString("0.000000000000000002"), ledger.BonusContract, "Contract"},
	TaskBonus:                 {decimal.RequireFromString("0.000000000000000001"), ledger.BonusBonus, "Bonus"},
}

var randomAmounts = []decimal.Decimal{
	decimal.RequireFromString("0.000000000005"),
	decimal.RequireFromString("0.000000000001"),
	decimal.RequireFromString("0.000000000002"),
}

// Amount returns the fixed reward for a task code.
func Amount(taskCode string) (decimal.Decimal, bool) {
	t, ok := tasks[taskCode]
	return t.amount, ok
}

// TaskOptions tunes a task reward.
type TaskOptions struct {
	AllowMultiplePerDay bool
	ExtraMetadata       ledger.Metadata
}

// ManualOptions tunes a manual grant.
type ManualOptions struct {
	Source   ledger.Source
	Metadata ledger.Metadata
}

// Service grants bonus-currency rewards.
type Service struct {
	store    ledger.Store
	balances *balance.Service
	notifier notification.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	loc      *time.Location
	now      func() time.Time
	pick     func(n int) int
}

// NewService constructs a reward service. A nil location falls back to DefaultTimezone.
func NewService(store ledger.Store, balances *balance.Service, notifier notification.Notifier,
	logger *slog.Logger, m *metrics.Metrics, loc *time.Location) *Service {
	if loc == nil {
		loc = LoadLocation(DefaultTimezone)
	}
	return &Service{
		store:    store,
		balances: balances,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		loc:      loc,
		now:      func() time.Time { return time.Now().UTC() },
		pick:     rand.Intn,
	}
}

// LoadLocation resolves a reward time zone name, falling back to UTC when tzdata lacks it.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RewardForTask credits the fixed reward for taskCode. It returns nil without error for unknown
// tasks and when the user was already rewarded for the task today.
func (s *Service) RewardForTask(ctx context.Context, userID, taskCode string, opts TaskOptions) (*ledger.Transaction, error) {
	code := strings.ToUpper(strings.TrimSpace(taskCode))
	t, ok := tasks[code]
	if !ok {
		s.logger.Debug("unknown reward task", "user_id", userID, "task", taskCode)
		return nil, nil
	}

	meta := ledger.Metadata{}
	for k, v := range opts.ExtraMetadata {
		meta[k] = v
	}
	meta["reward_type"] = "task"
	meta["task"] = code
	meta["label"] = t.label
	meta["reward_key"] = code

	return s.grant(ctx, grant{
		userID:    userID,
		key:       code,
		guard:     !opts.AllowMultiplePerDay,
		amount:    t.amount,
		bonusType: t.bonusType,
		source:    ledger.SourceSystem,
		desc:      fmt.Sprintf("Reward for %s", strings.ToLower(t.label)),
		metadata:  meta,
	})
}

// RewardRandom credits one amount drawn from a fixed set, at most once per day unless allowed.
func (s *Service) RewardRandom(ctx context.Context, userID string, allowMultiplePerDay bool) (*ledger.Transaction, error) {
	amount := randomAmounts[s.pick(len(randomAmounts))]
	return s.grant(ctx, grant{
		userID:    userID,
		key:       randomKey,
		guard:     !allowMultiplePerDay,
		amount:    amount,
		bonusType: ledger.BonusRandom,
		source:    ledger.SourceSystem,
		desc:      "Random bonus",
		metadata:  ledger.Metadata{"reward_type": "random", "reward_key": randomKey},
	})
}

// RewardManual credits amount unconditionally.
func (s *Service) RewardManual(ctx context.Context, userID string, amount decimal.Decimal, reason string, opts ManualOptions) (*ledger.Transaction, error) {
	amount = money.Quantize(amount)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	source := opts.Source
	if source == "" {
		source = ledger.SourceAdmin
	}
	meta := opts.Metadata.Clone()
	if len(meta) == 0 {
		meta = ledger.Metadata{"reward_type": "manual"}
	}
	return s.grant(ctx, grant{
		userID:    userID,
		key:       "MANUAL",
		amount:    amount,
		bonusType: ledger.BonusBonus,
		source:    source,
		desc:      reason,
		metadata:  meta,
	})
}

type grant struct {
	userID    string
	key       string
	guard     bool
	amount    decimal.Decimal
	bonusType ledger.BonusType
	source    ledger.Source
	desc      string
	metadata  ledger.Metadata
}

func (s *Service) grant(ctx context.Context, g grant) (*ledger.Transaction, error) {
	if strings.TrimSpace(g.userID) == "" {
		return nil, errors.New("user id is required")
	}
	now := s.now()
	from, to := s.dayBounds(now)

	var out *ledger.Transaction
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := s.balances.LockCurrencies(ctx, tx, Currency, g.userID); err != nil {
			return err
		}
		if g.guard {
			done, err := tx.HasRewardOnDay(ctx, g.userID, Currency, g.key, from, to)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
		tr, err := s.balances.CreditWithEntryTx(ctx, tx, balance.Entry{
			UserID:      g.userID,
			Amount:      g.amount,
			Currency:    Currency,
			BonusType:   g.bonusType,
			Source:      g.source,
			Description: g.desc,
			Metadata:    g.metadata,
			At:          now,
		})
		if err != nil {
			return err
		}
		out = &tr
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		s.logger.Debug("reward already granted today", "user_id", g.userID, "reward_key", g.key)
		return nil, nil
	}

	s.metrics.RewardGranted(g.key)
	s.logger.Info("reward granted", "user_id", g.userID, "reward_key", g.key,
		"amount", out.Amount.String(), "transaction_id", out.ID)
	notification.Deliver(ctx, s.notifier, s.logger, s.metrics, notification.Message{
		UserID:        g.userID,
		Title:         "Reward received",
		Body:          fmt.Sprintf("You earned %s %s. %s", out.Amount.String(), strings.ToUpper(Currency), g.desc),
		Type:          notification.TypeReward,
		TransactionID: out.ID.String(),
	})
	return out, nil
}

// dayBounds returns the [start, end) of the reward day containing t.
func (s *Service) dayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(s.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 0, 1)
}
