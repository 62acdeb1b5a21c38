package distribution

import (
	"context"
	"errors"
	"strings"
	"time"

	"ambassador-controlplane/pkg/authz"
	"ambassador-controlplane/pkg/config"
	"ambassador-controlplane/pkg/db/option"
	"ambassador-controlplane/pkg/db/pagination"
	"ambassador-controlplane/pkg/errutil"
	"ambassador-controlplane/pkg/featureflags"
	"ambassador-controlplane/pkg/lock"
	"ambassador-controlplane/pkg/logger"
	"ambassador-controlplane/pkg/payout"
	"ambassador-controlplane/pkg/rediskey"
	"ambassador-controlplane/pkg/repository"
	"ambassador-controlplane/services/campaign"
	"ambassador-controlplane/services/ledger"
	"ambassador-controlplane/services/reward"
	"ambassador-controlplane/services/user"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultParallelism = 4

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	rail   payout.Rail
	locker lock.Locker
	flags  featureflags.FeatureFlag
	authz  authz.Authorizer

	timeout     time.Duration
	concurrency int
	outcomes    metric.Int64Counter

	campaign *campaign.Service
	reward   *reward.Service
	ledger   *ledger.Service

	distribution repository.Repository[Distribution]
	user         repository.Repository[user.User]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Rail     payout.Rail
	Locker   lock.Locker
	Flags    featureflags.FeatureFlag `optional:"true"`
	Authz    authz.Authorizer
	Campaign *campaign.Service
	Reward   *reward.Service
	Ledger   *ledger.Service
}

func NewService(p ServiceParams) *Service {
	timeout := p.Config.Distribution.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	outcomes, err := otel.Meter("ambassador-controlplane/distribution").Int64Counter("distribution.outcomes",
		metric.WithDescription("Distribution items by final outcome of the run."),
	)
	if err != nil {
		zap.L().Warn("[Distribution] outcome counter disabled", zap.Error(err))
	}

	return &Service{
		db:           p.DB,
		node:         p.Node,
		rail:         p.Rail,
		locker:       p.Locker,
		flags:        p.Flags,
		authz:        p.Authz,
		timeout:      timeout,
		concurrency:  p.Config.Distribution.Concurrency,
		outcomes:     outcomes,
		campaign:     p.Campaign,
		reward:       p.Reward,
		ledger:       p.Ledger,
		distribution: repository.ProvideStore[Distribution](p.DB),
		user:         repository.ProvideStore[user.User](p.DB),
	}
}

// Distribute pays every allocation independently and reports a summary.
// A failing recipient never aborts the batch; re-running the same batch
// does not pay recipients whose distribution already succeeded.
func (s *Service) Distribute(ctx context.Context, campaignID string, allocations []Allocation) (*Result, error) {
	c, err := s.campaign.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	normalized := make([]Allocation, len(allocations))
	for i, a := range allocations {
		if strings.TrimSpace(a.UserID) == "" {
			return nil, errutil.ValidationFailed("allocation without user", nil,
				errutil.WithDetails(errutil.Detail{Field: "user_id", Message: "required"}))
		}
		if a.Amount < 0 {
			return nil, errutil.ValidationFailed("allocation amount must not be negative", nil,
				errutil.WithDetails(errutil.Detail{Field: "amount", Message: a.UserID}))
		}
		if a.Token == "" {
			a.Token = c.RewardToken
		}
		if !strings.EqualFold(a.Token, c.RewardToken) {
			return nil, errutil.ValidationFailed("allocation token does not match the campaign reward token", nil,
				errutil.WithDetails(errutil.Detail{Field: "token", Message: a.Token}))
		}
		a.Token = c.RewardToken
		normalized[i] = a
	}

	batchID := s.node.Generate().String()
	log := logger.FromContext(ctx).With(zap.String("campaign_id", c.ID), zap.String("batch_id", batchID))

	results := make([]ItemResult, len(normalized))
	if limit := s.parallelism(ctx, c.ID); limit > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for i, a := range normalized {
			g.Go(func() error {
				results[i] = s.distributeOne(gctx, c, batchID, a)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, a := range normalized {
			results[i] = s.distributeOne(ctx, c, batchID, a)
		}
	}

	if s.outcomes != nil {
		for _, r := range results {
			s.outcomes.Add(ctx, 1, metric.WithAttributes(
				attribute.String("campaign_id", c.ID),
				attribute.String("outcome", string(r.Outcome)),
			))
		}
	}

	out := &Result{
		BatchID:    batchID,
		CampaignID: c.ID,
		Results:    results,
		Summary:    summarize(results),
	}

	log.Info("distribution batch finished",
		zap.Int("total", out.Summary.Total),
		zap.Int("succeeded", out.Summary.Succeeded),
		zap.Int("failed", out.Summary.Failed),
		zap.Int("pending", out.Summary.Pending),
	)
	return out, nil
}

func (s *Service) parallelism(ctx context.Context, campaignID string) int {
	if s.concurrency > 1 {
		return s.concurrency
	}
	if s.flags != nil && s.flags.IsEnabled(ctx, campaignID, featureflags.ParallelDistribution) {
		return defaultParallelism
	}
	return 1
}

func (s *Service) distributeOne(ctx context.Context, c *campaign.Campaign, batchID string, a Allocation) ItemResult {
	log := logger.FromContext(ctx).With(zap.String("campaign_id", c.ID), zap.String("user_id", a.UserID))

	unlock, err := s.locker.Lock(ctx, rediskey.BuildUserBalanceLockKey(a.UserID))
	if err != nil {
		log.Warn("failed to lock recipient", zap.Error(err))
		return ItemResult{UserID: a.UserID, Outcome: payout.OutcomeFailed, Error: ReasonLockFailed}
	}
	defer unlock()

	rec, proceed, err := s.claim(ctx, c, batchID, a)
	if err != nil {
		log.Error("failed to claim distribution", zap.Error(err))
		return ItemResult{UserID: a.UserID, Outcome: payout.OutcomeFailed, Error: ReasonPersistFailed}
	}
	if !proceed {
		return itemOf(rec)
	}

	res, reason := s.transfer(ctx, rec)
	switch {
	case res == nil:
		s.markFailed(ctx, rec, reason)
	case res.Outcome == payout.OutcomeSuccess:
		if err := s.credit(ctx, rec, res.TxRef); err != nil {
			log.Error("transfer succeeded but credit failed, left pending for settlement", zap.String("distribution_id", rec.ID), zap.Error(err))
			s.markPending(ctx, rec, res.TxRef, ReasonPersistFailed)
		}
	case res.Outcome == payout.OutcomePending:
		s.markPending(ctx, rec, res.TxRef, "")
	default:
		reason := res.Reason
		if reason == "" {
			reason = ReasonDeclined
		}
		s.markFailed(ctx, rec, reason)
	}

	current, err := s.distribution.FindOne(ctx, &Distribution{ID: rec.ID})
	if err != nil || current == nil {
		return ItemResult{UserID: a.UserID, DistributionID: rec.ID, Outcome: payout.OutcomePending, Error: ReasonPersistFailed}
	}
	return itemOf(current)
}

// claim reserves the idempotency key of the allocation and reports whether
// the rail must be called. SUCCESS and PENDING rows are reported as they
// are; FAILED rows are claimed again. Allocations that cannot be paid are
// recorded FAILED without reaching the rail.
func (s *Service) claim(ctx context.Context, c *campaign.Campaign, batchID string, a Allocation) (*Distribution, bool, error) {
	key := a.key(c.ID)

	var rec *Distribution
	proceed := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked campaign.Campaign
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&locked, "id = ?", c.ID).Error; err != nil {
			return err
		}

		existing, err := s.distribution.WithTrx(tx).FindOne(ctx, &Distribution{IdempotencyKey: key})
		if err != nil {
			return err
		}
		if existing != nil && existing.Outcome != payout.OutcomeFailed {
			rec = existing
			return nil
		}

		now := time.Now().UTC()
		next := Distribution{
			IdempotencyKey: key,
			BatchID:        batchID,
			CampaignID:     c.ID,
			UserID:         a.UserID,
			Amount:         a.Amount,
			Token:          a.Token,
			Destination:    a.Destination,
			Outcome:        payout.OutcomePending,
			UpdatedAt:      now,
		}

		reason, err := s.precheck(ctx, tx, &locked, a)
		if err != nil {
			return err
		}
		if reason != "" {
			next.Outcome = payout.OutcomeFailed
			next.Error = &reason
		}

		if existing == nil {
			next.ID = s.node.Generate().String()
			next.CreatedAt = now
			next.Attempts = 1
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "idempotency_key"}},
				DoNothing: true,
			}).Create(&next)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// claimed by another process between the read and the insert
				rec, err = s.distribution.WithTrx(tx).FindOne(ctx, &Distribution{IdempotencyKey: key})
				return err
			}
			rec = &next
			proceed = reason == ""
			return nil
		}

		res := tx.Model(&Distribution{}).
			Where("id = ? AND outcome = ?", existing.ID, payout.OutcomeFailed).
			Updates(map[string]any{
				"batch_id":    batchID,
				"amount":      a.Amount,
				"destination": a.Destination,
				"outcome":     next.Outcome,
				"error":       next.Error,
				"tx_ref":      nil,
				"attempts":    gorm.Expr("attempts + 1"),
				"updated_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}

		rec, err = s.distribution.WithTrx(tx).FindOne(ctx, &Distribution{ID: existing.ID})
		if err != nil {
			return err
		}
		proceed = res.RowsAffected == 1 && reason == ""
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return rec, proceed, nil
}

// precheck returns the failure reason of an allocation that must not reach
// the rail, "" when it can be paid.
func (s *Service) precheck(ctx context.Context, tx *gorm.DB, c *campaign.Campaign, a Allocation) (string, error) {
	if a.Destination == nil || strings.TrimSpace(*a.Destination) == "" {
		return ReasonNoDestination, nil
	}
	if a.Amount == 0 {
		return ReasonZeroAmount, nil
	}

	u, err := s.user.WithTrx(tx).FindOne(ctx, &user.User{ID: a.UserID})
	if err != nil {
		return "", err
	}
	if u == nil {
		return ReasonUnknownUser, nil
	}

	var reserved int64
	err = tx.Model(&Distribution{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("campaign_id = ? AND outcome IN ?", c.ID, []payout.Outcome{payout.OutcomeSuccess, payout.OutcomePending}).
		Scan(&reserved).Error
	if err != nil {
		return "", err
	}
	if decimal.NewFromInt(reserved).Add(decimal.NewFromInt(a.Amount)).GreaterThan(c.RewardPool) {
		return ReasonPoolExhausted, nil
	}
	return "", nil
}

// transfer calls the rail with a bounded wait. A nil result carries the
// failure reason.
func (s *Service) transfer(ctx context.Context, rec *Distribution) (*payout.TransferResult, string) {
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.rail.Transfer(rctx, payout.TransferRequest{
		IdempotencyKey: rec.IdempotencyKey,
		CampaignID:     rec.CampaignID,
		UserID:         rec.UserID,
		Destination:    *rec.Destination,
		Token:          rec.Token,
		Amount:         rec.Amount,
	})
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(rctx.Err(), context.DeadlineExceeded) {
		logger.FromContext(ctx).Warn("payout rail timed out", zap.String("distribution_id", rec.ID), zap.String("rail", s.rail.Name()))
		return nil, ReasonTimeout
	}
	if err != nil {
		logger.FromContext(ctx).Error("payout rail failed", zap.String("distribution_id", rec.ID), zap.String("rail", s.rail.Name()), zap.Error(err))
		return nil, ReasonRailError
	}
	if res == nil {
		return nil, ReasonRailError
	}
	return res, ""
}

// credit finalizes a PENDING distribution as SUCCESS together with the
// balance increment and its ledger entry.
func (s *Service) credit(ctx context.Context, rec *Distribution, txRef string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Distribution{}).
			Where("id = ? AND outcome = ?", rec.ID, payout.OutcomePending).
			Updates(map[string]any{
				"outcome":    payout.OutcomeSuccess,
				"tx_ref":     nullable(txRef),
				"error":      nil,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("distribution is not pending", nil)
		}

		if err := user.IncrementBalance(tx, rec.UserID, rec.Token, rec.Amount); err != nil {
			return err
		}

		snapshot, err := user.Snapshot(tx, rec.UserID)
		if err != nil {
			return err
		}

		_, err = s.ledger.Record(ctx, tx, ledger.Entry{
			UserID:        rec.UserID,
			Type:          ledger.EntryTokenCredit,
			Asset:         rec.Token,
			Amount:        rec.Amount,
			BalanceAfter:  snapshot.BalanceOf(rec.Token),
			ReferenceType: ledger.ReferenceDistribution,
			ReferenceID:   rec.ID,
			Description:   "campaign reward",
			Metadata:      map[string]any{"campaign_id": rec.CampaignID, "tx_ref": txRef},
		})
		return err
	})
}

func (s *Service) markFailed(ctx context.Context, rec *Distribution, reason string) {
	err := s.db.WithContext(ctx).Model(&Distribution{}).
		Where("id = ? AND outcome = ?", rec.ID, payout.OutcomePending).
		Updates(map[string]any{
			"outcome":    payout.OutcomeFailed,
			"error":      reason,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		logger.FromContext(ctx).Error("failed to record failed distribution", zap.String("distribution_id", rec.ID), zap.Error(err))
	}
}

func (s *Service) markPending(ctx context.Context, rec *Distribution, txRef, reason string) {
	err := s.db.WithContext(ctx).Model(&Distribution{}).
		Where("id = ? AND outcome = ?", rec.ID, payout.OutcomePending).
		Updates(map[string]any{
			"tx_ref":     nullable(txRef),
			"error":      nullable(reason),
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		logger.FromContext(ctx).Error("failed to record pending distribution", zap.String("distribution_id", rec.ID), zap.Error(err))
	}
}

// Settle finalizes a PENDING distribution once the rail reports the final
// outcome. Settling again with the same outcome is a no-op.
func (s *Service) Settle(ctx context.Context, req SettleRequest) (*Distribution, error) {
	if req.Outcome != payout.OutcomeSuccess && req.Outcome != payout.OutcomeFailed {
		return nil, errutil.ValidationFailed("outcome must be SUCCESS or FAILED", nil,
			errutil.WithDetails(errutil.Detail{Field: "outcome", Message: string(req.Outcome)}))
	}

	rec, err := s.Get(ctx, req.DistributionID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, rediskey.BuildUserBalanceLockKey(rec.UserID))
	if err != nil {
		return nil, errutil.Conflict("recipient is busy, retry later", err)
	}
	defer unlock()

	if rec, err = s.Get(ctx, rec.ID); err != nil {
		return nil, err
	}

	if rec.Outcome != payout.OutcomePending {
		if rec.Outcome == req.Outcome {
			return rec, nil
		}
		return nil, errutil.Conflict("distribution is already "+string(rec.Outcome), nil,
			errutil.WithDetails(errutil.Detail{Field: "outcome", Message: string(rec.Outcome)}))
	}

	txRef := req.TxRef
	if txRef == "" && rec.TxRef != nil {
		txRef = *rec.TxRef
	}

	if req.Outcome == payout.OutcomeSuccess {
		if err := s.credit(ctx, rec, txRef); err != nil {
			if errutil.StatusOf(err) != errutil.StatusUnknown {
				return nil, err
			}
			return nil, errutil.Internal("failed to settle distribution", err)
		}
	} else {
		reason := req.Reason
		if reason == "" {
			reason = ReasonDeclined
		}
		s.markFailed(ctx, rec, reason)
	}

	logger.FromContext(ctx).Info("distribution settled", zap.String("distribution_id", rec.ID), zap.String("outcome", string(req.Outcome)))
	return s.Get(ctx, rec.ID)
}

// SettleCampaign pays the computed allocations of a completed campaign to
// the recipients' wallet addresses. Each recipient is paid at most once per
// campaign: a re-run retries FAILED recipients with the current amount and
// reports the others as they are.
func (s *Service) SettleCampaign(ctx context.Context, campaignID string) (*Result, error) {
	unlock, err := s.locker.Lock(ctx, rediskey.BuildCampaignSettleLockKey(campaignID))
	if err != nil {
		return nil, errutil.Conflict("campaign settlement already running", err)
	}
	defer unlock()

	c, err := s.campaign.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != campaign.CampaignStatusCompleted {
		return nil, errutil.Conflict("campaign is not completed", nil,
			errutil.WithDetails(errutil.Detail{Field: "status", Message: string(c.Status)}))
	}

	computed, err := s.reward.ComputeAllocations(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	userIDs := make([]string, 0, len(computed.Allocations))
	for _, a := range computed.Allocations {
		if a.TokenAmount > 0 {
			userIDs = append(userIDs, a.UserID)
		}
	}

	wallets := map[string]*string{}
	if len(userIDs) > 0 {
		var users []user.User
		if err := s.db.WithContext(ctx).Select("id", "wallet_address").Where("id IN ?", userIDs).Find(&users).Error; err != nil {
			return nil, errutil.Internal("failed to load recipients", err)
		}
		for _, u := range users {
			wallets[u.ID] = u.WalletAddress
		}
	}

	allocations := make([]Allocation, 0, len(userIDs))
	for _, a := range computed.Allocations {
		if a.TokenAmount <= 0 {
			continue
		}
		allocations = append(allocations, Allocation{
			UserID:         a.UserID,
			Amount:         a.TokenAmount,
			Token:          computed.RewardToken,
			Destination:    wallets[a.UserID],
			DistributionID: SettlementKey(campaignID, a.UserID),
		})
	}

	logger.FromContext(ctx).Info("settling campaign",
		zap.String("campaign_id", campaignID),
		zap.Int("participants", len(computed.Allocations)),
		zap.Int("payable", len(allocations)),
	)
	return s.Distribute(ctx, campaignID, allocations)
}

// Authorize checks that actorID may run distributions.
func (s *Service) Authorize(ctx context.Context, actorID string) error {
	if actorID == "" {
		return errutil.Unauthorized("missing actor", nil)
	}

	actor, err := s.user.FindOne(ctx, &user.User{ID: actorID})
	if err != nil {
		return errutil.Internal("failed to load actor", err)
	}
	if actor == nil || actor.IsBanned || !s.authz.Allow(string(actor.Role), authz.ResourceCampaign, authz.ActionDistribute) {
		return errutil.Forbidden("actor is not allowed to distribute rewards", nil)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Distribution, error) {
	rec, err := s.distribution.FindOne(ctx, &Distribution{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to load distribution", err)
	}
	if rec == nil {
		return nil, errutil.NotFound("distribution not found", nil)
	}
	return rec, nil
}

func (s *Service) List(ctx context.Context, req ListRequest) (*ListResponse, error) {
	rows, err := s.distribution.Find(ctx, &Distribution{CampaignID: req.CampaignID, UserID: req.UserID, Outcome: req.Outcome},
		option.ApplyPagination(req.Pagination),
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to list distributions", zap.Error(err))
		return nil, errutil.Internal("failed to list distributions", err)
	}

	page, info := pagination.Page(rows, req.Limit, func(d *Distribution) string {
		return pagination.CursorOf(d.CreatedAt, d.ID)
	})
	return &ListResponse{Distributions: page, PageInfo: info}, nil
}

func itemOf(d *Distribution) ItemResult {
	item := ItemResult{UserID: d.UserID, DistributionID: d.ID, Outcome: d.Outcome}
	if d.TxRef != nil {
		item.TxRef = *d.TxRef
	}
	if d.Error != nil {
		item.Error = *d.Error
	}
	return item
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
