package payout

import (
	"context"
	"time"

	"ambassador-controlplane/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payout",
	fx.Provide(New),
)

type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
	OutcomePending Outcome = "PENDING"
)

type TransferRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	CampaignID     string `json:"campaign_id"`
	UserID         string `json:"user_id"`
	Destination    string `json:"destination"`
	Token          string `json:"token"`
	Amount         int64  `json:"amount"`
}

type TransferResult struct {
	Outcome Outcome `json:"status"`
	TxRef   string  `json:"tx_ref,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// Rail moves funds to a destination. A returned error means the rail could
// not be reached or answered garbage; a declined transfer is a FAILED result.
type Rail interface {
	Name() string
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

func New(cfg *config.Config) Rail {
	switch cfg.Payout.Rail {
	case "ton":
		zap.L().Info("[Payout] using TON wallet rail", zap.Bool("testnet", cfg.Payout.TON.Testnet))
		return NewTONRail(cfg.Payout.TON.WalletSeed, cfg.Payout.TON.Testnet)
	default:
		zap.L().Info("[Payout] using HTTP rail", zap.String("base_url", cfg.Payout.HTTP.BaseURL))
		return NewHTTPRail(cfg.Payout.HTTP.BaseURL, cfg.Payout.HTTP.ApiKey, httpTimeout(cfg))
	}
}

// httpTimeout keeps the client timeout above the per-recipient bound of the
// executor so a slow rail is always cut by the caller's deadline.
func httpTimeout(cfg *config.Config) time.Duration {
	bound := cfg.Distribution.Timeout
	if bound <= 0 {
		bound = 15 * time.Second
	}
	if t := cfg.Payout.HTTP.Timeout; t > bound {
		return t
	}
	return bound + 5*time.Second
}
