package payout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/tonkeeper/tongo/liteapi"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
	"github.com/tonkeeper/tongo/wallet"
	"go.uber.org/zap"
)

const tonToken = "TON"

// tonRail pays native TON from a hot wallet derived from a seed phrase.
// Amounts are nanotons.
type tonRail struct {
	seed    string
	testnet bool

	once   sync.Once
	wallet *wallet.Wallet
	err    error
}

func NewTONRail(seed string, testnet bool) Rail {
	return &tonRail{seed: seed, testnet: testnet}
}

func (r *tonRail) Name() string { return "ton" }

func (r *tonRail) connect() (*wallet.Wallet, error) {
	r.once.Do(func() {
		if r.seed == "" {
			r.err = errors.New("payout wallet seed is not configured")
			return
		}

		var client *liteapi.Client
		if r.testnet {
			client, r.err = liteapi.NewClientWithDefaultTestnet()
		} else {
			client, r.err = liteapi.NewClientWithDefaultMainnet()
		}
		if r.err != nil {
			return
		}

		w, err := wallet.DefaultWalletFromSeed(r.seed, client)
		if err != nil {
			r.err = err
			return
		}
		r.wallet = &w
	})
	return r.wallet, r.err
}

func (r *tonRail) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if !strings.EqualFold(req.Token, tonToken) {
		return &TransferResult{Outcome: OutcomeFailed, Reason: "unsupported token"}, nil
	}

	dest, err := ton.ParseAccountID(req.Destination)
	if err != nil {
		return &TransferResult{Outcome: OutcomeFailed, Reason: "invalid destination"}, nil
	}

	w, err := r.connect()
	if err != nil {
		return nil, err
	}

	wait := 15 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}

	hash, err := w.SendV2(ctx, wait, wallet.Message{
		Amount:  tlb.Grams(req.Amount),
		Address: dest,
		Bounce:  false,
		Mode:    3,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		zap.L().Warn("[Payout] TON transfer failed", zap.String("idempotency_key", req.IdempotencyKey), zap.Error(err))
		return &TransferResult{Outcome: OutcomeFailed, Reason: "transfer rejected"}, nil
	}

	return &TransferResult{Outcome: OutcomeSuccess, TxRef: hash.Hex()}, nil
}
