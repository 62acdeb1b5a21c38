package reward

import (
	"ambassador-controlplane/pkg/errutil"

	"github.com/shopspring/decimal"
)

// Participant is the activity of one user inside one campaign.
type Participant struct {
	UserID         string
	XP             int64
	CompletedTasks int64
}

type Allocation struct {
	UserID         string          `json:"user_id"`
	XP             int64           `json:"xp"`
	CompletedTasks int64           `json:"completed_tasks"`
	RewardShare    decimal.Decimal `json:"reward_share"`
	TokenAmount    int64           `json:"token_amount"`
}

const sharePrecision = 8

// Calculator splits a reward pool between participants:
//
//	share  = xpWeight*xp/totalXP + taskWeight*tasks/totalTasks
//	amount = floor(pool * share)
//
// A metric whose total is zero contributes nothing.
type Calculator struct {
	xpWeight   decimal.Decimal
	taskWeight decimal.Decimal
}

func NewCalculator(xpWeight, taskWeight float64) (*Calculator, error) {
	xw := decimal.NewFromFloat(xpWeight)
	tw := decimal.NewFromFloat(taskWeight)
	if xw.IsNegative() || tw.IsNegative() {
		return nil, errutil.ValidationFailed("allocation weights must not be negative", nil)
	}
	if xw.Add(tw).GreaterThan(decimal.NewFromInt(1)) {
		return nil, errutil.ValidationFailed("allocation weights must not sum above 1", nil)
	}
	return &Calculator{xpWeight: xw, taskWeight: tw}, nil
}

// Allocate returns one allocation per participant, in input order.
func (c *Calculator) Allocate(pool decimal.Decimal, participants []Participant) ([]Allocation, error) {
	if pool.IsNegative() {
		return nil, errutil.ValidationFailed("reward pool must not be negative", nil)
	}

	var totalXP, totalTasks int64
	for _, p := range participants {
		if p.XP < 0 || p.CompletedTasks < 0 {
			return nil, errutil.ValidationFailed("participant activity must not be negative", nil,
				errutil.WithDetails(errutil.Detail{Field: "user_id", Message: p.UserID}))
		}
		totalXP += p.XP
		totalTasks += p.CompletedTasks
	}

	out := make([]Allocation, 0, len(participants))
	for _, p := range participants {
		num, den := c.fraction(p, totalXP, totalTasks)

		alloc := Allocation{
			UserID:         p.UserID,
			XP:             p.XP,
			CompletedTasks: p.CompletedTasks,
			RewardShare:    decimal.Zero,
		}
		if !num.IsZero() {
			alloc.RewardShare = clamp(num.DivRound(den, sharePrecision))
			// integer quotient truncates, which is floor for non-negative values
			q, _ := pool.Mul(num).QuoRem(den, 0)
			alloc.TokenAmount = q.IntPart()
		}
		out = append(out, alloc)
	}

	return out, nil
}

// fraction returns the participant share as num/den without dividing, so
// the token amount can be floored from the exact value.
func (c *Calculator) fraction(p Participant, totalXP, totalTasks int64) (decimal.Decimal, decimal.Decimal) {
	xp := decimal.NewFromInt(p.XP)
	tasks := decimal.NewFromInt(p.CompletedTasks)
	tx := decimal.NewFromInt(totalXP)
	tt := decimal.NewFromInt(totalTasks)

	switch {
	case totalXP > 0 && totalTasks > 0:
		num := c.xpWeight.Mul(xp).Mul(tt).Add(c.taskWeight.Mul(tasks).Mul(tx))
		return num, tx.Mul(tt)
	case totalXP > 0:
		return c.xpWeight.Mul(xp), tx
	case totalTasks > 0:
		return c.taskWeight.Mul(tasks), tt
	default:
		return decimal.Zero, decimal.NewFromInt(1)
	}
}

func clamp(share decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if share.IsNegative() {
		return decimal.Zero
	}
	if share.GreaterThan(one) {
		return one
	}
	return share
}
