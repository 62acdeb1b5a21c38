package user

import (
	"ambassador-controlplane/pkg/errutil"

	"gorm.io/gorm"
)

// IncrementXP adds amount to the user's xp with a single atomic UPDATE.
// It must run on the caller's transaction so the credit commits together
// with whatever justified it.
func IncrementXP(tx *gorm.DB, userID string, amount int64) error {
	if amount < 0 {
		return errutil.ValidationFailed("xp credit must not be negative", nil)
	}

	res := tx.Model(&User{}).
		Where("id = ?", userID).
		Update("xp", gorm.Expr("xp + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("user not found", nil)
	}
	return nil
}

// IncrementBalance adds amount to the balance column of token.
func IncrementBalance(tx *gorm.DB, userID, token string, amount int64) error {
	if amount < 0 {
		return errutil.ValidationFailed("balance credit must not be negative", nil)
	}

	column := BalanceColumn(token)
	res := tx.Model(&User{}).
		Where("id = ?", userID).
		Update(column, gorm.Expr(column+" + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("user not found", nil)
	}
	return nil
}

// Snapshot reads the user's current balances on tx.
func Snapshot(tx *gorm.DB, userID string) (*User, error) {
	var u User
	if err := tx.Select("id", "xp", "token_balance", "usdt_balance").Where("id = ?", userID).Take(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
