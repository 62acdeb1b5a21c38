package user

import (
	"sync"
	"testing"

	"ambassador-controlplane/pkg/errutil"
	"ambassador-controlplane/services/testutil"

	"github.com/stretchr/testify/require"
)

func TestIncrementXP(t *testing.T) {
	db := testutil.NewTestDB(t, &User{})
	require.NoError(t, db.Create(&User{ID: "u1", Email: "u1@example.com", XP: 10}).Error)

	require.NoError(t, IncrementXP(db, "u1", 40))

	var got User
	require.NoError(t, db.First(&got, "id = ?", "u1").Error)
	require.Equal(t, int64(50), got.XP)

	err := IncrementXP(db, "missing", 1)
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	err = IncrementXP(db, "u1", -1)
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestIncrementBalanceConcurrent(t *testing.T) {
	db := testutil.NewTestDB(t, &User{})
	require.NoError(t, db.Create(&User{ID: "u1", Email: "u1@example.com"}).Error)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = IncrementBalance(db, "u1", "USDT", 5)
		}()
	}
	wg.Wait()

	require.NoError(t, IncrementBalance(db, "u1", "CAMP", 7))

	var got User
	require.NoError(t, db.First(&got, "id = ?", "u1").Error)
	require.Equal(t, int64(50), got.UsdtBalance)
	require.Equal(t, int64(7), got.TokenBalance)
	require.Equal(t, int64(50), got.BalanceOf("usdt"))
}
