package bootstrap

import (
	"context"
	"testing"

	"ambassador-controlplane/pkg/config"
	"ambassador-controlplane/services/testutil"
	"ambassador-controlplane/services/user"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestMigrateSeedsPlatformAdminOnce(t *testing.T) {
	db := testutil.NewTestDB(t)

	cfg := &config.Config{}
	cfg.Platform.AdminID = "admin"
	cfg.Platform.AdminName = "Platform"
	cfg.Platform.AdminEmail = "ops@example.com"

	svc := NewService(ServiceParams{DB: db, Config: cfg})
	require.NoError(t, svc.Migrate(context.Background()))
	require.NoError(t, svc.Migrate(context.Background()))

	var admins []user.User
	require.NoError(t, db.Find(&admins).Error)
	require.Len(t, admins, 1)
	require.Equal(t, user.RoleAdmin, admins[0].Role)

	for _, m := range Models() {
		require.True(t, db.Migrator().HasTable(m))
	}
}

func TestMigrateWithoutPlatformAdmin(t *testing.T) {
	db := testutil.NewTestDB(t)

	svc := NewService(ServiceParams{DB: db, Config: &config.Config{}})
	require.NoError(t, svc.Migrate(context.Background()))

	var count int64
	require.NoError(t, db.Model(&user.User{}).Count(&count).Error)
	require.Zero(t, count)
}
