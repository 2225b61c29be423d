package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelBoost/app/models"
)

// newDryRunDB opens a MySQL dialect handle that never connects.
func newDryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "pixelboost:pixelboost@tcp(127.0.0.1:3306)/pixelboost?charset=utf8mb4&parseTime=True&loc=Local",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DisableAutomaticPing: true, DryRun: true})
	require.NoError(t, err)
	return db
}

func TestCreditIncrementQuery_IsSingleAtomicUpsert(t *testing.T) {
	db := newDryRunDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return creditIncrementQuery(tx, "user_1", 5)
	})

	assert.Contains(t, sql, "INSERT INTO `credit_accounts`")
	assert.Contains(t, sql, "'user_1',5")
	assert.Contains(t, sql, "ON DUPLICATE KEY UPDATE `credits`=credits + 5")
	assert.NotContains(t, sql, "SELECT")
}

func TestLedgerInsertQuery_IgnoresDuplicates(t *testing.T) {
	db := newDryRunDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return ledgerInsertQuery(tx, &models.CreditLedgerEntry{
			UserID:          "user_1",
			Provider:        models.BillingProviderPaddle,
			ProviderEventID: "evt_1",
			Reason:          models.CreditReasonPurchase,
			PriceID:         "pri_1",
			Delta:           5,
		})
	})

	assert.Contains(t, sql, "INSERT INTO `credit_ledger_entries`")
	assert.Contains(t, sql, "'evt_1'")
	assert.Contains(t, sql, "ON DUPLICATE KEY UPDATE `id`=`id`")
}

func TestCreditDecrementQuery_GuardsBalance(t *testing.T) {
	db := newDryRunDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return creditDecrementQuery(tx, "user_1", 2)
	})

	assert.Contains(t, sql, "UPDATE `credit_accounts` SET `credits`=credits - 2")
	assert.Contains(t, sql, "WHERE user_id = 'user_1' AND credits >= 2")
}
