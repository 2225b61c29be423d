package repository

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelBoost/app/models"
)

func newDryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "pixelboost:pixelboost@tcp(127.0.0.1:3306)/pixelboost?charset=utf8mb4&parseTime=True&loc=Local",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DisableAutomaticPing: true, DryRun: true})
	require.NoError(t, err)
	return db
}

func TestListByUserQuery_NewestFirst(t *testing.T) {
	db := newDryRunDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var rows []models.UpscaleHistory
		return listByUserQuery(tx, "user_1", 50).Find(&rows)
	})

	assert.Contains(t, sql, "FROM `upscale_history`")
	assert.Contains(t, sql, "user_id = 'user_1'")
	assert.Contains(t, sql, "ORDER BY created_at DESC,id DESC")
	assert.Contains(t, sql, "LIMIT 50")
}

func TestNewRepositories(t *testing.T) {
	db := newDryRunDB(t)
	f := NewFactory(db)
	repos := f.GetRepositories()
	require.NotNil(t, repos.UpscaleHistory)
	assert.Same(t, repos, f.GetRepositories())
	assert.NotNil(t, f.GetUpscaleHistoryRepository())
}

func TestMatchedAfterUpdate(t *testing.T) {
	tests := []struct {
		name      string
		affected  int64
		count     int64
		countErr  error
		want      bool
		wantErr   bool
		wantCount bool
	}{
		{name: "changed row", affected: 1, want: true},
		{name: "same values rewritten", affected: 0, count: 1, want: true, wantCount: true},
		{name: "unknown job", affected: 0, count: 0, want: false, wantCount: true},
		{name: "count fails", affected: 0, countErr: errors.New("gone away"), wantErr: true, wantCount: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counted := false
			got, err := matchedAfterUpdate(tt.affected, func() (int64, error) {
				counted = true
				return tt.count, tt.countErr
			})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCount, counted)
		})
	}
}

func TestJobExistsQuery(t *testing.T) {
	db := newDryRunDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var n int64
		return jobExistsQuery(tx, "job_1").Count(&n)
	})

	assert.Contains(t, sql, "SELECT count(*) FROM `upscale_history`")
	assert.Contains(t, sql, "job_id = 'job_1'")
}
