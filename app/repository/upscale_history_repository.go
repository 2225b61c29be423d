package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelBoost/app/models"
)

// DefaultHistoryLimit caps history listings
const DefaultHistoryLimit = 50

// upscaleHistoryRepository implements the UpscaleHistoryRepository interface
type upscaleHistoryRepository struct {
	db *gorm.DB
}

// NewUpscaleHistoryRepository creates a new upscale history repository instance
func NewUpscaleHistoryRepository(db *gorm.DB) UpscaleHistoryRepository {
	return &upscaleHistoryRepository{db: db}
}

// Create inserts a new history row
func (r *upscaleHistoryRepository) Create(entry *models.UpscaleHistory) error {
	return r.db.Create(entry).Error
}

// GetByJobID retrieves a history row by its job id
func (r *upscaleHistoryRepository) GetByJobID(jobID string) (*models.UpscaleHistory, error) {
	var entry models.UpscaleHistory
	if err := r.db.Where("job_id = ?", jobID).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListByUserID returns the newest history rows of a user
func (r *upscaleHistoryRepository) ListByUserID(userID string, limit int) ([]models.UpscaleHistory, error) {
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	var entries []models.UpscaleHistory
	err := listByUserQuery(r.db, userID, limit).Find(&entries).Error
	return entries, err
}

func listByUserQuery(db *gorm.DB, userID string, limit int) *gorm.DB {
	return db.Model(&models.UpscaleHistory{}).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit)
}

// Update saves all fields of an existing row
func (r *upscaleHistoryRepository) Update(entry *models.UpscaleHistory) error {
	return r.db.Save(entry).Error
}

// UpdateStatusByJobID sets the status of a job and reports whether a row matched
func (r *upscaleHistoryRepository) UpdateStatusByJobID(jobID, status, resultURL, errorMessage string) (bool, error) {
	updates := map[string]interface{}{"status": status}
	if resultURL != "" {
		updates["result_url"] = resultURL
	}
	if errorMessage != "" {
		updates["error_message"] = errorMessage
	}
	res := r.db.Model(&models.UpscaleHistory{}).Where("job_id = ?", jobID).Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return matchedAfterUpdate(res.RowsAffected, func() (int64, error) {
		var n int64
		err := jobExistsQuery(r.db, jobID).Count(&n).Error
		return n, err
	})
}

// matchedAfterUpdate reports whether an update hit a row. MySQL counts only
// changed rows, so a write that repeats the stored values is confirmed with count.
func matchedAfterUpdate(affected int64, count func() (int64, error)) (bool, error) {
	if affected > 0 {
		return true, nil
	}
	n, err := count()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func jobExistsQuery(db *gorm.DB, jobID string) *gorm.DB {
	return db.Model(&models.UpscaleHistory{}).Where("job_id = ?", jobID)
}
