package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelBoost/app/models"
)

// UpscaleHistoryRepository defines the database operations for upscale history
type UpscaleHistoryRepository interface {
	Create(entry *models.UpscaleHistory) error
	GetByJobID(jobID string) (*models.UpscaleHistory, error)
	ListByUserID(userID string, limit int) ([]models.UpscaleHistory, error)
	Update(entry *models.UpscaleHistory) error
	UpdateStatusByJobID(jobID, status, resultURL, errorMessage string) (bool, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	UpscaleHistory UpscaleHistoryRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		UpscaleHistory: NewUpscaleHistoryRepository(db),
	}
}
