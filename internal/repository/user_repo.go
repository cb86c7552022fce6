package repository

import (
	"context"
	"errors"
	"time"

	"github.com/marifactor/push-pipeline/internal/domain"
	"gorm.io/gorm"
)

// UserRepository is the pipeline's narrow view of the user store: read the
// token, flag it invalid, and clear it once the invalidation sweep runs.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	MarkTokenInvalid(ctx context.Context, id string, errCode string) error
	ListWithInvalidToken(ctx context.Context, limit int) ([]domain.User, error)
	ClearToken(ctx context.Context, id string) error
}

type GormUserRepo struct {
	db *gorm.DB
}

func NewGormUserRepo(db *gorm.DB) *GormUserRepo {
	return &GormUserRepo{db: db}
}

func (r *GormUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var model UserModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return userModelToDomain(&model), nil
}

func (r *GormUserRepo) MarkTokenInvalid(ctx context.Context, id string, errCode string) error {
	result := r.db.WithContext(ctx).
		Model(&UserModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"token_valid":      false,
			"token_error":      errCode,
			"token_error_time": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormUserRepo) ListWithInvalidToken(ctx context.Context, limit int) ([]domain.User, error) {
	var models []UserModel
	query := r.db.WithContext(ctx).Where("token_valid = ?", false)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	users := make([]domain.User, 0, len(models))
	for i := range models {
		users = append(users, *userModelToDomain(&models[i]))
	}
	return users, nil
}

// ClearToken returns the user to a clean "no token" state pending
// re-registration.
func (r *GormUserRepo) ClearToken(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&UserModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"delivery_token":   nil,
			"token_valid":      nil,
			"token_error":      nil,
			"token_error_time": nil,
		}).Error
}
