package repository

import (
	"context"
	"errors"
	"time"

	"klubban/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error
	CreateWithStravaLink(ctx context.Context, user *entity.User, link *entity.StravaLink) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error)
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByUsername(ctx context.Context, username string) (*entity.User, error)
	FindByLogin(ctx context.Context, identifier string) (*entity.User, error)
	UpdateProfile(ctx context.Context, user *entity.User) error
	UpdateRole(ctx context.Context, id uuid.UUID, role entity.UserRole) error
	TransitionState(ctx context.Context, user *entity.User, from entity.UserState) error
	TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error
	ListByState(ctx context.Context, state entity.UserState, limit, offset int) ([]entity.User, error)
	ListByRoles(ctx context.Context, roles ...entity.UserRole) ([]entity.User, error)
	List(ctx context.Context, limit, offset int) ([]entity.User, error)
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *entity.User) error {
	return translate(r.db.WithContext(ctx).Create(user).Error)
}

// CreateWithStravaLink inserts a Strava-originated user and its link atomically,
// so a lost race on the athlete id never leaves an orphan account behind.
func (r *userRepository) CreateWithStravaLink(ctx context.Context, user *entity.User, link *entity.StravaLink) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("StravaLink").Create(user).Error; err != nil {
			return translate(err)
		}
		link.UserID = user.ID
		if err := tx.Create(link).Error; err != nil {
			return translate(err)
		}
		user.StravaLink = link
		return nil
	})
}

func (r *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.first(ctx, "email = ?", email)
}

func (r *userRepository) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	return r.first(ctx, "username = ?", username)
}

func (r *userRepository) FindByLogin(ctx context.Context, identifier string) (*entity.User, error) {
	return r.first(ctx, "username = ? OR email = ?", identifier, identifier)
}

func (r *userRepository) first(ctx context.Context, query string, args ...any) (*entity.User, error) {
	var user entity.User
	err := r.db.WithContext(ctx).
		Preload("StravaLink").
		Where(query, args...).
		First(&user).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, user *entity.User) error {
	return r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"display_name":       user.DisplayName,
			"bio":                user.Bio,
			"avatar_url":         user.AvatarURL,
			"leaderboard_opt_in": user.LeaderboardOptIn,
			"updated_at":         time.Now(),
		}).Error
}

func (r *userRepository) UpdateRole(ctx context.Context, id uuid.UUID, role entity.UserRole) error {
	return r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"role": role, "updated_at": time.Now()}).
		Error
}

// TransitionState writes the lifecycle columns of user only if the stored state
// still equals from. A concurrent transition makes it return ErrStaleState.
func (r *userRepository) TransitionState(ctx context.Context, user *entity.User, from entity.UserState) error {
	result := r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ? AND state = ?", user.ID, from).
		Updates(map[string]any{
			"state":             user.State,
			"email_verified_at": user.EmailVerifiedAt,
			"approved_at":       user.ApprovedAt,
			"approved_by_id":    user.ApprovedByID,
			"rejection_reason":  user.RejectionReason,
			"suspended_reason":  user.SuspendedReason,
			"updated_at":        user.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *userRepository) TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", id).
		Update("last_seen_at", at).
		Error
}

func (r *userRepository) ListByState(ctx context.Context, state entity.UserState, limit, offset int) ([]entity.User, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("state = ?", state), limit, offset)
}

func (r *userRepository) ListByRoles(ctx context.Context, roles ...entity.UserRole) ([]entity.User, error) {
	var users []entity.User
	if err := r.db.WithContext(ctx).Where("role IN ?", roles).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *userRepository) List(ctx context.Context, limit, offset int) ([]entity.User, error) {
	return r.list(ctx, r.db.WithContext(ctx), limit, offset)
}

func (r *userRepository) list(_ context.Context, query *gorm.DB, limit, offset int) ([]entity.User, error) {
	var users []entity.User
	query = query.Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
