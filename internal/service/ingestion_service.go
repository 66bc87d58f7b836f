package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"klubban/internal/entity"
	"klubban/internal/metrics"
	"klubban/internal/repository"
	"klubban/internal/strava"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type IngestionConfig struct {
	PageSize    int
	PageTimeout time.Duration
	// Lookback bounds the first sync of a member with no stored rides.
	Lookback time.Duration
	// Overlap is re-fetched before the latest stored ride to pick up edits.
	Overlap time.Duration

	LeaderboardWindow time.Duration
	LeaderboardLimit  int
}

// IngestionService pulls Strava rides into the store. Syncs are idempotent:
// the unique Strava activity id decides between insert and update.
type IngestionService struct {
	users      repository.UserRepository
	links      repository.StravaLinkRepository
	activities repository.StravaActivityRepository
	linker     *LinkerService
	provider   StravaProvider
	clock      Clock
	config     IngestionConfig
	logger     *logrus.Logger
}

func NewIngestionService(
	users repository.UserRepository,
	links repository.StravaLinkRepository,
	activities repository.StravaActivityRepository,
	linker *LinkerService,
	provider StravaProvider,
	clock Clock,
	config IngestionConfig,
	logger *logrus.Logger,
) *IngestionService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &IngestionService{
		users:      users,
		links:      links,
		activities: activities,
		linker:     linker,
		provider:   provider,
		clock:      clock,
		config:     config,
		logger:     logger,
	}
}

// Sync fetches rides since the low-water mark and returns how many new rows
// were inserted. When a page fails, rows from earlier pages stay committed and
// the count so far is returned with the error.
func (s *IngestionService) Sync(ctx context.Context, userID uuid.UUID) (int, error) {
	inserted, err := s.sync(ctx, userID)
	metrics.SyncRuns.WithLabelValues(metrics.Status(err)).Inc()
	return inserted, err
}

func (s *IngestionService) sync(ctx context.Context, userID uuid.UUID) (int, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, ErrUserNotFound
	}
	if !user.IsActive() {
		return 0, ErrUserNotActive
	}
	link, err := s.links.FindByUserID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if link == nil {
		return 0, ErrNotLinked
	}

	accessToken, err := s.linker.ValidAccessToken(ctx, link)
	if err != nil {
		return 0, err
	}

	after, err := s.lowWaterMark(ctx, userID)
	if err != nil {
		return 0, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"after":   after.Format(time.RFC3339),
	})

	pageSize := s.pageSize()
	inserted := 0
	for page := 1; ; page++ {
		items, err := s.fetchPage(ctx, accessToken, after, page, pageSize)
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"page":     page,
				"inserted": inserted,
			}).Warn("strava sync abandoned")
			if errors.Is(err, strava.ErrUnauthorized) {
				return inserted, fmt.Errorf("%w: %v", ErrReconnectRequired, err)
			}
			return inserted, fmt.Errorf("%w: page %d: %v", ErrExternalProvider, page, err)
		}

		syncedAt := s.now()
		for _, item := range items {
			if item.Type != entity.RideType {
				metrics.ActivitiesIngested.WithLabelValues("skipped").Inc()
				continue
			}
			created, err := s.upsert(ctx, userID, item, syncedAt)
			if err != nil {
				return inserted, err
			}
			if created {
				inserted++
				metrics.ActivitiesIngested.WithLabelValues("inserted").Inc()
			} else {
				metrics.ActivitiesIngested.WithLabelValues("updated").Inc()
			}
		}

		if len(items) < pageSize {
			break
		}
	}

	log.WithField("inserted", inserted).Info("strava sync finished")
	return inserted, nil
}

func (s *IngestionService) fetchPage(ctx context.Context, accessToken string, after time.Time, page, pageSize int) ([]strava.Activity, error) {
	pageCtx, cancel := context.WithTimeout(ctx, s.pageTimeout())
	defer cancel()
	return s.provider.ListActivities(pageCtx, accessToken, after, page, pageSize)
}

// upsert reports whether a new row was inserted. A unique violation on insert
// means a concurrent sync inserted it first, so it becomes an update.
func (s *IngestionService) upsert(ctx context.Context, userID uuid.UUID, item strava.Activity, syncedAt time.Time) (bool, error) {
	record := toActivityRecord(userID, item, syncedAt)

	existing, err := s.activities.FindByStravaID(ctx, item.ID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, s.activities.UpdateSynced(ctx, record)
	}

	err = s.activities.Create(ctx, record)
	if errors.Is(err, repository.ErrDuplicate) {
		return false, s.activities.UpdateSynced(ctx, record)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *IngestionService) lowWaterMark(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	latest, err := s.activities.LatestStartDate(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	if latest != nil {
		return latest.Add(-s.overlap()), nil
	}
	return s.now().Add(-s.lookback()), nil
}

func (s *IngestionService) Leaderboard(ctx context.Context) ([]repository.LeaderboardEntry, error) {
	since := s.now().Add(-s.leaderboardWindow())
	return s.activities.Leaderboard(ctx, since, s.leaderboardLimit())
}

func (s *IngestionService) ListActivities(ctx context.Context, userID uuid.UUID, limit int) ([]entity.StravaActivity, error) {
	return s.activities.ListByUser(ctx, userID, limit)
}

func (s *IngestionService) ActivitiesBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]entity.StravaActivity, error) {
	if !from.Before(to) {
		return nil, &ValidationError{Fields: map[string]string{"to": "must be after from"}}
	}
	return s.activities.ListByUserBetween(ctx, userID, from, to)
}

func toActivityRecord(userID uuid.UUID, item strava.Activity, syncedAt time.Time) *entity.StravaActivity {
	record := &entity.StravaActivity{
		StravaID:           item.ID,
		UserID:             userID,
		Name:               item.Name,
		ActivityType:       item.Type,
		DistanceMeters:     item.Distance,
		MovingTimeSeconds:  item.MovingTime,
		ElapsedTimeSeconds: item.ElapsedTime,
		TotalElevationGain: item.TotalElevationGain,
		StartDateLocal:     item.StartDateLocal,
		AverageSpeed:       item.AverageSpeed,
		MaxSpeed:           item.MaxSpeed,
		SyncedAt:           syncedAt,
	}
	if item.StartDate != nil {
		start := item.StartDate.UTC()
		record.StartDate = &start
	}
	return record
}

func (s *IngestionService) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}

func (s *IngestionService) pageSize() int {
	if s.config.PageSize > 0 {
		return s.config.PageSize
	}
	return 50
}

func (s *IngestionService) pageTimeout() time.Duration {
	if s.config.PageTimeout > 0 {
		return s.config.PageTimeout
	}
	return 15 * time.Second
}

func (s *IngestionService) lookback() time.Duration {
	if s.config.Lookback > 0 {
		return s.config.Lookback
	}
	return 90 * 24 * time.Hour
}

func (s *IngestionService) overlap() time.Duration {
	if s.config.Overlap > 0 {
		return s.config.Overlap
	}
	return time.Hour
}

func (s *IngestionService) leaderboardWindow() time.Duration {
	if s.config.LeaderboardWindow > 0 {
		return s.config.LeaderboardWindow
	}
	return 30 * 24 * time.Hour
}

func (s *IngestionService) leaderboardLimit() int {
	if s.config.LeaderboardLimit > 0 {
		return s.config.LeaderboardLimit
	}
	return 10
}
