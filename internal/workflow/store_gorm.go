package workflow

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the durable ProgressStore. It works against any GORM dialect;
// production uses sqlite or mysql.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&SubmissionProgress{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Put(ctx context.Context, rec *SubmissionProgress) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(rec).Error
}

func (s *GormStore) Get(ctx context.Context, id string) (*SubmissionProgress, error) {
	var rec SubmissionProgress
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) List(ctx context.Context) ([]*SubmissionProgress, error) {
	var recs []*SubmissionProgress
	if err := s.db.WithContext(ctx).
		Order("started_at ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *GormStore) FindByContentID(ctx context.Context, campaignID, contentID string) (*SubmissionProgress, error) {
	if contentID == "" {
		return nil, ErrNotFound
	}
	var rec SubmissionProgress
	if err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND content_id = ?", campaignID, contentID).
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) ListUnfinished(ctx context.Context) ([]*SubmissionProgress, error) {
	var recs []*SubmissionProgress
	if err := s.db.WithContext(ctx).
		Where("status NOT IN ?", []Status{StatusCompleted, StatusFailed}).
		Order("started_at ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *GormStore) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []Status{StatusCompleted, StatusFailed}, cutoff).
		Delete(&SubmissionProgress{})
	return res.RowsAffected, res.Error
}
