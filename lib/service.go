// Package lib holds the core service: feed subscription and ingestion,
// saving items into blob storage, and annotation/tag CRUD. Every operation
// takes an explicit owner id; there is no ambient request identity here.
package lib

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quill/config"
	"quill/lib/blob"
	"quill/lib/feeds"
	"quill/lib/models"
)

type Service struct {
	cfg *config.Config
	log *zap.Logger
	db  *gorm.DB

	*subscribing
	*saving
	*annotating
	*tagging
}

func NewService(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *zap.Logger,
	db *gorm.DB,
	blobs blob.Store,
	fetcher *feeds.Fetcher,
	discoverer *feeds.Discoverer,
	parser *feeds.Parser,
) *Service {
	return &Service{
		cfg, log, db,
		&subscribing{cfg, log, db, discoverer, parser},
		&saving{cfg, log, db, blobs, fetcher},
		&annotating{log, db},
		&tagging{log, db},
	}
}

// ResolveUser returns the user for an auth subject, creating the row on
// first sight and refreshing email/name when the identity provider reports
// new values. Nothing else ever mutates a user.
func (svc *Service) ResolveUser(ctx context.Context, authSubject, email, name string) (*models.User, error) {
	user := models.User{}
	tx := svc.db.WithContext(ctx).Where("auth_subject = ?", authSubject).First(&user)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{AuthSubject: authSubject, Email: email, Name: name}
		tx = svc.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&user)
		if tx.Error != nil {
			return nil, tx.Error
		}
		if tx.RowsAffected == 0 {
			// Lost a create race; the unique index on auth_subject won.
			tx = svc.db.WithContext(ctx).Where("auth_subject = ?", authSubject).First(&user)
			if tx.Error != nil {
				return nil, tx.Error
			}
		}
		svc.log.Sugar().Infow("Created user", "user_id", user.ID, "email", email)
		return &user, nil
	} else if err != nil {
		return nil, err
	}

	if (email != "" && email != user.Email) || (name != "" && name != user.Name) {
		tx = svc.db.WithContext(ctx).Model(&user).Updates(map[string]any{"email": email, "name": name})
		if tx.Error != nil {
			return nil, tx.Error
		}
	}
	return &user, nil
}
