package lib

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quill/lib/apperror"
	"quill/lib/models"
)

type tagging struct {
	log *zap.Logger
	db  *gorm.DB
}

// CreateTag creates a tag with a per-user unique name. Creating an existing
// name returns the existing tag unchanged.
func (svc *tagging) CreateTag(ctx context.Context, ownerID, name string) (*models.Tag, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, apperror.InvalidInput("tag name is required")
	}

	existing := models.Tag{}
	tx := svc.db.WithContext(ctx).
		Where("user_id = ? AND name = ?", ownerID, name).
		First(&existing)
	if tx.Error == nil {
		return &existing, false, nil
	}
	if !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return nil, false, tx.Error
	}

	tag := models.Tag{UserID: ownerID, Name: name}
	tx = svc.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&tag)
	if tx.Error != nil {
		return nil, false, tx.Error
	}
	if tx.RowsAffected == 0 {
		tx = svc.db.WithContext(ctx).
			Where("user_id = ? AND name = ?", ownerID, name).
			First(&existing)
		if tx.Error != nil {
			return nil, false, tx.Error
		}
		return &existing, false, nil
	}
	return &tag, true, nil
}

// LinkTag attaches a tag to a feed or saved item. Linking twice is a no-op.
func (svc *tagging) LinkTag(ctx context.Context, ownerID string, target models.TagTarget, targetID, tagID string) error {
	tag := models.Tag{}
	tx := svc.db.WithContext(ctx).
		Select("id").
		Where("id = ? AND user_id = ?", tagID, ownerID).
		First(&tag)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.NotFound("tag")
	} else if err != nil {
		return err
	}

	link := models.TagLink{
		UserID:     ownerID,
		TargetType: string(target),
		TargetID:   targetID,
		TagID:      tagID,
	}
	tx = svc.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&link)
	return tx.Error
}

func (svc *tagging) UnlinkTag(ctx context.Context, ownerID string, target models.TagTarget, targetID, tagID string) error {
	tx := svc.db.WithContext(ctx).
		Where("user_id = ? AND target_type = ? AND target_id = ? AND tag_id = ?",
			ownerID, string(target), targetID, tagID).
		Delete(&models.TagLink{})
	return tx.Error
}

// ListTags returns the owner's tags matching an optional substring query,
// name-ordered.
func (svc *tagging) ListTags(ctx context.Context, ownerID, query string, limit int) (models.Tags, error) {
	like := "%"
	if query != "" {
		like = "%" + query + "%"
	}

	var out models.Tags
	tx := svc.db.WithContext(ctx).
		Where("user_id = ? AND name LIKE ?", ownerID, like).
		Order("name ASC").
		Limit(limit).
		Find(&out)
	return out, tx.Error
}

func (svc *tagging) ListTagsForTarget(ctx context.Context, ownerID string, target models.TagTarget, targetID string) (models.Tags, error) {
	var out models.Tags
	tx := svc.db.WithContext(ctx).Model(&models.Tag{}).
		Joins("JOIN tag_links ON tag_links.tag_id = tags.id").
		Where("tag_links.user_id = ? AND tag_links.target_type = ? AND tag_links.target_id = ?",
			ownerID, string(target), targetID).
		Order("tags.name ASC").
		Find(&out)
	return out, tx.Error
}
