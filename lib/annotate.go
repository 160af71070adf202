package lib

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"quill/lib/apperror"
	"quill/lib/models"
)

type annotating struct {
	log *zap.Logger
	db  *gorm.DB
}

func (svc *annotating) savedItemExists(ctx context.Context, ownerID, savedItemID string) error {
	saved := models.SavedItem{}
	tx := svc.db.WithContext(ctx).
		Select("id").
		Where("id = ? AND user_id = ?", savedItemID, ownerID).
		First(&saved)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.NotFound("saved item")
	} else if err != nil {
		return err
	}
	return nil
}

// CreateAnnotation attaches a highlight or comment to a saved item. The
// anchor is stored as an opaque, already-serialized locator; nothing checks
// that it resolves against the current annotated HTML, so clients own the
// drift when content is edited.
func (svc *annotating) CreateAnnotation(ctx context.Context, ownerID, savedItemID, annotationType, anchor, text string) (*models.Annotation, error) {
	if !models.ValidAnnotationType(annotationType) {
		return nil, apperror.InvalidInput("unknown annotation type")
	}
	if anchor == "" {
		return nil, apperror.InvalidInput("anchor is required")
	}
	if err := svc.savedItemExists(ctx, ownerID, savedItemID); err != nil {
		return nil, err
	}

	annotation := models.Annotation{
		UserID:      ownerID,
		SavedItemID: savedItemID,
		Type:        annotationType,
		Anchor:      anchor,
		Text:        text,
	}
	tx := svc.db.WithContext(ctx).Create(&annotation)
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &annotation, nil
}

// UpdateAnnotation patches anchor and/or text; nil fields keep the stored
// value.
func (svc *annotating) UpdateAnnotation(ctx context.Context, ownerID, annotationID string, anchor, text *string) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if anchor != nil {
		updates["anchor"] = *anchor
	}
	if text != nil {
		updates["text"] = *text
	}

	tx := svc.db.WithContext(ctx).Model(&models.Annotation{}).
		Where("id = ? AND user_id = ?", annotationID, ownerID).
		Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return apperror.NotFound("annotation")
	}
	return nil
}

func (svc *annotating) DeleteAnnotation(ctx context.Context, ownerID, annotationID string) error {
	tx := svc.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", annotationID, ownerID).
		Delete(&models.Annotation{})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return apperror.NotFound("annotation")
	}
	return nil
}

func (svc *annotating) ListAnnotations(ctx context.Context, ownerID, savedItemID string) (models.Annotations, error) {
	if err := svc.savedItemExists(ctx, ownerID, savedItemID); err != nil {
		return nil, err
	}

	var out models.Annotations
	tx := svc.db.WithContext(ctx).
		Where("user_id = ? AND saved_item_id = ?", ownerID, savedItemID).
		Order("created_at ASC").
		Find(&out)
	return out, tx.Error
}
