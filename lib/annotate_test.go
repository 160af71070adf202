package lib

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/lib/apperror"
	"quill/lib/models"
)

func savedForAnnotations(t *testing.T, svc *Service, userID string) *models.SavedItem {
	t.Helper()
	_, item := seedFeedItem(t, svc, userID, models.FeedItem{GUID: "g1", Summary: "s"})
	saved, _, err := svc.SaveItem(context.Background(), userID, item.ID)
	require.NoError(t, err)
	return saved
}

func TestCreateAnnotationValidation(t *testing.T) {
	svc := newTestService(t)
	user := newTestUser(t, svc, "ann-1")
	saved := savedForAnnotations(t, svc, user.ID)
	ctx := context.Background()

	_, err := svc.CreateAnnotation(ctx, user.ID, saved.ID, "underline", "a", "")
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = svc.CreateAnnotation(ctx, user.ID, saved.ID, models.AnnotationHighlight, "", "")
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = svc.CreateAnnotation(ctx, user.ID, "no-such-saved", models.AnnotationHighlight, "a", "")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	annotation, err := svc.CreateAnnotation(ctx, user.ID, saved.ID, models.AnnotationComment, "para-3", "thoughts")
	require.NoError(t, err)
	assert.NotEmpty(t, annotation.ID)
	assert.Equal(t, "para-3", annotation.Anchor)
}

func TestAnnotationsScopedToOwner(t *testing.T) {
	svc := newTestService(t)
	owner := newTestUser(t, svc, "ann-2")
	intruder := newTestUser(t, svc, "ann-3")
	saved := savedForAnnotations(t, svc, owner.ID)
	ctx := context.Background()

	_, err := svc.CreateAnnotation(ctx, intruder.ID, saved.ID, models.AnnotationHighlight, "a", "")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = svc.ListAnnotations(ctx, intruder.ID, saved.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestUpdateAnnotationPatches(t *testing.T) {
	svc := newTestService(t)
	user := newTestUser(t, svc, "ann-4")
	saved := savedForAnnotations(t, svc, user.ID)
	ctx := context.Background()

	annotation, err := svc.CreateAnnotation(ctx, user.ID, saved.ID, models.AnnotationComment, "para-1", "before")
	require.NoError(t, err)

	text := "after"
	require.NoError(t, svc.UpdateAnnotation(ctx, user.ID, annotation.ID, nil, &text))

	stored := models.Annotation{}
	require.NoError(t, svc.db.Where("id = ?", annotation.ID).First(&stored).Error)
	assert.Equal(t, "after", stored.Text)
	// Nil anchor keeps the stored value.
	assert.Equal(t, "para-1", stored.Anchor)

	anchor := "para-2"
	require.NoError(t, svc.UpdateAnnotation(ctx, user.ID, annotation.ID, &anchor, nil))
	require.NoError(t, svc.db.Where("id = ?", annotation.ID).First(&stored).Error)
	assert.Equal(t, "para-2", stored.Anchor)
	assert.Equal(t, "after", stored.Text)

	assert.ErrorIs(t, svc.UpdateAnnotation(ctx, user.ID, "no-such-id", nil, &text), apperror.ErrNotFound)
}

func TestDeleteAndListAnnotations(t *testing.T) {
	svc := newTestService(t)
	user := newTestUser(t, svc, "ann-5")
	saved := savedForAnnotations(t, svc, user.ID)
	ctx := context.Background()

	first, err := svc.CreateAnnotation(ctx, user.ID, saved.ID, models.AnnotationHighlight, "para-1", "")
	require.NoError(t, err)
	second, err := svc.CreateAnnotation(ctx, user.ID, saved.ID, models.AnnotationComment, "para-2", "note")
	require.NoError(t, err)

	listed, err := svc.ListAnnotations(ctx, user.ID, saved.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, first.ID, listed[0].ID)
	assert.Equal(t, second.ID, listed[1].ID)

	require.NoError(t, svc.DeleteAnnotation(ctx, user.ID, first.ID))
	assert.ErrorIs(t, svc.DeleteAnnotation(ctx, user.ID, first.ID), apperror.ErrNotFound)

	listed, err = svc.ListAnnotations(ctx, user.ID, saved.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, second.ID, listed[0].ID)
}
