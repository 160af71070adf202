package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"quill/config"
	"quill/lib"
	"quill/lib/apperror"
	"quill/lib/models"
	"quill/lib/refresher"
)

func NewAPI(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service, refr *refresher.Refresher) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc, refr)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go srv.ListenAndServe()
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *lib.Service, refr *refresher.Refresher) http.Handler {
	ctrl := &controller{log, svc, refr, cfg.DevUserEmail, cfg.RefreshLimit}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		if creds := cfg.GetCreds(); len(creds) > 0 {
			r.Use(middleware.BasicAuth("quill", creds))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}
		r.Use(ctrl.withUser)

		r.Get("/me", ctrl.me)

		r.Post("/refresh", ctrl.refreshDue)

		r.Route("/feeds", func(r chi.Router) {
			r.Post("/discover", ctrl.discoverFeeds)
			r.Get("/", ctrl.listFeeds)
			r.Post("/", ctrl.subscribeFeed)
			r.Post("/{feed_id}/refresh", ctrl.refreshFeed)
			r.Get("/{feed_id}/items", ctrl.listFeedItems)
		})

		r.Route("/saved", func(r chi.Router) {
			r.Get("/", ctrl.listSavedItems)
			r.Post("/", ctrl.saveItem)
			r.Get("/{saved_id}/content", ctrl.getSavedContent)
			r.Put("/{saved_id}/content", ctrl.updateSavedContent)
			r.Delete("/{saved_id}", ctrl.deleteSavedItem)
			r.Get("/{saved_id}/annotations", ctrl.listAnnotations)
		})

		r.Route("/annotations", func(r chi.Router) {
			r.Post("/", ctrl.createAnnotation)
			r.Patch("/{annotation_id}", ctrl.updateAnnotation)
			r.Delete("/{annotation_id}", ctrl.deleteAnnotation)
		})

		r.Route("/tags", func(r chi.Router) {
			r.Get("/", ctrl.listTags)
			r.Post("/", ctrl.createTag)
			r.Get("/target", ctrl.listTagsForTarget)
			r.Post("/link", ctrl.linkTag)
			r.Delete("/link", ctrl.unlinkTag)
		})
	})

	return r
}

type controller struct {
	log          *zap.Logger
	svc          *lib.Service
	refr         *refresher.Refresher
	devEmail     string
	refreshLimit int
}

type userKey struct{}

// withUser resolves the request identity to a User row, creating it on
// first sight. The basic-auth username doubles as the auth subject; with
// auth disabled everything acts as the configured dev user.
func (ctrl *controller) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _, ok := r.BasicAuth()
		if !ok || subject == "" {
			subject = ctrl.devEmail
		}

		user, err := ctrl.svc.ResolveUser(r.Context(), subject, subject, "")
		if err != nil {
			ctrl.reject(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), userKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) *models.User {
	user, _ := r.Context().Value(userKey{}).(*models.User)
	return user
}

func (ctrl *controller) reject(w http.ResponseWriter, err error) {
	if vc, ok := apperror.AsConflict(err); ok {
		ctrl.resolve(w, http.StatusConflict, map[string]any{
			"error":          "version_conflict",
			"currentVersion": vc.Current,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperror.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, apperror.ErrUpstreamFetch):
		status = http.StatusBadGateway
	case errors.Is(err, apperror.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		ctrl.log.Sugar().Errorw("Request failed", "err", err)
	}
	http.Error(w, err.Error(), status)
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		ctrl.log.Sugar().Errorw("Response marshalling failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func decode[T any](r *http.Request) (T, error) {
	var body T
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return body, apperror.InvalidInput("malformed request body")
	}
	return body, nil
}

func clampLimit(r *http.Request, fallback int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		limit = fallback
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	return limit
}

// cursorValue serializes a pagination cursor. RFC3339Nano keeps fractional
// seconds, so the value round-trips exactly through cursorParam; truncating
// would skip rows sharing the second with the page boundary.
func cursorValue(t time.Time) *string {
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func cursorParam(r *http.Request) *time.Time {
	raw := r.URL.Query().Get("cursor")
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	return &t
}

func (ctrl *controller) me(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	ctrl.resolve(w, http.StatusOK, map[string]any{"id": user.ID, "email": user.Email})
}

func (ctrl *controller) discoverFeeds(w http.ResponseWriter, r *http.Request) {
	body, err := decode[struct {
		URL string `json:"url"`
	}](r)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	if body.URL == "" {
		ctrl.reject(w, apperror.InvalidInput("url is required"))
		return
	}

	candidates := ctrl.svc.DiscoverFeeds(r.Context(), body.URL)
	ctrl.resolve(w, http.StatusOK, map[string]any{"candidates": candidates})
}

func (ctrl *controller) listFeeds(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	feeds, err := ctrl.svc.ListFeeds(r.Context(), user.ID)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"feeds": FromMany[models.Feed, FeedView](feeds)})
}

func (ctrl *controller) subscribeFeed(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	body, err := decode[struct {
		URL string `json:"url"`
	}](r)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	if body.URL == "" {
		ctrl.reject(w, apperror.InvalidInput("url is required"))
		return
	}

	feed, created, err := ctrl.svc.SubscribeFeed(r.Context(), user.ID, body.URL)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{
		"feed":    FeedView{}.From(*feed),
		"created": created,
	})
}

func (ctrl *controller) refreshFeed(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	feedID := chi.URLParam(r, "feed_id")

	inserted, err := ctrl.svc.RefreshFeed(r.Context(), user.ID, feedID)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"status": "ok", "inserted": inserted})
}

func (ctrl *controller) listFeedItems(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	feedID := chi.URLParam(r, "feed_id")
	limit := clampLimit(r, 30)
	cursor := cursorParam(r)

	items, err := ctrl.svc.ListFeedItems(r.Context(), user.ID, feedID, limit, cursor)
	if err != nil {
		ctrl.reject(w, err)
		return
	}

	var nextCursor *string
	if len(items) > 0 {
		nextCursor = cursorValue(items[len(items)-1].FetchedAt)
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{
		"items":      FromMany[models.FeedItem, FeedItemView](items),
		"nextCursor": nextCursor,
	})
}

// refreshDue is the external timer trigger for the scheduled bulk refresh;
// the only parameter is the batch size limit.
func (ctrl *controller) refreshDue(w http.ResponseWriter, r *http.Request) {
	limit := ctrl.refreshLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	metrics := ctrl.refr.RunOnce(r.Context(), limit)
	ctrl.resolve(w, http.StatusOK, metrics)
}

func (ctrl *controller) listSavedItems(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	limit := clampLimit(r, 30)
	cursor := cursorParam(r)

	views, err := ctrl.svc.ListSavedItems(r.Context(), user.ID, limit, cursor)
	if err != nil {
		ctrl.reject(w, err)
		return
	}

	var nextCursor *string
	if len(views) > 0 {
		nextCursor = cursorValue(views[len(views)-1].SavedAt)
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{
		"items":      FromMany[models.SavedItemView, SavedItemListView](views),
		"nextCursor": nextCursor,
	})
}

func (ctrl *controller) saveItem(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	body, err := decode[struct {
		FeedItemID string `json:"feedItemId"`
	}](r)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	if body.FeedItemID == "" {
		ctrl.reject(w, apperror.InvalidInput("feedItemId is required"))
		return
	}

	saved, created, err := ctrl.svc.SaveItem(r.Context(), user.ID, body.FeedItemID)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{
		"saved":   SavedItemApiView{}.From(*saved),
		"created": created,
	})
}

func (ctrl *controller) getSavedContent(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	savedID := chi.URLParam(r, "saved_id")

	html, version, err := ctrl.svc.GetSavedContent(r.Context(), user.ID, savedID)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"html": string(html), "version": version})
}

func (ctrl *controller) updateSavedContent(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	savedID := chi.URLParam(r, "saved_id")
	body, err := decode[struct {
		HTML    string `json:"html"`
		Version *int   `json:"version"`
	}](r)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	if body.HTML == "" || body.Version == nil {
		ctrl.reject(w, apperror.InvalidInput("html and version are required"))
		return
	}

	next, err := ctrl.svc.UpdateSavedContent(r.Context(), user.ID, savedID, body.HTML, *body.Version)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"ok": true, "version": next})
}

func (ctrl *controller) deleteSavedItem(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	savedID := chi.URLParam(r, "saved_id")

	if err := ctrl.svc.DeleteSavedItem(r.Context(), user.ID, savedID); err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"ok": true})
}

func (ctrl *controller) listAnnotations(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	savedID := chi.URLParam(r, "saved_id")

	annotations, err := ctrl.svc.ListAnnotations(r.Context(), user.ID, savedID)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{
		"annotations": FromMany[models.Annotation, AnnotationView](annotations),
	})
}

func (ctrl *controller) createAnnotation(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	body, err := decode[struct {
		SavedItemID string          `json:"savedItemId"`
		Type        string          `json:"type"`
		Anchor      json.RawMessage `json:"anchor"`
		Text        string          `json:"text"`
	}](r)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	if body.SavedItemID == "" || body.Type == "" || len(body.Anchor) == 0 {
		ctrl.reject(w, apperror.InvalidInput("savedItemId, type and anchor are required"))
		return
	}

	annotation, err := ctrl.svc.CreateAnnotation(
		r.Context(), user.ID, body.SavedItemID, body.Type, anchorString(body.Anchor), body.Text)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"annotation": AnnotationView{}.From(*annotation)})
}

func (ctrl *controller) updateAnnotation(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	annotationID := chi.URLParam(r, "annotation_id")
	body, err := decode[struct {
		Anchor json.RawMessage `json:"anchor"`
		Text   *string         `json:"text"`
	}](r)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	if len(body.Anchor) == 0 && body.Text == nil {
		ctrl.reject(w, apperror.InvalidInput("anchor or text is required"))
		return
	}

	var anchor *string
	if len(body.Anchor) > 0 {
		s := anchorString(body.Anchor)
		anchor = &s
	}

	if err := ctrl.svc.UpdateAnnotation(r.Context(), user.ID, annotationID, anchor, body.Text); err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"ok": true})
}

func (ctrl *controller) deleteAnnotation(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	annotationID := chi.URLParam(r, "annotation_id")

	if err := ctrl.svc.DeleteAnnotation(r.Context(), user.ID, annotationID); err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"ok": true})
}

// anchorString keeps string anchors as-is and stores any other JSON value
// in its serialized form. Anchors are opaque to the service.
func anchorString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (ctrl *controller) listTags(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	query := r.URL.Query().Get("query")
	limit := clampLimit(r, 20)

	tags, err := ctrl.svc.ListTags(r.Context(), user.ID, query, limit)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"tags": FromMany[models.Tag, TagView](tags)})
}

func (ctrl *controller) createTag(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	body, err := decode[struct {
		Name string `json:"name"`
	}](r)
	if err != nil {
		ctrl.reject(w, err)
		return
	}

	tag, created, err := ctrl.svc.CreateTag(r.Context(), user.ID, body.Name)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"tag": TagView{}.From(*tag), "created": created})
}

func (ctrl *controller) listTagsForTarget(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	target, err := models.ParseTagTarget(r.URL.Query().Get("type"))
	if err != nil {
		ctrl.reject(w, apperror.InvalidInput(err.Error()))
		return
	}
	targetID := r.URL.Query().Get("id")
	if targetID == "" {
		ctrl.reject(w, apperror.InvalidInput("id is required"))
		return
	}

	tags, err := ctrl.svc.ListTagsForTarget(r.Context(), user.ID, target, targetID)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"tags": FromMany[models.Tag, TagView](tags)})
}

type tagLinkRequest struct {
	TargetType string `json:"targetType"`
	TargetID   string `json:"targetId"`
	TagID      string `json:"tagId"`
}

func (ctrl *controller) linkTag(w http.ResponseWriter, r *http.Request) {
	ctrl.mutateTagLink(w, r, ctrl.svc.LinkTag)
}

func (ctrl *controller) unlinkTag(w http.ResponseWriter, r *http.Request) {
	ctrl.mutateTagLink(w, r, ctrl.svc.UnlinkTag)
}

func (ctrl *controller) mutateTagLink(
	w http.ResponseWriter, r *http.Request,
	op func(context.Context, string, models.TagTarget, string, string) error,
) {
	user := userFrom(r)
	body, err := decode[tagLinkRequest](r)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	if body.TargetID == "" || body.TagID == "" {
		ctrl.reject(w, apperror.InvalidInput("targetType, targetId and tagId are required"))
		return
	}
	target, err := models.ParseTagTarget(body.TargetType)
	if err != nil {
		ctrl.reject(w, apperror.InvalidInput(err.Error()))
		return
	}

	if err := op(r.Context(), user.ID, target, body.TargetID, body.TagID); err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"ok": true})
}
