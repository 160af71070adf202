package app

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"quill/config"
	"quill/lib/blob"
	"quill/lib/models"
)

func NewDatabase(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{})
	if err != nil {
		log.Sugar().Panicw("failed to connect database", "err", err)
	}
	log.Info("Database started")

	log.Info("Starting migrations")
	err = db.AutoMigrate(
		&models.User{},
		&models.Feed{},
		&models.FeedItem{},
		&models.SavedItem{},
		&models.Annotation{},
		&models.Tag{},
		&models.TagLink{},
	)
	if err != nil {
		log.Sugar().Panicw("failed to migrate database", "err", err)
	}
	return db
}

// NewBlobStore wires the article blob store. A root that can't be prepared
// is a startup failure.
func NewBlobStore(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) blob.Store {
	store, err := blob.NewFilesystemStore(cfg.BlobRoot)
	if err != nil {
		log.Sugar().Panicw("failed to open blob store", "err", err)
	}
	log.Sugar().Infow("Blob store started", "root", cfg.BlobRoot)
	return store
}
