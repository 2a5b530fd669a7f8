// Package storage holds the boundary between generation requests and the
// asset store. Request parameters may reference externally hosted files;
// those references are exchanged for internal storage keys before anything
// is persisted.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrUnresolvable = errors.New("storage_unresolvable_url")

// Resolver exchanges an external URL for an internal storage key.
type Resolver interface {
	StoreFromURL(ctx context.Context, rawURL string) (string, error)
}

// StorageObject indexes one ingested external file by its source URL, so the
// same URL resolves to the same key on repeat requests.
type StorageObject struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Key       string       `gorm:"type:text;not null;uniqueIndex:ux_storage_objects_key" json:"key"`
	SourceURL string       `gorm:"type:text;not null;index" json:"source_url"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (StorageObject) TableName() string { return "storage_objects" }

// IsExternalURL reports whether a string value is an externally hosted
// http(s) reference rather than an internal key.
func IsExternalURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

type objectIndex struct {
	db    *gorm.DB
	log   *zap.Logger
	genID func() snowflake.ID
}

// NewObjectIndex builds the database-backed resolver. The actual byte
// transfer is owned by the upload pipeline; the index only guarantees a
// stable key per source URL.
func NewObjectIndex(db *gorm.DB, log *zap.Logger, node *snowflake.Node) Resolver {
	return &objectIndex{
		db:    db,
		log:   log.Named("storage.resolver"),
		genID: node.Generate,
	}
}

func (r *objectIndex) StoreFromURL(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" || !IsExternalURL(rawURL) {
		return "", fmt.Errorf("%w: %q", ErrUnresolvable, rawURL)
	}

	var existing StorageObject
	err = r.db.WithContext(ctx).
		Where("source_url = ?", rawURL).
		Order("created_at ASC").
		First(&existing).Error
	if err == nil {
		return existing.Key, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	obj := StorageObject{
		ID:        r.genID(),
		SourceURL: rawURL,
	}
	obj.Key = fmt.Sprintf("objects/%d%s", obj.ID, extensionOf(parsed.Path))
	if err := r.db.WithContext(ctx).Create(&obj).Error; err != nil {
		return "", err
	}

	r.log.Debug("indexed external url",
		zap.String("key", obj.Key),
		zap.String("host", parsed.Host),
	)
	return obj.Key, nil
}

func extensionOf(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 || idx == len(path)-1 {
		return ""
	}
	ext := path[idx:]
	if len(ext) > 8 || strings.Contains(ext, "/") {
		return ""
	}
	return strings.ToLower(ext)
}
