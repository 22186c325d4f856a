package data

import (
	"context"
	"time"

	pkgerrors "RouteLane/pkg/errors"

	"RouteLane/pkg/crypto"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// UpstreamProvider is the GORM model for the upstream_providers table.
// Rows are owned by configuration tooling; the gateway only reads them.
type UpstreamProvider struct {
	ID              int64     `gorm:"primaryKey;column:id"`
	Key             string    `gorm:"column:provider_key;size:64;not null;uniqueIndex"`
	Name            string    `gorm:"column:name;size:100;not null"`
	BaseURL         string    `gorm:"column:base_url;size:255;not null"`
	APIKeyEncrypted string    `gorm:"column:api_key_encrypted;type:text"`
	Weight          int32     `gorm:"column:weight;default:1;not null"`
	Enabled         bool      `gorm:"column:enabled;default:true;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (UpstreamProvider) TableName() string {
	return "upstream_providers"
}

// ProviderRecord is the provider row handed to the biz layer after credential
// decryption. It mirrors biz.ProviderSpec field-for-field; the biz layer owns
// the conversion to keep this package free of upward imports.
type ProviderRecord struct {
	Key     string
	Name    string
	BaseURL string
	APIKey  string
	Weight  int32
	Enabled bool
}

// ProviderRepo implements biz.ProviderRepo backed by MySQL with a two-tier
// cache in front. Cached rows keep credentials encrypted; decryption happens
// after every fetch so plaintext keys never reach Redis.
type ProviderRepo struct {
	db     *gorm.DB
	cache  CacheClient
	crypto *crypto.AESCrypto
	logger *log.Helper
}

// NewProviderRepo creates a new provider repository.
func NewProviderRepo(data *Data, db *gorm.DB, cs *crypto.AESCrypto, logger log.Logger) *ProviderRepo {
	return &ProviderRepo{
		db:     db,
		cache:  data.GetCache(),
		crypto: cs,
		logger: log.NewHelper(logger),
	}
}

// ListEnabled returns all enabled providers with decrypted credentials,
// ordered by id. Cache failures degrade to a direct database read.
func (r *ProviderRepo) ListEnabled(ctx context.Context) ([]ProviderRecord, error) {
	var rows []UpstreamProvider

	if err := r.cache.Get(ctx, CacheKeyProviders, &rows); err != nil {
		if err != ErrCacheNotFound {
			r.logger.Warnw("provider cache read failed, falling back to database",
				"error", err)
		}

		if err := r.db.WithContext(ctx).
			Where("enabled = ?", true).
			Order("id").
			Find(&rows).Error; err != nil {
			dbErr := pkgerrors.ClassifyDBError(err)
			r.logger.Errorw("failed to list enabled providers",
				"error", dbErr)
			return nil, dbErr
		}

		if err := r.cache.Set(ctx, CacheKeyProviders, rows, TTLProviders); err != nil {
			r.logger.Warnw("failed to cache provider list", "error", err)
		}
	}

	records := make([]ProviderRecord, 0, len(rows))
	for _, row := range rows {
		rec := ProviderRecord{
			Key:     row.Key,
			Name:    row.Name,
			BaseURL: row.BaseURL,
			Weight:  row.Weight,
			Enabled: row.Enabled,
		}
		if row.APIKeyEncrypted != "" && r.crypto != nil {
			apiKey, err := r.crypto.Decrypt(row.APIKeyEncrypted)
			if err != nil {
				// A provider with an undecryptable credential is skipped, not
				// fatal: one corrupt row must not take down the whole snapshot.
				r.logger.Errorw("failed to decrypt provider credential, skipping provider",
					"provider", row.Key,
					"error", err)
				continue
			}
			rec.APIKey = apiKey
		}
		records = append(records, rec)
	}

	return records, nil
}

// InvalidateCache drops the cached provider list, forcing the next
// ListEnabled to hit the database. Used by the admin force-sync path.
func (r *ProviderRepo) InvalidateCache(ctx context.Context) {
	if err := r.cache.Delete(ctx, CacheKeyProviders); err != nil {
		r.logger.Warnw("failed to invalidate provider cache", "error", err)
	}
}
