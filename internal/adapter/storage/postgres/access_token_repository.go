package postgres

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/ports"
)

type accessTokenRecord struct {
	LocalParty    string `gorm:"column:local_party;primaryKey"`
	Token         string `gorm:"column:token;primaryKey"`
	Status        string `gorm:"column:status"`
	Base64Encoded bool   `gorm:"column:base64_encoded"`
	BoundPartyKey string `gorm:"column:bound_party_key"`
}

func (accessTokenRecord) TableName() string {
	return "access_tokens"
}

type AccessTokenRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewAccessTokenRepository(db *gorm.DB, log *zap.Logger) ports.AccessTokenRepository {
	return &AccessTokenRepository{
		db:  db,
		log: log,
	}
}

func (r *AccessTokenRepository) Save(ctx context.Context, local domain.PartyIdentity, token domain.AccessToken, boundPartyKey string) error {
	record := accessTokenRecord{
		LocalParty:    local.Key(),
		Token:         token.Token,
		Status:        string(token.Status),
		Base64Encoded: token.Base64Encoded,
		BoundPartyKey: boundPartyKey,
	}
	result := r.db.WithContext(ctx).Save(&record)
	if result.Error != nil {
		r.log.Error("Failed to save access token",
			zap.String("local_party", local.Key()),
			zap.Error(result.Error),
		)
		return result.Error
	}
	return nil
}

func (r *AccessTokenRepository) Delete(ctx context.Context, local domain.PartyIdentity, token string) error {
	result := r.db.WithContext(ctx).
		Where("local_party = ? AND token = ?", local.Key(), token).
		Delete(&accessTokenRecord{})
	return result.Error
}

func (r *AccessTokenRepository) LoadAll(ctx context.Context, local domain.PartyIdentity) ([]ports.StoredToken, error) {
	var records []accessTokenRecord
	result := r.db.WithContext(ctx).Where("local_party = ?", local.Key()).Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}

	tokens := make([]ports.StoredToken, 0, len(records))
	for _, rec := range records {
		tokens = append(tokens, ports.StoredToken{
			Token: domain.AccessToken{
				Token:         rec.Token,
				Status:        domain.TokenStatus(rec.Status),
				Base64Encoded: rec.Base64Encoded,
			},
			BoundPartyKey: rec.BoundPartyKey,
		})
	}
	return tokens, nil
}
