package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/ports"
)

// remotePartyRecord stores one registered relationship as a JSON document.
// The registry owns the record's shape; the table only needs the keys.
type remotePartyRecord struct {
	LocalParty string `gorm:"column:local_party;primaryKey"`
	PartyKey   string `gorm:"column:party_key;primaryKey"`
	Document   []byte `gorm:"column:document;type:jsonb"`
}

func (remotePartyRecord) TableName() string {
	return "remote_parties"
}

type RemotePartyRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewRemotePartyRepository(db *gorm.DB, log *zap.Logger) ports.RemotePartyRepository {
	return &RemotePartyRepository{
		db:  db,
		log: log,
	}
}

func (r *RemotePartyRepository) Save(ctx context.Context, local domain.PartyIdentity, party *domain.RemoteParty) error {
	doc, err := json.Marshal(party)
	if err != nil {
		return fmt.Errorf("postgres: marshal remote party: %w", err)
	}
	record := remotePartyRecord{
		LocalParty: local.Key(),
		PartyKey:   party.Key(),
		Document:   doc,
	}
	result := r.db.WithContext(ctx).Save(&record)
	if result.Error != nil {
		r.log.Error("Failed to save remote party",
			zap.String("local_party", local.Key()),
			zap.String("remote_party", party.Key()),
			zap.Error(result.Error),
		)
		return result.Error
	}
	return nil
}

func (r *RemotePartyRepository) Delete(ctx context.Context, local domain.PartyIdentity, remote domain.PartyIdentity, version domain.VersionID) error {
	result := r.db.WithContext(ctx).
		Where("local_party = ? AND party_key = ?", local.Key(), domain.RemotePartyKey(remote, version)).
		Delete(&remotePartyRecord{})
	return result.Error
}

func (r *RemotePartyRepository) LoadAll(ctx context.Context, local domain.PartyIdentity) ([]domain.RemoteParty, error) {
	var records []remotePartyRecord
	result := r.db.WithContext(ctx).Where("local_party = ?", local.Key()).Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}

	parties := make([]domain.RemoteParty, 0, len(records))
	for _, rec := range records {
		var party domain.RemoteParty
		if err := json.Unmarshal(rec.Document, &party); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal remote party %s: %w", rec.PartyKey, err)
		}
		parties = append(parties, party)
	}
	return parties, nil
}
