// Package disclosures stores the data other companies have shared with us.
package disclosures

import (
	"context"

	"github.com/dmitrijs2005/creditshare/internal/dbx"
	"github.com/dmitrijs2005/creditshare/internal/server/models"
	"github.com/dmitrijs2005/creditshare/internal/server/repositories/docstore"
)

const Collection = "disclosures"

type Repository interface {
	// Upsert stores d, replacing the disclosure of the same owner, feature
	// type and key if one exists.
	Upsert(ctx context.Context, d *models.Disclosure) error
	// Remove deletes the matching disclosure. Missing ones are ignored.
	Remove(ctx context.Context, ownerStaticID, featureType, key string) error
	Find(ctx context.Context, ownerStaticID, featureType, key string) (*models.Disclosure, error)
}

type PostgresRepository struct {
	docs *docstore.Collection[models.Disclosure]
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{docs: docstore.NewCollection[models.Disclosure](db, Collection)}
}

type filter struct {
	OwnerStaticID string `json:"ownerStaticId"`
	FeatureType   string `json:"featureType"`
	Key           string `json:"key"`
}

func dedupKey(d *models.Disclosure) string {
	return d.OwnerStaticID + "|" + d.FeatureType + "|" + d.Key
}

func (r *PostgresRepository) Find(ctx context.Context, ownerStaticID, featureType, key string) (*models.Disclosure, error) {
	return r.docs.FindOne(ctx, filter{OwnerStaticID: ownerStaticID, FeatureType: featureType, Key: key})
}

func (r *PostgresRepository) Upsert(ctx context.Context, d *models.Disclosure) error {
	existing, err := r.Find(ctx, d.OwnerStaticID, d.FeatureType, d.Key)
	if err != nil {
		return err
	}
	if existing == nil {
		return r.docs.Insert(ctx, d.StaticID, dedupKey(d), d)
	}
	d.StaticID = existing.StaticID
	d.CreatedAt = existing.CreatedAt
	return r.docs.Update(ctx, d.StaticID, dedupKey(d), d)
}

func (r *PostgresRepository) Remove(ctx context.Context, ownerStaticID, featureType, key string) error {
	existing, err := r.Find(ctx, ownerStaticID, featureType, key)
	if err != nil || existing == nil {
		return err
	}
	return r.docs.Delete(ctx, existing.StaticID)
}
