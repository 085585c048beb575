package repository

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/otpbay/otpbay/internal/models"
	"github.com/otpbay/otpbay/pkg/crypto"
	"github.com/otpbay/otpbay/pkg/database"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gopkg.in/yaml.v3"
)

const providersCollection = "api_providers"

// ProviderRepository reads and seeds the api_providers collection. API keys
// are encrypted at rest; every read path returns them decrypted.
type ProviderRepository struct {
	db        *database.MongoDB
	encryptor *crypto.Encryptor
	logger    *logrus.Logger
}

func NewProviderRepository(db *database.MongoDB, encryptor *crypto.Encryptor, logger *logrus.Logger) *ProviderRepository {
	return &ProviderRepository{
		db:        db,
		encryptor: encryptor,
		logger:    logger,
	}
}

// ListEnabled returns all enabled providers, ordered by priority. This is the
// bulk read behind the registry cache.
func (r *ProviderRepository) ListEnabled(ctx context.Context) ([]models.Provider, error) {
	filter := bson.M{"enabled": true}
	opts := options.Find().SetSort(bson.D{{Key: "priority", Value: 1}})

	cursor, err := r.db.Collection(providersCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer cursor.Close(ctx)

	var providers []models.Provider
	for cursor.Next(ctx) {
		var provider models.Provider
		if err := cursor.Decode(&provider); err != nil {
			r.logger.WithError(err).Error("Failed to decode provider")
			continue
		}

		key, err := r.encryptor.Decrypt(provider.APIKey)
		if err != nil {
			r.logger.WithError(err).WithField("provider", provider.Name).Error("Failed to decrypt provider API key")
			continue
		}
		provider.APIKey = key

		providers = append(providers, provider)
	}

	return providers, nil
}

func (r *ProviderRepository) FindByName(ctx context.Context, name string) (*models.Provider, error) {
	var provider models.Provider
	err := r.db.Collection(providersCollection).FindOne(ctx, bson.M{"name": name}).Decode(&provider)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, models.ErrProviderNotFound
		}
		return nil, fmt.Errorf("failed to find provider: %w", err)
	}

	key, err := r.encryptor.Decrypt(provider.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt provider API key: %w", err)
	}
	provider.APIKey = key

	return &provider, nil
}

// SeedFromFile upserts provider records from a providers.yaml file. ${ENV}
// references in the file are expanded before the key is encrypted.
func (r *ProviderRepository) SeedFromFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read provider seed file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var seedFile models.ProviderSeedFile
	if err := yaml.Unmarshal([]byte(expanded), &seedFile); err != nil {
		return fmt.Errorf("failed to parse provider seed file: %w", err)
	}

	for _, seed := range seedFile.Providers {
		provider := &models.Provider{
			Name:        seed.Name,
			DisplayName: seed.DisplayName,
			BaseURL:     seed.BaseURL,
			APIKey:      seed.APIKey,
			Enabled:     seed.Enabled,
			Priority:    seed.Priority,
		}
		if err := r.Upsert(ctx, provider); err != nil {
			return err
		}
		r.logger.WithField("provider", seed.Name).Info("Seeded provider record")
	}

	return nil
}

// Upsert writes a provider record keyed by name, encrypting the API key
// before it touches storage.
func (r *ProviderRepository) Upsert(ctx context.Context, provider *models.Provider) error {
	encryptedKey, err := r.encryptor.Encrypt(provider.APIKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt API key for %s: %w", provider.Name, err)
	}

	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"display_name": provider.DisplayName,
			"base_url":     provider.BaseURL,
			"api_key":      encryptedKey,
			"enabled":      provider.Enabled,
			"priority":     provider.Priority,
			"updated_at":   now,
		},
		"$setOnInsert": bson.M{
			"name":       provider.Name,
			"created_at": now,
		},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.db.Collection(providersCollection).UpdateOne(ctx, bson.M{"name": provider.Name}, update, opts); err != nil {
		return fmt.Errorf("failed to upsert provider %s: %w", provider.Name, err)
	}

	return nil
}

func (r *ProviderRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "enabled", Value: 1}, {Key: "priority", Value: 1}},
		},
	}

	_, err := r.db.Collection(providersCollection).Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create api_providers indexes: %w", err)
	}

	return nil
}
