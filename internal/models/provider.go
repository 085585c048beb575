package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Provider is a third-party SMS/virtual-number supplier reachable over HTTP.
// The API key is stored encrypted and decrypted on read by the repository.
type Provider struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name        string             `bson:"name" json:"name"`
	DisplayName string             `bson:"display_name" json:"display_name"`
	BaseURL     string             `bson:"base_url" json:"base_url"`
	APIKey      string             `bson:"api_key" json:"-"`
	Enabled     bool               `bson:"enabled" json:"enabled"`
	Priority    int                `bson:"priority" json:"priority"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updated_at"`
}

// ProviderSeed is the on-disk shape of a provider record in providers.yaml.
// API keys in the file may be plaintext or ${ENV} references; they are
// encrypted before being written to the api_providers collection.
type ProviderSeed struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	Enabled     bool   `yaml:"enabled"`
	Priority    int    `yaml:"priority"`
}

type ProviderSeedFile struct {
	Providers []ProviderSeed `yaml:"providers"`
}
