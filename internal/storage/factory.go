package storage

import (
	"fmt"
	"maps"
	"slices"

	"clickgate/internal/models"
)

// Factory creates storage instances from configuration.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

type constructor func(Config) (Storage, error)

// provider adapts a concrete constructor so a failed call yields an untyped
// nil Storage.
func provider[T Storage](fn func(Config) (T, error)) constructor {
	return func(c Config) (Storage, error) {
		s, err := fn(c)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

var providers = map[string]constructor{
	models.StorageTypeJSON:     provider(NewJSONStorage),
	models.StorageTypeMemory:   provider(NewMemoryStorage),
	models.StorageTypePostgres: provider(NewPostgresStorage),
	models.StorageTypeSQLite:   provider(NewSQLiteStorage),
	models.StorageTypeRedis:    provider(NewRedisStorage),
}

// Create validates config and opens the backend it names: json, memory,
// postgres, sqlite or redis.
func (f *Factory) Create(config models.StorageConfig) (Storage, error) {
	if err := f.ValidateConfig(config); err != nil {
		return nil, err
	}

	newStore, ok := providers[config.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}

	return newStore(Config{
		Type:             config.Type,
		Path:             config.Path,
		ConnectionString: config.Database.DSN,
		MaxOpenConns:     config.Database.MaxOpenConns,
		MaxIdleConns:     config.Database.MaxIdleConns,
		ConnMaxLifetime:  config.Database.ConnMaxLifetime,
		ConnMaxIdleTime:  config.Database.ConnMaxIdleTime,
		Redis:            config.Redis,
	})
}

// GetSupportedProviders returns the backend names Create accepts, sorted.
func (f *Factory) GetSupportedProviders() []string {
	return slices.Sorted(maps.Keys(providers))
}

// ValidateConfig checks that the configuration names a supported backend and
// carries the settings that backend needs.
func (f *Factory) ValidateConfig(config models.StorageConfig) error {
	return config.Validate()
}
