package config

type StorageConfig interface {
	GetStorageNamespace() string
	GetRedisAddr() string
	GetStorePassphrase() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

// GetStorageNamespace returns the key prefix under which the auth record
// and temp-store entries are persisted.
func (Storage) GetStorageNamespace() string {
	return GetEnv("STORAGE_NAMESPACE", "sso")
}

// GetRedisAddr returns the redis address when the redis-backed store is
// selected; empty means the file store is used.
func (Storage) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "")
}

// GetStorePassphrase returns the optional passphrase for at-rest encryption
// of the file store.
func (Storage) GetStorePassphrase() string {
	return GetEnv("STORE_PASSPHRASE", "")
}
