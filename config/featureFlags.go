package config

// SyncWorkerEnabled reports whether the serve command starts the background
// sync worker.
//
// Set via env:
// - SYNC_WORKER_ENABLED=false
func SyncWorkerEnabled() bool {
	return EnvBoolDefault("SYNC_WORKER_ENABLED", true)
}

// CycleLockEnabled reports whether sync cycles take the cross-process Redis
// lock when Redis is configured.
//
// Set via env:
// - SYNC_CYCLE_LOCK=false
func CycleLockEnabled() bool {
	return EnvBoolDefault("SYNC_CYCLE_LOCK", true)
}

// SkipMigrations disables AutoMigrate when clients connect, for deployments
// that run `posync migrate` as a separate job.
//
// Set via env:
// - SKIP_MIGRATIONS=true
func SkipMigrations() bool {
	return EnvBoolDefault("SKIP_MIGRATIONS", false)
}
