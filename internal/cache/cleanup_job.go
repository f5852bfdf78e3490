package cache

import (
	"github.com/rs/zerolog"
)

// CleanupJob removes entries past their hard max-stale deadline. Scheduled
// nightly; also resets the metrics window so rates track recent traffic.
type CleanupJob struct {
	cache *FreshnessCache
	log   zerolog.Logger
}

// NewCleanupJob creates the nightly cache cleanup job.
func NewCleanupJob(cache *FreshnessCache, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		cache: cache,
		log:   log.With().Str("job", "cache_cleanup").Logger(),
	}
}

// Run deletes expired entries and resets the metrics window.
func (j *CleanupJob) Run() {
	deleted, err := j.cache.store.DeleteExpired()
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to delete expired cache entries")
		return
	}
	if deleted > 0 {
		j.log.Info().Int64("deleted", deleted).Msg("Cleaned up expired cache entries")
	}
	j.cache.ResetMetrics()
}
