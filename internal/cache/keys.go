package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// JobKey holds a job record in the Redis job store.
func JobKey(jobID uuid.UUID) string {
	return fmt.Sprintf("pavi:job:%s", jobID)
}

// ResultKey holds the bytes of one artifact of a completed job.
func ResultKey(jobID uuid.UUID, artifact string) string {
	return fmt.Sprintf("pavi:result:%s:%s", jobID, artifact)
}

// LogsKey holds the rendered pipeline log lines of a terminal job.
func LogsKey(jobID uuid.UUID) string {
	return fmt.Sprintf("pavi:logs:%s", jobID)
}

func RateLimitKey(identity string) string {
	return fmt.Sprintf("ratelimit:%s", identity)
}
