package scheduler

import (
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"
)

// Job is a periodic task.
type Job struct {
	Name  string
	Every time.Duration
	Run   func()
}

var scheduler *gocron.Scheduler

// Initialize creates the scheduler, registers jobs and starts it
func Initialize(jobs ...Job) error {
	scheduler = gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	for _, job := range jobs {
		if _, err := scheduler.Every(job.Every).Tag(job.Name).Do(job.Run); err != nil {
			log.Error().Err(err).Str("job", job.Name).Msg("Failed to schedule job")
			return err
		}
		log.Info().Str("job", job.Name).Dur("every", job.Every).Msg("Scheduled job")
	}

	// Start scheduler in a separate goroutine
	scheduler.StartAsync()
	return nil
}

// Stop gracefully shuts down the scheduler
func Stop() {
	if scheduler != nil {
		scheduler.Stop()
	}
}
