package stores

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor deletes conversations that have been idle longer than the
// retention window. The Agent never deletes conversations itself;
// retention is a store-level administrative concern, run on a cron
// schedule.
type Janitor struct {
	store    ConversationStore
	maxIdle  time.Duration
	schedule string
	cron     *cron.Cron
	logger   *log.Logger
}

// NewJanitor creates a janitor sweeping on the given cron schedule
// (e.g. "@hourly" or "0 3 * * *"). Conversations whose last activity is
// older than maxIdle are deleted on each sweep.
func NewJanitor(store ConversationStore, maxIdle time.Duration, schedule string) (*Janitor, error) {
	if maxIdle <= 0 {
		return nil, fmt.Errorf("maxIdle must be positive, got %v", maxIdle)
	}

	j := &Janitor{
		store:    store,
		maxIdle:  maxIdle,
		schedule: schedule,
		cron:     cron.New(),
		logger:   log.New(os.Stdout, "[JANITOR] ", log.LstdFlags),
	}

	if _, err := j.cron.AddFunc(schedule, func() {
		if _, err := j.Sweep(); err != nil {
			j.logger.Printf("Sweep failed: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins scheduled sweeping in the background.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Printf("Started, schedule=%q maxIdle=%v", j.schedule, j.maxIdle)
}

// Stop halts scheduling. A sweep already in flight runs to completion.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Printf("Stopped")
}

// Sweep deletes every conversation idle longer than the retention
// window and returns how many were removed. Exported so operators can
// trigger a sweep outside the schedule.
func (j *Janitor) Sweep() (int, error) {
	ids, err := j.store.ListConversations()
	if err != nil {
		return 0, fmt.Errorf("failed to list conversations: %w", err)
	}

	cutoff := time.Now().Add(-j.maxIdle)
	removed := 0
	for _, id := range ids {
		last, err := j.store.LastActivity(id)
		if err != nil {
			j.logger.Printf("Skipping %s: %v", id, err)
			continue
		}
		if last.After(cutoff) {
			continue
		}
		if err := j.store.DeleteConversation(id); err != nil {
			j.logger.Printf("Failed to delete %s: %v", id, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		j.logger.Printf("Removed %d idle conversations", removed)
	}
	return removed, nil
}
