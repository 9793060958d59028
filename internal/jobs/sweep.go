// Package jobs runs the background maintenance loops.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stayline/whatsapp-bridge-go/internal/credential"
)

// SweepJob periodically mirrors the local credential cache to the durable
// store. Incremental saves on the event path normally keep the store
// current; the sweep catches anything a transient store outage dropped.
type SweepJob struct {
	mirror   *credential.Mirror
	interval time.Duration
	done     chan struct{}
}

func NewSweepJob(mirror *credential.Mirror, interval time.Duration) *SweepJob {
	return &SweepJob{
		mirror:   mirror,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *SweepJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("credential sweep job started")
}

func (j *SweepJob) Stop() {
	close(j.done)
	log.Info().Msg("credential sweep job stopped")
}

func (j *SweepJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *SweepJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := j.mirror.Backup(ctx); err != nil {
		log.Error().Err(err).Msg("credential sweep failed")
	}
}
