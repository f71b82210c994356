package relayclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Poller runs PullAndProcess on a fixed interval. Runs never overlap: a
// slow cycle pushes the next one back.
type Poller struct {
	client    *Client
	processor CaptureProcessor
	interval  time.Duration
	scheduler gocron.Scheduler
}

// NewPoller creates a poller; call Start to begin polling
func NewPoller(c *Client, p CaptureProcessor, interval time.Duration) *Poller {
	return &Poller{client: c, processor: p, interval: interval}
}

// Start schedules the first pull immediately and then every interval
func (p *Poller) Start(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(p.interval),
		gocron.NewTask(func() {
			if ctx.Err() != nil {
				return
			}
			p.client.PullAndProcess(ctx, p.processor)
		}),
		gocron.WithName("relay_pull"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		scheduler.Shutdown()
		return fmt.Errorf("failed to schedule relay pull: %w", err)
	}

	scheduler.Start()
	p.scheduler = scheduler
	p.client.logger.WithContext("interval", p.interval.String()).Info("relay poller started")
	return nil
}

// Stop waits for a running pull to finish and stops the schedule
func (p *Poller) Stop() error {
	if p.scheduler == nil {
		return nil
	}
	err := p.scheduler.Shutdown()
	p.scheduler = nil
	return err
}
