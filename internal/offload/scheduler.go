// Package offload drains the local queue by retrying delivery of every
// pending artifact once, with exponential backoff between transient
// failures.
package offload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"edgecam/internal/delivery"
	"edgecam/internal/logger"
	"edgecam/internal/queue"
)

// RejectedPolicy decides what happens to an artifact the server refused.
type RejectedPolicy string

const (
	// PolicyKeep leaves a rejected artifact queued for operator attention.
	PolicyKeep RejectedPolicy = "keep"
	// PolicyQuarantine moves it out of the queue into rejected/.
	PolicyQuarantine RejectedPolicy = "quarantine"
)

// ParsePolicy validates a policy name. An empty name means PolicyKeep.
func ParsePolicy(s string) (RejectedPolicy, error) {
	switch RejectedPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyKeep:
		return PolicyKeep, nil
	case PolicyQuarantine:
		return PolicyQuarantine, nil
	}
	return "", fmt.Errorf("unknown rejected policy %q (want keep or quarantine)", s)
}

// Queue is the subset of the artifact store the scheduler needs.
type Queue interface {
	Pending() ([]string, error)
	Open(id string) (io.ReadCloser, error)
	Remove(id string) error
	Quarantine(id string) (string, error)
}

// Deliverer makes one delivery attempt.
type Deliverer interface {
	Deliver(ctx context.Context, name string, payload io.Reader) delivery.Result
}

// Summary counts what one run did.
type Summary struct {
	Attempted   int
	Delivered   int
	Failed      int
	Rejected    int
	Quarantined int
	// Remaining is the number of snapshot artifacts still queued.
	Remaining int
}

func (s Summary) String() string {
	return fmt.Sprintf("attempted=%d delivered=%d failed=%d rejected=%d quarantined=%d remaining=%d",
		s.Attempted, s.Delivered, s.Failed, s.Rejected, s.Quarantined, s.Remaining)
}

// Scheduler performs offload runs. It holds no state between runs.
type Scheduler struct {
	queue     Queue
	deliverer Deliverer
	logger    *logger.Logger

	Base    time.Duration
	Ceiling time.Duration
	Policy  RejectedPolicy
	Sleep   SleepFunc
}

// NewScheduler creates a Scheduler with default backoff bounds and the
// keep policy.
func NewScheduler(queue Queue, deliverer Deliverer, logger *logger.Logger) *Scheduler {
	return &Scheduler{
		queue:     queue,
		deliverer: deliverer,
		logger:    logger,
		Base:      DefaultBase,
		Ceiling:   DefaultCeiling,
		Policy:    PolicyKeep,
		Sleep:     Sleep,
	}
}

// Run takes one snapshot of the queue and tries every artifact in it
// once, oldest first. Artifacts enqueued during the run wait for the next
// one. Cancelling ctx stops the run early; the summary still reflects what
// was done.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	ids, err := s.queue.Pending()
	if err != nil {
		return sum, fmt.Errorf("snapshot queue: %w", err)
	}
	if len(ids) == 0 {
		s.logger.Info("No pending artifacts")
		return sum, nil
	}
	s.logger.Info("Offloading %d pending artifact(s)", len(ids))

	backoff := NewBackoff(s.Base, s.Ceiling)
	sleep := s.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for i, id := range ids {
		if ctx.Err() != nil {
			sum.Remaining += len(ids) - i
			break
		}

		f, err := s.queue.Open(id)
		if err != nil {
			// ErrNotFound: sent by a concurrent capture since the snapshot
			if !errors.Is(err, queue.ErrNotFound) {
				s.logger.Error("Skipping %s: %v", id, err)
				sum.Remaining++
			}
			continue
		}
		sum.Attempted++
		res := s.deliverer.Deliver(ctx, id, f)
		f.Close()

		switch res.Outcome {
		case delivery.Delivered:
			sum.Delivered++
			backoff.Reset()
			s.logger.Info("Delivered %s", id)
			if err := s.queue.Remove(id); err != nil {
				s.logger.Warning("Delivered but not locally removed %s: %v", id, err)
				sum.Remaining++
			}

		case delivery.Rejected:
			sum.Rejected++
			s.logger.Warning("Server rejected %s (%d): %s", id, res.StatusCode, res.Reason)
			if s.Policy == PolicyQuarantine {
				if dst, err := s.queue.Quarantine(id); err != nil {
					s.logger.Error("Failed to quarantine %s: %v", id, err)
					sum.Remaining++
				} else {
					sum.Quarantined++
					s.logger.Warning("Quarantined %s to %s", id, dst)
				}
			} else {
				sum.Remaining++
			}

		default:
			sum.Failed++
			sum.Remaining++
			delay := backoff.Next()
			s.logger.Warning("Delivery of %s failed: %s; retrying next artifact in %s", id, res.Reason, delay)
			if err := sleep(ctx, delay); err != nil {
				sum.Remaining += len(ids) - i - 1
				s.logger.Info("Offload interrupted: %s", sum)
				return sum, nil
			}
		}
	}

	s.logger.Info("Offload finished: %s", sum)
	return sum, nil
}
