package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"edgecam/internal/capture"
	"edgecam/internal/config"
	"edgecam/internal/delivery"
	"edgecam/internal/logger"
	"edgecam/internal/metadata"
	"edgecam/internal/offload"
	"edgecam/internal/queue"
)

// Uplink is the delivery side of the agent.
type Uplink interface {
	offload.Deliverer
	Reachable(ctx context.Context) bool
}

// Agent runs the device flow: capture, tag, queue, deliver.
type Agent struct {
	capturer    capture.Capturer
	environment capture.EnvironmentReader
	position    capture.PositionReader
	store       *queue.Store
	uplink      Uplink
	scheduler   *offload.Scheduler
	logger      *logger.Logger

	now          func() time.Time
	pollInterval time.Duration
}

// CaptureReport describes one capture-and-send invocation.
type CaptureReport struct {
	ID       string
	Tagged   bool
	Delivery delivery.Result
	// Removed is false when the artifact is still queued locally.
	Removed bool
}

// NewAgent wires an Agent from its collaborators.
func NewAgent(capturer capture.Capturer, environment capture.EnvironmentReader, position capture.PositionReader,
	store *queue.Store, uplink Uplink, scheduler *offload.Scheduler, logger *logger.Logger) *Agent {
	if environment == nil {
		environment = capture.NoEnvironment{}
	}
	if position == nil {
		position = capture.StaticPosition{}
	}
	return &Agent{
		capturer:     capturer,
		environment:  environment,
		position:     position,
		store:        store,
		uplink:       uplink,
		scheduler:    scheduler,
		logger:       logger,
		now:          time.Now,
		pollInterval: time.Second,
	}
}

// NewAgentFromConfig builds the production Agent described by cfg.
func NewAgentFromConfig(cfg *config.AgentConfig, logger *logger.Logger) (*Agent, error) {
	store, err := queue.NewStore(cfg.QueueDirectory)
	if err != nil {
		return nil, err
	}
	client, err := delivery.NewClient(cfg.ServerURL, cfg.RequestTimeout, nil)
	if err != nil {
		return nil, err
	}
	policy, err := offload.ParsePolicy(cfg.RejectedPolicy)
	if err != nil {
		return nil, err
	}
	pos, err := cfg.Position()
	if err != nil {
		return nil, err
	}

	var env capture.EnvironmentReader = capture.NoEnvironment{}
	if cfg.EnvironmentCommand != "" {
		env = capture.CommandEnvironment{Command: cfg.EnvironmentCommand, Timeout: 10 * time.Second}
	}

	scheduler := offload.NewScheduler(store, client, logger)
	scheduler.Base = cfg.BackoffBase
	scheduler.Ceiling = cfg.BackoffCeiling
	scheduler.Policy = policy

	capturer := capture.NewExecCapturer(cfg.CaptureCommand, cfg.CaptureArgs, cfg.ScratchDirectory())
	return NewAgent(capturer, env, capture.StaticPosition{Position: pos}, store, client, scheduler, logger), nil
}

// Store exposes the local queue.
func (a *Agent) Store() *queue.Store {
	return a.store
}

// CaptureAndSend captures one image, queues it durably and makes one
// delivery attempt. Only capture and enqueue failures are returned as
// errors; a failed delivery leaves the artifact queued for Offload.
func (a *Agent) CaptureAndSend(ctx context.Context) (CaptureReport, error) {
	var report CaptureReport

	a.logger.Info("📷 Capturing photo")
	scratch, err := a.capturer.Capture(ctx)
	if err != nil {
		return report, err
	}
	capturedAt := a.now().Truncate(time.Second)

	payload, err := os.ReadFile(scratch)
	if err != nil {
		os.Remove(scratch)
		return report, fmt.Errorf("%w: read %s: %v", capture.ErrCaptureFailed, scratch, err)
	}

	header := metadata.Header{CapturedAt: &capturedAt}
	if env, err := a.environment.ReadEnvironment(ctx); err != nil {
		a.logger.Warning("Environment readings unavailable: %v", err)
	} else {
		header.Environment = env
	}
	pos, err := a.position.ReadPosition(ctx)
	if err != nil {
		a.logger.Warning("Position unavailable: %v", err)
		pos = nil
	}

	tagged, err := metadata.Tag(payload, header, pos)
	if err != nil {
		a.logger.Warning("Could not add metadata, queuing untagged image: %v", err)
		tagged = payload
	} else {
		report.Tagged = true
	}

	report.ID, err = a.store.Enqueue(tagged, capturedAt)
	if err != nil {
		return report, err
	}
	a.logger.Info("Queued %s", report.ID)

	if err := os.Remove(scratch); err != nil && !errors.Is(err, os.ErrNotExist) {
		a.logger.Warning("Failed to discard capture file %s: %v", scratch, err)
	}

	report.Delivery, report.Removed = a.send(ctx, report.ID)
	return report, nil
}

// send makes one delivery attempt for a queued artifact.
func (a *Agent) send(ctx context.Context, id string) (delivery.Result, bool) {
	f, err := a.store.Open(id)
	if err != nil {
		a.logger.Error("Queued artifact %s unreadable: %v", id, err)
		return delivery.Result{Outcome: delivery.TransientFailure, Reason: err.Error()}, false
	}
	res := a.uplink.Deliver(ctx, id, f)
	f.Close()

	switch res.Outcome {
	case delivery.Delivered:
		if err := a.store.Remove(id); err != nil {
			a.logger.Warning("Delivered but not locally removed %s: %v", id, err)
			return res, false
		}
		a.logger.Info("Upload OK: %s", id)
		return res, true
	case delivery.Rejected:
		a.logger.Warning("Server rejected %s (%d): %s", id, res.StatusCode, res.Reason)
	default:
		a.logger.Warning("Upload of %s failed, left queued for offload: %s", id, res.Reason)
	}
	return res, false
}

// Offload runs one pass of the scheduler over the queue.
func (a *Agent) Offload(ctx context.Context) (offload.Summary, error) {
	return a.scheduler.Run(ctx)
}

// WaitForServer polls the server until it answers or timeout elapses.
func (a *Agent) WaitForServer(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		if a.uplink.Reachable(ctx) {
			a.logger.Info("Server reachable after %d attempt(s)", attempt)
			return true
		}
		if err := offload.Sleep(ctx, a.pollInterval); err != nil {
			a.logger.Warning("Server not reachable after %s", timeout)
			return false
		}
	}
}

// Pending lists queued identifiers with their sizes.
func (a *Agent) Pending() ([]PendingArtifact, error) {
	ids, err := a.store.Pending()
	if err != nil {
		return nil, err
	}
	out := make([]PendingArtifact, 0, len(ids))
	for _, id := range ids {
		p := PendingArtifact{ID: id}
		if path, err := a.store.Path(id); err == nil {
			if info, err := os.Stat(path); err == nil {
				p.Size = info.Size()
				p.Queued = info.ModTime()
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// PendingArtifact is one entry of Pending.
type PendingArtifact struct {
	ID     string
	Size   int64
	Queued time.Time
}
