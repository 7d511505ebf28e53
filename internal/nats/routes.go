package nats

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/services"
)

// Sweeper runs reaper sweeps on demand.
type Sweeper interface {
	RunExpirySweep(ctx context.Context) (services.SweepResult, error)
	RunOrphanSweep(ctx context.Context) (services.SweepResult, error)
}

// SweepReply is sent back when the trigger was a request.
type SweepReply struct {
	Kind    string `json:"kind"`
	Deleted int    `json:"deleted"`
	Errored int    `json:"errored"`
	Skipped bool   `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// Routes maps maintenance subjects to handlers. An external scheduler
// publishes (or requests) on these subjects to trigger a sweep.
func Routes(sweeper Sweeper, timeout time.Duration, log *zap.Logger) map[string]nats.MsgHandler {
	return map[string]nats.MsgHandler{
		SubjectSweepExpired: sweepHandler(sweeper.RunExpirySweep, timeout, log),
		SubjectSweepOrphans: sweepHandler(sweeper.RunOrphanSweep, timeout, log),
	}
}

func sweepHandler(run func(context.Context) (services.SweepResult, error), timeout time.Duration, log *zap.Logger) nats.MsgHandler {
	return func(msg *nats.Msg) {
		log.Info("sweep requested", zap.String("subject", msg.Subject))

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		res, err := run(ctx)
		reply := SweepReply{Kind: res.Kind, Deleted: res.Deleted, Errored: res.Errored, Skipped: res.Skipped}
		if err != nil {
			log.Error("sweep failed", zap.String("subject", msg.Subject), zap.Error(err))
			reply.Error = err.Error()
		}

		if msg.Reply == "" {
			return
		}
		data, err := json.Marshal(reply)
		if err != nil {
			log.Error("failed to marshal sweep reply", zap.Error(err))
			return
		}
		if err := msg.Respond(data); err != nil {
			log.Warn("failed to respond to sweep request", zap.Error(err))
		}
	}
}
