package processor

import (
	"context"
	"log/slog"

	"github.com/congo-pay/ledger-processor/internal/queue"
)

// HandleTransaction adapts Process to a queue delivery.
func (p *Processor) HandleTransaction(ctx context.Context, body []byte) queue.Disposition {
	evt, err := queue.DecodeTransaction(body)
	if err != nil {
		p.metrics.observeEvent("unknown", OutcomeFailed, 0)
		p.logger.Error("dropping undecodable transaction event", slog.Any("error", err))
		return queue.Drop
	}
	_, err = p.Process(ctx, evt)
	return disposition(err)
}

// HandleBalanceRequest recomputes and caches the requested account balance.
func (p *Processor) HandleBalanceRequest(ctx context.Context, body []byte) queue.Disposition {
	req, err := queue.DecodeBalanceRequest(body)
	if err != nil {
		p.logger.Error("dropping undecodable balance request", slog.Any("error", err))
		return queue.Drop
	}
	if err := p.refreshBalance(ctx, req.AccountID); err != nil {
		p.logger.Error("balance request failed", slog.String("account_id", req.AccountID.String()), slog.Any("error", err))
		return queue.Requeue
	}
	return queue.Ack
}

func disposition(err error) queue.Disposition {
	switch {
	case err == nil:
		return queue.Ack
	case Retryable(err):
		return queue.Requeue
	default:
		return queue.Drop
	}
}
