package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"giftpool/internal/model"
	"giftpool/internal/repository"
	"giftpool/internal/service"
)

// Handler subscribes to the gift command topic and delegates to the service.
// Lets partner services submit batches over the bus instead of HTTP; results
// still flow to the audit trail through the completed-batch events.
type Handler struct {
	svc  service.GiftService
	nc   *nats.Conn
	subs []*nats.Subscription
}

func NewHandler(svc service.GiftService, nc *nats.Conn) *Handler {
	return &Handler{svc: svc, nc: nc}
}

// Start subscribes to command topics and blocks until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	sub, err := h.nc.QueueSubscribe(repository.TopicGiftCommand, "gift_group", func(m *nats.Msg) {
		var req model.GiftRequest
		if err := json.Unmarshal(m.Data, &req); err != nil {
			slog.Error("nats: failed to unmarshal gift command", "error", err)
			return
		}
		resp, err := h.svc.SendGifts(ctx, req)
		if err != nil {
			slog.Error("nats: gift command failed", "error", err, "key", req.Key)
			return
		}
		slog.Info("nats: gift command processed",
			"key", req.Key,
			"successes", resp.Details.SuccessCount,
			"total", resp.Details.TotalItems,
		)
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, sub)

	slog.Info("NATS gift command handler is running")

	<-ctx.Done()
	slog.Info("NATS gift command handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}
