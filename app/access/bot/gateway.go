// Package bot exposes the webhook-facing chat channel. The webhook
// handler must return within the host platform's response deadline, so
// it only deduplicates and enqueues; all real work happens on a small
// fixed pool of workers.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"lifelog/app/access"
	"lifelog/app/config"
	"lifelog/app/service/dedup"
	"lifelog/app/service/router"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/samber/do"
	"golang.org/x/sync/errgroup"
)

const headerToken = "X-Webhook-Token"

type InboundMessage struct {
	ID       string `json:"message_id"`
	SenderID string `json:"sender_id"`
	Text     string `json:"text"`
}

type Service struct {
	cfg       *config.Config
	routerSvc *router.Service
	dedupSvc  *dedup.Service
	sender    Sender

	queue chan InboundMessage
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	var sender Sender = &LogSender{}
	if cfg.Bot.CallbackURL != "" {
		sender = NewCallbackSender(cfg.Bot.CallbackURL)
	}

	return &Service{
		cfg:       cfg,
		routerSvc: do.MustInvoke[*router.Service](di),
		dedupSvc:  do.MustInvoke[*dedup.Service](di),
		sender:    sender,
		queue:     make(chan InboundMessage, cfg.Bot.QueueSize),
	}, nil
}

// Run serves the webhook and processes queued messages until the
// context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Post("/webhook", s.handleWebhook)
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	group, ctx := errgroup.WithContext(ctx)

	for i := 0; i < s.cfg.Bot.Workers; i++ {
		group.Go(func() error {
			s.runWorker(ctx)
			return nil
		})
	}

	group.Go(func() error {
		<-ctx.Done()
		return app.Shutdown()
	})

	group.Go(func() error {
		slog.Info("Bot webhook listening", "addr", s.cfg.Bot.Listen)
		return app.Listen(s.cfg.Bot.Listen)
	})

	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// handleWebhook acknowledges immediately; anything slower than a
// dedup check and a channel send does not belong here.
func (s *Service) handleWebhook(c *fiber.Ctx) error {
	if s.cfg.Bot.Token != "" && c.Get(headerToken) != s.cfg.Bot.Token {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
	}

	var msg InboundMessage
	if err := c.BodyParser(&msg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}

	if msg.SenderID == "" || msg.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sender_id and text are required"})
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	if s.dedupSvc.IsDuplicate(msg.SenderID, msg.Text) {
		slog.Debug("Duplicate message skipped", "sender_id", msg.SenderID, "message_id", msg.ID)
		return c.JSON(fiber.Map{"status": "duplicate"})
	}

	select {
	case s.queue <- msg:
	default:
		slog.Warn("Message queue is full", "message_id", msg.ID)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "queue full"})
	}

	return c.JSON(fiber.Map{"status": "accepted"})
}

func (s *Service) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.queue:
			s.processMessage(ctx, msg)
		}
	}
}

func (s *Service) processMessage(ctx context.Context, msg InboundMessage) {
	start := time.Now()

	response := s.routerSvc.Route(ctx, access.Request{
		UserID:   msg.SenderID,
		Text:     msg.Text,
		Channel:  access.ChannelBot,
		Context:  map[string]any{},
		Metadata: map[string]any{"message_id": msg.ID},
	})

	if err := s.sender.Send(ctx, msg.SenderID, response); err != nil {
		slog.Error("Failed to deliver reply",
			"sender_id", msg.SenderID,
			"message_id", msg.ID,
			"error", err)
		return
	}

	slog.Info("Processed message",
		"sender_id", msg.SenderID,
		"message_id", msg.ID,
		"success", response.Success,
		"duration", time.Since(start))
}
