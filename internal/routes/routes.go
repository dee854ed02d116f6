package routes

import (
	"fmt"

	"github.com/classbuddy/ClassBuddyBack/internal/config"
	"github.com/classbuddy/ClassBuddyBack/internal/handlers"
	"github.com/classbuddy/ClassBuddyBack/internal/middleware"
	"github.com/classbuddy/ClassBuddyBack/internal/presence"
	"github.com/classbuddy/ClassBuddyBack/internal/repository"
	"github.com/classbuddy/ClassBuddyBack/internal/services"
	chatws "github.com/classbuddy/ClassBuddyBack/internal/websocket"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes wires the repositories, services and handlers onto app and
// starts the realtime hub. The returned hub is owned by the caller.
func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool) (*chatws.Hub, error) {
	userRepo := repository.NewUserRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	deletedMarkRepo := repository.NewDeletedMarkRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	attachmentRepo := repository.NewAttachmentRepository(db)
	typingRepo := repository.NewTypingRepository(db)

	storageService, err := newStorageService(cfg)
	if err != nil {
		return nil, err
	}

	chatHub := chatws.NewHub()
	go chatHub.Run()

	tracker := presence.NewTracker(typingRepo, cfg.TypingTTL)
	conversationService := services.NewConversationService(conversationRepo, deletedMarkRepo, userRepo)
	messageService := services.NewMessageService(conversationRepo, deletedMarkRepo, messageRepo, attachmentRepo, chatHub)
	presenceService := services.NewPresenceService(conversationRepo, tracker, chatHub)
	attachmentService := services.NewAttachmentService(conversationRepo, messageRepo, attachmentRepo, storageService, cfg.MaxUploadSize)

	chatHandler := handlers.NewChatHandler(
		conversationService,
		messageService,
		presenceService,
		chatHub,
		cfg.JWTSecret,
		handlers.TypingLimit{Rate: cfg.TypingRate, Burst: cfg.TypingBurst},
	)
	attachmentHandler := handlers.NewAttachmentHandler(attachmentService)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	// The realtime route authenticates from the query string, so it is
	// registered ahead of the bearer-protected group.
	api.Get("/v1/ws/conversations/:id", chatHandler.WebSocketAuth, websocket.New(chatHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	conversations := authProtected.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Post("/get-or-create", chatHandler.GetOrCreateConversation)
	conversations.Get("/:id", chatHandler.GetConversation)
	conversations.Delete("/:id", chatHandler.DeleteConversation)
	conversations.Post("/:id/participants", chatHandler.AddParticipant)
	conversations.Delete("/:id/participants/:userId", chatHandler.RemoveParticipant)
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Post("/:id/messages", chatHandler.SendMessage)
	conversations.Post("/:id/mark-read", chatHandler.MarkConversationRead)
	conversations.Get("/:id/search", chatHandler.SearchMessages)
	conversations.Get("/:id/typing", chatHandler.ListTyping)
	conversations.Post("/:id/typing", chatHandler.UpdateTyping)
	conversations.Post("/:id/attachments", attachmentHandler.Upload)

	messages := authProtected.Group("/messages")
	messages.Post("/mark-read", chatHandler.MarkMessagesRead)
	messages.Get("/unread-count", chatHandler.UnreadCount)
	messages.Get("/:id", chatHandler.GetMessage)

	attachments := authProtected.Group("/attachments")
	attachments.Get("/:id", attachmentHandler.Download)
	attachments.Delete("/:id", attachmentHandler.Delete)

	return chatHub, nil
}

// newStorageService returns nil when no blob store is configured; attachment
// uploads then fail with ErrStorageUnavailable.
func newStorageService(cfg *config.Config) (services.StorageService, error) {
	switch cfg.StorageDriver {
	case config.StorageSupabase:
		return services.NewSupabaseStorageService(cfg.SupabaseURL, cfg.SupabaseBucket, cfg.SupabaseServiceKey), nil
	case config.StorageCloudinary:
		storage, err := services.NewCloudinaryStorageService(cfg.CloudinaryURL)
		if err != nil {
			return nil, fmt.Errorf("cloudinary storage: %w", err)
		}
		return storage, nil
	default:
		return nil, nil
	}
}
