package main

import (
	"context"
	"errors"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"courier-backend/internal/admin"
	"courier-backend/internal/apperrors"
	"courier-backend/internal/assignment"
	"courier-backend/internal/audit"
	"courier-backend/internal/auth"
	"courier-backend/internal/config"
	"courier-backend/internal/consolidation"
	"courier-backend/internal/database"
	"courier-backend/internal/handoff"
	"courier-backend/internal/jobs"
	"courier-backend/internal/lifecycle"
	"courier-backend/internal/logger"
	"courier-backend/internal/models"
	"courier-backend/internal/notify"
	"courier-backend/internal/scan"
	"courier-backend/internal/store"
	"courier-backend/internal/store/gormstore"
	"courier-backend/internal/store/memstore"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Directory: cfg.LogsDirectory})
	if err != nil {
		stdlog.Fatalf("logger oluşturulamadı: %v", err)
	}
	defer func() { _ = log.Sync() }()

	st, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("store açılamadı", zap.Error(err))
	}

	pub, err := newPublisher(cfg, log)
	if err != nil {
		log.Fatal("bildirim kanalı açılamadı", zap.Error(err))
	}
	dispatcher := notify.NewDispatcher(pub, cfg.NotifyBuffer, log)

	lc := lifecycle.NewService(st, dispatcher, log)
	recorder := scan.NewRecorder(st, lc, dispatcher, log)
	engine := assignment.NewEngine(st, lc, log)
	manager := consolidation.NewManager(st, lc, consolidation.Limits{
		MaxPieces:    cfg.ConsolidationMaxPieces,
		MaxWeightKg:  cfg.ConsolidationMaxWeightKg,
		MaxVolumeCBM: cfg.ConsolidationMaxVolumeCBM,
	}, log)
	handoffs := handoff.NewService(st, log)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var e *fiber.Error
			if errors.As(err, &e) {
				return c.Status(e.Code).JSON(fiber.Map{
					"error": e.Message,
				})
			}
			if code := apperrors.HTTPStatus(err); code != fiber.StatusInternalServerError {
				return c.Status(code).JSON(fiber.Map{"error": err.Error()})
			}
			log.Error("beklenmeyen hata", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Beklenmeyen sunucu hatası",
			})
		},
	})

	app.Use(recover.New())
	app.Use(logger.Requests(log))

	// CORS origins virgülle ayrılmış gelir
	corsOrigins := strings.Split(cfg.CORSOrigins, ",")
	for i := range corsOrigins {
		corsOrigins[i] = strings.TrimSpace(corsOrigins[i])
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(corsOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
	}))

	api := app.Group("/api")

	// Public auth
	api.Post("/auth/register-super-admin", auth.RegisterSuperAdminHandler(st))
	api.Post("/auth/login", auth.LoginHandler(cfg.JWTSecret, st))
	api.Get("/shipments/track/:tracking", lifecycle.TrackHandler(lc))

	protected := api.Group("")
	protected.Use(auth.JWTMiddleware(cfg.JWTSecret))
	protected.Get("/auth/me", auth.MeHandler(st))

	admins := auth.RequireRole(models.RoleSuperAdmin, models.RoleBranchAdmin)

	// Şube ve filo yönetimi
	adminRoutes := protected.Group("/admin")
	adminRoutes.Post("/branches", auth.RequireRole(models.RoleSuperAdmin), admin.CreateBranchHandler(st))
	adminRoutes.Get("/branches", auth.RequireRole(models.RoleSuperAdmin), admin.ListBranchesHandler(st))
	adminRoutes.Post("/users", admins, admin.CreateUserHandler(st))
	adminRoutes.Post("/workers", admins, admin.CreateWorkerHandler(st))
	adminRoutes.Get("/workers", admins, admin.ListWorkersHandler(st))
	adminRoutes.Post("/vehicles", admins, admin.CreateVehicleHandler(st))
	adminRoutes.Post("/maintenance-alerts", admins, admin.CreateMaintenanceHandler(st))

	// Gönderiler
	protected.Post("/shipments", lifecycle.BookHandler(lc))
	protected.Get("/shipments/at-risk", lifecycle.AtRiskHandler(lc))
	protected.Post("/shipments/:id/transition", lifecycle.TransitionHandler(lc))
	protected.Post("/shipments/:id/reroute", admins, lifecycle.RerouteHandler(lc))
	protected.Post("/shipments/:id/assign", assignment.AssignHandler(engine))

	// Okutmalar
	protected.Post("/scans", scan.RecordScanHandler(recorder))

	// Konsolidasyon
	protected.Post("/consolidations", consolidation.CreateHandler(manager))
	protected.Post("/consolidations/auto", admins, consolidation.AutoConsolidateHandler(manager))
	protected.Get("/consolidations/:id", consolidation.GetHandler(manager))
	protected.Post("/consolidations/:id/shipments", consolidation.AddShipmentHandler(manager))
	protected.Delete("/consolidations/:id/shipments/:sid", consolidation.RemoveShipmentHandler(manager))
	protected.Post("/consolidations/:id/lock", consolidation.LockHandler(manager))
	protected.Post("/consolidations/:id/dispatch", consolidation.DispatchHandler(manager))
	protected.Post("/consolidations/:id/arrive", consolidation.ArriveHandler(manager))
	protected.Post("/consolidations/:id/deconsolidate", consolidation.DeconsolidateHandler(manager))
	protected.Post("/consolidations/:id/shipments/:sid/scan", consolidation.ScanBabyHandler(manager))
	protected.Post("/consolidations/:id/shipments/:sid/release", consolidation.ReleaseBabyHandler(manager))

	// Şubeler arası devir
	protected.Post("/handoffs", handoff.RequestHandler(handoffs))
	protected.Post("/handoffs/:id/approve", handoff.ApproveHandler(handoffs))
	protected.Post("/handoffs/:id/complete", handoff.CompleteHandler(handoffs))
	protected.Post("/handoffs/:id/reject", handoff.RejectHandler(handoffs))

	// Audit logs
	protected.Get("/audit-logs", admins, audit.ListAuditLogsHandler(st))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var scheduler interface{ Stop() context.Context }
	if cfg.AutoConsolidateCron != "" {
		job := jobs.NewAutoConsolidateJob(manager, cfg.AutoConsolidateCron, cfg.AutoConsolidateBranches, cfg.AutoConsolidateUserID, log)
		c, err := jobs.NewOrchestrator(log, job).Start(ctx)
		if err != nil {
			log.Fatal("zamanlanmış işler başlatılamadı", zap.Error(err))
		}
		scheduler = c
	}

	go func() {
		log.Info("server çalışıyor", zap.String("port", cfg.HTTPPort), zap.String("store", cfg.StoreDriver))
		if err := app.Listen(":" + cfg.HTTPPort); err != nil {
			log.Error("server durdu", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("kapatılıyor")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn("http kapatma hatası", zap.Error(err))
	}
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if err := dispatcher.Close(); err != nil {
		log.Warn("bildirim kanalı kapatılamadı", zap.Error(err))
	}
	if err := database.Close(); err != nil {
		log.Warn("veritabanı kapatılamadı", zap.Error(err))
	}
}

func openStore(cfg *config.Config, log *zap.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("bellek içi store kullanılıyor, veriler kalıcı değil")
		return memstore.New(), nil
	case "postgres":
		if err := database.Init(cfg, log); err != nil {
			return nil, err
		}
		return gormstore.New(database.DB), nil
	default:
		return nil, errors.New("bilinmeyen STORE_DRIVER: " + cfg.StoreDriver)
	}
}

func newPublisher(cfg *config.Config, log *zap.Logger) (notify.Publisher, error) {
	switch cfg.NotifyTransport {
	case "kafka":
		return notify.NewKafkaProducer(cfg.KafkaBroker, cfg.KafkaTopic), nil
	case "rabbitmq":
		return notify.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue)
	default:
		return notify.NewLogPublisher(log), nil
	}
}
