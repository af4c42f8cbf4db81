package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/buscai/backend/docs"
	"github.com/buscai/backend/internal/auction"
	"github.com/buscai/backend/internal/audit"
	"github.com/buscai/backend/internal/config"
	"github.com/buscai/backend/internal/database"
	"github.com/buscai/backend/internal/handlers"
	"github.com/buscai/backend/internal/jobs"
	"github.com/buscai/backend/internal/media"
	"github.com/buscai/backend/internal/metrics"
	mW "github.com/buscai/backend/internal/middleware"
	"github.com/buscai/backend/internal/models"
	"github.com/buscai/backend/internal/serpapi"
	"github.com/buscai/backend/internal/services"
	"github.com/buscai/backend/internal/whatsapp"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title BUSCAÍ API
// @version 1.0
// @description Local services marketplace: company search with sponsored placements, prepaid PIX wallets and a WhatsApp channel
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	config.Init()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	auctionCfg := config.LoadAuctionConfig()
	if err := auctionCfg.Validate(); err != nil {
		log.Fatalf("Invalid auction configuration: %v", err)
	}

	docs.SwaggerInfo.Title = "BUSCAÍ API"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	db := database.MustOpen(cfg.Database)
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient == nil {
		log.Fatal("Redis is required for claims, WhatsApp deduplication and the search cache")
	}
	defer redisClient.Close()

	mW.InitAuthMiddleware(redisClient, cfg.JWT.SecretKey)

	hub := handlers.NewEventHub()
	auditLogger := audit.NewLogger()

	catalogService := services.NewCatalogService(db)
	ledgerService := services.NewLedgerService(db, auditLogger)
	qrService := services.NewPixQRService(cfg.Billing.PixKey, cfg.Billing.MerchantName, cfg.Billing.MerchantCity)
	billingService := services.NewBillingService(db, ledgerService, qrService, auditLogger, hub, cfg.Billing)
	auctionService := services.NewAuctionService(db, auction.NewEngine(auctionCfg.PositionPrices, auctionCfg.MinIncrement))
	searchService := services.NewSearchService(db, redisClient, catalogService, auctionService, ledgerService, auctionCfg)
	subscriptionService := services.NewSubscriptionService(db, ledgerService, auditLogger)
	offerService := services.NewOfferService(db, subscriptionService)
	authService := services.NewAuthService(db, redisClient, cfg.JWT, cfg.Argon2)

	waClient := whatsapp.NewClient(cfg.WhatsApp)
	if !waClient.Enabled() {
		log.Println("Warning: WhatsApp is not configured, claim codes and replies will fail")
	}
	transcriber := services.NewSpeechTranscriber(context.Background(), cfg.Speech)
	defer transcriber.Close()
	whatsAppService := services.NewWhatsAppService(redisClient, catalogService, searchService,
		waClient, waClient, transcriber, cfg.WhatsApp.MaxResults)
	claimService := services.NewClaimService(db, redisClient, waClient, hub)

	serpapiService := services.NewSerpAPIService(db, catalogService, serpapi.NewClient(cfg.SerpAPI), hub)

	var logos services.LogoStore
	if uploader, err := media.NewLogoUploader(cfg.Cloudinary); err != nil {
		log.Printf("Warning: logo upload disabled: %v", err)
	} else {
		logos = uploader
	}
	adminService := services.NewAdminService(db, catalogService, ledgerService, logos)

	billingHandler := handlers.NewBillingHandler(billingService, ledgerService, catalogService)
	auctionHandler := handlers.NewAuctionHandler(auctionService, catalogService)
	searchHandler := handlers.NewSearchHandler(searchService, catalogService, offerService)
	catalogHandler := handlers.NewCatalogHandler(catalogService)
	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptionService, offerService, catalogService)
	claimHandler := handlers.NewClaimHandler(claimService)
	whatsAppHandler := handlers.NewWhatsAppHandler(whatsAppService, cfg.WhatsApp)
	adminHandler := handlers.NewAdminHandler(adminService, serpapiService)

	scheduler := jobs.NewScheduler(ledgerService, billingService, cfg.Billing)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	limiter := mW.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	stopCleanup := make(chan struct{})
	limiter.StartCleanup(5*time.Minute, stopCleanup)

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(metrics.InstrumentHandler)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Webhook-Signature", "X-Hub-Signature-256"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	// Placeholder for companies without a Cloudinary logo
	r.Handle("/static/logos/*", http.StripPrefix("/static/logos/", mW.StaticFileServer("./static/logos")))

	r.Route("/api/v1", func(r chi.Router) {
		// Webhooks are signed by their providers and stay outside the rate limiter
		r.Post("/billing/webhooks/pix", billingHandler.PixWebhook)
		r.Get("/webhooks/whatsapp", whatsAppHandler.Verify)
		r.Post("/webhooks/whatsapp", whatsAppHandler.Receive)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(limiter.Handler)

			// Public endpoints
			r.Post("/auth/register", authService.Register)
			r.Post("/auth/login", authService.Login)
			r.Post("/auth/logout", authService.Logout)

			r.Get("/cities", catalogHandler.Cities)
			r.Get("/niches", catalogHandler.Niches)
			r.Get("/companies/{idOrSlug}", catalogHandler.Company)
			r.Get("/plans", subscriptionHandler.Plans)

			r.Get("/search", searchHandler.Search)
			r.Post("/search/clicks", searchHandler.Click)
			r.Get("/search/offers", searchHandler.Offers)

			// Company owners
			r.Group(func(r chi.Router) {
				r.Use(mW.AuthMiddleware)

				r.Get("/auth/me", authService.Me)

				r.Get("/billing/wallet", billingHandler.Wallet)
				r.Get("/billing/transactions", billingHandler.Transactions)
				r.Post("/billing/recharges", billingHandler.CreateRecharge)
				r.Get("/billing/recharges/{reference}", billingHandler.GetRecharge)

				r.Get("/auction/configs", auctionHandler.ListConfigs)
				r.Post("/auction/configs", auctionHandler.SaveConfig)
				r.Put("/auction/configs/{id}", auctionHandler.UpdateConfig)
				r.Post("/auction/configs/{id}/pause", auctionHandler.Pause)
				r.Post("/auction/configs/{id}/resume", auctionHandler.Resume)
				r.Get("/auction/preview", auctionHandler.Preview)

				r.Get("/subscriptions/current", subscriptionHandler.Current)
				r.Post("/subscriptions", subscriptionHandler.ChangePlan)

				r.Get("/offers", subscriptionHandler.ListOffers)
				r.Post("/offers", subscriptionHandler.CreateOffer)
				r.Post("/offers/{id}/deactivate", subscriptionHandler.DeactivateOffer)
				r.Post("/offers/{id}/refresh", subscriptionHandler.RefreshOffer)

				r.Get("/claims", claimHandler.ListMine)
				r.Post("/claims", claimHandler.Create)
				r.Post("/claims/{id}/confirm", claimHandler.Confirm)
				r.Post("/claims/{id}/cancel", claimHandler.Cancel)
			})
		})

		// Back office
		r.Route("/admin", func(r chi.Router) {
			r.Use(mW.AuthMiddleware)
			r.Use(mW.RequireRole(models.RoleAdmin))

			r.Get("/events/ws", hub.ServeWS)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(60 * time.Second))

				r.Get("/dashboard", adminHandler.Dashboard)

				r.Get("/companies", adminHandler.ListCompanies)
				r.Post("/companies", adminHandler.CreateCompany)
				r.Put("/companies/{id}", adminHandler.UpdateCompany)
				r.Post("/companies/{id}/status", adminHandler.SetStatus)
				r.Post("/companies/{id}/logo", adminHandler.UploadLogo)
				r.Post("/companies/{id}/credit", adminHandler.CreditWallet)

				r.Get("/claims", claimHandler.AdminList)
				r.Post("/claims/{id}/reject", claimHandler.AdminReject)

				r.Get("/serpapi/runs", adminHandler.ListRuns)
				r.Post("/serpapi/runs", adminHandler.StartRun)
				r.Get("/serpapi/runs/{id}/candidates", adminHandler.ListCandidates)
				r.Post("/serpapi/candidates/{id}/approve", adminHandler.ApproveCandidate)
				r.Post("/serpapi/candidates/{id}/reject", adminHandler.RejectCandidate)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s (%s)", cfg.Server.Port, cfg.Server.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
	close(stopCleanup)

	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		log.Println("Scheduled jobs still running at shutdown")
	}
	serpapiService.Wait()

	log.Println("Server stopped")
}
