package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/jhoicas/fiscal-api/internal/application/auth"
	"github.com/jhoicas/fiscal-api/internal/application/billing"
	"github.com/jhoicas/fiscal-api/internal/application/usecase"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
	"github.com/jhoicas/fiscal-api/internal/infrastructure/memory"
	"github.com/jhoicas/fiscal-api/internal/infrastructure/metrics"
	infrapdf "github.com/jhoicas/fiscal-api/internal/infrastructure/pdf"
	"github.com/jhoicas/fiscal-api/internal/infrastructure/postgres"
	infraredis "github.com/jhoicas/fiscal-api/internal/infrastructure/redis"
	"github.com/jhoicas/fiscal-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/fiscal-api/internal/infrastructure/sefaz/signer"
	"github.com/jhoicas/fiscal-api/internal/infrastructure/storage"
	httpRouter "github.com/jhoicas/fiscal-api/internal/interfaces/http"
	"github.com/jhoicas/fiscal-api/pkg/config"
	"github.com/jhoicas/fiscal-api/pkg/logger"
)

// repositories puertos de persistencia según el backend elegido.
type repositories struct {
	tx        billing.IssuanceTxRunner
	documents repository.DocumentRepository
	ledger    repository.EventLedger
	ranges    repository.VoidedRangeRepository
	issuers   repository.IssuerRepository
	users     repository.UserRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: cfg.App.Name,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("storage", cfg.App.Storage).
		Str("authority", cfg.Authority.Mode).
		Msg("iniciando aplicación")

	ctx := context.Background()

	// Trazas: sin exportador configurado los spans solo aportan trace_id a logs y respuestas.
	var tp *sdktrace.TracerProvider
	if cfg.Telemetry.TraceSampler > 0 {
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Telemetry.TraceSampler))),
		)
		otel.SetTracerProvider(tp)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ── Persistencia ──
	var repos repositories
	switch cfg.App.Storage {
	case "memory":
		log.Warn().Msg("almacenamiento en memoria: los datos se pierden al reiniciar")
		store := memory.NewStore()
		repos = repositories{
			tx:        memory.NewTxRunner(store),
			documents: memory.NewDocumentRepository(store),
			ledger:    memory.NewEventLedger(store),
			ranges:    memory.NewVoidedRangeRepository(store),
			issuers:   memory.NewIssuerRepository(store),
			users:     memory.NewUserRepository(store),
		}
	default:
		if cfg.DB.AutoMigrate {
			if err := postgres.Migrate(cfg.DB.ConnectionString(), log.Component("migrate")); err != nil {
				log.Fatal().Err(err).Msg("migraciones")
			}
		}
		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a PostgreSQL")
		}
		defer pool.Close()
		repos = repositories{
			tx:        postgres.NewTxRunner(pool),
			documents: postgres.NewDocumentRepository(pool),
			ledger:    postgres.NewEventLedger(pool),
			ranges:    postgres.NewVoidedRangeRepository(pool),
			issuers:   postgres.NewIssuerRepository(pool),
			users:     postgres.NewUserRepository(pool),
		}
	}

	// ── Autoridad fiscal ──
	cert, err := signer.LoadCertificate(cfg.Authority.CertPath, cfg.Authority.CertPassword, cfg.Authority.CertKeyPath)
	if err != nil {
		log.Fatal().Err(err).Msg("certificado A1")
	}
	if cert == nil {
		log.Warn().Msg("sin certificado: los documentos se envían sin firmar")
	}

	var transport sefaz.AuthorityTransport
	tpAmb := "2"
	if cfg.Authority.Mode == sefaz.EnvDev {
		log.Warn().Msg("autoridad simulada: las autorizaciones no tienen validez fiscal")
		transport = sefaz.NewFakeAuthority()
	} else {
		httpClient := &http.Client{Timeout: 60 * time.Second}
		if cert != nil {
			httpClient.Transport = &http.Transport{TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{*cert},
				MinVersion:   tls.VersionTLS12,
			}}
		}
		transport = sefaz.NewHTTPTransport(cfg.Authority.BaseURL, cfg.Authority.Mode, httpClient)
		if cfg.Authority.Mode == sefaz.EnvProd {
			tpAmb = "1"
		}
	}
	breaker := sefaz.NewCircuitBreaker(sefaz.CircuitBreakerConfig{
		FailureThreshold: cfg.Authority.BreakerFailures,
		SuccessThreshold: 2,
		OpenTimeout:      cfg.Authority.BreakerOpen,
	})
	authority := sefaz.NewAuthorityClient(sefaz.ClientConfig{
		Environment:    cfg.Authority.Mode,
		MaxAttempts:    cfg.Authority.MaxAttempts,
		BaseBackoff:    cfg.Authority.BaseBackoff,
		MaxBackoff:     cfg.Authority.MaxBackoff,
		AttemptTimeout: cfg.Authority.AttemptTimeout,
	}, transport, repos.ledger, breaker, m, log.Zerolog())

	tolerance, err := decimal.NewFromString(cfg.Fiscal.Tolerance)
	if err != nil {
		log.Fatal().Err(err).Str("value", cfg.Fiscal.Tolerance).Msg("FISCAL_TOLERANCE inválido")
	}
	validator := fiscal.NewValidator(fiscal.ValidationConfig{
		Tolerance:              tolerance,
		ClockSkew:              cfg.Fiscal.ClockSkew,
		MinJustificationLength: cfg.Fiscal.MinJustificationLength,
		CancellationWindow:     cfg.Fiscal.CancellationWindow,
	})

	deps := billing.IssuanceDeps{
		Tx:         repos.tx,
		Documents:  repos.documents,
		Ledger:     repos.ledger,
		Ranges:     repos.ranges,
		Issuers:    repos.issuers,
		Lifecycle:  fiscal.NewLifecycle(validator, time.Now),
		Serializer: sefaz.NewXMLBuilderService(tpAmb),
		Signer:     signer.NewCertSigner(cert),
		Authority:  authority,
		Metrics:    m,
	}

	// ── Integraciones opcionales ──
	if cfg.Redis.Addr != "" {
		rdb, err := infraredis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a Redis")
		}
		defer rdb.Close()
		deps.Notifier = infraredis.NewNotifier(rdb, cfg.Redis.Queue, log.Component("receivables"))
	}
	if cfg.S3.Bucket != "" {
		archive, err := storage.NewS3Archive(ctx, storage.Config{
			Endpoint:     cfg.S3.Endpoint,
			Region:       cfg.S3.Region,
			Bucket:       cfg.S3.Bucket,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			UsePathStyle: cfg.S3.UsePathStyle,
		}, log.Component("archive"))
		if err != nil {
			log.Fatal().Err(err).Msg("archivo S3")
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			log.Fatal().Err(err).Msg("bucket de archivo")
		}
		deps.Archive = archive
	}

	issuance := billing.NewIssuanceService(deps, log.Zerolog())
	pdfUC := billing.NewPDFUseCase(repos.documents, repos.ledger, infrapdf.NewMarotoRenderer())
	authUC := auth.NewAuthUseCase(repos.users, repos.issuers, auth.JWTConfig{
		Secret:     cfg.JWT.Secret,
		ExpMinutes: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	issuerUC := usecase.NewIssuerUseCase(repos.issuers, repos.users)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New(), requestid.New(), httpRouter.Tracing(), httpRouter.RequestLogger(log.Component("http")))

	routerDeps := httpRouter.RouterDeps{
		Issuance: issuance,
		PDF:      pdfUC,
		AuthUC:   authUC,
		IssuerUC: issuerUC,
		Health: func() fiber.Map {
			return fiber.Map{"service": cfg.App.Name, "authority": cfg.Authority.Mode, "circuit": authority.CircuitState()}
		},
		JWTSecret: cfg.JWT.Secret,
	}
	if cfg.Telemetry.Metrics {
		routerDeps.Metrics = m.Handler()
	}
	httpRouter.Router(app, routerDeps)

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	// Archivo y avisos de cobranza pendientes
	issuance.Wait()
	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("apagado de trazas")
		}
	}

	log.Info().Msg("aplicación detenida")
}
