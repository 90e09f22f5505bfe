package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/agistaffers/backoffice/app/controllers"
	"github.com/agistaffers/backoffice/app/repository"
	"github.com/agistaffers/backoffice/internal/pkg/billing"
	"github.com/agistaffers/backoffice/internal/pkg/cache"
	"github.com/agistaffers/backoffice/internal/pkg/constants"
	"github.com/agistaffers/backoffice/internal/pkg/database"
	"github.com/agistaffers/backoffice/internal/pkg/env"
	"github.com/agistaffers/backoffice/internal/pkg/mail"
	"github.com/agistaffers/backoffice/internal/pkg/metrics"
	"github.com/agistaffers/backoffice/internal/pkg/middleware"
	"github.com/agistaffers/backoffice/internal/pkg/monitoring"
	"github.com/agistaffers/backoffice/internal/pkg/notify"
	"github.com/agistaffers/backoffice/internal/pkg/orders"
	"github.com/agistaffers/backoffice/internal/pkg/receipts"
	"github.com/agistaffers/backoffice/internal/pkg/router"
	"github.com/agistaffers/backoffice/internal/pkg/scheduler"
	"github.com/agistaffers/backoffice/internal/pkg/webhooks"
)

func main() {
	if len(os.Args) == 3 && os.Args[1] == "hash-key" {
		hash, err := middleware.HashAPIKey(os.Args[2])
		if err != nil {
			log.Fatalf("hash key: %v", err)
		}
		fmt.Println(hash)
		return
	}

	app, sched := NewApplication()
	sched.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		sched.Stop(ctx)
		if err := app.ShutdownWithContext(ctx); err != nil {
			fiberlog.Errorf("[Main] shutdown: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *scheduler.Scheduler) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	ctx := context.Background()

	m := metrics.New()
	repos := repository.NewRepositories(database.GetDB())
	dispatcher := newDispatcher().OnResult(m.NotifyResult)

	receiptStore, err := receipts.NewStoreFromEnv(ctx)
	if err != nil {
		log.Fatalf("receipt storage: %v", err)
	}

	var gateways []billing.CardGateway
	var providers []billing.WebhookProvider
	square := billing.NewSquareClientFromEnv()
	if square.AccessToken != "" {
		gateways = append(gateways, square)
	}
	if square.WebhookSignatureKey != "" {
		providers = append(providers, square)
	}
	if cfg := billing.StripeConfigFromEnv(); cfg.SecretKey != "" {
		stripeClient := billing.NewStripeClient(cfg)
		gateways = append(gateways, stripeClient)
		if cfg.WebhookSecret != "" {
			providers = append(providers, stripeClient)
		}
	}

	orderSvc := orders.NewService(orders.Deps{
		Repos:    repos,
		Router:   billing.NewRouter(billing.RouterConfigFromEnv(), gateways...),
		Bank:     billing.NewBankTransfer(billing.BankTransferConfigFromEnv()),
		Receipts: receiptStore,
		Notifier: dispatcher,
		Metrics:  m,
	}, orders.ConfigFromEnv())

	webhookSvc := webhooks.NewService(webhooks.Deps{
		Repos:     repos,
		Providers: providers,
		Notifier:  dispatcher,
		Metrics:   m,
	})

	mon := newMonitor(repos, dispatcher, m)

	sched, err := scheduler.New(scheduler.ConfigFromEnv(), scheduler.Deps{
		Monitor:  mon,
		Orders:   orderSvc,
		Webhooks: webhookSvc,
		Metrics:  m,
	})
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}

	app := fiber.New(fiber.Config{
		BodyLimit: receipts.MaxSize + 1<<20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get(constants.MonitorRoute, basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "change-me"),
		},
	}), monitor.New())
	app.Get(constants.PrometheusRoute, adaptor.HTTPHandler(m.Handler()))

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: constants.DocsBasePath,
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	// ROUTER
	router.InstallRouter(app, router.ConfigFromEnv(), &controllers.Handlers{
		Repos:    repos,
		Orders:   orderSvc,
		Webhooks: webhookSvc,
		Monitor:  mon,
	})

	return app, sched
}

// newDispatcher only hands the dispatcher sinks that are configured.
func newDispatcher() *notify.Dispatcher {
	var sinks []notify.Sink
	if push := notify.NewPushSinkFromEnv(); push != nil {
		sinks = append(sinks, push)
	}
	if mailer := mail.NewSMTPMailer(mail.ConfigFromEnv(), nil); mailer.Enabled() {
		sinks = append(sinks, notify.NewMailSink(mailer))
	}
	kafka, err := notify.NewKafkaSinkFromEnv()
	if err != nil {
		fiberlog.Warnf("[Main] kafka notifications disabled: %v", err)
	} else if kafka != nil {
		sinks = append(sinks, kafka)
	}

	d := notify.NewDispatcher(sinks...)
	fiberlog.Infof("[Main] notification sinks: %v", d.Sinks())
	return d
}

func newMonitor(repos *repository.Repositories, n notify.Notifier, m *metrics.Metrics) *monitoring.Monitor {
	cfg := monitoring.ConfigFromEnv()
	deps := monitoring.Deps{Config: cfg, Repos: repos, Notifier: n, Metrics: m}

	if system, err := monitoring.NewSystemCollector(cfg.ProcPath); err != nil {
		fiberlog.Warnf("[Main] host metrics disabled: %v", err)
	} else {
		deps.System = system
	}
	if cfg.DockerEnabled {
		if docker, err := monitoring.NewDockerCollector(); err != nil {
			fiberlog.Warnf("[Main] container monitoring disabled: %v", err)
		} else {
			deps.Containers = docker
		}
	}
	if cfg.RedisCooldowns {
		deps.Cooldowns = monitoring.NewRedisCooldown(cache.GetClient(), cfg.CooldownPrefix)
	}
	return monitoring.NewMonitor(deps)
}
