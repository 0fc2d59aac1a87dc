package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/core-coin/settlement/internal/accrual"
	"github.com/core-coin/settlement/internal/commission"
	"github.com/core-coin/settlement/internal/config"
	"github.com/core-coin/settlement/internal/consumer"
	"github.com/core-coin/settlement/internal/http_api"
	"github.com/core-coin/settlement/internal/migrations"
	"github.com/core-coin/settlement/internal/models"
	"github.com/core-coin/settlement/internal/repository"
	"github.com/core-coin/settlement/internal/scheduler"
	"github.com/core-coin/settlement/internal/settlement"
	"github.com/core-coin/settlement/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "settlement",
		Usage: "Settlement core: payments, daily benefits and commissions",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "postgres-user", Aliases: []string{"u"}, Usage: "Postgres user"},
			&cli.StringFlag{Name: "postgres-password", Aliases: []string{"p"}, Usage: "Postgres password"},
			&cli.StringFlag{Name: "postgres-host", Aliases: []string{"t"}, Usage: "Postgres host"},
			&cli.IntFlag{Name: "postgres-port", Aliases: []string{"P"}, Usage: "Postgres port"},
			&cli.StringFlag{Name: "postgres-db", Aliases: []string{"d"}, Usage: "Postgres database name"},
			&cli.StringFlag{Name: "sqlite-dsn", Usage: "Use a sqlite ledger instead of Postgres"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
			&cli.StringFlag{Name: "pool-admin-id", Usage: "Beneficiary of pool bonus commissions"},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP API, the daily scheduler and the payment consumer",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "api-port", Usage: "HTTP API port"},
					&cli.BoolFlag{Name: "no-scheduler", Usage: "Do not run the daily accrual scheduler"},
				},
				Action: serve,
			},
			{
				Name:  "accrue",
				Usage: "Accrue one day of benefits for every paid purchase",
				Flags: []cli.Flag{
					&cli.TimestampFlag{Name: "date", Layout: time.DateOnly, Usage: "Day to accrue (default today)"},
				},
				Action: accrue,
			},
			{
				Name:   "migrate",
				Usage:  "Apply pending data migrations",
				Action: migrate,
			},
			{
				Name:  "settle",
				Usage: "Settle one verified payment by hand",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tx", Required: true, Usage: "Transaction hash"},
					&cli.StringFlag{Name: "network", Required: true, Usage: "Network (bep20, trc20, xcb...)"},
					&cli.StringFlag{Name: "amount", Required: true, Usage: "Deposited amount"},
					&cli.StringFlag{Name: "currency", Value: "USDT", Usage: "Deposited currency"},
					&cli.StringFlag{Name: "from", Usage: "Sender address"},
					&cli.StringFlag{Name: "to", Usage: "Receiver address"},
					&cli.StringFlag{Name: "user", Required: true, Usage: "Purchasing user"},
					&cli.StringFlag{Name: "package", Required: true, Usage: "Purchased package"},
				},
				Action: settle,
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

// app holds the wired core.
type app struct {
	cfg         *config.Config
	logger      *logger.Logger
	store       *repository.Store
	settler     *settlement.Settler
	distributor *commission.Distributor
	engine      *accrual.Engine
}

func setup(c *cli.Context) (*app, error) {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %v", err)
	}

	// Override with flags if set
	if c.IsSet("postgres-user") {
		cfg.PostgresUser = c.String("postgres-user")
	}
	if c.IsSet("postgres-password") {
		cfg.PostgresPassword = c.String("postgres-password")
	}
	if c.IsSet("postgres-host") {
		cfg.PostgresHost = c.String("postgres-host")
	}
	if c.IsSet("postgres-port") {
		cfg.PostgresPort = c.Int("postgres-port")
	}
	if c.IsSet("postgres-db") {
		cfg.PostgresDB = c.String("postgres-db")
	}
	if c.IsSet("sqlite-dsn") {
		cfg.SQLiteDSN = c.String("sqlite-dsn")
	}
	if c.IsSet("development") {
		cfg.Development = c.Bool("development")
	}
	if c.IsSet("pool-admin-id") {
		cfg.PoolAdminID = c.String("pool-admin-id")
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Development)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %v", err)
	}

	// Initialize database
	var store *repository.Store
	if cfg.SQLiteDSN != "" {
		store, err = repository.NewSQLiteDB(cfg.SQLiteDSN, log)
	} else {
		store, err = repository.NewPostgresDB(cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresHost, cfg.PostgresPort, log)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	distributor := commission.NewDistributor(store, log, cfg)
	return &app{
		cfg:         cfg,
		logger:      log,
		store:       store,
		settler:     settlement.NewSettler(store, log, cfg),
		distributor: distributor,
		engine:      accrual.NewEngine(store, distributor, log, cfg),
	}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close database", "error", err)
	}
}

func (a *app) migrations() (*migrations.Runner, error) {
	if a.cfg.SQLiteDSN != "" {
		db, err := a.store.DB()
		if err != nil {
			return nil, err
		}
		return migrations.NewSQLite(db, a.logger)
	}
	url := migrations.PostgresURL(a.cfg.PostgresUser, a.cfg.PostgresPassword, a.cfg.PostgresDB, a.cfg.PostgresHost, a.cfg.PostgresPort)
	return migrations.NewPostgres(url, a.logger)
}

func migrate(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.close()

	runner, err := a.migrations()
	if err != nil {
		return err
	}
	defer runner.Close()
	return runner.Up()
}

func accrue(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.close()

	day := time.Now()
	if ts := c.Timestamp("date"); ts != nil {
		day = *ts
	}
	report, err := scheduler.NewScheduler(a.store, a.engine, a.logger, a.cfg).RunDay(c.Context, day)
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d purchases failed to accrue", report.Failed, report.Purchases)
	}
	return nil
}

func settle(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.close()

	amount, err := decimal.NewFromString(c.String("amount"))
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	pkg, err := a.store.GetPackage(c.Context, c.String("package"))
	if err != nil {
		return fmt.Errorf("failed to load package: %w", err)
	}

	result, err := a.settler.Process(c.Context, models.SettlementRequest{
		Payment: models.PaymentEvent{
			TxHash:      c.String("tx"),
			Network:     c.String("network"),
			FromAddress: c.String("from"),
			ToAddress:   c.String("to"),
			Amount:      amount,
			Currency:    c.String("currency"),
		},
		UserID:  c.String("user"),
		Package: models.PackageRef{ID: pkg.ID, Price: pkg.Price, Currency: pkg.Currency},
	})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func serve(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.close()

	if c.IsSet("api-port") {
		a.cfg.APIPort = c.Int("api-port")
	}
	if c.Bool("no-scheduler") {
		a.cfg.SchedulerEnabled = false
	}

	runner, err := a.migrations()
	if err != nil {
		return err
	}
	err = runner.Up()
	_ = runner.Close()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiServer := http_api.NewHTTPServer(a.store, a.settler, a.engine, a.distributor, a.cfg.APIPort, a.logger)
	go apiServer.Start()

	if a.cfg.SchedulerEnabled {
		go scheduler.NewScheduler(a.store, a.engine, a.logger, a.cfg).Start(ctx)
	}

	if a.cfg.KafkaEnabled() {
		kafkaConsumer, err := kafka.NewConsumer(consumer.NewConfigMap(a.cfg.KafkaBootstrapServers, a.cfg.KafkaGroupID))
		if err != nil {
			return fmt.Errorf("failed to create Kafka consumer: %w", err)
		}
		paymentConsumer, err := consumer.NewKafkaConsumer(kafkaConsumer, a.cfg.KafkaTopic, consumer.NewPaymentHandler(a.settler, a.logger), a.logger)
		if err != nil {
			_ = kafkaConsumer.Close()
			return fmt.Errorf("failed to subscribe to %s: %w", a.cfg.KafkaTopic, err)
		}
		defer paymentConsumer.Close()
		go func() {
			if err := paymentConsumer.Start(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("Kafka consumer stopped", "error", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info("Shutting down")
	return apiServer.Shutdown()
}
