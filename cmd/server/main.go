package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/adrianmb/bankgo"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"

	"github.com/rs/zerolog"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	var cfg bankgo.Config
	cfp := flag.String("config", "config.yml", "path to configuration file")
	flag.Parse()
	cfgfl, err := os.Open(*cfp)
	if err != nil {
		logger.Fatal().Err(err).Msg("error opening config file")
	}
	if err = yaml.NewDecoder(cfgfl).Decode(&cfg); err != nil {
		logger.Fatal().Err(err).Msg("error decoding config file")
	}
	cfgfl.Close()

	node, err := snowflake.NewNode(cfg.Snowflake.Node)
	if err != nil {
		logger.Fatal().Err(err).Msg("error creating snowflake node")
	}

	pgendpt, err := bankgo.NewPostgresEndpoint(cfg.Database.ConnectionString, node, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("error starting database")
	}
	defer pgendpt.Close()

	var pub bankgo.Publisher = bankgo.NopPublisher{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		pub = bankgo.NewRedisPublisher(rdb, cfg.Redis.Stream)
	}

	var svc bankgo.Service = bankgo.NewService(pgendpt, pub, &logger)
	limits := &bankgo.ServiceLimits{}
	if cfg.Limits.Charge > 0 {
		limits.Charge = semaphore.NewWeighted(cfg.Limits.Charge)
	}
	if cfg.Limits.Query > 0 {
		limits.Query = semaphore.NewWeighted(cfg.Limits.Query)
	}
	brkrs := &bankgo.ServiceBreaker{
		Charge: gobreaker.NewTwoStepCircuitBreaker[*decimal.Decimal](gobreaker.Settings{Name: "charge"}),
		Query:  gobreaker.NewTwoStepCircuitBreaker[*bankgo.TransactionPage](gobreaker.Settings{Name: "query"}),
	}
	for _, mw := range []bankgo.Middleware{
		bankgo.NewCircuitBreakMiddleware(brkrs),
		bankgo.NewLimitMiddleware(limits),
		bankgo.NewValidationMiddleware(),
	} {
		svc = mw(svc)
	}

	users := bankgo.NewUserService(pgendpt, &logger)

	ttl := time.Duration(cfg.Auth.TokenTTLMins) * time.Minute
	if ttl == 0 {
		ttl = time.Hour
	}
	hndlr := bankgo.NewHTTPHandler(svc, users, node, bankgo.HTTPConfig{
		JWTSecret: []byte(cfg.Auth.Secret),
		TokenTTL:  ttl,
	}, &logger)

	addr := cfg.HTTP.Addr
	if addr == "" {
		addr = ":3000"
	}
	logger.Info().Str("addr", addr).Msg("listening")
	if err = http.ListenAndServe(addr, hndlr); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}
