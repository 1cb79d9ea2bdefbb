package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"github.com/adrianmb/bankgo"
	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// seeder initializes the schema and loads a demo user with a funded
// account, for local development.
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

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, cfg.Database.ConnectionString)
	if err != nil {
		logger.Fatal().Err(err).Msg("error connecting to database")
	}
	defer conn.Close(ctx)

	initSQLpath := filepath.Join("testdata", "init_db.sql")
	bits, err := os.ReadFile(initSQLpath)
	if err != nil {
		logger.Fatal().Err(err).Msg("error reading init sql")
	}
	if _, err = conn.Exec(ctx, string(bits)); err != nil {
		logger.Fatal().Err(err).Msg("error initializing schema")
	}

	node, err := snowflake.NewNode(cfg.Snowflake.Node)
	if err != nil {
		logger.Fatal().Err(err).Msg("error creating snowflake node")
	}
	endpt, err := bankgo.NewPostgresEndpoint(cfg.Database.ConnectionString, node, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("error starting database endpoint")
	}
	defer endpt.Close()

	users := bankgo.NewUserService(endpt, &logger)
	password, err := users.CreateUser(ctx, bankgo.UserProfile{
		Username: "demo",
		Name:     "Demo User",
		Email:    "demo@bankgo.local",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("error creating demo user")
	}

	acct, err := endpt.CreateAccount(ctx, bankgo.CreateAccountReq{
		AcctID:   node.Generate(),
		Username: "demo",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("error creating demo account")
	}
	if _, _, err = endpt.Credit(ctx, acct.AcctID, decimal.New(450000, -2)); err != nil {
		logger.Fatal().Err(err).Msg("error funding demo account")
	}

	logger.Info().
		Str("username", "demo").
		Str("password", password).
		Str("account", acct.AcctID.String()).
		Msg("seeded")
}
