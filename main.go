package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pomo1231/solbombs2-sub000/internal/httpserver"
	"github.com/pomo1231/solbombs2-sub000/internal/ledger"
	"github.com/pomo1231/solbombs2-sub000/internal/relay"
)

func main() {
	_ = godotenv.Load()
	if lvl, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	db, err := openDB(getEnv("DB_PATH", "./data/solbombs.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	if err := migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	rec := ledger.NewRecorder(db)
	reg := relay.NewRegistry()
	hub := relay.NewHub(reg, rec, getEnv("JWT_SECRET", "dev_secret_change_me"), os.Getenv("CLIENT_ORIGIN"))

	srv := httpserver.New(hub, rec)
	port := getEnv("PORT", "8081")
	log.Info().Str("port", port).Msg("starting relay server")
	if err := srv.Start(":" + port); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
