package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"authsvc/internal/config"
	"authsvc/internal/storage/mongodb"
	"authsvc/internal/storage/sqlite"
	"authsvc/migrations"
)

func main() {
	var (
		configPath string
		down       bool
		purge      bool
	)
	flag.StringVar(&configPath, "config", "", "path to config file (or use CONFIG_PATH env)")
	flag.BoolVar(&down, "down", false, "roll back all SQLite migrations")
	flag.BoolVar(&purge, "purge", false, "delete expired refresh tokens from SQLite")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		log.Fatal("config path is required")
	}

	cfg := config.MustLoadPath(configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if uses(cfg, config.DriverSQLite) {
		migrateSQLite(ctx, cfg.Storage.Path, down, purge)
	}

	if uses(cfg, config.DriverMongoDB) && !down {
		log.Println("Connecting to MongoDB...")

		storage, err := mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			log.Fatalf("failed to connect to mongodb: %v", err)
		}
		defer storage.Close(ctx)

		log.Println("MongoDB connected, indexes created successfully")
	}

	fmt.Println("Database initialization completed successfully")
}

func migrateSQLite(ctx context.Context, path string, down, purge bool) {
	if down {
		if err := migrations.Down(path); err != nil {
			log.Fatalf("failed to roll back migrations: %v", err)
		}
		log.Println("SQLite migrations rolled back")
		return
	}

	applied, err := migrations.Up(path)
	if err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}
	if applied {
		log.Println("SQLite migrations applied")
	} else {
		log.Println("no migrations to apply")
	}

	if !purge {
		return
	}

	storage, err := sqlite.New(path)
	if err != nil {
		log.Fatalf("failed to open sqlite: %v", err)
	}
	defer storage.Close()

	n, err := storage.PurgeRefreshTokens(ctx, time.Now())
	if err != nil {
		log.Fatalf("failed to purge refresh tokens: %v", err)
	}
	log.Printf("purged %d expired refresh tokens", n)
}

func uses(cfg *config.Config, driver string) bool {
	return cfg.Storage.Users == driver || cfg.Storage.Tokens == driver
}
