package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/PortNumber53/blockr/backend/internal/migrations"
)

const usage = "usage: %s [up|fix|force <version>|version]"

func main() {
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	log := logrus.WithField("component", "dbtool")

	// The tool only needs the database; the rest of the service config is
	// not required here.
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		log.Info("applying migrations")
		if err := migrations.Up(db); err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}

	case "fix":
		log.Info("attempting to fix dirty database")
		if err := migrations.FixDirtyDatabase(db); err != nil {
			log.Fatalf("failed to fix dirty database: %v", err)
		}
		log.Info("database fixed successfully")

	case "force":
		if len(os.Args) < 3 {
			log.Fatalf(usage, os.Args[0])
		}
		var v uint
		if _, err := fmt.Sscanf(os.Args[2], "%d", &v); err != nil {
			log.Fatalf("invalid version number: %s", os.Args[2])
		}
		if err := migrations.ForceVersion(db, v); err != nil {
			log.Fatalf("failed to force version: %v", err)
		}

	case "version":
		v, dirty, err := migrations.Version(db)
		if err != nil {
			log.Fatalf("failed to read version: %v", err)
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)

	default:
		log.Errorf(usage, os.Args[0])
		os.Exit(1)
	}
}
