package main

import (
	"log"
	"net/http"
	"time"

	"davinci-code/internal/config"
	"davinci-code/internal/db"
	"davinci-code/internal/scheduler"
	"davinci-code/internal/server"
	"davinci-code/internal/store"

	"gorm.io/gorm"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg := config.Load()

	var conn *gorm.DB
	var st *store.Client
	if cfg.DatabaseURL != "" {
		var err error
		conn, err = db.Open()
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		configurePool(conn, cfg)
		st = store.NewPostgres(conn)
		log.Println("document store backed by postgres")
	} else {
		st = store.NewMemory()
		log.Println("DATABASE_URL not set; using in-memory document store")
	}

	if cfg.NATSURL != "" {
		nc, err := store.BrokerConnect()
		if err != nil {
			log.Fatalf("nats connection failed: %v", err)
		}
		defer nc.Close()
		if _, err := store.AttachNATS(st, nc); err != nil {
			log.Fatalf("nats bridge failed: %v", err)
		}
		log.Printf("change notifications bridged via nats url=%s", cfg.NATSURL)
	}

	srv := server.New(st, conn, cfg)
	defer srv.Close()

	sched := scheduler.New()
	maxIdle := time.Duration(cfg.RoomIdleMinutes) * time.Minute
	if err := sched.Start(cfg.RoomIdleSweepSpec, srv, maxIdle); err != nil {
		log.Fatalf("scheduler failed: %v", err)
	}
	defer sched.Stop()

	log.Printf("davinci-code server listening on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, srv.Handler()); err != nil {
		log.Fatal(err)
	}
}

func configurePool(conn *gorm.DB, cfg config.Config) {
	sqlDB, err := conn.DB()
	if err != nil {
		log.Printf("failed to access sql pool: %v", err)
		return
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetimeSeconds) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.DBConnMaxIdleTimeSeconds) * time.Second)
}
