package main

import (
	"context"
	"log"

	"sponsorengage/studysync/config"
	"sponsorengage/studysync/cpms"
	"sponsorengage/studysync/database"
	"sponsorengage/studysync/history"
	"sponsorengage/studysync/identity"
	"sponsorengage/studysync/ledger"
	"sponsorengage/studysync/reconcile"
	"sponsorengage/studysync/web"
)

func main() {
	ctx := context.Background()

	cfg := config.LoadEnvConfig("settings.env")
	logger := config.GetLogger()

	db := database.NewDatabase(cfg.DatabaseURL, logger)
	if err := db.Connect(ctx); err != nil {
		log.Fatalf("database connect failed: %v", err)
	}
	defer db.Close()

	if err := db.InitializeSchema(ctx); err != nil {
		log.Fatalf("schema init failed: %v", err)
	}

	client, err := cpms.NewClient(cfg.CPMSBaseURL, cfg.CPMSAPIKey, cfg.CPMSAPIKeyHeader)
	if err != nil {
		log.Fatalf("cpms client init failed: %v", err)
	}

	ledgerSvc := ledger.NewService(db, logger)
	reconciler := reconcile.NewService(db, client, ledgerSvc, logger, cfg.ChangeLogSince, cfg.ChangeLogMaxItems)
	historySvc := history.NewService(db, identity.NewDatabaseResolver(db), logger)

	server := web.NewServer(db, reconciler, historySvc, cfg.ListenAddr, logger)
	if err := server.Start(); err != nil {
		log.Fatalf("web server failed: %v", err)
	}
}
