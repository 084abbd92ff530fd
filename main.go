package main

import (
	"context"
	"log"

	"github.com/sirupsen/logrus"

	"sponsorengage/studysync/config"
	"sponsorengage/studysync/cpms"
	"sponsorengage/studysync/database"
	"sponsorengage/studysync/ledger"
	"sponsorengage/studysync/reconcile"
)

// Backfill entry point: refreshes every tracked study from CPMS once and
// exits. The web server (cmd/web) refreshes on demand instead.
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

	studyIDs, err := db.ListStudyIDs(ctx)
	if err != nil {
		log.Fatalf("listing studies failed: %v", err)
	}

	refreshed := 0
	for _, studyID := range studyIDs {
		view, err := reconciler.Read(ctx, studyID)
		if err != nil {
			config.LogError(logger, "main", "main", "study refresh", logrus.Fields{"studyId": studyID}, err)
			continue
		}
		if !view.ExternalUnavailable {
			refreshed++
		}
	}
	logger.Infof("backfill complete: %d/%d studies refreshed from CPMS", refreshed, len(studyIDs))
}
