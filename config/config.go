package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type StudySyncConfiguration struct {
	DatabaseURL       string
	CPMSBaseURL       string
	CPMSAPIKey        string
	CPMSAPIKeyHeader  string
	ListenAddr        string
	ChangeLogSince    time.Time
	ChangeLogMaxItems int
}

func LoadEnvConfig(configName string) StudySyncConfiguration {
	err := godotenv.Load(configName)
	if err != nil {
		log.Fatal("Error loading .env file")
	}

	databaseURL := os.Getenv("DATABASE_URL")
	cpmsBaseURL := os.Getenv("CPMS_API_BASE_URL")
	cpmsAPIKey := os.Getenv("CPMS_API_KEY")
	cpmsAPIKeyHeader := os.Getenv("CPMS_API_KEY_HEADER")
	if cpmsAPIKeyHeader == "" {
		cpmsAPIKeyHeader = "X-API-Key"
	}
	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	changeLogSince, err := time.Parse("2006-01-02", os.Getenv("CHANGE_LOG_SINCE"))
	if err != nil {
		log.Fatalf("failed to parse CHANGE_LOG_SINCE: %v", err)
	}

	changeLogMaxItems := 500
	if v := os.Getenv("CHANGE_LOG_MAX_ITEMS"); v != "" {
		changeLogMaxItems, err = strconv.Atoi(v)
		if err != nil {
			log.Fatalf("failed to parse integer: %v", err)
		}
	}

	return StudySyncConfiguration{
		DatabaseURL:       databaseURL,
		CPMSBaseURL:       cpmsBaseURL,
		CPMSAPIKey:        cpmsAPIKey,
		CPMSAPIKeyHeader:  cpmsAPIKeyHeader,
		ListenAddr:        listenAddr,
		ChangeLogSince:    changeLogSince,
		ChangeLogMaxItems: changeLogMaxItems,
	}
}
