package bootstrap

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/AlibekovAA/hubrpc/internal/common/config"
	"github.com/AlibekovAA/hubrpc/internal/common/logger"
)

type HubApp struct {
	Log    *logger.Logger
	Config config.HubConfig
}

// NewHubApp loads an optional .env file, then the logger and configuration.
func NewHubApp(serviceName string) (*HubApp, error) {
	envErr := godotenv.Load()

	log, err := initializeLogger(serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if envErr != nil && !os.IsNotExist(envErr) {
		log.Warnf("failed to load .env: %v", envErr)
	}

	cfg, err := config.LoadHubConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &HubApp{
		Log:    log,
		Config: cfg,
	}, nil
}

func initializeLogger(serviceName string) (*logger.Logger, error) {
	return logger.New(os.Getenv("LOG_DIR"), serviceName, os.Getenv("LOG_LEVEL"))
}
