package main

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	configDirPathEnv     = "HUBNODE_CONFIG_DIR_PATH"
	defaultConfigDirPath = "."
	defaultBatchSize     = 200
)

// ContractsConfig holds the coordinates of the on-chain contracts the
// operator interacts with.
type ContractsConfig struct {
	Channel string `env:"HUBNODE_CHANNEL_CONTRACT" env-default:""`
	Ledger  string `env:"HUBNODE_LEDGER_CONTRACT" env-default:""`
}

// Config is the immutable application configuration injected into every component.
type Config struct {
	operatorAddress string
	houseAccount    string
	privateKeyHex   string
	webhookSecret   string
	signingDomain   string
	nodeRPCURL      string
	contracts       ContractsConfig
	batchSize       int
	dbConf          DatabaseConfig
}

// LoadConfig builds configuration from environment variables.
func LoadConfig(logger Logger) (*Config, error) {
	logger = logger.NewSystem("config")

	configDirPath := os.Getenv(configDirPathEnv)
	if configDirPath == "" {
		configDirPath = defaultConfigDirPath
	}

	configDotEnvPath := filepath.Join(configDirPath, ".env")
	logger.Info("loading .env file", "path", configDotEnvPath)
	if err := godotenv.Load(configDotEnvPath); err != nil {
		logger.Warn(".env file not found")
	}

	// Get database URL from environment variables.
	// If it is not empty, parse the connection string, otherwise
	// read the envs in the usual way.
	var dbConf DatabaseConfig
	dbURL := os.Getenv("HUBNODE_DATABASE_URL")
	if dbURL != "" {
		var err error
		dbConf, err = ParseConnectionString(dbURL)
		if err != nil {
			logger.Error("failed to parse connection string", "err", err)
			return nil, err
		}
	} else {
		if err := cleanenv.ReadEnv(&dbConf); err != nil {
			logger.Error("failed to read env", "err", err)
			return nil, err
		}
	}

	privateKeyHex := os.Getenv("OPERATOR_PRIVATE_KEY")
	if privateKeyHex == "" {
		logger.Fatal("OPERATOR_PRIVATE_KEY environment variable is required")
	}

	operatorAddress := os.Getenv("HUBNODE_OPERATOR_ADDRESS")
	if operatorAddress == "" {
		logger.Fatal("HUBNODE_OPERATOR_ADDRESS environment variable is required")
	}

	webhookSecret := os.Getenv("HUBNODE_WEBHOOK_SECRET")
	if webhookSecret == "" {
		logger.Fatal("HUBNODE_WEBHOOK_SECRET environment variable is required")
	}

	// Left empty, the house account is derived from the payout signing key
	// at wiring time; see resolveHouseAccount.
	houseAccount := os.Getenv("HUBNODE_HOUSE_ACCOUNT")

	signingDomain := os.Getenv("HUBNODE_SIGNING_DOMAIN")
	if signingDomain == "" {
		signingDomain = "hubnode-transfer"
	}

	nodeRPCURL := os.Getenv("HUBNODE_NODE_RPC_URL")
	if nodeRPCURL == "" {
		logger.Fatal("HUBNODE_NODE_RPC_URL environment variable is required")
	}

	var contracts ContractsConfig
	if err := cleanenv.ReadEnv(&contracts); err != nil {
		logger.Error("failed to read contracts env", "err", err)
		return nil, err
	}

	batchSize := defaultBatchSize
	if raw := os.Getenv("HUBNODE_SETTLEMENT_BATCH_SIZE"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			batchSize = parsed
		} else {
			logger.Warn("invalid HUBNODE_SETTLEMENT_BATCH_SIZE", "value", raw)
		}
	}
	logger.Info("set settlement batch size", "value", batchSize)

	config := Config{
		operatorAddress: operatorAddress,
		houseAccount:    houseAccount,
		privateKeyHex:   privateKeyHex,
		webhookSecret:   webhookSecret,
		signingDomain:   signingDomain,
		nodeRPCURL:      nodeRPCURL,
		contracts:       contracts,
		batchSize:       batchSize,
		dbConf:          dbConf,
	}

	return &config, nil
}
