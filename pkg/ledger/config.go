// Package ledger moves earned credits on chain as ERC20 token transfers.
package ledger

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// LedgerConfig holds the chain connection and token settings.
type LedgerConfig struct {
	// RPCURL is the HTTP(S) endpoint of the chain node
	RPCURL string

	// ChainID is the expected chain, checked against the node on connect
	ChainID int64

	// TokenAddress is the credit token contract
	TokenAddress string

	// TokenDecimals converts whole credits to base units
	TokenDecimals int

	// PrivateKey signs outgoing transfers (hex, optional 0x prefix)
	PrivateKey string

	// MaxRetries and RetryDelay govern the initial connection attempts
	MaxRetries int
	RetryDelay time.Duration

	// MaxGasPrice bounds what a transfer may pay; nil means no bound
	MaxGasPrice *big.Int

	Logger *logrus.Logger
}

// NewLedgerConfig loads chain settings from the environment.
func NewLedgerConfig(logger *logrus.Logger) (*LedgerConfig, error) {
	chainID, _ := strconv.ParseInt(getEnvOrDefault("LEDGER_CHAIN_ID", "8453"), 10, 64)
	decimals, _ := strconv.Atoi(getEnvOrDefault("LEDGER_TOKEN_DECIMALS", "18"))
	retries, _ := strconv.Atoi(getEnvOrDefault("LEDGER_MAX_RETRIES", "3"))

	config := &LedgerConfig{
		RPCURL:        os.Getenv("LEDGER_RPC_URL"),
		ChainID:       chainID,
		TokenAddress:  os.Getenv("LEDGER_TOKEN_ADDRESS"),
		TokenDecimals: decimals,
		PrivateKey:    os.Getenv("LEDGER_PRIVATE_KEY"),
		MaxRetries:    retries,
		RetryDelay:    time.Second,
		Logger:        logger,
	}

	if maxGwei := os.Getenv("LEDGER_MAX_GAS_PRICE_GWEI"); maxGwei != "" {
		if gwei, err := strconv.ParseInt(maxGwei, 10, 64); err == nil && gwei > 0 {
			config.MaxGasPrice = new(big.Int).Mul(big.NewInt(gwei), big.NewInt(1_000_000_000))
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *LedgerConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.RPCURL == "" {
		return fmt.Errorf("LEDGER_RPC_URL is required")
	}
	if c.TokenAddress == "" {
		return fmt.Errorf("LEDGER_TOKEN_ADDRESS is required")
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("LEDGER_PRIVATE_KEY is required")
	}
	if c.TokenDecimals < 0 || c.TokenDecimals > 36 {
		return fmt.Errorf("token decimals out of range: %d", c.TokenDecimals)
	}
	return nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
