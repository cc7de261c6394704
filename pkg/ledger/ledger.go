package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// Minimal ERC20 ABI: balanceOf and transfer are all the ledger needs.
const erc20ABI = `[
	{
		"constant": true,
		"inputs": [{"name": "_owner", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "balance", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "_to", "type": "address"},
			{"name": "_value", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	}
]`

// ChainLedger dispatches credit rewards as ERC20 transfers from a single
// treasury wallet on one chain.
type ChainLedger struct {
	client     *ethclient.Client
	config     *LedgerConfig
	keyManager *KeyManager
	tokenABI   abi.ABI
	token      common.Address
	chainID    *big.Int
	log        *logrus.Logger
}

// NewChainLedger connects to the configured node, verifies the chain id
// and prepares the token contract binding.
func NewChainLedger(ctx context.Context, config *LedgerConfig) (*ChainLedger, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger config: %w", err)
	}

	keyManager, err := NewKeyManager(config.PrivateKey)
	if err != nil {
		return nil, NewLedgerError(ErrCodeInvalidPrivateKey, "failed to initialize key manager", err)
	}

	if !common.IsHexAddress(config.TokenAddress) {
		return nil, NewLedgerError(ErrCodeInvalidAddress, "invalid token address", fmt.Errorf("%q", config.TokenAddress))
	}

	client, err := dialWithRetry(ctx, config)
	if err != nil {
		return nil, NewLedgerError(ErrCodeRPCError, "failed to connect to chain node", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, NewLedgerError(ErrCodeRPCError, "failed to get chain id", err)
	}
	if chainID.Int64() != config.ChainID {
		return nil, NewLedgerError(ErrCodeChainMismatch, "node serves unexpected chain",
			fmt.Errorf("want %d, got %s", config.ChainID, chainID))
	}

	tokenABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, NewLedgerError(ErrCodeContractError, "failed to parse token ABI", err)
	}

	config.Logger.WithFields(logrus.Fields{
		"chain_id":      config.ChainID,
		"token_address": config.TokenAddress,
		"treasury":      keyManager.GetAddress().Hex(),
	}).Info("Chain ledger connected")

	return &ChainLedger{
		client:     client,
		config:     config,
		keyManager: keyManager,
		tokenABI:   tokenABI,
		token:      common.HexToAddress(config.TokenAddress),
		chainID:    chainID,
		log:        config.Logger,
	}, nil
}

// Transfer sends whole credits to the recipient wallet and returns the
// transaction hash. Credits are scaled by the token's decimals.
func (l *ChainLedger) Transfer(ctx context.Context, walletAddress string, credits int) (string, error) {
	if !common.IsHexAddress(walletAddress) {
		return "", NewLedgerError(ErrCodeInvalidAddress, "invalid recipient address", fmt.Errorf("%q", walletAddress))
	}
	if credits <= 0 {
		return "", fmt.Errorf("credits must be positive, got %d", credits)
	}

	if l.config.MaxGasPrice != nil {
		gasPrice, err := l.client.SuggestGasPrice(ctx)
		if err != nil {
			return "", NewLedgerError(ErrCodeRPCError, "failed to get gas price", err)
		}
		if gasPrice.Cmp(l.config.MaxGasPrice) > 0 {
			return "", NewLedgerError(ErrCodeGasPrice, "gas price above configured bound",
				fmt.Errorf("current %s, bound %s", gasPrice, l.config.MaxGasPrice))
		}
	}

	contract := bind.NewBoundContract(l.token, l.tokenABI, l.client, l.client, l.client)

	auth, err := bind.NewKeyedTransactorWithChainID(l.keyManager.privateKey, l.chainID)
	if err != nil {
		return "", NewLedgerError(ErrCodeTransferFailed, "failed to create transactor", err)
	}
	auth.Context = ctx

	to := common.HexToAddress(walletAddress)
	amount := l.toBaseUnits(credits)

	tx, err := contract.Transact(auth, "transfer", to, amount)
	if err != nil {
		return "", NewLedgerError(ErrCodeTransferFailed, "failed to transfer credits", err)
	}

	hash := tx.Hash().Hex()
	l.log.WithFields(logrus.Fields{
		"recipient": walletAddress,
		"credits":   credits,
		"tx_hash":   hash,
	}).Info("Dispatched credit transfer")

	return hash, nil
}

// TreasuryBalance returns the treasury's token balance in whole credits,
// truncated.
func (l *ChainLedger) TreasuryBalance(ctx context.Context) (*big.Int, error) {
	contract := bind.NewBoundContract(l.token, l.tokenABI, l.client, l.client, l.client)

	var out []interface{}
	err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", l.keyManager.GetAddress())
	if err != nil {
		return nil, NewLedgerError(ErrCodeContractError, "failed to get treasury balance", err)
	}
	if len(out) == 0 {
		return nil, NewLedgerError(ErrCodeContractError, "no balance returned", nil)
	}

	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, NewLedgerError(ErrCodeContractError, "failed to convert balance to *big.Int", nil)
	}

	return new(big.Int).Quo(balance, l.unitScale()), nil
}

// Close releases the node connection.
func (l *ChainLedger) Close() {
	l.client.Close()
	l.log.Debug("Closed chain connection")
}

func (l *ChainLedger) toBaseUnits(credits int) *big.Int {
	return new(big.Int).Mul(big.NewInt(int64(credits)), l.unitScale())
}

func (l *ChainLedger) unitScale() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(l.config.TokenDecimals)), nil)
}

func dialWithRetry(ctx context.Context, config *LedgerConfig) (*ethclient.Client, error) {
	var client *ethclient.Client
	var err error

	for i := 0; i <= config.MaxRetries; i++ {
		client, err = ethclient.DialContext(ctx, config.RPCURL)
		if err == nil {
			return client, nil
		}

		if i < config.MaxRetries {
			config.Logger.WithFields(logrus.Fields{
				"attempt": i + 1,
				"error":   err,
			}).Debug("Retrying chain connection")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(config.RetryDelay):
			}
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", config.MaxRetries+1, err)
}
