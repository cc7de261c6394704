package ledger

import (
	"fmt"
)

// Error codes for ledger operations
const (
	// ErrCodeInvalidAddress indicates a malformed recipient address
	ErrCodeInvalidAddress = "INVALID_ADDRESS"
	// ErrCodeInvalidPrivateKey indicates an invalid or malformed private key
	ErrCodeInvalidPrivateKey = "INVALID_PRIVATE_KEY"
	// ErrCodeRPCError indicates an RPC connection or call failed
	ErrCodeRPCError = "RPC_ERROR"
	// ErrCodeChainMismatch indicates the node serves a different chain
	ErrCodeChainMismatch = "CHAIN_MISMATCH"
	// ErrCodeTransferFailed indicates a token transfer failed to execute
	ErrCodeTransferFailed = "TRANSFER_FAILED"
	// ErrCodeContractError indicates contract interaction failed
	ErrCodeContractError = "CONTRACT_ERROR"
	// ErrCodeGasPrice indicates gas price exceeds the configured bound
	ErrCodeGasPrice = "GAS_PRICE_TOO_HIGH"
)

// LedgerError carries the error code and underlying cause of a failed
// ledger operation.
type LedgerError struct {
	Code    string
	Message string
	Err     error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
}

// Unwrap returns the underlying error.
func (e *LedgerError) Unwrap() error {
	return e.Err
}

// NewLedgerError creates a new LedgerError.
func NewLedgerError(code string, message string, err error) *LedgerError {
	return &LedgerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsLedgerError checks if an error is a LedgerError with the given code.
func IsLedgerError(err error, code string) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*LedgerError); ok {
		return e.Code == code
	}
	return false
}
