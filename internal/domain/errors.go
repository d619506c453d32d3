package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors: compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Market errors
var (
	// ErrMarketNotFound is returned when no market matches the given criteria.
	ErrMarketNotFound = errors.New("market not found")

	// ErrMarketNotOpen is returned when a trade is attempted on a market that
	// is not OPEN or whose trading window has passed.
	ErrMarketNotOpen = errors.New("market is not open for trading")

	// ErrMarketAlreadyResolved reports that a market already carries a
	// recorded resolution.
	ErrMarketAlreadyResolved = errors.New("market is already resolved")

	// ErrInvalidMarket is returned when a market definition fails validation.
	ErrInvalidMarket = errors.New("invalid market definition")

	// ErrInvalidTransition is returned when a status change is not permitted
	// by the lifecycle state machine.
	ErrInvalidTransition = errors.New("invalid market status transition")

	// ErrAlreadySettled is returned when settlement claims already exist for
	// the market.
	ErrAlreadySettled = errors.New("market is already settled")
)

// Trade errors
var (
	// ErrInvalidAmount is returned for a zero, negative or non-finite amount.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrInvalidSide is returned when the side is not one of the market's outcomes.
	ErrInvalidSide = errors.New("side is not valid for this market")
)

// Wallet errors
var (
	// ErrWalletNotFound is returned when no wallet exists for the address.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrInsufficientBalance is returned when the wallet's points are lower
	// than the trade amount.
	ErrInsufficientBalance = errors.New("insufficient points balance")

	// ErrFaucetCooldown is returned when a faucet claim is attempted before the
	// cooldown has elapsed.
	ErrFaucetCooldown = errors.New("faucet cooldown has not elapsed")

	// ErrInvalidWallet is returned for an empty wallet address.
	ErrInvalidWallet = errors.New("wallet address is required")
)

// Infrastructure errors
var (
	// ErrOracleUnavailable is returned when a price or rank reading could not be
	// obtained. The lifecycle treats it as a retryable miss.
	ErrOracleUnavailable = errors.New("oracle reading unavailable")

	// ErrConcurrencyConflict is returned when a concurrent writer invalidated
	// the transaction (serialization failure or deadlock).
	ErrConcurrencyConflict = errors.New("concurrent modification, retry")

	// ErrLedgerWrite is returned when the ledger rejected a write. The operation
	// is aborted and nothing is applied.
	ErrLedgerWrite = errors.New("ledger write failed")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// notFoundErrors collects all "entity not found" sentinel errors so that
// IsNotFound can stay in sync automatically.
var notFoundErrors = []error{
	ErrMarketNotFound,
	ErrWalletNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors. Use this instead of comparing error values directly
// when you need to translate domain errors to HTTP 404 responses.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation returns true for errors caused by bad caller input. They are
// raised before any write and are never retried.
func IsValidation(err error) bool {
	validationErrors := []error{
		ErrMarketNotOpen,
		ErrInvalidAmount,
		ErrInvalidSide,
		ErrInvalidMarket,
		ErrInvalidWallet,
		ErrInsufficientBalance,
		ErrFaucetCooldown,
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict returns true for errors that represent a state conflict (e.g.
// an illegal status change or a lost race with another writer).
func IsConflict(err error) bool {
	conflictErrors := []error{
		ErrMarketAlreadyResolved,
		ErrAlreadySettled,
		ErrInvalidTransition,
		ErrConcurrencyConflict,
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// errorCodes maps each sentinel to the stable code returned to API clients.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrMarketNotFound, "ERR_MARKET_NOT_FOUND"},
	{ErrMarketNotOpen, "ERR_MARKET_NOT_OPEN"},
	{ErrMarketAlreadyResolved, "ERR_MARKET_ALREADY_RESOLVED"},
	{ErrInvalidMarket, "ERR_INVALID_MARKET"},
	{ErrInvalidTransition, "ERR_INVALID_TRANSITION"},
	{ErrAlreadySettled, "ERR_ALREADY_SETTLED"},
	{ErrInvalidAmount, "ERR_INVALID_AMOUNT"},
	{ErrInvalidSide, "ERR_INVALID_SIDE"},
	{ErrWalletNotFound, "ERR_WALLET_NOT_FOUND"},
	{ErrInsufficientBalance, "ERR_INSUFFICIENT_BALANCE"},
	{ErrFaucetCooldown, "ERR_FAUCET_COOLDOWN"},
	{ErrInvalidWallet, "ERR_INVALID_WALLET"},
	{ErrOracleUnavailable, "ERR_ORACLE_UNAVAILABLE"},
	{ErrConcurrencyConflict, "ERR_CONCURRENCY_CONFLICT"},
	{ErrLedgerWrite, "ERR_LEDGER_WRITE"},
}

// ErrorCode returns the client-facing code for err, or "ERR_INTERNAL" when
// err is not a domain error.
func ErrorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "ERR_INTERNAL"
}
