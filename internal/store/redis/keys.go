package redis

import (
	"fmt"
	"strings"
)

const (
	// KeyPrefixLedger is the prefix for completion markers
	KeyPrefixLedger = "bootgate:ledger:"
	// KeyPrefixLock is the prefix for bootstrap locks
	KeyPrefixLock = "bootgate:lock:"
)

// LedgerKey returns the Redis key holding the marker of a deployment
func LedgerKey(deployment string) string {
	return KeyPrefixLedger + deployment
}

// LockKey returns the Redis key guarding a deployment's bootstrap
func LockKey(deployment string) string {
	return KeyPrefixLock + deployment
}

// ExtractDeployment extracts the deployment id from a ledger key
func ExtractDeployment(key string) (string, error) {
	if !strings.HasPrefix(key, KeyPrefixLedger) || len(key) == len(KeyPrefixLedger) {
		return "", fmt.Errorf("invalid ledger key: %s", key)
	}
	return key[len(KeyPrefixLedger):], nil
}
