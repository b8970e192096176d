// Package ids generates prefixed, collision-resistant record identifiers.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// Record prefixes. The prefix keeps identifiers readable in logs and
// statements while the UUIDv7 body keeps them unique and time ordered.
const (
	PrefixDeal       = "OTC"
	PrefixQuote      = "QTE"
	PrefixBlockTrade = "BLK"
	PrefixPool       = "LP"
	PrefixSettlement = "SET"
	PrefixWithdrawal = "WDR"
	PrefixDeposit    = "DEP"
	PrefixSweep      = "SWP"
	PrefixCreditLine = "CL"
	PrefixClient     = "CLI"
	PrefixSSI        = "SSI"
	PrefixCompliance = "CTX"
	PrefixSigner     = "SGN"
)

// New returns "<prefix>-<UUIDv7>" in upper case.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "-" + strings.ToUpper(id.String())
}

// HasPrefix reports whether id was generated with prefix.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"-")
}

func Deal() string        { return New(PrefixDeal) }
func Quote() string       { return New(PrefixQuote) }
func BlockTrade() string  { return New(PrefixBlockTrade) }
func Pool() string        { return New(PrefixPool) }
func Settlement() string  { return New(PrefixSettlement) }
func Withdrawal() string  { return New(PrefixWithdrawal) }
func Deposit() string     { return New(PrefixDeposit) }
func Sweep() string       { return New(PrefixSweep) }
func CreditLine() string  { return New(PrefixCreditLine) }
func Client() string      { return New(PrefixClient) }
func Instruction() string { return New(PrefixSSI) }
func Signer() string      { return New(PrefixSigner) }
