package pricing

import (
	"strings"

	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/shopspring/decimal"
)

// SizeClass buckets a trade by its base amount.
type SizeClass string

const (
	SizeSmall  SizeClass = "small"
	SizeMedium SizeClass = "medium"
	SizeLarge  SizeClass = "large"
	SizeBlock  SizeClass = "block"
)

func (s SizeClass) valid() bool {
	switch s {
	case SizeSmall, SizeMedium, SizeLarge, SizeBlock:
		return true
	}
	return false
}

// sizeLimits holds the lower bound of medium, large and block trades and the
// accepted amount range, all in base currency units.
type sizeLimits struct {
	medium, large, block decimal.Decimal
	min, max             decimal.Decimal
}

func limits(medium, large, block, min, max string) sizeLimits {
	return sizeLimits{
		medium: decimal.RequireFromString(medium),
		large:  decimal.RequireFromString(large),
		block:  decimal.RequireFromString(block),
		min:    decimal.RequireFromString(min),
		max:    decimal.RequireFromString(max),
	}
}

var (
	sizeTable = map[string]sizeLimits{
		"BTC":  limits("0.25", "2", "10", "0.01", "1000"),
		"ETH":  limits("5", "30", "150", "0.1", "10000"),
		"SOL":  limits("200", "2000", "10000", "1", "500000"),
		"USDT": limits("10000", "100000", "1000000", "1000", "100000000"),
		"USDC": limits("10000", "100000", "1000000", "1000", "100000000"),
	}
	defaultSizes = limits("1000", "10000", "100000", "1", "10000000")
)

func sizesFor(base string) sizeLimits {
	if l, ok := sizeTable[strings.ToUpper(base)]; ok {
		return l
	}
	return defaultSizes
}

// Classify returns the size class of amount units of base.
func Classify(base string, amount decimal.Decimal) SizeClass {
	l := sizesFor(base)
	switch {
	case amount.GreaterThanOrEqual(l.block):
		return SizeBlock
	case amount.GreaterThanOrEqual(l.large):
		return SizeLarge
	case amount.GreaterThanOrEqual(l.medium):
		return SizeMedium
	default:
		return SizeSmall
	}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// baseSpreads is keyed by client tier then size class. Rows and columns are
// non-increasing once the liquidity adjustment is added.
var baseSpreads = map[models.ClientTier]map[SizeClass]decimal.Decimal{
	models.TierRetail: {
		SizeSmall: d("0.0050"), SizeMedium: d("0.0040"), SizeLarge: d("0.0030"), SizeBlock: d("0.0025"),
	},
	models.TierProfessional: {
		SizeSmall: d("0.0035"), SizeMedium: d("0.0028"), SizeLarge: d("0.0020"), SizeBlock: d("0.0015"),
	},
	models.TierInstitutional: {
		SizeSmall: d("0.0020"), SizeMedium: d("0.0015"), SizeLarge: d("0.0010"), SizeBlock: d("0.0005"),
	},
}

var liquidityAdjustment = map[SizeClass]decimal.Decimal{
	SizeSmall:  decimal.Zero,
	SizeMedium: decimal.Zero,
	SizeLarge:  d("0.0005"),
	SizeBlock:  d("0.0008"),
}

// volatilitySteps is ordered from the highest threshold down.
var volatilitySteps = []struct {
	above      decimal.Decimal
	adjustment decimal.Decimal
}{
	{above: d("10"), adjustment: d("0.003")},
	{above: d("5"), adjustment: d("0.002")},
	{above: d("2"), adjustment: d("0.001")},
}

func volatilityAdjustment(volatilityPct decimal.Decimal) decimal.Decimal {
	for _, step := range volatilitySteps {
		if volatilityPct.GreaterThan(step.above) {
			return step.adjustment
		}
	}
	return decimal.Zero
}

type sizeProfile struct {
	impact   decimal.Decimal
	rating   string
	validity int // seconds
}

var sizeProfiles = map[SizeClass]sizeProfile{
	SizeSmall:  {impact: d("0.0001"), rating: "excellent", validity: 300},
	SizeMedium: {impact: d("0.0005"), rating: "good", validity: 120},
	SizeLarge:  {impact: d("0.0015"), rating: "fair", validity: 60},
	SizeBlock:  {impact: d("0.0040"), rating: "limited", validity: 30},
}
