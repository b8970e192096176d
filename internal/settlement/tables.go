package settlement

import (
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/shopspring/decimal"
)

// MethodFor resolves the rail for an instruction type.
func MethodFor(t models.InstructionType) (models.SettlementMethod, error) {
	switch t {
	case models.InstructionCryptoWallet:
		return models.MethodCrypto, nil
	case models.InstructionBankWire:
		return models.MethodWire, nil
	case models.InstructionSWIFT:
		return models.MethodSWIFT, nil
	case models.InstructionFedwire:
		return models.MethodFedwire, nil
	}
	return "", errors.UnsupportedRail.Explain("no settlement rail for instruction type %q", t)
}

type priorityTable map[models.Priority]decimal.Decimal

// Crypto fees are a fraction of notional; bank fees are flat amounts in the
// fee currency.
var (
	cryptoFeeRate = priorityTable{
		models.PriorityStandard: decimal.RequireFromString("0.0010"),
		models.PriorityUrgent:   decimal.RequireFromString("0.0020"),
		models.PrioritySameDay:  decimal.RequireFromString("0.0030"),
	}
	flatFees = map[models.SettlementMethod]priorityTable{
		models.MethodWire: {
			models.PriorityStandard: decimal.NewFromInt(25),
			models.PriorityUrgent:   decimal.NewFromInt(50),
			models.PrioritySameDay:  decimal.NewFromInt(75),
		},
		models.MethodSWIFT: {
			models.PriorityStandard: decimal.NewFromInt(45),
			models.PriorityUrgent:   decimal.NewFromInt(80),
			models.PrioritySameDay:  decimal.NewFromInt(120),
		},
		models.MethodFedwire: {
			models.PriorityStandard: decimal.NewFromInt(30),
			models.PriorityUrgent:   decimal.NewFromInt(55),
			models.PrioritySameDay:  decimal.NewFromInt(85),
		},
	}
)

// Processing minutes per method and priority.
var processingMinutes = map[models.SettlementMethod]map[models.Priority]int{
	models.MethodCrypto:  {models.PriorityStandard: 60, models.PriorityUrgent: 30, models.PrioritySameDay: 15},
	models.MethodWire:    {models.PriorityStandard: 1440, models.PriorityUrgent: 240, models.PrioritySameDay: 120},
	models.MethodSWIFT:   {models.PriorityStandard: 2880, models.PriorityUrgent: 720, models.PrioritySameDay: 360},
	models.MethodFedwire: {models.PriorityStandard: 240, models.PriorityUrgent: 60, models.PrioritySameDay: 30},
}

var networkFees = map[string]decimal.Decimal{
	"BTC":  decimal.NewFromInt(25),
	"ETH":  decimal.NewFromInt(10),
	"USDT": decimal.NewFromInt(5),
	"USDC": decimal.NewFromInt(5),
}

var (
	defaultNetworkFee = decimal.NewFromInt(10)
	processingRate    = decimal.RequireFromString("0.0001") // 1 bp of notional
)

func validPriority(p models.Priority) bool {
	_, ok := cryptoFeeRate[p]
	return ok
}

// SideFee is the fee for one side settling notional over method.
func SideFee(method models.SettlementMethod, priority models.Priority, notional decimal.Decimal) decimal.Decimal {
	if method == models.MethodCrypto {
		return notional.Mul(cryptoFeeRate[priority])
	}
	return flatFees[method][priority]
}

// Minutes is the processing time of one side.
func Minutes(method models.SettlementMethod, priority models.Priority) int {
	return processingMinutes[method][priority]
}

// NetworkFee is the on-chain fee for a crypto side in currency.
func NetworkFee(currency string) decimal.Decimal {
	if fee, ok := networkFees[currency]; ok {
		return fee
	}
	return defaultNetworkFee
}

// Fees is the full fee breakdown of a settlement.
type Fees struct {
	Buyer      decimal.Decimal
	Seller     decimal.Decimal
	Network    decimal.Decimal
	Processing decimal.Decimal
	Total      decimal.Decimal
}

// ComputeFees prices both sides. Fees are in the source's quote currency.
func ComputeFees(buyer, seller models.SettlementMethod, buyerCurrency, sellerCurrency string, priority models.Priority, notional decimal.Decimal) Fees {
	f := Fees{
		Buyer:      SideFee(buyer, priority, notional),
		Seller:     SideFee(seller, priority, notional),
		Network:    decimal.Zero,
		Processing: notional.Mul(processingRate),
	}
	if buyer == models.MethodCrypto {
		f.Network = f.Network.Add(NetworkFee(buyerCurrency))
	}
	if seller == models.MethodCrypto {
		f.Network = f.Network.Add(NetworkFee(sellerCurrency))
	}
	f.Total = f.Buyer.Add(f.Seller).Add(f.Network).Add(f.Processing)
	return f
}
