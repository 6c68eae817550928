package registry

// Kind identifies one logical broker operation.
type Kind int

const (
	GetPrice Kind = iota
	GetAccount
	GetOpenedTrades
	GetClosedTrades
	GetHistoricalData
	OpenMarketOrder
	StopLossOrder
	TakeProfitOrder
	ChangeStopLoss
	ChangeTakeProfit
	CloseTrade
)

// Kinds lists every operation in registration order.
var Kinds = []Kind{
	GetPrice, GetAccount, GetOpenedTrades, GetClosedTrades, GetHistoricalData,
	OpenMarketOrder, StopLossOrder, TakeProfitOrder, ChangeStopLoss, ChangeTakeProfit, CloseTrade,
}

var names = map[Kind]string{
	GetPrice:          "GetPrice",
	GetAccount:        "GetAccount",
	GetOpenedTrades:   "GetOpenedTrades",
	GetClosedTrades:   "GetClosedTrades",
	GetHistoricalData: "GetHistoricalData",
	OpenMarketOrder:   "OpenMarketOrder",
	StopLossOrder:     "StopLossOrder",
	TakeProfitOrder:   "TakeProfitOrder",
	ChangeStopLoss:    "ChangeStopLoss",
	ChangeTakeProfit:  "ChangeTakeProfit",
	CloseTrade:        "CloseTrade",
}

// String returns the configuration section name.
func (k Kind) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	return "Unknown"
}

// Polled reports whether the scheduler refreshes this operation.
func (k Kind) Polled() bool {
	return k <= GetClosedTrades
}

// Read reports whether the operation only reads broker state.
func (k Kind) Read() bool {
	return k <= GetHistoricalData
}
