package models

// PriceBar is one daily history row from the exchange ISS API. Bars are
// immutable once recorded: the composite key (board, secid, trade_date) is
// insert-if-absent only, and rows slide out of the retention window by
// trade date.
type PriceBar struct {
	BoardID    string   `gorm:"primaryKey;type:text;comment:exchange board id"`
	SecID      string   `gorm:"primaryKey;type:text;comment:exchange security code"`
	TradeDate  string   `gorm:"primaryKey;type:text;comment:trade date YYYY-MM-DD"`
	ShortName  *string  `gorm:"type:text;comment:security short name"`
	NumTrades  *int64   `gorm:"comment:number of trades"`
	Value      *float64 `gorm:"comment:traded value"`
	Open       *float64 `gorm:"comment:open price"`
	Low        *float64 `gorm:"comment:low price"`
	High       *float64 `gorm:"comment:high price"`
	LegalClose *float64 `gorm:"comment:official close price"`
	WAPrice    *float64 `gorm:"comment:weighted average price"`
	Close      *float64 `gorm:"comment:close price"`
	Volume     *int64   `gorm:"comment:traded volume"`
	WAVal      *int64   `gorm:"comment:weighted average value"`
	CurrencyID *string  `gorm:"type:text;comment:trading currency"`
}

func (PriceBar) TableName() string {
	return "price_bars"
}
