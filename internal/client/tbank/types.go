package tbank

// Request and response shapes of the broker's InstrumentsService REST
// surface. Money fields arrive either as plain numbers, numeric strings, or
// {units, nano} objects depending on the endpoint version, so they are
// declared as any and normalized downstream.

type findInstrumentRequest struct {
	Query          string `json:"query"`
	InstrumentKind string `json:"instrumentKind,omitempty"`
	APITradeFlag   *bool  `json:"apiTradeAvailableFlag,omitempty"`
}

type findInstrumentResponse struct {
	Instruments []InstrumentShort `json:"instruments"`
}

// InstrumentShort is one search hit from FindInstrument.
type InstrumentShort struct {
	UID            string `json:"uid"`
	Ticker         string `json:"ticker"`
	Name           string `json:"name"`
	ISIN           string `json:"isin"`
	FIGI           string `json:"figi"`
	ClassCode      string `json:"classCode"`
	InstrumentType string `json:"instrumentType"`
}

type getInstrumentByRequest struct {
	IDType    string `json:"idType"`
	ClassCode string `json:"classCode,omitempty"`
	ID        string `json:"id"`
}

type getInstrumentByResponse struct {
	Instrument *InstrumentDetail `json:"instrument"`
}

// InstrumentDetail is the full instrument card from GetInstrumentBy.
type InstrumentDetail struct {
	UID            string `json:"uid"`
	Ticker         string `json:"ticker"`
	Name           string `json:"name"`
	ISIN           string `json:"isin"`
	FIGI           string `json:"figi"`
	ClassCode      string `json:"classCode"`
	InstrumentType string `json:"instrumentType"`
	AssetUID       string `json:"assetUid"`
}

type getForecastRequest struct {
	InstrumentID string `json:"instrumentId"`
}

// ForecastResponse carries the per-analyst targets and the aggregated
// consensus for one instrument.
type ForecastResponse struct {
	Targets   []TargetItem   `json:"targets"`
	Consensus *ConsensusItem `json:"consensus"`
}

// TargetItem is one analyst house's target for an instrument.
type TargetItem struct {
	UID                string `json:"uid"`
	Ticker             string `json:"ticker"`
	Company            string `json:"company"`
	Recommendation     string `json:"recommendation"`
	RecommendationDate string `json:"recommendationDate"`
	Currency           string `json:"currency"`
	CurrentPrice       any    `json:"currentPrice"`
	TargetPrice        any    `json:"targetPrice"`
	PriceChange        any    `json:"priceChange"`
	PriceChangeRel     any    `json:"priceChangeRel"`
	ShowName           string `json:"showName"`
}

// ConsensusItem is the aggregated consensus forecast.
type ConsensusItem struct {
	UID            string `json:"uid"`
	Ticker         string `json:"ticker"`
	Recommendation string `json:"recommendation"`
	Currency       string `json:"currency"`
	CurrentPrice   any    `json:"currentPrice"`
	Consensus      any    `json:"consensus"`
	MinTarget      any    `json:"minTarget"`
	MaxTarget      any    `json:"maxTarget"`
	PriceChange    any    `json:"priceChange"`
	PriceChangeRel any    `json:"priceChangeRel"`
}
