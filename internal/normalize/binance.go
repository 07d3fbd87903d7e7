package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/marketprism/ingest/internal/record"
)

// BinanceNormalizer implements Normalizer for Binance spot and
// derivatives wire payloads. One instance is bound to a single market
// type: a Binance spot exchange client and a Binance perpetual client
// each own their own normalizer instance.
type BinanceNormalizer struct {
	marketType record.MarketType
}

// NewBinanceNormalizer builds a normalizer for one Binance market type.
func NewBinanceNormalizer(marketType record.MarketType) *BinanceNormalizer {
	return &BinanceNormalizer{marketType: marketType}
}

func (n *BinanceNormalizer) Exchange() string { return "binance" }

func (n *BinanceNormalizer) Normalize(dataType record.DataType, raw []byte) (record.Envelope, error) {
	switch dataType {
	case record.DataTypeTrade:
		return n.normalizeTrade(raw)
	case record.DataTypeOrderbookSnapshot:
		return n.normalizeSnapshot(raw)
	case record.DataTypeOrderbookDelta:
		return n.normalizeDelta(raw)
	case record.DataTypeFundingRate:
		return n.normalizeFundingRate(raw)
	case record.DataTypeOpenInterest:
		return n.normalizeOpenInterest(raw)
	case record.DataTypeLiquidation:
		return n.normalizeLiquidation(raw)
	default:
		return record.Envelope{}, fmt.Errorf("%w: binance/%s", ErrUnsupportedDataType, dataType)
	}
}

// binanceTradeMessage is the trimmed wire shape of a Binance trade stream
// event: {"s":"BTCUSDT","t":"42","p":"30000.10","q":"0.5","T":1720000000123,"m":false}
type binanceTradeMessage struct {
	Symbol       string      `json:"s"`
	TradeID      json.Number `json:"t"`
	Price        string      `json:"p"`
	Quantity     string      `json:"q"`
	TradeTsMs    int64       `json:"T"`
	IsBuyerMaker bool        `json:"m"`
}

func (n *BinanceNormalizer) normalizeTrade(raw []byte) (record.Envelope, error) {
	var msg binanceTradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return record.Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if msg.Symbol == "" || msg.TradeTsMs == 0 {
		return record.Envelope{}, fmt.Errorf("%w: missing symbol or timestamp", ErrInvalidPayload)
	}

	price, err := ParseDecimal(msg.Price, false)
	if err != nil {
		return record.Envelope{}, err
	}
	qty, err := ParseDecimal(msg.Quantity, false)
	if err != nil {
		return record.Envelope{}, err
	}

	symbol, err := binanceSymbolToCanonical(msg.Symbol, n.marketType)
	if err != nil {
		return record.Envelope{}, err
	}

	// Binance's m flag is isBuyerMaker: true means the buy side rested on
	// the book (maker) and the incoming taker sold, so the trade's
	// aggressor side is sell; false means the taker bought.
	side := record.SideBuy
	if msg.IsBuyerMaker {
		side = record.SideSell
	}

	meta := record.Meta{
		Exchange:   n.Exchange(),
		MarketType: n.marketType,
		Symbol:     symbol,
		TsMs:       msg.TradeTsMs,
		DataSource: record.DataSource,
	}

	trade := record.Trade{
		Meta:      meta,
		TradeID:   msg.TradeID.String(),
		Price:     price,
		Quantity:  qty,
		Side:      side,
		IsMaker:   msg.IsBuyerMaker,
		TradeTsMs: msg.TradeTsMs,
	}

	return record.NewEnvelope(record.DataTypeTrade, meta, trade), nil
}

type binanceDepthLevel [2]string

type binanceDepthSnapshot struct {
	Symbol       string              `json:"s"`
	LastUpdateID int64               `json:"lastUpdateId"`
	Bids         []binanceDepthLevel `json:"bids"`
	Asks         []binanceDepthLevel `json:"asks"`
	EventTsMs    int64               `json:"E"`
}

func (n *BinanceNormalizer) normalizeSnapshot(raw []byte) (record.Envelope, error) {
	var msg binanceDepthSnapshot
	if err := json.Unmarshal(raw, &msg); err != nil {
		return record.Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if msg.Symbol == "" {
		return record.Envelope{}, fmt.Errorf("%w: missing symbol", ErrInvalidPayload)
	}

	symbol, err := binanceSymbolToCanonical(msg.Symbol, n.marketType)
	if err != nil {
		return record.Envelope{}, err
	}

	bids, err := decodeLevels(msg.Bids)
	if err != nil {
		return record.Envelope{}, err
	}
	asks, err := decodeLevels(msg.Asks)
	if err != nil {
		return record.Envelope{}, err
	}

	tsMs := msg.EventTsMs
	if tsMs == 0 {
		tsMs = record.NowMs()
	}

	meta := record.Meta{
		Exchange:   n.Exchange(),
		MarketType: n.marketType,
		Symbol:     symbol,
		TsMs:       tsMs,
		DataSource: record.DataSource,
	}

	snap := record.OrderbookSnapshot{
		Meta:         meta,
		LastUpdateID: msg.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
		DepthLevels:  len(bids) + len(asks),
	}
	if len(bids) > 0 {
		snap.BestBidPrice, snap.BestBidQty = bids[0].Price, bids[0].Quantity
	}
	if len(asks) > 0 {
		snap.BestAskPrice, snap.BestAskQty = asks[0].Price, asks[0].Quantity
	}
	if err := snap.ValidateCrossed(); err != nil {
		return record.Envelope{}, err
	}

	env := record.NewEnvelope(record.DataTypeOrderbookSnapshot, meta, snap)
	env.OrderbookKind = record.OrderbookKindSnapshot
	return env, nil
}

type binanceDepthUpdate struct {
	Symbol        string              `json:"s"`
	EventTsMs     int64               `json:"E"`
	FirstUpdateID int64               `json:"U"`
	LastUpdateID  int64               `json:"u"`
	PrevUpdateID  int64               `json:"pu"`
	BidChanges    []binanceDepthLevel `json:"b"`
	AskChanges    []binanceDepthLevel `json:"a"`
}

func (n *BinanceNormalizer) normalizeDelta(raw []byte) (record.Envelope, error) {
	var msg binanceDepthUpdate
	if err := json.Unmarshal(raw, &msg); err != nil {
		return record.Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if msg.Symbol == "" {
		return record.Envelope{}, fmt.Errorf("%w: missing symbol", ErrInvalidPayload)
	}

	symbol, err := binanceSymbolToCanonical(msg.Symbol, n.marketType)
	if err != nil {
		return record.Envelope{}, err
	}

	bidChanges, err := decodeChanges(msg.BidChanges)
	if err != nil {
		return record.Envelope{}, err
	}
	askChanges, err := decodeChanges(msg.AskChanges)
	if err != nil {
		return record.Envelope{}, err
	}

	tsMs := msg.EventTsMs
	if tsMs == 0 {
		tsMs = record.NowMs()
	}

	meta := record.Meta{
		Exchange:   n.Exchange(),
		MarketType: n.marketType,
		Symbol:     symbol,
		TsMs:       tsMs,
		DataSource: record.DataSource,
	}

	delta := record.OrderbookDelta{
		Meta:          meta,
		FirstUpdateID: msg.FirstUpdateID,
		LastUpdateID:  msg.LastUpdateID,
		PrevUpdateID:  msg.PrevUpdateID,
		BidChanges:    bidChanges,
		AskChanges:    askChanges,
	}

	env := record.NewEnvelope(record.DataTypeOrderbookDelta, meta, delta)
	env.OrderbookKind = record.OrderbookKindDelta
	return env, nil
}

type binanceFundingMessage struct {
	Symbol          string `json:"s"`
	FundingRate     string `json:"r"`
	FundingTsMs     int64  `json:"T"`
	NextFundingTsMs int64  `json:"nextFundingTime"`
	MarkPrice       string `json:"p"`
	IndexPrice      string `json:"i"`
}

func (n *BinanceNormalizer) normalizeFundingRate(raw []byte) (record.Envelope, error) {
	var msg binanceFundingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return record.Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if msg.Symbol == "" || msg.FundingTsMs == 0 {
		return record.Envelope{}, fmt.Errorf("%w: missing symbol or timestamp", ErrInvalidPayload)
	}

	symbol, err := binanceSymbolToCanonical(msg.Symbol, n.marketType)
	if err != nil {
		return record.Envelope{}, err
	}

	rate, err := ParseDecimal(msg.FundingRate, false)
	if err != nil {
		return record.Envelope{}, err
	}

	meta := record.Meta{
		Exchange:   n.Exchange(),
		MarketType: n.marketType,
		Symbol:     symbol,
		TsMs:       msg.FundingTsMs,
		DataSource: record.DataSource,
	}

	funding := record.FundingRate{
		Meta:            meta,
		FundingRate:     rate,
		FundingTsMs:     msg.FundingTsMs,
		NextFundingTsMs: msg.NextFundingTsMs,
	}
	if mark, err := ParseDecimal(msg.MarkPrice, true); err == nil && msg.MarkPrice != "" {
		funding.MarkPrice = &mark
	}
	if idx, err := ParseDecimal(msg.IndexPrice, true); err == nil && msg.IndexPrice != "" {
		funding.IndexPrice = &idx
	}

	return record.NewEnvelope(record.DataTypeFundingRate, meta, funding), nil
}

type binanceOpenInterestMessage struct {
	Symbol            string `json:"symbol"`
	OpenInterest      string `json:"openInterest"`
	OpenInterestValue string `json:"sumOpenInterestValue"`
	TsMs              int64  `json:"time"`
}

func (n *BinanceNormalizer) normalizeOpenInterest(raw []byte) (record.Envelope, error) {
	var msg binanceOpenInterestMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return record.Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if msg.Symbol == "" {
		return record.Envelope{}, fmt.Errorf("%w: missing symbol", ErrInvalidPayload)
	}

	symbol, err := binanceSymbolToCanonical(msg.Symbol, n.marketType)
	if err != nil {
		return record.Envelope{}, err
	}

	oi, err := ParseDecimal(msg.OpenInterest, false)
	if err != nil {
		return record.Envelope{}, err
	}
	oiValue, err := ParseDecimal(msg.OpenInterestValue, true)
	if err != nil {
		return record.Envelope{}, err
	}

	tsMs := msg.TsMs
	if tsMs == 0 {
		tsMs = record.NowMs()
	}

	meta := record.Meta{
		Exchange:   n.Exchange(),
		MarketType: n.marketType,
		Symbol:     symbol,
		TsMs:       tsMs,
		DataSource: record.DataSource,
	}

	return record.NewEnvelope(record.DataTypeOpenInterest, meta, record.OpenInterest{
		Meta:              meta,
		OpenInterest:      oi,
		OpenInterestValue: oiValue,
	}), nil
}

type binanceLiquidationMessage struct {
	Symbol   string `json:"s"`
	Side     string `json:"S"`
	Price    string `json:"p"`
	Quantity string `json:"q"`
	TsMs     int64  `json:"T"`
}

func (n *BinanceNormalizer) normalizeLiquidation(raw []byte) (record.Envelope, error) {
	var msg binanceLiquidationMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return record.Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if msg.Symbol == "" || msg.TsMs == 0 {
		return record.Envelope{}, fmt.Errorf("%w: missing symbol or timestamp", ErrInvalidPayload)
	}

	symbol, err := binanceSymbolToCanonical(msg.Symbol, n.marketType)
	if err != nil {
		return record.Envelope{}, err
	}

	price, err := ParseDecimal(msg.Price, false)
	if err != nil {
		return record.Envelope{}, err
	}
	qty, err := ParseDecimal(msg.Quantity, false)
	if err != nil {
		return record.Envelope{}, err
	}

	meta := record.Meta{
		Exchange:   n.Exchange(),
		MarketType: n.marketType,
		Symbol:     symbol,
		TsMs:       msg.TsMs,
		DataSource: record.DataSource,
	}

	return record.NewEnvelope(record.DataTypeLiquidation, meta, record.Liquidation{
		Meta:            meta,
		Side:            MapSide(msg.Side, "BUY"),
		Price:           price,
		Quantity:        qty,
		LiquidationTsMs: msg.TsMs,
	}), nil
}

// binanceSymbolToCanonical splits a concatenated Binance symbol like
// "BTCUSDT" into base/quote using the known quote-asset suffix list, then
// applies the shared canonical form.
func binanceSymbolToCanonical(raw string, marketType record.MarketType) (string, error) {
	clean := StripSeparators(raw)
	for _, quote := range []string{"USDT", "USDC", "BUSD", "USD", "BTC", "ETH"} {
		if len(clean) > len(quote) && clean[len(clean)-len(quote):] == quote {
			base := clean[:len(clean)-len(quote)]
			return CanonicalSymbol(base, quote, marketType), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownSymbol, raw)
}

func decodeLevels(raw []binanceDepthLevel) ([]record.PriceLevel, error) {
	levels := make([]record.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := ParseDecimal(lvl[0], false)
		if err != nil {
			return nil, err
		}
		qty, err := ParseDecimal(lvl[1], false)
		if err != nil {
			return nil, err
		}
		levels = append(levels, record.PriceLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}

func decodeChanges(raw []binanceDepthLevel) ([]record.LevelChange, error) {
	changes := make([]record.LevelChange, 0, len(raw))
	for _, lvl := range raw {
		price, err := ParseDecimal(lvl[0], false)
		if err != nil {
			return nil, err
		}
		qty, err := ParseDecimal(lvl[1], true)
		if err != nil {
			return nil, err
		}
		changes = append(changes, record.LevelChange{Price: price, Quantity: qty})
	}
	return changes, nil
}
