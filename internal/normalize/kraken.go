package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marketprism/ingest/internal/record"
)

// KrakenNormalizer implements Normalizer for Kraken's WebSocket v2
// payload shape (object-framed trade and book channel messages).
type KrakenNormalizer struct {
	marketType record.MarketType
}

func NewKrakenNormalizer(marketType record.MarketType) *KrakenNormalizer {
	return &KrakenNormalizer{marketType: marketType}
}

func (n *KrakenNormalizer) Exchange() string { return "kraken" }

func (n *KrakenNormalizer) Normalize(dataType record.DataType, raw []byte) (record.Envelope, error) {
	switch dataType {
	case record.DataTypeTrade:
		return n.normalizeTrade(raw)
	case record.DataTypeOrderbookSnapshot:
		return n.normalizeBook(raw, record.OrderbookKindSnapshot)
	case record.DataTypeOrderbookDelta:
		return n.normalizeBook(raw, record.OrderbookKindDelta)
	default:
		return record.Envelope{}, fmt.Errorf("%w: kraken/%s", ErrUnsupportedDataType, dataType)
	}
}

type krakenTradeMessage struct {
	Symbol    string      `json:"symbol"`
	Side      string      `json:"side"`
	Price     string      `json:"price"`
	Qty       string      `json:"qty"`
	TradeID   json.Number `json:"trade_id"`
	Timestamp string      `json:"timestamp"`
}

func (n *KrakenNormalizer) normalizeTrade(raw []byte) (record.Envelope, error) {
	var msg krakenTradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return record.Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if msg.Symbol == "" || msg.Timestamp == "" {
		return record.Envelope{}, fmt.Errorf("%w: missing symbol or timestamp", ErrInvalidPayload)
	}

	tsMs, err := krakenTimeToMs(msg.Timestamp)
	if err != nil {
		return record.Envelope{}, err
	}

	price, err := ParseDecimal(msg.Price, false)
	if err != nil {
		return record.Envelope{}, err
	}
	qty, err := ParseDecimal(msg.Qty, false)
	if err != nil {
		return record.Envelope{}, err
	}

	meta := record.Meta{
		Exchange:   n.Exchange(),
		MarketType: n.marketType,
		Symbol:     krakenSymbolToCanonical(msg.Symbol),
		TsMs:       tsMs,
		DataSource: record.DataSource,
	}

	trade := record.Trade{
		Meta:      meta,
		TradeID:   msg.TradeID.String(),
		Price:     price,
		Quantity:  qty,
		Side:      MapSide(msg.Side, "buy"),
		TradeTsMs: tsMs,
	}

	return record.NewEnvelope(record.DataTypeTrade, meta, trade), nil
}

type krakenBookLevel struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}

type krakenBookMessage struct {
	Symbol    string            `json:"symbol"`
	Bids      []krakenBookLevel `json:"bids"`
	Asks      []krakenBookLevel `json:"asks"`
	Checksum  int64             `json:"checksum"`
	Timestamp string            `json:"timestamp"`
}

func (n *KrakenNormalizer) normalizeBook(raw []byte, kind record.OrderbookKind) (record.Envelope, error) {
	var msg krakenBookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return record.Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if msg.Symbol == "" {
		return record.Envelope{}, fmt.Errorf("%w: missing symbol", ErrInvalidPayload)
	}

	tsMs := record.NowMs()
	if msg.Timestamp != "" {
		if ms, err := krakenTimeToMs(msg.Timestamp); err == nil {
			tsMs = ms
		}
	}

	bids, err := krakenDecodeLevels(msg.Bids)
	if err != nil {
		return record.Envelope{}, err
	}
	asks, err := krakenDecodeLevels(msg.Asks)
	if err != nil {
		return record.Envelope{}, err
	}

	meta := record.Meta{
		Exchange:   n.Exchange(),
		MarketType: n.marketType,
		Symbol:     krakenSymbolToCanonical(msg.Symbol),
		TsMs:       tsMs,
		DataSource: record.DataSource,
	}

	var env record.Envelope
	if kind == record.OrderbookKindSnapshot || kind == record.OrderbookKindFull {
		snap := record.OrderbookSnapshot{
			Meta:         meta,
			LastUpdateID: tsMs,
			Bids:         bids,
			Asks:         asks,
			Checksum:     strconv.FormatInt(msg.Checksum, 10),
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
		env = record.NewEnvelope(record.DataTypeOrderbookSnapshot, meta, snap)
	} else {
		delta := record.OrderbookDelta{
			Meta:         meta,
			LastUpdateID: tsMs,
			BidChanges:   krakenLevelsToChanges(bids),
			AskChanges:   krakenLevelsToChanges(asks),
		}
		env = record.NewEnvelope(record.DataTypeOrderbookDelta, meta, delta)
	}
	env.OrderbookKind = kind
	return env, nil
}

func krakenSymbolToCanonical(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", "-"))
}

func krakenTimeToMs(raw string) (int64, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return record.FromTime(t), nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return int64(secs * 1000), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrTimestampUnavailable, raw)
}

func krakenDecodeLevels(raw []krakenBookLevel) ([]record.PriceLevel, error) {
	levels := make([]record.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := ParseDecimal(lvl.Price, false)
		if err != nil {
			return nil, err
		}
		qty, err := ParseDecimal(lvl.Qty, false)
		if err != nil {
			return nil, err
		}
		levels = append(levels, record.PriceLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}

func krakenLevelsToChanges(levels []record.PriceLevel) []record.LevelChange {
	changes := make([]record.LevelChange, 0, len(levels))
	for _, lvl := range levels {
		changes = append(changes, record.LevelChange{Price: lvl.Price, Quantity: lvl.Quantity})
	}
	return changes
}
