package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/marketprism/ingest/internal/record"
)

// OKXNormalizer implements Normalizer for OKX wire payloads. OKX already
// ships canonical-shaped instrument IDs ("BTC-USDT", "BTC-USDT-SWAP"), so
// symbol mapping is a pass-through that upper-cases the ID; the
// market-type suffix is neither checked nor rewritten.
type OKXNormalizer struct {
	marketType record.MarketType
}

func NewOKXNormalizer(marketType record.MarketType) *OKXNormalizer {
	return &OKXNormalizer{marketType: marketType}
}

func (n *OKXNormalizer) Exchange() string { return "okx" }

func (n *OKXNormalizer) Normalize(dataType record.DataType, raw []byte) (record.Envelope, error) {
	switch dataType {
	case record.DataTypeTrade:
		return n.normalizeTrade(raw)
	case record.DataTypeOrderbookSnapshot:
		return n.normalizeBook(raw, record.OrderbookKindSnapshot)
	case record.DataTypeOrderbookDelta:
		return n.normalizeBook(raw, record.OrderbookKindDelta)
	default:
		return record.Envelope{}, fmt.Errorf("%w: okx/%s", ErrUnsupportedDataType, dataType)
	}
}

type okxTradeMessage struct {
	InstID  string `json:"instId"`
	TradeID string `json:"tradeId"`
	Price   string `json:"px"`
	Size    string `json:"sz"`
	Side    string `json:"side"`
	TsMs    string `json:"ts"`
}

func (n *OKXNormalizer) normalizeTrade(raw []byte) (record.Envelope, error) {
	var msg okxTradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return record.Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if msg.InstID == "" || msg.TsMs == "" {
		return record.Envelope{}, fmt.Errorf("%w: missing instId or ts", ErrInvalidPayload)
	}

	tsMs, err := strconv.ParseInt(msg.TsMs, 10, 64)
	if err != nil {
		return record.Envelope{}, fmt.Errorf("%w: %v", ErrTimestampUnavailable, err)
	}

	price, err := ParseDecimal(msg.Price, false)
	if err != nil {
		return record.Envelope{}, err
	}
	qty, err := ParseDecimal(msg.Size, false)
	if err != nil {
		return record.Envelope{}, err
	}

	meta := record.Meta{
		Exchange:   n.Exchange(),
		MarketType: n.marketType,
		Symbol:     okxSymbolToCanonical(msg.InstID),
		TsMs:       tsMs,
		DataSource: record.DataSource,
	}

	trade := record.Trade{
		Meta:      meta,
		TradeID:   msg.TradeID,
		Price:     price,
		Quantity:  qty,
		Side:      MapSide(msg.Side, "buy"),
		TradeTsMs: tsMs,
	}

	return record.NewEnvelope(record.DataTypeTrade, meta, trade), nil
}

type okxBookLevel [4]string // price, size, deprecated, numOrders

type okxBookMessage struct {
	InstID   string         `json:"instId"`
	Asks     []okxBookLevel `json:"asks"`
	Bids     []okxBookLevel `json:"bids"`
	TsMs     string         `json:"ts"`
	Checksum int64          `json:"checksum"`
	SeqID    int64          `json:"seqId"`
	PrevSeq  int64          `json:"prevSeqId"`
}

// normalizeBook handles both OKX snapshot and incremental book messages;
// the wire shape is identical, only the "action" envelope field (not
// modeled here) distinguishes them, so the caller supplies the kind.
func (n *OKXNormalizer) normalizeBook(raw []byte, kind record.OrderbookKind) (record.Envelope, error) {
	var msg okxBookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return record.Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if msg.InstID == "" {
		return record.Envelope{}, fmt.Errorf("%w: missing instId", ErrInvalidPayload)
	}

	tsMs, err := strconv.ParseInt(msg.TsMs, 10, 64)
	if err != nil {
		tsMs = record.NowMs()
	}

	bids, err := okxDecodeLevels(msg.Bids)
	if err != nil {
		return record.Envelope{}, err
	}
	asks, err := okxDecodeLevels(msg.Asks)
	if err != nil {
		return record.Envelope{}, err
	}

	meta := record.Meta{
		Exchange:   n.Exchange(),
		MarketType: n.marketType,
		Symbol:     okxSymbolToCanonical(msg.InstID),
		TsMs:       tsMs,
		DataSource: record.DataSource,
	}

	var env record.Envelope
	if kind == record.OrderbookKindSnapshot || kind == record.OrderbookKindFull {
		snap := record.OrderbookSnapshot{
			Meta:         meta,
			LastUpdateID: msg.SeqID,
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
			Meta:          meta,
			FirstUpdateID: msg.PrevSeq + 1,
			LastUpdateID:  msg.SeqID,
			PrevUpdateID:  msg.PrevSeq,
			BidChanges:    levelsToChanges(bids),
			AskChanges:    levelsToChanges(asks),
		}
		env = record.NewEnvelope(record.DataTypeOrderbookDelta, meta, delta)
	}
	env.OrderbookKind = kind
	return env, nil
}

func okxSymbolToCanonical(instID string) string {
	return strings.ToUpper(instID)
}

func okxDecodeLevels(raw []okxBookLevel) ([]record.PriceLevel, error) {
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

func levelsToChanges(levels []record.PriceLevel) []record.LevelChange {
	changes := make([]record.LevelChange, 0, len(levels))
	for _, lvl := range levels {
		changes = append(changes, record.LevelChange{Price: lvl.Price, Quantity: lvl.Quantity})
	}
	return changes
}
