package replicate

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketprism/ingest/internal/config"
	"github.com/marketprism/ingest/internal/record"
	"github.com/marketprism/ingest/internal/store"
)

// fakeTradeRepo is an in-memory store.TradeRepo used to exercise the
// replicator without a database, mirroring the in-memory StubBus used
// for bus tests.
type fakeTradeRepo struct {
	rows []record.Trade
}

func (f *fakeTradeRepo) InsertBatch(ctx context.Context, rows []record.Trade) error {
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeTradeRepo) ListRange(ctx context.Context, key store.PartitionKey, tr store.TimeRange, limit int) ([]record.Trade, error) {
	var out []record.Trade
	for _, r := range f.rows {
		ts := record.ToTime(r.TradeTsMs)
		if r.Exchange == key.Exchange && r.Symbol == key.Symbol &&
			ts.After(tr.From) && !ts.After(tr.To) {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeTradeRepo) MaxTsMs(ctx context.Context, key store.PartitionKey) (int64, error) {
	var max int64
	for _, r := range f.rows {
		if r.Exchange == key.Exchange && r.Symbol == key.Symbol && r.TradeTsMs > max {
			max = r.TradeTsMs
		}
	}
	return max, nil
}

func (f *fakeTradeRepo) DeleteUpTo(ctx context.Context, key store.PartitionKey, hi time.Time) (int64, error) {
	var kept []record.Trade
	var deleted int64
	for _, r := range f.rows {
		if r.Exchange == key.Exchange && r.Symbol == key.Symbol && !record.ToTime(r.TradeTsMs).After(hi) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	f.rows = kept
	return deleted, nil
}

func newFakeStore(trades *fakeTradeRepo, watermarks store.WatermarkRepo) *store.Store {
	return &store.Store{Trades: trades, Watermarks: watermarks}
}

type fakeWatermarkRepo struct {
	marks map[string]store.Watermark
}

func newFakeWatermarkRepo() *fakeWatermarkRepo {
	return &fakeWatermarkRepo{marks: make(map[string]store.Watermark)}
}

func watermarkKey(dataType record.DataType, key store.PartitionKey) string {
	return string(dataType) + "|" + key.Exchange + "|" + string(key.MarketType) + "|" + key.Symbol
}

func (f *fakeWatermarkRepo) Get(ctx context.Context, dataType record.DataType, key store.PartitionKey) (store.Watermark, error) {
	return f.marks[watermarkKey(dataType, key)], nil
}

func (f *fakeWatermarkRepo) Advance(ctx context.Context, w store.Watermark) error {
	f.marks[watermarkKey(w.DataType, w.Key)] = w
	return nil
}

func tradeAt(ts time.Time) record.Trade {
	return record.Trade{
		Meta:      record.Meta{Exchange: "binance", Symbol: "BTC-USDT", MarketType: record.MarketSpot},
		TradeID:   ts.Format(time.RFC3339Nano),
		TradeTsMs: record.FromTime(ts),
	}
}

func testExchanges() []config.ExchangeConfig {
	return []config.ExchangeConfig{
		{Name: "binance", MarketTypes: []string{"spot"}, Symbols: []string{"BTC-USDT"}},
	}
}

func TestRunCopiesHotRowsIntoCold(t *testing.T) {
	now := time.Now().UTC()
	hotRepo := &fakeTradeRepo{rows: []record.Trade{tradeAt(now.Add(-time.Minute)), tradeAt(now)}}
	coldRepo := &fakeTradeRepo{}

	hot := newFakeStore(hotRepo, newFakeWatermarkRepo())
	cold := newFakeStore(coldRepo, newFakeWatermarkRepo())

	r := &Replicator{
		Hot:       hot,
		Cold:      cold,
		Cfg:       config.ReplicatorConfig{WindowHours: 24},
		Exchanges: testExchanges(),
		Logger:    zerolog.Nop(),
	}

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.TotalCopied() != 2 {
		t.Fatalf("expected 2 rows copied, got %d", report.TotalCopied())
	}
	if len(coldRepo.rows) != 2 {
		t.Fatalf("expected 2 rows landed in cold, got %d", len(coldRepo.rows))
	}
}

func TestRunIsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	hotRepo := &fakeTradeRepo{rows: []record.Trade{tradeAt(now)}}
	coldRepo := &fakeTradeRepo{}

	hot := newFakeStore(hotRepo, newFakeWatermarkRepo())
	cold := newFakeStore(coldRepo, newFakeWatermarkRepo())

	r := &Replicator{
		Hot: hot, Cold: cold,
		Cfg:       config.ReplicatorConfig{WindowHours: 24},
		Exchanges: testExchanges(),
		Logger:    zerolog.Nop(),
	}

	ctx := context.Background()
	if _, err := r.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	report, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	// The second run's window starts at cold's newest ts_ms, which is
	// already hot's newest row, so the (From, To] range selects nothing
	// and an unchanged hot dataset is not copied again.
	if report.TotalCopied() != 0 {
		t.Fatalf("expected nothing copied on the second run, got %d", report.TotalCopied())
	}
}

func TestDryRunDoesNotMutateStores(t *testing.T) {
	now := time.Now().UTC()
	hotRepo := &fakeTradeRepo{rows: []record.Trade{tradeAt(now)}}
	coldRepo := &fakeTradeRepo{}

	hot := newFakeStore(hotRepo, newFakeWatermarkRepo())
	cold := newFakeStore(coldRepo, newFakeWatermarkRepo())

	r := &Replicator{
		Hot: hot, Cold: cold,
		Cfg:       config.ReplicatorConfig{WindowHours: 24},
		Exchanges: testExchanges(),
		Logger:    zerolog.Nop(),
	}

	report, err := r.DryRun(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.TotalRows != 1 {
		t.Fatalf("expected planned total of 1, got %d", report.TotalRows)
	}
	if len(coldRepo.rows) != 0 {
		t.Fatalf("dry run must not write to cold, got %d rows", len(coldRepo.rows))
	}
	if len(hotRepo.rows) != 1 {
		t.Fatalf("dry run must not delete from hot, got %d rows", len(hotRepo.rows))
	}
}

func TestRunRejectsOverlap(t *testing.T) {
	hot := newFakeStore(&fakeTradeRepo{}, newFakeWatermarkRepo())
	cold := newFakeStore(&fakeTradeRepo{}, newFakeWatermarkRepo())

	r := &Replicator{Hot: hot, Cold: cold, Cfg: config.ReplicatorConfig{}, Exchanges: testExchanges(), Logger: zerolog.Nop()}
	r.runLock.Lock()
	defer r.runLock.Unlock()

	if _, err := r.Run(context.Background()); err == nil {
		t.Fatal("expected an error when a run is already in progress")
	}
}
