package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
)

type published struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// centrifugo accepts newline-delimited API commands and answers each with an empty result.
type centrifugo struct {
	mu       sync.Mutex
	messages []published
	keys     []string
}

func (c *centrifugo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	var replies int
	for {
		var cmd struct {
			Method string    `json:"method"`
			Params published `json:"params"`
		}
		if err := dec.Decode(&cmd); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.messages = append(c.messages, cmd.Params)
		c.keys = append(c.keys, r.Header.Get("Authorization"))
		c.mu.Unlock()
		replies++
	}
	for i := 0; i < replies; i++ {
		_, _ = w.Write([]byte("{\"result\":{}}\n"))
	}
}

func (c *centrifugo) channels() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[string]int)
	for _, m := range c.messages {
		counts[m.Channel]++
	}
	return counts
}

func (c *centrifugo) last(channel string) json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Channel == channel {
			return c.messages[i].Data
		}
	}
	return nil
}

func newTestPublisher(t *testing.T) (*Publisher, *centrifugo) {
	t.Helper()
	server := &centrifugo{}
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	p := NewPublisher(PublishConfig{
		APIURL:        ts.URL + "/api",
		APIKey:        "secret",
		FlushInterval: time.Hour,
	}, zerolog.Nop())
	return p, server
}

func TestPublisherCoalescesPairUpdates(t *testing.T) {
	p, server := newTestPublisher(t)
	ctx := context.Background()

	pair := &aggregator.Pair{ID: "0xAbC", Reserve0: decimal.NewFromInt(1)}
	p.PairSwapped(ctx, &aggregator.SwapEvent{ID: "0x1-0"}, pair)
	pair.Reserve0 = decimal.NewFromInt(2)
	p.LiquidityAdded(ctx, &aggregator.MintEvent{ID: "0x2-0"}, pair)
	p.ReferencePriceUpdated(ctx, &aggregator.Bundle{ID: aggregator.BundleID, ETHPrice: decimal.NewFromInt(2000)})

	require.NoError(t, p.Close())

	counts := server.channels()
	updates := server.ofType("dex.pair.0xabc", "pair.update")
	require.NotEmpty(t, updates)
	assert.Len(t, server.ofType("dex.pair.0xabc", "pair.event"), 2, "one event per swap and mint")
	assert.GreaterOrEqual(t, counts[pairsChannel], 1)
	assert.Equal(t, 1, counts[bundleChannel])

	var update struct {
		Pair aggregator.Pair `json:"pair"`
	}
	require.NoError(t, json.Unmarshal(updates[len(updates)-1], &update))
	assert.True(t, decimal.NewFromInt(2).Equal(update.Pair.Reserve0))

	var bundle struct {
		ETHPrice decimal.Decimal `json:"eth_price"`
	}
	require.NoError(t, json.Unmarshal(server.last(bundleChannel), &bundle))
	assert.True(t, decimal.NewFromInt(2000).Equal(bundle.ETHPrice))
	assert.Contains(t, server.keys[0], "secret")
}

// ofType returns the payloads sent to channel with the given type, oldest first.
func (c *centrifugo) ofType(channel, typ string) []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []json.RawMessage
	for _, m := range c.messages {
		if m.Channel != channel {
			continue
		}
		var payload struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(m.Data, &payload) == nil && payload.Type == typ {
			out = append(out, m.Data)
		}
	}
	return out
}

func TestPublishOverview(t *testing.T) {
	p, server := newTestPublisher(t)
	defer p.Close()

	err := p.PublishOverview(context.Background(),
		&aggregator.Factory{ID: "0xfactory", PairCount: 3},
		&aggregator.Bundle{ETHPrice: decimal.NewFromInt(1500)})
	require.NoError(t, err)

	var overview struct {
		Type    string             `json:"type"`
		Factory aggregator.Factory `json:"factory"`
	}
	require.NoError(t, json.Unmarshal(server.last(overviewChannel), &overview))
	assert.Equal(t, "dex.overview", overview.Type)
	assert.Equal(t, uint64(3), overview.Factory.PairCount)
}

func TestPublishOverviewReportsFailures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	p := NewPublisher(PublishConfig{APIURL: ts.URL + "/api", FlushInterval: time.Hour}, zerolog.Nop())
	defer p.Close()

	err := p.PublishOverview(context.Background(), &aggregator.Factory{}, &aggregator.Bundle{})
	require.Error(t, err)
}
