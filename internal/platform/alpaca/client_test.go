package alpaca

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("APCA-API-KEY-ID") != "key" || r.Header.Get("APCA-API-SECRET-KEY") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":40110000,"message":"request is not authorized"}`))
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(Config{KeyID: "key", SecretKey: "secret", TradingURL: srv.URL, DataURL: srv.URL})
}

func TestLatestPrice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/stocks/AAPL/trades/latest", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"AAPL","trade":{"t":"2026-03-02T15:00:00Z","p":190.25,"s":100}}`))
	})
	mux.HandleFunc("/v2/stocks/MSFT/trades/latest", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"MSFT","trade":{}}`))
	})
	c := newTestClient(t, mux)

	px, err := c.LatestPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 190.25, px)

	_, err = c.LatestPrice(context.Background(), "MSFT")
	assert.ErrorIs(t, err, domain.ErrNoPrice)
}

func TestPositionsAreUnsigned(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/positions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"symbol":"AAPL","qty":"10","side":"long"},
			{"symbol":"MSFT","qty":"-3","side":"short"}
		]`))
	})
	c := newTestClient(t, mux)

	got, err := c.Positions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.BrokerPosition{
		{Symbol: "AAPL", Qty: 10, Side: "long"},
		{Symbol: "MSFT", Qty: 3, Side: "short"},
	}, got)
}

func TestClock(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/clock", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"timestamp":"2026-03-02T10:00:00-05:00","is_open":true,
			"next_open":"2026-03-03T09:30:00-05:00","next_close":"2026-03-02T16:00:00-05:00"}`))
	})
	c := newTestClient(t, mux)

	clock, err := c.Clock(context.Background())
	require.NoError(t, err)
	assert.True(t, clock.IsOpen)
	assert.Equal(t, time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC), clock.NextClose.UTC())
}

func TestPlaceLimitOrder(t *testing.T) {
	mux := http.NewServeMux()
	var got map[string]any
	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"ord-1","client_order_id":"botA-1-abcdef12","status":"accepted",
			"submitted_at":"2026-03-02T15:00:00Z"}`))
	})
	c := newTestClient(t, mux)

	ack, err := c.PlaceLimitOrder(context.Background(), domain.LimitOrderRequest{
		Symbol: "AAPL", Side: domain.OrderSideBuy, LimitPrice: 190.256, Qty: 1, ClientOrderID: "botA-1-abcdef12",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", ack.ID)
	assert.Equal(t, "accepted", ack.Status)

	assert.Equal(t, map[string]any{
		"symbol": "AAPL", "side": "buy", "type": "limit", "time_in_force": "gtc",
		"limit_price": "190.26", "qty": "1.000", "client_order_id": "botA-1-abcdef12",
	}, got)
}

func TestPlaceLimitOrderError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":40310000,"message":"insufficient buying power"}`))
	})
	c := newTestClient(t, mux)

	_, err := c.PlaceLimitOrder(context.Background(), domain.LimitOrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, LimitPrice: 1, Qty: 1})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, domain.StatusOf(err))
	assert.Contains(t, err.Error(), "insufficient buying power")
}

func TestFillsSince(t *testing.T) {
	after := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/account/activities", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "FILL", q.Get("activity_types"))
		assert.Equal(t, "2026-03-01T00:00:00Z", q.Get("after"))
		_, _ = w.Write([]byte(`[
			{"id":"a1","activity_type":"FILL","transaction_time":"2026-03-02T15:00:00Z","symbol":"AAPL",
			 "side":"buy","qty":"2","price":"100.5","order_id":"o1","client_order_id":"botA-1-x"},
			{"activity_id":"a2","activity_type":"fill","date":"2026-03-02T15:05:00Z","symbol":"MSFT",
			 "side":"sell","quantity":"1","price":"400","order_id":"o2"},
			{"id":"d1","activity_type":"DIV","symbol":"AAPL"}
		]`))
	})
	mux.HandleFunc("/v2/orders/o2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"o2","client_order_id":"botB-2-y","status":"filled"}`))
	})
	c := newTestClient(t, mux)

	fills, err := c.FillsSince(context.Background(), after)
	require.NoError(t, err)
	require.Len(t, fills, 2)

	assert.Equal(t, domain.BrokerFill{
		ActivityID: "a1", Time: "2026-03-02T15:00:00Z", Symbol: "AAPL", Side: "buy",
		Qty: 2, Price: 100.5, OrderID: "o1", ClientOrderID: "botA-1-x",
	}, fills[0])
	assert.Equal(t, "a2", fills[1].ActivityID, "legacy activity_id")
	assert.Equal(t, "2026-03-02T15:05:00Z", fills[1].Time, "legacy date")
	assert.Equal(t, 1.0, fills[1].Qty, "legacy quantity")
	assert.Equal(t, "botB-2-y", fills[1].ClientOrderID, "resolved through the order")
}

func TestFillsSinceKeepsSubSecondAfter(t *testing.T) {
	after := time.Date(2026, 3, 2, 15, 30, 0, 123456789, time.UTC)
	var got string
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/account/activities", func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("after")
		_, _ = w.Write([]byte(`[]`))
	})
	c := newTestClient(t, mux)

	_, err := c.FillsSince(context.Background(), after)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02T15:30:00.123456789Z", got)
}

func TestFillsSinceOrderLookupFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/account/activities", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"a1","activity_type":"FILL","transaction_time":"2026-03-02T15:00:00Z",
			"symbol":"AAPL","side":"buy","qty":"1","price":"100","order_id":"o1"}]`))
	})
	mux.HandleFunc("/v2/orders/o1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":50010000,"message":"internal server error"}`))
	})
	c := newTestClient(t, mux)

	fills, err := c.FillsSince(context.Background(), time.Time{})
	require.Error(t, err)
	assert.Nil(t, fills)
	assert.Equal(t, http.StatusInternalServerError, domain.StatusOf(err))
}

func TestFillsSinceUnknownOrderStaysUnattributed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/account/activities", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"a1","activity_type":"FILL","transaction_time":"2026-03-02T15:00:00Z",
			"symbol":"AAPL","side":"buy","qty":"1","price":"100","order_id":"gone"}]`))
	})
	mux.HandleFunc("/v2/orders/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":40410000,"message":"order not found"}`))
	})
	c := newTestClient(t, mux)

	fills, err := c.FillsSince(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Empty(t, fills[0].ClientOrderID)
}

func TestUnauthorized(t *testing.T) {
	mux := http.NewServeMux()
	c := newTestClient(t, mux)
	c.secretKey = "wrong"

	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, domain.StatusOf(err))
}
