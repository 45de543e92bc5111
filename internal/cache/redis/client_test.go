package redis

import (
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestKeyNamespacing(t *testing.T) {
	c := NewFromClient(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"}), "")
	defer c.Close()

	assert.Equal(t, "arena:lock:arena:tick", c.key("lock", "arena:tick"))
	assert.Equal(t, "arena:px:AAPL", NewPriceCache(c, 0).priceKey("aapl"))

	custom := NewFromClient(c.Underlying(), "paper:")
	assert.Equal(t, "paper:ratelimit:1.2.3.4", custom.key("ratelimit", "1.2.3.4"))
}

func TestDecodePrice(t *testing.T) {
	px, ts, err := decodePrice("AAPL", map[string]string{"price": "190.25", "ts": "1772465400000000000"})
	assert.NoError(t, err)
	assert.Equal(t, 190.25, px)
	assert.Equal(t, int64(1772465400), ts.Unix())

	_, _, err = decodePrice("AAPL", map[string]string{})
	assert.Error(t, err)

	_, _, err = decodePrice("AAPL", map[string]string{"price": "abc"})
	assert.Error(t, err)
}
