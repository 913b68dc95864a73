package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/fiscal-api/internal/application/billing"
)

func TestNotifyReceivable_RedisInaccesibleDevuelveError(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	n := NewNotifier(rdb, "", zerolog.Nop())
	n.backoff = time.Millisecond

	err := n.NotifyReceivable(context.Background(), billing.ReceivableCreated{
		DocumentID: "doc-1", IssuerID: "emp-1", Total: decimal.NewFromInt(10),
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "doc-1")
}

func TestNewNotifier_ColaPorDefecto(t *testing.T) {
	n := NewNotifier(nil, "", zerolog.Nop())
	assert.Equal(t, DefaultQueue, n.queue)
	assert.Equal(t, 3, n.attempts)
}
