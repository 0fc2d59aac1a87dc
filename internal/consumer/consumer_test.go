package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/settlement/internal/config"
	"github.com/core-coin/settlement/internal/models"
	"github.com/core-coin/settlement/internal/repository/repotest"
	"github.com/core-coin/settlement/internal/settlement"
	"github.com/core-coin/settlement/pkg/logger"
)

type fakeClient struct {
	subscribed []string
	seeks      []kafka.TopicPartition
	stored     []*kafka.Message
}

func (f *fakeClient) SubscribeTopics(topics []string, _ kafka.RebalanceCb) error {
	f.subscribed = append(f.subscribed, topics...)
	return nil
}

func (f *fakeClient) Poll(int) kafka.Event { return nil }

func (f *fakeClient) Seek(partition kafka.TopicPartition, _ int) error {
	f.seeks = append(f.seeks, partition)
	return nil
}

func (f *fakeClient) StoreMessage(m *kafka.Message) ([]kafka.TopicPartition, error) {
	f.stored = append(f.stored, m)
	return []kafka.TopicPartition{m.TopicPartition}, nil
}

func (f *fakeClient) Close() error { return nil }

type handlerFunc func(ctx context.Context, message []byte) error

func (h handlerFunc) HandleMessage(ctx context.Context, message []byte) error { return h(ctx, message) }

func message(offset int64) *kafka.Message {
	topic := "payments.verified"
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0, Offset: kafka.Offset(offset)},
		Value:          []byte(`{}`),
	}
}

func newConsumer(t *testing.T, handler MessageHandler) (*KafkaConsumer, *fakeClient) {
	t.Helper()
	client := &fakeClient{}
	c, err := NewKafkaConsumer(client, "payments.verified", handler, logger.NewNop())
	require.NoError(t, err)
	c.backoff = time.Millisecond
	assert.Equal(t, []string{"payments.verified"}, client.subscribed)
	return c, client
}

func TestHandleStoresOffsetOnSuccess(t *testing.T) {
	calls := 0
	c, client := newConsumer(t, handlerFunc(func(context.Context, []byte) error {
		calls++
		return nil
	}))

	c.handle(context.Background(), message(7))
	assert.Equal(t, 1, calls)
	require.Len(t, client.stored, 1)
	assert.Empty(t, client.seeks)
}

func TestHandleDropsPermanentFailures(t *testing.T) {
	calls := 0
	c, client := newConsumer(t, handlerFunc(func(context.Context, []byte) error {
		calls++
		return models.ErrInsufficientAmount
	}))

	c.handle(context.Background(), message(8))
	assert.Equal(t, 1, calls)
	assert.Len(t, client.stored, 1)
	assert.Empty(t, client.seeks)
}

func TestHandleRetriesThenRewinds(t *testing.T) {
	calls := 0
	transient := models.NewStoreError("insert payment", "0xaa/bep20", errors.New("connection reset"))
	c, client := newConsumer(t, handlerFunc(func(context.Context, []byte) error {
		calls++
		return transient
	}))

	msg := message(9)
	c.handle(context.Background(), msg)
	assert.Equal(t, maxAttempts, calls)
	assert.Empty(t, client.stored)
	require.Len(t, client.seeks, 1)
	assert.Equal(t, msg.TopicPartition.Offset, client.seeks[0].Offset)
}

func TestHandleRecoversAfterTransientFailure(t *testing.T) {
	calls := 0
	c, client := newConsumer(t, handlerFunc(func(context.Context, []byte) error {
		calls++
		if calls < 3 {
			return context.DeadlineExceeded
		}
		return nil
	}))

	c.handle(context.Background(), message(10))
	assert.Equal(t, 3, calls)
	assert.Len(t, client.stored, 1)
	assert.Empty(t, client.seeks)
}

func TestStartStopsOnCancel(t *testing.T) {
	c, _ := newConsumer(t, handlerFunc(func(context.Context, []byte) error { return nil }))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, c.Start(ctx), context.Canceled)
}

func TestNewConfigMap(t *testing.T) {
	cm := NewConfigMap("localhost:9092", "settlement")
	v, err := cm.Get("enable.auto.offset.store", true)
	require.NoError(t, err)
	assert.Equal(t, false, v)
	v, err = cm.Get("group.id", "")
	require.NoError(t, err)
	assert.Equal(t, "settlement", v)
}

func paymentMessage(t *testing.T, txHash, amount string) []byte {
	t.Helper()
	raw, err := json.Marshal(models.PaymentMessage{
		SettlementRequest: models.SettlementRequest{
			Payment: models.PaymentEvent{
				TxHash:        txHash,
				Network:       "bep20",
				FromAddress:   "0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
				ToAddress:     "0x8ba1f109551bD432803012645Ac136ddd64DBA72",
				Amount:        decimal.RequireFromString(amount),
				Currency:      "USDT",
				Confirmations: 20,
			},
			UserID:  "user-1",
			Package: models.PackageRef{ID: "pkg-100", Price: decimal.NewFromInt(100), Currency: "USDT"},
		},
		BlockHash: "0xblock",
	})
	require.NoError(t, err)
	return raw
}

func TestPaymentHandlerSettlesOnce(t *testing.T) {
	store := repotest.New(t)
	handler := NewPaymentHandler(settlement.NewSettler(store, logger.NewNop(), config.Default()), logger.NewNop())
	ctx := context.Background()

	raw := paymentMessage(t, "0xqueue", "100")
	require.NoError(t, handler.HandleMessage(ctx, raw))
	require.NoError(t, handler.HandleMessage(ctx, raw))

	purchases, err := store.ListPurchasesByStatus(ctx, models.PurchasePaid)
	require.NoError(t, err)
	assert.Len(t, purchases, 1)

	err = handler.HandleMessage(ctx, paymentMessage(t, "0xshort", "90"))
	require.ErrorIs(t, err, models.ErrInsufficientAmount)
	assert.False(t, models.IsRetryable(err))

	err = handler.HandleMessage(ctx, []byte("{not json"))
	require.ErrorIs(t, err, models.ErrInvalidEvent)
	assert.False(t, models.IsRetryable(err))
}

func TestConsumerAcknowledgesRejectedPayments(t *testing.T) {
	store := repotest.New(t)
	var handler MessageHandler = NewPaymentHandler(settlement.NewSettler(store, logger.NewNop(), config.Default()), logger.NewNop())
	c, client := newConsumer(t, handler)

	msg := message(11)
	msg.Value = paymentMessage(t, "0xrejected", "90")
	c.handle(context.Background(), msg)
	assert.Len(t, client.stored, 1)
	assert.Empty(t, client.seeks)

	var n int64
	require.NoError(t, store.Conn.Model(&models.Purchase{}).Count(&n).Error)
	assert.Zero(t, n)
}
