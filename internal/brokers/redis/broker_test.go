package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grouper-dispatcher/internal/brokers"
	apperrors "grouper-dispatcher/internal/common/errors"
)

func newTestConnection(t *testing.T, policy *brokers.RedeliveryPolicy) (*miniredis.Miniredis, *Connection) {
	t.Helper()
	server := miniredis.RunT(t)

	factory, err := brokers.NewFactory(&Config{Address: server.Addr(), Redelivery: policy})
	require.NoError(t, err)
	conn, err := factory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return server, conn.(*Connection)
}

func newTestSession(t *testing.T, conn *Connection) brokers.Session {
	t.Helper()
	session, err := conn.CreateSession(context.Background())
	require.NoError(t, err)
	return session
}

func push(t *testing.T, conn *Connection, queue string, msg *brokers.Message) {
	t.Helper()
	session := newTestSession(t, conn)
	producer, err := session.CreateProducer(queue)
	require.NoError(t, err)
	require.NoError(t, producer.Send(context.Background(), msg))
	require.NoError(t, session.Commit())
}

func listLen(t *testing.T, server *miniredis.Miniredis, key string) int {
	t.Helper()
	if !server.Exists(key) {
		return 0
	}
	items, err := server.List(key)
	require.NoError(t, err)
	return len(items)
}

func TestConfig_Validate(t *testing.T) {
	c := &Config{Address: "localhost:6379"}
	require.NoError(t, c.Validate())
	assert.Equal(t, 10, c.PoolSize)
	assert.Equal(t, 5*time.Second, c.Timeout)
	assert.Equal(t, "grouper:", c.KeyPrefix)
	assert.Equal(t, "redis://localhost:6379/0", c.GetConnectionString())

	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{Address: "localhost"}).Validate())
	assert.Error(t, (&Config{Address: "localhost:6379", DB: -1}).Validate())
}

func TestNewConnection_Unreachable(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	_, err := NewConnection(context.Background(), &Config{Address: addr, Timeout: 200 * time.Millisecond})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConnection))
}

func TestSession_SendVisibleOnCommit(t *testing.T) {
	server, conn := newTestConnection(t, nil)
	session := newTestSession(t, conn)

	producer, err := session.CreateProducer("oim.queue")
	require.NoError(t, err)
	require.NoError(t, producer.Send(context.Background(), &brokers.Message{
		GroupID:     "app:oim",
		ContentType: "application/xml",
		Body:        []byte("<changeLogMessage/>"),
	}))
	assert.Equal(t, 0, listLen(t, server, conn.QueueKey("oim.queue")))

	require.NoError(t, session.Commit())
	assert.Equal(t, 1, listLen(t, server, conn.QueueKey("oim.queue")))
}

func TestSession_ReceiveCommitClearsProcessing(t *testing.T) {
	server, conn := newTestConnection(t, nil)
	push(t, conn, "in", &brokers.Message{GroupID: "g1", Body: []byte("first")})
	push(t, conn, "in", &brokers.Message{GroupID: "g2", Body: []byte("second")})

	session := newTestSession(t, conn)
	consumer, err := session.CreateConsumer("in")
	require.NoError(t, err)

	d, err := consumer.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "first", string(d.Body))
	assert.Equal(t, "g1", d.GroupID)
	assert.Equal(t, 1, d.DeliveryCount)
	assert.False(t, d.Redelivered)

	processing := conn.processingKey("in", session.(*Session).id)
	assert.Equal(t, 1, listLen(t, server, processing))

	require.NoError(t, session.Commit())
	assert.Equal(t, 0, listLen(t, server, processing))
	assert.Equal(t, 1, listLen(t, server, conn.QueueKey("in")))
}

func TestSession_RollbackRequeuesAtHead(t *testing.T) {
	server, conn := newTestConnection(t, nil)
	push(t, conn, "in", &brokers.Message{Body: []byte("first")})
	push(t, conn, "in", &brokers.Message{Body: []byte("second")})

	session := newTestSession(t, conn)
	consumer, err := session.CreateConsumer("in")
	require.NoError(t, err)
	producer, err := session.CreateProducer("out")
	require.NoError(t, err)

	d, err := consumer.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	require.NoError(t, producer.Send(context.Background(), &brokers.Message{Body: d.Body}))
	require.NoError(t, session.Rollback())

	assert.Equal(t, 0, listLen(t, server, conn.QueueKey("out")))

	d, err = consumer.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", string(d.Body))
	assert.True(t, d.Redelivered)
	assert.Equal(t, 2, d.DeliveryCount)
	require.NoError(t, session.Commit())
}

func TestSession_RollbackDeadLetters(t *testing.T) {
	server, conn := newTestConnection(t, &brokers.RedeliveryPolicy{MaxRedeliveries: 0})
	push(t, conn, "in", &brokers.Message{Body: []byte("poison")})

	session := newTestSession(t, conn)
	consumer, err := session.CreateConsumer("in")
	require.NoError(t, err)

	_, err = consumer.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	require.NoError(t, session.Rollback())

	assert.Equal(t, 0, listLen(t, server, conn.QueueKey("in")))
	assert.Equal(t, 1, listLen(t, server, conn.QueueKey("in.dlq")))
}

func TestConsumer_ReceiveTimeout(t *testing.T) {
	_, conn := newTestConnection(t, nil)
	session := newTestSession(t, conn)
	consumer, err := session.CreateConsumer("empty")
	require.NoError(t, err)

	d, err := consumer.Receive(context.Background(), time.Second)
	assert.NoError(t, err)
	assert.Nil(t, d)
}

func TestConsumer_ReceivePlainPayload(t *testing.T) {
	server, conn := newTestConnection(t, nil)
	_, err := server.Lpush(conn.QueueKey("in"), "<operation>addMember</operation><name>a:b</name>")
	require.NoError(t, err)

	session := newTestSession(t, conn)
	consumer, err := session.CreateConsumer("in")
	require.NoError(t, err)

	d, err := consumer.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "<operation>addMember</operation><name>a:b</name>", string(d.Body))
	assert.Equal(t, 1, d.DeliveryCount)
}

func TestSession_CloseRollsBack(t *testing.T) {
	server, conn := newTestConnection(t, nil)
	push(t, conn, "in", &brokers.Message{Body: []byte("x")})

	session := newTestSession(t, conn)
	consumer, err := session.CreateConsumer("in")
	require.NoError(t, err)
	_, err = consumer.Receive(context.Background(), time.Second)
	require.NoError(t, err)

	require.NoError(t, session.Close())
	assert.Equal(t, 1, listLen(t, server, conn.QueueKey("in")))
	assert.ErrorIs(t, session.Commit(), brokers.ErrSessionClosed)
}

// cancelAfterPop cancels the receive context right after BRPOPLPUSH has moved
// a message, the way a shutdown can land between the pop and its reply.
type cancelAfterPop struct {
	cancel context.CancelFunc
}

func (h cancelAfterPop) BeforeProcess(ctx context.Context, _ redis.Cmder) (context.Context, error) {
	return ctx, nil
}

func (h cancelAfterPop) AfterProcess(_ context.Context, cmd redis.Cmder) error {
	if cmd.Name() == "brpoplpush" && cmd.Err() == nil {
		h.cancel()
	}
	return nil
}

func (h cancelAfterPop) BeforeProcessPipeline(ctx context.Context, _ []redis.Cmder) (context.Context, error) {
	return ctx, nil
}

func (h cancelAfterPop) AfterProcessPipeline(context.Context, []redis.Cmder) error {
	return nil
}

func TestConsumer_ReceiveKeepsMessagePoppedDuringCancel(t *testing.T) {
	server, conn := newTestConnection(t, nil)
	push(t, conn, "in", &brokers.Message{Body: []byte("x")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn.client.AddHook(cancelAfterPop{cancel: cancel})

	session := newTestSession(t, conn)
	consumer, err := session.CreateConsumer("in")
	require.NoError(t, err)

	d, err := consumer.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, []byte("x"), d.Body)
	require.Error(t, ctx.Err())

	require.NoError(t, session.Close())
	assert.Equal(t, 1, listLen(t, server, conn.QueueKey("in")))
	assert.Equal(t, 0, listLen(t, server, conn.processingKey("in", session.(*Session).id)))
}
