package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/floorline/floornode/pkg/marketplace"
)

// Dispatcher hands order and maker triggers to the off-chain workers that own
// order status and approval state. Delivery is at-least-once; consumers dedup
// on the trigger's context field.
type Dispatcher interface {
	DispatchOrderInfo(ctx context.Context, info marketplace.OrderInfo) error
	DispatchMakerInfo(ctx context.Context, info marketplace.MakerInfo) error
}

const (
	orderTriggerSubjectPrefix = "floor.orders.trigger."
	makerApprovalSubject      = "floor.makers.approval"
)

// ConnectJetStream dials NATS and wraps the connection in a JetStream handle.
func ConnectJetStream(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return nc, js, nil
}

// EnsureTriggerStreams creates the trigger stream if it does not exist yet.
func EnsureTriggerStreams(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "FLOOR_TRIGGERS",
		Subjects:  []string{"floor.orders.>", "floor.makers.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create trigger stream: %w", err)
	}
	zap.L().Info("Ensured trigger stream", zap.String("stream", "FLOOR_TRIGGERS"))
	return nil
}

type JetStreamDispatcher struct {
	js jetstream.JetStream
}

func NewJetStreamDispatcher(js jetstream.JetStream) *JetStreamDispatcher {
	return &JetStreamDispatcher{js: js}
}

func (d *JetStreamDispatcher) DispatchOrderInfo(ctx context.Context, info marketplace.OrderInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal order trigger: %w", err)
	}
	subject := orderTriggerSubjectPrefix + string(info.Trigger.Kind)
	if _, err := d.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish order trigger: %w", err)
	}
	return nil
}

func (d *JetStreamDispatcher) DispatchMakerInfo(ctx context.Context, info marketplace.MakerInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal maker trigger: %w", err)
	}
	if _, err := d.js.Publish(ctx, makerApprovalSubject, data); err != nil {
		return fmt.Errorf("publish maker trigger: %w", err)
	}
	return nil
}

// NoopDispatcher is used when no NATS url is configured; triggers are logged
// and dropped so a single-process deployment still indexes fills.
type NoopDispatcher struct{}

func NewNoopDispatcher() *NoopDispatcher {
	return &NoopDispatcher{}
}

func (d *NoopDispatcher) DispatchOrderInfo(_ context.Context, info marketplace.OrderInfo) error {
	zap.L().Debug("Dropping order trigger, no dispatcher configured",
		zap.String("context", info.Context),
		zap.String("orderId", info.OrderID))
	return nil
}

func (d *NoopDispatcher) DispatchMakerInfo(_ context.Context, info marketplace.MakerInfo) error {
	zap.L().Debug("Dropping maker trigger, no dispatcher configured",
		zap.String("context", info.Context),
		zap.String("maker", info.Maker))
	return nil
}
