package workers

import (
	"context"
	"dm-lab/contract"
	"dm-lab/domain/event"
	"dm-lab/mocks"
	"dm-lab/observability"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestEventFanout_Fanout_Delivers_To_Every_Channel_Sink(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	mockRegistry := mocks.NewMockIRegistry(ctrl)
	mockSink1 := mocks.NewMockEventSink(ctrl)
	mockSink2 := mocks.NewMockEventSink(ctrl)
	monitoring := observability.NewMonitoring()

	fanout := NewEventFanout(log, mockRegistry, nil, time.Second, monitoring)
	evt := event.Envelope{Channel: "conversation-1", Event: "new-message"}

	// Given two sinks subscribed to the channel
	mockRegistry.EXPECT().GetSinksForChannel("conversation-1").
		Return([]contract.EventSink{mockSink1, mockSink2}).Times(1)
	// And both accept the event
	mockSink1.EXPECT().Consume(gomock.Any(), evt).Return(nil).Times(1)
	mockSink2.EXPECT().Consume(gomock.Any(), evt).Return(nil).Times(1)

	// When the event is fanned out
	delivered := fanout.Fanout(context.Background(), evt)

	// Then both sinks received it
	req.Equal(2, delivered)
	req.Equal(uint64(2), monitoring.Snapshot().EventsDelivered)
}

func TestEventFanout_SinkTimeout_Does_Not_Block_Others(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	mockRegistry := mocks.NewMockIRegistry(ctrl)
	slowSink := mocks.NewMockEventSink(ctrl)
	fastSink := mocks.NewMockEventSink(ctrl)
	monitoring := observability.NewMonitoring()

	fanout := NewEventFanout(log, mockRegistry, nil, 20*time.Millisecond, monitoring)
	evt := event.Envelope{Channel: "user-bob", Event: "new-conversation-update"}

	mockRegistry.EXPECT().GetSinksForChannel("user-bob").
		Return([]contract.EventSink{slowSink, fastSink}).Times(1)
	// Given a sink never draining its buffer
	slowSink.EXPECT().Consume(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, e event.Envelope) error {
			<-ctx.Done()
			return ctx.Err()
		}).Times(1)
	fastSink.EXPECT().Consume(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	// When the event is fanned out
	start := time.Now()
	delivered := fanout.Fanout(context.Background(), evt)

	// Then the slow sink loses the event after the timeout only
	req.Equal(1, delivered)
	req.Less(time.Since(start), 500*time.Millisecond)
	req.Equal(uint64(1), monitoring.Snapshot().EventsDropped)
}

func TestEventFanout_Run_Preserves_Queue_Order(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	mockRegistry := mocks.NewMockIRegistry(ctrl)
	mockSink := mocks.NewMockEventSink(ctrl)

	queue := make(chan event.Envelope, 10)
	fanout := NewEventFanout(log, mockRegistry, queue, time.Second, nil)

	received := make(chan string, 3)
	mockRegistry.EXPECT().GetSinksForChannel(gomock.Any()).
		Return([]contract.EventSink{mockSink}).Times(3)
	mockSink.EXPECT().Consume(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, e event.Envelope) error {
			received <- string(e.Payload)
			return nil
		}).Times(3)

	// Given three events queued in order
	for _, p := range []string{`"1"`, `"2"`, `"3"`} {
		queue <- event.Envelope{Channel: "conversation-1", Event: "new-message", Payload: []byte(p)}
	}
	close(queue)

	// When the worker drains the queue
	err := fanout.Run(context.Background())

	// Then events reached the sink in publish order
	req.NoError(err)
	req.Equal(`"1"`, <-received)
	req.Equal(`"2"`, <-received)
	req.Equal(`"3"`, <-received)
}

func TestEventFanout_No_Subscriber(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockRegistry := mocks.NewMockIRegistry(ctrl)
	fanout := NewEventFanout(slog.Default(), mockRegistry, nil, time.Second, nil)

	mockRegistry.EXPECT().GetSinksForChannel("user-nobody").Return(nil).Times(1)

	require.Zero(t, fanout.Fanout(context.Background(), event.Envelope{Channel: "user-nobody"}))
}
