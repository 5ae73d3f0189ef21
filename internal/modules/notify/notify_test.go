// README: Dispatcher and backend tests with in-process fakes.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"zemi/internal/types"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Notify(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if r.fail {
		return errors.New("backend down")
	}
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestDispatcherDeliversToEveryBackend(t *testing.T) {
	failing := &recordingNotifier{fail: true}
	ok := &recordingNotifier{}
	d := NewDispatcher(quietLogger(), 16, 2, failing, ok)
	d.Start()

	for i := 0; i < 5; i++ {
		d.Publish(Event{Type: TripAccepted, TripID: "t1"})
	}
	d.Close()

	if failing.count() != 5 || ok.count() != 5 {
		t.Fatalf("expected 5 deliveries each, got failing=%d ok=%d", failing.count(), ok.count())
	}
}

func TestDispatcherPublishNeverBlocks(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(quietLogger(), 1, 1, rec)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.Publish(Event{Type: TripRequested, TripID: "t"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked with no workers running")
	}
	d.Start()
	d.Close()
	if rec.count() != 1 {
		t.Fatalf("expected only the buffered event delivered, got %d", rec.count())
	}
}

func TestDispatcherDropsEventsAfterClose(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(quietLogger(), 8, 1, rec)
	d.Start()
	d.Publish(Event{Type: TripAccepted, TripID: "before"})
	d.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Publish(Event{Type: TripCompleted, TripID: "late"})
		}()
	}
	wg.Wait()
	d.Close()

	if rec.count() != 1 {
		t.Fatalf("expected only the event published before close, got %d", rec.count())
	}
}

type fakeWriter struct{ msgs []kafka.Message }

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaNotifierKeysByTrip(t *testing.T) {
	w := &fakeWriter{}
	n := NewKafkaNotifier(w)
	if err := n.Notify(context.Background(), Event{Type: TripCompleted, TripID: "t42", Status: "completed"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "t42" {
		t.Fatalf("unexpected messages: %+v", w.msgs)
	}
	var got Event
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil || got.Type != TripCompleted {
		t.Fatalf("payload: %+v err=%v", got, err)
	}
}

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func TestRabbitNotifierRoutesByEventType(t *testing.T) {
	ch := &fakeChannel{}
	n := NewRabbitNotifier(ch, "trip_topic")
	if err := n.Notify(context.Background(), Event{Type: TripCancelled, TripID: "t1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if ch.exchange != "trip_topic" || ch.key != "trip.cancelled" || ch.msg.ContentType != "application/json" {
		t.Fatalf("unexpected publish: %s %s %+v", ch.exchange, ch.key, ch.msg)
	}
}

type fakeSender struct{ topics []string }

func (f *fakeSender) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.topics = append(f.topics, m.Topic)
	return "msg-id", nil
}

func TestFCMNotifierTopics(t *testing.T) {
	driverID := types.ID("d1")
	cases := []struct {
		name string
		e    Event
		want []string
	}{
		{"request fans out to drivers", Event{Type: TripRequested, ClientID: "c1", Recipients: []types.ID{"d1", "d2"}}, []string{"driver-d1", "driver-d2"}},
		{"accepted reaches both parties", Event{Type: TripAccepted, ClientID: "c1", DriverID: &driverID}, []string{"client-c1", "driver-d1"}},
		{"expired reaches client", Event{Type: TripExpired, ClientID: "c1"}, []string{"client-c1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &fakeSender{}
			if err := NewFCMNotifier(s).Notify(context.Background(), tc.e); err != nil {
				t.Fatalf("notify: %v", err)
			}
			if len(s.topics) != len(tc.want) {
				t.Fatalf("got %v, want %v", s.topics, tc.want)
			}
			for i := range tc.want {
				if s.topics[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", s.topics, tc.want)
				}
			}
		})
	}
}
