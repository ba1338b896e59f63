package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paymesh/paymesh/internal/circuitbreaker"
	"github.com/paymesh/paymesh/internal/payment"
)

type fakeTransport struct {
	ct         payment.ChannelType
	status     payment.ChannelStatus
	outcome    payment.SendOutcome
	sendErr    error
	probeDelay time.Duration
	sends      atomic.Int64
}

func (f *fakeTransport) Type() payment.ChannelType { return f.ct }

func (f *fakeTransport) Probe(ctx context.Context) payment.ChannelStatus {
	if f.probeDelay > 0 {
		select {
		case <-time.After(f.probeDelay):
		case <-ctx.Done():
			return payment.StatusUnavailable
		}
	}
	return f.status
}

func (f *fakeTransport) Send(_ context.Context, _ payment.Envelope) (payment.SendOutcome, error) {
	f.sends.Add(1)
	return f.outcome, f.sendErr
}

func available(ct payment.ChannelType) *fakeTransport {
	return &fakeTransport{ct: ct, status: payment.StatusAvailable, outcome: payment.SendAck}
}

func unavailable(ct payment.ChannelType) *fakeTransport {
	return &fakeTransport{ct: ct, status: payment.StatusUnavailable}
}

func newTestRouter(transports []Transport, opts ...RouterOption) *Router {
	return NewRouter(transports, 100*time.Millisecond, 100*time.Millisecond, slog.Default(), opts...)
}

func TestRoute_PrefersHighestPriorityAvailable(t *testing.T) {
	net := available(payment.ChannelInternet)
	ble := available(payment.ChannelBluetoothLE)
	sms := available(payment.ChannelSMS)
	local := available(payment.ChannelLocalStorage)

	r := newTestRouter([]Transport{net, ble, sms, local})
	res, err := r.Route(context.Background(), payment.New("alice", "bob", 10, nil))
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	if res.Channel != payment.ChannelInternet {
		t.Fatalf("expected internet, got %s", res.Channel)
	}
	if ble.sends.Load()+sms.sends.Load()+local.sends.Load() != 0 {
		t.Fatal("lower-priority channels must not be attempted")
	}
	if res.Queued {
		t.Fatal("direct delivery must not be marked queued")
	}
}

func TestRoute_FallsBackToBluetoothWhenOffline(t *testing.T) {
	net := unavailable(payment.ChannelInternet)
	ble := available(payment.ChannelBluetoothLE)
	local := available(payment.ChannelLocalStorage)

	r := newTestRouter([]Transport{net, ble, local})
	res, err := r.Route(context.Background(), payment.New("alice", "bob", 10, nil))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Channel != payment.ChannelBluetoothLE {
		t.Fatalf("expected bluetooth_le, got %s", res.Channel)
	}
}

func TestRoute_SendFailureConsumesOneFallbackStep(t *testing.T) {
	net := &fakeTransport{ct: payment.ChannelInternet, status: payment.StatusAvailable, outcome: payment.SendFailure}
	sms := available(payment.ChannelSMS)

	r := newTestRouter([]Transport{net, sms})
	res, err := r.Route(context.Background(), payment.New("alice", "bob", 10, nil))
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	if net.sends.Load() != 1 {
		t.Fatalf("failed channel must be attempted exactly once, got %d", net.sends.Load())
	}
	if res.Channel != payment.ChannelSMS {
		t.Fatalf("expected fallback to sms, got %s", res.Channel)
	}
}

func TestRoute_AllRealChannelsDownParksInLocalStorage(t *testing.T) {
	net := unavailable(payment.ChannelInternet)
	ble := unavailable(payment.ChannelBluetoothLE)
	sms := unavailable(payment.ChannelSMS)
	local := available(payment.ChannelLocalStorage)

	r := newTestRouter([]Transport{net, ble, sms, local})
	res, err := r.Route(context.Background(), payment.New("alice", "bob", 10, nil))
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	if res.Channel != payment.ChannelLocalStorage {
		t.Fatalf("expected local_storage, got %s", res.Channel)
	}
	if !res.Queued {
		t.Fatal("local storage delivery must be marked queued")
	}
}

func TestRoute_ExhaustedWhenEvenLocalFails(t *testing.T) {
	net := unavailable(payment.ChannelInternet)
	local := &fakeTransport{ct: payment.ChannelLocalStorage, status: payment.StatusAvailable,
		outcome: payment.SendFailure, sendErr: errors.New("disk full")}

	r := newTestRouter([]Transport{net, local})
	_, err := r.Route(context.Background(), payment.New("alice", "bob", 10, nil))
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestRoute_ProbeTimeoutTreatedAsTimedOut(t *testing.T) {
	slow := &fakeTransport{ct: payment.ChannelInternet, status: payment.StatusAvailable,
		outcome: payment.SendAck, probeDelay: time.Second}
	sms := available(payment.ChannelSMS)

	r := newTestRouter([]Transport{slow, sms})
	res, err := r.Route(context.Background(), payment.New("alice", "bob", 10, nil))
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	if res.Channel != payment.ChannelSMS {
		t.Fatalf("expected sms after probe timeout, got %s", res.Channel)
	}
	if res.Statuses[payment.ChannelInternet] != payment.StatusTimedOut {
		t.Fatalf("expected timed_out status, got %s", res.Statuses[payment.ChannelInternet])
	}
	if slow.sends.Load() != 0 {
		t.Fatal("timed-out channel must never be sent on")
	}
}

func TestRoute_OpenBreakerSkipsChannelButNotLocalStorage(t *testing.T) {
	net := available(payment.ChannelInternet)
	local := available(payment.ChannelLocalStorage)

	b := circuitbreaker.New(1, time.Minute)
	b.RecordFailure(payment.ChannelInternet.String())

	r := newTestRouter([]Transport{net, local}, WithBreaker(b))
	res, err := r.Route(context.Background(), payment.New("alice", "bob", 10, nil))
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	if net.sends.Load() != 0 {
		t.Fatal("open breaker must prevent the send attempt")
	}
	if res.Channel != payment.ChannelLocalStorage {
		t.Fatalf("expected local_storage, got %s", res.Channel)
	}
}

func TestRoute_StatusesCoverEveryProbedChannel(t *testing.T) {
	net := unavailable(payment.ChannelInternet)
	ble := available(payment.ChannelBluetoothLE)

	r := newTestRouter([]Transport{net, ble})
	res, err := r.Route(context.Background(), payment.New("alice", "bob", 10, nil))
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	if len(res.Statuses) != 2 {
		t.Fatalf("expected 2 probe statuses, got %d", len(res.Statuses))
	}
	if res.Statuses[payment.ChannelInternet] != payment.StatusUnavailable {
		t.Fatalf("unexpected internet status %s", res.Statuses[payment.ChannelInternet])
	}
}
