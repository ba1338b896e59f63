package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paymesh/paymesh/internal/payment"
)

type fakeQueue struct {
	enqueued []*payment.Transaction
	err      error
}

func (q *fakeQueue) Enqueue(_ context.Context, tx *payment.Transaction) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, tx)
	return nil
}

func TestLocalStore_AlwaysAvailable(t *testing.T) {
	lt := NewLocalStoreTransport(&fakeQueue{})
	if got := lt.Probe(context.Background()); got != payment.StatusAvailable {
		t.Fatalf("local storage must always probe available, got %s", got)
	}
}

func TestLocalStore_SendParksTransaction(t *testing.T) {
	q := &fakeQueue{}
	lt := NewLocalStoreTransport(q)

	tx := payment.New("alice", "bob", 10, nil)
	out, err := lt.Send(context.Background(), payment.Envelope{Transaction: tx})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out != payment.SendAck {
		t.Fatalf("expected ack, got %s", out)
	}
	if len(q.enqueued) != 1 || q.enqueued[0].ID != tx.ID {
		t.Fatal("transaction was not parked in the queue")
	}
}

func TestLocalStore_QueueFailurePropagates(t *testing.T) {
	q := &fakeQueue{err: errors.New("disk full")}
	lt := NewLocalStoreTransport(q)

	out, err := lt.Send(context.Background(), payment.Envelope{Transaction: payment.New("alice", "bob", 10, nil)})
	if err == nil {
		t.Fatal("expected enqueue error to surface")
	}
	if out != payment.SendFailure {
		t.Fatalf("expected failure outcome, got %s", out)
	}
}

func TestSMS_SimulationMode(t *testing.T) {
	st := NewSMSTransport("")

	if got := st.Probe(context.Background()); got != payment.StatusAvailable {
		t.Fatalf("simulation mode must always be available, got %s", got)
	}
	out, err := st.Send(context.Background(), payment.Envelope{
		Transaction: payment.New("alice", "bob", 10, nil),
		Message:     "payment notice",
	})
	if err != nil || out != payment.SendAck {
		t.Fatalf("simulated send should ack: out=%s err=%v", out, err)
	}
}

func TestSMS_ProviderDelivery(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	st := NewSMSTransport(srv.URL)

	if got := st.Probe(context.Background()); got != payment.StatusAvailable {
		t.Fatalf("healthy provider should be available, got %s", got)
	}

	out, err := st.Send(context.Background(), payment.Envelope{
		Transaction: payment.New("alice", "bob", 10, nil),
		Message:     "payment notice",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out != payment.SendAck {
		t.Fatalf("expected ack, got %s", out)
	}
	if gotPath != "/messages" {
		t.Fatalf("expected POST /messages, got %s", gotPath)
	}
}

func TestSMS_ProviderRejectionIsFailureNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	st := NewSMSTransport(srv.URL)
	out, err := st.Send(context.Background(), payment.Envelope{
		Transaction: payment.New("alice", "bob", 10, nil),
	})
	if err != nil {
		t.Fatalf("provider rejection is not a transport error: %v", err)
	}
	if out != payment.SendFailure {
		t.Fatalf("expected failure outcome, got %s", out)
	}
}

func TestInternet_NoGatewayConfigured(t *testing.T) {
	it := NewInternetTransport("")
	if got := it.Probe(context.Background()); got != payment.StatusUnavailable {
		t.Fatalf("unconfigured gateway must be unavailable, got %s", got)
	}
}

func TestInternet_SendPostsToGateway(t *testing.T) {
	var got struct {
		TransactionID string  `json:"transactionId"`
		Sender        string  `json:"sender"`
		Recipient     string  `json:"recipient"`
		Amount        float64 `json:"amount"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	it := NewInternetTransport(srv.URL)
	tx := payment.New("alice", "bob", 42, nil)
	out, err := it.Send(context.Background(), payment.Envelope{Transaction: tx})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out != payment.SendAck {
		t.Fatalf("expected ack, got %s", out)
	}
	if got.TransactionID != tx.ID || got.Sender != "alice" || got.Amount != 42 {
		t.Fatalf("gateway received wrong body: %+v", got)
	}
}

func TestBluetooth_ProbeRequiresPeers(t *testing.T) {
	tests := []struct {
		name  string
		peers string
		want  payment.ChannelStatus
	}{
		{"peers in range", `{"peers":["peer-a","peer-b"]}`, payment.StatusAvailable},
		{"no peers", `{"peers":[]}`, payment.StatusUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.peers))
			}))
			defer srv.Close()

			bt := NewBluetoothTransport(srv.URL)
			if got := bt.Probe(context.Background()); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestBluetooth_NoAgentConfigured(t *testing.T) {
	bt := NewBluetoothTransport("")
	if got := bt.Probe(context.Background()); got != payment.StatusUnavailable {
		t.Fatalf("unconfigured agent must be unavailable, got %s", got)
	}
}

func TestSMS_DownProviderUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	st := NewSMSTransport(srv.URL)
	if got := st.Probe(context.Background()); got != payment.StatusUnavailable {
		t.Fatalf("unhealthy provider should be unavailable, got %s", got)
	}
}
