package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rakanbakir/samsungctl/internal/domain"
)

var testUpgrader = websocket.Upgrader{}

// fakeTV simulates the TV-side control endpoint: one handshake event on
// connect, then every received frame is captured.
type fakeTV struct {
	srv        *httptest.Server
	port       int
	event      string
	token      string
	attempts   atomic.Int32
	queries    chan url.Values
	frames     chan string
	frameTimes chan time.Time
	dropConn   bool
}

func newFakeTV(t *testing.T, secure bool, event, token string) *fakeTV {
	t.Helper()

	tv := &fakeTV{
		event:      event,
		token:      token,
		queries:    make(chan url.Values, 8),
		frames:     make(chan string, 8),
		frameTimes: make(chan time.Time, 8),
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tv.attempts.Add(1)
		tv.queries <- r.URL.Query()

		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		payload := fmt.Sprintf(`{"event":%q}`, tv.event)
		if tv.token != "" {
			payload = fmt.Sprintf(`{"event":%q,"data":{"token":%q}}`, tv.event, tv.token)
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			return
		}
		if tv.dropConn {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			tv.frameTimes <- time.Now()
			tv.frames <- string(data)
		}
	})

	if secure {
		tv.srv = httptest.NewTLSServer(handler)
	} else {
		tv.srv = httptest.NewServer(handler)
	}
	t.Cleanup(tv.srv.Close)

	u, err := url.Parse(tv.srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	tv.port, err = strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}
	return tv
}

func newTestManager(t *testing.T, plain, secure *fakeTV, opts ...Option) *Manager {
	t.Helper()

	plainPort, securePort := 1, 1 // unroutable unless a fake is wired
	if plain != nil {
		plainPort = plain.port
	}
	if secure != nil {
		securePort = secure.port
	}

	base := []Option{
		WithControlPorts(plainPort, securePort),
		WithTimeout(2 * time.Second),
		WithKeyInterval(time.Millisecond),
	}
	return NewManager("samsungctl", append(base, opts...)...)
}

func wsEndpoint(port int) domain.Endpoint {
	return domain.Endpoint{
		Host:   "127.0.0.1",
		Port:   port,
		Method: domain.MethodWebsocket,
	}
}

func TestConnectPlainAuthorizedSendsExactPayloadOnce(t *testing.T) {
	plain := newFakeTV(t, false, eventConnect, "")
	secure := newFakeTV(t, true, eventConnect, "")
	m := newTestManager(t, plain, secure)

	if err := m.Connect(context.Background(), wsEndpoint(plain.port), domain.PairingCredential{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := m.State(); got != domain.StateAuthorized {
		t.Fatalf("state = %s, want authorized", got)
	}

	res, err := m.Send(context.Background(), "KEY_POWER")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Outcome != domain.OutcomeOk {
		t.Fatalf("outcome = %s, want ok", res.Outcome)
	}

	want := `{"method":"ms.remote.control","params":{"Cmd":"Click","DataOfCmd":"KEY_POWER","Option":"false","TypeOfRemote":"SendRemoteKey"}}`
	select {
	case frame := <-plain.frames:
		if frame != want {
			t.Fatalf("payload = %s, want %s", frame, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tv never received the command frame")
	}

	select {
	case frame := <-plain.frames:
		t.Fatalf("unexpected second frame: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}

	if got := secure.attempts.Load(); got != 0 {
		t.Fatalf("secure port was attempted %d times before the plain handshake failed", got)
	}
}

func TestConnectEncodesClientNameAndOmitsEmptyToken(t *testing.T) {
	plain := newFakeTV(t, false, eventConnect, "")
	m := newTestManager(t, plain, nil)

	if err := m.Connect(context.Background(), wsEndpoint(plain.port), domain.PairingCredential{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	q := <-plain.queries
	if got := q.Get("name"); got != "c2Ftc3VuZ2N0bA==" {
		t.Fatalf("name query = %q, want base64 of samsungctl", got)
	}
	if _, present := q["token"]; present {
		t.Fatal("token query param present without a stored token")
	}
}

func TestConnectFallsBackToSecureAndStoresToken(t *testing.T) {
	plain := newFakeTV(t, false, eventUnauthorized, "")
	secure := newFakeTV(t, true, eventConnect, "token-123")
	store := &fakeStore{}
	m := newTestManager(t, plain, secure, WithTokenStore(store))

	if err := m.Connect(context.Background(), wsEndpoint(plain.port), domain.PairingCredential{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := m.State(); got != domain.StateAuthorized {
		t.Fatalf("state = %s, want authorized", got)
	}

	cred := m.Credential()
	if !cred.Paired {
		t.Fatal("credential not marked paired after secure connect")
	}
	if cred.Token != "token-123" {
		t.Fatalf("token = %q, want token-123", cred.Token)
	}
	if plain.attempts.Load() != 1 || secure.attempts.Load() != 1 {
		t.Fatalf("attempts plain=%d secure=%d, want 1 and 1", plain.attempts.Load(), secure.attempts.Load())
	}
	if store.saved.Token != "token-123" || !store.saved.Paired {
		t.Fatalf("store received %+v, want paired token-123", store.saved)
	}
}

func TestConnectDeniedOnBothAttempts(t *testing.T) {
	plain := newFakeTV(t, false, eventUnauthorized, "")
	secure := newFakeTV(t, true, eventUnauthorized, "")
	m := newTestManager(t, plain, secure)

	err := m.Connect(context.Background(), wsEndpoint(plain.port), domain.PairingCredential{})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("connect error = %v, want ErrAccessDenied", err)
	}
	if got := m.State(); got != domain.StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}
	if m.Credential().Token != "" {
		t.Fatalf("token = %q, want unset", m.Credential().Token)
	}
}

func TestConnectSecureDirectlyWhenPaired(t *testing.T) {
	plain := newFakeTV(t, false, eventConnect, "")
	secure := newFakeTV(t, true, eventConnect, "")
	m := newTestManager(t, plain, secure)

	cred := domain.PairingCredential{Token: "stored-token", Paired: true}
	if err := m.Connect(context.Background(), wsEndpoint(plain.port), cred); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if got := plain.attempts.Load(); got != 0 {
		t.Fatalf("plain port attempted %d times despite a usable token", got)
	}
	q := <-secure.queries
	if got := q.Get("token"); got != "stored-token" {
		t.Fatalf("token query = %q, want stored-token", got)
	}
}

func TestConnectUnexpectedEventFailsWithUnhandledResponse(t *testing.T) {
	plain := newFakeTV(t, false, "ms.channel.timeOut", "")
	m := newTestManager(t, plain, nil)

	err := m.Connect(context.Background(), wsEndpoint(plain.port), domain.PairingCredential{})
	var unhandled *UnhandledResponseError
	if !errors.As(err, &unhandled) {
		t.Fatalf("connect error = %v, want UnhandledResponseError", err)
	}
	if unhandled.Event != "ms.channel.timeOut" {
		t.Fatalf("event = %q, want ms.channel.timeOut", unhandled.Event)
	}
}

func TestConnectLegacyEndpointRejected(t *testing.T) {
	m := newTestManager(t, nil, nil)
	endpoint := domain.Endpoint{Host: "127.0.0.1", Port: domain.PortLegacy, Method: domain.MethodLegacy}

	if err := m.Connect(context.Background(), endpoint, domain.PairingCredential{}); !errors.Is(err, ErrLegacyUnsupported) {
		t.Fatalf("connect error = %v, want ErrLegacyUnsupported", err)
	}
}

func TestSendWithoutConnectFailsClosed(t *testing.T) {
	m := newTestManager(t, nil, nil)

	res, err := m.Send(context.Background(), "KEY_MUTE")
	if !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("send error = %v, want ErrConnectionClosed", err)
	}
	if res.Outcome != domain.OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", res.Outcome)
	}

	history := m.History()
	if len(history) != 1 || history[0].Key != "KEY_MUTE" {
		t.Fatalf("history = %+v, want one failed KEY_MUTE entry", history)
	}
}

func TestSendAfterCloseFailsClosed(t *testing.T) {
	plain := newFakeTV(t, false, eventConnect, "")
	m := newTestManager(t, plain, nil)

	if err := m.Connect(context.Background(), wsEndpoint(plain.port), domain.PairingCredential{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	m.Close()
	m.Close() // idempotent

	if _, err := m.Send(context.Background(), "KEY_POWER"); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("send error = %v, want ErrConnectionClosed", err)
	}
	if got := m.State(); got != domain.StateClosed {
		t.Fatalf("state = %s, want closed", got)
	}
}

func TestSendReconnectsOnceAndRetries(t *testing.T) {
	plain := newFakeTV(t, false, eventConnect, "")
	m := newTestManager(t, plain, nil)

	if err := m.Connect(context.Background(), wsEndpoint(plain.port), domain.PairingCredential{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Sever the transport underneath the manager so the next write fails.
	m.mu.Lock()
	m.ch.conn.UnderlyingConn().Close()
	m.mu.Unlock()

	res, err := m.Send(context.Background(), "KEY_VOLUP")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Outcome != domain.OutcomeRetried {
		t.Fatalf("outcome = %s, want retried", res.Outcome)
	}
	if got := plain.attempts.Load(); got != 2 {
		t.Fatalf("handshake attempts = %d, want 2 (initial + reconnect)", got)
	}

	select {
	case frame := <-plain.frames:
		if frame == "" {
			t.Fatal("empty frame after retry")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tv never received the retried command")
	}
}

func TestSendSurfacesTransportErrorWhenReconnectFails(t *testing.T) {
	plain := newFakeTV(t, false, eventConnect, "")
	m := newTestManager(t, plain, nil)

	if err := m.Connect(context.Background(), wsEndpoint(plain.port), domain.PairingCredential{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	plain.srv.Close()
	m.mu.Lock()
	m.ch.conn.UnderlyingConn().Close()
	m.mu.Unlock()

	_, err := m.Send(context.Background(), "KEY_VOLDOWN")
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("send error = %v, want TransportError", err)
	}
	if terr.Op != OpWrite {
		t.Fatalf("transport op = %s, want write (the original failure, not the reconnect)", terr.Op)
	}
}

func TestSendSpacingHoldsAfterIdle(t *testing.T) {
	interval := 250 * time.Millisecond
	plain := newFakeTV(t, false, eventConnect, "")
	m := newTestManager(t, plain, nil, WithKeyInterval(interval))

	if err := m.Connect(context.Background(), wsEndpoint(plain.port), domain.PairingCredential{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Idle longer than the interval, then fire two keys back to back.
	time.Sleep(interval + 150*time.Millisecond)
	if _, err := m.Send(context.Background(), "KEY_VOLUP"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := m.Send(context.Background(), "KEY_VOLDOWN"); err != nil {
		t.Fatalf("second send: %v", err)
	}

	var first, second time.Time
	select {
	case first = <-plain.frameTimes:
	case <-time.After(2 * time.Second):
		t.Fatal("tv never received the first frame")
	}
	select {
	case second = <-plain.frameTimes:
	case <-time.After(2 * time.Second):
		t.Fatal("tv never received the second frame")
	}

	if gap := second.Sub(first); gap < interval-100*time.Millisecond {
		t.Fatalf("frame gap = %s, want at least the %s key interval", gap, interval)
	}
}

func TestHistoryIsCapped(t *testing.T) {
	m := newTestManager(t, nil, nil)

	for i := 0; i < maxHistory+10; i++ {
		_, _ = m.Send(context.Background(), fmt.Sprintf("KEY_%d", i))
	}

	history := m.History()
	if len(history) != maxHistory {
		t.Fatalf("history length = %d, want %d", len(history), maxHistory)
	}
	if history[0].Key != "KEY_10" {
		t.Fatalf("oldest retained key = %s, want KEY_10", history[0].Key)
	}
}

type fakeStore struct {
	saved domain.PairingCredential
}

func (f *fakeStore) Credential(host string) domain.PairingCredential { return f.saved }

func (f *fakeStore) SaveCredential(host string, cred domain.PairingCredential) error {
	f.saved = cred
	return nil
}
