package signaling

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/st-keller/taskrouter-client/config"
	"github.com/st-keller/taskrouter-client/credential"
	"github.com/st-keller/taskrouter-client/credential/credentialtest"
	"github.com/st-keller/taskrouter-client/logging"
)

type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type dialFunc func(ctx context.Context, url string) (Conn, error)

func (f dialFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }

func testEndpoints() config.Endpoints {
	return config.NewEndpoints(config.EnvironmentProd, credentialtest.AccountSID, credentialtest.WorkspaceSID, credentialtest.WorkerSID)
}

func recorder() (Handler, <-chan Notification) {
	ch := make(chan Notification, 64)
	return func(n Notification) { ch <- n }, ch
}

func next(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return Notification{}
	}
}

func expectNone(t *testing.T, ch <-chan Notification, d time.Duration) {
	t.Helper()
	select {
	case n := <-ch:
		t.Fatalf("unexpected notification %+v", n)
	case <-time.After(d):
	}
}

func TestNewRejectsInvalidToken(t *testing.T) {
	if _, err := New("", Options{Endpoints: testEndpoints()}); !errors.Is(err, credential.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := New("garbage", Options{Endpoints: testEndpoints()}); !errors.Is(err, credential.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	if _, err := New(credentialtest.Token(t, time.Hour), Options{}); !errors.Is(err, credential.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestTransportDeliversFrames(t *testing.T) {
	conn := newFakeConn()
	var dialed string
	handler, notes := recorder()

	tr, err := New(credentialtest.Token(t, time.Hour), Options{
		Endpoints:             testEndpoints(),
		CloseExistingSessions: true,
		Handler:               handler,
		Dialer: dialFunc(func(ctx context.Context, url string) (Conn, error) {
			dialed = url
			return conn, nil
		}),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	if n := next(t, notes); n.Name != EventConnected {
		t.Fatalf("expected connected, got %s", n.Name)
	}
	if !strings.Contains(dialed, "token=") || !strings.Contains(dialed, "closeExistingSessions=true") {
		t.Fatalf("unexpected connect url %s", dialed)
	}

	conn.frames <- []byte(" \n\t")
	conn.frames <- []byte(`{"event_type":"reservation.created","payload":{"sid":"WRxxx","task_sid":"WTxxx"}}`)
	conn.frames <- []byte("not json")
	conn.frames <- []byte(`{"event_type":"worker.unknown","payload":{"sid":"WKxxx"}}`)
	conn.frames <- []byte(`{"event_type":"activity.updated","payload":{"sid":"WAxxx"}}`)

	n := next(t, notes)
	if n.Name != EventReservationCreated || !strings.Contains(string(n.Payload), "WRxxx") {
		t.Fatalf("expected reservationCreated, got %+v", n)
	}
	n = next(t, notes)
	if n.Name != EventError || !errors.Is(n.Err, ErrInvalidGatewayMessage) {
		t.Fatalf("expected malformed message error, got %+v", n)
	}
	if n := next(t, notes); n.Name != EventActivityUpdated {
		t.Fatalf("expected activityUpdated, got %s", n.Name)
	}
	if conn.isClosed() {
		t.Fatal("expected connection to stay open after a malformed frame")
	}
}

func TestTransportReconnectsWithBackoff(t *testing.T) {
	handler, notes := recorder()

	var mu sync.Mutex
	var attempts []int
	var dials int
	conns := make(chan *fakeConn, 1)

	tr, err := New(credentialtest.Token(t, time.Hour), Options{
		Endpoints: testEndpoints(),
		Handler:   handler,
		Dialer: dialFunc(func(ctx context.Context, url string) (Conn, error) {
			mu.Lock()
			dials++
			n := dials
			mu.Unlock()
			switch n {
			case 1, 2:
				return nil, errors.New("connection refused")
			case 3:
				c := newFakeConn()
				conns <- c
				return c, nil
			default:
				<-ctx.Done()
				return nil, ctx.Err()
			}
		}),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	tr.delay = func(attempt int) time.Duration {
		mu.Lock()
		attempts = append(attempts, attempt)
		mu.Unlock()
		return time.Millisecond
	}

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	for i := 0; i < 2; i++ {
		n := next(t, notes)
		if n.Name != EventError || !errors.Is(n.Err, ErrGatewayConnectionFailed) {
			t.Fatalf("expected connection failure, got %+v", n)
		}
	}
	if n := next(t, notes); n.Name != EventConnected {
		t.Fatalf("expected connected, got %s", n.Name)
	}
	if got := tr.Attempt(); got != 1 {
		t.Fatalf("expected attempt counter reset to 1, got %d", got)
	}

	(<-conns).Close()
	if n := next(t, notes); n.Name != EventDisconnected {
		t.Fatalf("expected disconnected, got %s", n.Name)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		done := dials >= 4
		mu.Unlock()
		if done || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 2, 1}
	if len(attempts) != len(want) {
		t.Fatalf("expected delays for attempts %v, got %v", want, attempts)
	}
	for i := range want {
		if attempts[i] != want[i] {
			t.Fatalf("expected delays for attempts %v, got %v", want, attempts)
		}
	}
}

func TestTransportWatchdogClosesSilentConnection(t *testing.T) {
	conn := newFakeConn()
	handler, notes := recorder()

	var dials int
	var mu sync.Mutex
	tr, err := New(credentialtest.Token(t, time.Hour), Options{
		Endpoints:         testEndpoints(),
		HeartbeatInterval: 50 * time.Millisecond,
		Handler:           handler,
		Dialer: dialFunc(func(ctx context.Context, url string) (Conn, error) {
			mu.Lock()
			dials++
			mu.Unlock()
			return conn, nil
		}),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	tr.delay = func(int) time.Duration { return time.Hour }

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	if n := next(t, notes); n.Name != EventConnected {
		t.Fatalf("expected connected, got %s", n.Name)
	}
	if n := next(t, notes); n.Name != EventDisconnected {
		t.Fatalf("expected disconnected after silence, got %s", n.Name)
	}
	if !conn.isClosed() {
		t.Fatal("expected watchdog to close the connection")
	}
	expectNone(t, notes, 150*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if dials != 1 {
		t.Fatalf("expected a single dial while waiting for backoff, got %d", dials)
	}
}

func TestTransportKeepAliveFeedsWatchdog(t *testing.T) {
	conn := newFakeConn()
	handler, notes := recorder()

	tr, err := New(credentialtest.Token(t, time.Hour), Options{
		Endpoints:         testEndpoints(),
		HeartbeatInterval: 200 * time.Millisecond,
		Handler:           handler,
		Dialer:            dialFunc(func(ctx context.Context, url string) (Conn, error) { return conn, nil }),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	if n := next(t, notes); n.Name != EventConnected {
		t.Fatalf("expected connected, got %s", n.Name)
	}
	for i := 0; i < 6; i++ {
		time.Sleep(50 * time.Millisecond)
		conn.frames <- []byte("")
	}
	expectNone(t, notes, 50*time.Millisecond)
	if conn.isClosed() {
		t.Fatal("expected keep-alives to hold the connection open")
	}
}

func TestTransportStopEmitsDisconnected(t *testing.T) {
	conn := newFakeConn()
	handler, notes := recorder()

	tr, err := New(credentialtest.Token(t, time.Hour), Options{
		Endpoints: testEndpoints(),
		Handler:   handler,
		Dialer:    dialFunc(func(ctx context.Context, url string) (Conn, error) { return conn, nil }),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := tr.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if n := next(t, notes); n.Name != EventConnected {
		t.Fatalf("expected connected, got %s", n.Name)
	}

	tr.Stop()
	if n := next(t, notes); n.Name != EventDisconnected {
		t.Fatalf("expected disconnected, got %s", n.Name)
	}
	if !conn.isClosed() {
		t.Fatal("expected connection to be closed")
	}
	tr.Stop()
}

func TestTransportUpdateToken(t *testing.T) {
	first := credentialtest.Token(t, time.Hour)
	tr, err := New(first, Options{Endpoints: testEndpoints()})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer tr.Stop()

	if err := tr.UpdateToken("garbage"); !errors.Is(err, credential.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if tr.Token() != first {
		t.Fatal("expected old token to stay in force")
	}

	second := credentialtest.Token(t, 2*time.Hour)
	if err := tr.UpdateToken(second); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if tr.Token() != second {
		t.Fatal("expected new token")
	}
	if got := tr.monitor.ExpiresAt(); time.Until(got) < 90*time.Minute {
		t.Fatalf("expected monitor re-armed with the new expiry, got %s", got)
	}
}

func TestTransportTokenExpiredWithoutConnection(t *testing.T) {
	handler, notes := recorder()
	tr, err := New(credentialtest.Token(t, credential.ExpiryLead+200*time.Millisecond), Options{
		Endpoints: testEndpoints(),
		Handler:   handler,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer tr.Stop()

	if n := next(t, notes); n.Name != EventTokenExpired {
		t.Fatalf("expected tokenExpired, got %s", n.Name)
	}
}

func TestTransportOverWebSocket(t *testing.T) {
	tokens := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens <- r.URL.Query().Get("token")
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		_ = c.Write(ctx, websocket.MessageText, []byte("  "))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"event_type":"worker.activity.update","payload":{"activity_sid":"WAxxx"}}`))
		_, _, _ = c.Read(ctx)
	}))
	defer srv.Close()

	token := credentialtest.Token(t, time.Hour)
	handler, notes := recorder()
	tr, err := New(token, Options{
		Endpoints: config.Endpoints{WebSocket: "ws" + strings.TrimPrefix(srv.URL, "http")},
		Handler:   handler,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	if n := next(t, notes); n.Name != EventConnected {
		t.Fatalf("expected connected, got %+v", n)
	}
	n := next(t, notes)
	if n.Name != EventWorkerActivityUpdated || !strings.Contains(string(n.Payload), "WAxxx") {
		t.Fatalf("expected workerActivityUpdated, got %+v", n)
	}
	if got := <-tokens; got != token {
		t.Fatal("expected token in the connect url")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestTransportLogsReconnectSchedule(t *testing.T) {
	out := &lockedBuffer{}
	handler, notes := recorder()

	tr, err := New(credentialtest.Token(t, time.Hour), Options{
		Endpoints: testEndpoints(),
		Handler:   handler,
		Logger:    logging.NewLoggerWithWriter(slog.LevelDebug, "text", out),
		Dialer: dialFunc(func(ctx context.Context, url string) (Conn, error) {
			return newFakeConn(), nil
		}),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	next(t, notes)
	tr.Stop()

	logs := out.String()
	if !strings.Contains(logs, "reconnect schedule") || !strings.Contains(logs, "15s") {
		t.Fatalf("expected the reconnect schedule at debug level, got %q", logs)
	}
}
