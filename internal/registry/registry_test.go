package registry_test

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"e2ee-relay/internal/observability/metrics"
	"e2ee-relay/internal/registry"

	"github.com/google/uuid"
)

func TestMain(m *testing.M) {
	metrics.MustRegister("registry-test")
	os.Exit(m.Run())
}

type fakeConn struct {
	mu       sync.Mutex
	payloads [][]byte
	closed   bool
	sendErr  error
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *fakeConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSendToUserFansOutToAllConnections(t *testing.T) {
	reg := registry.New(testLogger())
	user := uuid.New()
	c1 := &fakeConn{}
	c2 := &fakeConn{}
	reg.Register(user, c1)
	reg.Register(user, c2)

	if sent := reg.SendToUser(user, []byte("hi")); sent != 2 {
		t.Fatalf("expected 2 deliveries, got %d", sent)
	}
	if c1.received() != 1 || c2.received() != 1 {
		t.Fatalf("expected one payload per connection, got %d and %d", c1.received(), c2.received())
	}
}

func TestSendToOfflineUserIsNoop(t *testing.T) {
	reg := registry.New(testLogger())

	if sent := reg.SendToUser(uuid.New(), []byte("hi")); sent != 0 {
		t.Fatalf("expected 0 deliveries, got %d", sent)
	}
}

func TestUnregisteredConnectionNeverReached(t *testing.T) {
	reg := registry.New(testLogger())
	user := uuid.New()
	c := &fakeConn{}
	reg.Register(user, c)
	reg.Unregister(user, c)

	if sent := reg.SendToUser(user, []byte("hi")); sent != 0 {
		t.Fatalf("expected 0 deliveries after unregister, got %d", sent)
	}
	if c.received() != 0 {
		t.Fatalf("unregistered connection received %d payloads", c.received())
	}

	// Idempotent on repeated close paths.
	reg.Unregister(user, c)
}

func TestDuplicateRegisterIgnored(t *testing.T) {
	reg := registry.New(testLogger())
	user := uuid.New()
	c := &fakeConn{}
	reg.Register(user, c)
	reg.Register(user, c)

	if sent := reg.SendToUser(user, []byte("hi")); sent != 1 {
		t.Fatalf("expected a single delivery, got %d", sent)
	}
}

func TestClosedConnectionSkipped(t *testing.T) {
	reg := registry.New(testLogger())
	user := uuid.New()
	open := &fakeConn{}
	closed := &fakeConn{closed: true}
	reg.Register(user, open)
	reg.Register(user, closed)

	if sent := reg.SendToUser(user, []byte("hi")); sent != 1 {
		t.Fatalf("expected 1 delivery, got %d", sent)
	}
	if closed.received() != 0 {
		t.Fatalf("closed connection received a payload")
	}
}

func TestFailedSendDoesNotAbortFanout(t *testing.T) {
	reg := registry.New(testLogger())
	user := uuid.New()
	bad := &fakeConn{sendErr: errors.New("broken pipe")}
	good := &fakeConn{}
	reg.Register(user, bad)
	reg.Register(user, good)

	if sent := reg.SendToUser(user, []byte("hi")); sent != 1 {
		t.Fatalf("expected 1 successful delivery, got %d", sent)
	}
	if good.received() != 1 {
		t.Fatalf("healthy connection missed the payload")
	}
}

func TestBroadcastAllReachesEveryUser(t *testing.T) {
	reg := registry.New(testLogger())
	a := &fakeConn{}
	b1 := &fakeConn{}
	b2 := &fakeConn{}
	reg.Register(uuid.New(), a)
	userB := uuid.New()
	reg.Register(userB, b1)
	reg.Register(userB, b2)

	if sent := reg.BroadcastAll([]byte("announce")); sent != 3 {
		t.Fatalf("expected 3 deliveries, got %d", sent)
	}
}

func TestConcurrentRegisterAndFanout(t *testing.T) {
	reg := registry.New(testLogger())
	user := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := &fakeConn{}
			reg.Register(user, c)
			reg.Unregister(user, c)
		}()
		go func() {
			defer wg.Done()
			reg.SendToUser(user, []byte("x"))
		}()
	}
	wg.Wait()
}
