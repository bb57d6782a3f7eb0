package socketmap

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/pj520/sfnet"
)

var errUpstream = errors.New("upstream unavailable")

type mockUserli struct {
	aliases []string
	domain  bool
	mailbox bool
	senders []string
	quota   *Quota
	err     error
}

func (m *mockUserli) GetAliases(context.Context, string) ([]string, error) { return m.aliases, m.err }
func (m *mockUserli) GetDomain(context.Context, string) (bool, error)      { return m.domain, m.err }
func (m *mockUserli) GetMailbox(context.Context, string) (bool, error)     { return m.mailbox, m.err }
func (m *mockUserli) GetSenders(context.Context, string) ([]string, error) { return m.senders, m.err }
func (m *mockUserli) GetQuota(context.Context, string) (*Quota, error)     { return m.quota, m.err }

func newTestService(userli UserliService) *Service {
	return &Service{
		Userli:      userli,
		RateLimiter: NewRateLimiter(context.Background(), newMemoryQuotaCounter(context.Background())),
		Metrics:     NewMetrics(func() float64 { return 0 }),
		Log:         zap.NewNop(),
	}
}

func netstringFrame(payload string) []byte {
	return []byte(strconv.Itoa(len(payload)) + ":" + payload + ",")
}

func runOuter(svc *Service, data []byte) *sfnet.Task {
	task := sfnet.NewTestTask(false, data)
	svc.setBodyLength(task)
	svc.dealTask(task)
	return task
}

func TestSetSocketmapBodyLength_WaitsForColon(t *testing.T) {
	task := sfnet.NewTestTask(false, []byte("12"))
	svc := newTestService(&mockUserli{})
	svc.setBodyLength(task)

	if task.ReadState() != sfnet.AwaitingHeader {
		t.Errorf("expected AwaitingHeader while the digit run is incomplete, got %v", task.ReadState())
	}
}

func TestDealSocketmapTask_Alias(t *testing.T) {
	svc := newTestService(&mockUserli{aliases: []string{"a@example.com", "b@example.com"}})
	task := runOuter(svc, netstringFrame("alias alias@example.com"))

	resp := string(task.Response())
	if !strings.Contains(resp, "OK") || !strings.Contains(resp, "a@example.com,b@example.com") {
		t.Errorf("unexpected response: %q", resp)
	}
}

func TestDealSocketmapTask_NotFound(t *testing.T) {
	svc := newTestService(&mockUserli{})
	task := runOuter(svc, netstringFrame("domain example.com"))

	if !strings.Contains(string(task.Response()), "NOTFOUND") {
		t.Errorf("expected NOTFOUND, got %q", task.Response())
	}
}

func TestDealSocketmapTask_UnknownMap(t *testing.T) {
	svc := newTestService(&mockUserli{})
	task := runOuter(svc, netstringFrame("bogus key"))

	if !strings.Contains(string(task.Response()), "PERM") {
		t.Errorf("expected a PERM response for an unknown map, got %q", task.Response())
	}
}

func TestDealSocketmapTask_MalformedNetstring(t *testing.T) {
	svc := newTestService(&mockUserli{})
	task := sfnet.NewTestTask(false, []byte("5:alias!"))
	svc.setBodyLength(task)
	svc.dealTask(task)

	if !strings.Contains(string(task.Response()), "PERM") {
		t.Errorf("expected a PERM response for a malformed netstring, got %q", task.Response())
	}
}

func TestSetSocketmapBodyLength_OversizedDigitsDoNotCloseDirectly(t *testing.T) {
	task := sfnet.NewTestTask(false, []byte("9999999999:"))
	svc := newTestService(&mockUserli{})
	svc.setBodyLength(task)

	if task.ReadState() == sfnet.Closing {
		t.Fatal("setBodyLength itself never transitions read state; only the reactor's size check does")
	}
}

func TestDealSocketmapTask_UpstreamError(t *testing.T) {
	svc := newTestService(&mockUserli{err: errUpstream})
	task := runOuter(svc, netstringFrame("alias alias@example.com"))

	if !strings.Contains(string(task.Response()), "TEMP") {
		t.Errorf("expected a TEMP response on upstream error, got %q", task.Response())
	}
}
