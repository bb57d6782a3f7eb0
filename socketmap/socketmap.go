package socketmap

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/markdingo/netstring"
	"go.uber.org/zap"

	"github.com/pj520/sfnet"
)

// invalidHeaderLength is an intentionally oversized sentinel: Task.SetLength
// only records a declared length and the reactor only ever rejects it
// against Config.MaxBufSize, so setting
// it past any realistic buffer size is how a framing violation (here, a
// malformed netstring digit run) reaches the reactor's existing
// "declared length too large" CLOSING path without a second error channel.
const invalidHeaderLength = 1 << 30

// Response is a socketmap protocol response.
type Response struct {
	Status string
	Data   string
}

func (r Response) String() string {
	if r.Data == "" {
		return r.Status
	}
	return fmt.Sprintf("%s %s", r.Status, r.Data)
}

// Service is the sfnet embedder for Postfix socketmap lookups (outer
// listener) and SMTP policy delegation (inner listener), speaking through
// sfnet.Callbacks instead of owning its own per-connection goroutines.
type Service struct {
	Userli      UserliService
	RateLimiter *RateLimiter
	Metrics     *Metrics
	Log         *zap.Logger

	// DenyList is optional; a nil value denies no one.
	DenyList *DenyList
}

// Callbacks returns the vtable sfnet.New expects, dispatching on whether a
// task arrived on the inner (policy) or outer (socketmap) listener.
func (s *Service) Callbacks() sfnet.Callbacks {
	return sfnet.Callbacks{
		SetBodyLength: s.setBodyLength,
		DealTask:      s.dealTask,
	}
}

func (s *Service) setBodyLength(t *sfnet.Task) {
	if t.IsInner() {
		s.setPolicyBodyLength(t)
		return
	}
	s.setSocketmapBodyLength(t)
}

func (s *Service) dealTask(t *sfnet.Task) {
	if t.IsInner() {
		s.dealPolicyTask(t)
		return
	}
	s.dealSocketmapTask(t)
}

// setSocketmapBodyLength parses a netstring header ("<digits>:") from
// whatever has been buffered so far. The body declared to the reactor is
// the payload length plus one, to also consume the netstring's mandatory
// trailing comma.
func (s *Service) setSocketmapBodyLength(t *sfnet.Task) {
	buf := t.HeaderBytes()
	idx := bytes.IndexByte(buf, ':')
	if idx < 0 {
		return // not enough buffered yet to find the length/payload divider
	}

	digits := buf[:idx]
	if len(digits) == 0 || len(digits) > 9 {
		t.SetLength(idx+1, invalidHeaderLength)
		return
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil || n < 0 {
		t.SetLength(idx+1, invalidHeaderLength)
		return
	}
	t.SetLength(idx+1, n+1)
}

func (s *Service) dealSocketmapTask(t *sfnet.Task) {
	start := time.Now()

	body := t.Body()
	if len(body) == 0 || body[len(body)-1] != ',' {
		s.writeSocketmapResponse(t, Response{Status: "PERM", Data: "malformed netstring"}, start, "invalid")
		return
	}
	request := string(body[:len(body)-1])

	parts := strings.SplitN(strings.TrimSpace(request), " ", 2)
	if len(parts) != 2 {
		s.Log.Error("invalid socketmap request format", zap.String("request", request))
		s.writeSocketmapResponse(t, Response{Status: "PERM", Data: "Invalid request format"}, start, "invalid")
		return
	}

	mapName, key := parts[0], parts[1]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var resp Response
	switch mapName {
	case "alias":
		resp = s.handleAlias(ctx, key)
	case "domain":
		resp = s.handleDomain(ctx, key)
	case "mailbox":
		resp = s.handleMailbox(ctx, key)
	case "senders":
		resp = s.handleSenders(ctx, key)
	default:
		s.Log.Error("unknown socketmap map name", zap.String("map", mapName))
		resp = Response{Status: "PERM", Data: "Unknown map name"}
	}

	s.writeSocketmapResponse(t, resp, start, mapName)
}

func (s *Service) handleAlias(ctx context.Context, key string) Response {
	aliases, err := s.Userli.GetAliases(ctx, key)
	if err != nil {
		s.Log.Error("error fetching aliases", zap.String("key", key), zap.Error(err))
		return Response{Status: "TEMP", Data: "Error fetching aliases"}
	}
	if len(aliases) == 0 {
		return Response{Status: "NOTFOUND"}
	}
	return Response{Status: "OK", Data: strings.Join(aliases, ",")}
}

func (s *Service) handleDomain(ctx context.Context, key string) Response {
	exists, err := s.Userli.GetDomain(ctx, key)
	if err != nil {
		s.Log.Error("error fetching domain", zap.String("key", key), zap.Error(err))
		return Response{Status: "TEMP", Data: "Error fetching domain"}
	}
	if !exists {
		return Response{Status: "NOTFOUND"}
	}
	return Response{Status: "OK", Data: "1"}
}

func (s *Service) handleMailbox(ctx context.Context, key string) Response {
	exists, err := s.Userli.GetMailbox(ctx, key)
	if err != nil {
		s.Log.Error("error fetching mailbox", zap.String("key", key), zap.Error(err))
		return Response{Status: "TEMP", Data: "Error fetching mailbox"}
	}
	if !exists {
		return Response{Status: "NOTFOUND"}
	}
	return Response{Status: "OK", Data: "1"}
}

func (s *Service) handleSenders(ctx context.Context, key string) Response {
	senders, err := s.Userli.GetSenders(ctx, key)
	if err != nil {
		s.Log.Error("error fetching senders", zap.String("key", key), zap.Error(err))
		return Response{Status: "TEMP", Data: "Error fetching senders"}
	}
	if len(senders) == 0 {
		return Response{Status: "NOTFOUND"}
	}
	return Response{Status: "OK", Data: strings.Join(senders, ",")}
}

func (s *Service) writeSocketmapResponse(t *sfnet.Task, resp Response, start time.Time, mapName string) {
	status := "error"
	switch resp.Status {
	case "OK":
		status = "success"
	case "NOTFOUND":
		status = "notfound"
	}

	var buf bytes.Buffer
	enc := netstring.NewEncoder(&buf)
	if err := enc.EncodeString(netstring.NoKey, resp.String()); err != nil {
		s.Log.Error("failed to encode socketmap response", zap.Error(err))
		t.RequestClose()
		return
	}

	t.SetResponse(buf.Bytes(), false)

	if s.Metrics != nil {
		s.Metrics.RequestDuration.WithLabelValues(mapName, status).Observe(time.Since(start).Seconds())
		s.Metrics.RequestsTotal.WithLabelValues(mapName, status).Inc()
	}
}
