package socketmap

import (
	"bytes"
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pj520/sfnet"
)

// PolicyRequest is a parsed Postfix SMTP access policy delegation request
// (name=value pairs terminated by a blank line).
type PolicyRequest struct {
	ProtocolState string
	Sender        string
	SaslUsername  string
}

// setPolicyBodyLength waits for the blank-line terminator ("\n\n" or
// "\r\n\r\n") that ends a policy request. The entire request up to and
// including the terminator is the header — there is no separate body phase
// for this protocol, so SetLength is called with a zero body length once
// the terminator is found.
func (s *Service) setPolicyBodyLength(t *sfnet.Task) {
	buf := t.HeaderBytes()
	if idx := bytes.Index(buf, []byte("\r\n\r\n")); idx >= 0 {
		t.SetLength(idx+4, 0)
		return
	}
	if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
		t.SetLength(idx+2, 0)
	}
}

func (s *Service) dealPolicyTask(t *sfnet.Task) {
	start := time.Now()
	req := parsePolicyRequest(t.HeaderBytes())

	s.Log.Debug("processing policy request",
		zap.String("sender", req.Sender),
		zap.String("sasl_username", req.SaslUsername),
		zap.String("protocol", req.ProtocolState))

	action := s.decidePolicyAction(start, req)
	t.SetResponse([]byte("action="+action+"\n\n"), false)
}

func parsePolicyRequest(raw []byte) PolicyRequest {
	var req PolicyRequest
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(name) {
		case "protocol_state":
			req.ProtocolState = strings.TrimSpace(value)
		case "sender":
			req.Sender = strings.TrimSpace(value)
		case "sasl_username":
			req.SaslUsername = strings.TrimSpace(value)
		}
	}
	return req
}

// decidePolicyAction only enforces a quota at END-OF-MESSAGE: that is the
// only stage at which a message is actually about to be sent, so it is the
// only stage worth counting.
func (s *Service) decidePolicyAction(start time.Time, req PolicyRequest) string {
	if req.ProtocolState != "END-OF-MESSAGE" {
		s.recordPolicy(start, "skip", "dunno")
		return "DUNNO"
	}

	sender := req.SaslUsername
	if sender == "" {
		sender = req.Sender
	}
	if sender == "" {
		s.recordPolicy(start, "check", "dunno")
		return "DUNNO"
	}

	if s.DenyList != nil && s.DenyList.Contains(sender) {
		s.Log.Info("sender on deny list", zap.String("sender", sender))
		s.recordPolicy(start, "check", "reject")
		return "REJECT Sender is not permitted to send mail"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	quota, err := s.Userli.GetQuota(ctx, sender)
	if err != nil {
		s.Log.Warn("failed to fetch quota, allowing message", zap.String("sender", sender), zap.Error(err))
		s.recordPolicy(start, "check", "error")
		return "DUNNO"
	}

	if quota.PerHour == 0 && quota.PerDay == 0 {
		s.recordPolicy(start, "check", "dunno")
		return "DUNNO"
	}

	allowed, hourCount, dayCount := s.RateLimiter.CheckAndIncrement(ctx, sender, quota)
	if s.Metrics != nil {
		s.Metrics.QuotaChecksTotal.WithLabelValues("checked").Inc()
	}

	if !allowed {
		s.Log.Info("rate limit exceeded",
			zap.String("sender", sender), zap.Int("hour_count", hourCount), zap.Int("day_count", dayCount))
		s.recordPolicy(start, "check", "reject")
		if s.Metrics != nil {
			s.Metrics.QuotaExceededTotal.Inc()
		}
		return "REJECT Rate limit exceeded, please try again later"
	}

	s.recordPolicy(start, "check", "dunno")
	return "DUNNO"
}

func (s *Service) recordPolicy(start time.Time, stage, action string) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.PolicyRequestsTotal.WithLabelValues(stage, action).Inc()
	s.Metrics.PolicyRequestDuration.WithLabelValues(stage, action).Observe(time.Since(start).Seconds())
}
