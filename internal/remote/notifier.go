package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"upkeep/internal/metrics"
)

const defaultEmitTimeout = 5 * time.Second

// Notifier sends fire-and-forget messages. Delivery is never confirmed and
// failures never reach the caller.
type Notifier interface {
	SendMaintenanceEmail(ctx context.Context, email MaintenanceEmail)
	Notify(ctx context.Context, n SystemNotification)
}

// MaintenanceEmail tells one resident when maintenance happens in their building.
type MaintenanceEmail struct {
	To            string `json:"to"`
	ResidentName  string `json:"resident_name,omitempty"`
	BuildingID    string `json:"building_id"`
	BuildingName  string `json:"building_name,omitempty"`
	Date          string `json:"date"`
	TimeWindow    string `json:"time_window"`
	DeviceType    string `json:"device_type,omitempty"`
	ScheduleJobID string `json:"schedule_job_id"`
}

type SystemNotification struct {
	Title      string `json:"title"`
	Message    string `json:"message"`
	Severity   string `json:"severity"`
	EntityKind string `json:"entity_kind,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	// RecipientID is the employee or manager to notify, if any.
	RecipientID string `json:"recipient_id,omitempty"`
}

// Publisher delivers one encoded message for a pattern.
type Publisher interface {
	Publish(ctx context.Context, pattern string, body []byte) error
}

// RedisEmitter publishes each pattern to its own channel.
type RedisEmitter struct {
	Client        redis.UniversalClient
	ChannelPrefix string
}

func (r RedisEmitter) Channel(pattern string) string {
	if r.ChannelPrefix == "" {
		return pattern
	}
	return r.ChannelPrefix + ":" + pattern
}

func (r RedisEmitter) Publish(ctx context.Context, pattern string, body []byte) error {
	return r.Client.Publish(ctx, r.Channel(pattern), body).Err()
}

// HTTPEmitter posts messages to a webhook.
type HTTPEmitter struct {
	URL        string
	HTTPClient *http.Client
	Tokens     *ServiceTokens
}

func (h HTTPEmitter) Publish(ctx context.Context, pattern string, body []byte) error {
	client := h.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Upkeep-Pattern", pattern)
	if h.Tokens != nil {
		token, err := h.Tokens.Sign("notification")
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

// LogEmitter only logs; used when no notification transport is configured.
type LogEmitter struct {
	Logger *slog.Logger
}

func (l LogEmitter) Publish(_ context.Context, pattern string, body []byte) error {
	if l.Logger != nil {
		l.Logger.Debug("notification not delivered, no transport configured", "pattern", pattern, "bytes", len(body))
	}
	return nil
}

type emitted struct {
	Pattern   string    `json:"pattern"`
	EmittedAt time.Time `json:"emitted_at"`
	Data      any       `json:"data"`
}

// EmitterOptions tunes an EventNotifier.
type EmitterOptions struct {
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	Logger        *slog.Logger
	Now           func() time.Time
}

// EventNotifier implements Notifier on top of a Publisher. Each message is
// delivered in its own goroutine under a bounded timeout and a shared rate limit.
type EventNotifier struct {
	pub     Publisher
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewEventNotifier(pub Publisher, opts EmitterOptions) *EventNotifier {
	n := &EventNotifier{
		pub:     pub,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if n.timeout <= 0 {
		n.timeout = defaultEmitTimeout
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	if n.now == nil {
		n.now = time.Now
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		n.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return n
}

func (n *EventNotifier) SendMaintenanceEmail(ctx context.Context, email MaintenanceEmail) {
	n.Emit(ctx, PatternSendMaintenanceMail, email)
}

func (n *EventNotifier) Notify(ctx context.Context, sn SystemNotification) {
	n.Emit(ctx, PatternSystemNotification, sn)
}

// Emit returns immediately. The caller's cancellation does not abort delivery.
func (n *EventNotifier) Emit(ctx context.Context, pattern string, payload any) {
	body, err := json.Marshal(emitted{Pattern: pattern, EmittedAt: n.now().UTC(), Data: payload})
	if err != nil {
		n.logger.Warn("notification encode failed", "pattern", pattern, "err", err)
		metrics.Emits.WithLabelValues(pattern, "failed").Inc()
		return
	}
	detached := context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := context.WithTimeout(detached, n.timeout)
		defer cancel()
		if n.limiter != nil {
			if err := n.limiter.Wait(sendCtx); err != nil {
				n.logger.Warn("notification dropped by rate limit", "pattern", pattern, "err", err)
				metrics.Emits.WithLabelValues(pattern, "dropped").Inc()
				return
			}
		}
		if err := n.pub.Publish(sendCtx, pattern, body); err != nil {
			n.logger.Warn("notification delivery failed", "pattern", pattern, "err", err)
			metrics.Emits.WithLabelValues(pattern, "failed").Inc()
			return
		}
		metrics.Emits.WithLabelValues(pattern, "sent").Inc()
	}()
}

// Wait blocks until every in-flight message has been attempted.
func (n *EventNotifier) Wait() {
	n.wg.Wait()
}
