package alerts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/patientwatch/patientwatch/internal/config"
	"github.com/patientwatch/patientwatch/pkg/types"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
	webhookTimeout  = 10 * time.Second
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Condition  string     `json:"condition"`
	RunID      string     `json:"run_id"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates alert rules against new reports and delivers webhook
// notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	log    *zap.Logger
	client *resty.Client
	now    func() time.Time

	mu       sync.Mutex
	rules    []rule
	webhooks []config.WebhookConfig
	active   map[string]*Alert    // key: rule name
	lastFire map[string]time.Time // last fire time per rule (for cooldown)
	history  []*Alert             // recently resolved alerts

	deliveries sync.WaitGroup
}

// New creates an Engine from the alerts configuration. Rules whose
// condition does not parse are rejected. An Engine with no rules is valid.
func New(cfg config.AlertsConfig, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		log:      log,
		client:   resty.New().SetTimeout(webhookTimeout).SetHeader("Content-Type", "application/json"),
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}
	if err := e.SetConfig(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// SetConfig replaces rules and webhooks, e.g. after a config reload.
// Firing alerts of rules that no longer exist are dropped.
func (e *Engine) SetConfig(cfg config.AlertsConfig) error {
	rules := make([]rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		c, err := parseCondition(r.Condition)
		if err != nil {
			return fmt.Errorf("alerts: rule %q: %w", r.Name, err)
		}
		rules = append(rules, rule{AlertRule: r, cond: c})
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
	e.webhooks = append([]config.WebhookConfig(nil), cfg.Webhooks...)
	keep := make(map[string]bool, len(rules))
	for _, r := range rules {
		keep[r.Name] = true
	}
	for name := range e.active {
		if !keep[name] {
			delete(e.active, name)
		}
	}
	return nil
}

// OnReport evaluates the rules; it lets the engine listen to the monitor.
func (e *Engine) OnReport(_ context.Context, r *types.Report) { e.Evaluate(r) }

// Evaluate tests all configured rules against r.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
func (e *Engine) Evaluate(r *types.Report) {
	now := e.now()

	e.mu.Lock()
	rules := e.rules
	var notify []Alert
	for _, rl := range rules {
		key := rl.Name
		fires, value := rl.cond.eval(r)

		if fires {
			cooldown := rl.Cooldown
			if cooldown <= 0 {
				cooldown = defaultCooldown
			}
			if _, firing := e.active[key]; firing {
				e.active[key].Value = value
				continue
			}
			if last, ok := e.lastFire[key]; ok && now.Sub(last) < cooldown {
				continue
			}
			sev := rl.Severity
			if sev == "" {
				sev = "warning"
			}
			a := &Alert{
				ID:        fmt.Sprintf("%s:%d", rl.Name, now.UnixNano()),
				RuleName:  rl.Name,
				Condition: rl.Condition,
				RunID:     r.RunID,
				Severity:  sev,
				Value:     value,
				Message:   fmt.Sprintf("[%s] %s fired: %s (value %.2f)", sev, rl.Name, rl.Condition, value),
				FiredAt:   now,
				State:     "firing",
			}
			e.active[key] = a
			e.lastFire[key] = now
			notify = append(notify, *a)

			e.log.Warn("alert fired",
				zap.String("rule", rl.Name),
				zap.Float64("value", value),
				zap.String("severity", sev),
				zap.String("run_id", r.RunID),
			)
			continue
		}

		if a, ok := e.active[key]; ok {
			resolved := now
			a.State = "resolved"
			a.ResolvedAt = &resolved
			a.Value = value
			delete(e.active, key)

			e.history = append(e.history, a)
			if len(e.history) > maxHistoryLen {
				e.history = e.history[len(e.history)-maxHistoryLen:]
			}
			notify = append(notify, *a)

			e.log.Info("alert resolved", zap.String("rule", rl.Name), zap.String("run_id", r.RunID))
		}
	}
	webhooks := e.webhooks
	e.mu.Unlock()

	for i := range notify {
		a := notify[i]
		e.deliveries.Add(1)
		go func() {
			defer e.deliveries.Done()
			e.deliver(webhooks, &a)
		}()
	}
}

// Wait blocks until every in-flight webhook delivery has finished.
func (e *Engine) Wait() { e.deliveries.Wait() }

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))
	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// FiringCount returns the number of currently firing alerts.
func (e *Engine) FiringCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
