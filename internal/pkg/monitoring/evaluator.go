package monitoring

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/google/uuid"
)

// criticalMargin is the relative distance past a threshold that turns a
// warning into a critical alert.
const criticalMargin = 0.20

type Alert struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	ThresholdKey   string    `json:"threshold_key,omitempty"`
	Metric         string    `json:"metric"`
	Value          float64   `json:"value"`
	ThresholdValue float64   `json:"threshold_value"`
	Severity       string    `json:"severity"`
	Message        string    `json:"message"`
	FiredAt        time.Time `json:"fired_at"`
}

func (a Alert) History() models.AlertHistory {
	return models.AlertHistory{
		AlertID:        a.ID,
		Kind:           a.Kind,
		ThresholdKey:   a.ThresholdKey,
		Metric:         a.Metric,
		Value:          a.Value,
		ThresholdValue: a.ThresholdValue,
		Severity:       a.Severity,
		Message:        a.Message,
		FiredAt:        a.FiredAt,
	}
}

type Evaluator struct {
	cooldowns CooldownStore
}

func NewEvaluator(cooldowns CooldownStore) *Evaluator {
	if cooldowns == nil {
		cooldowns = NewMemoryCooldown()
	}
	return &Evaluator{cooldowns: cooldowns}
}

// Breached compares with strict inequality; a reading equal to the threshold
// is fine.
func Breached(operator string, current, threshold float64) bool {
	switch operator {
	case models.OperatorAbove:
		return current > threshold
	case models.OperatorBelow:
		return current < threshold
	}
	return false
}

// Severity assumes the threshold is breached. A zero threshold has no
// relative scale, so any breach of it is critical.
func Severity(operator string, current, threshold float64) string {
	excess := current - threshold
	if operator == models.OperatorBelow {
		excess = threshold - current
	}
	if excess > math.Abs(threshold)*criticalMargin {
		return models.SeverityCritical
	}
	return models.SeverityWarning
}

// Evaluate checks every enabled threshold whose metric is present in values.
// Metrics without a threshold are never looked at.
func (e *Evaluator) Evaluate(ctx context.Context, thresholds []models.AlertThreshold, values map[string]float64, now time.Time) ([]Alert, error) {
	var alerts []Alert
	for i := range thresholds {
		th := &thresholds[i]
		if !th.Enabled {
			continue
		}
		current, ok := values[th.Metric]
		if !ok || !Breached(th.Operator, current, th.Value) {
			continue
		}
		allowed, err := e.cooldowns.Acquire(ctx, "threshold:"+th.Key, now, th.Cooldown())
		if err != nil {
			return alerts, fmt.Errorf("cooldown %s: %w", th.Key, err)
		}
		if !allowed {
			continue
		}
		alerts = append(alerts, Alert{
			ID:             uuid.NewString(),
			Kind:           models.AlertKindThreshold,
			ThresholdKey:   th.Key,
			Metric:         th.Metric,
			Value:          current,
			ThresholdValue: th.Value,
			Severity:       Severity(th.Operator, current, th.Value),
			Message:        fmt.Sprintf("%s is %s (%s %s)", th.Metric, formatValue(current, th.Unit), th.Operator, formatValue(th.Value, th.Unit)),
			FiredAt:        now,
		})
	}
	return alerts, nil
}

// DiffContainers fires for every container that was running in prev and is
// not running in cur, including ones that disappeared. Containers absent from
// prev have no baseline and never fire.
func DiffContainers(prev, cur map[string]string, now time.Time) []Alert {
	names := make([]string, 0, len(prev))
	for name := range prev {
		names = append(names, name)
	}
	sort.Strings(names)

	var alerts []Alert
	for _, name := range names {
		if prev[name] != StateRunning {
			continue
		}
		state, seen := cur[name]
		if seen && state == StateRunning {
			continue
		}
		if !seen {
			state = "missing"
		}
		alerts = append(alerts, Alert{
			ID:       uuid.NewString(),
			Kind:     models.AlertKindContainerDown,
			Metric:   "container:" + name,
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("container %s is %s (was running)", name, state),
			FiredAt:  now,
		})
	}
	return alerts
}

func formatValue(v float64, unit string) string {
	return fmt.Sprintf("%.2f%s", v, unit)
}
