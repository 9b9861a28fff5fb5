// Package alert raises transient, self-expiring notices for attack-classified
// events and keeps a capped history of recent notices for audit display.
package alert

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/icsight/icsight/internal/model"
)

// Policy controls which attack events raise a notice. Loaded from a YAML
// file so operators can tune thresholds without a rebuild; a missing file
// falls back to the built-in defaults.
type Policy struct {
	// MinSeverity is the lowest severity that still raises a notice.
	MinSeverity model.Severity `yaml:"min_severity"`
	// Overrides reassign the notice severity for specific attack types.
	Overrides []SeverityOverride `yaml:"overrides"`
}

// SeverityOverride pins the notice severity for one attack type.
type SeverityOverride struct {
	AttackType string         `yaml:"attack_type"`
	Severity   model.Severity `yaml:"severity"`
}

// DefaultPolicy emits a notice for every attack event above normal severity.
func DefaultPolicy() Policy {
	return Policy{MinSeverity: model.SeverityLow}
}

// LoadPolicy reads a policy file. A missing file is not an error; the
// defaults apply and the caller is told via the log.
func LoadPolicy(path string, logger *slog.Logger) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("Alert policy file not found, using defaults", "path", path)
			return DefaultPolicy(), nil
		}
		return Policy{}, fmt.Errorf("read alert policy: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse alert policy %s: %w", path, err)
	}
	if p.MinSeverity == "" {
		p.MinSeverity = model.SeverityLow
	}
	p.MinSeverity = model.ParseSeverity(string(p.MinSeverity))

	logger.Info("Alert policy loaded",
		"path", path,
		"min_severity", p.MinSeverity,
		"overrides", len(p.Overrides))
	return p, nil
}

// Evaluate decides whether an event should raise a notice and with which
// severity. Events without an attack label or with normal severity never
// alert; absent severity was already normalized to normal upstream.
func (p Policy) Evaluate(ev model.ClassifiedEvent) (model.Severity, bool) {
	if !ev.IsAttack() {
		return model.SeverityNormal, false
	}
	sev := ev.Severity
	for _, o := range p.Overrides {
		if o.AttackType == ev.AttackType {
			sev = model.ParseSeverity(string(o.Severity))
			break
		}
	}
	if sev == model.SeverityNormal || !sev.AtLeast(p.MinSeverity) {
		return sev, false
	}
	return sev, true
}
