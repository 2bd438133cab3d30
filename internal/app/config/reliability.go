package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ghalamif/AegisHealth/internal/domain"
)

// ParamsOverride is a partial set of reliability parameters. Nil fields
// inherit from the enclosing scope.
type ParamsOverride struct {
	ThresholdLoad           *float64 `yaml:"threshold_load"`
	PenaltyWeight           *float64 `yaml:"penalty_weight"`
	DefaultBaseDamageFactor *float64 `yaml:"default_base_damage_factor"`
	MaxDamage               *float64 `yaml:"max_damage"`
	HighStressRateThreshold *float64 `yaml:"high_stress_rate_threshold"`
	ReducedConfidence       *float64 `yaml:"reduced_confidence"`
	InfiniteRULSentinel     *float64 `yaml:"infinite_rul_sentinel"`
}

func (o ParamsOverride) apply(p *domain.ReliabilityParams) {
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&p.ThresholdLoad, o.ThresholdLoad)
	set(&p.PenaltyWeight, o.PenaltyWeight)
	set(&p.DefaultBaseDamageFactor, o.DefaultBaseDamageFactor)
	set(&p.MaxDamage, o.MaxDamage)
	set(&p.HighStressRateThreshold, o.HighStressRateThreshold)
	set(&p.ReducedConfidence, o.ReducedConfidence)
	set(&p.InfiniteRULSentinel, o.InfiniteRULSentinel)
}

// TenantParams overrides the defaults for one tenant and, below that, for
// individual assets.
type TenantParams struct {
	ParamsOverride `yaml:",inline"`
	Assets         map[string]ParamsOverride `yaml:"assets"`
}

// ReliabilityConfig is the "reliability" section. The most specific scope
// wins: asset, then tenant, then defaults, then domain.DefaultParams.
type ReliabilityConfig struct {
	Defaults ParamsOverride          `yaml:"defaults"`
	Tenants  map[string]TenantParams `yaml:"tenants"`
}

func (r ReliabilityConfig) Resolve(key domain.AssetKey) domain.ReliabilityParams {
	p := domain.DefaultParams()
	r.Defaults.apply(&p)
	t, ok := r.Tenants[key.TenantID]
	if !ok {
		return p
	}
	t.ParamsOverride.apply(&p)
	if a, ok := t.Assets[key.AssetID]; ok {
		a.apply(&p)
	}
	return p
}

func (r ReliabilityConfig) validate() error {
	if err := checkParams("defaults", r.Resolve(domain.AssetKey{})); err != nil {
		return err
	}
	tenants := make([]string, 0, len(r.Tenants))
	for t := range r.Tenants {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	for _, t := range tenants {
		if err := checkParams("tenants."+t, r.Resolve(domain.AssetKey{TenantID: t})); err != nil {
			return err
		}
		for a := range r.Tenants[t].Assets {
			if err := checkParams("tenants."+t+".assets."+a, r.Resolve(domain.AssetKey{TenantID: t, AssetID: a})); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkParams(scope string, p domain.ReliabilityParams) error {
	var errs []error
	if p.PenaltyWeight < 0 {
		errs = append(errs, errors.New("penalty_weight must not be negative"))
	}
	if p.DefaultBaseDamageFactor < 0 {
		errs = append(errs, errors.New("default_base_damage_factor must not be negative"))
	}
	if p.MaxDamage <= 0 {
		errs = append(errs, errors.New("max_damage must be positive"))
	}
	if p.HighStressRateThreshold < 0 {
		errs = append(errs, errors.New("high_stress_rate_threshold must not be negative"))
	}
	if p.ReducedConfidence < 0 || p.ReducedConfidence > 1 {
		errs = append(errs, errors.New("reduced_confidence must be within [0, 1]"))
	}
	if p.InfiniteRULSentinel <= 0 {
		errs = append(errs, errors.New("infinite_rul_sentinel must be positive"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %w", scope, errors.Join(errs...))
}
