package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports structural problems that make the configuration unusable.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describeFieldError(fe))
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	seen := make(map[string]bool, len(c.Roles))
	for _, r := range c.Roles {
		if seen[r.ID] {
			return fmt.Errorf("duplicate role id %q", r.ID)
		}
		seen[r.ID] = true
	}
	if c.TotalLocations() == 0 {
		return errors.New("configuration must include at least one center")
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "gtefield":
		return fmt.Sprintf("%s (%v) cannot be less than %s", field, fe.Value(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s%s check (value %v)", field, fe.Tag(), paramSuffix(fe.Param()), fe.Value())
	}
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

// Warnings lists settings that are legal but likely to hurt a run.
func (c *Config) Warnings() []string {
	var warnings []string

	if c.Search.RadiusMiles > 100 {
		warnings = append(warnings, fmt.Sprintf("Large search radius (%d miles) may return too many results", c.Search.RadiusMiles))
	}
	if c.Search.ResultsPerLocation > 500 {
		warnings = append(warnings, fmt.Sprintf("Large results_per_location (%d) may be slow", c.Search.ResultsPerLocation))
	}
	if c.Search.BatchSize > 10 {
		warnings = append(warnings, fmt.Sprintf("Large batch_size (%d) may trigger rate limiting", c.Search.BatchSize))
	}

	codes := map[string]bool{}
	zips := map[string]bool{}
	dupCodes, dupZips := false, false
	for _, center := range c.AllCenters() {
		if codes[center.Code] {
			dupCodes = true
		}
		codes[center.Code] = true
		if zips[center.ZipCode] {
			dupZips = true
		}
		zips[center.ZipCode] = true
	}
	if dupCodes {
		warnings = append(warnings, "Duplicate center codes found in configuration")
	}
	if dupZips {
		warnings = append(warnings, "Duplicate zip codes found in configuration")
	}

	roleIDs := map[string]bool{}
	for _, r := range c.Roles {
		roleIDs[r.ID] = true
	}
	for _, m := range c.AllMarkets() {
		for _, id := range slices.Sorted(maps.Keys(m.Paybands)) {
			if !roleIDs[id] {
				warnings = append(warnings, fmt.Sprintf("Market '%s' has payband for undefined role: %s", m.Name, id))
			}
		}
		for _, r := range c.Roles {
			if _, ok := m.Paybands[r.ID]; !ok {
				warnings = append(warnings, fmt.Sprintf("Market '%s' missing payband for role: %s", m.Name, r.ID))
			}
		}
		for _, id := range slices.Sorted(maps.Keys(m.Paybands)) {
			p := m.Paybands[id]
			if p.Min < 0 {
				warnings = append(warnings, fmt.Sprintf("Market '%s', role '%s': Minimum pay cannot be negative: %g", m.Name, id, p.Min))
			}
			if p.Max < p.Min {
				warnings = append(warnings, fmt.Sprintf("Market '%s', role '%s': Maximum pay (%g) cannot be less than minimum (%g)", m.Name, id, p.Max, p.Min))
			}
		}
	}
	return warnings
}
