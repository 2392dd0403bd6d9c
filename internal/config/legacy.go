package config

import (
	"errors"
	"strings"

	"gopkg.in/yaml.v3"

	"jobx-market/internal/runstore"
)

// LegacyRoleID names the synthetic role created from a legacy job_title.
const LegacyRoleID = "default"

type legacyLocation struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	City    string `yaml:"city"`
	State   string `yaml:"state"`
	ZipCode string `yaml:"zip_code"`
}

type legacyArea struct {
	Name      string           `yaml:"name"`
	Locations []legacyLocation `yaml:"locations"`
}

type legacyMarket struct {
	Name      string           `yaml:"name"`
	Regions   []legacyArea     `yaml:"regions"`
	Locations []legacyLocation `yaml:"locations"`
}

type legacyDocument struct {
	JobTitle string         `yaml:"job_title"`
	Markets  []legacyMarket `yaml:"markets"`
}

// decodeLegacy converts the single job_title format. Its top-level markets become
// regions, nested regions become markets, and locations become centers.
func decodeLegacy(data []byte) (*Config, error) {
	var doc legacyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.JobTitle) == "" {
		return nil, errors.New("legacy configuration must include 'job_title'")
	}
	if len(doc.Markets) == 0 {
		return nil, errors.New("configuration must include at least one market")
	}

	cfg := &Config{
		Roles: []Role{{
			ID:          LegacyRoleID,
			Name:        doc.JobTitle,
			PayType:     PaySalary,
			DefaultUnit: "USD/year",
		}},
		JobTitle: doc.JobTitle,
	}
	for _, lm := range doc.Markets {
		region := Region{Name: lm.Name}
		if len(lm.Regions) > 0 {
			for _, area := range lm.Regions {
				region.Markets = append(region.Markets, legacyToMarket(area.Name, area.Locations))
			}
		} else {
			region.Markets = append(region.Markets, legacyToMarket(lm.Name, lm.Locations))
		}
		cfg.Regions = append(cfg.Regions, region)
	}
	return cfg, nil
}

func legacyToMarket(name string, locations []legacyLocation) Market {
	m := Market{Name: name, Paybands: map[string]Payband{}}
	for _, loc := range locations {
		m.Centers = append(m.Centers, Center{
			Code:     strings.ReplaceAll(name+"_"+loc.Name, " ", "_"),
			Name:     loc.Name,
			Address1: loc.Address,
			City:     loc.City,
			State:    loc.State,
			ZipCode:  loc.ZipCode,
		})
	}
	return m
}

// Migrate loads a configuration in any supported format and writes it back in the
// current format.
func Migrate(oldPath, newPath string) (*Config, error) {
	cfg, err := Load(oldPath)
	if err != nil {
		return nil, err
	}
	if err := runstore.WriteYAML(newPath, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
