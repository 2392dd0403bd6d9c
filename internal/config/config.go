// Package config loads the market analysis configuration: roles, the
// region > market > center hierarchy with pay bands, and the search knobs.
package config

import (
	"strings"
	"time"
)

type PayType string

const (
	PayHourly PayType = "hourly"
	PaySalary PayType = "salary"
)

const (
	DefaultRadiusMiles        = 25
	DefaultResultsPerLocation = 200
	DefaultBatchSize          = 5
	DefaultMaxRetries         = 3
	DefaultRetryBackoffBase   = 10 * time.Second
	DefaultRetryMaxJitter     = 10 * time.Second
	DefaultTaskDelay          = 500 * time.Millisecond
	DefaultBatchDelay         = 2 * time.Second
	DefaultSafetyCooldown     = 10 * time.Minute
	DefaultSafetyBaseDelay    = 5 * time.Second
	DefaultScraperCommand     = "jobx"
	DefaultCurrency           = "USD"
)

type Meta struct {
	Version         int               `yaml:"version"`
	CurrencyDefault string            `yaml:"currency_default"`
	UnitDefaults    map[string]string `yaml:"unit_defaults,omitempty"`
}

type Role struct {
	ID          string   `yaml:"id" validate:"required"`
	Name        string   `yaml:"name" validate:"required"`
	PayType     PayType  `yaml:"pay_type" validate:"required,oneof=hourly salary"`
	DefaultUnit string   `yaml:"default_unit,omitempty"`
	SearchTerms []string `yaml:"search_terms,omitempty" validate:"dive,required"`
}

type Payband struct {
	Min      float64 `yaml:"min" validate:"gte=0"`
	Max      float64 `yaml:"max" validate:"gtefield=Min"`
	Currency string  `yaml:"currency,omitempty"`
	Unit     string  `yaml:"unit,omitempty"`
	PayType  PayType `yaml:"pay_type,omitempty" validate:"omitempty,oneof=hourly salary"`
}

type Center struct {
	Code     string             `yaml:"code" validate:"required"`
	Name     string             `yaml:"name" validate:"required"`
	Address1 string             `yaml:"address_1,omitempty"`
	Address2 string             `yaml:"address_2,omitempty"`
	City     string             `yaml:"city,omitempty"`
	State    string             `yaml:"state,omitempty"`
	ZipCode  string             `yaml:"zip_code" validate:"required"`
	Paybands map[string]Payband `yaml:"paybands,omitempty" validate:"dive"`
}

// FullAddress joins the street, city, state and zip parts that are present.
func (c Center) FullAddress() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{c.Address1, c.Address2, c.City} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if tail := strings.TrimSpace(strings.TrimSpace(c.State) + " " + strings.TrimSpace(c.ZipCode)); tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ", ")
}

// SearchLocation is the location string handed to the scraper.
func (c Center) SearchLocation() string {
	return c.ZipCode
}

func (c Center) Payband(roleID string) (Payband, bool) {
	p, ok := c.Paybands[roleID]
	return p, ok
}

type Market struct {
	Name     string             `yaml:"name" validate:"required"`
	Paybands map[string]Payband `yaml:"paybands" validate:"dive"`
	Centers  []Center           `yaml:"centers" validate:"dive"`
}

func (m Market) Payband(roleID string) (Payband, bool) {
	p, ok := m.Paybands[roleID]
	return p, ok
}

type Region struct {
	Name    string   `yaml:"name" validate:"required"`
	Markets []Market `yaml:"markets" validate:"dive"`
}

type SearchConfig struct {
	RadiusMiles        int           `yaml:"radius_miles" mapstructure:"radius_miles" validate:"gt=0"`
	ResultsPerLocation int           `yaml:"results_per_location" mapstructure:"results_per_location" validate:"gt=0"`
	BatchSize          int           `yaml:"batch_size" mapstructure:"batch_size" validate:"gt=0"`
	MaxRetries         int           `yaml:"max_retries" mapstructure:"max_retries" validate:"gt=0"`
	RetryBackoffBase   time.Duration `yaml:"retry_backoff_base" mapstructure:"retry_backoff_base" validate:"gte=0"`
	RetryMaxJitter     time.Duration `yaml:"retry_max_jitter" mapstructure:"retry_max_jitter" validate:"gte=0"`
	TaskDelay          time.Duration `yaml:"task_delay" mapstructure:"task_delay" validate:"gte=0"`
	BatchDelay         time.Duration `yaml:"batch_delay" mapstructure:"batch_delay" validate:"gte=0"`
	RandomizeOrder     bool          `yaml:"randomize_order" mapstructure:"randomize_order"`
	RequestsPerMinute  float64       `yaml:"requests_per_minute" mapstructure:"requests_per_minute" validate:"gte=0"`
	ScraperCommand     string        `yaml:"scraper_command" mapstructure:"scraper_command"`
}

type SafetyConfig struct {
	Cooldown  time.Duration `yaml:"cooldown" mapstructure:"cooldown" validate:"gte=0"`
	BaseDelay time.Duration `yaml:"base_delay" mapstructure:"base_delay" validate:"gte=0"`
}

type Config struct {
	Meta    Meta         `yaml:"meta"`
	Roles   []Role       `yaml:"roles" validate:"required,min=1,dive"`
	Search  SearchConfig `yaml:"search"`
	Safety  SafetyConfig `yaml:"safety"`
	Regions []Region     `yaml:"regions" validate:"required,min=1,dive"`

	// Path is the file the configuration was loaded from.
	Path string `yaml:"-"`
	// JobTitle is set when the file used the legacy single-title format.
	JobTitle string `yaml:"-"`
}

func (c *Config) IsLegacy() bool {
	return c.JobTitle != ""
}

func (c *Config) AllCenters() []Center {
	var out []Center
	for _, r := range c.Regions {
		for _, m := range r.Markets {
			out = append(out, m.Centers...)
		}
	}
	return out
}

func (c *Config) AllMarkets() []Market {
	var out []Market
	for _, r := range c.Regions {
		out = append(out, r.Markets...)
	}
	return out
}

func (c *Config) TotalLocations() int {
	return len(c.AllCenters())
}

func (c *Config) Role(id string) (Role, bool) {
	for _, r := range c.Roles {
		if r.ID == id {
			return r, true
		}
	}
	return Role{}, false
}

func (c *Config) RoleIDs() []string {
	ids := make([]string, 0, len(c.Roles))
	for _, r := range c.Roles {
		ids = append(ids, r.ID)
	}
	return ids
}

// normalize fills derived defaults the way a hand-written file would spell them out.
func (c *Config) normalize() {
	if c.Meta.Version == 0 {
		c.Meta.Version = 1
	}
	if c.Meta.CurrencyDefault == "" {
		c.Meta.CurrencyDefault = DefaultCurrency
	}
	if len(c.Meta.UnitDefaults) == 0 {
		c.Meta.UnitDefaults = map[string]string{
			string(PayHourly): c.Meta.CurrencyDefault + "/hour",
			string(PaySalary): c.Meta.CurrencyDefault + "/year",
		}
	}
	for i := range c.Roles {
		r := &c.Roles[i]
		if r.DefaultUnit == "" {
			r.DefaultUnit = c.Meta.UnitDefaults[string(r.PayType)]
		}
		if len(r.SearchTerms) == 0 && r.Name != "" {
			r.SearchTerms = []string{r.Name}
		}
	}
	for ri := range c.Regions {
		for mi := range c.Regions[ri].Markets {
			m := &c.Regions[ri].Markets[mi]
			c.normalizeBands(m.Paybands)
			for ci := range m.Centers {
				c.normalizeBands(m.Centers[ci].Paybands)
			}
		}
	}
}

func (c *Config) normalizeBands(bands map[string]Payband) {
	for id, p := range bands {
		if p.Currency == "" {
			p.Currency = c.Meta.CurrencyDefault
		}
		if p.PayType == "" {
			p.PayType = PayHourly
		}
		if p.Unit == "" {
			if p.PayType == PayHourly {
				p.Unit = p.Currency + "/hour"
			} else {
				p.Unit = p.Currency + "/year"
			}
		}
		bands[id] = p
	}
}
