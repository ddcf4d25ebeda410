package store

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendWeb    = "web"
	BackendMobile = "mobile"

	defaultPriceDecimals = 2
)

var aest = time.FixedZone("AEST", 10*60*60)

type Config struct {
	Backend string `yaml:"backend"`
	Web     struct {
		BaseURL   string `yaml:"base_url"`
		OrderForm struct {
			GoodForDay         *bool  `yaml:"good_for_day"`
			SponsoredSettle    *bool  `yaml:"sponsored_settlement"`
			// GoodUntil (YYYY-MM-DD, AEST) is required on the web backend when
			// good_for_day is false.
			GoodUntil          string `yaml:"good_until"`
			SecuritySearchYear int    `yaml:"security_search_year"`
			AdviserNotes       string `yaml:"adviser_notes"`
		} `yaml:"order_form"`
		RecentDays int `yaml:"recent_days"`
	} `yaml:"web"`
	Mobile struct {
		BaseURL        string `yaml:"base_url"`
		Origin         string `yaml:"origin"`
		DevicePlatform string `yaml:"device_platform"`
	} `yaml:"mobile"`
	Retry struct {
		MaxAttempts   int           `yaml:"max_attempts"`
		LoginAttempts int           `yaml:"login_attempts"`
		Pause         time.Duration `yaml:"pause"`
	} `yaml:"retry"`
	Order struct {
		// PriceDecimals is a pointer so an explicit 0 is kept.
		PriceDecimals *int32 `yaml:"price_decimals"`
	} `yaml:"order"`
	Transport struct {
		Timeout       time.Duration `yaml:"timeout"`
		RatePerSecond float64       `yaml:"rate_per_second"`
		Burst         int           `yaml:"burst"`
		UserAgent     string        `yaml:"user_agent"`
	} `yaml:"transport"`
	Quotes struct {
		Codes       []string `yaml:"codes"`
		PollSeconds int      `yaml:"poll_seconds"`
	} `yaml:"quotes"`
	SecretStore struct {
		Path   string `yaml:"path"`
		KeyEnv string `yaml:"key_env"`
	} `yaml:"secretstore"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	TradeLog struct {
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"tradelog"`
}

func (c *Config) Validate() error {
	if c.Backend != BackendWeb && c.Backend != BackendMobile {
		return fmt.Errorf("invalid backend '%s': must be '%s' or '%s'", c.Backend, BackendWeb, BackendMobile)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.LoginAttempts < 1 {
		return fmt.Errorf("retry.login_attempts must be at least 1, got %d", c.Retry.LoginAttempts)
	}
	if d := c.PriceDecimals(); d < 0 || d > 4 {
		return fmt.Errorf("order.price_decimals must be between 0-4, got %d", d)
	}
	if c.Backend == BackendWeb && !c.GoodForDay() {
		if _, err := c.GoodUntil(); err != nil {
			return fmt.Errorf("web.order_form.good_until: %w", err)
		}
	}
	if c.Transport.RatePerSecond < 0 {
		return errors.New("transport.rate_per_second cannot be negative")
	}
	if c.Backend == BackendWeb && c.Web.BaseURL == "" {
		return errors.New("web.base_url cannot be empty")
	}
	if c.Backend == BackendMobile && c.Mobile.BaseURL == "" {
		return errors.New("mobile.base_url cannot be empty")
	}
	return nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMobile
	}
	if c.Web.BaseURL == "" {
		c.Web.BaseURL = "https://www2.commsec.com.au"
	}
	if c.Web.RecentDays == 0 {
		c.Web.RecentDays = 30
	}
	if c.Mobile.BaseURL == "" {
		c.Mobile.BaseURL = "https://app.commsec.com.au/v5/services/service.svc/"
	}
	if c.Mobile.Origin == "" {
		c.Mobile.Origin = "https://app.commsec.com.au"
	}
	if c.Mobile.DevicePlatform == "" {
		c.Mobile.DevicePlatform = "go"
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.LoginAttempts == 0 {
		// A failed login must not be repeated: three bad attempts lock the account.
		c.Retry.LoginAttempts = 1
	}
	if c.Transport.Timeout == 0 {
		c.Transport.Timeout = 30 * time.Second
	}
	if c.Transport.RatePerSecond == 0 {
		c.Transport.RatePerSecond = 5
	}
	if c.Transport.Burst == 0 {
		c.Transport.Burst = 1
	}
	if c.Transport.UserAgent == "" {
		c.Transport.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	}
	if c.Quotes.PollSeconds == 0 {
		c.Quotes.PollSeconds = 2
	}
	if c.SecretStore.KeyEnv == "" {
		c.SecretStore.KeyEnv = "COMMSEC_STORE_KEY"
	}
	if c.TradeLog.Dir == "" {
		c.TradeLog.Dir = "logs"
	}
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

// GoodForDay reports whether orders expire at the end of the trading day.
func (c *Config) GoodForDay() bool {
	return c.Web.OrderForm.GoodForDay == nil || *c.Web.OrderForm.GoodForDay
}

// PriceDecimals is the precision limit prices are rounded to and sent with.
func (c *Config) PriceDecimals() int32 {
	if c.Order.PriceDecimals == nil {
		return defaultPriceDecimals
	}
	return *c.Order.PriceDecimals
}

// GoodUntil is the expiry date of web orders that are not good for the day,
// as midnight AEST.
func (c *Config) GoodUntil() (time.Time, error) {
	s := strings.TrimSpace(c.Web.OrderForm.GoodUntil)
	if s == "" {
		return time.Time{}, errors.New("required when good_for_day is false")
	}
	return time.ParseInLocation(time.DateOnly, s, aest)
}

// SponsoredSettlement reports whether buy orders settle into the sponsored
// (HIN) holding.
func (c *Config) SponsoredSettlement() bool {
	return c.Web.OrderForm.SponsoredSettle == nil || *c.Web.OrderForm.SponsoredSettle
}
