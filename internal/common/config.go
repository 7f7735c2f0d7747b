package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Browser   BrowserConfig  `toml:"browser"`
	Export    ExportConfig   `toml:"export"`
	Detail    DetailConfig   `toml:"detail"`
	Selectors SelectorConfig `toml:"selectors"`
	Output    OutputConfig   `toml:"output"`
	Storage   StorageConfig  `toml:"storage"`
	Server    ServerConfig   `toml:"server"`
	Logging   LoggingConfig  `toml:"logging"`
	Metrics   MetricsConfig  `toml:"metrics"`
	Schedule  ScheduleConfig `toml:"schedule"`
}

// Duration is a time.Duration that reads and writes as a Go duration string ("5s", "500ms")
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// BrowserConfig controls how the already-authenticated browser session is reached
type BrowserConfig struct {
	StartURL       string   `toml:"start_url"`       // Order list URL opened at startup (empty = use the current tab)
	RemoteURL      string   `toml:"remote_url"`      // DevTools websocket/HTTP URL of a running Chrome to attach to
	UserDataDir    string   `toml:"user_data_dir"`   // Chrome profile holding the logged-in session
	Headless       bool     `toml:"headless"`        // Run a launched browser headless
	NoSandbox      bool     `toml:"no_sandbox"`      // Needed when running as root in containers
	UserAgent      string   `toml:"user_agent"`      // Overrides the launched browser's user agent
	RequestTimeout Duration `toml:"request_timeout"` // Timeout for browser startup and page reads
}

// ExportConfig holds the pacing and traversal tunables of an export session
type ExportConfig struct {
	FirstPageDelay  Duration `toml:"first_page_delay"`  // Wait before parsing the first page
	PageSettleDelay Duration `toml:"page_settle_delay"` // Wait after each page navigation
	ScrollDelay     Duration `toml:"scroll_delay"`      // Wait at the bottom of the page for lazy content
	PreClickDelay   Duration `toml:"pre_click_delay"`   // Wait between scrolling to and clicking "next"
	Concurrency     int      `toml:"concurrency" validate:"min=1,max=16"`
	DetailDelayMin  Duration `toml:"detail_delay_min"` // Per-detail-fetch delay lower bound
	DetailDelayMax  Duration `toml:"detail_delay_max"` // Per-detail-fetch delay upper bound
	BatchSize       int      `toml:"batch_size" validate:"min=0"`
	BatchPause      Duration `toml:"batch_pause"`
	MaxRate         float64  `toml:"max_rate" validate:"min=0"`  // Optional cap on detail fetch starts per second
	MaxPages        int      `toml:"max_pages" validate:"min=0"` // Stop after this many pages (0 = all)
}

// DetailConfig controls order detail fetching
type DetailConfig struct {
	Enabled     bool     `toml:"enabled"`
	Timeout     Duration `toml:"timeout"`      // Per-order page load budget
	SettleDelay Duration `toml:"settle_delay"` // Wait after load for client-side rendering
}

// SelectorConfig maps page elements to CSS selectors
type SelectorConfig struct {
	OrderContainer string `toml:"order_container" validate:"required"`
	OrderTime      string `toml:"order_time"`
	OrderID        string `toml:"order_id" validate:"required"`
	ShopName       string `toml:"shop_name"`
	OrderStatus    string `toml:"order_status"`
	ActualFee      string `toml:"actual_fee"`
	ItemInfo       string `toml:"item_info" validate:"required"`
	ItemTitle      string `toml:"item_title"`
	ItemSpec       string `toml:"item_spec"`
	ItemPrice      string `toml:"item_price"`
	PriceBlock     string `toml:"price_block"`
	ListPriceClass string `toml:"list_price_class"` // Class fragment marking the struck-through list price
	ItemQuantity   string `toml:"item_quantity"`
	ItemImage      string `toml:"item_image"`
	DetailLink     string `toml:"detail_link"`
	NextPage       string `toml:"next_page" validate:"required"`

	DetailLogistics   string `toml:"detail_logistics"`
	DetailAddressItem string `toml:"detail_address_item"`
	DetailInfoRow     string `toml:"detail_info_row"`
	DetailInfoTitle   string `toml:"detail_info_title"`
	DetailInfoItem    string `toml:"detail_info_item"`
}

// OutputConfig controls the exported table file
type OutputConfig struct {
	Dir        string `toml:"dir" validate:"required"`
	Format     string `toml:"format" validate:"oneof=xlsx csv"`
	FilePrefix string `toml:"file_prefix"`
	SheetName  string `toml:"sheet_name"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Enabled        bool   `toml:"enabled"`
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=0,max=65535"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=debug info warn error"`
	Output []string `toml:"output"` // "stdout", "file"
	Dir    string   `toml:"dir"`    // Directory for file output
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// ScheduleConfig triggers exports on a cron schedule while serving
type ScheduleConfig struct {
	Cron string `toml:"cron"` // Empty disables scheduled exports
}

// NewDefaultConfig returns configuration with the pacing the source site tolerates
func NewDefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			StartURL:       "https://buyertrade.taobao.com/trade/itemlist/list_bought_items.htm",
			Headless:       false, // Visible by default - the session is usually a logged-in profile
			RequestTimeout: Duration(30 * time.Second),
		},
		Export: ExportConfig{
			FirstPageDelay:  Duration(time.Second),
			PageSettleDelay: Duration(5 * time.Second),
			ScrollDelay:     Duration(time.Second),
			PreClickDelay:   Duration(500 * time.Millisecond),
			Concurrency:     1,
			DetailDelayMin:  Duration(2 * time.Second),
			DetailDelayMax:  Duration(5 * time.Second),
			BatchSize:       5,
			BatchPause:      Duration(10 * time.Second),
		},
		Detail: DetailConfig{
			Enabled:     true,
			Timeout:     Duration(20 * time.Second),
			SettleDelay: Duration(1 * time.Second),
		},
		Selectors: DefaultSelectors(),
		Output: OutputConfig{
			Dir:        "./exports",
			Format:     "xlsx",
			FilePrefix: "淘宝订单导出",
			SheetName:  "订单数据",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Enabled: true,
				Path:    "./data",
			},
		},
		Server: ServerConfig{
			Port: 8086,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
			Dir:    "./logs",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// DefaultSelectors returns selectors for the "bought items" order list and order detail pages
func DefaultSelectors() SelectorConfig {
	return SelectorConfig{
		OrderContainer: "div[id^='shopOrderContainer_']",
		OrderTime:      "span[class*='shopInfoOrderTime']",
		OrderID:        "span[class*='shopInfoOrderId']",
		ShopName:       "a[class*='shopInfoName']",
		OrderStatus:    "span[class*='shopInfoStatus']",
		ActualFee:      "div[class*='priceReal--']",
		ItemInfo:       "div[class*='itemInfo--']",
		ItemTitle:      "a[class*='title--'] span[class*='titleText--']",
		ItemSpec:       "div[class*='infoContent--']",
		ItemPrice:      "div[class*='itemInfoColPrice--']",
		PriceBlock:     "div[class*='trade-price-container-block']",
		ListPriceClass: "underline",
		ItemQuantity:   "div[class*='quantity--']",
		ItemImage:      "a[class*='image--']",
		DetailLink:     "a[class*='shopInfoOrderDetail--']",
		NextPage:       "li.ant-pagination-next:not(.ant-pagination-disabled) button",

		DetailLogistics:   "div[class*='logisticsAddress--']",
		DetailAddressItem: "div[class*='addressItem--']",
		DetailInfoRow:     "div[class*='detailInfoContent--']",
		DetailInfoTitle:   "div[class*='detailInfoTitle--']",
		DetailInfoItem:    "[class*='detailInfoItem--']",
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Browser configuration
	if startURL := os.Getenv("ORDERFLOW_START_URL"); startURL != "" {
		config.Browser.StartURL = startURL
	}
	if remoteURL := os.Getenv("ORDERFLOW_REMOTE_URL"); remoteURL != "" {
		config.Browser.RemoteURL = remoteURL
	}
	if userDataDir := os.Getenv("ORDERFLOW_USER_DATA_DIR"); userDataDir != "" {
		config.Browser.UserDataDir = userDataDir
	}
	if headless := os.Getenv("ORDERFLOW_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}

	// Export configuration
	if concurrency := os.Getenv("ORDERFLOW_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Export.Concurrency = c
		}
	}
	if maxPages := os.Getenv("ORDERFLOW_MAX_PAGES"); maxPages != "" {
		if m, err := strconv.Atoi(maxPages); err == nil {
			config.Export.MaxPages = m
		}
	}
	if detail := os.Getenv("ORDERFLOW_DETAIL_ENABLED"); detail != "" {
		if d, err := strconv.ParseBool(detail); err == nil {
			config.Detail.Enabled = d
		}
	}

	// Output configuration
	if dir := os.Getenv("ORDERFLOW_OUTPUT_DIR"); dir != "" {
		config.Output.Dir = dir
	}
	if format := os.Getenv("ORDERFLOW_OUTPUT_FORMAT"); format != "" {
		config.Output.Format = strings.ToLower(format)
	}

	// Storage configuration
	if badgerPath := os.Getenv("ORDERFLOW_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Server configuration
	if port := os.Getenv("ORDERFLOW_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("ORDERFLOW_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Logging configuration
	if level := os.Getenv("ORDERFLOW_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("ORDERFLOW_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Schedule configuration
	if schedule := os.Getenv("ORDERFLOW_SCHEDULE"); schedule != "" {
		config.Schedule.Cron = schedule
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Export.DetailDelayMax < c.Export.DetailDelayMin {
		return fmt.Errorf("invalid configuration: export.detail_delay_max (%s) is below export.detail_delay_min (%s)",
			c.Export.DetailDelayMax.Std(), c.Export.DetailDelayMin.Std())
	}

	if c.Schedule.Cron != "" {
		if err := ValidateSchedule(c.Schedule.Cron); err != nil {
			return fmt.Errorf("invalid configuration: schedule.cron: %w", err)
		}
	}

	return nil
}

// ValidateSchedule validates a standard five-field cron expression
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	return nil
}
