// Package config loads the INI configuration file and initializes the
// process-wide logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/ini.v1"
)

// Config holds the full application configuration.
type Config struct {
	LLM      LLMConfig      `mapstructure:"llm"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	RSSHub   RSSHubConfig   `mapstructure:"rsshub"`
	XScraper XScraperConfig `mapstructure:"x_scraper"`
	Output   OutputConfig   `mapstructure:"output"`
	Log      LogConfig      `mapstructure:"log"`

	// Sources and EntityMapping come from the case-preserving sections
	// ([weixin_accounts], [x_accounts], [youtube_channels], [entity_mapping]).
	Sources       Sources
	EntityMapping map[string]string
}

// LLMConfig configures the chat-completion endpoint used by the organize stage.
type LLMConfig struct {
	APIKey                     string `mapstructure:"api_key"`
	BaseURL                    string `mapstructure:"base_url"`
	Model                      string `mapstructure:"model"`
	OptModel                   string `mapstructure:"opt_model"`
	MaxConcurrency             int    `mapstructure:"max_concurrency"`
	EnableSubtitleOptimization bool   `mapstructure:"enable_subtitle_optimization"`
	PromptTemplate             string `mapstructure:"prompt_template"`
}

// CrawlerConfig configures pipeline-wide behavior.
type CrawlerConfig struct {
	DaysLookback     int `mapstructure:"days_lookback"`
	OrganizeWorkers  int `mapstructure:"organize_workers"`
	EnrichWorkers    int `mapstructure:"enrich_workers"`
	FetchWorkers     int `mapstructure:"fetch_workers"`
	QueueSize        int `mapstructure:"queue_size"`
	XRequestDelayMin int `mapstructure:"x_request_delay_min"`
	XRequestDelayMax int `mapstructure:"x_request_delay_max"`
	FeedTimeoutSecs  int `mapstructure:"feed_timeout_secs"`
}

// RSSHubConfig holds the legacy RSS bridge base URL. Only consulted when the
// direct X client has no credentials.
type RSSHubConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// XScraperConfig configures the direct X GraphQL client.
type XScraperConfig struct {
	AuthCredentials         string `mapstructure:"auth_credentials"`
	EnvFile                 string `mapstructure:"env_file"`
	MaxTweetsPerUser        int    `mapstructure:"max_tweets_per_user"`
	RequestDelayMin         int    `mapstructure:"request_delay_min"`
	RequestDelayMax         int    `mapstructure:"request_delay_max"`
	UserSwitchDelayMin      int    `mapstructure:"user_switch_delay_min"`
	UserSwitchDelayMax      int    `mapstructure:"user_switch_delay_max"`
	RequestTimeout          int    `mapstructure:"request_timeout"`
	MaxRetries              int    `mapstructure:"max_retries"`
	IncludeRetweets         bool   `mapstructure:"include_retweets"`
	IncludeReplies          bool   `mapstructure:"include_replies"`
	CircuitBreakerThreshold int    `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerCooldown  int    `mapstructure:"circuit_breaker_cooldown"`
	QueryIDs                string `mapstructure:"query_ids"`
	Features                string `mapstructure:"features"`
}

// OutputConfig configures the batch output location.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Sources maps display names onto feed URLs, X handles and YouTube channel
// ids, keyed exactly as written in the config file.
type Sources struct {
	Weixin  map[string]string // name -> feed URL
	X       map[string]string // name -> handle (no @)
	YouTube map[string]string // name -> channel id
}

// Load reads configuration from the given INI file and the environment.
// Viper handles the fixed sections (env overrides via SCOUT_SECTION_KEY);
// the dynamic name->value sections are re-read with the ini parser because
// viper lowercases keys and the display names must keep their case.
func Load(path string) (*Config, error) {
	// auth_credentials values contain ';', which ini.v1 would otherwise
	// strip as an inline comment.
	v := viper.NewWithOptions(viper.IniLoadOptions(ini.LoadOptions{IgnoreInlineComment: true}))
	v.SetConfigFile(path)
	v.SetConfigType("ini")

	v.SetEnvPrefix("SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, eris.Wrap(err, "config: read file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	raw, err := ini.Load(path)
	if err != nil {
		return nil, eris.Wrap(err, "config: read dynamic sections")
	}
	cfg.Sources = Sources{
		Weixin:  sectionMap(raw, "weixin_accounts"),
		X:       sectionMap(raw, "x_accounts"),
		YouTube: sectionMap(raw, "youtube_channels"),
	}
	cfg.EntityMapping = sectionMap(raw, "entity_mapping")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("output.dir", "data")

	v.SetDefault("llm.max_concurrency", 10)

	v.SetDefault("crawler.days_lookback", 7)
	v.SetDefault("crawler.organize_workers", 5)
	v.SetDefault("crawler.enrich_workers", 5)
	v.SetDefault("crawler.fetch_workers", 5)
	v.SetDefault("crawler.queue_size", 1000)
	v.SetDefault("crawler.x_request_delay_min", 30)
	v.SetDefault("crawler.x_request_delay_max", 60)
	v.SetDefault("crawler.feed_timeout_secs", 30)

	v.SetDefault("rsshub.base_url", "http://127.0.0.1:1200")

	v.SetDefault("x_scraper.env_file", "rsshub-docker.env")
	v.SetDefault("x_scraper.max_tweets_per_user", 20)
	v.SetDefault("x_scraper.request_delay_min", 2)
	v.SetDefault("x_scraper.request_delay_max", 5)
	v.SetDefault("x_scraper.user_switch_delay_min", 30)
	v.SetDefault("x_scraper.user_switch_delay_max", 60)
	v.SetDefault("x_scraper.request_timeout", 30)
	v.SetDefault("x_scraper.max_retries", 3)
	v.SetDefault("x_scraper.include_retweets", false)
	v.SetDefault("x_scraper.include_replies", false)
	v.SetDefault("x_scraper.circuit_breaker_threshold", 5)
	v.SetDefault("x_scraper.circuit_breaker_cooldown", 60)
}

func sectionMap(f *ini.File, name string) map[string]string {
	out := map[string]string{}
	sec, err := f.GetSection(name)
	if err != nil {
		return out
	}
	for _, key := range sec.Keys() {
		val := strings.TrimSpace(key.Value())
		if val != "" {
			out[key.Name()] = val
		}
	}
	return out
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
