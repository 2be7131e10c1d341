// Package models defines data structures for configuration, fetched
// content, search results and conversation messages.
package models

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads from YAML strings such as "1h" or "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("failed to decode duration: %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type CacheConfig struct {
	Dir string   `yaml:"dir"`
	TTL Duration `yaml:"ttl"`
}

type FetchConfig struct {
	Timeout         Duration `yaml:"timeout"`
	RobotsTimeout   Duration `yaml:"robots_timeout"`
	RobotsCacheTTL  Duration `yaml:"robots_cache_ttl"`
	MaxRetries      int      `yaml:"max_retries"`
	RetryUnit       Duration `yaml:"retry_unit"`
	PolitenessDelay Duration `yaml:"politeness_delay"`
	UserAgents      []string `yaml:"user_agents"`
	RecordAccesses  bool     `yaml:"record_accesses"`
}

type ExtractConfig struct {
	MaxContentChars int `yaml:"max_content_chars"`
	MinBlockChars   int `yaml:"min_block_chars"`
}

type SearchConfig struct {
	Providers     []string `yaml:"providers"`
	MaxResults    int      `yaml:"max_results"`
	ArticleBudget int      `yaml:"article_budget"`
	MaxConcurrent int      `yaml:"max_concurrent"`
	MaxPerHost    int      `yaml:"max_per_host"`
	GoogleAPIKey  string   `yaml:"google_api_key"`
	GoogleCSEID   string   `yaml:"google_cse_id"`
	BraveAPIKey   string   `yaml:"brave_api_key"`
}

type LLMConfig struct {
	BaseURL       string   `yaml:"base_url"`
	APIKey        string   `yaml:"api_key"`
	Model         string   `yaml:"model"`
	Timeout       Duration `yaml:"timeout"`
	MaxTokens     int      `yaml:"max_tokens"`
	Temperature   float64  `yaml:"temperature"`
	TopP          float64  `yaml:"top_p"`
	TopK          int      `yaml:"top_k"`
	MinP          float64  `yaml:"min_p"`
	RepeatPenalty float64  `yaml:"repeat_penalty"`
}

type ClassifierConfig struct {
	SystemPrompt       string `yaml:"system_prompt"`
	MaxTokens          int    `yaml:"max_tokens"`
	OptimizerPrompt    string `yaml:"optimizer_prompt"`
	OptimizerMaxTokens int    `yaml:"optimizer_max_tokens"`
}

type ChatConfig struct {
	SystemPrompt string   `yaml:"system_prompt"`
	ChunkDelay   Duration `yaml:"chunk_delay"`
}

type MemoryConfig struct {
	Backend  string   `yaml:"backend"` // "sqlite" or "redis"
	RedisURL string   `yaml:"redis_url"`
	TTL      Duration `yaml:"ttl"`
	UserID   string   `yaml:"user_id"`
}

// Config holds runtime configuration for every component.
type Config struct {
	DBPath     string           `yaml:"db_path"`
	Cache      CacheConfig      `yaml:"cache"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Extract    ExtractConfig    `yaml:"extract"`
	Search     SearchConfig     `yaml:"search"`
	LLM        LLMConfig        `yaml:"llm"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Chat       ChatConfig       `yaml:"chat"`
	Memory     MemoryConfig     `yaml:"memory"`
}

const DefaultSystemPrompt = "You are a helpful AI assistant. Provide clear, concise, and accurate responses. Current date: {current_date}"

const DefaultClassifierPrompt = `You are a route classifier that determines if queries need current information from the web.
Respond with ONLY "WEB" or "GENERAL". Today's date is {current_date}.
Use "WEB" for queries about: current events, news, weather, sports scores, recent dates,
frequently changing information, latest versions, prices, updates, time-sensitive information,
real-time data, info after your training cutoff, current political figures, officeholders,
leaders, stock values, or sports teams/players/standings.
Use "GENERAL" for: historical facts, established knowledge, concepts, definitions,
explanations, math, science, theories, general advice, opinions, creative writing,
information that doesn't change frequently, or simple greetings.
Ensure your response is ONLY "WEB" or "GENERAL". Do not include any other text or thinking tags. /no_think`

const DefaultOptimizerPrompt = `You are an expert at reformulating user questions into highly effective search engine queries.
Convert the given user question into a concise and keyword-focused query that a search engine
like Google or DuckDuckGo can understand well. Remove any conversational fluff.
Return ONLY the optimized search query. /no_think`

// DefaultUserAgents is the pool of client identities rotated by the fetcher.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:138.0) Gecko/20100101 Firefox/138.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36 Edg/136.0.0.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36 OPR/120.0.0.0",
}

// DefaultConfig returns the configuration used when no file or env overrides exist.
func DefaultConfig() *Config {
	return &Config{
		DBPath: "llm-web-chat.db",
		Cache: CacheConfig{
			Dir: "web_cache",
			TTL: Duration(time.Hour),
		},
		Fetch: FetchConfig{
			Timeout:         Duration(10 * time.Second),
			RobotsTimeout:   Duration(5 * time.Second),
			RobotsCacheTTL:  Duration(time.Hour),
			MaxRetries:      3,
			RetryUnit:       Duration(time.Second),
			PolitenessDelay: Duration(500 * time.Millisecond),
			UserAgents:      append([]string(nil), DefaultUserAgents...),
			RecordAccesses:  true,
		},
		Extract: ExtractConfig{
			MaxContentChars: 10000,
			MinBlockChars:   25,
		},
		Search: SearchConfig{
			Providers:     []string{"google", "brave", "duckduckgo"},
			MaxResults:    5,
			ArticleBudget: 1500,
			MaxConcurrent: 10,
			MaxPerHost:    2,
		},
		LLM: LLMConfig{
			BaseURL:       "http://localhost:8080/v1",
			Model:         "qwen3-8b",
			Timeout:       Duration(5 * time.Minute),
			MaxTokens:     1024,
			Temperature:   0.7,
			TopP:          0.95,
			TopK:          40,
			MinP:          0.05,
			RepeatPenalty: 1.1,
		},
		Classifier: ClassifierConfig{
			SystemPrompt:       DefaultClassifierPrompt,
			MaxTokens:          30,
			OptimizerPrompt:    DefaultOptimizerPrompt,
			OptimizerMaxTokens: 50,
		},
		Chat: ChatConfig{
			SystemPrompt: DefaultSystemPrompt,
			ChunkDelay:   Duration(10 * time.Millisecond),
		},
		Memory: MemoryConfig{
			Backend:  "sqlite",
			RedisURL: "redis://localhost:6379/0",
			TTL:      Duration(24 * time.Hour),
			UserID:   "anonymous",
		},
	}
}

// LoadConfig builds a Config from defaults, an optional YAML file, a .env
// file in the working directory and the process environment, in that order.
// A missing file at path is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(os.Environ); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// envPaths maps environment variables to config keys. The names follow
// the ones the backend has always read, plus LWC_* for the rest.
var envPaths = map[string]string{
	"LWC_DB_PATH":                   "db_path",
	"LWC_CACHE_DIR":                 "cache.dir",
	"LWC_CACHE_TTL":                 "cache.ttl",
	"LWC_FETCH_TIMEOUT":             "fetch.timeout",
	"LWC_RECORD_ACCESSES":           "fetch.record_accesses",
	"LWC_MAX_CONTENT_CHARS":         "extract.max_content_chars",
	"LWC_SEARCH_PROVIDERS":          "search.providers",
	"LWC_MAX_SEARCH_RESULTS":        "search.max_results",
	"GOOGLE_API_KEY":                "search.google_api_key",
	"GOOGLE_CSE_ID":                 "search.google_cse_id",
	"BRAVE_API_KEY":                 "search.brave_api_key",
	"LLM_BASE_URL":                  "llm.base_url",
	"LLM_API_KEY":                   "llm.api_key",
	"LLM_MODEL":                     "llm.model",
	"MAX_TOKENS_GENERATION":         "llm.max_tokens",
	"TEMPERATURE":                   "llm.temperature",
	"TOP_P":                         "llm.top_p",
	"TOP_K":                         "llm.top_k",
	"MIN_P":                         "llm.min_p",
	"REPEAT_PENALTY":                "llm.repeat_penalty",
	"CLASSIFIER_SYSTEM_PROMPT":      "classifier.system_prompt",
	"CLASSIFIER_MAX_TOKENS":         "classifier.max_tokens",
	"QUERY_OPTIMIZER_SYSTEM_PROMPT": "classifier.optimizer_prompt",
	"OPTIMIZER_MAX_TOKENS":          "classifier.optimizer_max_tokens",
	"DEFAULT_SYSTEM_PROMPT":         "chat.system_prompt",
	"LWC_CHUNK_DELAY":               "chat.chunk_delay",
	"LWC_MEMORY_BACKEND":            "memory.backend",
	"REDIS_URL":                     "memory.redis_url",
	"REDIS_TTL":                     "memory.ttl",
	"LWC_USER_ID":                   "memory.user_id",
}

// listPaths are config keys holding comma-separated lists.
var listPaths = map[string]bool{
	"search.providers":  true,
	"fetch.user_agents": true,
}

// applyEnv overlays the variables named in envPaths on c. Unset and empty
// variables leave the current value alone.
func (c *Config) applyEnv(environ func() []string) error {
	k := koanf.New(".")
	err := k.Load(env.Provider(".", env.Opt{
		EnvironFunc: environ,
		TransformFunc: func(key, value string) (string, any) {
			path, ok := envPaths[key]
			if !ok || value == "" {
				return "", nil
			}
			if listPaths[path] {
				return path, splitList(value)
			}
			return path, value
		},
	}), nil)
	if err != nil {
		return fmt.Errorf("failed to load environment: %w", err)
	}

	err = k.UnmarshalWithConf("", c, koanf.UnmarshalConf{
		Tag: "yaml",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.TextUnmarshallerHookFunc(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to apply environment: %w", err)
	}
	return nil
}

// Validate reports settings that would make a component unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.Extract.MaxContentChars <= 0 {
		errs = append(errs, errors.New("extract.max_content_chars must be positive"))
	}
	if c.Search.MaxResults <= 0 {
		errs = append(errs, errors.New("search.max_results must be positive"))
	}
	if c.Search.MaxConcurrent <= 0 || c.Search.MaxPerHost <= 0 {
		errs = append(errs, errors.New("search concurrency caps must be positive"))
	}
	if c.Fetch.MaxRetries < 1 {
		errs = append(errs, errors.New("fetch.max_retries must be at least 1"))
	}
	if len(c.Fetch.UserAgents) == 0 {
		errs = append(errs, errors.New("fetch.user_agents must not be empty"))
	}
	switch c.Memory.Backend {
	case "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown memory backend %q", c.Memory.Backend))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
