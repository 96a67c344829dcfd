package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths      PathsConfig      `mapstructure:"paths"`
	Runtime    RuntimeConfig    `mapstructure:"runtime"`
	Generation GenerationConfig `mapstructure:"generation"`
	Phonemizer PhonemizerConfig `mapstructure:"phonemizer"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Codec      CodecConfig      `mapstructure:"codec"`
	Server     ServerConfig     `mapstructure:"server"`
	Bus        BusConfig        `mapstructure:"bus"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Journal    JournalConfig    `mapstructure:"journal"`
	LogLevel   string           `mapstructure:"log_level"`
	LogFormat  string           `mapstructure:"log_format"`
}

// PathsConfig lists model and reference assets. Relative paths resolve
// against Root.
type PathsConfig struct {
	Root             string `mapstructure:"root"`
	LMModel          string `mapstructure:"lm_model"`
	LMTokenizer      string `mapstructure:"lm_tokenizer"`
	DecoderModel     string `mapstructure:"decoder_model"`
	PhonemizerModel  string `mapstructure:"phonemizer_model"`
	PhonemizerConfig string `mapstructure:"phonemizer_config"`
	PhonemizerDict   string `mapstructure:"phonemizer_dict"`
	RefCodes         string `mapstructure:"ref_codes"`
	RefTranscript    string `mapstructure:"ref_transcript"`
}

type RuntimeConfig struct {
	Threads        int    `mapstructure:"threads"`
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
	APIVersion     uint32 `mapstructure:"api_version"`
}

// GenerationConfig is passed through to the token sampler.
type GenerationConfig struct {
	Temperature   float64 `mapstructure:"temperature"`
	TopK          int     `mapstructure:"top_k"`
	TopP          float64 `mapstructure:"top_p"`
	MinP          float64 `mapstructure:"min_p"`
	RepeatPenalty float64 `mapstructure:"repeat_penalty"`
	RepeatLastN   int     `mapstructure:"repeat_last_n"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	Seed          uint64  `mapstructure:"seed"`
}

type PhonemizerConfig struct {
	Language  string `mapstructure:"language"`
	WatchDict bool   `mapstructure:"watch_dict"`
}

type StreamConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
	Overlap   int `mapstructure:"overlap"`
}

type CodecConfig struct {
	// HopLength is the number of PCM samples the decoder emits per code.
	HopLength int `mapstructure:"hop_length"`
}

type ServerConfig struct {
	ListenAddr      string  `mapstructure:"listen_addr"`
	Workers         int     `mapstructure:"workers"`
	MaxTextBytes    int     `mapstructure:"max_text_bytes"`
	RequestTimeout  int     `mapstructure:"request_timeout"`
	ShutdownTimeout int     `mapstructure:"shutdown_timeout"`
	RateLimit       float64 `mapstructure:"rate_limit"`
	RateBurst       int     `mapstructure:"rate_burst"`
}

type BusConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

type JournalConfig struct {
	Path string `mapstructure:"path"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			Root:             ".",
			LMModel:          "models/neutts-air/model.onnx",
			LMTokenizer:      "models/neutts-air/tokenizer.model",
			DecoderModel:     "models/neucodec/decoder.onnx",
			PhonemizerModel:  "models/phonemizer/model.onnx",
			PhonemizerConfig: "models/phonemizer/tokenizer.json",
			PhonemizerDict:   "",
			RefCodes:         "samples/reference_codes.json",
			RefTranscript:    "samples/reference.txt",
		},
		Runtime: RuntimeConfig{
			Threads:        4,
			ORTLibraryPath: "",
			ORTVersion:     "",
			APIVersion:     23,
		},
		Generation: GenerationConfig{
			Temperature:   1.0,
			TopK:          50,
			TopP:          0.95,
			MinP:          0.05,
			RepeatPenalty: 1.0,
			RepeatLastN:   64,
			MaxTokens:     2048,
			Seed:          0,
		},
		Phonemizer: PhonemizerConfig{
			Language:  "en_us",
			WatchDict: false,
		},
		Stream: StreamConfig{
			ChunkSize: 480,
			Overlap:   0,
		},
		Codec: CodecConfig{
			HopLength: 480,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         1,
			MaxTextBytes:    4096,
			RequestTimeout:  120,
			ShutdownTimeout: 30,
			RateLimit:       0,
			RateBurst:       4,
		},
		Bus: BusConfig{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "neutts",
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			ServiceName: "neutts",
		},
		Journal: JournalConfig{
			Path: "",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Validate reports configuration that can never produce a working pipeline.
func (c Config) Validate() error {
	var errs []error

	if c.Stream.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("stream.chunk_size must be >= 1, got %d", c.Stream.ChunkSize))
	}

	if c.Stream.Overlap < 0 || c.Stream.Overlap >= max(c.Stream.ChunkSize, 1) {
		errs = append(errs, fmt.Errorf("stream.overlap must be in [0, chunk_size), got %d", c.Stream.Overlap))
	}

	if c.Codec.HopLength < 1 {
		errs = append(errs, fmt.Errorf("codec.hop_length must be >= 1, got %d", c.Codec.HopLength))
	}

	if c.Generation.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("generation.max_tokens must be >= 1, got %d", c.Generation.MaxTokens))
	}

	if c.Runtime.Threads < 1 {
		errs = append(errs, fmt.Errorf("runtime.threads must be >= 1, got %d", c.Runtime.Threads))
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// flagKeys maps every command-line flag to its config key.
var flagKeys = map[string]string{
	"paths-root":             "paths.root",
	"lm-model":               "paths.lm_model",
	"lm-tokenizer":           "paths.lm_tokenizer",
	"decoder-model":          "paths.decoder_model",
	"phonemizer-model":       "paths.phonemizer_model",
	"phonemizer-config":      "paths.phonemizer_config",
	"phonemizer-dict":        "paths.phonemizer_dict",
	"ref-codes":              "paths.ref_codes",
	"ref-transcript":         "paths.ref_transcript",
	"runtime-threads":        "runtime.threads",
	"ort-lib":                "runtime.ort_library_path",
	"runtime-ort-version":    "runtime.ort_version",
	"temperature":            "generation.temperature",
	"top-k":                  "generation.top_k",
	"top-p":                  "generation.top_p",
	"min-p":                  "generation.min_p",
	"repeat-penalty":         "generation.repeat_penalty",
	"repeat-last-n":          "generation.repeat_last_n",
	"max-tokens":             "generation.max_tokens",
	"seed":                   "generation.seed",
	"language":               "phonemizer.language",
	"watch-dict":             "phonemizer.watch_dict",
	"chunk-size":             "stream.chunk_size",
	"overlap":                "stream.overlap",
	"hop-length":             "codec.hop_length",
	"server-listen-addr":     "server.listen_addr",
	"workers":                "server.workers",
	"max-text-bytes":         "server.max_text_bytes",
	"request-timeout":        "server.request_timeout",
	"shutdown-timeout":       "server.shutdown_timeout",
	"rate-limit":             "server.rate_limit",
	"rate-burst":             "server.rate_burst",
	"bus-enabled":            "bus.enabled",
	"bus-url":                "bus.url",
	"bus-subject-prefix":     "bus.subject_prefix",
	"telemetry-enabled":      "telemetry.enabled",
	"telemetry-service-name": "telemetry.service_name",
	"journal-path":           "journal.path",
	"log-level":              "log_level",
	"log-format":             "log_format",
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-root", defaults.Paths.Root, "Directory relative asset paths resolve against")
	fs.String("lm-model", defaults.Paths.LMModel, "Path to the speech language model (ONNX)")
	fs.String("lm-tokenizer", defaults.Paths.LMTokenizer, "Path to the language model SentencePiece tokenizer")
	fs.String("decoder-model", defaults.Paths.DecoderModel, "Path to the codec decoder model (ONNX)")
	fs.String("phonemizer-model", defaults.Paths.PhonemizerModel, "Path to the phonemizer model (ONNX)")
	fs.String("phonemizer-config", defaults.Paths.PhonemizerConfig, "Path to the phonemizer tokenizer config (JSON)")
	fs.String("phonemizer-dict", defaults.Paths.PhonemizerDict, "Optional pronunciation dictionary (JSON or YAML)")
	fs.String("ref-codes", defaults.Paths.RefCodes, "Reference voice codes (JSON integer array)")
	fs.String("ref-transcript", defaults.Paths.RefTranscript, "Transcript of the reference voice")
	fs.Int("runtime-threads", defaults.Runtime.Threads, "Maximum ONNX graphs executing at once")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.Float64("temperature", defaults.Generation.Temperature, "Sampling temperature (<= 0 is greedy)")
	fs.Int("top-k", defaults.Generation.TopK, "Top-k sampling cutoff (0 disables)")
	fs.Float64("top-p", defaults.Generation.TopP, "Nucleus sampling probability mass")
	fs.Float64("min-p", defaults.Generation.MinP, "Minimum probability relative to the best token")
	fs.Float64("repeat-penalty", defaults.Generation.RepeatPenalty, "Penalty for recently generated tokens (1 disables)")
	fs.Int("repeat-last-n", defaults.Generation.RepeatLastN, "Window of recent tokens the repeat penalty considers")
	fs.Int("max-tokens", defaults.Generation.MaxTokens, "Maximum number of generated speech tokens")
	fs.Uint64("seed", defaults.Generation.Seed, "Sampler seed (0 picks a random seed)")
	fs.String("language", defaults.Phonemizer.Language, "Phonemizer language tag")
	fs.Bool("watch-dict", defaults.Phonemizer.WatchDict, "Reload the pronunciation dictionary when it changes")
	fs.Int("chunk-size", defaults.Stream.ChunkSize, "Speech tokens per decode request")
	fs.Int("overlap", defaults.Stream.Overlap, "Lookback tokens repeated at the start of each decode request")
	fs.Int("hop-length", defaults.Codec.HopLength, "PCM samples produced per speech token")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("workers", defaults.Server.Workers, "Maximum concurrent synthesis requests")
	fs.Int("max-text-bytes", defaults.Server.MaxTextBytes, "Maximum request text size in bytes")
	fs.Int("request-timeout", defaults.Server.RequestTimeout, "Per-request synthesis timeout in seconds")
	fs.Int("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout in seconds")
	fs.Float64("rate-limit", defaults.Server.RateLimit, "Synthesis requests per second (0 disables)")
	fs.Int("rate-burst", defaults.Server.RateBurst, "Rate limiter burst size")
	fs.Bool("bus-enabled", defaults.Bus.Enabled, "Serve synthesis requests over NATS")
	fs.String("bus-url", defaults.Bus.URL, "NATS server URL")
	fs.String("bus-subject-prefix", defaults.Bus.SubjectPrefix, "NATS subject prefix")
	fs.Bool("telemetry-enabled", defaults.Telemetry.Enabled, "Export pipeline metrics")
	fs.String("telemetry-service-name", defaults.Telemetry.ServiceName, "Service name reported with metrics and traces")
	fs.String("journal-path", defaults.Journal.Path, "SQLite utterance journal (empty disables)")
	fs.String("log-level", defaults.LogLevel, "Log level: debug|info|warn|error")
	fs.String("log-format", defaults.LogFormat, "Log format: text|json")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("NEUTTS")
	replacer := strings.NewReplacer("-", "_", ".", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "NEUTTS_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("neutts")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// bindFlags ties each registered flag to its config key. Flags that were not
// set on the command line fall through to env, file and defaults.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}

		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}

	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.root", c.Paths.Root)
	v.SetDefault("paths.lm_model", c.Paths.LMModel)
	v.SetDefault("paths.lm_tokenizer", c.Paths.LMTokenizer)
	v.SetDefault("paths.decoder_model", c.Paths.DecoderModel)
	v.SetDefault("paths.phonemizer_model", c.Paths.PhonemizerModel)
	v.SetDefault("paths.phonemizer_config", c.Paths.PhonemizerConfig)
	v.SetDefault("paths.phonemizer_dict", c.Paths.PhonemizerDict)
	v.SetDefault("paths.ref_codes", c.Paths.RefCodes)
	v.SetDefault("paths.ref_transcript", c.Paths.RefTranscript)
	v.SetDefault("runtime.threads", c.Runtime.Threads)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("runtime.api_version", c.Runtime.APIVersion)
	v.SetDefault("generation.temperature", c.Generation.Temperature)
	v.SetDefault("generation.top_k", c.Generation.TopK)
	v.SetDefault("generation.top_p", c.Generation.TopP)
	v.SetDefault("generation.min_p", c.Generation.MinP)
	v.SetDefault("generation.repeat_penalty", c.Generation.RepeatPenalty)
	v.SetDefault("generation.repeat_last_n", c.Generation.RepeatLastN)
	v.SetDefault("generation.max_tokens", c.Generation.MaxTokens)
	v.SetDefault("generation.seed", c.Generation.Seed)
	v.SetDefault("phonemizer.language", c.Phonemizer.Language)
	v.SetDefault("phonemizer.watch_dict", c.Phonemizer.WatchDict)
	v.SetDefault("stream.chunk_size", c.Stream.ChunkSize)
	v.SetDefault("stream.overlap", c.Stream.Overlap)
	v.SetDefault("codec.hop_length", c.Codec.HopLength)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.rate_limit", c.Server.RateLimit)
	v.SetDefault("server.rate_burst", c.Server.RateBurst)
	v.SetDefault("bus.enabled", c.Bus.Enabled)
	v.SetDefault("bus.url", c.Bus.URL)
	v.SetDefault("bus.subject_prefix", c.Bus.SubjectPrefix)
	v.SetDefault("telemetry.enabled", c.Telemetry.Enabled)
	v.SetDefault("telemetry.service_name", c.Telemetry.ServiceName)
	v.SetDefault("journal.path", c.Journal.Path)
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("log_format", c.LogFormat)
}
