package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gridwise/sheetctx/internal/grid"
)

// Config holds the full application configuration.
type Config struct {
	Build     BuildConfig     `yaml:"build" mapstructure:"build"`
	Retrieval RetrievalConfig `yaml:"retrieval" mapstructure:"retrieval"`
	Schema    SchemaConfig    `yaml:"schema" mapstructure:"schema"`
	DLP       grid.Policy     `yaml:"dlp" mapstructure:"dlp"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// BuildConfig configures the context builder.
type BuildConfig struct {
	Mode               string `yaml:"mode" mapstructure:"mode"`
	Model              string `yaml:"model" mapstructure:"model"`
	MaxSummarySheets   int    `yaml:"max_summary_sheets" mapstructure:"max_summary_sheets"`
	SchemaSampleRows   int    `yaml:"schema_sample_rows" mapstructure:"schema_sample_rows"`
	SchemaSampleCols   int    `yaml:"schema_sample_cols" mapstructure:"schema_sample_cols"`
	MaxBlockRows       int    `yaml:"max_block_rows" mapstructure:"max_block_rows"`
	MaxBlockCols       int    `yaml:"max_block_cols" mapstructure:"max_block_cols"`
	MaxBlockCells      int    `yaml:"max_block_cells" mapstructure:"max_block_cells"`
	MaxRetrievedChunks int    `yaml:"max_retrieved_chunks" mapstructure:"max_retrieved_chunks"`
}

// RetrievalConfig configures the lexical index.
type RetrievalConfig struct {
	Enabled      bool `yaml:"enabled" mapstructure:"enabled"`
	RowsPerChunk int  `yaml:"rows_per_chunk" mapstructure:"rows_per_chunk"`
	MaxCols      int  `yaml:"max_cols" mapstructure:"max_cols"`
}

// SchemaConfig supplies explicit named ranges and tables for workbooks
// whose file format carries none.
type SchemaConfig struct {
	NamedRanges []grid.NamedRangeDef `yaml:"named_ranges" mapstructure:"named_ranges"`
	Tables      []grid.TableDefSpec  `yaml:"tables" mapstructure:"tables"`
}

// StoreConfig configures the build log database.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// AnthropicConfig holds API-backed token counting settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// ServerConfig configures the HTTP context service.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// BatchConfig configures concurrent multi-workbook builds.
type BatchConfig struct {
	MaxConcurrentWorkbooks int `yaml:"max_concurrent_workbooks" mapstructure:"max_concurrent_workbooks"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml and SHEETCTX_* environment
// variables, with sane defaults for everything.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SHEETCTX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("build.mode", "chat")
	v.SetDefault("build.model", "claude-sonnet-4-5")
	v.SetDefault("build.max_summary_sheets", 10)
	v.SetDefault("build.schema_sample_rows", 100)
	v.SetDefault("build.schema_sample_cols", 30)
	v.SetDefault("build.max_block_rows", 20)
	v.SetDefault("build.max_block_cols", 12)
	v.SetDefault("build.max_block_cells", 5000)
	v.SetDefault("build.max_retrieved_chunks", 6)
	v.SetDefault("retrieval.enabled", true)
	v.SetDefault("retrieval.rows_per_chunk", 8)
	v.SetDefault("retrieval.max_cols", 30)
	v.SetDefault("store.path", "sheetctx.db")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.max_concurrent_workbooks", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
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
