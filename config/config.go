// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"math"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// Restrictions are the dietary restrictions known to the engine. An item
// satisfies a restriction when its dietary flags contain the same name.
var Restrictions = []string{"vegetarian", "vegan", "gluten_free", "dairy_free", "nut_free", "halal", "kosher"}

// Config is the configuration for the recommendation engine.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Artifact  ArtifactConfig  `mapstructure:"artifact"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	Server    ServerConfig    `mapstructure:"server"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// DatabaseConfig is the configuration for the persistence collaborator.
type DatabaseConfig struct {
	DataStore       string        `mapstructure:"data_store" validate:"required,data_store"`
	TablePrefix     string        `mapstructure:"table_prefix"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// ArtifactConfig locates the offline model artifact.
type ArtifactConfig struct {
	Storage    string          `mapstructure:"storage" validate:"oneof=posix s3 gcs azure"`
	Dir        string          `mapstructure:"dir"`
	Name       string          `mapstructure:"name" validate:"required"`
	RetryTimes int             `mapstructure:"retry_times" validate:"gte=1"`
	S3         S3Config        `mapstructure:"s3"`
	GCS        GCSConfig       `mapstructure:"gcs"`
	Azure      AzureBlobConfig `mapstructure:"azure"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type AzureBlobConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	Endpoint         string `mapstructure:"endpoint"`
	Container        string `mapstructure:"container"`
	Prefix           string `mapstructure:"prefix"`
}

type RecommendConfig struct {
	CacheSize  int              `mapstructure:"cache_size" validate:"gt=0"`
	NumJobs    int              `mapstructure:"num_jobs" validate:"gte=1"`
	Hybrid     HybridConfig     `mapstructure:"hybrid"`
	Similarity SimilarityConfig `mapstructure:"similarity"`
	Content    ContentConfig    `mapstructure:"content"`
	Cache      CacheConfig      `mapstructure:"cache"`
}

// HybridConfig weighs the collaborative signal against the content signal.
type HybridConfig struct {
	MLWeight      float64 `mapstructure:"ml_weight" validate:"gte=0,lte=1"`
	ContentWeight float64 `mapstructure:"content_weight" validate:"gte=0,lte=1"`
}

type SimilarityConfig struct {
	TopK int `mapstructure:"top_k" validate:"gt=0"`
}

type ContentConfig struct {
	MacroWeight         float64  `mapstructure:"macro_weight" validate:"gte=0,lte=1"`
	VarietyWeight       float64  `mapstructure:"variety_weight" validate:"gte=0,lte=1"`
	PreferenceWeight    float64  `mapstructure:"preference_weight" validate:"gte=0,lte=1"`
	SoftPenalty         float64  `mapstructure:"soft_penalty" validate:"gte=0,lte=1"`
	MealShare           float64  `mapstructure:"meal_share" validate:"gt=0,lte=1"`
	ProteinShare        float64  `mapstructure:"protein_share" validate:"gt=0,lte=1"`
	CuisineBonus        float64  `mapstructure:"cuisine_bonus" validate:"gte=0"`
	IngredientBonus     float64  `mapstructure:"ingredient_bonus" validate:"gte=0"`
	CategoryBonus       float64  `mapstructure:"category_bonus" validate:"gte=0"`
	ProteinDensityBonus float64  `mapstructure:"protein_density_bonus" validate:"gte=0"`
	ProteinDensity      float64  `mapstructure:"protein_density" validate:"gte=0"`
	HardConstraints     []string `mapstructure:"hard_constraints" validate:"unique,dive,restriction"`
	Filters             []string `mapstructure:"filters"`
}

type CacheConfig struct {
	PersonalizedTTL time.Duration `mapstructure:"personalized_ttl" validate:"gt=0"`
	PopularTTL      time.Duration `mapstructure:"popular_ttl" validate:"gt=0"`
	Capacity        int           `mapstructure:"capacity" validate:"gt=0"`
}

type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	APIKey    string `mapstructure:"api_key"`
	DefaultN  int    `mapstructure:"default_n" validate:"gt=0"`
	RateLimit int    `mapstructure:"rate_limit" validate:"gte=0"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataStore: "sqlite://mealrec.db",
		},
		Artifact: ArtifactConfig{
			Storage:    "posix",
			Dir:        "models",
			Name:       "interactions.json",
			RetryTimes: 3,
		},
		Recommend: RecommendConfig{
			CacheSize: 100,
			NumJobs:   1,
			Hybrid: HybridConfig{
				MLWeight:      0.6,
				ContentWeight: 0.4,
			},
			Similarity: SimilarityConfig{
				TopK: 50,
			},
			Content: ContentConfig{
				MacroWeight:         0.5,
				VarietyWeight:       0.1,
				PreferenceWeight:    0.3,
				SoftPenalty:         0.5,
				MealShare:           0.3,
				ProteinShare:        0.4,
				CuisineBonus:        0.2,
				IngredientBonus:     0.1,
				CategoryBonus:       0.2,
				ProteinDensityBonus: 0.1,
				ProteinDensity:      0.1,
				HardConstraints:     append([]string(nil), Restrictions...),
				Filters:             []string{},
			},
			Cache: CacheConfig{
				PersonalizedTTL: 30 * time.Minute,
				PopularTTL:      60 * time.Minute,
				Capacity:        10000,
			},
		},
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8087,
			DefaultN: 10,
		},
		Tracing: TracingConfig{
			Exporter: "zipkin",
			Sampler:  "always",
			Ratio:    1,
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [database]
	v.SetDefault("database.data_store", defaultConfig.Database.DataStore)
	v.SetDefault("database.table_prefix", defaultConfig.Database.TablePrefix)
	v.SetDefault("database.max_open_conns", defaultConfig.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultConfig.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", defaultConfig.Database.ConnMaxLifetime)
	// [artifact]
	v.SetDefault("artifact.storage", defaultConfig.Artifact.Storage)
	v.SetDefault("artifact.dir", defaultConfig.Artifact.Dir)
	v.SetDefault("artifact.name", defaultConfig.Artifact.Name)
	v.SetDefault("artifact.retry_times", defaultConfig.Artifact.RetryTimes)
	v.SetDefault("artifact.s3.endpoint", "")
	v.SetDefault("artifact.s3.access_key_id", "")
	v.SetDefault("artifact.s3.secret_access_key", "")
	v.SetDefault("artifact.s3.bucket", "")
	v.SetDefault("artifact.s3.prefix", "")
	v.SetDefault("artifact.s3.use_ssl", false)
	v.SetDefault("artifact.gcs.bucket", "")
	v.SetDefault("artifact.gcs.prefix", "")
	v.SetDefault("artifact.gcs.credentials_file", "")
	v.SetDefault("artifact.azure.connection_string", "")
	v.SetDefault("artifact.azure.account_name", "")
	v.SetDefault("artifact.azure.account_key", "")
	v.SetDefault("artifact.azure.endpoint", "")
	v.SetDefault("artifact.azure.container", "")
	v.SetDefault("artifact.azure.prefix", "")
	// [recommend]
	v.SetDefault("recommend.cache_size", defaultConfig.Recommend.CacheSize)
	v.SetDefault("recommend.num_jobs", defaultConfig.Recommend.NumJobs)
	// [recommend.hybrid]
	v.SetDefault("recommend.hybrid.ml_weight", defaultConfig.Recommend.Hybrid.MLWeight)
	v.SetDefault("recommend.hybrid.content_weight", defaultConfig.Recommend.Hybrid.ContentWeight)
	// [recommend.similarity]
	v.SetDefault("recommend.similarity.top_k", defaultConfig.Recommend.Similarity.TopK)
	// [recommend.content]
	v.SetDefault("recommend.content.macro_weight", defaultConfig.Recommend.Content.MacroWeight)
	v.SetDefault("recommend.content.variety_weight", defaultConfig.Recommend.Content.VarietyWeight)
	v.SetDefault("recommend.content.preference_weight", defaultConfig.Recommend.Content.PreferenceWeight)
	v.SetDefault("recommend.content.soft_penalty", defaultConfig.Recommend.Content.SoftPenalty)
	v.SetDefault("recommend.content.meal_share", defaultConfig.Recommend.Content.MealShare)
	v.SetDefault("recommend.content.protein_share", defaultConfig.Recommend.Content.ProteinShare)
	v.SetDefault("recommend.content.cuisine_bonus", defaultConfig.Recommend.Content.CuisineBonus)
	v.SetDefault("recommend.content.ingredient_bonus", defaultConfig.Recommend.Content.IngredientBonus)
	v.SetDefault("recommend.content.category_bonus", defaultConfig.Recommend.Content.CategoryBonus)
	v.SetDefault("recommend.content.protein_density_bonus", defaultConfig.Recommend.Content.ProteinDensityBonus)
	v.SetDefault("recommend.content.protein_density", defaultConfig.Recommend.Content.ProteinDensity)
	v.SetDefault("recommend.content.hard_constraints", defaultConfig.Recommend.Content.HardConstraints)
	v.SetDefault("recommend.content.filters", defaultConfig.Recommend.Content.Filters)
	// [recommend.cache]
	v.SetDefault("recommend.cache.personalized_ttl", defaultConfig.Recommend.Cache.PersonalizedTTL)
	v.SetDefault("recommend.cache.popular_ttl", defaultConfig.Recommend.Cache.PopularTTL)
	v.SetDefault("recommend.cache.capacity", defaultConfig.Recommend.Cache.Capacity)
	// [server]
	v.SetDefault("server.host", defaultConfig.Server.Host)
	v.SetDefault("server.port", defaultConfig.Server.Port)
	v.SetDefault("server.api_key", defaultConfig.Server.APIKey)
	v.SetDefault("server.default_n", defaultConfig.Server.DefaultN)
	v.SetDefault("server.rate_limit", defaultConfig.Server.RateLimit)
	// [tracing]
	v.SetDefault("tracing.enable_tracing", defaultConfig.Tracing.EnableTracing)
	v.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	v.SetDefault("tracing.collector_endpoint", defaultConfig.Tracing.CollectorEndpoint)
	v.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	v.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
}

type environmentVariable struct {
	key string
	env string
}

// Short aliases for the variables operators set most often. Every key can also
// be overridden by its full name, e.g. MEALREC_RECOMMEND_CACHE_SIZE.
var aliases = []environmentVariable{
	{"database.data_store", "MEALREC_DATA_STORE"},
	{"database.table_prefix", "MEALREC_TABLE_PREFIX"},
	{"artifact.s3.access_key_id", "S3_ACCESS_KEY_ID"},
	{"artifact.s3.secret_access_key", "S3_SECRET_ACCESS_KEY"},
	{"artifact.azure.connection_string", "AZURE_STORAGE_CONNECTION_STRING"},
	{"server.api_key", "MEALREC_API_KEY"},
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("MEALREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, alias := range aliases {
		// BindEnv replaces the automatic name, so keep both.
		envName := "MEALREC_" + strings.ToUpper(strings.ReplaceAll(alias.key, ".", "_"))
		if err := v.BindEnv(alias.key, envName, alias.env); err != nil {
			panic(err)
		}
	}
}

func decode(v *viper.Viper) (*Config, error) {
	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if conf.Recommend.Content.Filters == nil {
		conf.Recommend.Content.Filters = []string{}
	}
	return &conf, nil
}

// LoadConfig loads configuration from a TOML file. Environment variables take
// precedence over the file, and missing keys fall back to defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	bindEnv(v)
	v.SetConfigType("toml")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Annotatef(err, "failed to read config file %s", path)
	}
	conf, err := decode(v)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return conf, nil
}

const weightTolerance = 1e-6

// Validate checks field tags and the rules that span several fields.
func (config *Config) Validate() error {
	if err := validate.Struct(config); err != nil {
		return errors.Trace(err)
	}
	hybrid := config.Recommend.Hybrid
	if math.Abs(hybrid.MLWeight+hybrid.ContentWeight-1) > weightTolerance {
		return errors.NotValidf("hybrid weights %v + %v != 1", hybrid.MLWeight, hybrid.ContentWeight)
	}
	content := config.Recommend.Content
	if content.MacroWeight+content.VarietyWeight+content.PreferenceWeight > 1+weightTolerance {
		return errors.NotValidf("content weights %v + %v + %v > 1",
			content.MacroWeight, content.VarietyWeight, content.PreferenceWeight)
	}
	return nil
}
