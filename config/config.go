package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/lightspeed-whiteboard/globals"
)

const (
	defaultAdminUser       = "admin"
	defaultAddr            = "localhost:8000"
	defaultPersistenceType = "sqlite"
	defaultPersistenceDSN  = "lightspeed-whiteboard.db"
	defaultRoomCacheSize   = 512
	defaultRoomCacheTTL    = 30 * time.Second
	defaultMaxUsers        = 50
	defaultPresenceTTL     = 5 * time.Minute
	defaultClearPolicy     = "User.Id == Room.OwnerId"
	defaultRestorePolicy   = "User.Id == Room.OwnerId"
	envPrefix              = "LSWB"
)

// Config is the global configuration object which is filled via the configuration file(s), the command line flags
// and the environment.
type Config struct {
	ServerConfig      ServerConfig      `mapstructure:"server"`
	OIDCConfigs       []OIDCConfig      `mapstructure:"oidc"`
	JWTConfig         JWTConfig         `mapstructure:"jwt"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	RoomConfig        RoomConfig        `mapstructure:"room"`
	PresenceConfig    PresenceConfig    `mapstructure:"presence"`
	SnapshotConfig    SnapshotConfig    `mapstructure:"snapshot"`
	PolicyConfig      PolicyConfig      `mapstructure:"policy"`
	LogLevel          string            `mapstructure:"log_level"`
	AdminUser         string            `mapstructure:"admin_user"`
}

// ServerConfig configures the HTTP listener that serves the websocket and REST endpoints.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	SSLCert        string   `mapstructure:"ssl_cert"`
	SSLKey         string   `mapstructure:"ssl_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // empty: every origin is accepted
}

// An OIDCConfig  object configures an OpenID Connect provider that is used to authenticate users. Users provide
// an ID token and the name of the provider, the authentication is then performed via verification of the token.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"` // f.e. "https://accounts.google.com", this is used to construct the discovery url and subsequently discover the openid endpoints
}

// JWTConfig configures the verification of HS256 access tokens issued by an external identity service.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// PersistenceConfig selects the storage backend. Type is one of "sqlite", "postgres" or "buntdb", DSN is the
// connection string (or the file name for sqlite and buntdb).
type PersistenceConfig struct {
	Type      string `mapstructure:"type"`
	DSN       string `mapstructure:"dsn"`
	FlockPath string `mapstructure:"flock_path"`
}

// RoomConfig configures the room lookup cache and the defaults applied to rooms created without explicit values.
type RoomConfig struct {
	CacheSize       int           `mapstructure:"cache_size"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	DefaultMaxUsers int           `mapstructure:"default_max_users"`
}

// PresenceConfig configures the optional redis presence mirror. An empty RedisAddr disables the mirror.
type PresenceConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// SnapshotConfig configures the periodic snapshots of rooms with connected clients. An empty CronSpec disables them.
type SnapshotConfig struct {
	CronSpec string `mapstructure:"cron_spec"`
}

// PolicyConfig holds the expressions deciding whether a user may clear a room or restore a snapshot via the REST
// api. The expressions see Room, User and Action (see filter.Env).
type PolicyConfig struct {
	Clear   string `mapstructure:"clear"`
	Restore string `mapstructure:"restore"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.StringP("admin-user", "a", "", "id of the admin user")
	flagSet.String("log-level", "", "log level (trace, debug, info, warn, error)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

// setDefaults registers every scalar key, AutomaticEnv only considers keys viper already knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("admin_user", defaultAdminUser)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("server.addr", defaultAddr)
	v.SetDefault("server.ssl_cert", "")
	v.SetDefault("server.ssl_key", "")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("persistence.flock_path", "")
	v.SetDefault("presence.redis_addr", "")
	v.SetDefault("presence.redis_password", "")
	v.SetDefault("presence.redis_db", 0)
	v.SetDefault("snapshot.cron_spec", "")
	v.SetDefault("persistence.type", defaultPersistenceType)
	v.SetDefault("persistence.dsn", defaultPersistenceDSN)
	v.SetDefault("room.cache_size", defaultRoomCacheSize)
	v.SetDefault("room.cache_ttl", defaultRoomCacheTTL)
	v.SetDefault("room.default_max_users", defaultMaxUsers)
	v.SetDefault("presence.ttl", defaultPresenceTTL)
	v.SetDefault("policy.clear", defaultClearPolicy)
	v.SetDefault("policy.restore", defaultRestorePolicy)
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. A .env file in the
// working directory is loaded into the environment first, environment variables use the LSWB_ prefix
// (f.e. LSWB_PERSISTENCE_DSN). It returns a Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		globals.AppLogger.Warn("could not load .env file (ignored)", "error", err)
	}
	cfg := Config{}
	v := viper.New()
	setDefaults(v)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		err := v.BindPFlags(flagSet)
		if err != nil {
			globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		err = v.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			return nil, err
		}
	}
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}
	// flags bound with an empty default must not shadow the configured defaults
	if cfg.AdminUser == "" {
		cfg.AdminUser = defaultAdminUser
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}

	globals.AppLogger.Debug("config", "cfg", cfg)
	return &cfg, nil
}
