package commands

import (
	"strings"
	"time"

	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tryfix/log"
)

const envPrefix = `KENRICH`

// AppConfig is the file, env (KENRICH_*) and flag configuration of the binary.
type AppConfig struct {
	ApplicationId    string   `mapstructure:"application_id"`
	Topology         string   `mapstructure:"topology"`
	BootstrapServers []string `mapstructure:"bootstrap_servers"`
	LogLevel         string   `mapstructure:"log_level"`
	Topics           struct {
		AutoCreate bool  `mapstructure:"auto_create"`
		Partitions int32 `mapstructure:"partitions"`
		Replicas   int16 `mapstructure:"replicas"`
	} `mapstructure:"topics"`
	Window struct {
		Size      time.Duration `mapstructure:"size"`
		Retention time.Duration `mapstructure:"retention"`
	} `mapstructure:"window"`
	Processing struct {
		Shards         int           `mapstructure:"shards"`
		PollTimeout    time.Duration `mapstructure:"poll_timeout"`
		MaxPollRecords int           `mapstructure:"max_poll_records"`
		FlushTimeout   time.Duration `mapstructure:"flush_timeout"`
	} `mapstructure:"processing"`
	Table struct {
		Backend string `mapstructure:"backend"`
		Dir     string `mapstructure:"dir"`
	} `mapstructure:"table"`
	Http struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
	} `mapstructure:"http"`
	Metrics struct {
		Host string `mapstructure:"host"`
	} `mapstructure:"metrics"`
	Redis struct {
		Enabled bool          `mapstructure:"enabled"`
		Addrs   []string      `mapstructure:"addrs"`
		TTL     time.Duration `mapstructure:"ttl"`
		// Topics projected into redis. Empty projects the enriched topic
		Topics []string `mapstructure:"topics"`
		// KeyFormat is bare (record key) or topic (<topic>:<key>)
		KeyFormat string `mapstructure:"key_format"`
	} `mapstructure:"redis"`
}

var defaults = map[string]interface{}{
	`application_id`:              `kenrich`,
	`topology`:                    `user-events`,
	`bootstrap_servers`:           []string{`localhost:9092`},
	`log_level`:                   `info`,
	`topics.auto_create`:          true,
	`topics.partitions`:           3,
	`topics.replicas`:             1,
	`window.size`:                 time.Hour,
	`window.retention`:            time.Duration(0),
	`processing.shards`:           4,
	`processing.poll_timeout`:     500 * time.Millisecond,
	`processing.max_poll_records`: 500,
	`processing.flush_timeout`:    10 * time.Second,
	`table.backend`:               `memory`,
	`table.dir`:                   `storage`,
	`http.enabled`:                true,
	`http.host`:                   `:8080`,
	`metrics.host`:                `:9100`,
	`redis.enabled`:               false,
	`redis.addrs`:                 []string{`localhost:6379`},
	`redis.ttl`:                   time.Duration(0),
	`redis.topics`:                []string{},
	`redis.key_format`:            `bare`,
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))
	v.AutomaticEnv()

	return v
}

// loadConfig reads file (optional) and overlays env and the changed flags.
func loadConfig(v *viper.Viper, file string, flags *pflag.FlagSet, bindings map[string]string) (*AppConfig, error) {
	if file != `` {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, `cannot read config file %s`, file)
		}
	}

	for key, flag := range bindings {
		if f := flags.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errors.Wrapf(err, `cannot bind flag %s`, flag)
			}
		}
	}

	conf := new(AppConfig)
	if err := v.Unmarshal(conf); err != nil {
		return nil, errors.Wrap(err, `cannot decode config`)
	}

	if len(conf.BootstrapServers) == 1 && strings.Contains(conf.BootstrapServers[0], `,`) {
		conf.BootstrapServers = strings.Split(conf.BootstrapServers[0], `,`)
	}

	if _, ok := logLevels[strings.ToLower(conf.LogLevel)]; !ok {
		return nil, errors.Errorf(`unknown log level [%s]`, conf.LogLevel)
	}

	return conf, nil
}

var logLevels = map[string]log.Level{
	`trace`: log.TRACE,
	`debug`: log.DEBUG,
	`info`:  log.INFO,
	`warn`:  log.WARN,
	`error`: log.ERROR,
}

func (c *AppConfig) logger() log.Logger {
	return log.Constructor.Log(log.WithLevel(logLevels[strings.ToLower(c.LogLevel)])).
		NewLog(log.Prefixed(c.ApplicationId))
}
