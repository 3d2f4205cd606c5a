package redisstore

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"

	"github.com/remiges-tech/promexporter/metrics"
)

const (
	DefaultHostname         = "127.0.0.1"
	DefaultPort             = 6379
	DefaultKeyPrefix        = "flownative_prometheus"
	DefaultService          = "mymaster"
	DefaultDialTimeout      = 5 * time.Second
	DefaultOperationTimeout = 5 * time.Second
)

// Options configures the Redis connection of a Storage.
type Options struct {
	Hostname string `json:"hostname" yaml:"hostname" validate:"omitempty,hostname|ip"`
	Port     int    `json:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
	// Socket is the path of a unix socket. It takes precedence over Hostname and Port.
	Socket   string `json:"socket" yaml:"socket"`
	Password string `json:"password" yaml:"password"`
	Database int    `json:"database" yaml:"database" validate:"min=0"`

	// KeyPrefix namespaces all keys, so several logical registries can share
	// one Redis database.
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix"`

	// Sentinels are host:port addresses of Redis Sentinel instances. When set,
	// the master of Service is discovered through them.
	Sentinels []string `json:"sentinels" yaml:"sentinels" validate:"omitempty,dive,hostname_port"`
	Service   string   `json:"service" yaml:"service"`

	// IgnoreConnectionErrors makes Collect and Flush return empty results
	// instead of failing when Redis cannot be reached. Updates always fail.
	IgnoreConnectionErrors bool `json:"ignoreConnectionErrors" yaml:"ignoreConnectionErrors"`

	DialTimeout      time.Duration `json:"dialTimeout" yaml:"dialTimeout" validate:"min=0"`
	OperationTimeout time.Duration `json:"operationTimeout" yaml:"operationTimeout" validate:"min=0"`
}

var validate = validator.New()

// withDefaults returns a copy of o with empty fields set to their defaults.
func (o Options) withDefaults() Options {
	if o.Hostname == "" {
		o.Hostname = DefaultHostname
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = DefaultKeyPrefix
	}
	if o.Service == "" {
		o.Service = DefaultService
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.OperationTimeout == 0 {
		o.OperationTimeout = DefaultOperationTimeout
	}
	return o
}

// Validate checks the options after applying defaults.
func (o Options) Validate() error {
	if err := validate.Struct(o.withDefaults()); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace())
			}
		} else {
			fields = append(fields, err.Error())
		}
		return fmt.Errorf("%w: invalid redis storage options: %s", metrics.ErrInvalidConfiguration, strings.Join(fields, ", "))
	}
	return nil
}

// ParseSentinels splits a comma separated list of sentinel addresses.
func ParseSentinels(s string) []string {
	var sentinels []string
	for _, addr := range strings.Split(s, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			sentinels = append(sentinels, addr)
		}
	}
	return sentinels
}

// newClient builds the client for o: a failover client when sentinels are
// configured, a unix socket client when Socket is set and a TCP client
// otherwise.
func newClient(o Options) redis.UniversalClient {
	if len(o.Sentinels) > 0 {
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    o.Service,
			SentinelAddrs: o.Sentinels,
			Password:      o.Password,
			DB:            o.Database,
			DialTimeout:   o.DialTimeout,
		})
	}

	opts := &redis.Options{
		Network:     "tcp",
		Addr:        net.JoinHostPort(o.Hostname, strconv.Itoa(o.Port)),
		Password:    o.Password,
		DB:          o.Database,
		DialTimeout: o.DialTimeout,
	}
	if o.Socket != "" {
		opts.Network = "unix"
		opts.Addr = o.Socket
	}
	return redis.NewClient(opts)
}
