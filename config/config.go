package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mediacache/mediacache/cache"
	"github.com/mediacache/mediacache/cache/azblobproxy"
	"github.com/mediacache/mediacache/cache/s3proxy"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	yaml "gopkg.in/yaml.v3"
)

// GoogleCloudStorageConfig stores the configuration of a GCS proxy backend.
type GoogleCloudStorageConfig struct {
	Bucket                string `yaml:"bucket"`
	UseDefaultCredentials bool   `yaml:"use_default_credentials"`
	JSONCredentialsFile   string `yaml:"json_credentials_file"`
}

// HTTPBackendConfig stores the configuration for a HTTP proxy backend.
type HTTPBackendConfig struct {
	BaseURL  string `yaml:"url"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CaFile   string `yaml:"ca_file"`
}

// GRPCBackendConfig stores the configuration for a proxy backend that
// is another mediacache instance, reached over gRPC.
type GRPCBackendConfig struct {
	BaseURL  string `yaml:"url"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CaFile   string `yaml:"ca_file"`
}

// LDAPConfig stores the configuration for LDAP authentication.
type LDAPConfig struct {
	URL               string        `yaml:"url"`
	BaseDN            string        `yaml:"base_dn"`
	BindUser          string        `yaml:"bind_user"`
	BindPassword      string        `yaml:"bind_password"`
	UsernameAttribute string        `yaml:"username_attribute"`
	Groups            []string      `yaml:"groups,flow"`
	CacheTime         time.Duration `yaml:"cache_time"`
}

// FetchConfig controls filling cache misses from the origin.
type FetchConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Timeout      time.Duration `yaml:"timeout"`
	ClientHeader string        `yaml:"client_header"`
	ClientID     string        `yaml:"client_id"`
}

// Config holds the top-level configuration for mediacache.
type Config struct {
	HTTPAddress               string                    `yaml:"http_address"`
	GRPCAddress               string                    `yaml:"grpc_address"`
	ProfileAddress            string                    `yaml:"profile_address"`
	Dir                       string                    `yaml:"dir"`
	MaxSegmentSize            string                    `yaml:"max_segment_size"`
	StorageMode               string                    `yaml:"storage_mode"`
	HtpasswdFile              string                    `yaml:"htpasswd_file"`
	TLSCaFile                 string                    `yaml:"tls_ca_file"`
	TLSCertFile               string                    `yaml:"tls_cert_file"`
	TLSKeyFile                string                    `yaml:"tls_key_file"`
	AllowUnauthenticatedReads bool                      `yaml:"allow_unauthenticated_reads"`
	S3CloudStorage            *S3CloudStorageConfig     `yaml:"s3_proxy,omitempty"`
	GoogleCloudStorage        *GoogleCloudStorageConfig `yaml:"gcs_proxy,omitempty"`
	HTTPBackend               *HTTPBackendConfig        `yaml:"http_proxy,omitempty"`
	AzBlobConfig              *AzBlobStorageConfig      `yaml:"azblob_proxy,omitempty"`
	GRPCBackend               *GRPCBackendConfig        `yaml:"grpc_proxy,omitempty"`
	LDAP                      *LDAPConfig               `yaml:"ldap,omitempty"`
	Fetch                     FetchConfig               `yaml:"fetch"`
	NumUploaders              int                       `yaml:"num_uploaders"`
	MaxQueuedUploads          int                       `yaml:"max_queued_uploads"`
	IdleTimeout               time.Duration             `yaml:"idle_timeout"`
	ProxyTimeout              time.Duration             `yaml:"proxy_timeout"`
	EnableEndpointMetrics     bool                      `yaml:"enable_endpoint_metrics"`
	MetricsDurationBuckets    []float64                 `yaml:"endpoint_metrics_duration_buckets"`
	HTTPReadTimeout           time.Duration             `yaml:"http_read_timeout"`
	HTTPWriteTimeout          time.Duration             `yaml:"http_write_timeout"`
	AccessLogLevel            string                    `yaml:"access_log_level"`
	LogTimezone               string                    `yaml:"log_timezone"`
	MaxBlobSize               int64                     `yaml:"max_blob_size"`

	// Fields that are created by combinations of the flags above.
	MaxSegmentBytes int64       `yaml:"-"`
	ProxyBackend    cache.Proxy `yaml:"-"`
	TLSConfig       *tls.Config `yaml:"-"`
	AccessLogger    *log.Logger `yaml:"-"`
	ErrorLogger     *log.Logger `yaml:"-"`
}

// DisabledListener turns off an optional listener.
const DisabledListener = "none"

var defaultDurationBuckets = []float64{.5, 1, 2.5, 5, 10, 20, 40, 80, 160, 320}

const (
	defaultHTTPAddress      = ":8080"
	defaultNumUploaders     = 100
	defaultMaxQueuedUploads = 1000000
	defaultProxyTimeout     = 5 * time.Second
	defaultFetchTimeout     = 10 * time.Second
	defaultClientHeader     = "X-Client-Id"
	defaultClientID         = "mediacache"
	defaultLDAPCacheTime    = time.Hour
)

func defaultConfig() Config {
	return Config{
		HTTPAddress:            defaultHTTPAddress,
		StorageMode:            "uncompressed",
		NumUploaders:           defaultNumUploaders,
		MaxQueuedUploads:       defaultMaxQueuedUploads,
		ProxyTimeout:           defaultProxyTimeout,
		MetricsDurationBuckets: defaultDurationBuckets,
		AccessLogLevel:         "all",
		LogTimezone:            "UTC",
		Fetch: FetchConfig{
			Timeout:      defaultFetchTimeout,
			ClientHeader: defaultClientHeader,
			ClientID:     defaultClientID,
		},
	}
}

// newFromYamlFile reads configuration settings from a YAML file then returns
// a validated Config with those settings, and an error if there were any
// problems.
func newFromYamlFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Failed to read config file '%s': %w", path, err)
	}

	return NewConfigFromYaml(data)
}

// NewConfigFromYaml returns a validated Config parsed from data. Keys
// that are not present keep their default values.
func NewConfigFromYaml(data []byte) (*Config, error) {
	c := defaultConfig()

	err := yaml.Unmarshal(data, &c)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse YAML config: %w", err)
	}

	if c.LDAP != nil && c.LDAP.CacheTime == 0 {
		c.LDAP.CacheTime = defaultLDAPCacheTime
	}

	if c.MetricsDurationBuckets != nil {
		sort.Float64s(c.MetricsDurationBuckets)
	}

	err = validateConfig(&c)
	if err != nil {
		return nil, err
	}

	return &c, nil
}

func validateAddress(key string, address string) (port string, err error) {
	if strings.HasPrefix(address, "unix://") {
		if address[len("unix://"):] == "" {
			return "", fmt.Errorf("'%s' Unix socket address is missing a socket path", key)
		}
		return "", nil
	}

	_, port, err = net.SplitHostPort(address)
	if err != nil {
		return "", fmt.Errorf("'%s' must either be formatted as [host]:port or unix://socket.path", key)
	}
	return port, nil
}

func validateConfig(c *Config) error {
	if c.Dir == "" {
		return errors.New("The 'dir' flag/key is required")
	}

	if c.StorageMode != "zstd" && c.StorageMode != "uncompressed" {
		return errors.New("storage_mode must be set to either \"zstd\" or \"uncompressed\"")
	}

	c.MaxSegmentBytes = 0
	if c.MaxSegmentSize != "" {
		size, err := humanize.ParseBytes(c.MaxSegmentSize)
		if err != nil {
			return fmt.Errorf("Invalid 'max_segment_size' %q: %w", c.MaxSegmentSize, err)
		}
		c.MaxSegmentBytes = int64(size)
	}

	proxyCount := 0
	if c.S3CloudStorage != nil {
		proxyCount++
	}
	if c.HTTPBackend != nil {
		proxyCount++
	}
	if c.GoogleCloudStorage != nil {
		proxyCount++
	}
	if c.AzBlobConfig != nil {
		proxyCount++
	}
	if c.GRPCBackend != nil {
		proxyCount++
	}

	if proxyCount > 1 {
		return errors.New("At most one of the S3/GCS/HTTP/AzBlob/gRPC proxy backends is allowed")
	}

	httpPort, err := validateAddress("http_address", c.HTTPAddress)
	if err != nil {
		return err
	}

	if c.GRPCAddress != "" && c.GRPCAddress != DisabledListener {
		grpcPort, err := validateAddress("grpc_address", c.GRPCAddress)
		if err != nil {
			return err
		}

		if httpPort != "" && grpcPort != "" && httpPort == grpcPort {
			return fmt.Errorf("HTTP and gRPC server TCP ports conflict: %s", httpPort)
		}
	}

	if c.ProfileAddress != "" && c.ProfileAddress != DisabledListener {
		_, err := validateAddress("profile_address", c.ProfileAddress)
		if err != nil {
			return err
		}
	}

	if (c.TLSCertFile != "" && c.TLSKeyFile == "") || (c.TLSCertFile == "" && c.TLSKeyFile != "") {
		return errors.New("When enabling TLS one must specify both " +
			"'tls_key_file' and 'tls_cert_file'")
	}

	if c.TLSCaFile != "" && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return errors.New("When enabling mTLS (authenticating client " +
			"certificates) the server must have it's own 'tls_key_file' " +
			"and 'tls_cert_file' specified.")
	}

	if c.HtpasswdFile != "" && c.LDAP != nil {
		return errors.New("One can specify at most one of 'htpasswd_file' and 'ldap'")
	}

	if c.AllowUnauthenticatedReads && c.TLSCaFile == "" && c.HtpasswdFile == "" && c.LDAP == nil {
		return errors.New("AllowUnauthenticatedReads setting is only available when authentication is enabled")
	}

	if c.MaxBlobSize < 0 {
		return errors.New("The 'max_blob_size' flag/key must not be negative")
	}

	if c.NumUploaders <= 0 {
		return errors.New("The 'num_uploaders' flag/key must be a positive integer")
	}

	if c.MaxQueuedUploads < 0 {
		return errors.New("The 'max_queued_uploads' flag/key must not be negative")
	}

	if c.ProxyTimeout <= 0 {
		return errors.New("The 'proxy_timeout' flag/key must be a positive duration")
	}

	if c.GoogleCloudStorage != nil {
		if c.GoogleCloudStorage.Bucket == "" {
			return errors.New("The 'bucket' field is required for 'gcs_proxy'")
		}
	}

	if c.HTTPBackend != nil {
		if c.HTTPBackend.BaseURL == "" {
			return errors.New("The 'url' field is required for 'http_proxy'")
		}
		if (c.HTTPBackend.CertFile == "") != (c.HTTPBackend.KeyFile == "") {
			return errors.New("The 'cert_file' and 'key_file' fields of 'http_proxy' must be specified together")
		}
	}

	if c.GRPCBackend != nil {
		u, err := url.Parse(c.GRPCBackend.BaseURL)
		if err != nil || c.GRPCBackend.BaseURL == "" {
			return errors.New("A valid 'url' field is required for 'grpc_proxy'")
		}
		if u.Scheme != "grpc" && u.Scheme != "grpcs" {
			return fmt.Errorf("Unsupported 'grpc_proxy.url' scheme %q, must be grpc or grpcs", u.Scheme)
		}
		if (c.GRPCBackend.CertFile == "") != (c.GRPCBackend.KeyFile == "") {
			return errors.New("The 'cert_file' and 'key_file' fields of 'grpc_proxy' must be specified together")
		}
	}

	if c.S3CloudStorage != nil {
		if c.S3CloudStorage.Bucket == "" {
			return errors.New("The 'bucket' field is required for 's3_proxy'")
		}
		if !s3proxy.ValidAuthMethod(c.S3CloudStorage.AuthMethod) {
			return fmt.Errorf("invalid s3.auth_method: %s", c.S3CloudStorage.AuthMethod)
		}
	}

	if c.AzBlobConfig != nil {
		if c.AzBlobConfig.StorageAccount == "" {
			return errors.New("The 'storage_account' field is required for 'azblob_proxy'")
		}
		if c.AzBlobConfig.ContainerName == "" {
			return errors.New("The 'container_name' field is required for 'azblob_proxy'")
		}
		if !azblobproxy.ValidAuthMethod(c.AzBlobConfig.AuthMethod) {
			return fmt.Errorf("invalid azblob.auth_method: %s", c.AzBlobConfig.AuthMethod)
		}
		if c.AzBlobConfig.AuthMethod == azblobproxy.AuthMethodSharedKey && c.AzBlobConfig.SharedKey == "" {
			return errors.New("The 'shared_key' field is required for azblob.auth_method shared_key")
		}
	}

	if c.LDAP != nil {
		if c.LDAP.URL == "" {
			return errors.New("The 'url' field is required for 'ldap'")
		}
		if c.LDAP.BaseDN == "" {
			return errors.New("The 'base_dn' field is required for 'ldap'")
		}
		if c.LDAP.UsernameAttribute == "" {
			c.LDAP.UsernameAttribute = "uid"
		}
		if c.LDAP.CacheTime <= 0 {
			return errors.New("The 'ldap.cache_time' field must be a positive duration")
		}
	}

	if c.Fetch.Enabled {
		if c.Fetch.Timeout <= 0 {
			return errors.New("The 'fetch.timeout' flag/key must be a positive duration")
		}
		if c.Fetch.ClientHeader == "" {
			return errors.New("The 'fetch.client_header' flag/key must not be empty")
		}
	}

	if c.MetricsDurationBuckets != nil {
		duplicates := make(map[float64]bool)
		for _, bucket := range c.MetricsDurationBuckets {
			_, dupe := duplicates[bucket]
			if dupe {
				return errors.New("'endpoint_metrics_duration_buckets' must not contain duplicate buckets")
			}
			duplicates[bucket] = true
		}
	}

	switch c.AccessLogLevel {
	case "none", "all":
	default:
		return errors.New("'access_log_level' must be set to either \"none\" or \"all\"")
	}

	switch c.LogTimezone {
	case "UTC", "local", "none":
	default:
		return errors.New("'log_timezone' must be set to either \"UTC\", \"local\" or \"none\"")
	}

	return nil
}

// GRPCEnabled reports whether the gRPC listener should be started.
func (c *Config) GRPCEnabled() bool {
	return c.GRPCAddress != "" && c.GRPCAddress != DisabledListener
}

// ProfileEnabled reports whether the pprof listener should be started.
func (c *Config) ProfileEnabled() bool {
	return c.ProfileAddress != "" && c.ProfileAddress != DisabledListener
}

// Get returns a Config built from the command line flags, or from the
// YAML file named by --config_file, with its derived fields set.
func Get(ctx *cli.Context) (*Config, error) {
	// Get a Config with all the basic fields set.
	cfg, err := get(ctx)
	if err != nil {
		return nil, err
	}

	// Set the non-basic fields...

	err = cfg.setLogger()
	if err != nil {
		return nil, err
	}

	err = cfg.setProxy()
	if err != nil {
		return nil, err
	}

	err = cfg.setTLSConfig()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) setProxy() error {
	proxy, err := c.GetProxy(c.AccessLogger, c.ErrorLogger)
	if err != nil {
		return err
	}
	c.ProxyBackend = proxy
	return nil
}

// Return a Config with all the basic fields set.
func get(ctx *cli.Context) (*Config, error) {
	configFile := ctx.String("config_file")
	if configFile != "" {
		return newFromYamlFile(configFile)
	}

	c := defaultConfig()

	c.Dir = ctx.String("dir")
	c.MaxSegmentSize = ctx.String("max_segment_size")
	c.StorageMode = ctx.String("storage_mode")
	c.HTTPAddress = ctx.String("http_address")
	c.GRPCAddress = ctx.String("grpc_address")
	c.ProfileAddress = ctx.String("profile_address")
	c.HtpasswdFile = ctx.String("htpasswd_file")
	c.TLSCaFile = ctx.String("tls_ca_file")
	c.TLSCertFile = ctx.String("tls_cert_file")
	c.TLSKeyFile = ctx.String("tls_key_file")
	c.AllowUnauthenticatedReads = ctx.Bool("allow_unauthenticated_reads")
	c.NumUploaders = ctx.Int("num_uploaders")
	c.MaxQueuedUploads = ctx.Int("max_queued_uploads")
	c.IdleTimeout = ctx.Duration("idle_timeout")
	c.ProxyTimeout = ctx.Duration("proxy_timeout")
	c.EnableEndpointMetrics = ctx.Bool("enable_endpoint_metrics")
	c.HTTPReadTimeout = ctx.Duration("http_read_timeout")
	c.HTTPWriteTimeout = ctx.Duration("http_write_timeout")
	c.AccessLogLevel = ctx.String("access_log_level")
	c.LogTimezone = ctx.String("log_timezone")
	c.MaxBlobSize = ctx.Int64("max_blob_size")

	c.Fetch = FetchConfig{
		Enabled:      ctx.Bool("fetch.enabled"),
		Timeout:      ctx.Duration("fetch.timeout"),
		ClientHeader: ctx.String("fetch.client_header"),
		ClientID:     ctx.String("fetch.client_id"),
	}

	if ctx.String("s3.bucket") != "" {
		c.S3CloudStorage = &S3CloudStorageConfig{
			Endpoint:                 ctx.String("s3.endpoint"),
			Bucket:                   ctx.String("s3.bucket"),
			Prefix:                   ctx.String("s3.prefix"),
			AuthMethod:               ctx.String("s3.auth_method"),
			AccessKeyID:              ctx.String("s3.access_key_id"),
			SecretAccessKey:          ctx.String("s3.secret_access_key"),
			DisableSSL:               ctx.Bool("s3.disable_ssl"),
			UpdateTimestamps:         ctx.Bool("s3.update_timestamps"),
			IAMRoleEndpoint:          ctx.String("s3.iam_role_endpoint"),
			Region:                   ctx.String("s3.region"),
			AWSProfile:               ctx.String("s3.aws_profile"),
			AWSSharedCredentialsFile: ctx.String("s3.aws_shared_credentials_file"),
		}
	}

	if ctx.String("http_proxy.url") != "" {
		c.HTTPBackend = &HTTPBackendConfig{
			BaseURL:  ctx.String("http_proxy.url"),
			CertFile: ctx.String("http_proxy.cert_file"),
			KeyFile:  ctx.String("http_proxy.key_file"),
			CaFile:   ctx.String("http_proxy.ca_file"),
		}
	}

	if ctx.String("grpc_proxy.url") != "" {
		c.GRPCBackend = &GRPCBackendConfig{
			BaseURL:  ctx.String("grpc_proxy.url"),
			CertFile: ctx.String("grpc_proxy.cert_file"),
			KeyFile:  ctx.String("grpc_proxy.key_file"),
			CaFile:   ctx.String("grpc_proxy.ca_file"),
		}
	}

	if ctx.String("gcs_proxy.bucket") != "" {
		c.GoogleCloudStorage = &GoogleCloudStorageConfig{
			Bucket:                ctx.String("gcs_proxy.bucket"),
			UseDefaultCredentials: ctx.Bool("gcs_proxy.use_default_credentials"),
			JSONCredentialsFile:   ctx.String("gcs_proxy.json_credentials_file"),
		}
	}

	if ctx.String("azblob.storage_account") != "" {
		c.AzBlobConfig = &AzBlobStorageConfig{
			StorageAccount:   ctx.String("azblob.storage_account"),
			ContainerName:    ctx.String("azblob.container_name"),
			Prefix:           ctx.String("azblob.prefix"),
			AuthMethod:       ctx.String("azblob.auth_method"),
			TenantID:         ctx.String("azblob.tenant_id"),
			ClientID:         ctx.String("azblob.client_id"),
			ClientSecret:     ctx.String("azblob.client_secret"),
			CertPath:         ctx.String("azblob.cert_path"),
			SharedKey:        ctx.String("azblob.shared_key"),
			UpdateTimestamps: ctx.Bool("azblob.update_timestamps"),
		}
	}

	if ctx.String("ldap.url") != "" {
		c.LDAP = &LDAPConfig{
			URL:               ctx.String("ldap.url"),
			BaseDN:            ctx.String("ldap.base_dn"),
			BindUser:          ctx.String("ldap.bind_user"),
			BindPassword:      ctx.String("ldap.bind_password"),
			UsernameAttribute: ctx.String("ldap.username_attribute"),
			Groups:            ctx.StringSlice("ldap.groups"),
			CacheTime:         ctx.Duration("ldap.cache_time"),
		}
	}

	err := validateConfig(&c)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
