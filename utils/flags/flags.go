package flags

import (
	"fmt"
	"strings"
	"time"

	"github.com/mediacache/mediacache/cache/azblobproxy"
	"github.com/mediacache/mediacache/cache/s3proxy"

	"github.com/urfave/cli/v2"
)

// env returns the environment variables that can set flag name: the
// MEDIACACHE_ form of the name, followed by any extra well-known ones.
func env(name string, extra ...string) []string {
	v := "MEDIACACHE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
	return append([]string{v}, extra...)
}

func authMethodMsg(backend string, methods ...string) string {
	return fmt.Sprintf("Applies to %s auth method(s): %s.", backend, strings.Join(methods, ", "))
}

// GetCliFlags returns a slice of cli.Flag's that mediacache accepts.
func GetCliFlags() []cli.Flag {
	var all []cli.Flag
	for _, group := range [][]cli.Flag{
		storageFlags(),
		listenerFlags(),
		authFlags(),
		fetchFlags(),
		proxyFlags(),
		backendFlags("grpc_proxy", "another mediacache instance, eg grpc://localhost:9092 or grpcs://cache.example.com:9092"),
		backendFlags("http_proxy", "an HTTP object store"),
		gcsFlags(),
		s3Flags(),
		azBlobFlags(),
		observabilityFlags(),
	} {
		all = append(all, group...)
	}
	return all
}

func storageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config_file",
			Usage:   "Path to a YAML configuration file. If this flag is specified then all other flags are ignored.",
			EnvVars: env("config_file"),
		},
		&cli.StringFlag{
			Name:    "dir",
			Usage:   "Directory that holds one subdirectory of cached media per category. This flag is required.",
			EnvVars: env("dir"),
		},
		&cli.StringFlag{
			Name: "max_segment_size",
			Usage: "The maximum size of each category's segment, eg \"512 MiB\" or \"2GB\". When a put would " +
				"exceed it, the least recently used media of that category are evicted.",
			DefaultText: "\"\", ie unbounded",
			EnvVars:     env("max_segment_size"),
		},
		&cli.StringFlag{
			Name:    "storage_mode",
			Value:   "uncompressed",
			Usage:   "How media is written to disk, either \"uncompressed\" or \"zstd\".",
			EnvVars: env("storage_mode"),
		},
		&cli.Int64Flag{
			Name:        "max_blob_size",
			Usage:       "The largest payload accepted from clients over HTTP or gRPC. Media fetched from the origin or a proxy backend is not limited.",
			DefaultText: "0, ie unlimited",
			EnvVars:     env("max_blob_size"),
		},
	}
}

func listenerFlags() []cli.Flag {
	const addressFormat = "formatted either as [host]:port for TCP or unix://path.sock for a Unix domain socket."

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "http_address",
			Value:   ":8080",
			Usage:   "Address of the HTTP listener, " + addressFormat,
			EnvVars: env("http_address"),
		},
		&cli.StringFlag{
			Name:        "grpc_address",
			Usage:       "Address of the gRPC listener, " + addressFormat + " Set to 'none' to disable.",
			DefaultText: "\"\", ie gRPC disabled",
			EnvVars:     env("grpc_address"),
		},
		&cli.StringFlag{
			Name:        "profile_address",
			Usage:       "Address of the pprof HTTP listener, formatted as [host]:port. Set to 'none' to disable.",
			DefaultText: "\"\", ie profiling disabled",
			EnvVars:     env("profile_address"),
		},
		&cli.DurationFlag{
			Name:        "http_read_timeout",
			Usage:       "How long the HTTP listener may spend reading a request, body included.",
			DefaultText: "0s, ie no timeout",
			EnvVars:     env("http_read_timeout"),
		},
		&cli.DurationFlag{
			Name:        "http_write_timeout",
			Usage:       "How long the HTTP listener may spend writing a response.",
			DefaultText: "0s, ie no timeout",
			EnvVars:     env("http_write_timeout"),
		},
		&cli.DurationFlag{
			Name:        "idle_timeout",
			Usage:       "Shut down after this long without a request.",
			DefaultText: "0s, ie never",
			EnvVars:     env("idle_timeout"),
		},
	}
}

func authFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "htpasswd_file",
			Usage:   "Path to a .htpasswd file whose users may use the cache. See https://httpd.apache.org/docs/2.4/programs/htpasswd.html.",
			EnvVars: env("htpasswd_file"),
		},
		&cli.StringFlag{
			Name:    "tls_cert_file",
			Usage:   "Path to the PEM encoded certificate of the listeners.",
			EnvVars: env("tls_cert_file"),
		},
		&cli.StringFlag{
			Name:    "tls_key_file",
			Usage:   "Path to the PEM encoded key of the listeners.",
			EnvVars: env("tls_key_file"),
		},
		&cli.StringFlag{
			Name:    "tls_ca_file",
			Usage:   "Path to the certificate authority that signs client certificates. Setting it makes client certificates mandatory.",
			EnvVars: env("tls_ca_file"),
		},
		&cli.BoolFlag{
			Name:        "allow_unauthenticated_reads",
			Usage:       "With --htpasswd_file, --ldap.url or --tls_ca_file, let unauthenticated clients read.",
			DefaultText: "false, ie reads must be authenticated too",
			EnvVars:     env("allow_unauthenticated_reads"),
		},
		&cli.StringFlag{
			Name:    "ldap.url",
			Usage:   "The URL of the LDAP server used to authenticate users, eg ldaps://ldap.example.com:636.",
			EnvVars: env("ldap.url"),
		},
		&cli.StringFlag{
			Name:    "ldap.base_dn",
			Usage:   "The distinguished name that user searches start from.",
			EnvVars: env("ldap.base_dn"),
		},
		&cli.StringFlag{
			Name:    "ldap.bind_user",
			Usage:   "The distinguished name to bind as when searching. If empty, searches are anonymous. A read-only account is recommended.",
			EnvVars: env("ldap.bind_user"),
		},
		&cli.StringFlag{
			Name:    "ldap.bind_password",
			Usage:   "The password of ldap.bind_user.",
			EnvVars: env("ldap.bind_password"),
		},
		&cli.StringFlag{
			Name:    "ldap.username_attribute",
			Value:   "uid",
			Usage:   "The attribute that holds the name a user logs in with.",
			EnvVars: env("ldap.username_attribute"),
		},
		&cli.StringSliceFlag{
			Name:    "ldap.groups",
			Usage:   "The distinguished names of the groups whose members may use the cache. May be repeated. If none are given, any user found under the base DN is accepted.",
			EnvVars: env("ldap.groups"),
		},
		&cli.DurationFlag{
			Name:    "ldap.cache_time",
			Value:   time.Hour,
			Usage:   "How long a successful login is remembered.",
			EnvVars: env("ldap.cache_time"),
		},
	}
}

func fetchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "fetch.enabled",
			Usage:       "Fill HTTP GET misses by downloading the media from its URL.",
			DefaultText: "false, ie misses are reported as 404",
			EnvVars:     env("fetch.enabled"),
		},
		&cli.DurationFlag{
			Name:    "fetch.timeout",
			Value:   10 * time.Second,
			Usage:   "How long a single download from the origin may take.",
			EnvVars: env("fetch.timeout"),
		},
		&cli.StringFlag{
			Name:    "fetch.client_header",
			Value:   "X-Client-Id",
			Usage:   "The request header that identifies this client to the origin.",
			EnvVars: env("fetch.client_header"),
		},
		&cli.StringFlag{
			Name:    "fetch.client_id",
			Value:   "mediacache",
			Usage:   "The value sent in fetch.client_header.",
			EnvVars: env("fetch.client_id"),
		},
	}
}

func proxyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:    "proxy_timeout",
			Value:   5 * time.Second,
			Usage:   "How long a local miss may wait for the proxy backend before it is reported as a miss.",
			EnvVars: env("proxy_timeout"),
		},
		&cli.IntFlag{
			Name:    "num_uploaders",
			Value:   100,
			Usage:   "The number of goroutines that upload media to the proxy backend.",
			EnvVars: env("num_uploaders"),
		},
		&cli.IntFlag{
			Name:    "max_queued_uploads",
			Value:   1000000,
			Usage:   "The number of uploads to the proxy backend that may wait for an uploader. Uploads beyond it are dropped.",
			EnvVars: env("max_queued_uploads"),
		},
	}
}

// backendFlags returns the flags of a proxy backend that is reached by
// URL, optionally over mTLS.
func backendFlags(prefix string, what string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    prefix + ".url",
			Usage:   "The base URL of " + what + ", used as the proxy backend.",
			EnvVars: env(prefix + ".url"),
		},
		&cli.StringFlag{
			Name:    prefix + ".cert_file",
			Usage:   "Path to the client certificate presented to the proxy backend. Requires " + prefix + ".key_file.",
			EnvVars: env(prefix + ".cert_file"),
		},
		&cli.StringFlag{
			Name:    prefix + ".key_file",
			Usage:   "Path to the key of " + prefix + ".cert_file.",
			EnvVars: env(prefix + ".key_file"),
		},
		&cli.StringFlag{
			Name:        prefix + ".ca_file",
			Usage:       "Path to the certificate authority that signed the proxy backend's certificate.",
			DefaultText: "\"\", ie the system roots",
			EnvVars:     env(prefix + ".ca_file"),
		},
	}
}

func gcsFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "gcs_proxy.bucket",
			Usage:   "The Google Cloud Storage bucket used as the proxy backend.",
			EnvVars: env("gcs_proxy.bucket"),
		},
		&cli.BoolFlag{
			Name:    "gcs_proxy.use_default_credentials",
			Usage:   "Authenticate to Google Cloud Storage with the application default credentials.",
			EnvVars: env("gcs_proxy.use_default_credentials"),
		},
		&cli.StringFlag{
			Name:    "gcs_proxy.json_credentials_file",
			Usage:   "Path to a JSON file with the Google credentials to authenticate with.",
			EnvVars: env("gcs_proxy.json_credentials_file"),
		},
	}
}

func s3Flags() []cli.Flag {
	const s3 = "s3"

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "s3.endpoint",
			Usage:   "The S3 API endpoint, eg s3.amazonaws.com or a minio host:port.",
			EnvVars: env("s3.endpoint"),
		},
		&cli.StringFlag{
			Name:    "s3.bucket",
			Usage:   "The bucket used as the proxy backend.",
			EnvVars: env("s3.bucket"),
		},
		&cli.StringFlag{
			Name:    "s3.prefix",
			Usage:   "A prefix for the names of the objects in s3.bucket.",
			EnvVars: env("s3.prefix"),
		},
		&cli.StringFlag{
			Name:    "s3.auth_method",
			Usage:   "How to authenticate to the S3 endpoint. Required with s3.bucket. One of: " + strings.Join(s3proxy.AuthMethods, ", ") + ".",
			EnvVars: env("s3.auth_method"),
		},
		&cli.StringFlag{
			Name:    "s3.access_key_id",
			Usage:   "The access key ID. " + authMethodMsg(s3, s3proxy.AuthMethodAccessKey),
			EnvVars: env("s3.access_key_id"),
		},
		&cli.StringFlag{
			Name:    "s3.secret_access_key",
			Usage:   "The secret access key. " + authMethodMsg(s3, s3proxy.AuthMethodAccessKey),
			EnvVars: env("s3.secret_access_key"),
		},
		&cli.StringFlag{
			Name:        "s3.aws_shared_credentials_file",
			Usage:       "Path to an AWS credentials file. " + authMethodMsg(s3, s3proxy.AuthMethodAWSCredentialsFile),
			DefaultText: "~/.aws/credentials",
			EnvVars:     env("s3.aws_shared_credentials_file", "AWS_SHARED_CREDENTIALS_FILE"),
		},
		&cli.StringFlag{
			Name:    "s3.aws_profile",
			Value:   "default",
			Usage:   "The profile to use from s3.aws_shared_credentials_file. " + authMethodMsg(s3, s3proxy.AuthMethodAWSCredentialsFile),
			EnvVars: env("s3.aws_profile", "AWS_PROFILE"),
		},
		&cli.StringFlag{
			Name:        "s3.iam_role_endpoint",
			Usage:       "The endpoint that serves IAM security credentials. " + authMethodMsg(s3, s3proxy.AuthMethodIAMRole),
			DefaultText: "\"\", ie the standard AWS locations",
			EnvVars:     env("s3.iam_role_endpoint"),
		},
		&cli.StringFlag{
			Name:    "s3.region",
			Usage:   "The AWS region of s3.bucket.",
			EnvVars: env("s3.region"),
		},
		&cli.BoolFlag{
			Name:        "s3.disable_ssl",
			Usage:       "Talk plain HTTP to the S3 endpoint.",
			DefaultText: "false, ie use TLS",
			EnvVars:     env("s3.disable_ssl"),
		},
		&cli.BoolFlag{
			Name:    "s3.update_timestamps",
			Usage:   "Refresh the modification time of objects that are read, for lifecycle rules based on access.",
			EnvVars: env("s3.update_timestamps"),
		},
	}
}

func azBlobFlags() []cli.Flag {
	const az = "azblob"

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "azblob.storage_account",
			Usage:   "The Azure storage account that holds azblob.container_name.",
			EnvVars: env("azblob.storage_account"),
		},
		&cli.StringFlag{
			Name:    "azblob.container_name",
			Usage:   "The blob container used as the proxy backend.",
			EnvVars: env("azblob.container_name"),
		},
		&cli.StringFlag{
			Name:    "azblob.prefix",
			Usage:   "A prefix for the names of the blobs in azblob.container_name.",
			EnvVars: env("azblob.prefix"),
		},
		&cli.StringFlag{
			Name:    "azblob.auth_method",
			Usage:   "How to authenticate to Azure. Required with azblob.container_name. One of: " + strings.Join(azblobproxy.AuthMethods, ", ") + ".",
			EnvVars: env("azblob.auth_method"),
		},
		&cli.StringFlag{
			Name:    "azblob.tenant_id",
			Usage:   "The Azure tenant ID. " + authMethodMsg(az, azblobproxy.AuthMethodClientSecret, azblobproxy.AuthMethodClientCertificate),
			EnvVars: env("azblob.tenant_id", "AZURE_TENANT_ID"),
		},
		&cli.StringFlag{
			Name:    "azblob.client_id",
			Usage:   "The Azure client ID. " + authMethodMsg(az, azblobproxy.AuthMethodClientSecret, azblobproxy.AuthMethodClientCertificate),
			EnvVars: env("azblob.client_id", "AZURE_CLIENT_ID"),
		},
		&cli.StringFlag{
			Name:    "azblob.client_secret",
			Usage:   "The Azure client secret. " + authMethodMsg(az, azblobproxy.AuthMethodClientSecret),
			EnvVars: env("azblob.client_secret", "AZURE_CLIENT_SECRET"),
		},
		&cli.StringFlag{
			Name:    "azblob.cert_path",
			Usage:   "Path to a PEM or PKCS#12 client certificate. " + authMethodMsg(az, azblobproxy.AuthMethodClientCertificate),
			EnvVars: env("azblob.cert_path", "AZURE_CLIENT_CERTIFICATE_PATH"),
		},
		&cli.StringFlag{
			Name:    "azblob.shared_key",
			Usage:   "The storage account access key. " + authMethodMsg(az, azblobproxy.AuthMethodSharedKey),
			EnvVars: env("azblob.shared_key", "AZURE_STORAGE_ACCOUNT_KEY"),
		},
		&cli.BoolFlag{
			Name:    "azblob.update_timestamps",
			Usage:   "Refresh the LastAccessed metadata of blobs that are read.",
			EnvVars: env("azblob.update_timestamps"),
		},
	}
}

func observabilityFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "enable_endpoint_metrics",
			Usage:       "Count cache requests per operation, category and outcome.",
			DefaultText: "false",
			EnvVars:     env("enable_endpoint_metrics"),
		},
		&cli.StringFlag{
			Name:    "access_log_level",
			Value:   "all",
			Usage:   "Either \"all\" to log every request, or \"none\".",
			EnvVars: env("access_log_level"),
		},
		&cli.StringFlag{
			Name:    "log_timezone",
			Value:   "UTC",
			Usage:   "The timezone of log timestamps: \"UTC\", \"local\", or \"none\" to omit timestamps.",
			EnvVars: env("log_timezone"),
		},
	}
}
