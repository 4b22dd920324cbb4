package config

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mediacache/mediacache/cache"
	"github.com/mediacache/mediacache/cache/azblobproxy"
	"github.com/mediacache/mediacache/cache/gcsproxy"
	"github.com/mediacache/mediacache/cache/grpcproxy"
	"github.com/mediacache/mediacache/cache/httpproxy"
	"github.com/mediacache/mediacache/cache/s3proxy"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const grpcHealthTimeout = 10 * time.Second

// GetProxy returns the configured proxy backend, or nil if there is none.
func (c *Config) GetProxy(accessLogger cache.Logger, errorLogger cache.Logger) (cache.Proxy, error) {
	if c.GoogleCloudStorage != nil {
		return gcsproxy.New(c.GoogleCloudStorage.Bucket,
			c.GoogleCloudStorage.UseDefaultCredentials, c.GoogleCloudStorage.JSONCredentialsFile,
			accessLogger, errorLogger, c.NumUploaders, c.MaxQueuedUploads)
	}

	if c.HTTPBackend != nil {
		baseURL, err := url.Parse(c.HTTPBackend.BaseURL)
		if err != nil {
			return nil, err
		}

		httpClient := &http.Client{}
		if baseURL.Scheme == "https" {
			tlsConfig, err := clientTLSConfig(c.HTTPBackend.CertFile,
				c.HTTPBackend.KeyFile, c.HTTPBackend.CaFile)
			if err != nil {
				return nil, err
			}
			httpClient.Transport = &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: tlsConfig,
			}
		}

		return httpproxy.New(baseURL, httpClient,
			accessLogger, errorLogger, c.NumUploaders, c.MaxQueuedUploads)
	}

	if c.S3CloudStorage != nil {
		creds, err := c.S3CloudStorage.GetCredentials()
		if err != nil {
			return nil, err
		}

		return s3proxy.New(
			c.S3CloudStorage.Endpoint,
			c.S3CloudStorage.Bucket,
			c.S3CloudStorage.Prefix,
			creds,
			c.S3CloudStorage.DisableSSL,
			c.S3CloudStorage.UpdateTimestamps,
			c.S3CloudStorage.Region,
			accessLogger, errorLogger, c.NumUploaders, c.MaxQueuedUploads)
	}

	if c.AzBlobConfig != nil {
		creds, err := c.AzBlobConfig.GetCredentials()
		if err != nil {
			return nil, err
		}

		return azblobproxy.New(
			c.AzBlobConfig.StorageAccount,
			c.AzBlobConfig.ContainerName,
			c.AzBlobConfig.Prefix,
			creds,
			c.AzBlobConfig.SharedKey,
			c.AzBlobConfig.UpdateTimestamps,
			accessLogger, errorLogger, c.NumUploaders, c.MaxQueuedUploads)
	}

	if c.GRPCBackend != nil {
		conn, err := c.dialGRPCBackend()
		if err != nil {
			return nil, err
		}

		clients := grpcproxy.NewGrpcClients(conn)

		ctx, cancel := context.WithTimeout(context.Background(), grpcHealthTimeout)
		defer cancel()
		err = clients.CheckHealth(ctx)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("gRPC proxy backend %s is not healthy: %w", c.GRPCBackend.BaseURL, err)
		}

		return grpcproxy.New(clients, accessLogger, errorLogger,
			c.NumUploaders, c.MaxQueuedUploads)
	}

	return nil, nil
}

func (c *Config) dialGRPCBackend() (*grpc.ClientConn, error) {
	u, err := url.Parse(c.GRPCBackend.BaseURL)
	if err != nil {
		return nil, err
	}

	var creds credentials.TransportCredentials
	switch u.Scheme {
	case "grpc":
		creds = insecure.NewCredentials()
	case "grpcs":
		tlsConfig, err := clientTLSConfig(c.GRPCBackend.CertFile,
			c.GRPCBackend.KeyFile, c.GRPCBackend.CaFile)
		if err != nil {
			return nil, err
		}
		creds = credentials.NewTLS(tlsConfig)
	default:
		return nil, fmt.Errorf("Unsupported gRPC proxy scheme: %s", u.Scheme)
	}

	return grpc.Dial(u.Host, grpc.WithTransportCredentials(creds))
}
