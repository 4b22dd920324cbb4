package config

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/mediacache/mediacache/cache/azblobproxy"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// AzBlobStorageConfig stores the configuration of an Azure Blob Storage
// proxy backend.
type AzBlobStorageConfig struct {
	StorageAccount   string `yaml:"storage_account"`
	ContainerName    string `yaml:"container_name"`
	Prefix           string `yaml:"prefix"`
	AuthMethod       string `yaml:"auth_method"`
	TenantID         string `yaml:"tenant_id"`
	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret"`
	CertPath         string `yaml:"cert_path"`
	SharedKey        string `yaml:"shared_key"`
	UpdateTimestamps bool   `yaml:"update_timestamps"`
}

var errMissingTenantID = errors.New("azblob_proxy.tenant_id is required for this auth_method")

// GetCredentials returns the token credential selected by AuthMethod.
// The shared key method has no token credential: it returns nil, nil
// and the proxy is given the key itself.
func (azc AzBlobStorageConfig) GetCredentials() (azcore.TokenCredential, error) {
	if !azblobproxy.ValidAuthMethod(azc.AuthMethod) {
		return nil, fmt.Errorf("invalid azblob_proxy.auth_method: %q", azc.AuthMethod)
	}

	log.Printf("AzBlob credentials: %s", azc.AuthMethod)

	switch azc.AuthMethod {
	case azblobproxy.AuthMethodSharedKey:
		return nil, nil

	case azblobproxy.AuthMethodDefault:
		return azidentity.NewDefaultAzureCredential(nil)

	case azblobproxy.AuthMethodEnvironmentCredential:
		return azidentity.NewEnvironmentCredential(nil)

	case azblobproxy.AuthMethodClientSecret:
		if azc.TenantID == "" {
			return nil, errMissingTenantID
		}
		return azidentity.NewClientSecretCredential(azc.TenantID, azc.ClientID, azc.ClientSecret, nil)
	}

	// AuthMethodClientCertificate
	return azc.clientCertificateCredential()
}

func (azc AzBlobStorageConfig) clientCertificateCredential() (azcore.TokenCredential, error) {
	if azc.TenantID == "" {
		return nil, errMissingTenantID
	}

	data, err := os.ReadFile(azc.CertPath)
	if err != nil {
		return nil, fmt.Errorf("reading azblob certificate: %w", err)
	}

	certs, key, err := azidentity.ParseCertificates(data, nil)
	if err != nil {
		return nil, fmt.Errorf("parsing azblob certificate %q: %w", azc.CertPath, err)
	}

	return azidentity.NewClientCertificateCredential(azc.TenantID, azc.ClientID, certs, key, nil)
}
