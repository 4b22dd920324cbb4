package config

import (
	"errors"
	"fmt"
	"log"

	"github.com/mediacache/mediacache/cache/s3proxy"

	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3CloudStorageConfig stores the configuration of an S3 API proxy backend.
type S3CloudStorageConfig struct {
	Endpoint                 string `yaml:"endpoint"`
	Bucket                   string `yaml:"bucket"`
	Prefix                   string `yaml:"prefix"`
	AuthMethod               string `yaml:"auth_method"`
	AccessKeyID              string `yaml:"access_key_id"`
	SecretAccessKey          string `yaml:"secret_access_key"`
	DisableSSL               bool   `yaml:"disable_ssl"`
	UpdateTimestamps         bool   `yaml:"update_timestamps"`
	IAMRoleEndpoint          string `yaml:"iam_role_endpoint"`
	Region                   string `yaml:"region"`
	AWSProfile               string `yaml:"aws_profile"`
	AWSSharedCredentialsFile string `yaml:"aws_shared_credentials_file"`
}

var errMissingAccessKey = errors.New("s3_proxy.auth_method access_key requires both access_key_id and secret_access_key")

// GetCredentials returns the minio credentials selected by AuthMethod.
func (s3c S3CloudStorageConfig) GetCredentials() (*credentials.Credentials, error) {
	var creds *credentials.Credentials

	switch s3c.AuthMethod {
	case s3proxy.AuthMethodAccessKey:
		if s3c.AccessKeyID == "" || s3c.SecretAccessKey == "" {
			return nil, errMissingAccessKey
		}
		creds = credentials.NewStaticV4(s3c.AccessKeyID, s3c.SecretAccessKey, "")

	case s3proxy.AuthMethodAWSCredentialsFile:
		creds = credentials.NewFileAWSCredentials(s3c.AWSSharedCredentialsFile, s3c.AWSProfile)

	case s3proxy.AuthMethodIAMRole:
		creds = credentials.NewIAM(s3c.IAMRoleEndpoint)

	default:
		return nil, fmt.Errorf("invalid s3_proxy.auth_method: %q", s3c.AuthMethod)
	}

	log.Printf("S3 credentials: %s", s3c.AuthMethod)
	return creds, nil
}
