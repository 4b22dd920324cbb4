package s3proxy

import "slices"

// The ways an s3 proxy can obtain credentials.
const (
	AuthMethodIAMRole            = "iam_role"
	AuthMethodAccessKey          = "access_key"
	AuthMethodAWSCredentialsFile = "aws_credentials_file"
)

// AuthMethods lists the accepted values of s3_proxy.auth_method.
var AuthMethods = []string{
	AuthMethodIAMRole,
	AuthMethodAccessKey,
	AuthMethodAWSCredentialsFile,
}

func ValidAuthMethod(m string) bool {
	return slices.Contains(AuthMethods, m)
}
