// Package resourcename builds and parses the ByteStream resource names
// used to read and write media blobs over gRPC.
package resourcename

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mediacache/mediacache/cache"
	"github.com/mediacache/mediacache/cache/hashing"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const mediaField = "media"

// ReadResource returns the name used to read or query a blob:
// media/{category}/{key}
func ReadResource(kind cache.Category, key string) string {
	return fmt.Sprintf("%s/%s/%s", mediaField, kind, key)
}

// WriteResource returns a fresh upload name for a blob:
// uploads/{uuid}/media/{category}/{key}/{size}
func WriteResource(kind cache.Category, key string, size int64) string {
	return fmt.Sprintf("uploads/%s/%s/%s/%s/%d", uuid.New().String(), mediaField, kind, key, size)
}

func parseMedia(name string, rem []string) (cache.Category, string, error) {
	if len(rem) < 3 || rem[0] != mediaField {
		return 0, "", fmt.Errorf("Unable to parse resource name: %s", name)
	}

	kind, err := cache.ParseCategory(rem[1])
	if err != nil {
		return 0, "", fmt.Errorf("Invalid category in resource name %q: %w", name, err)
	}

	err = hashing.Validate(rem[2])
	if err != nil {
		return 0, "", fmt.Errorf("Invalid key in resource name %q: %w", name, err)
	}

	return kind, rem[2], nil
}

// ParseReadResource parses a ReadRequest.ResourceName of the form
// [{instance_name}/]media/{category}/{key}.
func ParseReadResource(name string) (cache.Category, string, error) {
	fields := strings.Split(name, "/")

	// The instance name is ignored, and may not contain "media" as a
	// distinct path segment.
	for i := range fields {
		if fields[i] == mediaField {
			if len(fields[i:]) != 3 {
				break
			}
			kind, key, err := parseMedia(name, fields[i:])
			if err != nil {
				return 0, "", status.Error(codes.InvalidArgument, err.Error())
			}
			return kind, key, nil
		}
	}

	return 0, "", status.Error(codes.InvalidArgument,
		fmt.Sprintf("Unable to parse resource name: %s", name))
}

// ParseWriteResource parses a WriteRequest.ResourceName of the form
// [{instance_name}/]uploads/{uuid}/media/{category}/{key}/{size}.
func ParseWriteResource(name string) (cache.Category, string, int64, error) {
	fields := strings.Split(name, "/")

	var rem []string
	for i := range fields {
		if fields[i] == "uploads" && i+2 < len(fields) {
			rem = fields[i+2:]
			break
		}
	}

	if len(rem) != 4 {
		return 0, "", 0, status.Error(codes.InvalidArgument,
			fmt.Sprintf("Unable to parse resource name: %s", name))
	}

	kind, key, err := parseMedia(name, rem[:3])
	if err != nil {
		return 0, "", 0, status.Error(codes.InvalidArgument, err.Error())
	}

	size, err := strconv.ParseInt(rem[3], 10, 64)
	if err != nil {
		return 0, "", 0, status.Error(codes.InvalidArgument,
			fmt.Sprintf("Invalid size: %s from %q", rem[3], name))
	}
	if size < 0 {
		return 0, "", 0, status.Error(codes.InvalidArgument,
			fmt.Sprintf("Invalid size (must be non-negative): %d from %q", size, name))
	}

	return kind, key, size, nil
}
