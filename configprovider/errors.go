package configprovider

import "github.com/pkg/errors"

var (
	errInvalidManifestUID  = errors.New("manifest UID is not valid hex")
	errBucketNotOpen       = errors.New("bucket is not open")
	errConfigRevisionStale = errors.New("proposed configuration revision is not newer than the current one")
)
