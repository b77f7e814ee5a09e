package keyring

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendKeychain = "keychain"
	BackendFile     = "file"
	BackendAWS      = "aws"
)

// Options selects where the master key lives.
type Options struct {
	// Backend is keychain (falling back to the key file), file or aws.
	Backend   string
	KeyFile   string
	AWSSecret string
	AWSRegion string
}

// Open returns the master key, creating it on first use.
func Open(ctx context.Context, opts Options) ([]byte, error) {
	keyFile := opts.KeyFile
	if keyFile == "" {
		p, err := DefaultKeyFilePath()
		if err != nil && opts.Backend != BackendAWS {
			return nil, err
		}
		keyFile = p
	}

	switch opts.Backend {
	case "", BackendKeychain:
		return GetOrCreate(ctx, &Keychain{}, &File{Path: keyFile})
	case BackendFile:
		return GetOrCreate(ctx, &File{Path: keyFile}, nil)
	case BackendAWS:
		b, err := NewAWSSecret(ctx, opts.AWSSecret, opts.AWSRegion)
		if err != nil {
			return nil, err
		}
		return GetOrCreate(ctx, b, nil)
	default:
		return nil, fmt.Errorf("unknown attestation key backend %q (want keychain, file or aws)", opts.Backend)
	}
}
