package engine

import (
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrInvalidTLS = errors.New("engine: invalid tls material")

// ValidateTLS checks that the PEM key file holds a certificate and a
// private key before any member is started with it.
func ValidateTLS(opts TLSOptions) error {
	if !opts.Enabled {
		return nil
	}
	path := strings.TrimSpace(opts.PEMKeyFile)
	if path == "" {
		return fmt.Errorf("%w: pem key file is required", ErrInvalidTLS)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTLS, err)
	}

	var haveCert, haveKey bool
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch {
		case block.Type == "CERTIFICATE":
			haveCert = true
		case strings.HasSuffix(block.Type, "PRIVATE KEY"):
			haveKey = true
		}
	}
	if !haveCert {
		return fmt.Errorf("%w: %s has no certificate", ErrInvalidTLS, path)
	}
	if !haveKey {
		return fmt.Errorf("%w: %s has no private key", ErrInvalidTLS, path)
	}
	return nil
}
