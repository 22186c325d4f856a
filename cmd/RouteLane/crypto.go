package main

import (
	"RouteLane/internal/conf"
	"RouteLane/pkg/crypto"
)

// newCryptoService creates the AES crypto service used to decrypt provider
// credentials at rest. Referenced by the generated injector, so it must live
// outside the wireinject stub.
func newCryptoService(gw *conf.Gateway) (*crypto.AESCrypto, error) {
	if gw == nil || gw.Encryption == nil {
		return nil, nil // Gracefully handle missing config
	}
	return crypto.NewAESCrypto([]byte(gw.Encryption.Key))
}
