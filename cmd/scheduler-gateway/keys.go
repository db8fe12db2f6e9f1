// ABOUTME: keygen and token subcommands for account holders
// ABOUTME: keygen writes an RSA key pair; token signs an RS256 user token with the private half

package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/spf13/pflag"

	"github.com/2389/scheduler-gateway/internal/auth"
)

func runKeygen(args []string, out io.Writer) error {
	flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	bits := flagSet.Int("bits", 2048, "RSA modulus size")
	keyPath := flagSet.StringP("out", "o", "scheduler-gateway.key", "where to write the private key")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *bits < auth.MinRSAKeyBits {
		return fmt.Errorf("--bits must be at least %d", auth.MinRSAKeyBits)
	}

	key, err := rsa.GenerateKey(rand.Reader, *bits)
	if err != nil {
		return fmt.Errorf("generating key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("encoding private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	if err := os.WriteFile(*keyPath, privPEM, 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("encoding public key: %w", err)
	}
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))

	fingerprint, err := auth.ComputeFingerprint(&key.PublicKey)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "private key written to %s (fingerprint %s)\n", *keyPath, fingerprint)
	fmt.Fprint(out, pubPEM)
	return nil
}

func runToken(args []string, out io.Writer) error {
	flagSet := pflag.NewFlagSet("token", pflag.ContinueOnError)
	keyPath := flagSet.StringP("key", "k", "", "private key file (PEM)")
	subject := flagSet.StringP("sub", "s", "", "end-user id for the sub claim")
	allow := flagSet.StringSlice("allow", nil, "operations the user may perform (repeatable, comma separated, * for all)")
	ttl := flagSet.Duration("ttl", time.Hour, "token lifetime")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *keyPath == "" {
		return errors.New("--key is required")
	}
	if *subject == "" {
		return errors.New("--sub is required")
	}
	for _, op := range *allow {
		if !knownCapability(op) {
			return fmt.Errorf("unknown operation %q", op)
		}
	}

	data, err := os.ReadFile(*keyPath)
	if err != nil {
		return fmt.Errorf("reading private key: %w", err)
	}
	key, err := auth.ParsePrivateKey(data)
	if err != nil {
		return err
	}

	token, err := auth.NewIssuer(key).Issue(auth.TokenRequest{
		Subject:      *subject,
		Capabilities: *allow,
		TTL:          *ttl,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out, token)
	return nil
}

func knownCapability(s string) bool {
	return s == auth.Wildcard || slices.Contains(auth.Operations, auth.Operation(s))
}
