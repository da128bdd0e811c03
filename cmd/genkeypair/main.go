// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/katzenpost/hpqc/rand"
	"github.com/spf13/cobra"

	"github.com/katzenpost/crowdlog/common"
	"github.com/katzenpost/crowdlog/core/utils"
	"github.com/katzenpost/crowdlog/hybrid"
)

const (
	privateKeyFile = "private.pem"
	publicKeyFile  = "public.pem"
	minBits        = 2048
)

var errKeyExists = errors.New("refusing to overwrite an existing key")

func newRootCommand() *cobra.Command {
	var (
		outDir string
		bits   int
	)

	cmd := &cobra.Command{
		Use:   "genkeypair",
		Short: "Generate the RSA keypair ee-artifacts are wrapped to",
		Long: `genkeypair writes private.pem (PKCS#8) and public.pem (PKIX) to the
output directory.  The public key is provisioned to clients, the private key
is used by unwrap.  Existing keys are never overwritten.`,
		Example: `  genkeypair --out-dir /etc/crowdlog/keys`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, pub, err := generate(outDir, bits)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote keypair to %s and %s\n", priv, pub)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "output directory")
	cmd.Flags().IntVar(&bits, "bits", minBits, "RSA modulus size")
	return cmd
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}

func generate(outDir string, bits int) (string, string, error) {
	if bits < minBits {
		return "", "", fmt.Errorf("invalid argument: bits must be at least %d", minBits)
	}
	privOut := filepath.Join(outDir, privateKeyFile)
	pubOut := filepath.Join(outDir, publicKeyFile)
	exists, err := utils.AnyExists(privOut, pubOut)
	if err != nil {
		return "", "", err
	}
	if exists {
		return "", "", errKeyExists
	}
	if err = utils.MkdirPrivate(outDir); err != nil {
		return "", "", err
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", "", err
	}
	privPEM, err := hybrid.MarshalPrivateKey(key)
	if err != nil {
		return "", "", err
	}
	pubPEM, err := hybrid.MarshalPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", err
	}

	if err = writeNew(privOut, privPEM, 0600); err != nil {
		return "", "", err
	}
	if err = writeNew(pubOut, pubPEM, 0644); err != nil {
		return "", "", err
	}
	return privOut, pubOut, nil
}

func writeNew(fn string, b []byte, mode os.FileMode) error {
	f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	if _, err = f.Write(b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
