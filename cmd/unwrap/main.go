// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/katzenpost/crowdlog/common"
	"github.com/katzenpost/crowdlog/hybrid"
	"github.com/katzenpost/crowdlog/sink"
	"github.com/katzenpost/crowdlog/unwrap"
)

type options struct {
	key          string
	out          string
	kdf          string
	maxOpenFiles int
	log          common.LogFlags
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "unwrap [flags] FILE...",
		Short: "Unwrap ee-artifacts into per experiment e-artifact files",
		Long: `unwrap removes the outer, public key, layer of every ee-artifact in the
origin's output files and appends the resulting e-artifacts to files in the
output directory, one per experiment and ciphertext shard.

Lines that cannot be parsed or decrypted are logged and skipped.`,
		Example: `  unwrap --key private.pem --out eartifacts/ eeartifacts.*`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(&opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.key, "key", "", "PEM encoded RSA private key")
	cmd.Flags().StringVar(&opts.out, "out", "", "output directory")
	cmd.Flags().StringVar(&opts.kdf, "kdf", hybrid.KDFMD5.String(), "symmetric key derivation: md5, sha256 or pbkdf2")
	cmd.Flags().IntVar(&opts.maxOpenFiles, "max-open-files", sink.DefaultMaxOpenFiles, "output files kept open at once")
	opts.log.Register(cmd)
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}

func run(opts *options, inputs []string) error {
	kdf, err := hybrid.ParseKDF(opts.kdf)
	if err != nil {
		return fmt.Errorf("invalid argument: %v", err)
	}
	logBackend, err := opts.log.Backend()
	if err != nil {
		return err
	}
	key, err := hybrid.LoadPrivateKey(opts.key)
	if err != nil {
		return err
	}

	w, err := sink.NewPartitioned(opts.out, opts.maxOpenFiles, logBackend)
	if err != nil {
		return err
	}
	s, err := unwrap.Run(hybrid.New(key, hybrid.WithKDF(kdf)), inputs, w, logBackend)
	if cErr := w.Close(); err == nil {
		err = cErr
	}
	if s != nil {
		logBackend.GetLogger("unwrap").Noticef("%v", s)
	}
	return err
}
