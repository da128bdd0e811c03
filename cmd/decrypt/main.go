// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/katzenpost/crowdlog/aggregator"
	"github.com/katzenpost/crowdlog/common"
	"github.com/katzenpost/crowdlog/hybrid"
)

type options struct {
	out string
	kdf string
	log common.LogFlags
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "decrypt [flags] FILE...",
		Short: "Reconstruct the e-artifacts that reached the threshold",
		Long: `decrypt groups e-artifacts by ciphertext, reconstructs the key of every
group holding at least its threshold of distinct shares, and writes the
decrypted records to the output file, followed by one statistic per
ciphertext that stayed below its threshold.`,
		Example: `  decrypt --out results.jsonl eartifacts/*.eartifacts`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(&opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.out, "out", "", "output file")
	cmd.Flags().StringVar(&opts.kdf, "kdf", hybrid.KDFMD5.String(), "symmetric key derivation: md5, sha256 or pbkdf2")
	opts.log.Register(cmd)
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}

func run(opts *options, inputs []string) (err error) {
	kdf, err := hybrid.ParseKDF(opts.kdf)
	if err != nil {
		return fmt.Errorf("invalid argument: %v", err)
	}
	logBackend, err := opts.log.Backend()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(opts.out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := f.Close(); err == nil {
			err = cErr
		}
	}()
	bw := bufio.NewWriter(f)

	agg := aggregator.New(hybrid.New(nil, hybrid.WithKDF(kdf)), logBackend)
	_, err = agg.Run(inputs, bw)
	if fErr := bw.Flush(); err == nil {
		err = fErr
	}
	return err
}
