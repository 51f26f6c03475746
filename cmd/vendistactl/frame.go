package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abrant-ru/vendista/slave"
)

func frameCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frame",
		Short: "Encode or decode frames with the configured layout",
	}

	cmd.AddCommand(frameEncodeCmd(opts), frameDecodeCmd(opts))

	return cmd
}

func frameEncodeCmd(opts *rootOptions) *cobra.Command {
	var (
		command string
		seq     uint8
		payload string
	)

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Print the wire bytes of a frame",
		Example: `  vendistactl frame encode --command 0x05 --seq 1 --payload f401
  vendistactl frame encode --command ShowPicture --payload 02`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			code, err := parseCommand(command)
			if err != nil {
				return err
			}
			data, err := parseHex(payload)
			if err != nil {
				return fmt.Errorf("payload: %w", err)
			}

			wire, err := cfg.Protocol.Layout.Encode(slave.Frame{Command: code, Sequence: seq, Payload: data})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(wire))

			return nil
		},
	}

	cmd.Flags().StringVar(&command, "command", "", "command code (0x05) or name (VendRequest)")
	cmd.Flags().Uint8Var(&seq, "seq", 0, "sequence id")
	cmd.Flags().StringVar(&payload, "payload", "", "payload as hex")
	_ = cmd.MarkFlagRequired("command")

	return cmd
}

func frameDecodeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode every frame found in a hex byte stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			buf, err := parseHex(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			layout := cfg.Protocol.Layout
			offset := 0
			for len(buf) > 0 {
				f, n, err := layout.Decode(buf)
				switch {
				case err == nil:
					fmt.Fprintf(out, "@%d %s\n", offset, f)
				case errors.Is(err, slave.ErrNeedMoreData):
					fmt.Fprintf(out, "@%d incomplete frame, %d bytes left\n", offset, len(buf))
					return nil
				default:
					fmt.Fprintf(out, "@%d skip %d bytes: %v\n", offset, n, err)
				}
				buf = buf[n:]
				offset += n
			}

			return nil
		},
	}
}

// parseCommand accepts a numeric code or a command name.
func parseCommand(s string) (slave.Command, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseUint(s, 0, 8); err == nil {
		return slave.Command(v), nil
	}

	for code := 0; code <= 0xFF; code++ {
		c := slave.Command(code)
		if strings.EqualFold(c.String(), s) {
			return c, nil
		}
	}

	return 0, fmt.Errorf("unknown command %q", s)
}

func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(s)
	if s == "" {
		return nil, nil
	}

	return hex.DecodeString(s)
}
