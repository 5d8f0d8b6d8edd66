// Command schemacodec is a small devtool for exercising schema decode,
// encode, and compact binary packing from the shell, useful for poking at a
// schema document before wiring it into a real decoder pipeline.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nimbusdevices/schemacodec/internal/devtool"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var roots []string

	root := &cobra.Command{
		Use:   "schemacodec",
		Short: "Inspect and exercise declarative binary schemas",
	}
	root.PersistentFlags().StringSliceVar(&roots, "root", nil, "reusable field-definition search root (repeatable)")

	root.AddCommand(newDecodeCmd(&roots))
	root.AddCommand(newEncodeCmd(&roots))
	root.AddCommand(newFanoutCmd(&roots))
	root.AddCommand(newPackCmd(&roots))
	root.AddCommand(newUnpackCmd())
	return root
}

func newDecodeCmd(roots *[]string) *cobra.Command {
	var port int
	var hasPort bool
	var payload string

	cmd := &cobra.Command{
		Use:   "decode SCHEMA",
		Short: "Decode a hex payload against a schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := devtool.LoadSchema(args[0], *roots)
			if err != nil {
				return err
			}
			var portPtr *int
			if hasPort {
				portPtr = &port
			}
			result, err := devtool.DecodeHex(schema, payload, portPtr, nil)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "hex-encoded payload bytes")
	cmd.Flags().IntVar(&port, "port", 0, "port number, for port-keyed schemas")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		hasPort = cmd.Flags().Changed("port")
		if payload == "" {
			return fmt.Errorf("--payload is required")
		}
		return nil
	}
	return cmd
}

func newEncodeCmd(roots *[]string) *cobra.Command {
	var port int
	var hasPort bool
	var record string

	cmd := &cobra.Command{
		Use:   "encode SCHEMA",
		Short: "Encode a JSON record against a schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := devtool.LoadSchema(args[0], *roots)
			if err != nil {
				return err
			}
			var portPtr *int
			if hasPort {
				portPtr = &port
			}
			result, err := devtool.EncodeJSON(schema, record, portPtr)
			if err != nil {
				return err
			}
			return printJSON(struct {
				Payload  string   `json:"payload_hex"`
				Warnings []string `json:"warnings,omitempty"`
				Errors   []string `json:"errors,omitempty"`
			}{
				Payload:  fmt.Sprintf("%x", result.Payload),
				Warnings: result.Warnings,
				Errors:   errStrings(result.Errors),
			})
		},
	}
	cmd.Flags().StringVar(&record, "record", "", "JSON object to encode")
	cmd.Flags().IntVar(&port, "port", 0, "port number, for port-keyed schemas")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		hasPort = cmd.Flags().Changed("port")
		if record == "" {
			return fmt.Errorf("--record is required")
		}
		return nil
	}
	return cmd
}

func newFanoutCmd(roots *[]string) *cobra.Command {
	var port int
	var hasPort bool
	var payloads string

	cmd := &cobra.Command{
		Use:   "fanout SCHEMA",
		Short: "Concurrently decode a comma-separated list of hex payloads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := devtool.LoadSchema(args[0], *roots)
			if err != nil {
				return err
			}
			var portPtr *int
			if hasPort {
				portPtr = &port
			}
			list := strings.Split(payloads, ",")
			results, err := devtool.FanOutDecode(context.Background(), schema, list, portPtr)
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	cmd.Flags().StringVar(&payloads, "payloads", "", "comma-separated hex payloads")
	cmd.Flags().IntVar(&port, "port", 0, "port number, for port-keyed schemas")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		hasPort = cmd.Flags().Changed("port")
		if payloads == "" {
			return fmt.Errorf("--payloads is required")
		}
		return nil
	}
	return cmd
}

func newPackCmd(roots *[]string) *cobra.Command {
	var checksum, v1 bool

	cmd := &cobra.Command{
		Use:   "pack SCHEMA",
		Short: "Serialize a schema into the compact binary form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := devtool.LoadSchema(args[0], *roots)
			if err != nil {
				return err
			}
			encoded, warnings, err := devtool.PackBinary(schema, checksum, v1)
			if err != nil {
				return err
			}
			return printJSON(struct {
				Encoded  string   `json:"encoded"`
				Warnings []string `json:"warnings,omitempty"`
			}{encoded, warnings})
		},
	}
	cmd.Flags().BoolVar(&checksum, "checksum", false, "append a CRC32 trailer")
	cmd.Flags().BoolVar(&v1, "v1", false, "require the flat v1 form and print it as hex instead of base64")
	return cmd
}

func newUnpackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unpack ENCODED",
		Short: "Decode a compact binary schema and print its field descriptors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := devtool.UnpackBinary(args[0])
			if err != nil {
				return err
			}
			return printJSON(doc)
		},
	}
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errStrings(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}
