package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	ews "github.com/smnsjas/go-ews"
	"github.com/smnsjas/go-ews/client"
	"github.com/smnsjas/go-ews/soap"
)

func newRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	o := &globalOptions{stdin: stdin, stdout: stdout, stderr: stderr}
	cmd := &cobra.Command{
		Use:           "ews-client",
		Short:         "Call Exchange Web Services operations",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.setupLogging()
		},
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	o.install(cmd.PersistentFlags())

	cmd.AddCommand(
		newInitCommand(o),
		newOperationsCommand(o),
		newRunCommand(o),
		newConvertCommand(o),
	)
	// PersistentPostRunE is skipped when RunE fails; the log file and the
	// metrics file must be written either way.
	for _, sub := range cmd.Commands() {
		run := sub.RunE
		sub.RunE = func(cmd *cobra.Command, args []string) (err error) {
			defer func() {
				if ferr := o.finish(); err == nil {
					err = ferr
				}
			}()
			return run(cmd, args)
		}
	}
	return cmd
}

func newInitCommand(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Download and repair the service documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(o, cmd, func(c *client.Client) error {
				path, err := c.Init(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(o.stdout, path)
				return nil
			})
		},
	}
}

func newOperationsCommand(o *globalOptions) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:     "operations",
		Aliases: []string{"ops"},
		Short:   "List the operations the server offers",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(o, cmd, func(c *client.Client) error {
				reg, err := c.Operations(cmd.Context())
				if err != nil {
					return err
				}
				for _, name := range reg.Names() {
					if !verbose {
						fmt.Fprintln(o.stdout, name)
						continue
					}
					op, _ := reg.Lookup(name)
					fmt.Fprintf(o.stdout, "%s\t%s\t%s\n", name, op.Input.Element.Local, op.SOAPAction)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Also print the request element and SOAP action")
	return cmd
}

type runOptions struct {
	args    string
	header  string
	query   string
	compact bool
}

func newRunCommand(o *globalOptions) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run OPERATION",
		Short: "Run an operation and print the response as JSON",
		Long: `Run an operation and print the response as JSON.

Arguments and headers are JSON documents, given inline or as @file
(@- reads standard input). Attributes go under "attributes" and element
text under "$value".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(o, cmd, args[0], opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.args, "args", "a", "", "Operation arguments as JSON or @file")
	flags.StringVar(&opts.header, "header", "", "SOAP header as JSON or @file")
	flags.StringVarP(&opts.query, "query", "q", "", "Print only the value at this path of the response")
	flags.BoolVar(&opts.compact, "compact", false, "Print compact JSON")
	return cmd
}

func runOperation(o *globalOptions, cmd *cobra.Command, op string, opts runOptions) error {
	args, err := readJSON(o.stdin, "args", opts.args)
	if err != nil {
		return err
	}
	header, err := readJSON(o.stdin, "header", opts.header)
	if err != nil {
		return err
	}

	return withClient(o, cmd, func(c *client.Client) error {
		tree, err := c.Run(cmd.Context(), op, args, header)
		if err != nil {
			var fault *soap.Fault
			if errors.As(err, &fault) && fault.Detail != nil {
				_ = printJSON(o.stderr, fault.Detail, false)
			}
			return err
		}
		if opts.query != "" {
			res := tree.Get(opts.query)
			if !res.Exists() {
				return ews.Errorf(ews.KindConfig, "query", fmt.Sprintf("no value at %q", opts.query))
			}
			return printRaw(o.stdout, res, opts.compact)
		}
		return printJSON(o.stdout, tree, opts.compact)
	})
}

func newConvertCommand(o *globalOptions) *cobra.Command {
	var compact bool
	cmd := &cobra.Command{
		Use:   "convert [FILE]",
		Short: "Convert a SOAP request into run arguments",
		Long: `Convert a SOAP request document into the operation name and the
JSON arguments that reproduce it with "run". Reads standard input when no
file is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := "-"
			if len(args) == 1 {
				src = args[0]
			}
			data, err := readSource(o.stdin, src)
			if err != nil {
				return err
			}
			op, tree, err := soap.ParseRequest(data)
			if err != nil {
				return ews.E(ews.KindProtocol, "convert", err)
			}
			out := struct {
				Operation string    `json:"operation"`
				Args      soap.Tree `json:"args"`
			}{op, tree}
			return printJSON(o.stdout, out, compact)
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "Print compact JSON")
	return cmd
}

// withClient builds a client for one command and releases it afterwards.
func withClient(o *globalOptions, cmd *cobra.Command, fn func(*client.Client) error) error {
	c, err := o.newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// readJSON resolves an inline or @file JSON flag value. An empty value
// means no tree.
func readJSON(stdin io.Reader, name, value string) (any, error) {
	if value == "" {
		return nil, nil
	}
	data := []byte(value)
	if strings.HasPrefix(value, "@") {
		var err error
		if data, err = readSource(stdin, value[1:]); err != nil {
			return nil, err
		}
	}
	if !gjson.ValidBytes(data) {
		return nil, ews.Errorf(ews.KindConfig, name, "invalid JSON")
	}
	return soap.JSON(data), nil
}

// readSource reads a file, or standard input for "-".
func readSource(stdin io.Reader, path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, ews.E(ews.KindFileSystem, "read "+path, err)
	}
	return data, nil
}

func printJSON(w io.Writer, v any, compact bool) error {
	var (
		b   []byte
		err error
	)
	if compact {
		b, err = json.Marshal(v)
	} else {
		b, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func printRaw(w io.Writer, res gjson.Result, compact bool) error {
	if res.Type == gjson.String {
		_, err := fmt.Fprintln(w, res.Str)
		return err
	}
	if compact {
		_, err := fmt.Fprintln(w, res.Raw)
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(res.Raw), "", "  "); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, buf.String())
	return err
}
