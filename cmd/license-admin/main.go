package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"appliance-license/config"
	"appliance-license/internal/api"
	"appliance-license/internal/auth"
	"appliance-license/internal/issuer"
	"appliance-license/internal/license"
	"appliance-license/internal/logging"
)

const usage = `License Administration Tool

Usage:
  license-admin generate [flags]      encode a license and write the key file
  license-admin inspect [flags]       decode a key file and print it as JSON
  license-admin token [flags]         mint an operator token for the API
  license-admin sample-config [flags] write a sample config.json

Run "license-admin <command> --help" for flags.
`

func main() {
	logging.SetDefault(logging.New(&logging.Config{
		Level:     "WARN",
		Output:    "stderr",
		Component: "license-admin",
	}))

	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		if code := license.CodeOf(err); code != "" {
			fmt.Fprintln(os.Stderr, "code:", code)
		}
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return fmt.Errorf("missing command")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	switch args[0] {
	case "generate":
		return runGenerate(cfg, args[1:], out)
	case "inspect":
		return runInspect(cfg, args[1:], out)
	case "token":
		return runToken(cfg, args[1:], out)
	case "sample-config":
		return runSampleConfig(args[1:], out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runGenerate(cfg *config.Config, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("generate", pflag.ContinueOnError)
	fs.SetOutput(out)

	req := api.LicenseRequest{Duration: new(uint64)}
	fs.StringVar(&req.Model, "model", "", "appliance model")
	fs.StringVar(&req.SystemSerial, "serial", "", "system serial (required)")
	fs.StringVar(&req.SystemSerialHA, "serial-ha", "", "HA peer system serial")
	fs.StringVar(&req.ContractType, "contract-type", "standard", "contract type")
	fs.StringVar(&req.ContractHardware, "hardware", "parts", "hardware support level")
	fs.StringVar(&req.ContractSoftware, "software", "none", "software support level")
	fs.StringVar(&req.ContractStart, "start", "", "contract start, YYYY-MM-DD (default today)")
	fs.Uint64Var(req.Duration, "duration", cfg.IssuerConfig.DefaultDurationDays, "contract length in days")
	fs.StringVar(&req.CustomerName, "customer-name", "", "customer name")
	fs.StringVar(&req.CustomerKey, "customer-key", "", "customer key")
	fs.StringSliceVar(&req.Features, "feature", nil, "feature name, repeatable (dedup, jails, fibrechannel, vm)")
	addhw := fs.StringSlice("addhw", nil, "additional hardware as quantity:type, repeatable")
	output := fs.StringP("out", "o", cfg.IssuerConfig.KeyFile, `key file to write, "-" for stdout`)
	printJSON := fs.Bool("json", false, "also print the decoded license as JSON")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if req.SystemSerial == "" {
		return fmt.Errorf("--serial is required")
	}

	for _, item := range *addhw {
		pair, err := parseAddHW(item)
		if err != nil {
			return err
		}
		req.AddHW = append(req.AddHW, pair)
	}

	f, err := req.Fields(cfg.IssuerConfig.DefaultDurationDays)
	if err != nil {
		return err
	}

	svc, err := issuer.NewService(issuer.Options{
		Registry:            issuer.NewMemoryRegistry(),
		DefaultDurationDays: cfg.IssuerConfig.DefaultDurationDays,
	})
	if err != nil {
		return err
	}

	l, key, err := svc.Encode(f)
	if err != nil {
		return err
	}

	if *output == "-" {
		fmt.Fprintln(out, key)
	} else {
		if err := os.WriteFile(*output, []byte(key+"\n"), 0600); err != nil {
			return fmt.Errorf("failed to write key file: %w", err)
		}
		fmt.Fprintf(out, "License for %s written to %s\n", l.SystemSerial(), *output)
	}

	if *printJSON {
		return writeJSON(out, l.View(time.Now()))
	}
	return nil
}

func runInspect(cfg *config.Config, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	fs.SetOutput(out)

	input := fs.StringP("in", "i", cfg.IssuerConfig.KeyFile, `key file to read, "-" for stdin`)
	key := fs.String("key", "", "decode this key instead of reading a file")
	asOf := fs.String("as-of", "", "evaluate expiry on this date, YYYY-MM-DD (default today)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	raw := *key
	if raw == "" {
		var data []byte
		var err error
		if *input == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(*input)
		}
		if err != nil {
			return fmt.Errorf("failed to read key file: %w", err)
		}
		raw = string(data)
	}

	day := time.Now()
	if *asOf != "" {
		t, err := time.Parse("2006-01-02", *asOf)
		if err != nil {
			return fmt.Errorf("invalid --as-of date: %w", err)
		}
		day = t
	}

	l, err := license.Decode(raw)
	if err != nil {
		return err
	}

	return writeJSON(out, struct {
		license.View
		ProactiveSupport bool `json:"proactive_support"`
	}{l.View(day), l.ProactiveSupport()})
}

func runToken(cfg *config.Config, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	fs.SetOutput(out)

	operator := fs.String("operator", "", "operator id (required)")
	admin := fs.Bool("admin", false, "grant permission to issue licenses")
	ttl := fs.Duration("ttl", cfg.AuthConfig.AccessTokenDuration, "token lifetime")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is not set")
	}

	m := auth.NewJWTManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.Issuer, *ttl)
	resp, err := m.IssueToken(auth.OperatorClaims{OperatorID: *operator, IsAdmin: *admin})
	if err != nil {
		return err
	}
	return writeJSON(out, resp)
}

func runSampleConfig(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("sample-config", pflag.ContinueOnError)
	fs.SetOutput(out)
	output := fs.StringP("out", "o", config.DefaultConfigFile, "file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := config.GenerateSampleConfig(*output); err != nil {
		return err
	}
	fmt.Fprintf(out, "Sample configuration written to %s\n", *output)
	return nil
}

func parseAddHW(s string) ([2]int8, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return [2]int8{}, fmt.Errorf("invalid --addhw %q, want quantity:type", s)
	}
	var pair [2]int8
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return [2]int8{}, fmt.Errorf("invalid --addhw %q: %w", s, err)
		}
		pair[i] = int8(n)
	}
	return pair, nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
