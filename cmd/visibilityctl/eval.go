package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hostuk/visibility/internal/dataapi"
	"github.com/hostuk/visibility/internal/targeting"
	"github.com/hostuk/visibility/internal/visitor"
)

type evalOptions struct {
	scope     string
	headers   []string
	now       string
	timezone  string
	disabled  bool
	startDate string
	endDate   string
}

func newEvalCmd() *cobra.Command {
	opts := &evalOptions{}

	cmd := &cobra.Command{
		Use:   "eval <rules-file>",
		Short: "Evaluate a rule file against request headers",
		Long: `Evaluate a targeting (page) or conditions (block) document against a
synthetic request. The file may be YAML or JSON; "-" reads standard input.

Example:
  visibilityctl eval landing.yaml \
    --header "CF-IPCountry: GB" \
    --header "Accept-Language: en-GB,en;q=0.8" \
    --now 2024-06-15T10:00:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readRuleFile(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			resp, err := evaluate(raw, opts)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.scope, "scope", string(targeting.ScopePage), "evaluation scope (page or block)")
	f.StringArrayVarP(&opts.headers, "header", "H", nil, `request header as "Name: value" (repeatable)`)
	f.StringVar(&opts.now, "now", "", "evaluation instant in RFC 3339 (default: current time)")
	f.StringVar(&opts.timezone, "timezone", "UTC", "IANA zone schedules are read in")
	f.BoolVar(&opts.disabled, "disabled", false, "evaluate the block as disabled (block scope)")
	f.StringVar(&opts.startDate, "start-date", "", "block start date YYYY-MM-DD (block scope)")
	f.StringVar(&opts.endDate, "end-date", "", "block end date YYYY-MM-DD (block scope)")

	return cmd
}

// readRuleFile loads a YAML or JSON document and returns it as JSON.
func readRuleFile(stdin io.Reader, path string) ([]byte, error) {
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
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return yamlToJSON(data)
}

// yamlToJSON converts a YAML (or JSON, which is YAML) mapping to JSON.
// yaml.v3 keeps timestamp-looking scalars as strings when decoding into any,
// so dates survive unchanged.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert rules to JSON: %w", err)
	}
	return out, nil
}

func evaluate(raw []byte, opts *evalOptions) (*dataapi.EvaluateResponse, error) {
	scope := targeting.Scope(opts.scope)
	if scope != targeting.ScopePage && scope != targeting.ScopeBlock {
		return nil, fmt.Errorf("invalid scope %q: must be page or block", opts.scope)
	}

	loc, err := time.LoadLocation(opts.timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", opts.timezone, err)
	}

	now := time.Now
	if opts.now != "" {
		t, err := time.Parse(time.RFC3339, opts.now)
		if err != nil {
			return nil, fmt.Errorf("invalid --now: %w", err)
		}
		now = func() time.Time { return t }
	}

	headers, err := parseHeaders(opts.headers)
	if err != nil {
		return nil, err
	}

	extractor := visitor.NewExtractor(visitor.UserAgentClassifier{}, loc, now)
	req := extractor.ExtractHeaders(headers, scope)

	engine := targeting.New(slog.New(slog.DiscardHandler))
	rules := targeting.ParseRuleSet(raw)

	var decision targeting.Decision
	if scope == targeting.ScopeBlock {
		block := targeting.Block{Enabled: !opts.disabled, Conditions: rules}
		if block.StartDate, err = optionalDate(opts.startDate, "--start-date"); err != nil {
			return nil, err
		}
		if block.EndDate, err = optionalDate(opts.endDate, "--end-date"); err != nil {
			return nil, err
		}
		decision = engine.ShouldDisplay(block, req)
	} else {
		decision = engine.EvaluatePage(rules, req)
	}

	return &dataapi.EvaluateResponse{
		Scope:            scope,
		Context:          req,
		DecisionResponse: dataapi.NewDecisionResponse(decision),
	}, nil
}

// parseHeaders turns "Name: value" pairs into a header set.
func parseHeaders(pairs []string) (http.Header, error) {
	h := make(http.Header, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q: want \"Name: value\"", p)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}

func optionalDate(s, flag string) (*targeting.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := targeting.ParseDate(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", flag, err)
	}
	return &d, nil
}
