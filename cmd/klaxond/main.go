package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"klaxon/internal/config"
	"klaxon/internal/logger"
	"klaxon/internal/models"
	"klaxon/internal/processor"
	"klaxon/internal/providers"
	"klaxon/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "klaxond",
		Short:         "Policy-based alert evaluation and delivery engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newCheckCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the alert engine daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger.Init(cfg.Log.Level)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return processor.New(cfg).Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var storePath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a policy/provider store file",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Init("warn")

			doc, err := store.ReadDocument(storePath)
			if err != nil {
				return err
			}
			problems := checkDocument(cmd, doc)

			cmd.Printf("checked %d policies, %d providers, %d suppressions\n",
				len(doc.Policies), len(doc.Providers), len(doc.Suppressions))
			if problems > 0 {
				return fmt.Errorf("%d problem(s) found", problems)
			}
			cmd.Println("ok")
			return nil
		},
	}

	cmd.Flags().StringVarP(&storePath, "store", "s", "", "path to store file")
	cmd.MarkFlagRequired("store")
	return cmd
}

// checkDocument validates every entry and reports each problem; the
// count is the exit criterion.
func checkDocument(cmd *cobra.Command, doc *store.Document) int {
	problems := 0
	fail := func(format string, args ...any) {
		problems++
		cmd.Printf("FAIL: "+format+"\n", args...)
	}

	known := make(map[string]models.Provider, len(doc.Providers))
	registry := providers.DefaultRegistry(nil)

	for i, p := range doc.Providers {
		if err := p.Validate(); err != nil {
			fail("provider %d (%s): %v", i, p.ID, err)
			continue
		}
		known[p.ID] = p

		adapter, err := registry.Get(p.Type)
		if err != nil {
			fail("provider %s: %v", p.ID, err)
			continue
		}
		if err := adapter.ValidateConfig(p.Config); err != nil {
			fail("provider %s: config: %v", p.ID, err)
		}
	}

	for i, p := range doc.Policies {
		if err := p.Validate(); err != nil {
			fail("policy %d (%s): %v", i, p.ID, err)
			continue
		}

		// Regex rules must compile; the evaluator would treat them as
		// never-matching at runtime.
		for j, r := range p.Rules {
			if r.Operator != models.OpRegex {
				continue
			}
			pattern, ok := r.Value.(string)
			if !ok {
				fail("policy %s: rule %d: regex value must be a string", p.ID, j)
				continue
			}
			if _, err := regexp.Compile(pattern); err != nil {
				fail("policy %s: rule %d: %v", p.ID, j, err)
			}
		}

		for _, providerID := range p.Providers {
			if _, ok := known[providerID]; !ok {
				fail("policy %s: unknown provider %q", p.ID, providerID)
			}
		}
	}

	for i, s := range doc.Suppressions {
		if s.PolicyID == "" {
			fail("suppression %d: policy_id is required", i)
		}
		if s.Until.IsZero() {
			fail("suppression %d (%s): until is required", i, s.PolicyID)
		}
	}

	return problems
}
