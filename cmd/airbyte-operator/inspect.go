package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/airbyte-operator/pkg/dbcheck"
	"github.com/cuemby/airbyte-operator/pkg/facts"
	"github.com/cuemby/airbyte-operator/pkg/plan"
	"github.com/cuemby/airbyte-operator/pkg/relations"
	"github.com/cuemby/airbyte-operator/pkg/security"
	"github.com/cuemby/airbyte-operator/pkg/storage"
	"github.com/cuemby/airbyte-operator/pkg/types"
	"github.com/cuemby/airbyte-operator/pkg/validate"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and the delivered facts",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := offlineSnapshot(cmd)
		if err != nil {
			return err
		}

		res := validate.Validate(snap)
		if !res.IsReady() {
			return fmt.Errorf("%s: %s", res.Verdict, res.Reason)
		}
		fmt.Printf("✓ %s (storage: %s)\n", res.Verdict, snap.StorageType())
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan [process...]",
	Short: "Print the plans derived from the configuration and facts",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := offlineSnapshot(cmd)
		if err != nil {
			return err
		}
		if res := validate.Validate(snap); !res.IsReady() {
			return fmt.Errorf("not ready: %s", res.Reason)
		}

		builder := plan.NewBuilder(args...)
		plans, err := builder.Build(snap)
		if err != nil {
			return err
		}

		reveal, _ := cmd.Flags().GetBool("show-secrets")
		ordered := make([]*types.ProcessPlan, 0, len(plans))
		for _, name := range builder.Processes() {
			p := plans[name]
			if !reveal {
				p = maskPlan(p)
			}
			ordered = append(ordered, p)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ordered)
	},
}

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Show the facts found in the facts directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		factsDir, _ := cmd.Flags().GetString("facts-dir")

		out := make(map[string]any, len(types.FactKinds))
		for _, kind := range types.FactKinds {
			fact, err := relations.Load(factsDir, kind)
			if err != nil {
				out[string(kind)] = map[string]string{"error": err.Error()}
				continue
			}
			if fact == nil {
				continue
			}
			out[string(kind)] = maskFact(fact)
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(out)
	},
}

var checkDBCmd = &cobra.Command{
	Use:   "check-db",
	Short: "Check that the delivered database connection accepts logins",
	RunE: func(cmd *cobra.Command, args []string) error {
		factsDir, _ := cmd.Flags().GetString("facts-dir")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		fact, err := relations.Load(factsDir, types.FactDatabase)
		if err != nil {
			return err
		}
		if fact == nil {
			return dbcheck.ErrNoConnection
		}

		checker := dbcheck.New()
		checker.Timeout = timeout
		res, err := checker.Check(context.Background(), fact.Database)
		if err != nil {
			return err
		}
		if !res.Reachable {
			return errors.New(res.Message)
		}
		fmt.Printf("✓ %s:%s/%s reachable in %s\n", fact.Database.Host, fact.Database.Port, fact.Database.Name, res.Latency.Round(time.Millisecond))
		fmt.Printf("  %s\n", res.Version)
		return nil
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List the ports the workload listens on",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PORT\tPROTOCOL")
		for _, p := range plan.Ports() {
			fmt.Fprintf(w, "%d\tTCP\n", p)
		}
		return w.Flush()
	},
}

func init() {
	planCmd.Flags().Bool("show-secrets", false, "Print credentials instead of masking them")
	checkDBCmd.Flags().Duration("timeout", dbcheck.DefaultTimeout, "Timeout for each step of the check")
}

// offlineSnapshot builds a snapshot from the config file and fact files
// without touching the operator's persisted state
func offlineSnapshot(cmd *cobra.Command) (facts.Snapshot, error) {
	configPath, _ := cmd.Flags().GetString("config")
	factsDir, _ := cmd.Flags().GetString("facts-dir")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return facts.Snapshot{}, err
	}

	store, err := facts.Open(storage.NewMemoryStore())
	if err != nil {
		return facts.Snapshot{}, err
	}
	for _, kind := range types.FactKinds {
		fact, err := relations.Load(factsDir, kind)
		if err != nil {
			return facts.Snapshot{}, err
		}
		if fact == nil {
			continue
		}
		if err := store.Set(*fact); err != nil {
			return facts.Snapshot{}, err
		}
	}
	return store.Snapshot(cfg), nil
}

const masked = "********"

func maskPlan(p *types.ProcessPlan) *types.ProcessPlan {
	out := p.Clone()
	for k := range out.Environment {
		if security.IsSecretKey(k) {
			out.Environment[k] = masked
		}
	}
	return out
}

func maskFact(f *types.Fact) *types.Fact {
	out := f.Clone()
	if out.Database != nil && out.Database.Password != "" {
		out.Database.Password = masked
	}
	if out.ObjectStore != nil {
		if out.ObjectStore.AccessKey != "" {
			out.ObjectStore.AccessKey = masked
		}
		if out.ObjectStore.SecretKey != "" {
			out.ObjectStore.SecretKey = masked
		}
	}
	return &out
}
