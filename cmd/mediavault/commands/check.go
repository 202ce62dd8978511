package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/mediavault/internal/config"
	"github.com/systmms/mediavault/internal/health"
	"github.com/systmms/mediavault/internal/lifecycle"
	"github.com/systmms/mediavault/internal/logging"
	"github.com/systmms/mediavault/internal/providers"
)

type coreBuilder func(ctx context.Context, def *config.Definition, logger *logging.Logger) (*lifecycle.Core, error)

func NewCheckCommand(cfg *config.Config, debug *bool) *cobra.Command {
	return newCheckCommand(cfg, debug, lifecycle.NewFromConfig)
}

func newCheckCommand(cfg *config.Config, debug *bool, build coreBuilder) *cobra.Command {
	var skipIdentity bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check credentials, topology and connectivity",
		Long: `Fetch the secret once, open a pool for every role and the storage client,
and report what each role resolved to.

This command checks:
- Which AWS principal the credential chain resolves to
- Secret fetch and payload validity
- Role to endpoint resolution for this region
- Pool connectivity (ping and pool usage)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Logger.Info("Checking mediavault configuration...")
			if err := loadConfig(cfg, *debug); err != nil {
				cfg.Logger.Error("Configuration error: %v", err)
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg.Logger.Info("✓ Configuration loaded successfully")

			def := *cfg.Definition
			disabled := false
			def.Refresh.Enabled = &disabled

			ctx := cmd.Context()
			core, err := build(ctx, &def, cfg.Logger)
			if err != nil {
				return err
			}
			defer core.Close()

			var identity providers.STSClientAPI
			if !skipIdentity {
				client, err := providers.NewSTSClient(ctx, providers.AWSOptions{
					Region:  def.Region,
					Profile: def.Secret.Profile,
				})
				if err != nil {
					return err
				}
				identity = client
			}

			return runCheck(ctx, cmd.OutOrStdout(), core, identity)
		},
	}

	cmd.Flags().BoolVar(&skipIdentity, "skip-identity", false, "Do not call sts:GetCallerIdentity")

	return cmd
}

// runCheck starts core and prints one row per role. A nil identity
// client skips the AWS principal line.
func runCheck(ctx context.Context, out io.Writer, core *lifecycle.Core, identity providers.STSClientAPI) error {
	if identity != nil {
		id, err := providers.CallerIdentity(ctx, identity)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "AWS identity: %s (account %s)\n", id.ARN, id.Account)
	}

	resolver := core.Resolver()
	_, _ = fmt.Fprintf(out, "Region: %s (primary: %t)\n\n", resolver.Region(), resolver.IsPrimaryRegion())

	if err := core.Start(ctx); err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ROLE\tTARGET\tSTATUS\tMESSAGE\n")
	_, _ = fmt.Fprintf(w, "----\t------\t------\t-------\n")

	healthy, total := 0, 0
	for _, role := range core.Pools().Roles() {
		total++
		p, release, err := core.Pools().Acquire(role)
		if err != nil {
			_, _ = fmt.Fprintf(w, "%s\t-\t✗ error\t%v\n", role, err)
			continue
		}
		result := health.CheckSQL(ctx, string(role), p.DB(), health.DefaultSQLConfig())
		release()

		status := "✓ healthy"
		if result.Healthy {
			healthy++
		} else {
			status = "✗ error"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", role, p.Target(), status, result.Message)
	}

	total++
	if h := core.Storage().Current(); h != nil {
		healthy++
		_, _ = fmt.Fprintf(w, "storage\ts3://%s\t✓ healthy\tregion %s\n", h.Bucket, h.Region)
	} else {
		_, _ = fmt.Fprintf(w, "storage\t-\t✗ error\tno storage client\n")
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nSummary: %d/%d connections healthy\n", healthy, total)
	if healthy < total {
		return fmt.Errorf("some connections are not healthy")
	}
	return nil
}
