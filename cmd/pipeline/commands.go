package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/smsleopard-delivery/internal/db"
	"github.com/unclebandit/smsleopard-delivery/internal/delivery"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run queue workers, periodic passes and the ops listener",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(true, true)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run queue workers only",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(true, false)
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the periodic passes only (scheduler, status sync, event poll, retention)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(false, true)
	},
}

func serve(workers, periodic bool) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	a.watchBroker(gctx, g)
	if workers {
		if err := a.runWorkers(gctx, g); err != nil {
			return err
		}
	}
	if periodic {
		if err := a.runPeriodic(gctx, g); err != nil {
			return err
		}
	}
	a.serveOps(gctx, g)

	err = g.Wait()
	log.WithField("module", "pipeline").Info("shutdown complete")
	return err
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if err := db.Migrate(ctx, a.db); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		})
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Run retention once: stale fallback jobs, finished jobs and old processed events",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.queue.Fallback().Maintain(ctx); err != nil {
				return err
			}
			n, err := a.poller().Prune(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d processed events\n", n)
			return nil
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <campaign-id>",
	Short: "Cancel a draft or scheduled campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := positiveArg(args[0], "campaign id")
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.scheduler().Cancel(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "campaign %d cancelled\n", id)
			return nil
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync [campaign-id]",
	Short: "Refresh provider delivery status now, for one campaign or all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			s, err := a.synchronizer()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				res, err := s.SyncAll(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", res)
				return nil
			}
			id, err := positiveArg(args[0], "campaign id")
			if err != nil {
				return err
			}
			res, err := s.SyncCampaign(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", res)
			return nil
		})
	},
}

var previewTemplate string

var previewCmd = &cobra.Command{
	Use:   "preview <campaign-id> <customer-id>",
	Short: "Render a campaign message for one customer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		campaignID, err := positiveArg(args[0], "campaign id")
		if err != nil {
			return err
		}
		customerID, err := positiveArg(args[1], "customer id")
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			c, err := a.campaigns.GetByID(ctx, campaignID)
			if err != nil {
				return err
			}
			customer, err := a.customers.GetByID(ctx, customerID)
			if err != nil {
				return err
			}
			if customer == nil || customer.TenantID != c.TenantID {
				return fmt.Errorf("customer %d not found for campaign %d", customerID, campaignID)
			}
			template := c.BaseTemplate
			if previewTemplate != "" {
				template = previewTemplate
			}
			phone, ok := delivery.NormalizePhone(customer.Phone, cfg.PhoneRegion)
			if !ok {
				phone = customer.Phone + " (invalid, would be skipped)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "to: %s\n%s\n", phone, delivery.RenderTemplate(template, customer.TemplateData()))
			return nil
		})
	},
}

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and top up tenant credits",
}

var topUpReference string

var creditsTopUpCmd = &cobra.Command{
	Use:   "topup <tenant-id> <count>",
	Short: "Grant purchased credits",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, err := positiveArg(args[0], "tenant id")
		if err != nil {
			return err
		}
		count, err := positiveArg(args[1], "count")
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			bal, err := a.ledger.TopUp(ctx, tenantID, count, topUpReference)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "balance %d (replayed: %t)\n", bal.Remaining, bal.Replayed)
			return nil
		})
	},
}

var creditsCheckCmd = &cobra.Command{
	Use:   "check <tenant-id> <count>",
	Short: "Preview whether a tenant could send count messages",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, err := positiveArg(args[0], "tenant id")
		if err != nil {
			return err
		}
		count, err := positiveArg(args[1], "count")
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			p, err := a.ledger.CheckOnly(ctx, tenantID, count)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sufficient %t, available %d, missing %d\n", p.Sufficient, p.Available, p.Missing)
			return nil
		})
	},
}

var creditsVerifyCmd = &cobra.Command{
	Use:   "verify <tenant-id>",
	Short: "Compare a tenant balance with its ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, err := positiveArg(args[0], "tenant id")
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			d, err := a.ledger.Verify(ctx, tenantID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "balance %d, ledger sum %d\n", d.Balance, d.LedgerSum)
			if !d.Consistent() {
				return fmt.Errorf("tenant %d ledger drift", tenantID)
			}
			return nil
		})
	},
}

func init() {
	previewCmd.Flags().StringVar(&previewTemplate, "template", "", "Render this template instead of the campaign's")
	creditsTopUpCmd.Flags().StringVar(&topUpReference, "reference", "", "Idempotency reference, e.g. a payment id")
	creditsCmd.AddCommand(creditsTopUpCmd, creditsCheckCmd, creditsVerifyCmd)
}

func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func positiveArg(s, name string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, s)
	}
	return n, nil
}
