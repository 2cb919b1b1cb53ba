package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/unclebandit/smsleopard-delivery/internal/model"
)

var (
	seedCredits  int
	seedShopURL  string
	seedSkipDemo bool
)

var seedCmd = &cobra.Command{
	Use:   "seed [sql-file...]",
	Short: "Load SQL seed files, then a demo tenant with customers, campaigns and automations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			for _, file := range args {
				content, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
				if _, err := a.db.ExecContext(ctx, string(content)); err != nil {
					return fmt.Errorf("execute %s: %w", file, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded: %s\n", file)
			}
			if seedSkipDemo {
				return nil
			}
			tenantID, err := seedDemo(ctx, a)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Demo tenant %d seeded\n", tenantID)
			return nil
		})
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedCredits, "credits", 100, "Opening credits of the demo tenant")
	seedCmd.Flags().StringVar(&seedShopURL, "shop-url", "", "Feed base URL of the demo tenant; automations are seeded when set")
	seedCmd.Flags().BoolVar(&seedSkipDemo, "skip-demo", false, "Only load the given SQL files")
}

var demoCustomers = []model.Customer{
	{Phone: "0712345678", FirstName: "Amina", LastName: "Otieno", Location: "Nairobi", PreferredProduct: "sneakers"},
	{Phone: "+254722000111", FirstName: "Brian", LastName: "Mwangi", Location: "Mombasa", PreferredProduct: "backpacks"},
	{Phone: "0733 555 222", FirstName: "Cynthia", LastName: "Wanjiru", Location: "Kisumu", PreferredProduct: "watches"},
	{Phone: "0799999999", FirstName: "Daniel", LastName: "Kiprop", Location: "Eldoret", OptedOut: true},
	{Phone: "12345", FirstName: "Invalid", LastName: "Number"},
}

func seedDemo(ctx context.Context, a *app) (int, error) {
	tenant := &model.Tenant{Name: "Demo Shop", SenderID: "DEMOSHOP", ShopBaseURL: seedShopURL}
	if err := a.tenants.Create(ctx, tenant); err != nil {
		return 0, fmt.Errorf("create tenant: %w", err)
	}
	if seedCredits > 0 {
		ref := fmt.Sprintf("seed:tenant:%d", tenant.ID)
		if _, err := a.ledger.TopUp(ctx, tenant.ID, seedCredits, ref); err != nil {
			return 0, err
		}
	}

	for _, c := range demoCustomers {
		c.TenantID = tenant.ID
		if err := a.customers.Create(ctx, &c); err != nil {
			return 0, fmt.Errorf("create customer: %w", err)
		}
	}

	scheduledAt := time.Now().Add(time.Minute)
	campaigns := []*model.Campaign{
		{TenantID: tenant.ID, Name: "Weekend sale", BaseTemplate: "Hi {first_name}, {preferred_product} are 20% off in {location} this weekend."},
		{TenantID: tenant.ID, Name: "New arrivals", BaseTemplate: "Hi {first_name}, new {preferred_product} just landed.", Status: model.CampaignScheduled, ScheduledAt: &scheduledAt},
	}
	for _, c := range campaigns {
		if err := a.campaigns.Create(ctx, c); err != nil {
			return 0, fmt.Errorf("create campaign: %w", err)
		}
	}

	if seedShopURL == "" {
		return tenant.ID, nil
	}
	automations := []*model.Automation{
		{TenantID: tenant.ID, Type: model.AutomationOrderCreated, Template: "Hi {first_name}, we received order {order_number} ({total}).", Active: true},
		{TenantID: tenant.ID, Type: model.AutomationOrderFulfilled, Template: "Hi {first_name}, order {order_number} is on its way.", Active: true},
		{TenantID: tenant.ID, Type: model.AutomationCustomerCreated, Template: "Welcome to Demo Shop, {first_name}!", Active: true},
	}
	for _, au := range automations {
		if err := a.automations.Upsert(ctx, au); err != nil {
			return 0, fmt.Errorf("create automation: %w", err)
		}
	}
	return tenant.ID, nil
}
