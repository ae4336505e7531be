package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sitechat/wa-relay-go/internal/config"
	"github.com/sitechat/wa-relay-go/internal/correlation"
	"github.com/sitechat/wa-relay-go/internal/database"
	"github.com/sitechat/wa-relay-go/internal/repository"
	"github.com/sitechat/wa-relay-go/internal/service"
)

var siteCmd = &cobra.Command{
	Use:   "site",
	Short: "Manage widget sites",
}

var siteCreateName string

var siteCreateCmd = &cobra.Command{
	Use:   "create <operator-phone>",
	Short: "Register a site and print its widget code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSiteService(cmd.Context(), func(ctx context.Context, sites *service.SiteService) error {
			var name *string
			if siteCreateName != "" {
				name = &siteCreateName
			}
			site, err := sites.Create(ctx, service.CreateSiteParams{OperatorPhone: args[0], DisplayName: name})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s site %s\n", color.GreenString("created"), color.CyanString(site.Code))
			fmt.Fprintf(out, "  operator: %s\n", site.OperatorPhone)
			fmt.Fprintf(out, "  label:    %s\n", site.Label())
			return nil
		})
	},
}

var siteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sites",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSiteService(cmd.Context(), func(ctx context.Context, sites *service.SiteService) error {
			list, err := sites.List(ctx)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("no sites yet; create one with: wa-relay site create <operator-phone>"))
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tOPERATOR\tLABEL\tCREATED")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Code, s.OperatorPhone, s.Label(), s.CreatedAt.Format("2006-01-02"))
			}
			return tw.Flush()
		})
	},
}

func init() {
	siteCreateCmd.Flags().StringVar(&siteCreateName, "name", "", "label the operator sees in front of relayed messages")
	siteCmd.AddCommand(siteCreateCmd)
	siteCmd.AddCommand(siteListCmd)
}

func withSiteService(ctx context.Context, fn func(context.Context, *service.SiteService) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setLogLevel(cfg.LogLevel)

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	sites := service.NewSiteService(repository.NewSiteRepository(db.DB), correlation.NewNormalizer(cfg.CountryCode))
	return fn(ctx, sites)
}
