// ABOUTME: Offline admin subcommands that operate on the store directly
// ABOUTME: sweep runs one expiry pass; licenses prints a tenant's grants

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/2389/license-gateway/internal/entitlement"
	"github.com/2389/license-gateway/internal/gateway"
	"github.com/2389/license-gateway/internal/store"
)

// openManager loads config and opens the store behind a license manager.
func openManager(ctx context.Context) (*entitlement.Manager, store.Store, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := setupLogger(cfg.Logging, os.Stderr)

	s, err := gateway.OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return entitlement.NewManager(s, s, s, logger), s, nil
}

func runSweep(ctx context.Context) error {
	m, s, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := m.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweeping licenses: %w", err)
	}
	color.New(color.FgGreen).Printf("  ✓ Expired %d license(s)\n", n)
	return nil
}

func runLicenses(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, "tenant")
	if err != nil {
		return err
	}
	tenantID, err := strconv.ParseInt(flags["tenant"], 10, 64)
	if err != nil || tenantID <= 0 {
		return fmt.Errorf("--tenant must be a positive tenant id")
	}

	m, s, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	views, err := m.List(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("listing licenses: %w", err)
	}
	if len(views) == 0 {
		fmt.Printf("Tenant %d has no licenses\n", tenantID)
		return nil
	}
	return printLicenses(os.Stdout, views)
}

func printLicenses(out io.Writer, views []*entitlement.LicenseView) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRODUCT\tSCOPE\tPRINCIPAL\tPLAN\tSTATUS\tVALID UNTIL")
	for _, v := range views {
		product := v.ProductKey
		if v.ProductName != "" {
			product = fmt.Sprintf("%s (%s)", v.ProductKey, v.ProductName)
		}
		principal := "-"
		if v.PrincipalID != nil {
			principal = strconv.FormatInt(*v.PrincipalID, 10)
		}
		validUntil := "perpetual"
		if v.ValidUntil != nil {
			validUntil = v.ValidUntil.Format("2006-01-02 15:04 MST")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", product, v.LicenseType, principal, v.Plan, v.Status, validUntil)
	}
	return w.Flush()
}
