package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghalamif/AegisHealth/pkg/aegishealth"
)

func newStateCmd() *cobra.Command {
	var (
		tenantID string
		assetID  string
		audit    int
	)
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the committed state and recent audit records of an asset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := aegishealth.LoadConfig(configPath(cmd))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			st, closeStore, err := aegishealth.OpenStore(ctx, cfg.Store, logger)
			if err != nil {
				return err
			}
			if closeStore != nil {
				defer closeStore()
			}
			return printAsset(ctx, cmd.OutOrStdout(), st, aegishealth.AssetKey{TenantID: tenantID, AssetID: assetID}, audit)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID")
	cmd.Flags().StringVar(&assetID, "asset", "", "Asset ID")
	cmd.Flags().IntVar(&audit, "audit", 10, "Number of audit records to print (0 disables)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("asset")
	return cmd
}

type assetReport struct {
	State aegishealth.State         `json:"state"`
	Audit []aegishealth.AuditRecord `json:"audit,omitempty"`
}

func printAsset(ctx context.Context, w io.Writer, st aegishealth.StateStore, key aegishealth.AssetKey, audit int) error {
	state, err := st.Get(ctx, key)
	if errors.Is(err, aegishealth.ErrStateNotFound) {
		return fmt.Errorf("no state recorded for %s", key)
	}
	if err != nil {
		return err
	}

	report := assetReport{State: state}
	if reader, ok := st.(aegishealth.AuditReader); ok && audit > 0 {
		report.Audit, err = reader.ListAudit(ctx, key, audit)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
