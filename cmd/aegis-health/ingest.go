package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghalamif/AegisHealth/pkg/aegishealth"
)

func newIngestCmd() *cobra.Command {
	var (
		baseURL  string
		tenantID string
		assetID  string
		load     float64
		temp     float64
		seq      uint64
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Send one reading to a running instance and print the resulting state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := aegishealth.Reading{
				Load:        aegishealth.Float(load),
				Temperature: aegishealth.Float(temp),
				Sequence:    seq,
			}
			client := &http.Client{Timeout: timeout}
			return postReading(client, cmd.OutOrStdout(), baseURL, tenantID, assetID, r)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "Base URL of the HTTP API")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID")
	cmd.Flags().StringVar(&assetID, "asset", "", "Asset ID")
	cmd.Flags().Float64Var(&load, "load", 0, "Load percentage")
	cmd.Flags().Float64Var(&temp, "temp", 0, "Operating temperature")
	cmd.Flags().Uint64Var(&seq, "seq", 0, "Sequence number")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	for _, name := range []string{"tenant", "asset", "load", "temp", "seq"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func postReading(client *http.Client, w io.Writer, baseURL, tenantID, assetID string, r aegishealth.Reading) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	url := strings.TrimRight(baseURL, "/") + "/v1/assets/" + assetID + "/telemetry"
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingest: %s: %s", resp.Status, bytes.TrimSpace(out))
	}
	_, err = fmt.Fprintln(w, string(bytes.TrimSpace(out)))
	return err
}
