package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rxtrust/rxtrust-api/types"
)

func newAuditCmd(opts *rootOptions) *cobra.Command {
	var (
		req     types.AuditRequest
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit a single drug batch",
		Example: `  rxtrust audit --product Paracetamol --batch A123 --manufacturer "ABC Labs"
  rxtrust audit --product Olmesartan --batch OLM24120 --manufacturer Olmax --diabetes --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.service.Audit(cmd.Context(), req)
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printAudit(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.ProductName, "product", "", "Product name")
	f.StringVar(&req.BatchNumber, "batch", "", "Batch number")
	f.StringVar(&req.Manufacturer, "manufacturer", "", "Manufacturer name")
	f.BoolVar(&req.GuardianProfile.Diabetes, "diabetes", false, "Patient has diabetes")
	f.BoolVar(&req.GuardianProfile.LiverIssues, "liver", false, "Patient has liver disease")
	f.BoolVar(&req.GuardianProfile.KidneyIssues, "kidney", false, "Patient has kidney disease")
	f.StringSliceVar(&req.GuardianProfile.Allergies, "allergy", nil, "Known allergen (repeatable)")
	f.BoolVar(&jsonOut, "json", false, "Print the full response as JSON")
	for _, name := range []string{"product", "batch", "manufacturer"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func verdictColor(v types.Verdict) *color.Color {
	switch v {
	case types.VerdictAlert:
		return color.New(color.FgRed, color.Bold)
	case types.VerdictCaution:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgGreen, color.Bold)
	}
}

func printAudit(w io.Writer, resp *types.AuditResponse) {
	header := color.New(color.FgYellow, color.Bold)
	label := color.New(color.FgCyan)

	header.Fprintf(w, "Audit: %s / %s / %s\n", resp.Request.ProductName, resp.Request.BatchNumber, resp.Request.Manufacturer)
	fmt.Fprintf(w, "%s %s (risk %d, confidence %.2f)\n", label.Sprint("Verdict:"),
		verdictColor(resp.Verdict).Sprint(strings.ToUpper(string(resp.Verdict))), resp.RiskScore, resp.Confidence)
	if resp.Cached {
		fmt.Fprintf(w, "%s served from cache\n", label.Sprint("Cache:"))
	}
	fmt.Fprintf(w, "%s %s\n", label.Sprint("Summary:"), resp.Summary)
	fmt.Fprintf(w, "%s %s\n", label.Sprint("Rationale:"), resp.Reasoning.Rationale)
	if len(resp.Guardian.PersonalizedFlags) > 0 {
		fmt.Fprintf(w, "%s +%d\n", label.Sprint("Guardian:"), resp.Guardian.PersonalizedRiskDelta)
		for _, flag := range resp.Guardian.PersonalizedFlags {
			fmt.Fprintf(w, "  - %s\n", flag)
		}
	}
	fmt.Fprintln(w, label.Sprint("Evidence:"))
	for _, link := range resp.Evidence {
		fmt.Fprintf(w, "  [%s] %s\n", link.Source, link.URL)
	}
}
