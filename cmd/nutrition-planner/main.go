package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"nutrition-planner/internal/app"
	"nutrition-planner/internal/config"
	"nutrition-planner/internal/logger"
	"nutrition-planner/internal/planner"
	"nutrition-planner/internal/shopping"
	"nutrition-planner/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "Warning: .env file not found")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "nutrition-planner",
		Short:         "Generate validated multi-day nutrition plans for patients",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(generateCmd(), plansCmd(), shoppingListCmd(), deletePlanCmd(), exportsCmd(),
		patientsCmd(), metricsCmd(), metricsCleanupCmd())
	return cmd
}

// withApp loads the configuration, builds the application and closes it after fn.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := config.NewFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// stdout carries command output.
	output := cfg.LogOutput
	if output == "" || output == "stdout" {
		output = "stderr"
	}
	log, closer, err := logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, OutputPath: output})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closer.Close()

	a, err := app.New(ctx, cfg, log, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Failed to close application", "error", err)
		}
	}()
	return fn(a)
}

func generateCmd() *cobra.Command {
	var (
		req       app.GenerateRequest
		noSave    bool
		exportDir string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a meal plan and print it as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.Save = !noSave
			req.OnProgress = progressPrinter(cmd.ErrOrStderr())
			return withApp(cmd.Context(), func(a *app.App) error {
				out, err := a.GeneratePlan(cmd.Context(), req)
				if err != nil {
					return err
				}
				if exportDir != "" {
					path, err := exportPlan(exportDir, req.PatientID, out)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "Plan exported to %s\n", path)
				}
				return writePlan(cmd.OutOrStdout(), out)
			})
		},
	}

	cmd.Flags().StringVar(&req.PatientID, "patient", "", "Patient ID")
	cmd.Flags().IntVar(&req.Days, "days", planner.DefaultDays, "Number of days (1-14)")
	cmd.Flags().BoolVar(&req.Fast, "fast", false, "Use the fast mode (shorter prompts, no variety repair)")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "Additional notes, e.g. \"ohne Fleisch\"")
	cmd.Flags().DurationVar(&req.Timeout, "timeout", 0, "Per-call timeout of the first pass (default from config)")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not store the plan in the database")
	cmd.Flags().StringVar(&exportDir, "export-dir", "", "Also write the plan as a JSON file into this directory")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func progressPrinter(w io.Writer) planner.ProgressFunc {
	return func(p planner.Progress) {
		fmt.Fprintf(w, "[%d/%d] %s\n", p.Completed, p.Total, p.Message)
	}
}

type planOutput struct {
	PlanID       string           `json:"planId,omitempty"`
	RunID        string           `json:"runId"`
	Prompt       string           `json:"prompt"`
	Plan         planner.MealPlan `json:"plan"`
	ShoppingList shopping.List    `json:"shoppingList"`
}

func newPlanOutput(out *app.Generated) planOutput {
	return planOutput{
		PlanID:       out.PlanID,
		RunID:        out.RunID,
		Prompt:       out.Prompt,
		Plan:         out.Plan,
		ShoppingList: out.ShoppingList,
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writePlan(w io.Writer, out *app.Generated) error {
	return writeJSON(w, newPlanOutput(out))
}

func exportPlan(dir, patientID string, out *app.Generated) (string, error) {
	archive, err := storage.NewPlanArchive(dir)
	if err != nil {
		return "", err
	}
	return archive.Save(patientID, out.RunID, newPlanOutput(out))
}

func plansCmd() *cobra.Command {
	var (
		patientID string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "List the latest stored plans of a patient",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				plans, err := a.RecentPlans(cmd.Context(), patientID, limit)
				if err != nil {
					return err
				}
				writeStoredPlans(cmd.OutOrStdout(), plans)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&patientID, "patient", "", "Patient ID")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of plans")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func writeStoredPlans(w io.Writer, plans []planner.StoredPlan) {
	if len(plans) == 0 {
		fmt.Fprintln(w, "No stored plans.")
		return
	}
	for _, p := range plans {
		fmt.Fprintf(w, "%s  %s  %2d days  run %s\n", p.ID, p.CreatedAt.Format("2006-01-02 15:04"), len(p.Plan.Days), p.RunID)
	}
}

func shoppingListCmd() *cobra.Command {
	var planID string
	cmd := &cobra.Command{
		Use:   "shopping-list",
		Short: "Print the shopping list of a stored plan as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				list, err := a.ShoppingList(cmd.Context(), planID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), list)
			})
		},
	}
	cmd.Flags().StringVar(&planID, "plan", "", "Stored plan ID")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func deletePlanCmd() *cobra.Command {
	var planID string
	cmd := &cobra.Command{
		Use:   "delete-plan",
		Short: "Delete a stored plan and its shopping list",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if err := a.DeletePlan(cmd.Context(), planID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted plan %s.\n", planID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&planID, "plan", "", "Stored plan ID")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func exportsCmd() *cobra.Command {
	var dir, patientID, runID string
	cmd := &cobra.Command{
		Use:   "exports",
		Short: "List exported plan files of a patient, or print one with --run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if runID != "" {
				return showExport(cmd.OutOrStdout(), dir, patientID, runID)
			}
			return listExports(cmd.OutOrStdout(), dir, patientID)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Export directory")
	cmd.Flags().StringVar(&patientID, "patient", "", "Patient ID")
	cmd.Flags().StringVar(&runID, "run", "", "Run ID of the export to print")
	_ = cmd.MarkFlagRequired("dir")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func listExports(w io.Writer, dir, patientID string) error {
	archive, err := storage.NewPlanArchive(dir)
	if err != nil {
		return err
	}
	runs, err := archive.List(patientID)
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Fprintln(w, run)
	}
	return nil
}

func showExport(w io.Writer, dir, patientID, runID string) error {
	archive, err := storage.NewPlanArchive(dir)
	if err != nil {
		return err
	}
	if !archive.Exists(patientID, runID) {
		return fmt.Errorf("no export of run %s for patient %s in %s", runID, patientID, dir)
	}
	var out planOutput
	if err := archive.Load(patientID, runID, &out); err != nil {
		return err
	}
	return writeJSON(w, out)
}

func patientsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patients",
		Short: "List patient profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				profiles, err := a.Patients(cmd.Context())
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for _, p := range profiles {
					allergies := "-"
					if len(p.Allergies) > 0 {
						allergies = strings.Join(p.Allergies, ", ")
					}
					fmt.Fprintf(w, "%-10s %d  %5.1f -> %5.1f kg  %s\n", p.ID, p.BirthYear, p.CurrentWeight, p.TargetWeight, allergies)
				}
				return nil
			})
		},
	}
}

func metricsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print daily token usage and plan outcomes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				usage, outcomes, err := a.Usage(cmd.Context(), days)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%-10s %8s %10s %6s %6s\n", "DATE", "PROMPT", "COMPLETION", "CALLS", "FAILED")
				for _, d := range usage {
					fmt.Fprintf(w, "%-10s %8d %10d %6d %6d\n", d.Date, d.TotalPrompt, d.TotalCompletion, d.TotalExecution, d.Failures)
				}
				for _, o := range outcomes {
					fmt.Fprintf(w, "plans %s: %d\n", o.Outcome, o.Count)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to report")
	return cmd
}

func metricsCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "metrics-cleanup",
		Short: "Remove old metric records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			return withApp(ctx, func(a *app.App) error {
				removed, err := a.CleanupMetrics(ctx, days)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Successfully removed %d old metric records.\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Keep records for the last N days")
	return cmd
}
