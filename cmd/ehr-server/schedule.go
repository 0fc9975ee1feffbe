package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/healthevents/internal/config"
	"github.com/ehr/healthevents/internal/domain/healthevent"
	"github.com/ehr/healthevents/internal/domain/timing"
	"github.com/ehr/healthevents/internal/platform/cache"
	"github.com/ehr/healthevents/internal/platform/db"
	"github.com/ehr/healthevents/pkg/fhirmodels"
)

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect schedules without going through the API",
	}
	cmd.AddCommand(expandCmd())
	cmd.AddCommand(windowCmd())
	return cmd
}

func expandCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Expand a FHIR Timing into its occurrences",
		Long: "Expand reads a FHIR Timing as JSON from --timing, from a file given as @path,\n" +
			"or from stdin when --timing is \"-\", and prints the occurrences.",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("timing")
			tz, _ := cmd.Flags().GetString("tz")
			startArg, _ := cmd.Flags().GetString("start")
			tablePath, _ := cmd.Flags().GetString("table")

			t, err := readTiming(raw, cmd.InOrStdin())
			if err != nil {
				return err
			}
			var start *time.Time
			if startArg != "" {
				s, err := timing.ParseFHIRDate(startArg)
				if err != nil {
					return err
				}
				start = &s
			}
			cfg := &config.Config{WindowTableFile: tablePath, QueryWindowMinutes: int(timing.DefaultOffset / time.Minute)}
			resolver, err := newResolver(cfg)
			if err != nil {
				return err
			}

			svc := healthevent.NewService(nil, nil, resolver, nil)
			occ, err := svc.Preview(t, tz, start)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), healthevent.ExpandResponse{Total: len(occ), Occurrences: occ})
		},
	}
	cmd.Flags().String("timing", "-", "FHIR Timing JSON, @file or - for stdin")
	cmd.Flags().String("tz", "", "IANA time zone for explicit times (default UTC)")
	cmd.Flags().String("start", "", "Start date (YYYY-MM-DD) for open-ended durations")
	cmd.Flags().String("table", "", "Window table file overriding the defaults")
	return cmd
}

// windowResult is what schedule window prints.
type windowResult struct {
	Window timing.Interval            `json:"window"`
	Total  int                        `json:"total"`
	Events []*healthevent.HealthEvent `json:"events"`
}

func windowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "window",
		Short: "List a patient's events due in a resolved window",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			patientArg, _ := cmd.Flags().GetString("patient")
			atArg, _ := cmd.Flags().GetString("at")
			code, _ := cmd.Flags().GetString("timing")
			tz, _ := cmd.Flags().GetString("tz")
			limit, _ := cmd.Flags().GetInt("limit")

			patientID, err := uuid.Parse(patientArg)
			if err != nil {
				return fmt.Errorf("--patient: %w", err)
			}
			at := time.Now()
			if atArg != "" {
				if at, err = time.Parse(time.RFC3339, atArg); err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}
			et, err := timing.ParseEventTiming(code)
			if err != nil {
				return err
			}

			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				if tenant == "" {
					tenant = cfg.DefaultTenant
				}
				ctx, release, err := db.AcquireTenant(ctx, pool, tenant)
				if err != nil {
					return err
				}
				defer release()

				svcs, err := wireServices(cfg, pool, cache.Nop{}, zerolog.Nop())
				if err != nil {
					return err
				}
				events, total, window, err := svcs.events.EventsInWindow(ctx, patientID, at, et, tz, limit, 0)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), windowResult{Window: window, Total: total, Events: events})
			})
		},
	}
	cmd.Flags().String("tenant", "", "Tenant to query (default DEFAULT_TENANT)")
	cmd.Flags().String("patient", "", "Patient id")
	cmd.Flags().String("at", "", "Reference instant, RFC 3339 (default now)")
	cmd.Flags().String("timing", string(timing.Exact), "EXACT or a symbolic event timing code")
	cmd.Flags().String("tz", "", "Zone overriding the patient's profile")
	cmd.Flags().Int("limit", 100, "Maximum events to print")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func readTiming(arg string, stdin io.Reader) (fhirmodels.Timing, error) {
	var data []byte
	var err error
	switch {
	case arg == "-":
		data, err = io.ReadAll(stdin)
	case strings.HasPrefix(arg, "@"):
		data, err = os.ReadFile(strings.TrimPrefix(arg, "@"))
	default:
		data = []byte(arg)
	}
	if err != nil {
		return fhirmodels.Timing{}, fmt.Errorf("read timing: %w", err)
	}
	var t fhirmodels.Timing
	if err := json.Unmarshal(data, &t); err != nil {
		return fhirmodels.Timing{}, fmt.Errorf("decode timing: %w", err)
	}
	return t, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
