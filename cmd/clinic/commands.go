package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/clinic-booking/internal/services"
)

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := openDB(a.cfg, true); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
}

// initSlotsCmd creates one template per hour in [start, end]; existing hours
// are left alone, so reruns are harmless.
func initSlotsCmd(a *app) *cobra.Command {
	var start, end int
	cmd := &cobra.Command{
		Use:   "init-slots",
		Short: "Create hourly slot templates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB(a.cfg, true)
			if err != nil {
				return err
			}
			slots := services.NewSlotService(db, services.Clock{Loc: a.cfg.Booking.Location()})
			n, err := slots.InitTemplates(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully created %d slot templates\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&start, "start", 6, "first hour (0-23)")
	cmd.Flags().IntVar(&end, "end", 22, "last hour (0-23), inclusive")
	return cmd
}

func reconcileCmd(a *app) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute slot booked counts from live appointments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB(a.cfg, false)
			if err != nil {
				return err
			}
			rep, err := services.NewReconcileService(db, a.cfg.Booking.LockTimeout).Run(cmd.Context(), date)
			if err != nil {
				return err
			}
			log.Info().Str("date", date).Int("checked", rep.Checked).Int("corrected", rep.Corrected).Msg("reconcile finished")
			fmt.Fprintf(cmd.OutOrStdout(), "Checked %d slots, corrected %d, overbooked %d\n", rep.Checked, rep.Corrected, rep.Overbooked)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "only this day (YYYY-MM-DD); all days when empty")
	return cmd
}
