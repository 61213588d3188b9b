package main

import (
	"fmt"

	"github.com/Veraticus/the-fees-must-flow/internal/cli"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func therapistsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "therapists",
		Short: "Manage therapists",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Register a therapist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			id, _ := cmd.Flags().GetString("id")
			name, _ := cmd.Flags().GetString("name")
			calendarID, _ := cmd.Flags().GetString("calendar")
			tz, _ := cmd.Flags().GetString("timezone")
			if id == "" {
				id = uuid.NewString()
			}
			if tz == "" {
				tz = cfg.TimeZone
			}

			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.CreateTherapist(cmd.Context(), &model.Therapist{
				ID:         id,
				Name:       name,
				CalendarID: calendarID,
				TimeZone:   tz,
			}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Added therapist "+id))
			return nil
		},
	}
	add.Flags().String("id", "", "therapist id (default: generated)")
	add.Flags().String("name", "", "therapist name")
	add.Flags().String("calendar", "primary", "calendar id sessions are read from")
	add.Flags().String("timezone", "", "IANA time zone (default: configured timezone)")
	_ = add.MarkFlagRequired("name")

	cmd.AddCommand(add)
	return cmd
}

func patientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patients",
		Short: "Manage patients",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Register a patient",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			id, _ := cmd.Flags().GetString("id")
			therapistID, _ := cmd.Flags().GetString("therapist")
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			document, _ := cmd.Flags().GetString("document")
			priceStr, _ := cmd.Flags().GetString("price")
			startStr, _ := cmd.Flags().GetString("billing-start")

			price, err := parseAmount(priceStr)
			if err != nil {
				return err
			}
			start, err := parseDate(startStr, cfg.Location())
			if err != nil {
				return err
			}
			if id == "" {
				id = uuid.NewString()
			}

			patient := &model.Patient{
				ID:          id,
				TherapistID: therapistID,
				Name:        name,
				Email:       email,
				Document:    document,
				Price:       price,
			}
			if !start.IsZero() {
				patient.BillingStartDate = &start
			}

			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.CreatePatient(cmd.Context(), patient); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Added patient "+id))
			return nil
		},
	}
	add.Flags().String("id", "", "patient id (default: generated)")
	add.Flags().String("therapist", "", "therapist id")
	add.Flags().String("name", "", "patient name as it appears in calendar titles")
	add.Flags().String("email", "", "e-mail used as calendar attendee")
	add.Flags().String("document", "", "tax document used to match bank transfers")
	add.Flags().String("price", "", "price per session, e.g. 200.00")
	add.Flags().String("billing-start", "", "first billable day, YYYY-MM-DD")
	_ = add.MarkFlagRequired("therapist")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("price")

	list := &cobra.Command{
		Use:   "list",
		Short: "List a therapist's patients",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			therapistID, _ := cmd.Flags().GetString("therapist")

			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			patients, err := store.ListPatients(cmd.Context(), therapistID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderPatients(patients))
			return nil
		},
	}
	list.Flags().String("therapist", "", "therapist id")
	_ = list.MarkFlagRequired("therapist")

	cmd.AddCommand(add, list)
	return cmd
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage sessions offered to reconciliation",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Register a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			id, _ := cmd.Flags().GetString("id")
			patientID, _ := cmd.Flags().GetString("patient")
			dateStr, _ := cmd.Flags().GetString("date")
			priceStr, _ := cmd.Flags().GetString("price")
			eventID, _ := cmd.Flags().GetString("event")

			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			patient, err := store.GetPatient(cmd.Context(), patientID)
			if err != nil {
				return err
			}
			therapist, err := store.GetTherapist(cmd.Context(), patient.TherapistID)
			if err != nil {
				return err
			}
			date, err := parseDateTime(dateStr, therapist.Location())
			if err != nil {
				return err
			}

			price := patient.Price
			if priceStr != "" {
				if price, err = parseAmount(priceStr); err != nil {
					return err
				}
			}
			if id == "" {
				id = uuid.NewString()
			}

			if err := store.CreateSession(cmd.Context(), &model.Session{
				ID:              id,
				TherapistID:     patient.TherapistID,
				PatientID:       patient.ID,
				Date:            date,
				Price:           price,
				CalendarEventID: eventID,
			}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Added session "+id))
			return nil
		},
	}
	add.Flags().String("id", "", "session id (default: generated)")
	add.Flags().String("patient", "", "patient id")
	add.Flags().String("date", "", "session start, YYYY-MM-DDTHH:MM in the therapist's time zone")
	add.Flags().String("price", "", "price override (default: patient price)")
	add.Flags().String("event", "", "calendar event id")
	_ = add.MarkFlagRequired("patient")
	_ = add.MarkFlagRequired("date")

	cmd.AddCommand(add)
	return cmd
}
