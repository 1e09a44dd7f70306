package cmd

import (
	"fmt"
	"os"

	"htwg-backend/cmd/htwg-cli/globals"
	"htwg-backend/internal/scrapers/hisinone"
	"htwg-backend/internal/scrapers/lsf"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(printerCmd)
	rootCmd.AddCommand(gradesCmd)

	timetableCmd.Flags().StringVar(&timetableRequest.Week, "week", "", "Calendar week, needs --year.")
	timetableCmd.Flags().StringVar(&timetableRequest.Year, "year", "", `Year of --week, "all" for the whole semester.`)
	timetableCmd.Flags().StringVar(&timetableRequest.Type, "type", "", `Rendering, only "table" is supported.`)
	timetableCmd.Flags().StringVarP(&timetableOutput, "output", "o", "", "Write the page to this file instead of stdout.")
	rootCmd.AddCommand(timetableCmd)

	certificateCmd.Flags().StringVarP(&certificateOutput, "output", "o", hisinone.Filename, "File to save the certificate to.")
	rootCmd.AddCommand(certificateCmd)
}

var printerCmd = &cobra.Command{
	Use:   "printer",
	Short: "Print the balance of your printing account.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credentials(cmd.Context())
		if err != nil {
			return err
		}
		balance, err := globals.Get(cmd.Context()).Scrapers.Printer.Balance(cmd.Context(), creds)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s €\n", balance)
		return nil
	},
}

var gradesCmd = &cobra.Command{
	Use:   "grades",
	Short: "List your exam results from QIS.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credentials(cmd.Context())
		if err != nil {
			return err
		}
		grades, err := globals.Get(cmd.Context()).Scrapers.Grades.Grades(cmd.Context(), creds)
		if err != nil {
			return err
		}
		renderGrades(cmd.OutOrStdout(), grades)
		return nil
	},
}

var (
	timetableRequest lsf.TimetableRequest
	timetableOutput  string
)

var timetableCmd = &cobra.Command{
	Use:   "timetable",
	Short: "Fetch your LSF timetable as HTML.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credentials(cmd.Context())
		if err != nil {
			return err
		}
		page, err := globals.Get(cmd.Context()).Scrapers.Timetable.Timetable(cmd.Context(), creds, timetableRequest)
		if err != nil {
			return err
		}
		if timetableOutput == "" {
			_, err = cmd.OutOrStdout().Write(page)
			return err
		}
		return os.WriteFile(timetableOutput, page, 0644)
	},
}

var certificateOutput string

var certificateCmd = &cobra.Command{
	Use:   "certificate",
	Short: "Download your enrollment certificate from HISinOne.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credentials(cmd.Context())
		if err != nil {
			return err
		}
		pdf, err := globals.Get(cmd.Context()).Scrapers.Certificate.Certificate(cmd.Context(), creds)
		if err != nil {
			return err
		}
		err = os.WriteFile(certificateOutput, pdf, 0600)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "saved", certificateOutput)
		return nil
	},
}
