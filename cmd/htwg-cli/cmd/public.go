package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"htwg-backend/cmd/htwg-cli/globals"
	"htwg-backend/internal/scrapers/canteen"
	"htwg-backend/internal/scrapers/htwgweb"
	"htwg-backend/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/cobra"
)

var rawHTML bool

func init() {
	rootCmd.AddCommand(canteenCmd)

	examsCmd.Flags().BoolVar(&rawHTML, "html", false, "Print the markup instead of its text.")
	rootCmd.AddCommand(examsCmd)

	cafeCmd.Flags().BoolVar(&rawHTML, "html", false, "Print the markup instead of its text.")
	rootCmd.AddCommand(cafeCmd)
}

func printPage(cmd *cobra.Command, markup string) {
	if rawHTML {
		fmt.Fprintln(cmd.OutOrStdout(), markup)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), pageText(markup))
}

var canteenCmd = &cobra.Command{
	Use:   "canteen",
	Short: "Show this week's canteen menu.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := globals.Get(cmd.Context()).Scrapers.Canteen.MenuJSON(cmd.Context())
		if err != nil {
			return err
		}
		var menu canteen.Menu
		err = json.Unmarshal(payload, &menu)
		if err != nil {
			return err
		}
		renderMenu(cmd.OutOrStdout(), menu)
		return nil
	},
}

var examsCmd = &cobra.Command{
	Use:   "exams",
	Short: "Show the exam registration and exam period dates.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		markup, err := globals.Get(cmd.Context()).Scrapers.Web.ExamDates(cmd.Context())
		if err != nil {
			return err
		}
		printPage(cmd, markup)
		return nil
	},
}

var cafeCmd = &cobra.Command{
	Use:       "cafe <zeiten|preise>",
	Short:     "Show the opening hours or the price list of the Endlicht café.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(htwgweb.CafeHours), string(htwgweb.CafePrices)},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := htwgweb.ParseCafeKind(args[0])
		if err != nil {
			return err
		}
		web := globals.Get(cmd.Context()).Scrapers.Web

		if kind == htwgweb.CafePrices {
			prices, err := web.CafePrices(cmd.Context())
			if err != nil {
				return err
			}
			renderPrices(cmd.OutOrStdout(), prices)
			return nil
		}

		markup, err := web.CafeOpeningHours(cmd.Context())
		if err != nil {
			return err
		}
		printPage(cmd, markup)
		return nil
	},
}

// pageText prints one line per heading, paragraph, list item or row.
func pageText(markup string) string {
	doc := htmlutil.ParseString(markup)
	var lines []string
	doc.Selection().Find("h1, h2, h3, h4, p, li, tr").Each(func(_ int, s *goquery.Selection) {
		line := htmlutil.CleanText(s.Text())
		if line != "" {
			lines = append(lines, line)
		}
	})
	if len(lines) == 0 {
		return htmlutil.CleanText(doc.Selection().Text())
	}
	return strings.Join(lines, "\n")
}
