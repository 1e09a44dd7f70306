package cmd

import (
	"io"
	"strings"

	"htwg-backend/cmd/htwg-cli/utils"
	"htwg-backend/internal/scrapers/canteen"
	"htwg-backend/internal/scrapers/htwgweb"
	"htwg-backend/internal/scrapers/qis"

	"github.com/jedib0t/go-pretty/v6/table"
)

func renderGrades(out io.Writer, grades []qis.Grade) {
	t := utils.NewTable(out)
	t.AppendHeader(table.Row{"Nr.", "Prüfung", "Semester", "Note", "ECTS", "Status"})
	for _, g := range grades {
		t.AppendRow(table.Row{g.Number, g.Name, g.Semester, g.Grade, g.Ects, g.Status})
	}
	t.Render()
}

// renderMenu prints one block per day, the price column lists every price group.
func renderMenu(out io.Writer, menu canteen.Menu) {
	t := utils.NewTable(out)
	t.AppendHeader(table.Row{"Tag", "Kategorie", "Gericht", "Preis"})
	for _, day := range menu.Days {
		for _, item := range day.Items {
			t.AppendRow(table.Row{day.Date, item.Category, item.Title, formatPrices(item.Price)})
		}
		t.AppendSeparator()
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, AutoMerge: true},
		{Number: 3, WidthMax: 60},
	})
	t.Render()
}

func formatPrices(prices []string) string {
	set := make([]string, 0, len(prices))
	for _, p := range prices {
		if p != "" {
			set = append(set, p)
		}
	}
	return strings.Join(set, " / ")
}

func renderPrices(out io.Writer, prices []htwgweb.Price) {
	t := utils.NewTable(out)
	t.AppendHeader(table.Row{"Produkt", "Preis"})
	for _, p := range prices {
		t.AppendRow(table.Row{p.Name, p.Price})
	}
	t.Render()
}
