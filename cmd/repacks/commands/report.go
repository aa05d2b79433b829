package commands

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alvmarrod/repack-ledger/internal/memory"
	"github.com/alvmarrod/repack-ledger/internal/storage"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

const maxResults = 40

func init() {
	rootCmd.AddCommand(countItemsCmd)
	rootCmd.AddCommand(findCmd)
}

var countItemsCmd = &cobra.Command{
	Use:   "count-items",
	Short: "Report catalog, reference and pending sizes.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return countItems()
	},
}

// countItems is read-only: nothing is fetched, created or saved
func countItems() error {
	docs := newDocuments()
	catalog, err := docs.ReadCatalog()
	if err != nil {
		return err
	}
	reference, err := docs.LoadReference()
	if err != nil {
		return err
	}
	pending, err := docs.LoadPending()
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(catalog))
	for _, g := range catalog {
		known[memory.NormalizeLink(g.Link)] = true
	}
	missing := 0
	for _, r := range reference {
		if !known[memory.NormalizeLink(r.Link)] {
			missing++
		}
	}

	t := newTable()
	t.AppendHeader(table.Row{"Document", "Path", "Entries"})
	t.AppendRow(table.Row{"catalog", cfg.CatalogPath, len(catalog)})
	t.AppendRow(table.Row{"reference", cfg.ReferencePath, len(reference)})
	t.AppendRow(table.Row{"pending", cfg.PendingPath, len(pending)})
	t.AppendFooter(table.Row{"missing", "", missing})
	t.Render()

	if missing > 0 {
		fmt.Printf("%s reference entries are not in the catalog yet\n", colorWarn(missing))
	} else {
		fmt.Println(colorSuccess("Catalog covers the whole reference listing"))
	}
	return nil
}

var findCmd = &cobra.Command{
	Use:   "find [term]",
	Short: "Search the catalog by name or tag, or list the newest and largest records.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		games, err := newDocuments().ReadCatalog()
		if err != nil {
			return err
		}

		if len(args) == 1 {
			found := Search(games, args[0])
			fmt.Printf("%s results for %q\n", colorBold(len(found)), args[0])
			renderGames(found)
			return nil
		}

		fmt.Println(colorBold("Newest"))
		renderGames(Newest(games))
		fmt.Println(colorBold("Largest"))
		renderGames(Largest(games))
		return nil
	},
}

// Search matches term against names and tags, case-insensitively, and
// returns up to maxResults records, newest first
func Search(games []storage.GameRecord, term string) []storage.GameRecord {
	term = strings.ToLower(strings.TrimSpace(term))

	found := []storage.GameRecord{}
	for _, g := range games {
		if strings.Contains(strings.ToLower(g.Name), term) ||
			strings.Contains(strings.ToLower(strings.Join(g.Tags, " ")), term) {
			found = append(found, g)
		}
	}
	return Newest(found)
}

// Newest returns up to maxResults records ordered by publication date
func Newest(games []storage.GameRecord) []storage.GameRecord {
	sorted := append([]storage.GameRecord(nil), games...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.After(sorted[j].Date)
	})
	return head(sorted)
}

// Largest returns up to maxResults records ordered by size
func Largest(games []storage.GameRecord) []storage.GameRecord {
	sorted := append([]storage.GameRecord(nil), games...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Size > sorted[j].Size
	})
	return head(sorted)
}

func head(games []storage.GameRecord) []storage.GameRecord {
	if len(games) > maxResults {
		return games[:maxResults]
	}
	return games
}

func renderGames(games []storage.GameRecord) {
	t := newTable()
	t.AppendHeader(table.Row{"ID", "Name", "Size (GB)", "Date", "Tags", "Link"})
	for _, g := range games {
		date := ""
		if !g.Date.IsZero() {
			date = g.Date.Format(time.DateOnly)
		}
		t.AppendRow(table.Row{g.ID, g.Name, g.Size, date, strings.Join(g.Tags, " "), g.Link})
	}
	t.Render()
}
