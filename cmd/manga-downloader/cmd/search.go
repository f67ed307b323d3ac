package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"go-manga-download/index"
)

func init() {
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the downloaded-chapter index",
	Long: `Runs a Bleve query-string search against the chapter index, e.g.:

    manga-downloader search '+mangaTitle:berserk'
    manga-downloader search '+format:cbz +chapterNumber:>100'
`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	idx, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		return fmt.Errorf("opening search index: %w", err)
	}
	defer idx.Close()

	results, err := index.SearchIndex(idx, query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if results.Total == 0 {
		fmt.Println("No chapters match.")
		return nil
	}
	fmt.Printf("%d chapter(s) match:\n\n", results.Total)
	for _, hit := range results.Hits {
		title, _ := hit.Fields["mangaTitle"].(string)
		chTitle, _ := hit.Fields["chapterTitle"].(string)
		number, _ := hit.Fields["chapterNumber"].(float64)
		archive, _ := hit.Fields["archivePath"].(string)
		fmt.Printf("  %s #%g %s\n    %s\n", title, number, chTitle, archive)
	}
	return nil
}
