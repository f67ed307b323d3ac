package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"go-manga-download/internal/models"
)

// batchEntry is one job in a batch file.
type batchEntry struct {
	Manifest string `yaml:"manifest"`
	Chapters string `yaml:"chapters,omitempty"`
	Format   string `yaml:"format,omitempty"`
}

// batchFile is the top-level structure of a batch YAML file.
type batchFile struct {
	Jobs []batchEntry `yaml:"jobs"`
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().Bool("keep-going", false, "Continue with the remaining jobs when one fails")
}

var batchCmd = &cobra.Command{
	Use:   "batch <batch-file.yaml>",
	Short: "Run several download jobs from a YAML batch file",
	Long: `Reads a YAML file listing manifests (with optional chapter selectors and
formats) and downloads them one after another:

    jobs:
      - manifest: one-piece.json
        chapters: 1-50
      - manifest: berserk.json
        format: pdf
`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func runBatch(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading batch file %s: %w", args[0], err)
	}
	var batch batchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("parsing batch file %s: %w", args[0], err)
	}
	if len(batch.Jobs) == 0 {
		return fmt.Errorf("batch file %s lists no jobs", args[0])
	}

	keepGoing, _ := cmd.Flags().GetBool("keep-going")
	var failed int

	for i, entry := range batch.Jobs {
		if entry.Manifest == "" {
			log.Warnf("Batch job %d has no manifest, skipping", i+1)
			failed++
			continue
		}
		log.Infof("Batch job %d/%d: %s", i+1, len(batch.Jobs), entry.Manifest)

		opts, err := configOptions()
		if err != nil {
			return err
		}
		if entry.Format != "" {
			if opts.Format, err = models.ParseFormat(entry.Format); err != nil {
				log.WithError(err).Errorf("Batch job %d has a bad format", i+1)
				failed++
				if !keepGoing {
					return err
				}
				continue
			}
		}

		if err := executeDownload(cmd.Context(), entry.Manifest, entry.Chapters, opts, false); err != nil {
			log.WithError(err).Errorf("Batch job %d failed", i+1)
			failed++
			if !keepGoing {
				return fmt.Errorf("batch aborted at job %d: %w", i+1, err)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("batch finished with %d failed job(s)", failed)
	}
	log.Infof("Batch complete: %d job(s)", len(batch.Jobs))
	return nil
}
