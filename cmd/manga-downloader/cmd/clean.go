package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().Bool("index", false, "Also delete the search index")
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove temporary (.tmp) files from the download directory",
	Long: `Recursively scans the configured SavePath and removes any files ending
with the .tmp extension left behind by interrupted downloads or conversions.`,
	RunE: runClean,
}

func runClean(cmd *cobra.Command, args []string) error {
	savePath := globalConfig.SavePath
	if savePath == "" {
		return fmt.Errorf("SavePath is not configured, nothing to clean")
	}
	info, err := os.Stat(savePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("SavePath directory does not exist: %s", savePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing SavePath %q: %w", savePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("SavePath is not a directory: %s", savePath)
	}

	log.Infof("Scanning for .tmp files in %s...", savePath)

	var removed, failed int64
	walkErr := filepath.Walk(savePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warnf("Error accessing path %q during scan: %v", path, err)
			return nil
		}
		if info.IsDir() || !strings.HasSuffix(strings.ToLower(info.Name()), ".tmp") {
			return nil
		}
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				log.Errorf("Failed to remove %q: %v", path, err)
				failed++
			}
			return nil
		}
		log.Infof("Removed: %s", path)
		removed++
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("error during directory walk of %q: %w", savePath, walkErr)
	}

	if dropIndex, _ := cmd.Flags().GetBool("index"); dropIndex {
		if err := os.RemoveAll(globalConfig.BleveIndexPath); err != nil {
			return fmt.Errorf("deleting search index: %w", err)
		}
		log.Infof("Deleted search index at %s", globalConfig.BleveIndexPath)
	}

	log.Infof("Clean complete. Removed %d .tmp file(s).", removed)
	if failed > 0 {
		return fmt.Errorf("failed to remove %d file(s)", failed)
	}
	return nil
}
