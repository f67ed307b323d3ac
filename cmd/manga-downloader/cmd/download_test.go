package cmd

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-manga-download/internal/config"
	"go-manga-download/internal/models"
)

func TestDownloadOptionsFlagOverridesFlowThroughViper(t *testing.T) {
	globalConfig = config.Defaults()

	require.NoError(t, downloadCmd.Flags().Set("format", "pdf"))
	require.NoError(t, downloadCmd.Flags().Set("concurrency", "6"))
	require.NoError(t, downloadCmd.Flags().Set("keep-pages", "true"))
	t.Cleanup(func() {
		downloadCmd.Flags().Set("format", "")
		downloadCmd.Flags().Set("concurrency", "0")
		downloadCmd.Flags().Set("keep-pages", "false")
	})

	opts, err := downloadOptions(downloadCmd)
	require.NoError(t, err)
	assert.Equal(t, models.FormatPDF, opts.Format)
	assert.Equal(t, 6, opts.Workers)
	assert.False(t, opts.RemovePages)
}

func TestDownloadOptionsReadViperSource(t *testing.T) {
	// A key set directly in viper reaches the options without any flag,
	// proving the bindings are read rather than decorative.
	globalConfig = config.Defaults()

	viper.Set("download.quality", "low")
	t.Cleanup(func() { viper.Set("download.quality", "") })

	opts, err := downloadOptions(downloadCmd)
	require.NoError(t, err)
	assert.Equal(t, models.QualityLow, opts.Quality)
}

func TestDownloadOptionsRejectsBadFormat(t *testing.T) {
	globalConfig = config.Defaults()

	viper.Set("download.format", "epub")
	t.Cleanup(func() { viper.Set("download.format", "") })

	_, err := downloadOptions(downloadCmd)
	assert.Error(t, err)
}
