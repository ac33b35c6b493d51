package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thruflo/knitron/internal/config"
	"github.com/thruflo/knitron/internal/kernel"
)

var kernelsCmd = &cobra.Command{
	Use:   "kernels [profile]",
	Short: "List discovered kernel connection files",
	Long: `Lists the kernel connection files found in the Jupyter runtime
directories and the IPython profile's security directory, newest first.
The first entry is the kernel a partial id would resolve to.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := rootOpts.load()
		if err != nil {
			return err
		}
		profile := ""
		if len(args) == 1 {
			profile = args[0]
		}
		return listKernels(cmd.OutOrStdout(), cfg, profile)
	},
}

func init() {
	rootCmd.AddCommand(kernelsCmd)
}

func listKernels(w io.Writer, cfg *config.Config, profile string) error {
	dirs := kernel.SearchDirs(profile, cfg.Kernel.RuntimeDirs, cfg.Kernel.IPythonDir)
	files, err := kernel.ListConnectionFiles(dirs)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		fmt.Fprintln(w, "No kernels found.")
		return nil
	}

	ids := make([]string, len(files))
	idWidth := len("KERNEL")
	for i, f := range files {
		ids[i] = kernelID(f.Path)
		if len(ids[i]) > idWidth {
			idWidth = len(ids[i])
		}
	}

	fmt.Fprintf(w, "%-*s  %-19s  %s\n", idWidth, "KERNEL", "MODIFIED", "PATH")
	fmt.Fprintf(w, "%s  %s  %s\n", strings.Repeat("-", idWidth), strings.Repeat("-", 19), "----")
	for i, f := range files {
		fmt.Fprintf(w, "%-*s  %-19s  %s\n", idWidth, ids[i], f.ModTime.Format("2006-01-02 15:04:05"), f.Path)
	}
	return nil
}

// kernelID extracts the id from a kernel-<id>.json file name.
func kernelID(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(strings.TrimPrefix(name, "kernel-"), ".json")
}
