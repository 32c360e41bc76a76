package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/modcache/pkg/daemon"
	"github.com/jamesainslie/modcache/pkg/modcache/config"
	"github.com/jamesainslie/modcache/pkg/modcache/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	info := statusInfo(config.DefaultPIDPath(), daemon.StatusPath(config.DataDir()))
	return render(&output.Report{Status: info})
}

// statusInfo combines the PID check with the last published status file.
func statusInfo(pidPath, statusPath string) *output.StatusInfo {
	info := &output.StatusInfo{Running: daemon.IsDaemonRunning(pidPath)}

	st, err := daemon.ReadStatus(statusPath)
	if err != nil {
		if !os.IsNotExist(err) {
			info.Error = err.Error()
		}
		return info
	}
	info.State = st.Status
	info.PID = st.PID
	info.Source = st.Source
	info.Cache = st.Cache
	info.Entities = st.Entities
	info.Watching = st.Watching
	info.Halted = st.Halted
	info.LastScan = st.LastScan
	info.LastEvict = st.LastEvict
	info.Updated = st.Updated
	if st.Error != "" {
		info.Error = st.Error
	}
	return info
}
