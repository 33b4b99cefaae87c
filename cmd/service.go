package cmd

import (
	"fmt"
	"os"
	"text/template"

	"github.com/spf13/cobra"
)

const unitPath = "/etc/systemd/system/nodewatch.service"

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=nodewatch keyword monitor
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={{.Executable}} run{{if .ConfigFile}} --config {{.ConfigFile}}{{end}}
Restart=always
RestartSec=10
# The monitor re-execs itself on its own schedule; systemd only needs to
# cover crashes and the non-exec restart exit path.
SuccessExitStatus=3

[Install]
WantedBy=multi-user.target
`))

// newInstallCmd writes a systemd unit pointing at the current binary.
func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install a systemd unit for the monitor",
		RunE: func(_ *cobra.Command, _ []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			f, err := os.OpenFile(unitPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
			if err != nil {
				return fmt.Errorf("create unit file: %w", err)
			}
			defer f.Close()

			data := struct {
				Executable string
				ConfigFile string
			}{Executable: exe, ConfigFile: cfgFile}
			if err := unitTemplate.Execute(f, data); err != nil {
				return fmt.Errorf("render unit file: %w", err)
			}
			fmt.Printf("wrote %s\nrun: systemctl daemon-reload && systemctl enable --now nodewatch\n", unitPath)
			return nil
		},
	}
}

// newUninstallCmd removes the systemd unit.
func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the systemd unit",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := os.Remove(unitPath); err != nil {
				if os.IsNotExist(err) {
					fmt.Println("unit not installed")
					return nil
				}
				return fmt.Errorf("remove unit file: %w", err)
			}
			fmt.Printf("removed %s\nrun: systemctl daemon-reload\n", unitPath)
			return nil
		},
	}
}
