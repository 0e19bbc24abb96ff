package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"github.com/nextlevelbuilder/goscan/internal/config"
	"github.com/nextlevelbuilder/goscan/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, gateway reachability and device storage",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("goscan doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Gateway:")
	checkSetting("Database", cfg.Database.Mode, true)
	checkSetting("Storage", cfg.Storage.Backend, true)
	checkSetting("Redis", cfg.Redis.Addr, cfg.Redis.Addr != "")
	checkSetting("JWT secret", "configured", cfg.Auth.JWTSecret != "")
	checkSetting("Token", "configured", cfg.Gateway.Token != "")
	checkSetting("Telemetry", cfg.Telemetry.Endpoint, cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint != "")

	fmt.Println()
	fmt.Println("  Device:")
	server := deviceServerURL("", cfg)
	if isGatewayReachable(server) {
		fmt.Printf("    %-12s %s (reachable)\n", "Server:", server)
	} else {
		fmt.Printf("    %-12s %s (UNREACHABLE)\n", "Server:", server)
	}
	checkMailbox(cfg)

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkSetting(name, value string, ok bool) {
	if !ok || value == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	fmt.Printf("    %-12s %s\n", name+":", value)
}

func checkMailbox(cfg *config.Config) {
	if cfg.Device.Mailbox == "file" {
		dir := config.ExpandHome(cfg.Device.MailboxDir)
		status := "OK"
		if _, err := os.Stat(dir); err != nil {
			status = "will be created"
		}
		if cfg.Device.MailboxKey == "" {
			status += ", unencrypted"
		}
		fmt.Printf("    %-12s file %s (%s)\n", "Mailbox:", dir, status)
		return
	}
	// A missing entry means the keyring backend answered.
	if _, err := keyring.Get("goscan", "doctor-probe"); err != nil && err != keyring.ErrNotFound {
		fmt.Printf("    %-12s keyring (UNAVAILABLE: %s)\n", "Mailbox:", err)
		return
	}
	fmt.Printf("    %-12s keyring (OK)\n", "Mailbox:")
}
