package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tinyagi/internal/config"
	"github.com/nextlevelbuilder/tinyagi/internal/store"
	"github.com/nextlevelbuilder/tinyagi/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("tinyagi doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	home, err := config.StateHome()
	if err != nil {
		fmt.Printf("  State home: FAILED (%s)\n", err)
		return
	}
	fmt.Printf("  State home: %s (OK)\n", home)

	cfg, err := config.Load(home)
	if err != nil {
		fmt.Printf("  Settings:   LOAD FAILED (%s)\n", err)
		return
	}
	fmt.Println("  Settings:   OK")

	fmt.Println()
	fmt.Println("  Database:")
	db, err := store.Open(home)
	if err != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", err)
	} else {
		fmt.Printf("    %-12s %s, schema up to date\n", "Status:", db.Dialect())
		db.Close()
	}

	fmt.Println()
	fmt.Println("  Model runner:")
	checkBinary(cfg.Invoker.Binary)
	for _, id := range cfg.AgentIDs() {
		spec := cfg.Agent(id)
		if spec.Binary != cfg.Invoker.Binary {
			checkBinary(spec.Binary)
		}
	}

	fmt.Println()
	fmt.Println("  Tooling:")
	for _, name := range []string{"git", "npm", "docker"} {
		checkBinary(name)
	}

	fmt.Println()
	fmt.Println("  Browser:")
	if !cfg.Harness.Browser.Enabled {
		fmt.Println("    disabled")
	} else {
		fmt.Printf("    %-12s %s\n", "Provider:", orDefault(cfg.Harness.Browser.Provider, "auto"))
		if p := cfg.Harness.Browser.ProfilePath; p != "" {
			if _, err := os.Stat(p); err != nil {
				fmt.Printf("    %-12s %s (NOT FOUND)\n", "Profile:", p)
			} else {
				fmt.Printf("    %-12s %s (OK)\n", "Profile:", p)
			}
		}
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkBinary(name string) {
	if name == "" {
		return
	}
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
