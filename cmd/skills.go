package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tinyagi/internal/skills"
)

func skillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Manage versioned skills",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List skills",
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			list, err := db.ListSkills()
			if err != nil {
				fatal(err)
			}
			rows := make([][]string, 0, len(list))
			for _, s := range list {
				rows = append(rows, []string{s.SkillID, clip(s.Name, 48), s.Status, clip(s.ContentPath, 48)})
			}
			printTable([]string{"ID", "NAME", "STATUS", "CONTENT"}, rows)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <skill-id>",
		Short: "Show one skill and its versions",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			skill, err := db.GetSkill(args[0])
			if err != nil {
				fatal(err)
			}
			fmt.Printf("Skill:   %s (%s)\nStatus:  %s\nContent: %s\n", skill.Name, skill.SkillID, skill.Status, skill.ContentPath)

			versions, err := db.ListSkillVersions(skill.SkillID)
			if err == nil {
				fmt.Println("\nVersions:")
				for _, v := range versions {
					fmt.Printf("  v%d  %s  %s\n", v.Version, v.ContentPath, v.Note)
				}
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "draft <name> <prompt>",
		Short: "Draft a new skill from prompt text or a Markdown file path",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			home, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			content := strings.Join(args[1:], " ")
			if data, err := os.ReadFile(content); err == nil {
				content = string(data)
			}
			id, err := skills.New(db, home).Draft(args[0], content)
			if err != nil {
				fatal(err)
			}
			fmt.Printf("Drafted %s.\n", id)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "activate <skill-id>",
		Short: "Activate a skill",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			home, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()
			if err := skills.New(db, home).Activate(args[0]); err != nil {
				fatal(err)
			}
			fmt.Println("Activated.")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "disable <skill-id>",
		Short: "Disable a skill",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			home, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()
			if err := skills.New(db, home).Disable(args[0]); err != nil {
				fatal(err)
			}
			fmt.Println("Disabled.")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rollback <skill-id> [version]",
		Short: "Roll a skill back to a prior version",
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			home, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			version := 0
			if len(args) > 1 {
				v, err := strconv.Atoi(args[1])
				if err != nil {
					fatal(fmt.Errorf("bad version %q: %w", args[1], err))
				}
				version = v
			}
			v, err := skills.New(db, home).Rollback(args[0], version)
			if err != nil {
				fatal(err)
			}
			fmt.Printf("Rolled back to v%d.\n", v.Version)
		},
	})

	return cmd
}
