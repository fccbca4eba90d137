package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"supportops/internal/services"
)

// eventsCmd 打印各平台支持的事件映射，写规则时查表用
var eventsCmd = &cobra.Command{
	Use:   "events [platform]",
	Short: "List supported webhook events per platform",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		platforms := []string{"zendesk", "freshdesk", "jira", "github"}
		if len(args) == 1 {
			platforms = args[:1]
		}
		for _, platform := range platforms {
			table := services.SupportedEvents(platform)
			if table == nil {
				return fmt.Errorf("unknown platform %q", platform)
			}
			fmt.Printf("%s:\n", platform)
			natives := make([]string, 0, len(table))
			for native := range table {
				natives = append(natives, native)
			}
			sort.Strings(natives)
			for _, native := range natives {
				fmt.Printf("  %-30s -> %s\n", native, table[native])
			}
			fmt.Println("  canonical events:", strings.Join(services.CanonicalEvents(platform), ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}
