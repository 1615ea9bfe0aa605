package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dyluth/depi/internal/artifact"
	"github.com/dyluth/depi/internal/printer"
	"github.com/dyluth/depi/pkg/depi"
	"github.com/spf13/cobra"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	printer.Printf("%s\n", data)
	return nil
}

func validateOutput() error {
	if outputFormat != "default" && outputFormat != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", outputFormat),
			[]string{"Valid formats: default, json"},
		)
	}
	return nil
}

func resourceLabel(r depi.Resource) string {
	name := r.ResourceGroupName
	if name == "" {
		name = r.ResourceGroupURL
	}
	return name + ":" + r.URL
}

func linkState(l depi.ResourceLink) string {
	var states []string
	if l.Deleted {
		states = append(states, "deleted")
	}
	if l.Dirty {
		states = append(states, "dirty")
	}
	if len(l.InferredDirtiness) > 0 {
		states = append(states, fmt.Sprintf("inferred(%d)", len(l.InferredDirtiness)))
	}
	if len(states) == 0 {
		return "clean"
	}
	return strings.Join(states, ",")
}

func printLinks(links []depi.ResourceLink) {
	printer.Printf("%-40s %-40s %-14s %s\n", "SOURCE", "TARGET", "STATE", "LAST CLEAN")
	for _, l := range links {
		printer.Printf("%-40s %-40s %-14s %s\n", resourceLabel(l.Source), resourceLabel(l.Target), linkState(l), shortVersion(l.LastCleanVersion))
	}
}

func shortVersion(v string) string {
	if len(v) > 12 {
		return v[:12]
	}
	return v
}

// resourceFlags lets a command name resources by url inside a group instead of by
// local path.
type resourceFlags struct {
	tool    string
	group   string
	name    string
	version string
}

func (f *resourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.group, "group", "", "Resource group url; arguments are then resource urls instead of local paths")
	cmd.Flags().StringVar(&f.tool, "tool", artifact.ToolID, "Tool id of --group")
	cmd.Flags().StringVar(&f.name, "group-name", "", "Resource group name of --group")
	cmd.Flags().StringVar(&f.version, "group-version", "", "Resource group version of --group")
}

// resources turns arguments into resources: urls in --group, or local paths
// resolved through their git checkout.
func (f *resourceFlags) resources(args []string) ([]depi.Resource, error) {
	out := make([]depi.Resource, 0, len(args))
	if f.group != "" {
		for _, url := range args {
			out = append(out, depi.Resource{
				ResourceRef:          depi.ResourceRef{ToolID: f.tool, ResourceGroupURL: f.group, URL: url},
				ResourceGroupName:    f.name,
				ResourceGroupVersion: f.version,
			})
		}
		return out, nil
	}

	resolver := artifact.NewResolver()
	for _, path := range args {
		loc, err := resolver.Resolve(path)
		if err != nil {
			return nil, err
		}
		if loc.Uncommitted {
			printer.Warning("%s has uncommitted changes; version %s does not contain them\n", path, shortVersion(loc.Version))
		}
		out = append(out, loc.Resource())
	}
	return out, nil
}
