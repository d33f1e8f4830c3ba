package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/crudkit/internal/cli/ui"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/security"
	"github.com/conduit-lang/crudkit/internal/orm/store/memstore"
	"github.com/conduit-lang/crudkit/internal/sample"
	"github.com/conduit-lang/crudkit/internal/web/api"
)

// NewSchemaCommand creates the schema command
func NewSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [class]",
		Short: "Describe the registered classes and their routes",
		Long: `Without arguments, list every registered class with its permissions and
the HTTP routes. With a class name, list its properties.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSchema,
	}
}

func runSchema(cmd *cobra.Command, args []string) error {
	reg, err := sample.NewRegistry()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		class, ok := reg.Lookup(args[0])
		if !ok {
			return unknownClassError(reg, args[0])
		}
		renderClass(out, class)
		return nil
	}

	ui.Header(out, "Classes", noColor)
	classes := ui.NewTable(out, []string{"Class", "Table", "Key", "Read", "Create", "Edit", "Delete"}, noColor)
	for _, class := range reg.Classes() {
		key := "-"
		if class.Key != nil {
			key = class.Key.Name
			if class.KeyGenerated {
				key += " (generated)"
			}
		}
		sec := class.Security
		classes.AddRow(class.Name, class.Table, key,
			describePermission(sec.Read), describePermission(sec.Create),
			describePermission(sec.Edit), describePermission(sec.Delete))
	}
	classes.Render()
	fmt.Fprintln(out)

	resources, err := sample.Resources(memstore.NewDB(reg).Factory(), reg, sample.Options{})
	if err != nil {
		return err
	}
	ui.Header(out, "Routes", noColor)
	routes := ui.NewTable(out, []string{"Method", "Pattern", "Operation"}, noColor)
	for _, route := range api.Routes(resources...) {
		routes.AddRow(route.Method, route.Pattern, route.Operation)
	}
	routes.Render()
	return nil
}

func renderClass(out io.Writer, class *schema.Class) {
	ui.Header(out, class.Name, noColor)
	table := ui.NewTable(out, []string{"Property", "JSON", "Kind", "Search", "Order", "Read", "Edit", "Restrict", "Flags"}, noColor)
	for _, p := range class.Properties {
		search := "-"
		if p.Search != schema.SearchNone {
			search = p.EffectiveSearch().String()
		}
		order := "-"
		if p.HasDefaultOrder() {
			order = strconv.Itoa(p.OrderPriority)
			if p.OrderDesc {
				order += " desc"
			}
		}
		table.AddRow(p.Name, p.JSONName, p.Kind.String(), search, order,
			orDash(strings.Join(p.ReadRoles, "|")), orDash(strings.Join(p.EditRoles, "|")),
			orDash(strings.Join(p.Restrictions, "|")), orDash(strings.Join(propertyFlags(class, p), ",")))
	}
	table.Render()

	if std := class.StandardIncludes(); len(std) > 0 {
		fmt.Fprintf(out, "\nStandard includes: %s\n", strings.Join(std, ", "))
	}
}

func propertyFlags(class *schema.Class, p *schema.Property) []string {
	var flags []string
	if p.IsKey {
		flags = append(flags, "key")
		if class.KeyGenerated {
			flags = append(flags, "generated")
		}
	}
	if p.ReadOnly {
		flags = append(flags, "readonly")
	}
	if p.Internal {
		flags = append(flags, "internal")
	}
	if p.Unmapped {
		flags = append(flags, "unmapped")
	}
	if p.DateOnly {
		flags = append(flags, "dateonly")
	}
	if p.ForeignKey != "" {
		flags = append(flags, "fk="+p.ForeignKey)
	}
	if p.InverseKey != "" {
		flags = append(flags, "inverse="+p.InverseKey)
	}
	return flags
}

func describePermission(p security.Permission) string {
	switch {
	case p.Denied:
		return "denied"
	case p.AllowAnonymous:
		return "anyone"
	case len(p.Roles) > 0:
		return strings.Join(p.Roles, "|")
	default:
		return "signed in"
	}
}

func unknownClassError(reg *schema.Registry, name string) error {
	var names []string
	for _, class := range reg.Classes() {
		names = append(names, class.Name)
	}
	if similar := ui.FindSimilar(name, names, 3); len(similar) > 0 {
		return fmt.Errorf("unknown class %q, did you mean %s?", name, strings.Join(similar, " or "))
	}
	return fmt.Errorf("unknown class %q, known classes: %s", name, strings.Join(names, ", "))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
