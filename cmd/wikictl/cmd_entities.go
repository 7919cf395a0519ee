package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kasuganosora/gamewiki/server/crud"
	"github.com/kasuganosora/gamewiki/server/entity"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var listCmd = &cobra.Command{
	Use:   "list RESOURCE",
	Short: "List a collection page by page",
	Long: `Loads the whole collection and shows one page of it. Search is
accent-insensitive over the name; --rarity and --filter keep items matching
any of the given values.`,
	Example: `  wikictl list relics --rarity RARE,EPIC --sort name
  wikictl list champions --filter-field tags --filter tank --page 2`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

var getCmd = &cobra.Command{
	Use:   "get RESOURCE ID",
	Short: "Show one entity",
	Args:  cobra.ExactArgs(2),
	RunE:  runGet,
}

var putCmd = &cobra.Command{
	Use:   "put RESOURCE",
	Short: "Create or replace an entity from a file",
	Long: `Reads one record from --file (JSON, or YAML by extension; "-" for stdin),
applies any --set assignments and saves it. The record replaces whatever is
stored under its id.`,
	Example: `  wikictl put items -f sword.json
  wikictl put items -f sword.yaml --set rarity=EPIC`,
	Args: cobra.ExactArgs(1),
	RunE: runPut,
}

var newCmd = &cobra.Command{
	Use:   "new RESOURCE",
	Short: "Create an entity from the resource's template",
	Long: `Opens the create form, merges --file and --set onto the pending item and
saves it. Without an id of its own the item keeps the generated one.`,
	Example: `  wikictl new relics --set name="Anchor" --set rarity=COMMON`,
	Args:    cobra.ExactArgs(1),
	RunE:    runNew,
}

var deleteCmd = &cobra.Command{
	Use:     "delete RESOURCE ID",
	Aliases: []string{"rm"},
	Short:   "Delete an entity",
	Args:    cobra.ExactArgs(2),
	RunE:    runDelete,
}

func init() {
	f := listCmd.Flags()
	f.String("search", "", "Accent-insensitive name search")
	f.StringSlice("rarity", nil, "Rarity values to keep")
	f.String("filter-field", "", "Attribute --filter values are matched against")
	f.StringSlice("filter", nil, "Values of --filter-field to keep")
	f.String("sort", "", "Attribute to sort by")
	f.Bool("desc", false, "Sort descending")
	f.Int("page", 1, "Page to show")
	f.Int("per-page", crud.DefaultItemsPerPage, "Items per page")
	f.StringP("output", "o", "table", "Output format: table or json")

	getCmd.Flags().Bool("render", false, "Render guide content as formatted text")
	getCmd.Flags().Int("width", 80, "Wrap width for --render")

	for _, c := range []*cobra.Command{putCmd, newCmd} {
		c.Flags().StringP("file", "f", "", "Record file (JSON or YAML, - for stdin)")
		c.Flags().StringArray("set", nil, "Field assignment key=value; JSON values are decoded")
	}
	_ = putCmd.MarkFlagRequired("file")
}

func runList(cmd *cobra.Command, args []string) error {
	rc, err := lookupResource(args[0])
	if err != nil {
		return err
	}
	f := cmd.Flags()
	perPage, _ := f.GetInt("per-page")
	filterField, _ := f.GetString("filter-field")
	c, _ := newController(rc, newClient(), "", func(cfg *crud.Config) {
		cfg.ItemsPerPage = perPage
		if filterField != "" {
			cfg.CustomFilter = crud.AnyOf(filterField)
		}
	})
	if err := c.Load(cmd.Context()); err != nil {
		return fmt.Errorf("load %s: %w", rc.Name, err)
	}

	search, _ := f.GetString("search")
	rarities, _ := f.GetStringSlice("rarity")
	filters, _ := f.GetStringSlice("filter")
	sortKey, _ := f.GetString("sort")
	desc, _ := f.GetBool("desc")
	page, _ := f.GetInt("page")
	c.SetSearch(search)
	c.SetRarities(rarities...)
	c.SetCustomFilters(filters...)
	c.SetSort(sortKey, desc)
	// Filter changes reset the page, so the page goes last.
	c.SetPage(page)

	snap := c.Snapshot()
	out, _ := f.GetString("output")
	switch out {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap.Items)
	case "table":
		fmt.Fprint(cmd.OutOrStdout(), renderList(snap, c.Config()))
		return nil
	default:
		return fmt.Errorf("unknown output format %q", out)
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	rc, err := lookupResource(args[0])
	if err != nil {
		return err
	}
	c, _ := newController(rc, newClient(), crud.ItemPath(routeFor(rc), args[1]))
	if err := c.Load(cmd.Context()); err != nil {
		return fmt.Errorf("load %s: %w", rc.Name, err)
	}
	sel := c.Selected()
	if sel == nil {
		return fmt.Errorf("%s %s not found", rc.Name, args[1])
	}

	var out string
	if render, _ := cmd.Flags().GetBool("render"); render {
		width, _ := cmd.Flags().GetInt("width")
		out, err = renderGuide(sel, width)
	} else {
		out, err = renderJSON(sel)
	}
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	rc, err := lookupResource(args[0])
	if err != nil {
		return err
	}
	rec, err := recordFromFlags(cmd)
	if err != nil {
		return err
	}
	id := rec.Key(rc.IDField)
	if id == "" {
		return fmt.Errorf("%s is required", rc.IDField)
	}
	c, _ := newController(rc, newClient(), crud.ItemPath(routeFor(rc), id))
	return saveAndReport(cmd, c, rec)
}

func runNew(cmd *cobra.Command, args []string) error {
	rc, err := lookupResource(args[0])
	if err != nil {
		return err
	}
	rec, err := recordFromFlags(cmd)
	if err != nil {
		return err
	}
	c, _ := newController(rc, newClient(), "")
	c.OpenNew()
	return saveAndReport(cmd, c, entity.Merge(c.Selected(), rec))
}

func runDelete(cmd *cobra.Command, args []string) error {
	rc, err := lookupResource(args[0])
	if err != nil {
		return err
	}
	c, _ := newController(rc, newClient(), "")
	if err := c.Remove(cmd.Context(), entity.Entity{rc.IDField: args[1]}); err != nil {
		return noticeError(c, err)
	}
	printNotice(cmd.OutOrStdout(), c.Notice())
	return nil
}

func saveAndReport(cmd *cobra.Command, c *crud.Controller, rec entity.Entity) error {
	if err := c.Save(cmd.Context(), rec); err != nil {
		return noticeError(c, err)
	}
	printNotice(cmd.OutOrStdout(), c.Notice())
	return nil
}

// noticeError prefers the controller's user-facing message over err.
func noticeError(c *crud.Controller, err error) error {
	if errors.Is(err, crud.ErrNoCredentials) {
		return errors.New("not signed in: run wikictl login")
	}
	if n := c.Notice(); n != nil && n.Kind == crud.NotifyError {
		return fmt.Errorf("%s: %s", n.Title, n.Message)
	}
	return err
}

func printNotice(w io.Writer, n *crud.Notification) {
	if n == nil {
		return
	}
	if n.Kind == crud.NotifyError {
		fmt.Fprintln(w, errorStyle.Render(n.Title+": ")+n.Message)
		return
	}
	fmt.Fprintln(w, okStyle.Render(n.Message))
}

// recordFromFlags reads --file and applies --set assignments over it.
func recordFromFlags(cmd *cobra.Command) (entity.Entity, error) {
	path, _ := cmd.Flags().GetString("file")
	sets, _ := cmd.Flags().GetStringArray("set")

	rec := entity.Entity{}
	if path != "" {
		var err error
		if rec, err = readRecord(path, cmd.InOrStdin()); err != nil {
			return nil, err
		}
	}
	assigned, err := parseAssignments(sets)
	if err != nil {
		return nil, err
	}
	return entity.Merge(rec, assigned), nil
}

// readRecord decodes one record. ".yaml" and ".yml" files are YAML, every
// other path (and stdin) is JSON.
func readRecord(path string, stdin io.Reader) (entity.Entity, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var rec entity.Entity
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &rec)
	default:
		err = json.Unmarshal(data, &rec)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("decode %s: not an object", path)
	}
	return rec, nil
}

// parseAssignments turns key=value pairs into fields. A value that parses as
// JSON keeps its JSON type, anything else is a string.
func parseAssignments(sets []string) (entity.Entity, error) {
	out := entity.Entity{}
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("bad --set %q: want key=value", s)
		}
		out[k] = parseValue(v)
	}
	return out, nil
}

func parseValue(s string) any {
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err == nil {
		return decoded
	}
	return s
}

// formatValue is the inverse of parseValue for display and editing.
func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
