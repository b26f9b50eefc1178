package console

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/MannyJMusic/dfl-desktop/vast"
)

func (c *Console) handleTemplates(ctx context.Context) {
	for {
		fmt.Fprintln(c.out, "\n=== Template Management ===")
		choice := c.promptMenu("Select an option", []menuItem{
			{"1", "List templates"},
			{"2", "Create DeepFaceLab template"},
			{"3", "Back"},
		})
		switch choice {
		case "1":
			c.listTemplates(ctx)
		case "2":
			c.createTemplate(ctx)
		case "3", "":
			return
		}
	}
}

func (c *Console) listTemplates(ctx context.Context) {
	fmt.Fprintln(c.out, "\nFetching templates...")
	mine, others, err := c.resolver.EnsureTemplateCache(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "Failed to fetch templates: %s\n", errorDetail(err))
		c.waitForEnter()
		return
	}
	if len(mine) == 0 && len(others) == 0 {
		fmt.Fprintln(c.out, "No templates found.")
		c.waitForEnter()
		return
	}

	if len(mine) > 0 {
		fmt.Fprintln(c.out, "My templates:")
		for _, template := range mine {
			for _, line := range formatTemplateSummary(template) {
				fmt.Fprintln(c.out, line)
			}
			fmt.Fprintln(c.out)
		}
	} else {
		fmt.Fprintln(c.out, "You have no personal templates yet.")
	}

	if len(others) > 0 {
		fmt.Fprintln(c.out, "Community templates:")
		for _, template := range others {
			// A community-section template the heuristic still attributes
			// to the caller is one they shared publicly.
			suffix := ""
			if c.resolver.IsMine(ctx, template) {
				suffix = "  (shared)"
			}
			for _, line := range formatTemplateSummary(template) {
				fmt.Fprintln(c.out, line+suffix)
			}
			fmt.Fprintln(c.out)
		}
	}

	c.waitForEnter()
}

// createTemplate walks through template creation with config-driven
// defaults, previews the command, runs it, and invalidates the ownership
// cache on success.
func (c *Console) createTemplate(ctx context.Context) {
	fmt.Fprintln(c.out, "\n=== Create DeepFaceLab Template ===")

	name := c.promptText("Template name", c.cfg.Template.Name)
	image := c.promptText("Docker image", c.cfg.Template.Image)
	env := c.promptText("Docker env/ports string (--env)", c.cfg.Template.Env)
	diskSpace := c.promptInt("Container disk space (GB)", c.cfg.Template.DiskSpace, 10)
	extraFlags := c.promptText("Additional Vast.ai CLI flags (optional)", "")

	args := []string{
		"create", "template",
		"--name", name,
		"--image", image,
		"--env", env,
		"--disk_space", strconv.Itoa(diskSpace),
	}
	if extraFlags != "" {
		args = append(args, strings.Fields(extraFlags)...)
	}
	spec := vast.Command(args...)

	fmt.Fprintln(c.out, "\nAbout to run:")
	fmt.Fprintln(c.out, "  "+c.client.FormatCommand(spec))
	if !c.promptYesNo("Proceed?", true) {
		fmt.Fprintln(c.out, "Template creation cancelled.")
		c.waitForEnter()
		return
	}

	result, err := c.client.RunStructured(ctx, spec)
	if err != nil {
		fmt.Fprintf(c.out, "\nTemplate creation failed: %s\n", errorDetail(err))
		c.waitForEnter()
		return
	}

	fmt.Fprintln(c.out, "\nTemplate created successfully!")
	var created vast.Record
	switch payload := result.(type) {
	case vast.Record:
		created = payload
		for _, line := range formatTemplateSummary(payload) {
			fmt.Fprintln(c.out, line)
		}
	case map[string]any:
		created = vast.Record(payload)
		for _, line := range formatTemplateSummary(created) {
			fmt.Fprintln(c.out, line)
		}
	case []any:
		for _, entry := range payload {
			if rec, ok := vast.AsRecord(entry); ok {
				if created == nil {
					created = rec
				}
				for _, line := range formatTemplateSummary(rec) {
					fmt.Fprintln(c.out, line)
				}
			}
		}
	case string:
		fmt.Fprintln(c.out, payload)
	}

	if created != nil {
		c.resolver.Remember(created)
	}
	// Ownership may have changed; rebuild the partition lazily.
	c.resolver.Invalidate()
	c.waitForEnter()
}

// selectTemplate lets the user pick a template for provisioning, switching
// between their own templates and the community listing, with an escape
// hatch to create a new one.
func (c *Console) selectTemplate(ctx context.Context) (vast.Record, bool) {
	showAll := false
	for {
		mine, others, err := c.resolver.EnsureTemplateCache(ctx)
		if err != nil {
			fmt.Fprintf(c.out, "Unable to load templates: %s\n", errorDetail(err))
			c.waitForEnter()
			return nil, false
		}

		if len(mine) == 0 && len(others) == 0 {
			fmt.Fprintln(c.out, "No templates available.")
			if c.promptYesNo("Create a new template now?", true) {
				c.createTemplate(ctx)
				continue
			}
			return nil, false
		}

		if len(mine) == 0 {
			showAll = true
		}

		var items []vast.Record
		var header string
		var extras []menuItem
		if showAll {
			items = append(append([]vast.Record{}, mine...), others...)
			header = "Select a template (your templates are listed first)"
			if len(mine) > 0 {
				extras = append(extras, menuItem{"M", "Show only your templates"})
			}
		} else {
			items = mine
			header = "Select one of your templates"
			if len(others) > 0 {
				extras = append(extras, menuItem{"A", "Browse community templates"})
			}
		}
		extras = append(extras, menuItem{"C", "Create new template"})

		labels := make([]string, len(items))
		for i, tpl := range items {
			owned := !showAll || c.resolver.IsMine(ctx, tpl)
			labels[i] = formatTemplateOption(tpl, owned)
		}

		result := c.promptSelect(header, labels, extras)
		switch {
		case result.cancelled:
			return nil, false
		case result.extra == "A":
			showAll = true
		case result.extra == "M":
			showAll = false
		case result.extra == "C":
			c.createTemplate(ctx)
			showAll = false
		default:
			return items[result.index], true
		}
	}
}

// ensureTemplateHash resolves the launch hash for a template: the record
// itself first, then targeted market searches, then a manual prompt.
func (c *Console) ensureTemplateHash(ctx context.Context, template vast.Record) string {
	if hash := vast.EnsureTemplateHash(template); hash != "" {
		return hash
	}
	if hash := c.searchTemplateHash(ctx, template); hash != "" {
		return hash
	}
	fmt.Fprintln(c.out, "This template has no hash in its listing; a hash is required to launch it.")
	manual := c.promptText("Enter template hash manually (leave blank to cancel)", "")
	if manual == "" {
		return ""
	}
	template["template_hash"] = manual
	c.resolver.Remember(template)
	return manual
}

// searchTemplateHash hunts the template market for an entry that carries
// the missing hash: by template id, by exact name, then by each known
// owner-id filter. The first hit is merged into the template and
// remembered. Failed queries are skipped.
func (c *Console) searchTemplateHash(ctx context.Context, template vast.Record) string {
	var queries []string
	if id := template.FirstString("id", "template_id"); id != "" {
		queries = append(queries, "id="+id)
	}
	if name := vast.Stringify(template["name"]); name != "" {
		escaped := strings.ReplaceAll(name, `"`, `\"`)
		queries = append(queries, `name="`+escaped+`"`)
	}
	for _, ownerID := range c.resolver.OwnerIDs(ctx) {
		queries = append(queries, "creator_id="+ownerID, "owner_id="+ownerID)
	}

	for _, query := range queries {
		entries, err := c.client.SearchTemplates(ctx, query)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			hash := vast.EnsureTemplateHash(entry)
			if hash == "" {
				continue
			}
			for k, v := range entry {
				template[k] = v
			}
			c.resolver.Remember(template)
			return hash
		}
	}
	return ""
}
