package console

import (
	"fmt"

	"github.com/MannyJMusic/dfl-desktop/vast"
)

// value renders a record field for display, substituting fallback when the
// field is absent or empty.
func value(rec vast.Record, fallback string, keys ...string) string {
	if v := rec.FirstString(keys...); v != "" {
		return v
	}
	return fallback
}

// formatOfferSummary renders one GPU offer as display lines.
func formatOfferSummary(offer vast.Record) []string {
	dph := value(offer, "n/a", "dph_total", "price")
	return []string{
		fmt.Sprintf("Offer %s (machine %s)", value(offer, "?", "id"), value(offer, "?", "machine_id")),
		fmt.Sprintf("  gpu: %s | dph_total: %s | cuda: %s | score: %s",
			value(offer, "unknown", "gpu_name"), dph,
			value(offer, "n/a", "cuda_max_good"), value(offer, "n/a", "score")),
		fmt.Sprintf("  storage_total: %s GiB", value(offer, "n/a", "storage_total")),
	}
}

// formatOfferOption renders one GPU offer as a single pick-list line.
func formatOfferOption(offer vast.Record) string {
	return fmt.Sprintf("%s | %s | $%s/hr | machine %s",
		value(offer, "?", "id"),
		value(offer, "unknown", "gpu_name"),
		value(offer, "n/a", "dph_total"),
		value(offer, "?", "machine_id"))
}

// formatVolumeSummary renders a volume ask as a single line.
func formatVolumeSummary(volume vast.Record) string {
	return fmt.Sprintf("id=%s size=%sGB price=$%s/mo region=%s",
		value(volume, "n/a", "id"),
		value(volume, "n/a", "size"),
		value(volume, "n/a", "price"),
		value(volume, "n/a", "region"))
}

// formatVolumeOption renders a volume ask as a pick-list line.
func formatVolumeOption(volume vast.Record) string {
	return fmt.Sprintf("ask %s | size %sGB | price $%s/mo",
		value(volume, "?", "id"),
		value(volume, "n/a", "size"),
		value(volume, "n/a", "price"))
}

// formatTemplateSummary renders a template as display lines.
func formatTemplateSummary(template vast.Record) []string {
	lines := []string{
		fmt.Sprintf("Template %s: %s", value(template, "?", "id"), value(template, "unnamed", "name")),
		fmt.Sprintf("  image: %s | disk_space: %sGB | created: %s",
			value(template, "unknown", "image", "docker_image"),
			value(template, "n/a", "disk", "disk_space"),
			value(template, "n/a", "dt_created", "created_on")),
	}
	if owner := template.FirstString("creator_id", "owner_id", "created_by", "user_id"); owner != "" {
		lines = append(lines, fmt.Sprintf("  owner_id: %s", owner))
	}
	if hash := template.FirstString("template_hash", "hash"); hash != "" {
		lines = append(lines, fmt.Sprintf("  hash: %s", hash))
	}
	if desc := template.FirstString("description"); desc != "" {
		lines = append(lines, fmt.Sprintf("  description: %s", desc))
	}
	return lines
}

// formatTemplateOption renders a template as a single pick-list line with an
// ownership or visibility marker.
func formatTemplateOption(template vast.Record, owned bool) string {
	base := value(template, "unnamed", "name")
	if id := template.FirstString("id", "template_id"); id != "" {
		base += fmt.Sprintf(" (id %s)", id)
	}
	base += fmt.Sprintf(" | image: %s | disk: %sGB",
		value(template, "unknown", "image", "docker_image"),
		value(template, "n/a", "disk_space", "disk"))
	if hash := template.FirstString("template_hash", "hash"); hash != "" {
		base += fmt.Sprintf(" | hash: %s", hash)
	}

	marker := "[shared]"
	if owned {
		marker = "[yours]"
	} else if visibility := template.FirstString("visibility"); visibility != "" {
		marker = fmt.Sprintf("[%s]", visibility)
	} else if vast.Truthy(template["public"]) {
		marker = "[public]"
	}
	return base + " " + marker
}

// formatInstanceSummary renders a rented instance as display lines.
func formatInstanceSummary(instance vast.Record) []string {
	lines := []string{
		fmt.Sprintf("Instance %s (offer %s, machine %s)",
			value(instance, "?", "id"),
			value(instance, "n/a", "offer_id"),
			value(instance, "n/a", "machine_id")),
		fmt.Sprintf("  status: %s | template: %s",
			value(instance, "unknown", "actual_status", "status"),
			value(instance, "n/a", "template_name", "template")),
	}
	ip := instance.FirstString("public_ip")
	port := instance.FirstString("ssh_port")
	if ip != "" || port != "" {
		lines = append(lines, fmt.Sprintf("  connection: %s:%s", ip, port))
	}
	return lines
}
