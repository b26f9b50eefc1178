package console

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/MannyJMusic/dfl-desktop/vast"
)

func TestFormatOfferSummary(t *testing.T) {
	offer := vast.Record{
		"id":            json.Number("123"),
		"machine_id":    json.Number("77"),
		"gpu_name":      "RTX 4090",
		"dph_total":     json.Number("0.42"),
		"cuda_max_good": json.Number("12.4"),
		"storage_total": json.Number("512"),
	}
	lines := formatOfferSummary(offer)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "Offer 123") || !strings.Contains(lines[0], "machine 77") {
		t.Errorf("header line wrong: %q", lines[0])
	}
	if !strings.Contains(lines[1], "RTX 4090") || !strings.Contains(lines[1], "0.42") {
		t.Errorf("gpu line wrong: %q", lines[1])
	}
	// Missing score falls back.
	if !strings.Contains(lines[1], "score: n/a") {
		t.Errorf("missing score should render n/a: %q", lines[1])
	}
}

func TestFormatVolumeSummary(t *testing.T) {
	vol := vast.Record{
		"id":     json.Number("9"),
		"size":   json.Number("200"),
		"price":  json.Number("12"),
		"region": "EU",
	}
	got := formatVolumeSummary(vol)
	want := "id=9 size=200GB price=$12/mo region=EU"
	if got != want {
		t.Errorf("formatVolumeSummary = %q, want %q", got, want)
	}
}

func TestFormatTemplateSummary(t *testing.T) {
	tpl := vast.Record{
		"id":            json.Number("5"),
		"name":          "DFL",
		"docker_image":  "repo/dfl:1",
		"disk_space":    json.Number("50"),
		"creator_id":    json.Number("42"),
		"template_hash": "abc123",
		"description":   "face swapping",
	}
	lines := formatTemplateSummary(tpl)
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"Template 5: DFL", "repo/dfl:1", "owner_id: 42", "hash: abc123", "description: face swapping"} {
		if !strings.Contains(joined, want) {
			t.Errorf("output missing %q:\n%s", want, joined)
		}
	}
}

func TestFormatTemplateOption(t *testing.T) {
	tpl := vast.Record{
		"id":    json.Number("5"),
		"name":  "DFL",
		"image": "repo/dfl:1",
	}

	owned := formatTemplateOption(tpl, true)
	if !strings.Contains(owned, "[yours]") {
		t.Errorf("owned marker missing: %q", owned)
	}

	shared := formatTemplateOption(tpl, false)
	if !strings.Contains(shared, "[shared]") {
		t.Errorf("shared marker missing: %q", shared)
	}

	tpl["public"] = true
	public := formatTemplateOption(tpl, false)
	if !strings.Contains(public, "[public]") {
		t.Errorf("public marker missing: %q", public)
	}

	tpl["visibility"] = "private"
	visible := formatTemplateOption(tpl, false)
	if !strings.Contains(visible, "[private]") {
		t.Errorf("visibility marker missing: %q", visible)
	}
}

func TestFormatInstanceSummary(t *testing.T) {
	inst := vast.Record{
		"id":            json.Number("900"),
		"machine_id":    json.Number("77"),
		"actual_status": "running",
		"template_name": "DFL",
		"public_ip":     "1.2.3.4",
		"ssh_port":      json.Number("2222"),
	}
	lines := formatInstanceSummary(inst)
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"Instance 900", "status: running", "template: DFL", "connection: 1.2.3.4:2222"} {
		if !strings.Contains(joined, want) {
			t.Errorf("output missing %q:\n%s", want, joined)
		}
	}

	// No connection line without ip/port.
	bare := formatInstanceSummary(vast.Record{"id": json.Number("1")})
	if len(bare) != 2 {
		t.Errorf("expected 2 lines without connection info, got %d", len(bare))
	}
}
