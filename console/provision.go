package console

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/MannyJMusic/dfl-desktop/vast"
)

// volumeMode describes how the wizard attaches storage to a new instance.
type volumeMode int

const (
	volumeNone volumeMode = iota
	volumeCreate
	volumeLink
)

// volumePlan captures the user's storage decision for instance creation.
type volumePlan struct {
	mode       volumeMode
	identifier string
	sizeGB     int
	label      string
	mountPath  string
}

// handleProvision walks the full wizard: offer, template, volume, flags,
// command preview, execution, then provisioning log monitoring.
func (c *Console) handleProvision(ctx context.Context) {
	fmt.Fprintln(c.out, "\n=== DeepFaceLab Provisioning Wizard ===")

	offer, ok := c.selectOffer(ctx)
	if !ok {
		return
	}

	machineID := offer.FirstString("machine_id")
	volumeOffers := c.lastVolumeOffers[machineID]
	if len(volumeOffers) == 0 {
		fetched, err := c.client.SearchVolumes(ctx, machineID)
		if err != nil {
			fmt.Fprintf(c.out, "Warning: failed to load volume asks: %s\n", errorDetail(err))
		} else {
			volumeOffers = fetched
		}
		c.lastVolumeOffers[machineID] = volumeOffers
	}

	template, ok := c.selectTemplate(ctx)
	if !ok {
		return
	}

	plan := c.configureVolume(volumeOffers)
	sshFlag := c.promptYesNo("Enable direct SSH access via --ssh flag", true)
	directFlag := c.promptYesNo("Request direct port access via --direct flag", true)

	templateHash := c.ensureTemplateHash(ctx, template)
	if templateHash == "" {
		fmt.Fprintln(c.out, "\nTemplate hash is required to launch an instance from a template. Cancelling.")
		c.waitForEnter()
		return
	}

	fmt.Fprintln(c.out, "\nCreating instance with:")
	fmt.Fprintf(c.out, "  Offer ID: %s (machine %s)\n", offer.FirstString("id"), machineID)
	fmt.Fprintf(c.out, "  Template: %s\n", value(template, "?", "name", "id"))
	switch plan.mode {
	case volumeLink:
		fmt.Fprintf(c.out, "  Linking volume %s at %s\n", plan.identifier, plan.mountPath)
	case volumeCreate:
		fmt.Fprintf(c.out, "  Creating volume ask %s size %dGB at %s\n", plan.identifier, plan.sizeGB, plan.mountPath)
	default:
		fmt.Fprintln(c.out, "  No volume attachment")
	}
	fmt.Fprintf(c.out, "  SSH flag: %s\n", yesNo(sshFlag))
	fmt.Fprintf(c.out, "  Direct flag: %s\n", yesNo(directFlag))
	fmt.Fprintf(c.out, "  Template hash: %s\n", templateHash)

	args := []string{"create", "instance", offer.FirstString("id"), "--template_hash", templateHash}
	switch plan.mode {
	case volumeLink:
		args = append(args, "--link-volume", plan.identifier, "--mount-path", plan.mountPath)
	case volumeCreate:
		args = append(args, "--create-volume", plan.identifier,
			"--volume-size", strconv.Itoa(plan.sizeGB),
			"--mount-path", plan.mountPath)
		if plan.label != "" {
			args = append(args, "--volume-label", plan.label)
		}
	}
	if sshFlag {
		args = append(args, "--ssh")
	}
	if directFlag {
		args = append(args, "--direct")
	}
	spec := vast.Command(args...)

	fmt.Fprintln(c.out, "\nCommand preview:")
	fmt.Fprintln(c.out, c.client.FormatCommand(spec))
	fmt.Fprintln(c.out)

	if !c.promptYesNo("Execute this command now?", true) {
		fmt.Fprintln(c.out, "Cancelled.")
		c.waitForEnter()
		return
	}

	outcome, err := c.client.Run(ctx, spec)
	if err != nil {
		fmt.Fprintf(c.out, "\nInstance creation failed: %s\n", errorDetail(err))
		c.waitForEnter()
		return
	}

	fmt.Fprintln(c.out, "\nInstance creation command executed.")
	payload := vast.ExtractPayload(outcome.Stdout)
	switch result := payload.(type) {
	case map[string]any:
		for _, line := range recordLines(vast.Record(result)) {
			fmt.Fprintln(c.out, line)
		}
	case []any:
		for _, entry := range result {
			if rec, ok := vast.AsRecord(entry); ok {
				for _, line := range recordLines(rec) {
					fmt.Fprintln(c.out, line)
				}
			}
		}
	case string:
		if result != "" {
			fmt.Fprintln(c.out, result)
		}
	}

	instanceID := vast.ExtractInstanceID(payload)
	if instanceID == "" {
		instanceID = c.promptText("Enter instance id to monitor logs (leave blank to skip)", "")
	}

	if instanceID != "" {
		c.pollProvisioningLogs(ctx, instanceID)
	} else {
		fmt.Fprintln(c.out, "Instance id unavailable; skipping automatic log monitoring.")
	}

	c.waitForEnter()
}

// configureVolume asks how storage should be attached.
func (c *Console) configureVolume(volumeOffers []vast.Record) volumePlan {
	fmt.Fprintln(c.out, "\nVolume options:")
	fmt.Fprintln(c.out, "1) Create new volume from offers")
	fmt.Fprintln(c.out, "2) Link existing personal volume")
	fmt.Fprintln(c.out, "3) No volume")
	fmt.Fprint(c.out, "Select volume option [1]: ")
	choice := c.readLine()
	if choice == "" {
		choice = "1"
	}

	switch choice {
	case "1":
		if len(volumeOffers) == 0 {
			return volumePlan{mode: volumeNone}
		}
		labels := make([]string, len(volumeOffers))
		for i, vol := range volumeOffers {
			labels[i] = formatVolumeOption(vol)
		}
		result := c.promptSelect("Select a volume ask", labels, nil)
		if result.cancelled {
			return volumePlan{mode: volumeNone}
		}
		volumeOffer := volumeOffers[result.index]
		defSize := 200
		if s, err := strconv.Atoi(volumeOffer.FirstString("size")); err == nil {
			defSize = s
		}
		size := c.promptInt("Volume size (GB)", defSize, 10)
		label := c.promptText("Volume label", "dfl_workspace")
		mount := c.promptText("Mount path", "/workspace")
		return volumePlan{
			mode:       volumeCreate,
			identifier: volumeOffer.FirstString("id"),
			sizeGB:     size,
			label:      label,
			mountPath:  mount,
		}
	case "2":
		volID := c.promptText("Existing volume ID", "")
		mount := c.promptText("Mount path", "/workspace")
		return volumePlan{mode: volumeLink, identifier: volID, mountPath: mount}
	}
	return volumePlan{mode: volumeNone}
}

// pollProvisioningLogs follows the new instance's logs until the
// provisioning marker appears.
func (c *Console) pollProvisioningLogs(ctx context.Context, instanceID string) {
	fmt.Fprintf(c.out, "\nMonitoring provisioning logs for instance %s...\n", instanceID)

	sess, err := c.client.Stream(ctx, vast.Command("logs", instanceID, "--follow"))
	if err != nil {
		fmt.Fprintf(c.out, "\nLog streaming failed: %s\n", errorDetail(err))
		return
	}

	completed, err := vast.MonitorUntilComplete(sess, func(line string) {
		fmt.Fprintln(c.out, line)
	})
	if err != nil {
		fmt.Fprintf(c.out, "\nLog streaming failed: %s\n", errorDetail(err))
	}
	if completed {
		fmt.Fprintln(c.out, "\n✅ Provisioning script reported completion. Stopping log stream.")
	} else {
		fmt.Fprintln(c.out, "⚠️ Provisioning completion marker not detected. "+
			"Use 'Instance management → Monitor logs' to continue checking.")
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// recordLines renders a record's fields one per line in a stable order.
func recordLines(rec vast.Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, vast.Stringify(rec[k])))
	}
	return lines
}
